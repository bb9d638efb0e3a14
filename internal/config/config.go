package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the working directory and
// the user config directory.
const FileName = ".covgate.yaml"

// AppConfig represents the contents of .covgate.yaml.
type AppConfig struct {
	ProjectDir  string   `yaml:"project_dir,omitempty"`
	BuildDir    string   `yaml:"build_dir,omitempty"`
	SourceDirs  []string `yaml:"source_dirs,omitempty"`
	Flavors     []string `yaml:"flavors,omitempty"`
	BuildTypes  []string `yaml:"build_types,omitempty"`
	MinRatio    string   `yaml:"min_ratio,omitempty"`
	Concurrency int      `yaml:"concurrency,omitempty"`

	// Exclusions replaces the default exclusion list when non-empty;
	// ExtraExclusions is appended to whichever list is in effect.
	Exclusions      []string `yaml:"exclusions,omitempty"`
	ExtraExclusions []string `yaml:"extra_exclusions,omitempty"`

	Reports ReportsConfig `yaml:"reports"`
	Test    TestConfig    `yaml:"test"`

	Format      string `yaml:"format,omitempty"`
	Theme       string `yaml:"theme,omitempty"`
	NoColor     bool   `yaml:"no_color"`
	CI          bool   `yaml:"ci"`
	Debug       bool   `yaml:"debug"`
	LogLevel    string `yaml:"log_level,omitempty"`
	MetricsFile string `yaml:"metrics_file,omitempty"`
}

// ReportsConfig toggles report outputs. Unset means enabled.
type ReportsConfig struct {
	XML  *bool `yaml:"xml,omitempty"`
	HTML *bool `yaml:"html,omitempty"`
}

// TestConfig describes the external command run as each variant's test task.
// Arguments may contain {testTask}, {flavor}, {buildType}, {variant} and
// {execFile}.
type TestConfig struct {
	Command []string `yaml:"command,omitempty"`
	Dir     string   `yaml:"dir,omitempty"`
	Env     []string `yaml:"env,omitempty"`
}

// Constants for default values.
const (
	DefaultProjectDir = "."
	DefaultBuildDir   = "build"
	DefaultFormat     = "auto"
	DefaultTheme      = "default"
	DefaultLogLevel   = "warn"
)

// DefaultBuildTypes are used when the file declares none.
var DefaultBuildTypes = []string{"debug", "release"}

// DefaultSourceDirs are relative to the project directory.
var DefaultSourceDirs = []string{"src/main/java", "src/main/kotlin"}

// LoadConfig reads the configuration file. An explicit path must exist;
// otherwise the local and XDG locations are tried and a missing file yields
// an empty config. The returned path is empty when no file was read.
func LoadConfig(explicit string) (*AppConfig, string, error) {
	path := explicit
	if path == "" {
		path = getConfigPath()
	}
	if path == "" {
		return &AppConfig{}, "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && explicit == "" {
			return &AppConfig{}, "", nil
		}
		return nil, "", fmt.Errorf("reading config file %s: %w", path, err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, "", fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return &cfg, path, nil
}

// getConfigPath tries to find the .covgate.yaml configuration file.
// It checks local directory first, then XDG UserConfigDir (if valid).
func getConfigPath() string {
	if _, err := os.Stat(FileName); err == nil {
		return FileName
	}

	configHome, err := os.UserConfigDir()
	// If UserConfigDir fails OR returns an empty path or "/", it's not suitable for XDG path construction here.
	if err == nil && configHome != "" && configHome != "/" {
		xdgPath := filepath.Join(configHome, "covgate", FileName)
		if _, errStat := os.Stat(xdgPath); errStat == nil {
			return xdgPath
		}
	}
	return ""
}
