package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dkoosis/covgate/pkg/coverage"
)

// Resolution sources, highest priority first.
const (
	SourceCLI     = "cli"
	SourceEnv     = "env"
	SourceFile    = "file"
	SourceDefault = "default"
)

// Environment variables.
const (
	EnvConfig      = "COVGATE_CONFIG"
	EnvMinRatio    = "COVGATE_MIN_RATIO"
	EnvConcurrency = "COVGATE_CONCURRENCY"
	EnvFormat      = "COVGATE_FORMAT"
	EnvTheme       = "COVGATE_THEME"
	EnvDebug       = "COVGATE_DEBUG"
	EnvLogLevel    = "COVGATE_LOG_LEVEL"
)

// Formats and themes accepted by the CLI.
var (
	Formats = []string{"auto", "terminal", "llm", "json", "sarif"}
	Themes  = []string{"default", "orca", "mono"}
)

// CliFlags holds the values of command-line flags.
type CliFlags struct {
	ConfigPath  string
	MinRatio    string
	Concurrency int
	Format      string
	Theme       string
	MetricsFile string
	TUI         bool
	Debug       bool

	// Flags to track if they were explicitly set by the user
	MinRatioSet    bool
	ConcurrencySet bool
	FormatSet      bool
	ThemeSet       bool
	MetricsFileSet bool
	DebugSet       bool
}

// ResolvedConfig holds the final resolved configuration after applying all priority rules.
type ResolvedConfig struct {
	ConfigPath string // empty when no file was read

	// Project layout, all absolute
	ProjectDir string
	BuildDir   string
	SourceDirs []string

	// Variants
	Flavors    []string
	BuildTypes []string

	// Policy
	Rule       coverage.Rule
	Exclusions coverage.ExclusionSet
	XML        bool
	HTML       bool

	// Execution
	Concurrency int
	TestCommand []string
	TestDir     string
	TestEnv     []string

	// Output
	Format      string
	Theme       string
	TUI         bool
	NoColor     bool
	CI          bool
	Debug       bool
	LogLevel    string
	MetricsFile string

	// Resolution metadata (for debugging)
	MinRatioSource    string
	ConcurrencySource string
	FormatSource      string
	ThemeSource       string
	DebugSource       string
}

// ResolveConfig resolves configuration from all sources with explicit priority order.
// This is the single source of truth for config resolution. Invalid values
// are *coverage.ConfigurationError.
func ResolveConfig(cliFlags CliFlags) (*ResolvedConfig, error) {
	explicit := cliFlags.ConfigPath
	if explicit == "" {
		explicit = os.Getenv(EnvConfig)
	}
	appCfg, path, err := LoadConfig(explicit)
	if err != nil {
		return nil, &coverage.ConfigurationError{Msg: "loading configuration", Err: err}
	}
	return Resolve(appCfg, path, cliFlags)
}

// Resolve applies flags and environment over an already loaded file config.
func Resolve(appCfg *AppConfig, path string, cliFlags CliFlags) (*ResolvedConfig, error) {
	resolved := &ResolvedConfig{
		ConfigPath:  path,
		Flavors:     append([]string(nil), appCfg.Flavors...),
		BuildTypes:  append([]string(nil), appCfg.BuildTypes...),
		TestCommand: append([]string(nil), appCfg.Test.Command...),
		TestEnv:     append([]string(nil), appCfg.Test.Env...),
		XML:         appCfg.Reports.XML == nil || *appCfg.Reports.XML,
		HTML:        appCfg.Reports.HTML == nil || *appCfg.Reports.HTML,
		NoColor:     appCfg.NoColor,
		CI:          appCfg.CI,
		LogLevel:    appCfg.LogLevel,
		MetricsFile: appCfg.MetricsFile,
		TUI:         cliFlags.TUI,
	}
	if len(resolved.BuildTypes) == 0 {
		resolved.BuildTypes = append([]string(nil), DefaultBuildTypes...)
	}

	if err := resolveLayout(resolved, appCfg, path); err != nil {
		return nil, err
	}

	// Minimum ratio: CLI > ENV > file > default
	minRatio, src := pick(cliFlags.MinRatio, cliFlags.MinRatioSet, EnvMinRatio, appCfg.MinRatio, coverage.DefaultMinimum)
	rule, err := coverage.ParseRule(minRatio)
	if err != nil {
		return nil, err
	}
	resolved.Rule, resolved.MinRatioSource = rule, src

	// Concurrency: CLI > ENV > file > default (0 selects GOMAXPROCS)
	switch {
	case cliFlags.ConcurrencySet:
		resolved.Concurrency, resolved.ConcurrencySource = cliFlags.Concurrency, SourceCLI
	case os.Getenv(EnvConcurrency) != "":
		n, err := strconv.Atoi(os.Getenv(EnvConcurrency))
		if err != nil {
			return nil, coverage.Configf("%s=%q is not an integer", EnvConcurrency, os.Getenv(EnvConcurrency))
		}
		resolved.Concurrency, resolved.ConcurrencySource = n, SourceEnv
	case appCfg.Concurrency != 0:
		resolved.Concurrency, resolved.ConcurrencySource = appCfg.Concurrency, SourceFile
	default:
		resolved.ConcurrencySource = SourceDefault
	}

	resolved.Format, resolved.FormatSource = pick(cliFlags.Format, cliFlags.FormatSet, EnvFormat, appCfg.Format, DefaultFormat)
	resolved.Theme, resolved.ThemeSource = pick(cliFlags.Theme, cliFlags.ThemeSet, EnvTheme, appCfg.Theme, DefaultTheme)

	if cliFlags.MetricsFileSet {
		resolved.MetricsFile = cliFlags.MetricsFile
	}
	if resolved.MetricsFile != "" && !filepath.IsAbs(resolved.MetricsFile) {
		resolved.MetricsFile = filepath.Join(resolved.ProjectDir, resolved.MetricsFile)
	}

	// Debug: CLI > ENV > file > default
	switch {
	case cliFlags.DebugSet:
		resolved.Debug, resolved.DebugSource = cliFlags.Debug, SourceCLI
	case getEnvBool(EnvDebug) != nil:
		resolved.Debug, resolved.DebugSource = *getEnvBool(EnvDebug), SourceEnv
	case appCfg.Debug:
		resolved.Debug, resolved.DebugSource = true, SourceFile
	default:
		resolved.DebugSource = SourceDefault
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		resolved.LogLevel = lvl
	}
	if resolved.Debug {
		resolved.LogLevel = "debug"
	}
	if resolved.LogLevel == "" {
		resolved.LogLevel = DefaultLogLevel
	}

	if v := getEnvBool("NO_COLOR"); v != nil {
		resolved.NoColor = *v
	}
	if v := getEnvBool("CI"); v != nil {
		resolved.CI = *v
	}

	// Apply CI mode overrides (CI mode implies NoColor and no live view)
	if resolved.CI {
		resolved.NoColor = true
		resolved.TUI = false
	}
	if resolved.NoColor {
		resolved.Theme = "mono"
	}

	if err := validateResolvedConfig(resolved); err != nil {
		return nil, err
	}
	return resolved, nil
}

func resolveLayout(resolved *ResolvedConfig, appCfg *AppConfig, path string) error {
	projectDir := appCfg.ProjectDir
	if projectDir == "" {
		projectDir = DefaultProjectDir
	}
	// An explicit project_dir is relative to the file declaring it.
	if path != "" && appCfg.ProjectDir != "" && !filepath.IsAbs(projectDir) {
		projectDir = filepath.Join(filepath.Dir(path), projectDir)
	}
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		return &coverage.ConfigurationError{Msg: "resolving project directory", Err: err}
	}
	resolved.ProjectDir = abs

	buildDir := appCfg.BuildDir
	if buildDir == "" {
		buildDir = DefaultBuildDir
	}
	resolved.BuildDir = under(abs, buildDir)

	sources := appCfg.SourceDirs
	if len(sources) == 0 {
		sources = DefaultSourceDirs
	}
	for _, s := range sources {
		resolved.SourceDirs = append(resolved.SourceDirs, under(abs, s))
	}

	if appCfg.Test.Dir != "" {
		resolved.TestDir = under(abs, appCfg.Test.Dir)
	} else {
		resolved.TestDir = abs
	}

	patterns := coverage.DefaultExclusions
	if len(appCfg.Exclusions) > 0 {
		patterns = appCfg.Exclusions
	}
	patterns = append(append([]string(nil), patterns...), appCfg.ExtraExclusions...)
	set, err := coverage.NewExclusionSet(patterns)
	if err != nil {
		return err
	}
	resolved.Exclusions = set
	return nil
}

func under(root, p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, p)
}

// pick returns the highest-priority non-empty value and its source.
func pick(cli string, cliSet bool, envKey, file, def string) (string, string) {
	if cliSet {
		return cli, SourceCLI
	}
	if v := os.Getenv(envKey); v != "" {
		return v, SourceEnv
	}
	if file != "" {
		return file, SourceFile
	}
	return def, SourceDefault
}

// getEnvBool reads a boolean from environment variables, trying multiple keys.
// Returns nil if none are set, or a pointer to the boolean value.
func getEnvBool(keys ...string) *bool {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			if b, err := strconv.ParseBool(val); err == nil {
				return &b
			}
		}
	}
	return nil
}

// validateResolvedConfig validates the resolved configuration and returns errors for invalid states.
func validateResolvedConfig(cfg *ResolvedConfig) error {
	if !contains(Formats, cfg.Format) {
		return coverage.Configf("invalid format %q (must be: %s)", cfg.Format, strings.Join(Formats, ", "))
	}
	if !contains(Themes, cfg.Theme) {
		return coverage.Configf("invalid theme %q (must be: %s)", cfg.Theme, strings.Join(Themes, ", "))
	}
	if cfg.ConcurrencySource != SourceDefault && cfg.Concurrency < 1 {
		return coverage.Configf("concurrency must be positive, got: %d", cfg.Concurrency)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
