package magetasks

import (
	"fmt"
	"strings"
	"time"

	"github.com/magefile/mage/sh"
)

// BuildAll builds the covgate binary with version information.
func BuildAll() error {
	PrintH2Header("Build")

	if err := sh.RunV("go", "build", "-ldflags", versionFlags(), "-o", BinPath, MainPackage); err != nil {
		PrintError("Build failed")
		return err
	}

	PrintSuccess(fmt.Sprintf("Built: %s", BinPath))
	return nil
}

// Install installs covgate into GOBIN with version information.
func Install() error {
	PrintH2Header("Install")

	if err := sh.RunV("go", "install", "-ldflags", versionFlags(), MainPackage); err != nil {
		PrintError("Install failed")
		return err
	}

	PrintSuccess("Installed covgate")
	return nil
}

// Smoke runs the built binary's version command and checks its banner.
func Smoke() error {
	out, err := sh.Output(BinPath, "version")
	if err != nil {
		return fmt.Errorf("%s version: %w", BinPath, err)
	}
	if !strings.HasPrefix(out, "covgate version ") {
		return fmt.Errorf("%s version: unexpected output %q", BinPath, firstLine(out))
	}
	PrintSuccess(firstLine(out))
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func versionFlags() string {
	return Ldflags(gitOutput("dev", "describe", "--tags", "--always", "--dirty", "--match=v*"),
		gitOutput("unknown", "rev-parse", "--short", "HEAD"), time.Now())
}

// Ldflags returns the linker flags stamping internal/version.
func Ldflags(version, commit string, built time.Time) string {
	pkg := ModulePath + "/internal/version"
	return fmt.Sprintf("-s -w -X '%s.Version=%s' -X '%s.CommitHash=%s' -X '%s.BuildDate=%s'",
		pkg, version, pkg, commit, pkg, built.UTC().Format(time.RFC3339))
}

// Clean removes build artifacts.
func Clean() error {
	PrintH2Header("Clean")

	for _, path := range []string{"bin", CoverProfile} {
		if err := sh.Rm(path); err != nil {
			return err
		}
	}
	if err := sh.Run("go", "clean", "-cache"); err != nil {
		PrintWarning("go clean -cache failed: " + err.Error())
	}

	PrintSuccess("Cleaned build artifacts")
	return nil
}

func gitOutput(fallback string, args ...string) string {
	out, err := sh.Output("git", args...)
	if err != nil || strings.TrimSpace(out) == "" {
		return fallback
	}
	return strings.TrimSpace(out)
}
