// Package config handles configuration loading and merging for covgate.
//
// # Configuration Precedence
//
// Configuration values are resolved in the following order (highest to lowest priority):
//
//  1. CLI flags (--min-ratio, --concurrency, --format, --theme, --debug, etc.)
//  2. Environment variables (COVGATE_MIN_RATIO, COVGATE_CONCURRENCY, COVGATE_FORMAT,
//     COVGATE_THEME, COVGATE_DEBUG, COVGATE_LOG_LEVEL, NO_COLOR, CI)
//  3. YAML config file (.covgate.yaml in the local directory or
//     $XDG_CONFIG_HOME/covgate/.covgate.yaml, or the path named by --config or
//     COVGATE_CONFIG)
//  4. Hardcoded defaults
//
// When a higher-priority source sets a value, it overrides any lower-priority values.
// ResolvedConfig records which source won for the values users most often
// need to debug.
//
// # Project Layout
//
// Paths in the file are relative to project_dir, which is itself relative to
// the working directory. The defaults follow the Android Gradle layout:
// build/ for compiler and test output, src/main/java and src/main/kotlin for
// sources.
//
// # CI Mode Behavior
//
// When CI mode is enabled (via CI=true env var or ci: true in YAML):
//   - Colors are disabled (mono theme)
//   - The live task view is disabled
package config
