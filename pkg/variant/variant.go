// Package variant enumerates build variants and derives the task names and
// file paths each variant's coverage pipeline uses.
//
// Everything here is a pure function of flavor and build-type names, so the
// derivation can be tested without a task graph or a file system.
package variant

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/dkoosis/covgate/pkg/coverage"
)

// Variant is one (flavor, build type) pair. Flavor is empty when the project
// declares no flavor dimension.
type Variant struct {
	Flavor    string `json:"flavor,omitempty" yaml:"flavor,omitempty"`
	BuildType string `json:"buildType" yaml:"build_type"`
}

func (v Variant) String() string {
	if v.Flavor == "" {
		return v.BuildType
	}
	return v.Flavor + "/" + v.BuildType
}

// Paths holds every name derived from a Variant. Paths are slash-separated and
// relative to the project's build directory.
type Paths struct {
	Name                 string   `json:"name"`
	TestTaskName         string   `json:"testTask"`
	ReportTaskName       string   `json:"reportTask"`
	VerificationTaskName string   `json:"verificationTask"`
	CoverageDir          string   `json:"coverageDir"`
	ExecutionDataPath    string   `json:"executionData"`
	ClassOutputGlobs     []string `json:"classGlobs"`
	HTMLReportDir        string   `json:"htmlReport"`
	XMLReportPath        string   `json:"xmlReport"`
}

// Task name prefixes and suffixes.
const (
	TestTaskPrefix         = "test"
	TestTaskSuffix         = "UnitTest"
	ReportTaskPrefix       = "jacoco"
	ReportTaskSuffix       = "Report"
	VerificationTaskSuffix = "CoverageReport"
)

var identRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidateName rejects names that cannot appear in a task name or file path.
// Names are never sanitized.
func ValidateName(kind, name string) error {
	if !identRe.MatchString(name) {
		return coverage.Configf("invalid %s name %q: must match %s", kind, name, identRe.String())
	}
	return nil
}

// validateList checks every name and rejects exact repeats, so each
// enumerated pair is unique.
func validateList(kind string, names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if err := ValidateName(kind, n); err != nil {
			return err
		}
		if _, ok := seen[n]; ok {
			return coverage.Configf("%s %q declared twice", kind, n)
		}
		seen[n] = struct{}{}
	}
	return nil
}

// Enumerate returns the cross product of flavors and build types, flavors
// outer and build types inner. With no flavors, each build type gets one
// variant with an empty flavor. Empty buildTypes or a repeated name is a
// configuration error.
func Enumerate(flavors, buildTypes []string) ([]Variant, error) {
	if len(buildTypes) == 0 {
		return nil, coverage.Configf("no build types declared")
	}
	if err := validateList("build type", buildTypes); err != nil {
		return nil, err
	}
	if err := validateList("flavor", flavors); err != nil {
		return nil, err
	}

	outer := flavors
	if len(outer) == 0 {
		outer = []string{""}
	}
	out := make([]Variant, 0, len(outer)*len(buildTypes))
	for _, f := range outer {
		for _, bt := range buildTypes {
			out = append(out, Variant{Flavor: f, BuildType: bt})
		}
	}
	return out, nil
}

// Capitalize uppercases the first rune of s and leaves the rest unchanged.
func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// DeriveNames computes the Paths for v. It is pure and total.
func DeriveNames(v Variant) Paths {
	flavor := Capitalize(v.Flavor)
	buildType := Capitalize(v.BuildType)
	stem := flavor + buildType

	name := v.BuildType
	if strings.TrimSpace(v.Flavor) != "" {
		name = v.Flavor + buildType
	}
	testTask := TestTaskPrefix + stem + TestTaskSuffix
	reportTask := ReportTaskPrefix + stem + ReportTaskSuffix
	coverageDir := name + TestTaskSuffix

	return Paths{
		Name:                 name,
		TestTaskName:         testTask,
		ReportTaskName:       reportTask,
		VerificationTaskName: ReportTaskPrefix + stem + VerificationTaskSuffix,
		CoverageDir:          coverageDir,
		ExecutionDataPath:    "outputs/unit_test_code_coverage/" + coverageDir + "/" + testTask + ".exec",
		ClassOutputGlobs: []string{
			"**/tmp/kotlin-classes/" + name + "/**/*.class",
			"**/intermediates/javac/" + name + "/classes/**/*.class",
		},
		HTMLReportDir: "reports/jacoco/html/" + coverageDir,
		XMLReportPath: "reports/jacoco/" + reportTask + "/" + reportTask + ".xml",
	}
}

// Derived pairs a Variant with its Paths.
type Derived struct {
	Variant Variant `json:"variant"`
	Paths   Paths   `json:"paths"`
}

// DeriveAll derives names for every variant and rejects any configuration in
// which two distinct variants share a derived task name or output path.
func DeriveAll(variants []Variant) ([]Derived, error) {
	out := make([]Derived, 0, len(variants))
	owners := make(map[string]Variant)
	for _, v := range variants {
		p := DeriveNames(v)
		keys := []string{
			p.ReportTaskName,
			p.VerificationTaskName,
			p.TestTaskName,
			"dir:" + p.CoverageDir,
		}
		for _, k := range keys {
			if prev, ok := owners[k]; ok {
				if prev == v {
					return nil, coverage.Configf("variant %s declared twice", v)
				}
				return nil, coverage.Configf("variants %s and %s both derive %q", prev, v, strings.TrimPrefix(k, "dir:"))
			}
			owners[k] = v
		}
		out = append(out, Derived{Variant: v, Paths: p})
	}
	return out, nil
}

// Describe renders a one-line summary used in logs and listings.
func (d Derived) Describe() string {
	return fmt.Sprintf("%s: %s -> %s -> %s", d.Variant, d.Paths.TestTaskName, d.Paths.ReportTaskName, d.Paths.VerificationTaskName)
}
