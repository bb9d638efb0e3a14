package magetasks

import "github.com/magefile/mage/mg"

// QA runs formatting, vet, tests, the build and a smoke run of the binary in
// order, stopping at the first failure. Optional linters run through Lint:All.
func QA() error {
	PrintH1Header("covgate Quality Assurance")
	mg.SerialDeps(LintFormat, LintVet, TestAll, BuildAll, Smoke)
	PrintSuccess("QA complete!")
	return nil
}
