package magetasks

import (
	"os"
	"path/filepath"
)

var (
	// ModulePath is the Go module path.
	ModulePath = "github.com/dkoosis/covgate"

	// BinPath is the output path for built binaries.
	BinPath = "./bin/covgate"

	// MainPackage is the package built into BinPath.
	MainPackage = "./cmd/covgate"

	// CoverProfile is where Test:Coverage writes its profile.
	CoverProfile = "coverage.out"

	// ProjectRoot is the root directory of the project.
	ProjectRoot string
)

// Initialize sets up the magetasks package.
// Call this from the Magefile init() function.
func Initialize() error {
	var err error
	ProjectRoot, err = os.Getwd()
	if err != nil {
		return err
	}

	// Ensure bin directory exists
	binDir := filepath.Join(ProjectRoot, "bin")
	return os.MkdirAll(binDir, 0o750)
}
