// Package report writes coverage bundles as JaCoCo-style XML and browsable
// HTML. Every output is staged next to its destination and renamed into
// place, so an interrupted run never leaves a partial report.
package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dkoosis/covgate/pkg/coverage"
)

// Request selects the outputs for one bundle. Empty paths disable an output.
type Request struct {
	XMLPath    string
	HTMLDir    string
	SourceDirs []string
}

// Write produces every output named in req.
func Write(b *coverage.Bundle, req Request) error {
	if req.XMLPath != "" {
		if err := WriteXMLFile(req.XMLPath, b); err != nil {
			return err
		}
	}
	if req.HTMLDir != "" {
		if err := WriteHTML(req.HTMLDir, b, req.SourceDirs); err != nil {
			return err
		}
	}
	return nil
}

// WriteXMLFile renders b as XML and atomically replaces path.
func WriteXMLFile(path string, b *coverage.Bundle) error {
	var buf bytes.Buffer
	if err := WriteXML(&buf, b); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	if err := writeFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
