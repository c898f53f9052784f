// Package fileutil provides tmp+mv file writes.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/eunmann/tabx/pkg/logging"
)

// WriteAtomic writes outPath through a temporary file in the same
// directory, then renames it into place. Readers see either the old file
// or the complete new one. On error the temporary file is removed and
// outPath is untouched.
func WriteAtomic(outPath string, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.CreateTemp(dir, filepath.Base(outPath)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := write(f); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename temp to final: %w", err)
	}

	logging.L().Debug().Str("path", outPath).Msg("wrote file")
	return nil
}
