package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opbridge/opbridge/examples"
)

// runInit writes an example config.yaml and .env into dir. Both hold
// credentials, so they are created owner-only. Existing files are never
// overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing opbridge workspace in %s\n", dir)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	for _, f := range []struct {
		name    string
		content []byte
	}{
		{"config.yaml", examples.ConfigYAML},
		{".env", examples.EnvFile},
	} {
		path := filepath.Join(dir, f.name)
		created, err := writeIfMissing(path, f.content, 0o600)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(w, "  ✓ %s\n", path)
		} else {
			fmt.Fprintf(w, "  - %s (exists, skipped)\n", path)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Fill in the API keys in .env, then run: opbridge serve")
	return nil
}

// writeIfMissing writes content to path only if the file does not
// already exist, and reports whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
