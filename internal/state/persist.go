package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// writeJSONAtomic serializes v to path using the teacher's atomic-write
// recipe: a temp file in the same directory, restrictive permissions,
// fsync, rename, and a cross-device (EXDEV) fallback via copy, finished
// with an fsync of the parent directory so the rename itself survives a
// crash. Grounded on internal/storage.saveUnsafe/copyFile.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("state: create data dir: %w", err)
	}

	f, err := os.CreateTemp(dir, ".state-*")
	if err != nil {
		return fmt.Errorf("state: create temp file: %w", err)
	}
	tmpName := f.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()

	if err := f.Chmod(0o600); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: chmod temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("state: sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("state: close temp file: %w", err)
	}

	dirSynced := false
	if err := os.Rename(tmpName, path); err != nil {
		var linkErr *os.LinkError
		if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
			if copyErr := copyFileSync(tmpName, path); copyErr != nil {
				return fmt.Errorf("state: cross-device copy: %w", copyErr)
			}
			dirSynced = true
		} else {
			return fmt.Errorf("state: rename temp file: %w", err)
		}
	}
	tmpName = ""

	if !dirSynced {
		if err := syncDir(dir); err != nil {
			return fmt.Errorf("state: fsync data dir: %w", err)
		}
	}
	return nil
}

func copyFileSync(src, dst string) error {
	srcFile, err := os.Open(src) // #nosec G304 - src is our own temp file
	if err != nil {
		return err
	}
	defer func() { _ = srcFile.Close() }()

	dstDir := filepath.Dir(dst)
	tmp, err := os.CreateTemp(dstDir, ".state-copy-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, srcFile); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return err
	}
	tmpName = ""
	return syncDir(dstDir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) // #nosec G304 - dir is our own data directory
	if err != nil {
		return err
	}
	defer func() { _ = d.Close() }()
	return d.Sync()
}

// readJSONOrDefault loads and decodes path into a freshly allocated T. A
// missing or corrupt file returns the zero value and ok=false rather than an
// error -- callers log a warning and start empty, per the store's forward
// compatibility contract.
func readJSONOrDefault[T any](path string) (value T, ok bool) {
	raw, err := os.ReadFile(path) // #nosec G304 - path is our own data directory
	if err != nil {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false
	}
	return value, true
}
