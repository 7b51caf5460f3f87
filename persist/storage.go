// Package persist implements the relay's crash-safe JSON-per-entity
// stores: per-project breakpoints and recoverable session snapshots. A
// store owns no in-memory state beyond its base directory path.
package persist

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roasbeef/dap-relay/errdefs"
)

// ProjectID derives a stable 16-hex-char identifier from a project root
// path: the leading half of SHA-256 over the resolved absolute path.
func ProjectID(projectRoot string) string {
	normalized := projectRoot
	if abs, err := filepath.Abs(projectRoot); err == nil {
		normalized = abs
	}
	if resolved, err := filepath.EvalSymlinks(normalized); err == nil {
		normalized = resolved
	}

	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])[:16]
}

// atomicWrite serialises v to JSON and writes it so the target file is
// either fully written or untouched: write to <target>.tmp, fsync, rename.
// On any error the tmp file is removed and PERSIST_WRITE_FAILED surfaced.
func atomicWrite(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errdefs.Wrap(errdefs.CodePersistWriteFailed, err,
			fmt.Sprintf("failed to create %s", filepath.Dir(path)))
	}

	content, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errdefs.Wrap(errdefs.CodePersistWriteFailed, err,
			fmt.Sprintf("failed to encode %s", path))
	}

	tmpPath := path + ".tmp"

	writeErr := func() error {
		f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.Write(content); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return os.Rename(tmpPath, path)
	}()

	if writeErr != nil {
		os.Remove(tmpPath)
		return errdefs.Wrap(errdefs.CodePersistWriteFailed, writeErr,
			fmt.Sprintf("failed to write %s", path))
	}

	return nil
}

// readJSON decodes the file at path into v. A missing file reports
// (false, nil); malformed JSON raises PERSIST_INVALID rather than
// silently wiping.
func readJSON(path string, v any) (bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, errdefs.Wrap(errdefs.CodePersistInvalid, err,
			fmt.Sprintf("failed to read %s", path))
	}

	if err := json.Unmarshal(content, v); err != nil {
		return false, errdefs.Wrap(errdefs.CodePersistInvalid, err,
			fmt.Sprintf("invalid JSON in %s", path))
	}

	return true, nil
}

// deleteFile removes the file, reporting whether it existed.
func deleteFile(path string) bool {
	err := os.Remove(path)
	return err == nil
}

// listJSONFiles returns the paths of all *.json entries in dir. A missing
// directory lists as empty.
func listJSONFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths
}
