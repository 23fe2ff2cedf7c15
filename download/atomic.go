package download

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// atomicFile writes to a temp file next to path and renames it into place
// on Commit, so a save interrupted mid-write never leaves a partial file
// under the final name.
type atomicFile struct {
	fs      afero.Fs
	path    string
	tmpPath string
	file    afero.File
}

func newAtomicFile(fs afero.Fs, path string) (*atomicFile, error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := afero.TempFile(fs, dir, ".spectation-*.part")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &atomicFile{fs: fs, path: path, tmpPath: tmp.Name(), file: tmp}, nil
}

func (a *atomicFile) Write(p []byte) (int, error) {
	return a.file.Write(p)
}

// Commit syncs the temp file and renames it over path.
func (a *atomicFile) Commit() error {
	if err := a.file.Sync(); err != nil {
		a.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := a.file.Close(); err != nil {
		a.fs.Remove(a.tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := a.fs.Rename(a.tmpPath, a.path); err != nil {
		a.fs.Remove(a.tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// Abort discards the temp file.
func (a *atomicFile) Abort() error {
	a.file.Close()
	return a.fs.Remove(a.tmpPath)
}
