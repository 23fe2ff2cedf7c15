package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// ObjectStore holds downloaded bytes under transient "blob:" handles until
// they are revoked.
type ObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewObjectStore creates an empty store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: make(map[string][]byte)}
}

// Create stores data and returns its handle.
func (s *ObjectStore) Create(data []byte) string {
	handle := "blob:" + uuid.NewString()
	s.mu.Lock()
	s.objects[handle] = data
	s.mu.Unlock()
	return handle
}

// Open returns the bytes behind handle.
func (s *ObjectStore) Open(handle string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[handle]
	return data, ok
}

// Revoke releases handle. Revoking twice is a no-op.
func (s *ObjectStore) Revoke(handle string) {
	s.mu.Lock()
	delete(s.objects, handle)
	s.mu.Unlock()
}

// Len reports how many handles are live.
func (s *ObjectStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Saver performs the local save of an object handle.
type Saver interface {
	Save(ctx context.Context, store *ObjectStore, handle, filename string) (string, error)
}

// FSSaver writes objects into Dir on an afero filesystem. Existing files
// are never overwritten; a " (n)" suffix is added instead.
type FSSaver struct {
	Fs  afero.Fs
	Dir string
}

// Save implements Saver.
func (s *FSSaver) Save(ctx context.Context, store *ObjectStore, handle, filename string) (string, error) {
	data, ok := store.Open(handle)
	if !ok {
		return "", fmt.Errorf("object %s was revoked", handle)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := s.Dir
	if dir == "" {
		dir = "."
	}
	if err := s.Fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	path, err := s.freePath(dir, SanitizeFilename(filename))
	if err != nil {
		return "", err
	}
	f, err := newAtomicFile(s.Fs, path)
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Abort()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Commit(); err != nil {
		return "", fmt.Errorf("save %s: %w", path, err)
	}
	return path, nil
}

func (s *FSSaver) freePath(dir, name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 1000; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		path := filepath.Join(dir, candidate)
		exists, err := afero.Exists(s.Fs, path)
		if err != nil {
			return "", err
		}
		if !exists {
			return path, nil
		}
	}
	return "", fmt.Errorf("no free file name for %s: %w", name, os.ErrExist)
}

var unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]+`)

// SanitizeFilename strips path separators and characters that are not
// allowed in file names.
func SanitizeFilename(name string) string {
	name = unsafeFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(strings.TrimSpace(name), ".")
	if name == "" {
		return "video"
	}
	if len(name) > 200 {
		ext := filepath.Ext(name)
		name = name[:200-len(ext)] + ext
	}
	return name
}

// SuggestFilename builds "<title>_<quality>.<ext>".
func SuggestFilename(title, quality, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	base := strings.TrimSpace(title)
	if base == "" {
		base = "video"
	}
	if quality != "" {
		base += "_" + quality
	}
	return SanitizeFilename(base + "." + strings.TrimPrefix(ext, "."))
}
