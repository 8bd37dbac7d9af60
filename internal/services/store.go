package services

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const maskedPrefix = "masked_"

// MaskedName derives the output filename for an upload.
func MaskedName(original string) string {
	return maskedPrefix + original
}

// StoredUpload locates a persisted upload and its masked sibling.
type StoredUpload struct {
	Name string
	Dir  string
	Path string
}

// OutputPath is where the masked copy of the upload is written.
func (u StoredUpload) OutputPath() string {
	return filepath.Join(u.Dir, MaskedName(u.Name))
}

// UploadStore persists uploads in the shared output directory. Without
// isolation, two uploads with the same name overwrite each other.
type UploadStore struct {
	dir     string
	isolate bool
}

func NewUploadStore(dir string, isolate bool) *UploadStore {
	return &UploadStore{dir: dir, isolate: isolate}
}

// Dir returns the root directory of the store.
func (s *UploadStore) Dir() string {
	return s.dir
}

// SanitizeFilename reduces a client-supplied name to its base name. It
// returns "" for names that have no usable base.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	base := filepath.Base(name)
	switch base {
	case ".", "..", "/", "":
		return ""
	}
	return base
}

// Save writes src under filename and returns its location.
func (s *UploadStore) Save(filename string, src io.Reader) (StoredUpload, error) {
	name := SanitizeFilename(filename)
	if name == "" {
		return StoredUpload{}, fmt.Errorf("invalid filename %q: %w", filename, ErrUploadMissing)
	}

	dir := s.dir
	if s.isolate {
		dir = filepath.Join(s.dir, uuid.NewString())
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return StoredUpload{}, fmt.Errorf("ensure upload dir: %w", err)
	}

	path := filepath.Join(dir, name)
	out, err := os.Create(path)
	if err != nil {
		return StoredUpload{}, fmt.Errorf("create file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, src); err != nil {
		return StoredUpload{}, fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return StoredUpload{}, fmt.Errorf("close file: %w", err)
	}

	return StoredUpload{Name: name, Dir: dir, Path: path}, nil
}

// Adopt registers a file already written inside the store, such as a
// rendered PDF page.
func (s *UploadStore) Adopt(path string) StoredUpload {
	return StoredUpload{Name: filepath.Base(path), Dir: filepath.Dir(path), Path: path}
}

// Rel returns path relative to the store root using forward slashes, for
// building public URLs.
func (s *UploadStore) Rel(path string) string {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
