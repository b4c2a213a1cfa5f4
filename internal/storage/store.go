package storage

import (
	"os"
	"path/filepath"
	"strings"
)

// Store maps bucket/object pairs onto files below a root directory, one
// sub-directory per bucket.
type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: root} }

// Path returns the file path of bucket/object. Names are validated first,
// and the joined path must still lie below the root.
func (s *Store) Path(bucket, object string) (string, error) {
	if err := validObject(bucket, object); err != nil {
		return "", err
	}
	p := filepath.Join(s.root, bucket, filepath.FromSlash(object))
	rel, err := filepath.Rel(s.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidObject
	}
	return p, nil
}

// Stat reports whether the object exists as a regular file.
func (s *Store) Stat(bucket, object string) (os.FileInfo, error) {
	p, err := s.Path(bucket, object)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, os.ErrNotExist
	}
	return fi, nil
}
