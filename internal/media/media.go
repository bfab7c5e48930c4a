// Package media abstracts blob storage for message attachments. The hub
// only ever deletes blobs; uploads are handled outside this process.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Store interface {
	Delete(ref string) error
}

// DirStore deletes blobs stored as files under a single directory.
type DirStore struct {
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) Delete(ref string) error {
	if ref == "" {
		return nil
	}

	// refs are bare file names; reject anything that escapes the directory
	if ref != filepath.Base(ref) || ref == "." || ref == ".." || strings.ContainsAny(ref, `/\`) {
		return fmt.Errorf("invalid media ref %q", ref)
	}

	err := os.Remove(filepath.Join(s.dir, ref))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
