// Package files keeps uploaded attachment blobs in a flat directory. Blob
// names are generated; callers keep the original filename as metadata.
package files

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrTooLarge    = errors.New("file exceeds the size limit")
	ErrInvalidName = errors.New("invalid blob name")
)

type Store struct {
	dir string
	wg  sync.WaitGroup
}

// New creates dir if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create file store: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Dir() string { return s.dir }

// Path resolves a blob name inside the store.
func (s *Store) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", ErrInvalidName
	}
	return filepath.Join(s.dir, name), nil
}

// Save copies r into a new blob. At most limit bytes are accepted when limit
// is positive; a larger body leaves nothing behind and returns ErrTooLarge.
func (s *Store) Save(r io.Reader, limit int64) (name string, size int64, mimeType string, err error) {
	name = uuid.NewString()
	path := filepath.Join(s.dir, name)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, "", err
	}
	defer func() {
		if err != nil {
			os.Remove(path)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	size, err = io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, "", err
	}
	if limit > 0 && size > limit {
		return "", 0, "", ErrTooLarge
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", 0, "", err
	}
	return name, size, mt.String(), nil
}

func (s *Store) Open(name string) (*os.File, error) {
	path, err := s.Path(name)
	if err != nil {
		return nil, err
	}
	return os.Open(path)
}

// Remove deletes a blob. A missing blob is not an error.
func (s *Store) Remove(name string) error {
	path, err := s.Path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveLater deletes blobs in a background goroutine. Failures are logged
// and not retried.
func (s *Store) RemoveLater(names []string) {
	if len(names) == 0 {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, name := range names {
			if err := s.Remove(name); err != nil {
				log.Printf("[files] delete %s: %v", name, err)
			}
		}
	}()
}

// Wait blocks until pending background deletions finish.
func (s *Store) Wait() {
	s.wg.Wait()
}

type Blob struct {
	Name    string
	ModTime time.Time
}

// List returns every blob in the store.
func (s *Store) List() ([]Blob, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	blobs := make([]Blob, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		blobs = append(blobs, Blob{Name: e.Name(), ModTime: info.ModTime()})
	}
	return blobs, nil
}
