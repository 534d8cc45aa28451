// Package storage provides the file-backed document root, full-text search
// over it, and optional git versioning.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
)

// Sentinel errors returned by FileStore operations. Callers map these to
// transport-level errors.
var (
	ErrNotFound = errors.New("document not found")
	ErrExists   = errors.New("document already exists")
	ErrBadPath  = errors.New("invalid document path")
)

// Document is one markdown file in the root. ID is the slash-separated path
// relative to the root, including the .md extension.
type Document struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Content  string    `json:"content,omitempty"`
	Modified time.Time `json:"modified"`
}

// FileStore owns a directory tree of markdown documents. All reads and writes
// go through path validation so a document ID can never escape the root.
type FileStore struct {
	rootDir string
}

// NewFileStore opens (creating if needed) the document root.
func NewFileStore(rootDir string) (*FileStore, error) {
	abs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileStore{rootDir: abs}, nil
}

// RootDir returns the absolute document root path.
func (s *FileStore) RootDir() string {
	return s.rootDir
}

// Exists reports whether the document is present.
func (s *FileStore) Exists(id string) bool {
	p, err := s.docPath(id)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the document with its full content.
func (s *FileStore) Read(id string) (*Document, error) {
	p, err := s.docPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("failed to stat document: %w", err)
	}
	return &Document{
		ID:       id,
		Title:    titleOf(id),
		Content:  string(data),
		Modified: info.ModTime().UTC(),
	}, nil
}

// Create writes a new document. It fails with ErrExists when the ID is
// already taken.
func (s *FileStore) Create(id, content string) (*Document, error) {
	p, err := s.docPath(id)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(p); err == nil {
		return nil, ErrExists
	}
	return s.write(id, p, content)
}

// Write replaces the content of a document, creating it if missing. The file
// is written atomically so concurrent readers never see a torn document.
func (s *FileStore) Write(id, content string) (*Document, error) {
	p, err := s.docPath(id)
	if err != nil {
		return nil, err
	}
	return s.write(id, p, content)
}

func (s *FileStore) write(id, p, content string) (*Document, error) {
	if dir := filepath.Dir(p); dir != s.rootDir {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := atomic.WriteFile(p, bytes.NewReader([]byte(content))); err != nil {
		return nil, fmt.Errorf("failed to write document: %w", err)
	}
	return &Document{
		ID:       id,
		Title:    titleOf(id),
		Content:  content,
		Modified: time.Now().UTC(),
	}, nil
}

// Delete removes a document.
func (s *FileStore) Delete(id string) error {
	p, err := s.docPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// List walks the root and returns every markdown document without content,
// sorted by ID. Symlinks are skipped so a link cannot pull in files from
// outside the root.
func (s *FileStore) List() ([]Document, error) {
	var docs []Document
	err := filepath.WalkDir(s.rootDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(p, ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		docs = append(docs, Document{
			ID:       id,
			Title:    titleOf(id),
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// ReadAll returns every document with its content. Used for the startup scan.
func (s *FileStore) ReadAll() ([]Document, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	docs := make([]Document, 0, len(metas))
	for _, m := range metas {
		doc, err := s.Read(m.ID)
		if err != nil {
			// Deleted between the walk and the read; skip.
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

// DocID converts an absolute or root-relative file path into a document ID,
// or "" when the path is outside the root or not a markdown file.
func (s *FileStore) DocID(p string) string {
	if filepath.IsAbs(p) {
		rel, err := filepath.Rel(s.rootDir, p)
		if err != nil {
			return ""
		}
		p = rel
	}
	id := filepath.ToSlash(p)
	if _, err := s.docPath(id); err != nil {
		return ""
	}
	return id
}

// docPath validates a document ID and returns its absolute file path. IDs
// must be clean relative slash paths ending in .md with no dot-dot segments.
func (s *FileStore) docPath(id string) (string, error) {
	if id == "" || !strings.HasSuffix(id, ".md") {
		return "", ErrBadPath
	}
	if strings.HasPrefix(id, "/") || strings.Contains(id, "\\") {
		return "", ErrBadPath
	}
	if path.Clean(id) != id {
		return "", ErrBadPath
	}
	for _, part := range strings.Split(id, "/") {
		if part == "" || part == "." || part == ".." {
			return "", ErrBadPath
		}
	}
	return filepath.Join(s.rootDir, filepath.FromSlash(id)), nil
}

// titleOf derives a display title from a document ID: the base name without
// the .md extension.
func titleOf(id string) string {
	return strings.TrimSuffix(path.Base(id), ".md")
}
