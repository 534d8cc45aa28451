package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GitService versions the document root with go-git (pure Go, no git binary
// dependency). Every save and delete is committed so document history is
// browsable.
type GitService struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository
	mu    sync.Mutex
}

// NewGitService opens the repository at the document root, initializing one
// on first use.
func NewGitService(rootDir string) (*GitService, error) {
	repo, err := gogit.PlainOpen(rootDir)
	if err != nil {
		repo, err = gogit.PlainInit(rootDir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
	}

	gs := &GitService{
		dir:   rootDir,
		name:  "mindex",
		email: "mindex@localhost",
		repo:  repo,
	}

	cfg, err := repo.Config()
	if err != nil {
		return nil, fmt.Errorf("failed to read git config: %w", err)
	}
	if cfg.User.Name == "" {
		cfg.User.Name = gs.name
		cfg.User.Email = gs.email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}
	return gs, nil
}

// CommitDocument stages one document path and commits it. A clean worktree
// after staging is a no-op, not an error. Deletions are staged the same way.
func (gs *GitService) CommitDocument(_ context.Context, id, message string) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	w, err := gs.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(id); err != nil {
		return fmt.Errorf("failed to stage %s: %w", id, err)
	}

	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}

	now := time.Now()
	sig := &object.Signature{Name: gs.name, Email: gs.email, When: now}
	if _, err := w.Commit(message, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Commit is one entry in a document's history.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Author  string    `json:"author"`
	Date    time.Time `json:"date"`
}

// History returns up to n commits touching the given document, newest first.
// An empty id means the whole repository.
func (gs *GitService) History(_ context.Context, id string, n int) ([]Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}

	opts := &gogit.LogOptions{}
	if id != "" {
		opts.FileName = &id
	}
	iter, err := gs.repo.Log(opts)
	if err != nil {
		// No commits yet.
		return []Commit{}, nil
	}
	defer iter.Close()

	commits := make([]Commit, 0, n)
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Author:  c.Author.Name,
			Date:    c.Author.When.UTC(),
		})
	}
	return commits, nil
}

// FileAtCommit returns a document's content at the given commit hash.
// "HEAD" resolves to the current head.
func (gs *GitService) FileAtCommit(_ context.Context, hash, id string) ([]byte, error) {
	h := plumbing.NewHash(hash)
	if hash == "HEAD" {
		ref, err := gs.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}

	c, err := gs.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(id)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}
