// Package handlers implements the typed HTTP API handlers.
package handlers

import (
	"github.com/mindexlab/mindex/internal/push"
	"github.com/mindexlab/mindex/internal/storage"
)

// Services bundles the collaborators handlers depend on. Git is nil when
// versioning is disabled.
type Services struct {
	Store  *storage.FileStore
	Search *storage.SearchService
	Git    *storage.GitService
	Push   *push.Service
}
