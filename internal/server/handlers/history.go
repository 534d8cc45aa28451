package handlers

import (
	"context"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/storage"
)

// HistoryHandler exposes document version history. All endpoints return 404
// when git versioning is disabled.
type HistoryHandler struct {
	svc *Services
}

// NewHistoryHandler creates a history handler.
func NewHistoryHandler(svc *Services) *HistoryHandler {
	return &HistoryHandler{svc: svc}
}

// HistoryRequest identifies a document and an optional commit limit.
type HistoryRequest struct {
	ID    string `path:"id"`
	Limit int    `query:"limit"`
}

// HistoryResponse lists commits touching the document, newest first.
type HistoryResponse struct {
	Commits []storage.Commit `json:"commits"`
}

// History returns the commit log for one document.
func (h *HistoryHandler) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	if h.svc.Git == nil {
		return nil, apierrors.NotFound("version history")
	}
	commits, err := h.svc.Git.History(ctx, req.ID, req.Limit)
	if err != nil {
		return nil, apierrors.Internal("failed to read history", err)
	}
	return &HistoryResponse{Commits: commits}, nil
}

// VersionRequest identifies a document at a specific commit.
type VersionRequest struct {
	ID   string `path:"id"`
	Hash string `path:"hash"`
}

// VersionResponse holds the document content at that commit.
type VersionResponse struct {
	ID      string `json:"id"`
	Hash    string `json:"hash"`
	Content string `json:"content"`
}

// Version returns a document's content as of the given commit.
func (h *HistoryHandler) Version(ctx context.Context, req VersionRequest) (*VersionResponse, error) {
	if h.svc.Git == nil {
		return nil, apierrors.NotFound("version history")
	}
	data, err := h.svc.Git.FileAtCommit(ctx, req.Hash, req.ID)
	if err != nil {
		return nil, apierrors.NotFound("document version").WithDetail("id", req.ID).WithDetail("hash", req.Hash)
	}
	return &VersionResponse{ID: req.ID, Hash: req.Hash, Content: string(data)}, nil
}
