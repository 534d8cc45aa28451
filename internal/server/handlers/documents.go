package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/directive"
	"github.com/mindexlab/mindex/internal/storage"
)

// DocumentHandler implements document CRUD. Every successful write re-parses
// the saved document for notification directives and, when versioning is
// enabled, commits the change.
type DocumentHandler struct {
	svc *Services
}

// NewDocumentHandler creates a document handler.
func NewDocumentHandler(svc *Services) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

// ListDocumentsRequest is empty; listing takes no parameters.
type ListDocumentsRequest struct{}

// ListDocumentsResponse holds document metadata without content.
type ListDocumentsResponse struct {
	Documents []storage.Document `json:"documents"`
}

// List returns every document in the root.
func (h *DocumentHandler) List(ctx context.Context, req ListDocumentsRequest) (*ListDocumentsResponse, error) {
	docs, err := h.svc.Store.List()
	if err != nil {
		return nil, apierrors.Internal("failed to list documents", err)
	}
	return &ListDocumentsResponse{Documents: docs}, nil
}

// GetDocumentRequest identifies one document by path.
type GetDocumentRequest struct {
	ID string `path:"id"`
}

// Get returns a document with its full content.
func (h *DocumentHandler) Get(ctx context.Context, req GetDocumentRequest) (*storage.Document, error) {
	doc, err := h.svc.Store.Read(req.ID)
	if err != nil {
		return nil, mapStoreError(req.ID, err)
	}
	return doc, nil
}

// SaveDocumentRequest carries new content for a document.
type SaveDocumentRequest struct {
	ID      string `path:"id"`
	Content string `json:"content"`
}

// SaveDocumentResponse returns the saved document and any directive warnings
// found while parsing it.
type SaveDocumentResponse struct {
	Document *storage.Document   `json:"document"`
	Warnings []directive.Warning `json:"warnings,omitempty"`
}

// Create writes a new document; the ID must not be taken.
func (h *DocumentHandler) Create(ctx context.Context, req SaveDocumentRequest) (*SaveDocumentResponse, error) {
	if req.ID == "" {
		return nil, apierrors.MissingField("id")
	}
	doc, err := h.svc.Store.Create(req.ID, req.Content)
	if err != nil {
		return nil, mapStoreError(req.ID, err)
	}
	return h.afterSave(ctx, doc, "create")
}

// Update replaces a document's content, creating it if missing.
func (h *DocumentHandler) Update(ctx context.Context, req SaveDocumentRequest) (*SaveDocumentResponse, error) {
	if req.ID == "" {
		return nil, apierrors.MissingField("id")
	}
	doc, err := h.svc.Store.Write(req.ID, req.Content)
	if err != nil {
		return nil, mapStoreError(req.ID, err)
	}
	return h.afterSave(ctx, doc, "update")
}

func (h *DocumentHandler) afterSave(ctx context.Context, doc *storage.Document, op string) (*SaveDocumentResponse, error) {
	warnings := h.svc.Push.ApplyDocument(doc.ID, doc.Content)
	if h.svc.Git != nil {
		msg := fmt.Sprintf("%s %s", op, doc.ID)
		if err := h.svc.Git.CommitDocument(ctx, doc.ID, msg); err != nil {
			slog.ErrorContext(ctx, "Failed to commit document", "id", doc.ID, "err", err)
		}
	}
	return &SaveDocumentResponse{Document: doc, Warnings: warnings}, nil
}

// DeleteDocumentRequest identifies the document to remove.
type DeleteDocumentRequest struct {
	ID string `path:"id"`
}

// DeleteDocumentResponse confirms the deletion.
type DeleteDocumentResponse struct {
	Deleted string `json:"deleted"`
}

// Delete removes a document and drops its notification contribution.
func (h *DocumentHandler) Delete(ctx context.Context, req DeleteDocumentRequest) (*DeleteDocumentResponse, error) {
	if err := h.svc.Store.Delete(req.ID); err != nil {
		return nil, mapStoreError(req.ID, err)
	}
	h.svc.Push.RemoveDocument(req.ID)
	if h.svc.Git != nil {
		if err := h.svc.Git.CommitDocument(ctx, req.ID, fmt.Sprintf("delete %s", req.ID)); err != nil {
			slog.ErrorContext(ctx, "Failed to commit deletion", "id", req.ID, "err", err)
		}
	}
	return &DeleteDocumentResponse{Deleted: req.ID}, nil
}

// mapStoreError converts FileStore sentinel errors to API errors.
func mapStoreError(id string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return apierrors.NotFound("document").WithDetail("id", id)
	case errors.Is(err, storage.ErrExists):
		return apierrors.Conflict("document already exists").WithDetail("id", id)
	case errors.Is(err, storage.ErrBadPath):
		return apierrors.BadPath(id)
	default:
		return apierrors.Internal("storage error", err)
	}
}
