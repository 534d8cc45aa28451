package handlers

import (
	"context"

	"github.com/mindexlab/mindex/internal/apierrors"
	"github.com/mindexlab/mindex/internal/storage"
)

// SearchHandler exposes full-text search.
type SearchHandler struct {
	svc *Services
}

// NewSearchHandler creates a search handler.
func NewSearchHandler(svc *Services) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// SearchRequest is a search query with an optional result limit.
type SearchRequest struct {
	Query string `query:"q"`
	Limit int    `query:"limit"`
}

// SearchResponse holds the matches sorted by relevance.
type SearchResponse struct {
	Results []storage.SearchResult `json:"results"`
}

// Search runs a case-insensitive substring search over all documents.
func (h *SearchHandler) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if req.Query == "" {
		return nil, apierrors.MissingField("q")
	}
	results, err := h.svc.Search.Search(storage.SearchOptions{Query: req.Query, Limit: req.Limit})
	if err != nil {
		return nil, apierrors.Internal("search failed", err)
	}
	return &SearchResponse{Results: results}, nil
}
