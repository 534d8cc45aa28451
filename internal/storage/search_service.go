package storage

import (
	"sort"
	"strings"
	"time"
)

// SearchService provides case-insensitive full-text search over documents.
type SearchService struct {
	store *FileStore
}

// NewSearchService creates a search service over the given store.
func NewSearchService(store *FileStore) *SearchService {
	return &SearchService{store: store}
}

// SearchResult is a single matching document.
type SearchResult struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Preview  string    `json:"preview"`
	Matches  int       `json:"matches"`
	Score    float64   `json:"score"`
	Modified time.Time `json:"modified"`
}

// SearchOptions controls search behavior.
type SearchOptions struct {
	Query      string // case-insensitive substring
	Limit      int    // max results, 0 = no limit
	MatchTitle bool
	MatchBody  bool
}

// Search scans every document and returns matches sorted by relevance score
// (highest first), ties broken by ID. When neither MatchTitle nor MatchBody
// is set, both are searched.
func (s *SearchService) Search(opts SearchOptions) ([]SearchResult, error) {
	if opts.Query == "" {
		return []SearchResult{}, nil
	}
	if !opts.MatchTitle && !opts.MatchBody {
		opts.MatchTitle = true
		opts.MatchBody = true
	}

	docs, err := s.store.ReadAll()
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(opts.Query)
	var results []SearchResult
	for _, doc := range docs {
		matches := 0
		score := 0.0

		if opts.MatchTitle {
			if n := countMatches(strings.ToLower(doc.Title), query); n > 0 {
				matches += n
				score += 0.5 * float64(n)
			}
		}
		if opts.MatchBody {
			if n := countMatches(strings.ToLower(doc.Content), query); n > 0 {
				matches += n
				score += 0.1 * float64(n)
			}
		}
		if matches == 0 {
			continue
		}

		results = append(results, SearchResult{
			ID:       doc.ID,
			Title:    doc.Title,
			Preview:  createPreview(doc.Content, query, 100),
			Matches:  matches,
			Score:    min(score, 1.0),
			Modified: doc.Modified,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	if results == nil {
		results = []SearchResult{}
	}
	return results, nil
}

// countMatches counts non-overlapping occurrences of query in text.
func countMatches(text, query string) int {
	count := 0
	for {
		i := strings.Index(text, query)
		if i == -1 {
			return count
		}
		count++
		text = text[i+len(query):]
	}
}

// createPreview returns a snippet around the first match, with ellipses when
// truncated. Falls back to the head of the text when nothing matches.
func createPreview(text, query string, maxLen int) string {
	lower := strings.ToLower(text)
	i := strings.Index(lower, query)
	if i == -1 {
		if len(text) > maxLen {
			return text[:maxLen] + "..."
		}
		return text
	}

	start := max(i-20, 0)
	end := min(i+len(query)+30, len(text))
	snippet := text[start:end]

	if start > 0 {
		snippet = "..." + snippet
	}
	if end < len(text) {
		snippet += "..."
	}
	return snippet
}
