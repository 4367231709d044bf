package models

import (
	"fmt"
	"strings"
	"time"
)

// SaveStatus is the outcome of a save request.
type SaveStatus string

const (
	// StatusCreated means a new observation row (and index entry, if embedded) was written.
	StatusCreated SaveStatus = "created"
	// StatusAlreadyExists means an observation with the same URL was already stored.
	StatusAlreadyExists SaveStatus = "already_exists"
)

// SaveRequest is the input for saving an observation.
type SaveRequest struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	ProjectID *int64     `json:"project_id,omitempty"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// Validate trims title and URL and rejects empty values.
func (r *SaveRequest) Validate() error {
	r.Title = strings.TrimSpace(r.Title)
	r.URL = strings.TrimSpace(r.URL)
	if r.Title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	if r.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	return nil
}

// SaveResult is the response for a save request.
type SaveResult struct {
	Status SaveStatus `json:"status"`
	ID     int64      `json:"id"`
}

// SearchMode selects how SearchQuery is answered.
type SearchMode string

const (
	// ModeSemantic ranks by vector similarity only.
	ModeSemantic SearchMode = "semantic"
	// ModeKeyword ranks by keyword match on title and URL only.
	ModeKeyword SearchMode = "keyword"
	// ModeHybrid fuses keyword and semantic scores.
	ModeHybrid SearchMode = "hybrid"
)

// SearchQuery represents a search request.
type SearchQuery struct {
	Query string     `json:"query"`
	TopK  int        `json:"top_k,omitempty"`
	Mode  SearchMode `json:"mode,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty or the mode is unknown; otherwise clamps TopK to
// [1, maxLimit] using defaultLimit when unset.
func (q *SearchQuery) Validate(defaultLimit, maxLimit int) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.TopK <= 0 {
		q.TopK = defaultLimit
	}
	if q.TopK > maxLimit {
		q.TopK = maxLimit
	}
	switch q.Mode {
	case "":
		q.Mode = ModeSemantic
	case ModeSemantic, ModeKeyword, ModeHybrid:
	default:
		return fmt.Errorf("unknown search mode %q", q.Mode)
	}
	return nil
}

// TabQuery identifies a tab for routing and merge-suggestion requests.
type TabQuery struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}
