package models

// SimilarResult is a single search hit.
type SimilarResult struct {
	ID        int64   `json:"id"`
	Title     string  `json:"title"`
	URL       string  `json:"url"`
	ProjectID *int64  `json:"project_id,omitempty"`
	Score     float64 `json:"score"`
	// KeywordScore and SemanticScore are set in hybrid mode.
	KeywordScore  float64 `json:"keyword_score,omitempty"`
	SemanticScore float64 `json:"semantic_score,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results   []*SimilarResult `json:"results"`
	Total     int              `json:"total"`
	QueryTime int64            `json:"query_time_ms"`
	Query     string           `json:"query"`
	Mode      SearchMode       `json:"mode"`
}

// Assignment is the response for routing and merge-suggestion requests.
// ProjectID is nil when no project scored above the threshold.
type Assignment struct {
	ProjectID *int64  `json:"project_id"`
	Score     float64 `json:"score,omitempty"`
}
