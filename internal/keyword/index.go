// Package keyword provides keyword (BM25) search over observation titles and URLs.
package keyword

import (
	"context"

	"github.com/hyperjump/tabwise/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies the score contribution from matches in the title field.
	// Values > 1 make title matches outrank URL matches (e.g. 2.0). Use 1.0 for no boost.
	TitleBoost float64
	// FuzzyEnabled enables fuzzy matching for typo tolerance.
	FuzzyEnabled bool
	// Fuzziness is the maximum Levenshtein edit distance for fuzzy matching (1 or 2).
	// Default is 2 when FuzzyEnabled is true.
	Fuzziness int
}

// KeywordIndex defines keyword search operations over observations.
type KeywordIndex interface {
	Index(ctx context.Context, obs *models.Observation) error
	IndexBatch(ctx context.Context, obs []*models.Observation) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id int64) error
	// DeleteAll empties the index.
	DeleteAll(ctx context.Context) error
	// DocCount returns the total number of observations in the index.
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit.
type KeywordResult struct {
	ID    int64
	Score float64
}
