// Package vector provides the nearest-neighbor index that mirrors stored observation vectors.
package vector

import (
	"context"
	"errors"
	"sort"
)

// ErrDimensionMismatch is returned when a vector's length differs from the index dimension.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// VectorIndex stores fixed-dimension vectors under caller-chosen int64 ids and answers
// exact k-nearest-neighbor queries by squared Euclidean distance.
type VectorIndex interface {
	// Insert adds vec at id, replacing any vector already stored there.
	Insert(ctx context.Context, id int64, vec []float32) error
	// Delete removes the vector at id. Deleting a missing id is a no-op.
	Delete(ctx context.Context, id int64) error
	// Search returns up to k entries ordered by ascending distance, ties by smaller id.
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	// Get returns a copy of the vector stored at id.
	Get(id int64) ([]float32, bool)
	// IDs returns every stored id in ascending order.
	IDs() []int64
	// Reset removes every entry.
	Reset()
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Type() string
	Close() error
}

// Result is a single nearest-neighbor hit.
type Result struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance"`
}

// sortResults orders results by distance, breaking ties by id.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}
