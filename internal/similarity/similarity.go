// Package similarity turns a nearest-neighbor result into an accept/reject decision.
package similarity

import (
	"context"
	"fmt"

	"github.com/hyperjump/tabwise/internal/vector"
)

const (
	// RoutingThreshold is the minimum score for routing a tab to a project.
	RoutingThreshold Score = 0.7
	// OverlapThreshold is the minimum score for suggesting a merge with an existing project.
	OverlapThreshold Score = 0.8
	// SearchK is how many neighbors the matcher asks the index for.
	SearchK = 3
)

// Score is 1 minus the squared Euclidean distance between two vectors.
// For unit vectors this equals 2*cos-1, so it is not a cosine similarity.
type Score float32

// ScoreFromDistance converts a squared L2 distance to a Score.
func ScoreFromDistance(d float32) Score {
	return Score(1 - d)
}

// Candidate is one entry in a matching pool.
type Candidate struct {
	Key       int64
	ProjectID int64
	Vector    []float32
}

// Match is the nearest candidate that passed the threshold.
type Match struct {
	Key       int64 `json:"key"`
	ProjectID int64 `json:"project_id"`
	Score     Score `json:"score"`
}

// Classify finds the candidate nearest to vec and accepts it iff its score is strictly
// greater than threshold. An empty pool never matches. Candidates whose vector length
// differs from vec are an error.
func Classify(ctx context.Context, vec []float32, pool []Candidate, threshold Score) (Match, bool, error) {
	if len(pool) == 0 {
		return Match{}, false, nil
	}
	idx, err := vector.NewMemoryIndex(len(vec))
	if err != nil {
		return Match{}, false, err
	}
	defer idx.Close()

	byKey := make(map[int64]Candidate, len(pool))
	for _, c := range pool {
		if err := idx.Insert(ctx, c.Key, c.Vector); err != nil {
			return Match{}, false, fmt.Errorf("candidate %d: %w", c.Key, err)
		}
		byKey[c.Key] = c
	}

	results, err := idx.Search(ctx, vec, SearchK)
	if err != nil {
		return Match{}, false, err
	}
	if len(results) == 0 {
		return Match{}, false, nil
	}
	best := results[0]
	score := ScoreFromDistance(best.Distance)
	if score <= threshold {
		return Match{}, false, nil
	}
	return Match{Key: best.ID, ProjectID: byKey[best.ID].ProjectID, Score: score}, true, nil
}
