package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/tabwise/internal/keyword"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/search"
	"github.com/hyperjump/tabwise/internal/similarity"
	"github.com/hyperjump/tabwise/internal/vector"
)

// ErrKeywordDisabled is returned for keyword or hybrid searches when no keyword index is set.
var ErrKeywordDisabled = errors.New("keyword index not configured")

// minCandidates is how many hits each side of a hybrid search fetches at least.
const minCandidates = 20

// SearchSimilar returns the topK stored observations nearest to text, ordered by ascending
// distance with ties broken by smaller id. Score is 1 - squared distance; no threshold applies.
func (e *Engine) SearchSimilar(ctx context.Context, text string, topK int) ([]*models.SimilarResult, error) {
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	hits, err := e.index.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	out := make([]*models.SimilarResult, 0, len(hits))
	for _, h := range hits {
		obs, err := e.store.GetObservation(ctx, h.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: vector %d has no row: %v", ErrInvariantViolation, h.ID, err)
		}
		score := float64(similarity.ScoreFromDistance(h.Distance))
		out = append(out, resultFor(obs, score))
	}
	return out, nil
}

func resultFor(obs *models.Observation, score float64) *models.SimilarResult {
	return &models.SimilarResult{
		ID:        obs.ID,
		Title:     obs.Title,
		URL:       obs.URL,
		ProjectID: obs.ProjectID,
		Score:     score,
	}
}

// Search answers a query in semantic, keyword or hybrid mode. Hybrid runs the keyword and
// vector searches in parallel and fuses their normalized scores.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery) (*models.SearchResponse, error) {
	start := time.Now()
	var (
		results []*models.SimilarResult
		err     error
	)
	switch q.Mode {
	case models.ModeKeyword:
		results, err = e.searchKeyword(ctx, q.Query, q.TopK)
	case models.ModeHybrid:
		results, err = e.searchHybrid(ctx, q.Query, q.TopK)
	default:
		results, err = e.SearchSimilar(ctx, q.Query, q.TopK)
	}
	if err != nil {
		return nil, err
	}
	return &models.SearchResponse{
		Results:   results,
		Total:     len(results),
		QueryTime: time.Since(start).Milliseconds(),
		Query:     q.Query,
		Mode:      q.Mode,
	}, nil
}

func (e *Engine) searchKeyword(ctx context.Context, query string, topK int) ([]*models.SimilarResult, error) {
	if e.keywordIndex == nil {
		return nil, ErrKeywordDisabled
	}
	hits, err := e.keywordIndex.Search(ctx, query, topK, &keyword.SearchOptions{TitleBoost: 2})
	if err != nil {
		return nil, fmt.Errorf("keyword search failed: %w", err)
	}
	scores := search.NormalizeKeywordScores(hits)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.SimilarResult, 0, len(hits))
	for _, h := range hits {
		obs, err := e.store.GetObservation(ctx, h.ID)
		if err != nil {
			// Keyword index is derived data and may briefly lag a sweep.
			continue
		}
		r := resultFor(obs, scores[h.ID])
		r.KeywordScore = scores[h.ID]
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) searchHybrid(ctx context.Context, query string, topK int) ([]*models.SimilarResult, error) {
	if e.keywordIndex == nil {
		return nil, ErrKeywordDisabled
	}
	candidates := topK * 4
	if candidates < minCandidates {
		candidates = minCandidates
	}

	var (
		keywordHits  []*keyword.KeywordResult
		semanticHits []vector.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hits, err := e.keywordIndex.Search(gctx, query, candidates, &keyword.SearchOptions{TitleBoost: 2})
		if err != nil {
			return fmt.Errorf("keyword search failed: %w", err)
		}
		keywordHits = hits
		return nil
	})
	g.Go(func() error {
		vec, err := e.embedder.Embed(gctx, query)
		if err != nil {
			return fmt.Errorf("embedding failed: %w", err)
		}
		e.mu.RLock()
		hits, err := e.index.Search(gctx, vec, candidates)
		e.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("vector search failed: %w", err)
		}
		semanticHits = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := search.Fuse(
		search.NormalizeKeywordScores(keywordHits),
		search.NormalizeSemanticScores(semanticHits),
		search.DefaultKeywordWeight,
		search.DefaultSemanticWeight,
	)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.SimilarResult, 0, topK)
	for _, f := range fused {
		if len(out) >= topK {
			break
		}
		obs, err := e.store.GetObservation(ctx, f.ID)
		if err != nil {
			continue
		}
		r := resultFor(obs, f.Score)
		r.KeywordScore = f.KeywordScore
		r.SemanticScore = f.SemanticScore
		out = append(out, r)
	}
	return out, nil
}
