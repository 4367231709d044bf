package engine

import (
	"context"

	"github.com/hyperjump/tabwise/internal/identity"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/similarity"
)

// RouteToProject embeds the tab and matches it against one routing vector per project
// using the routing threshold. A nil ProjectID means no project scored high enough.
// Projects without a vector of the current dimension are not candidates.
func (e *Engine) RouteToProject(ctx context.Context, title, url string) (*models.Assignment, error) {
	vec, err := e.Embed(ctx, title, url)
	if err != nil {
		return nil, err
	}
	return e.RouteVector(ctx, vec)
}

// RouteVector is RouteToProject for an already embedded tab.
func (e *Engine) RouteVector(ctx context.Context, vec []float32) (*models.Assignment, error) {
	e.mu.RLock()
	projects, err := e.store.ListProjects(ctx)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	pool := make([]similarity.Candidate, 0, len(projects))
	for _, p := range projects {
		if len(p.Vector) != len(vec) {
			continue
		}
		pool = append(pool, similarity.Candidate{Key: p.ID, ProjectID: p.ID, Vector: p.Vector})
	}
	return classify(ctx, vec, pool, e.routing)
}

// SuggestMerge embeds the tab and matches it against every observation already assigned to a
// project using the overlap threshold. The tab's own stored row, if any, is not a candidate.
func (e *Engine) SuggestMerge(ctx context.Context, title, url string) (*models.Assignment, error) {
	vec, err := e.Embed(ctx, title, url)
	if err != nil {
		return nil, err
	}
	return e.SuggestMergeVector(ctx, identity.DeriveID(url), vec)
}

// SuggestMergeVector is SuggestMerge for an already embedded tab whose id is self.
func (e *Engine) SuggestMergeVector(ctx context.Context, self int64, vec []float32) (*models.Assignment, error) {
	e.mu.RLock()
	assigned, err := e.store.ListAssignedWithVectors(ctx)
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	pool := make([]similarity.Candidate, 0, len(assigned))
	for _, o := range assigned {
		if o.ID == self || len(o.Vector) != len(vec) {
			continue
		}
		pool = append(pool, similarity.Candidate{Key: o.ID, ProjectID: *o.ProjectID, Vector: o.Vector})
	}
	return classify(ctx, vec, pool, e.overlap)
}

func classify(ctx context.Context, vec []float32, pool []similarity.Candidate, threshold similarity.Score) (*models.Assignment, error) {
	m, ok, err := similarity.Classify(ctx, vec, pool, threshold)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.Assignment{}, nil
	}
	pid := m.ProjectID
	return &models.Assignment{ProjectID: &pid, Score: float64(m.Score)}, nil
}
