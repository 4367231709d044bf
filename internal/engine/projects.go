package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/models"
)

// projectText is the text embedded as a project's routing vector.
func projectText(name, description string) string {
	return strings.TrimSpace(name + " " + description)
}

// CreateProject stores a new project with its routing vector. If embedding fails the project
// is stored without a vector and is skipped by routing.
func (e *Engine) CreateProject(ctx context.Context, in *models.ProjectInput) (*models.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("project name cannot be empty")
	}
	p := &models.Project{Name: name, Description: strings.TrimSpace(in.Description)}

	vec, err := e.embedder.Embed(ctx, projectText(p.Name, p.Description))
	switch {
	case err != nil:
		e.logger.Warn("creating project without routing vector", zap.String("name", name), zap.Error(err))
	case len(vec) != e.index.Dimensions():
		e.logger.Warn("creating project without routing vector",
			zap.String("name", name),
			zap.Int("dimensions", len(vec)))
	default:
		p.Vector = vec
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	e.logger.Info("project created", zap.Int64("id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// GetProject returns a project by id.
func (e *Engine) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetProject(ctx, id)
}

// ListProjects returns all projects ordered by id.
func (e *Engine) ListProjects(ctx context.Context) ([]*models.Project, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.ListProjects(ctx)
}

// ProjectResearch returns a project together with its observations, newest first.
func (e *Engine) ProjectResearch(ctx context.Context, id int64) (*models.ProjectResearch, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, err := e.store.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	obs, err := e.store.ListByProject(ctx, id)
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = []*models.Observation{}
	}
	return &models.ProjectResearch{Project: p, Observations: obs}, nil
}
