// Package engine owns the metadata store, the vector index and the keyword index, and keeps
// them consistent. Every store+index mutation pair runs under one write lock; readers take the
// read lock and so never see a row without its vector entry. Embedding happens before the lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/embedding"
	"github.com/hyperjump/tabwise/internal/identity"
	"github.com/hyperjump/tabwise/internal/keyword"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/similarity"
	"github.com/hyperjump/tabwise/internal/storage"
	"github.com/hyperjump/tabwise/internal/vector"
)

var (
	// ErrIDCollision is returned when two distinct URLs derive the same id.
	ErrIDCollision = errors.New("observation id collision")
	// ErrInvariantViolation is returned when the vector index and the store disagree.
	ErrInvariantViolation = errors.New("index/store invariant violation")
)

// Engine serializes access to the store and its index mirrors.
type Engine struct {
	mu           sync.RWMutex
	store        storage.Storage
	index        vector.VectorIndex
	keywordIndex keyword.KeywordIndex
	embedder     embedding.Embedder
	routing      similarity.Score
	overlap      similarity.Score
	now          func() time.Time
	logger       *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithKeywordIndex enables keyword and hybrid search.
func WithKeywordIndex(k keyword.KeywordIndex) Option {
	return func(e *Engine) { e.keywordIndex = k }
}

// WithThresholds overrides the routing and overlap thresholds. Zero keeps the default.
func WithThresholds(routing, overlap float64) Option {
	return func(e *Engine) {
		if routing != 0 {
			e.routing = similarity.Score(routing)
		}
		if overlap != 0 {
			e.overlap = similarity.Score(overlap)
		}
	}
}

// WithClock sets the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an engine over store and index. The embedder's dimension must match the index.
func New(store storage.Storage, index vector.VectorIndex, embedder embedding.Embedder, opts ...Option) (*Engine, error) {
	if embedder.Dimensions() != index.Dimensions() {
		return nil, fmt.Errorf("embedder dimension %d does not match vector index dimension %d",
			embedder.Dimensions(), index.Dimensions())
	}
	e := &Engine{
		store:    store,
		index:    index,
		embedder: embedder,
		routing:  similarity.RoutingThreshold,
		overlap:  similarity.OverlapThreshold,
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns the vector for an observation's title and URL.
func (e *Engine) Embed(ctx context.Context, title, url string) ([]float32, error) {
	vec, err := e.embedder.Embed(ctx, models.EmbeddingText(title, url))
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(vec) != e.index.Dimensions() {
		return nil, fmt.Errorf("embedding failed: %w: got %d, expected %d",
			vector.ErrDimensionMismatch, len(vec), e.index.Dimensions())
	}
	return vec, nil
}

// Lookup returns the stored observation for url, or nil when there is none.
// Returns ErrIDCollision when the id is taken by a different URL.
func (e *Engine) Lookup(ctx context.Context, url string) (*models.Observation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lookupLocked(ctx, url)
}

func (e *Engine) lookupLocked(ctx context.Context, url string) (*models.Observation, error) {
	canonical := identity.Canonical(url)
	obs, err := e.store.GetObservation(ctx, identity.DeriveID(canonical))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if obs.URL != canonical {
		return nil, collisionError(obs.ID, obs.URL, canonical)
	}
	return obs, nil
}

func collisionError(id int64, stored, incoming string) error {
	return fmt.Errorf("%w: id %d is held by %q, cannot store %q", ErrIDCollision, id, stored, incoming)
}

// Commit writes obs to the store and, when it has a vector, to the vector index under the same
// id. The id is derived from obs.URL. An unknown obs.ProjectID yields storage.ErrNotFound.
// If the store rejects the row the index is not touched;
// if the index insert fails the row is removed again.
func (e *Engine) Commit(ctx context.Context, obs *models.Observation) error {
	obs.URL = identity.Canonical(obs.URL)
	obs.ID = identity.DeriveID(obs.URL)
	if obs.HasVector() && len(obs.Vector) != e.index.Dimensions() {
		return fmt.Errorf("observation %d: %w", obs.ID, vector.ErrDimensionMismatch)
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = e.now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if obs.ProjectID != nil {
		if _, err := e.store.GetProject(ctx, *obs.ProjectID); err != nil {
			return err
		}
	}
	if err := e.store.CreateObservation(ctx, obs); err != nil {
		if errors.Is(err, storage.ErrDuplicateURL) {
			if existing, getErr := e.store.GetObservation(ctx, obs.ID); getErr == nil && existing.URL != obs.URL {
				return collisionError(obs.ID, existing.URL, obs.URL)
			}
			return err
		}
		return fmt.Errorf("failed to store observation: %w", err)
	}
	if obs.HasVector() {
		if err := e.index.Insert(ctx, obs.ID, obs.Vector); err != nil {
			if delErr := e.store.DeleteObservation(ctx, obs.ID); delErr != nil {
				e.logger.Error("rollback after index insert failed",
					zap.Int64("id", obs.ID), zap.Error(delErr))
				return fmt.Errorf("%w: row %d kept without vector entry: %v", ErrInvariantViolation, obs.ID, err)
			}
			return fmt.Errorf("failed to index vector: %w", err)
		}
	}
	if e.keywordIndex != nil {
		if err := e.keywordIndex.Index(ctx, obs); err != nil {
			e.logger.Warn("keyword index failed", zap.Int64("id", obs.ID), zap.Error(err))
		}
	}
	e.logger.Debug("observation committed",
		zap.Int64("id", obs.ID),
		zap.String("url", obs.URL),
		zap.Bool("vector", obs.HasVector()))
	return nil
}

// SaveObservation stores a tab unless its URL is already stored. An embedding failure
// still stores the row, without a vector.
func (e *Engine) SaveObservation(ctx context.Context, req *models.SaveRequest) (*models.SaveResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	existing, err := e.Lookup(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &models.SaveResult{Status: models.StatusAlreadyExists, ID: existing.ID}, nil
	}

	obs := &models.Observation{Title: req.Title, URL: req.URL, ProjectID: req.ProjectID}
	if req.Timestamp != nil {
		obs.Timestamp = *req.Timestamp
	}
	vec, err := e.Embed(ctx, req.Title, req.URL)
	if err != nil {
		e.logger.Warn("saving observation without vector", zap.String("url", req.URL), zap.Error(err))
	} else {
		obs.Vector = vec
	}

	err = e.Commit(ctx, obs)
	if errors.Is(err, storage.ErrDuplicateURL) {
		return &models.SaveResult{Status: models.StatusAlreadyExists, ID: obs.ID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &models.SaveResult{Status: models.StatusCreated, ID: obs.ID}, nil
}

// GetObservation returns an observation by id.
func (e *Engine) GetObservation(ctx context.Context, id int64) (*models.Observation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.GetObservation(ctx, id)
}

// AssignProject sets or clears the project of an observation. The vector index is unaffected.
func (e *Engine) AssignProject(ctx context.Context, obsID int64, projectID *int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if projectID != nil {
		if _, err := e.store.GetProject(ctx, *projectID); err != nil {
			return err
		}
	}
	return e.store.UpdateObservationProject(ctx, obsID, projectID)
}

// SweepExpired removes observations older than ttl relative to the engine clock.
func (e *Engine) SweepExpired(ctx context.Context, ttl time.Duration) (int, error) {
	return e.Sweep(ctx, e.now(), ttl)
}

// Sweep removes every observation with now - timestamp > ttl from the store, the vector
// index and the keyword index. Returns how many were removed.
func (e *Engine) Sweep(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl)

	e.mu.Lock()
	defer e.mu.Unlock()

	expired, err := e.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired observations: %w", err)
	}
	removed := 0
	for _, obs := range expired {
		if err := e.store.DeleteObservation(ctx, obs.ID); err != nil {
			return removed, fmt.Errorf("failed to delete observation %d: %w", obs.ID, err)
		}
		if err := e.index.Delete(ctx, obs.ID); err != nil {
			return removed, fmt.Errorf("%w: row %d deleted but vector kept: %v", ErrInvariantViolation, obs.ID, err)
		}
		if e.keywordIndex != nil {
			if err := e.keywordIndex.Delete(ctx, obs.ID); err != nil {
				e.logger.Warn("keyword delete failed", zap.Int64("id", obs.ID), zap.Error(err))
			}
		}
		removed++
	}
	if removed > 0 {
		e.logger.Info("expired observations swept",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Status summarizes the engine state.
type Status struct {
	Observations   int64  `json:"observations"`
	Projects       int64  `json:"projects"`
	IndexedVectors int    `json:"indexed_vectors"`
	KeywordDocs    uint64 `json:"keyword_docs"`
	IndexType      string `json:"index_type"`
	Dimensions     int    `json:"dimensions"`
	KeywordEnabled bool   `json:"keyword_enabled"`
}

// Status returns counts for the store and both indices.
func (e *Engine) Status(ctx context.Context) (*Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	obsCount, err := e.store.CountObservations(ctx)
	if err != nil {
		return nil, err
	}
	projCount, err := e.store.CountProjects(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{
		Observations:   obsCount,
		Projects:       projCount,
		IndexedVectors: e.index.Size(),
		IndexType:      e.index.Type(),
		Dimensions:     e.index.Dimensions(),
		KeywordEnabled: e.keywordIndex != nil,
	}
	if e.keywordIndex != nil {
		if n, err := e.keywordIndex.DocCount(); err == nil {
			st.KeywordDocs = n
		}
	}
	return st, nil
}
