package engine

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/hyperjump/tabwise/internal/vector"
)

// ConsistencyReport lists every disagreement between the store and the vector index.
type ConsistencyReport struct {
	StoredVectors  int `json:"stored_vectors"`
	IndexedVectors int `json:"indexed_vectors"`
	// Missing are rows with a vector but no index entry.
	Missing []int64 `json:"missing"`
	// Orphans are index entries without a row that has a vector.
	Orphans []int64 `json:"orphans"`
	// Mismatched are ids whose indexed vector is not bit-identical to the stored one.
	Mismatched []int64 `json:"mismatched"`
}

// OK reports whether the index mirrors the store exactly.
func (r *ConsistencyReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Orphans) == 0 && len(r.Mismatched) == 0
}

// CheckConsistency compares every stored vector with the index. It returns the report and,
// when they disagree, an error wrapping ErrInvariantViolation.
func (e *Engine) CheckConsistency(ctx context.Context) (*ConsistencyReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.checkLocked(ctx)
}

func (e *Engine) checkLocked(ctx context.Context) (*ConsistencyReport, error) {
	rows, err := e.store.ListObservationsWithVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored vectors: %w", err)
	}
	report := &ConsistencyReport{
		StoredVectors:  len(rows),
		IndexedVectors: e.index.Size(),
		Missing:        []int64{},
		Orphans:        []int64{},
		Mismatched:     []int64{},
	}
	stored := make(map[int64]struct{}, len(rows))
	for _, obs := range rows {
		stored[obs.ID] = struct{}{}
		indexed, ok := e.index.Get(obs.ID)
		if !ok {
			report.Missing = append(report.Missing, obs.ID)
			continue
		}
		if !vector.Equal(indexed, obs.Vector) {
			report.Mismatched = append(report.Mismatched, obs.ID)
		}
	}
	for _, id := range e.index.IDs() {
		if _, ok := stored[id]; !ok {
			report.Orphans = append(report.Orphans, id)
		}
	}
	if !report.OK() {
		return report, fmt.Errorf("%w: %d missing, %d orphaned, %d mismatched", ErrInvariantViolation,
			len(report.Missing), len(report.Orphans), len(report.Mismatched))
	}
	return report, nil
}

// Rebuild repopulates the vector index and the keyword index from the store.
func (e *Engine) Rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rebuildLocked(ctx)
}

func (e *Engine) rebuildLocked(ctx context.Context) error {
	rows, err := e.store.ListObservationsWithVectors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored vectors: %w", err)
	}
	e.index.Reset()
	for _, obs := range rows {
		if err := e.index.Insert(ctx, obs.ID, obs.Vector); err != nil {
			e.index.Reset()
			return fmt.Errorf("%w: cannot index stored vector %d: %v", ErrInvariantViolation, obs.ID, err)
		}
	}
	if err := e.rebuildKeywordLocked(ctx); err != nil {
		return err
	}
	e.logger.Info("indices rebuilt from store", zap.Int("vectors", len(rows)))
	return nil
}

func (e *Engine) rebuildKeywordLocked(ctx context.Context) error {
	if e.keywordIndex == nil {
		return nil
	}
	all, err := e.store.ListObservations(ctx, 0, 0)
	if err != nil {
		return fmt.Errorf("failed to list observations: %w", err)
	}
	if err := e.keywordIndex.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to clear keyword index: %w", err)
	}
	if len(all) == 0 {
		return nil
	}
	if err := e.keywordIndex.IndexBatch(ctx, all); err != nil {
		return fmt.Errorf("failed to rebuild keyword index: %w", err)
	}
	return nil
}

// Repair checks consistency and rebuilds when the check fails. It returns the report from
// before the repair.
func (e *Engine) Repair(ctx context.Context) (*ConsistencyReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	report, err := e.checkLocked(ctx)
	if report == nil {
		return nil, err
	}
	if report.OK() {
		return report, nil
	}
	e.logger.Error("index/store invariant violated, rebuilding",
		zap.Int("missing", len(report.Missing)),
		zap.Int("orphans", len(report.Orphans)),
		zap.Int("mismatched", len(report.Mismatched)))
	if err := e.rebuildLocked(ctx); err != nil {
		return report, err
	}
	return report, nil
}

// Start prepares the indices at process start. When snapshotPath holds a vector snapshot it is
// loaded and verified against the store; any error or disagreement falls back to a rebuild.
// The keyword index is rebuilt when its document count differs from the store.
func (e *Engine) Start(ctx context.Context, snapshotPath string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if snapshotPath == "" {
		return e.rebuildLocked(ctx)
	}
	if _, err := os.Stat(snapshotPath); err != nil {
		return e.rebuildLocked(ctx)
	}
	if err := e.index.Load(snapshotPath); err != nil {
		e.logger.Warn("vector snapshot unusable, rebuilding", zap.String("path", snapshotPath), zap.Error(err))
		return e.rebuildLocked(ctx)
	}
	if report, err := e.checkLocked(ctx); err != nil {
		if report != nil {
			e.logger.Error("vector snapshot disagrees with store, rebuilding",
				zap.Int("missing", len(report.Missing)),
				zap.Int("orphans", len(report.Orphans)),
				zap.Int("mismatched", len(report.Mismatched)))
		}
		return e.rebuildLocked(ctx)
	}
	e.logger.Info("vector snapshot loaded", zap.String("path", snapshotPath), zap.Int("vectors", e.index.Size()))
	return e.syncKeywordLocked(ctx)
}

func (e *Engine) syncKeywordLocked(ctx context.Context) error {
	if e.keywordIndex == nil {
		return nil
	}
	docs, err := e.keywordIndex.DocCount()
	if err != nil {
		return fmt.Errorf("failed to count keyword documents: %w", err)
	}
	rows, err := e.store.CountObservations(ctx)
	if err != nil {
		return err
	}
	if int64(docs) == rows {
		return nil
	}
	e.logger.Info("keyword index out of date, rebuilding", zap.Uint64("docs", docs), zap.Int64("rows", rows))
	return e.rebuildKeywordLocked(ctx)
}

// SaveSnapshot writes the vector index to path. An empty path is a no-op.
func (e *Engine) SaveSnapshot(path string) error {
	if path == "" {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.index.Save(path); err != nil {
		return fmt.Errorf("failed to save vector snapshot: %w", err)
	}
	return nil
}
