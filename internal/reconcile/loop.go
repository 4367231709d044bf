// Package reconcile runs the background pass that turns open tabs into stored observations.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/tabwise/internal/engine"
	"github.com/hyperjump/tabwise/internal/identity"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/prompt"
	"github.com/hyperjump/tabwise/internal/storage"
	"github.com/hyperjump/tabwise/internal/tabs"
)

// DefaultInterval is the wait between cycles.
const DefaultInterval = 5 * time.Minute

// ErrRunning is returned by Start when the loop is already running.
var ErrRunning = errors.New("reconcile loop already running")

// Engine is the subset of engine.Engine the loop needs.
type Engine interface {
	Lookup(ctx context.Context, url string) (*models.Observation, error)
	Embed(ctx context.Context, title, url string) ([]float32, error)
	SuggestMergeVector(ctx context.Context, self int64, vec []float32) (*models.Assignment, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
	Commit(ctx context.Context, obs *models.Observation) error
}

// Loop periodically reconciles open tabs with the store. Concurrent RunCycle calls share
// one in-flight cycle.
type Loop struct {
	engine        Engine
	source        tabs.Source
	prompter      prompt.Prompter
	interval      time.Duration
	promptTimeout time.Duration
	now           func() time.Time
	logger        *zap.Logger

	group   singleflight.Group
	trigger chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   *CycleReport
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// WithPrompter sets the manual assignment prompter. Default never chooses.
func WithPrompter(p prompt.Prompter) Option {
	return func(lp *Loop) {
		if p != nil {
			lp.prompter = p
		}
	}
}

// WithInterval sets the wait between cycles.
func WithInterval(d time.Duration) Option {
	return func(lp *Loop) {
		if d > 0 {
			lp.interval = d
		}
	}
}

// WithPromptTimeout bounds each manual prompt.
func WithPromptTimeout(d time.Duration) Option {
	return func(lp *Loop) {
		if d > 0 {
			lp.promptTimeout = d
		}
	}
}

// WithClock sets the time source for observation timestamps.
func WithClock(now func() time.Time) Option {
	return func(lp *Loop) { lp.now = now }
}

// New returns a stopped loop reading tabs from source.
func New(eng Engine, source tabs.Source, opts ...Option) *Loop {
	lp := &Loop{
		engine:        eng,
		source:        source,
		prompter:      prompt.Noop{},
		interval:      DefaultInterval,
		promptTimeout: prompt.DefaultTimeout,
		now:           time.Now,
		logger:        zap.NewNop(),
		trigger:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Start runs a cycle immediately and then one per interval or per Trigger, until ctx is
// cancelled or Stop is called. Cancellation is honored between cycles only.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
	l.logger.Info("reconcile loop started", zap.Duration("interval", l.interval))
	return nil
}

func (l *Loop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		if l.done == done {
			l.cancel()
			l.cancel, l.done = nil, nil
		}
		l.mu.Unlock()
		close(done)
	}()
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-l.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}
		if _, err := l.RunCycle(ctx); err != nil {
			l.logger.Error("reconcile cycle failed", zap.Error(err))
		}
		timer.Reset(l.interval)
	}
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("reconcile loop stopped")
}

// Trigger requests an early cycle. It never blocks; triggers coalesce.
func (l *Loop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// LastReport returns the report of the most recent completed cycle, or nil.
func (l *Loop) LastReport() *CycleReport {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// RunCycle runs one reconciliation cycle, or waits for and shares the one in flight.
// The cycle keeps ctx values but not its cancellation, since other callers may join it.
func (l *Loop) RunCycle(ctx context.Context) (*CycleReport, error) {
	cycleCtx := context.WithoutCancel(ctx)
	v, err, shared := l.group.Do("cycle", func() (interface{}, error) {
		return l.runCycle(cycleCtx)
	})
	if err != nil {
		return nil, err
	}
	report := v.(*CycleReport)
	if shared {
		l.logger.Debug("joined in-flight reconcile cycle", zap.String("cycle_id", report.CycleID))
	}
	return report, nil
}

func (l *Loop) runCycle(ctx context.Context) (*CycleReport, error) {
	start := time.Now()
	report := newCycleReport(uuid.New().String(), l.now())
	log := l.logger.With(zap.String("cycle_id", report.CycleID))
	defer func() {
		report.DurationMS = time.Since(start).Milliseconds()
		l.mu.Lock()
		l.last = report
		l.mu.Unlock()
	}()

	open, err := l.source.ListOpenTabs(ctx)
	if err != nil {
		log.Warn("tab source failed, ending cycle", zap.Error(err))
		report.SourceError = err.Error()
		return report, nil
	}
	report.Tabs = len(open)
	if len(open) == 0 {
		log.Debug("no open tabs")
		return report, nil
	}

	projects := &projectCache{list: l.engine.ListProjects, log: log}
	for _, tab := range open {
		outcome := l.processTab(ctx, log, tab, projects)
		report.add(outcome)
	}
	log.Info("reconcile cycle finished",
		zap.Int("tabs", report.Tabs),
		zap.Int("committed", report.Outcomes[OutcomeCommitted]),
		zap.Int("duplicates", report.Outcomes[OutcomeSkippedDuplicate]),
		zap.Int("embed_failed", report.Outcomes[OutcomeSkippedEmbedFailed]))
	return report, nil
}

// processTab takes one tab to a terminal outcome.
func (l *Loop) processTab(ctx context.Context, log *zap.Logger, tab models.Tab, projects *projectCache) Outcome {
	title := strings.TrimSpace(tab.Title)
	url := identity.Canonical(tab.URL)
	if title == "" || url == "" {
		return OutcomeSkippedInvalid
	}
	log = log.With(zap.String("url", url))

	existing, err := l.engine.Lookup(ctx, url)
	switch {
	case errors.Is(err, engine.ErrIDCollision):
		log.Error("observation id collision", zap.Error(err))
		return OutcomeSkippedCollision
	case err != nil:
		log.Warn("lookup failed", zap.Error(err))
		return OutcomeFailed
	case existing != nil:
		return OutcomeSkippedDuplicate
	}

	vec, err := l.engine.Embed(ctx, title, url)
	if err != nil {
		log.Warn("embedding failed, retrying next cycle", zap.Error(err))
		return OutcomeSkippedEmbedFailed
	}

	projectID := l.manualChoice(ctx, log, models.Tab{Title: title, URL: url}, projects)
	merge, err := l.engine.SuggestMergeVector(ctx, identity.DeriveID(url), vec)
	if err != nil {
		log.Warn("overlap match failed", zap.Error(err))
	} else if merge.ProjectID != nil && (projectID == nil || *projectID != *merge.ProjectID) {
		if projectID != nil {
			log.Info("overlap match overrides manual choice",
				zap.Int64("manual", *projectID),
				zap.Int64("overlap", *merge.ProjectID),
				zap.Float64("score", merge.Score))
		}
		projectID = merge.ProjectID
	}

	obs := &models.Observation{
		Title:     title,
		URL:       url,
		ProjectID: projectID,
		Timestamp: l.now(),
		Vector:    vec,
	}
	err = l.engine.Commit(ctx, obs)
	switch {
	case errors.Is(err, storage.ErrDuplicateURL):
		return OutcomeSkippedDuplicate
	case errors.Is(err, engine.ErrIDCollision):
		log.Error("observation id collision", zap.Error(err))
		return OutcomeSkippedCollision
	case err != nil:
		log.Error("commit failed", zap.Error(err))
		return OutcomeFailed
	}
	log.Debug("observation committed", zap.Int64("id", obs.ID))
	return OutcomeCommitted
}

func (l *Loop) manualChoice(ctx context.Context, log *zap.Logger, tab models.Tab, projects *projectCache) *int64 {
	if _, ok := l.prompter.(prompt.Noop); ok {
		return nil
	}
	pctx, cancel := context.WithTimeout(ctx, l.promptTimeout)
	defer cancel()
	id, err := l.prompter.Choose(pctx, tab, projects.get(ctx))
	if err != nil {
		log.Warn("manual prompt failed", zap.Error(err))
		return nil
	}
	if id != nil && !projects.has(*id) {
		// The prompt created a project; later tabs in this cycle must see it.
		projects.reset()
	}
	return id
}

// projectCache loads the project list at most once per cycle, on first prompt.
type projectCache struct {
	list   func(ctx context.Context) ([]*models.Project, error)
	log    *zap.Logger
	items  []*models.Project
	loaded bool
}

func (c *projectCache) get(ctx context.Context) []*models.Project {
	if !c.loaded {
		c.loaded = true
		items, err := c.list(ctx)
		if err != nil {
			c.log.Warn("failed to list projects for prompt", zap.Error(err))
		}
		c.items = items
	}
	return c.items
}

func (c *projectCache) has(id int64) bool {
	for _, p := range c.items {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (c *projectCache) reset() {
	c.loaded = false
	c.items = nil
}
