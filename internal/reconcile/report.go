package reconcile

import (
	"fmt"
	"time"
)

// Outcome is the terminal state of one tab in a cycle.
type Outcome string

const (
	OutcomeCommitted          Outcome = "committed"
	OutcomeSkippedDuplicate   Outcome = "skipped-duplicate"
	OutcomeSkippedInvalid     Outcome = "skipped-invalid"
	OutcomeSkippedEmbedFailed Outcome = "skipped-embed-failed"
	OutcomeSkippedCollision   Outcome = "skipped-collision"
	// OutcomeFailed covers store or index errors; the tab is retried next cycle.
	OutcomeFailed Outcome = "failed"
)

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	CycleID     string          `json:"cycle_id"`
	StartedAt   time.Time       `json:"started_at"`
	DurationMS  int64           `json:"duration_ms"`
	Tabs        int             `json:"tabs"`
	Outcomes    map[Outcome]int `json:"outcomes"`
	SourceError string          `json:"source_error,omitempty"`
}

func newCycleReport(id string, started time.Time) *CycleReport {
	return &CycleReport{
		CycleID:   id,
		StartedAt: started,
		Outcomes:  make(map[Outcome]int),
	}
}

func (r *CycleReport) add(o Outcome) {
	r.Outcomes[o]++
}

// String formats the report for logs and the CLI.
func (r *CycleReport) String() string {
	return fmt.Sprintf("cycle %s: %d tabs, %d committed, %d duplicate, %d invalid, %d embed-failed, %d collision, %d failed",
		r.CycleID, r.Tabs,
		r.Outcomes[OutcomeCommitted],
		r.Outcomes[OutcomeSkippedDuplicate],
		r.Outcomes[OutcomeSkippedInvalid],
		r.Outcomes[OutcomeSkippedEmbedFailed],
		r.Outcomes[OutcomeSkippedCollision],
		r.Outcomes[OutcomeFailed])
}
