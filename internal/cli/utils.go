// Package cli provides CLI output helpers for tabwise.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hyperjump/tabwise/internal/engine"
	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/reconcile"
	"github.com/hyperjump/tabwise/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (%s)\n\n", response.Total, response.QueryTime, modeLabel(response.Mode))
	for i, result := range response.Results {
		writeOneResult(w, i+1, result, response.Mode == models.ModeHybrid)
	}
	return nil
}

func modeLabel(m models.SearchMode) string {
	if m == "" {
		return string(models.ModeSemantic)
	}
	return string(m)
}

func writeOneResult(w io.Writer, rank int, result *models.SimilarResult, hybrid bool) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	if hybrid {
		fmt.Fprintf(w, "Rank: %d | Score: %.4f (Keyword: %.4f, Semantic: %.4f)\n",
			rank, result.Score, result.KeywordScore, result.SemanticScore)
	} else {
		fmt.Fprintf(w, "Rank: %d | Score: %.4f\n", rank, result.Score)
	}
	fmt.Fprintf(w, "ID: %d\n", result.ID)
	fmt.Fprintf(w, "Title: %s\n", Truncate(result.Title, 120))
	fmt.Fprintf(w, "URL: %s\n", result.URL)
	if result.ProjectID != nil {
		fmt.Fprintf(w, "Project: %d\n", *result.ProjectID)
	}
	fmt.Fprintln(w)
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// WriteAssignment writes a routing or merge result. label names the matcher.
func WriteAssignment(w io.Writer, label string, a *models.Assignment, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, a)
	}
	if a == nil || a.ProjectID == nil {
		fmt.Fprintf(w, "%s: no match\n", label)
		return nil
	}
	fmt.Fprintf(w, "%s: project %d (score %.4f)\n", label, *a.ProjectID, a.Score)
	return nil
}

// WriteProjects writes a project list.
func WriteProjects(w io.Writer, projects []*models.Project, format OutputFormat) error {
	if format == OutputJSON {
		if projects == nil {
			projects = []*models.Project{}
		}
		return writeJSON(w, projects)
	}
	if len(projects) == 0 {
		fmt.Fprintln(w, "No projects.")
		return nil
	}
	for _, p := range projects {
		if p.Description != "" {
			fmt.Fprintf(w, "%6d  %s - %s\n", p.ID, p.Name, TruncateWords(p.Description, 12))
		} else {
			fmt.Fprintf(w, "%6d  %s\n", p.ID, p.Name)
		}
	}
	return nil
}

// WriteCycleReport writes the summary of one reconciliation cycle.
func WriteCycleReport(w io.Writer, r *reconcile.CycleReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, r)
	}
	fmt.Fprintln(w, r.String())
	if r.SourceError != "" {
		fmt.Fprintf(w, "tab source error: %s\n", r.SourceError)
	}
	return nil
}

// WriteStatus writes engine counts.
func WriteStatus(w io.Writer, st *engine.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintf(w, "Observations:    %d\n", st.Observations)
	fmt.Fprintf(w, "Projects:        %d\n", st.Projects)
	fmt.Fprintf(w, "Indexed vectors: %d (%s, %d dims)\n", st.IndexedVectors, st.IndexType, st.Dimensions)
	if st.KeywordEnabled {
		fmt.Fprintf(w, "Keyword docs:    %d\n", st.KeywordDocs)
	} else {
		fmt.Fprintln(w, "Keyword docs:    disabled")
	}
	return nil
}

// WriteConsistency writes a consistency report.
func WriteConsistency(w io.Writer, r *engine.ConsistencyReport, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, struct {
			OK     bool                      `json:"ok"`
			Report *engine.ConsistencyReport `json:"report"`
		}{r.OK(), r})
	}
	if r.OK() {
		fmt.Fprintf(w, "consistent: %d stored vectors, %d indexed\n", r.StoredVectors, r.IndexedVectors)
		return nil
	}
	fmt.Fprintf(w, "INCONSISTENT: %d stored vectors, %d indexed\n", r.StoredVectors, r.IndexedVectors)
	fmt.Fprintf(w, "  missing:    %v\n", r.Missing)
	fmt.Fprintf(w, "  orphans:    %v\n", r.Orphans)
	fmt.Fprintf(w, "  mismatched: %v\n", r.Mismatched)
	return nil
}

// Truncate truncates s to maxLen and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}

// TruncateWords returns up to maxWords from the space-separated string.
func TruncateWords(s string, maxWords int) string {
	words := strings.Fields(s)
	if len(words) <= maxWords {
		return s
	}
	return strings.Join(words[:maxWords], " ") + "..."
}
