// Package models defines core data structures for observations, projects, queries, and results.
package models

import "time"

// Observation is one recorded browser tab / research item.
type Observation struct {
	ID        int64     `json:"id" db:"id"`
	Title     string    `json:"title" db:"title"`
	URL       string    `json:"url" db:"url"`
	ProjectID *int64    `json:"project_id,omitempty" db:"project_id"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Vector    []float32 `json:"-" db:"vector"`
}

// HasVector reports whether the observation carries an embedding.
func (o *Observation) HasVector() bool {
	return len(o.Vector) > 0
}

// EmbeddingText returns the text embedded for the observation.
func EmbeddingText(title, url string) string {
	return title + " " + url
}

// Project is a named grouping of observations.
type Project struct {
	ID          int64     `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	Vector      []float32 `json:"-" db:"vector"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Tab is one open browser tab as reported by a tab source.
type Tab struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ProjectInput is the input for creating a project.
type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ProjectResearch is a project with the observations assigned to it.
type ProjectResearch struct {
	Project      *Project       `json:"project"`
	Observations []*Observation `json:"research_items"`
}
