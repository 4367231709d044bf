// Package storage defines the persistence interface for observations and projects.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/tabwise/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateURL is returned when an observation with the same URL already exists.
	ErrDuplicateURL = errors.New("observation url already exists")
	// ErrDuplicateProjectName is returned when a project with the same name already exists.
	ErrDuplicateProjectName = errors.New("project name already exists")
)

// Storage defines observation and project persistence operations.
type Storage interface {
	// Observation operations
	CreateObservation(ctx context.Context, obs *models.Observation) error
	GetObservation(ctx context.Context, id int64) (*models.Observation, error)
	GetObservationByURL(ctx context.Context, url string) (*models.Observation, error)
	ListObservations(ctx context.Context, offset, limit int) ([]*models.Observation, error)
	ListObservationsWithVectors(ctx context.Context) ([]*models.Observation, error)
	ListAssignedWithVectors(ctx context.Context) ([]*models.Observation, error)
	ListByProject(ctx context.Context, projectID int64) ([]*models.Observation, error)
	ListExpired(ctx context.Context, before time.Time) ([]*models.Observation, error)
	UpdateObservationProject(ctx context.Context, id int64, projectID *int64) error
	DeleteObservation(ctx context.Context, id int64) error

	// Project operations
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id int64) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)

	// Stats
	CountObservations(ctx context.Context) (int64, error)
	CountProjects(ctx context.Context) (int64, error)

	Close() error
}
