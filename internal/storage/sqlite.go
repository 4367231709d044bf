package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tabwise/internal/models"
	"github.com/hyperjump/tabwise/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT UNIQUE NOT NULL,
		description TEXT,
		vector BLOB,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS observations (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		url TEXT UNIQUE NOT NULL,
		project_id INTEGER NULL REFERENCES projects(id),
		timestamp TIMESTAMP NOT NULL,
		vector BLOB NULL
	);

	CREATE INDEX IF NOT EXISTS idx_observations_project_id ON observations(project_id);
	CREATE INDEX IF NOT EXISTS idx_observations_timestamp ON observations(timestamp);
	`
	_, err := db.Exec(schema)
	return err
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func encodeNullableVector(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return vector.EncodeVector(v)
}

func decodeNullableVector(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, nil
	}
	return vector.DecodeVector(b)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const observationColumns = `id, title, url, project_id, timestamp, vector`

func scanObservation(row rowScanner) (*models.Observation, error) {
	var obs models.Observation
	var projectID sql.NullInt64
	var blob []byte
	if err := row.Scan(&obs.ID, &obs.Title, &obs.URL, &projectID, &obs.Timestamp, &blob); err != nil {
		return nil, err
	}
	if projectID.Valid {
		pid := projectID.Int64
		obs.ProjectID = &pid
	}
	vec, err := decodeNullableVector(blob)
	if err != nil {
		return nil, fmt.Errorf("observation %d: %w", obs.ID, err)
	}
	obs.Vector = vec
	return &obs, nil
}

func (s *SQLiteStorage) queryObservations(ctx context.Context, query string, args ...interface{}) ([]*models.Observation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Observation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obs)
	}
	return out, rows.Err()
}

// CreateObservation inserts an observation. A zero Timestamp is set to now.
// Returns ErrDuplicateURL when the url or id already exists.
func (s *SQLiteStorage) CreateObservation(ctx context.Context, obs *models.Observation) error {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}
	// Stored as UTC text so timestamp comparisons in SQL order correctly.
	obs.Timestamp = obs.Timestamp.UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO observations (id, title, url, project_id, timestamp, vector)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.Title, obs.URL, obs.ProjectID, obs.Timestamp, encodeNullableVector(obs.Vector),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateURL, obs.URL)
	}
	return err
}

// GetObservation returns an observation by id.
func (s *SQLiteStorage) GetObservation(ctx context.Context, id int64) (*models.Observation, error) {
	obs, err := scanObservation(s.db.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("observation %d: %w", id, ErrNotFound)
	}
	return obs, err
}

// GetObservationByURL returns an observation by its url.
func (s *SQLiteStorage) GetObservationByURL(ctx context.Context, url string) (*models.Observation, error) {
	obs, err := scanObservation(s.db.QueryRowContext(ctx,
		`SELECT `+observationColumns+` FROM observations WHERE url = ?`, url))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("observation %q: %w", url, ErrNotFound)
	}
	return obs, err
}

// ListObservations returns observations newest first with offset and limit.
// A limit <= 0 returns every row after offset.
func (s *SQLiteStorage) ListObservations(ctx context.Context, offset, limit int) ([]*models.Observation, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations
		 ORDER BY timestamp DESC, id LIMIT ? OFFSET ?`, limit, offset)
}

// ListObservationsWithVectors returns every observation that has a vector, ordered by id.
func (s *SQLiteStorage) ListObservationsWithVectors(ctx context.Context) ([]*models.Observation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE vector IS NOT NULL ORDER BY id`)
}

// ListAssignedWithVectors returns observations that belong to a project and have a vector.
func (s *SQLiteStorage) ListAssignedWithVectors(ctx context.Context) ([]*models.Observation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE project_id IS NOT NULL AND vector IS NOT NULL ORDER BY id`)
}

// ListByProject returns a project's observations, newest first.
func (s *SQLiteStorage) ListByProject(ctx context.Context, projectID int64) ([]*models.Observation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE project_id = ? ORDER BY timestamp DESC, id`, projectID)
}

// ListExpired returns observations whose timestamp is strictly before the cutoff.
func (s *SQLiteStorage) ListExpired(ctx context.Context, before time.Time) ([]*models.Observation, error) {
	return s.queryObservations(ctx,
		`SELECT `+observationColumns+` FROM observations
		 WHERE timestamp < ? ORDER BY id`, before.UTC())
}

// UpdateObservationProject sets or clears an observation's project.
func (s *SQLiteStorage) UpdateObservationProject(ctx context.Context, id int64, projectID *int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE observations SET project_id = ? WHERE id = ?`, projectID, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("observation %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteObservation removes an observation by id.
func (s *SQLiteStorage) DeleteObservation(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM observations WHERE id = ?`, id)
	return err
}

// CreateProject inserts a project and sets its ID and CreatedAt.
// Returns ErrDuplicateProjectName when the name is taken.
func (s *SQLiteStorage) CreateProject(ctx context.Context, p *models.Project) error {
	p.CreatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (name, description, vector, created_at) VALUES (?, ?, ?, ?)`,
		p.Name, p.Description, encodeNullableVector(p.Vector), p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateProjectName, p.Name)
	}
	if err != nil {
		return err
	}
	p.ID, err = result.LastInsertId()
	return err
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	var desc sql.NullString
	var blob []byte
	if err := row.Scan(&p.ID, &p.Name, &desc, &blob, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Description = desc.String
	vec, err := decodeNullableVector(blob)
	if err != nil {
		return nil, fmt.Errorf("project %d: %w", p.ID, err)
	}
	p.Vector = vec
	return &p, nil
}

// GetProject returns a project by id.
func (s *SQLiteStorage) GetProject(ctx context.Context, id int64) (*models.Project, error) {
	p, err := scanProject(s.db.QueryRowContext(ctx,
		`SELECT id, name, description, vector, created_at FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	return p, err
}

// ListProjects returns all projects ordered by id.
func (s *SQLiteStorage) ListProjects(ctx context.Context) ([]*models.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, vector, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CountObservations returns the total number of observations.
func (s *SQLiteStorage) CountObservations(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&count)
	return count, err
}

// CountProjects returns the total number of projects.
func (s *SQLiteStorage) CountProjects(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
