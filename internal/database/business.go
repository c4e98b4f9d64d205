package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/business-contact-scraper/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// StoredBusiness is a persisted record with its row metadata.
type StoredBusiness struct {
	ID            int64     `json:"id"`
	SearchQueryID string    `json:"search_query_id"`
	CreatedAt     time.Time `json:"created_at"`
	models.Business
}

// RunDetail is a run together with the records it produced.
type RunDetail struct {
	models.Run
	Businesses []StoredBusiness `json:"businesses"`
}

const businessColumns = `
	id, search_query_id, name, phone, email, address, tax_id,
	legal_representative, issue_date, status, website, description,
	rating, reviews_count, category, google_maps_url, latitude, longitude,
	source, created_at`

const runColumns = `id, keyword, location, source, status, total_results, error_message, created_at`

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// CreateRun stores a new run.
func (db *DB) CreateRun(ctx context.Context, run *models.Run) error {
	query := `
		INSERT INTO search_queries (id, keyword, location, source, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := db.pool.Exec(ctx, query,
		run.ID, run.Keyword, run.Location, string(run.Source), string(run.Status), run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (db *DB) MarkProcessing(ctx context.Context, runID string) error {
	return db.updateRunStatus(ctx, runID, models.RunProcessing, 0, "")
}

func (db *DB) CompleteRun(ctx context.Context, runID string, total int) error {
	return db.updateRunStatus(ctx, runID, models.RunCompleted, total, "")
}

func (db *DB) FailRun(ctx context.Context, runID, reason string) error {
	return db.updateRunStatus(ctx, runID, models.RunFailed, 0, reason)
}

func (db *DB) updateRunStatus(ctx context.Context, runID string, status models.RunStatus, total int, reason string) error {
	query := `
		UPDATE search_queries SET
			status = $2,
			total_results = $3,
			error_message = $4,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := db.pool.Exec(ctx, query, runID, string(status), total, reason)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// SaveBusiness stores one accepted record of a run.
func (db *DB) SaveBusiness(ctx context.Context, runID string, b models.Business) error {
	query := `
		INSERT INTO businesses (
			search_query_id, name, phone, email, address, tax_id,
			legal_representative, issue_date, status, website, description,
			rating, reviews_count, category, google_maps_url, latitude, longitude, source
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18
		)`

	_, err := db.pool.Exec(ctx, query,
		runID, b.Name, b.Phone, b.Email, b.Address, b.TaxID,
		b.LegalRepresentative, b.IssueDate, b.Status, b.Website, b.Description,
		b.Rating, b.ReviewsCount, b.Category, b.MapURL, b.Latitude, b.Longitude, string(b.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to save business: %w", err)
	}
	return nil
}

// GetRun returns a run and its records.
func (db *DB) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM search_queries WHERE id = $1`, id)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	businesses, err := db.queryBusinesses(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE search_query_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}

	return &RunDetail{Run: *run, Businesses: businesses}, nil
}

// ListRuns returns the most recent runs first.
func (db *DB) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM search_queries ORDER BY created_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []models.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return runs, nil
}

// DeleteRun removes a run; its records go with it.
func (db *DB) DeleteRun(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM search_queries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListBusinesses returns the newest records across all runs.
func (db *DB) ListBusinesses(ctx context.Context, limit int) ([]StoredBusiness, error) {
	return db.queryBusinesses(ctx,
		`SELECT `+businessColumns+` FROM businesses ORDER BY created_at DESC, id DESC LIMIT $1`, clampLimit(limit))
}

// SearchBusinesses matches names case-insensitively.
func (db *DB) SearchBusinesses(ctx context.Context, keyword string, limit int) ([]StoredBusiness, error) {
	return db.queryBusinesses(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2`,
		keyword, clampLimit(limit))
}

func (db *DB) queryBusinesses(ctx context.Context, query string, args ...any) ([]StoredBusiness, error) {
	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query businesses: %w", err)
	}
	defer rows.Close()

	out := []StoredBusiness{}
	for rows.Next() {
		var (
			sb     StoredBusiness
			source string
		)
		err := rows.Scan(
			&sb.ID, &sb.SearchQueryID, &sb.Name, &sb.Phone, &sb.Email, &sb.Address, &sb.TaxID,
			&sb.LegalRepresentative, &sb.IssueDate, &sb.Status, &sb.Website, &sb.Description,
			&sb.Rating, &sb.ReviewsCount, &sb.Category, &sb.MapURL, &sb.Latitude, &sb.Longitude,
			&source, &sb.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		sb.Source = models.SourceTag(source)
		out = append(out, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (*models.Run, error) {
	var (
		run            models.Run
		source, status string
	)
	if err := row.Scan(&run.ID, &run.Keyword, &run.Location, &source, &status,
		&run.TotalResults, &run.ErrorMessage, &run.CreatedAt); err != nil {
		return nil, err
	}
	run.Source = models.SourceTag(source)
	run.Status = models.RunStatus(status)
	return &run, nil
}
