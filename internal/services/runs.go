package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pii-mask/internal/models"
)

// ErrRunNotFound is returned by RunService.Get for unknown ids.
var ErrRunNotFound = errors.New("mask run not found")

// RunRecorder receives one record per pipeline run.
type RunRecorder interface {
	Record(ctx context.Context, run *models.MaskRun) error
}

// RunService is the SQLite-backed ledger of pipeline runs.
type RunService struct {
	db *sql.DB
}

func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

func (s *RunService) Record(ctx context.Context, run *models.MaskRun) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO mask_runs (
			id, original_name, input_path, masked_name, masked_path, status, error_code,
			token_count, pii_word_count, masked_box_count, detection, detection_error,
			matcher, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`,
		run.ID, run.OriginalName, run.InputPath, run.MaskedName, run.MaskedPath, run.Status, run.ErrorCode,
		run.TokenCount, run.PIIWordCount, run.MaskedBoxCount, run.Detection, run.DetectionError,
		run.Matcher, run.DurationMs, run.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert mask run: %w", err)
	}
	return nil
}

const runColumns = `id, original_name, input_path, masked_name, masked_path, status, error_code,
	token_count, pii_word_count, masked_box_count, detection, detection_error,
	matcher, duration_ms, created_at`

// List returns the most recent runs first.
func (s *RunService) List(ctx context.Context, limit int) ([]models.MaskRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM mask_runs
		ORDER BY created_at DESC, id
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query mask runs: %w", err)
	}
	defer rows.Close()

	var runs []models.MaskRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mask runs: %w", err)
	}
	return runs, nil
}

func (s *RunService) Get(ctx context.Context, id string) (*models.MaskRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM mask_runs WHERE id = ?;`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*models.MaskRun, error) {
	var run models.MaskRun
	if err := row.Scan(
		&run.ID,
		&run.OriginalName,
		&run.InputPath,
		&run.MaskedName,
		&run.MaskedPath,
		&run.Status,
		&run.ErrorCode,
		&run.TokenCount,
		&run.PIIWordCount,
		&run.MaskedBoxCount,
		&run.Detection,
		&run.DetectionError,
		&run.Matcher,
		&run.DurationMs,
		&run.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan mask run: %w", err)
	}
	return &run, nil
}
