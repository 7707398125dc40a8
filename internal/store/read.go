package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("registry: not found")

// GetPlatformVersion reads the newest row recorded for a platform
// version. A retried release can leave several attempts claiming the
// same version; the most recent one reflects what actually happened.
func (r *Registry) GetPlatformVersion(ctx context.Context, version string) (PlatformRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT version, fingerprint, release_type, source_stage, attempt, services, outcome, created_at
		FROM platform_versions
		WHERE version = ?
		ORDER BY id DESC
		LIMIT 1
	`, version)

	rec, err := scanPlatformRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return PlatformRecord{}, fmt.Errorf("platform version %s: %w", version, ErrNotFound)
	}
	if err != nil {
		return PlatformRecord{}, fmt.Errorf("get platform version %s: %w", version, err)
	}
	return rec, nil
}

// History returns the most recent platform version rows, newest first,
// up to limit (0 means no limit).
func (r *Registry) History(ctx context.Context, limit int) ([]PlatformRecord, error) {
	q := `
		SELECT version, fingerprint, release_type, source_stage, attempt, services, outcome, created_at
		FROM platform_versions
		ORDER BY id DESC
	`
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, q+" LIMIT ?", limit)
	} else {
		rows, err = r.db.QueryContext(ctx, q)
	}
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []PlatformRecord
	for rows.Next() {
		rec, err := scanPlatformRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Promotions returns the ledger for one attempt in seq order.
func (r *Registry) Promotions(ctx context.Context, attempt string) ([]PromotionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT platform_version, attempt, service, version, stage, phase, kind, status, detail, seq, created_at
		FROM promotions
		WHERE attempt = ?
		ORDER BY seq ASC
	`, attempt)
	if err != nil {
		return nil, fmt.Errorf("query promotions for %s: %w", attempt, err)
	}
	defer rows.Close()

	var out []PromotionRecord
	for rows.Next() {
		var (
			rec       PromotionRecord
			createdAt string
		)
		if err := rows.Scan(
			&rec.PlatformVersion, &rec.Attempt, &rec.Service, &rec.Version,
			&rec.Stage, &rec.Phase, &rec.Kind, &rec.Status, &rec.Detail,
			&rec.Seq, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan promotion row: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parse promotion timestamp: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanPlatformRecord decodes one platform_versions row via the given
// Scan function (works for both *sql.Row and *sql.Rows).
func scanPlatformRecord(scan func(...any) error) (PlatformRecord, error) {
	var (
		rec          PlatformRecord
		servicesJSON string
		createdAt    string
	)
	if err := scan(
		&rec.Version, &rec.Fingerprint, &rec.ReleaseType, &rec.SourceStage,
		&rec.Attempt, &servicesJSON, &rec.Outcome, &createdAt,
	); err != nil {
		return PlatformRecord{}, err
	}
	if err := json.Unmarshal([]byte(servicesJSON), &rec.Services); err != nil {
		return PlatformRecord{}, fmt.Errorf("decode services: %w", err)
	}
	var err error
	rec.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return PlatformRecord{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return rec, nil
}
