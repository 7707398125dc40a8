package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Outcome values for a platform version row. A row starts as pending and
// reaches exactly one terminal outcome.
const (
	OutcomePending           = "pending"
	OutcomeCompleted         = "completed"
	OutcomeCompletedRollback = "completed_with_rollback"
	OutcomeFailed            = "failed"
	OutcomeNoOp              = "no_op"
)

// PlatformRecord is one release attempt's registry row.
type PlatformRecord struct {
	Version     string            `json:"version"`
	Fingerprint string            `json:"fingerprint"`
	ReleaseType string            `json:"release_type"`
	SourceStage string            `json:"source_stage"`
	Attempt     string            `json:"attempt"`
	Services    map[string]string `json:"services"`
	Outcome     string            `json:"outcome"`
	CreatedAt   time.Time         `json:"created_at"`
}

// PromotionRecord is one ledger entry: a promote or rollback of a single
// service within an attempt.
type PromotionRecord struct {
	PlatformVersion string    `json:"platform_version"`
	Attempt         string    `json:"attempt"`
	Service         string    `json:"service"`
	Version         string    `json:"version"`
	Stage           string    `json:"stage"`
	Phase           int       `json:"phase"`
	Kind            string    `json:"kind"` // "promote" or "rollback"
	Status          string    `json:"status"`
	Detail          string    `json:"detail,omitempty"`
	Seq             int64     `json:"seq"`
	CreatedAt       time.Time `json:"created_at"`
}

// RecordPlatformVersion inserts the registry row for a release attempt.
// Called once per attempt, before promotion begins, so the record exists
// even if the attempt later fails. Rows are keyed by attempt token: the
// same platform version recurs when a failed attempt is retried, and
// each retry gets its own row.
func (r *Registry) RecordPlatformVersion(ctx context.Context, rec PlatformRecord) (int64, error) {
	servicesJSON, err := json.Marshal(rec.Services)
	if err != nil {
		return 0, fmt.Errorf("record platform version: %w", err)
	}

	outcome := rec.Outcome
	if outcome == "" {
		outcome = OutcomePending
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO platform_versions
		(version, fingerprint, release_type, source_stage, attempt, services, outcome, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Version,
		rec.Fingerprint,
		rec.ReleaseType,
		rec.SourceStage,
		rec.Attempt,
		string(servicesJSON),
		outcome,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("record platform version %s: %w", rec.Version, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("record platform version %s: %w", rec.Version, err)
	}
	return id, nil
}

// SetOutcome moves an attempt's row to a terminal outcome.
func (r *Registry) SetOutcome(ctx context.Context, attempt, outcome string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE platform_versions SET outcome = ? WHERE attempt = ?`,
		outcome, attempt,
	)
	if err != nil {
		return fmt.Errorf("set outcome for %s: %w", attempt, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set outcome for %s: %w", attempt, err)
	}
	if n == 0 {
		return fmt.Errorf("set outcome for %s: no such attempt", attempt)
	}
	return nil
}

// RecordPromotion appends one ledger entry. Uses ON CONFLICT DO NOTHING
// against the (attempt, service, kind, seq) unique index so a crashed and
// resumed attempt cannot double-record the same step.
func (r *Registry) RecordPromotion(ctx context.Context, rec PromotionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO promotions
		(platform_version, attempt, service, version, stage, phase, kind, status, detail, seq, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.PlatformVersion,
		rec.Attempt,
		rec.Service,
		rec.Version,
		rec.Stage,
		rec.Phase,
		rec.Kind,
		rec.Status,
		rec.Detail,
		rec.Seq,
		createdAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record promotion %s@%s: %w", rec.Service, rec.Version, err)
	}
	return nil
}
