package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
)

type contentRepository struct {
	db *sqlx.DB
}

func NewContentRepository(db *sqlx.DB) repository.ContentRepository {
	return &contentRepository{db: db}
}

const contentColumns = `
	id, tenant_id, kind, recipient_kind, recipient_address, body,
	attachment_url, scheduled_at, ready, queued, last_error, created_at, updated_at`

func (r *contentRepository) Get(ctx context.Context, id uuid.UUID) (*model.ReportContent, error) {
	query := `SELECT ` + contentColumns + ` FROM report_contents WHERE id = $1`

	var content model.ReportContent
	if err := r.db.GetContext(ctx, &content, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get report content: %w", err)
	}
	return &content, nil
}

// ClaimDueForQueuing marks rows as queued inside the same statement that
// selects them, so a row is claimed for queuing exactly once even when two
// scheduler sweeps overlap.
func (r *contentRepository) ClaimDueForQueuing(ctx context.Context, now time.Time, limit int) ([]*model.ReportContent, error) {
	query := `
		UPDATE report_contents
		SET queued = TRUE, updated_at = NOW()
		WHERE id IN (
			SELECT id FROM report_contents
			WHERE ready = TRUE AND queued = FALSE AND scheduled_at <= $1
			ORDER BY scheduled_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + contentColumns

	var contents []*model.ReportContent
	if err := r.db.SelectContext(ctx, &contents, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to claim due content: %w", err)
	}
	return contents, nil
}

func (r *contentRepository) SetDeliveryError(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE report_contents
		SET last_error = $1, updated_at = NOW()
		WHERE id = $2
	`
	if _, err := r.db.ExecContext(ctx, query, errMsg, id); err != nil {
		return fmt.Errorf("failed to record delivery error: %w", err)
	}
	return nil
}
