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

type queueRepository struct {
	db *sqlx.DB
}

func NewQueueRepository(db *sqlx.DB) repository.QueueRepository {
	return &queueRepository{db: db}
}

const queueColumns = `
	id, tenant_id, kind, recipient_kind, recipient_address, body,
	attachment_url, scheduled_at, status, attempts, last_error, sent_at,
	external_message_id, campaign_id, content_id, created_at, updated_at`

func (r *queueRepository) Create(ctx context.Context, entry *model.QueueEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := time.Now()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.Status = model.EntryStatusPending
	if entry.ScheduledAt.IsZero() {
		entry.ScheduledAt = now
	}

	query := `
		INSERT INTO queue_entries (
			id, tenant_id, kind, recipient_kind, recipient_address, body,
			attachment_url, scheduled_at, status, campaign_id, content_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.Kind,
		entry.RecipientKind,
		entry.RecipientAddress,
		entry.Body,
		entry.AttachmentURL,
		entry.ScheduledAt,
		entry.Status,
		entry.CampaignID,
		entry.ContentID,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create queue entry: %w", err)
	}
	return nil
}

func (r *queueRepository) Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_entries WHERE id = $1`

	var entry model.QueueEntry
	if err := r.db.GetContext(ctx, &entry, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	return &entry, nil
}

// ClaimNext uses a conditional update on a locked subselect so two concurrent
// claimers for the same tenant can never take the same row. Ties on
// scheduled_at resolve in insertion order.
func (r *queueRepository) ClaimNext(ctx context.Context, tenantID uuid.UUID, now time.Time) (*model.QueueEntry, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM queue_entries
			WHERE tenant_id = $2 AND status = $3 AND scheduled_at <= $4
			ORDER BY scheduled_at ASC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	var entry model.QueueEntry
	err := r.db.GetContext(ctx, &entry, query,
		model.EntryStatusProcessing, tenantID, model.EntryStatusPending, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue entry: %w", err)
	}
	return &entry, nil
}

func (r *queueRepository) MarkSent(ctx context.Context, id uuid.UUID, externalMessageID string) error {
	query := `
		UPDATE queue_entries
		SET status = $1, sent_at = NOW(), external_message_id = $2, last_error = NULL, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query,
		model.EntryStatusSent, externalMessageID, id, model.EntryStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark entry sent: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	// Duplicate confirmation for an already-sent entry is a no-op.
	entry, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("queue entry %s not found", id)
	}
	if entry.Status == model.EntryStatusSent {
		return nil
	}
	return fmt.Errorf("cannot mark entry %s sent from status %s", id, entry.Status)
}

func (r *queueRepository) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE queue_entries
		SET status = $1, attempts = attempts + 1, last_error = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`
	res, err := r.db.ExecContext(ctx, query,
		model.EntryStatusFailed, errMsg, id, model.EntryStatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("queue entry %s not in processing state", id)
	}
	return nil
}

func (r *queueRepository) CancelPendingByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	query := `
		UPDATE queue_entries
		SET status = $1, updated_at = NOW()
		WHERE campaign_id = $2 AND status = $3
	`
	res, err := r.db.ExecContext(ctx, query,
		model.EntryStatusCancelled, campaignID, model.EntryStatusPending)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel pending entries: %w", err)
	}
	return res.RowsAffected()
}

func (r *queueRepository) SentCountSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM queue_entries
		WHERE tenant_id = $1 AND status = $2 AND sent_at >= $3
	`
	var count int
	if err := r.db.GetContext(ctx, &count, query, tenantID, model.EntryStatusSent, since); err != nil {
		return 0, fmt.Errorf("failed to count sent entries: %w", err)
	}
	return count, nil
}

func (r *queueRepository) ActiveTenantIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT tenant_id FROM queue_entries
		WHERE status = $1 AND scheduled_at <= $2
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, model.EntryStatusPending, now); err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	return ids, nil
}

func (r *queueRepository) TenantStats(ctx context.Context, tenantID uuid.UUID) (*model.TenantQueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending')    AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'sent')       AS sent,
			COUNT(*) FILTER (WHERE status = 'failed')     AS failed,
			COUNT(*) FILTER (WHERE status = 'cancelled')  AS cancelled
		FROM queue_entries
		WHERE tenant_id = $1
	`
	stats := model.TenantQueueStats{TenantID: tenantID}
	if err := r.db.GetContext(ctx, &stats, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to get tenant stats: %w", err)
	}
	return &stats, nil
}

func (r *queueRepository) RecentFailures(ctx context.Context, tenantID uuid.UUID, limit int) ([]*model.QueueEntry, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM queue_entries
		WHERE tenant_id = $1 AND status = $2
		ORDER BY updated_at DESC
		LIMIT $3
	`
	var entries []*model.QueueEntry
	err := r.db.SelectContext(ctx, &entries, query, tenantID, model.EntryStatusFailed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent failures: %w", err)
	}
	return entries, nil
}

func (r *queueRepository) DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM queue_entries
		WHERE status = $1 AND sent_at < $2
	`
	res, err := r.db.ExecContext(ctx, query, model.EntryStatusSent, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sent entries: %w", err)
	}
	return res.RowsAffected()
}
