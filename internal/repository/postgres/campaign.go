package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
)

type campaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) repository.CampaignRepository {
	return &campaignRepository{db: db}
}

const campaignColumns = `
	id, tenant_id, name, variants, target_kind, target_addresses, status,
	scheduled_for, total_recipients, sent_count, failed_count, created_at, updated_at`

func (r *campaignRepository) Create(ctx context.Context, campaign *model.BroadcastCampaign) error {
	if campaign.ID == uuid.Nil {
		campaign.ID = uuid.New()
	}
	now := time.Now()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	query := `
		INSERT INTO broadcast_campaigns (
			id, tenant_id, name, variants, target_kind, target_addresses,
			status, scheduled_for, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		campaign.ID,
		campaign.TenantID,
		campaign.Name,
		campaign.Variants,
		campaign.TargetKind,
		campaign.TargetAddresses,
		campaign.Status,
		campaign.ScheduledFor,
		campaign.CreatedAt,
		campaign.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) Get(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM broadcast_campaigns WHERE id = $1`

	var campaign model.BroadcastCampaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.BroadcastCampaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM broadcast_campaigns
		WHERE tenant_id = $1
		ORDER BY created_at DESC
	`
	var campaigns []*model.BroadcastCampaign
	if err := r.db.SelectContext(ctx, &campaigns, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

func (r *campaignRepository) BeginDispatch(ctx context.Context, id uuid.UUID, targets []string, total int) (bool, error) {
	query := `
		UPDATE broadcast_campaigns
		SET status = $1, target_addresses = $2, total_recipients = $3, updated_at = NOW()
		WHERE id = $4 AND status IN ($5, $6)
	`
	res, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusInProgress,
		pq.StringArray(targets),
		total,
		id,
		model.CampaignStatusPending,
		model.CampaignStatusScheduled,
	)
	if err != nil {
		return false, fmt.Errorf("failed to begin campaign dispatch: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RecordResult folds the counter increment and the completion check into one
// statement so concurrent dispatchers cannot lose an update or miss the
// transition. A cancelled campaign still gets its counters updated for
// entries that were already in flight, but its status never changes again.
func (r *campaignRepository) RecordResult(ctx context.Context, id uuid.UUID, sent bool) (*model.BroadcastCampaign, error) {
	query := `
		UPDATE broadcast_campaigns
		SET sent_count   = sent_count + CASE WHEN $2 THEN 1 ELSE 0 END,
		    failed_count = failed_count + CASE WHEN $2 THEN 0 ELSE 1 END,
		    status = CASE
		        WHEN status = $3 AND sent_count + failed_count + 1 >= total_recipients THEN $4
		        ELSE status
		    END,
		    updated_at = NOW()
		WHERE id = $1 AND sent_count + failed_count < total_recipients
		RETURNING ` + campaignColumns

	var campaign model.BroadcastCampaign
	err := r.db.GetContext(ctx, &campaign, query, id, sent,
		model.CampaignStatusInProgress, model.CampaignStatusCompleted)
	if errors.Is(err, sql.ErrNoRows) {
		// Counters already account for every recipient; nothing to record.
		return r.Get(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record campaign result: %w", err)
	}
	return &campaign, nil
}

func (r *campaignRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE broadcast_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4, $5)
	`
	res, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusCancelled,
		id,
		model.CampaignStatusPending,
		model.CampaignStatusScheduled,
		model.CampaignStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to cancel campaign: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *campaignRepository) Complete(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE broadcast_campaigns
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`
	_, err := r.db.ExecContext(ctx, query,
		model.CampaignStatusCompleted, id, model.CampaignStatusInProgress)
	if err != nil {
		return fmt.Errorf("failed to complete campaign: %w", err)
	}
	return nil
}

func (r *campaignRepository) DueScheduled(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM broadcast_campaigns
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, model.CampaignStatusScheduled, now); err != nil {
		return nil, fmt.Errorf("failed to list due campaigns: %w", err)
	}
	return ids, nil
}
