package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/model"
)

// QueueRepository owns the durable delivery queue and its atomic claim
// semantics. ClaimNext must never hand the same entry to two callers.
type QueueRepository interface {
	Create(ctx context.Context, entry *model.QueueEntry) error
	Get(ctx context.Context, id uuid.UUID) (*model.QueueEntry, error)

	// ClaimNext atomically flips the single eligible entry for a tenant
	// (pending, scheduled_at <= now, oldest schedule first) to processing and
	// returns it. Returns nil when nothing is eligible.
	ClaimNext(ctx context.Context, tenantID uuid.UUID, now time.Time) (*model.QueueEntry, error)

	// MarkSent transitions processing -> sent. Calling it again for an
	// already-sent entry is a no-op.
	MarkSent(ctx context.Context, id uuid.UUID, externalMessageID string) error

	// MarkFailed transitions processing -> failed and increments attempts.
	// Entries are never auto-requeued.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// CancelPendingByCampaign bulk-cancels still-pending children of a
	// campaign and returns how many were cancelled.
	CancelPendingByCampaign(ctx context.Context, campaignID uuid.UUID) (int64, error)

	SentCountSince(ctx context.Context, tenantID uuid.UUID, since time.Time) (int, error)
	ActiveTenantIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	TenantStats(ctx context.Context, tenantID uuid.UUID) (*model.TenantQueueStats, error)
	RecentFailures(ctx context.Context, tenantID uuid.UUID, limit int) ([]*model.QueueEntry, error)
	DeleteSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CampaignRepository persists broadcast campaigns. Counter updates and the
// completion check happen inside single UPDATE statements so concurrent
// dispatchers cannot lose increments.
type CampaignRepository interface {
	Create(ctx context.Context, campaign *model.BroadcastCampaign) error
	Get(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*model.BroadcastCampaign, error)

	// BeginDispatch transitions pending/scheduled -> in_progress and fixes the
	// recipient list and total. Returns false when the campaign was not in a
	// startable state.
	BeginDispatch(ctx context.Context, id uuid.UUID, targets []string, total int) (bool, error)

	// RecordResult atomically increments sent_count or failed_count and
	// auto-completes the campaign when every recipient has resolved. Returns
	// the updated row.
	RecordResult(ctx context.Context, id uuid.UUID, sent bool) (*model.BroadcastCampaign, error)

	// Cancel transitions any non-terminal state -> cancelled. Returns false
	// when the campaign was already terminal.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)

	// Complete force-completes a campaign (zero-recipient start).
	Complete(ctx context.Context, id uuid.UUID) error

	DueScheduled(ctx context.Context, now time.Time) ([]uuid.UUID, error)
}

// TenantRepository reads tenant configuration: limits, quiet hours and
// gateway credentials. The delivery core never writes tenants.
type TenantRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	ListActive(ctx context.Context) ([]*model.Tenant, error)
}

// ContentRepository touches the generation side's report_contents rows: the
// scheduler claims due rows for queuing exactly once, and the dispatcher
// writes delivery errors back.
type ContentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*model.ReportContent, error)

	// ClaimDueForQueuing atomically marks up to limit ready, unqueued rows
	// with scheduled_at <= now as queued and returns them. Concurrent sweeps
	// never claim the same row twice.
	ClaimDueForQueuing(ctx context.Context, now time.Time, limit int) ([]*model.ReportContent, error)

	SetDeliveryError(ctx context.Context, id uuid.UUID, errMsg string) error
}
