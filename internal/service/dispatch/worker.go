// Package dispatch is the heart of the delivery pipeline: the sweep that
// claims eligible queue entries per tenant, applies the antiban policy, calls
// the chat gateway and records the outcome.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/classpilot/school-api/internal/gateway"
	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
	"github.com/classpilot/school-api/internal/service/alert"
	"github.com/classpilot/school-api/internal/service/policy"
	"github.com/classpilot/school-api/pkg/logger"
	"github.com/classpilot/school-api/pkg/messaging"
	"github.com/classpilot/school-api/pkg/metrics"
)

type TenantSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}

type Config struct {
	// GatewayTimeout bounds each gateway call so one slow tenant cannot
	// stall the sweep.
	GatewayTimeout time.Duration
	// MaxParallelTenants bounds cross-tenant parallelism. Work for a single
	// tenant is always serialized.
	MaxParallelTenants int
	// AlertFailureThreshold triggers an operator email when one sweep
	// produces at least this many failures for a tenant. Zero disables.
	AlertFailureThreshold int
}

type Worker struct {
	queue     repository.QueueRepository
	campaigns repository.CampaignRepository
	contents  repository.ContentRepository
	tenants   TenantSource
	gateway   gateway.API
	broker    messaging.Broker
	alerts    alert.Service
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

func NewWorker(
	queue repository.QueueRepository,
	campaigns repository.CampaignRepository,
	contents repository.ContentRepository,
	tenants TenantSource,
	gw gateway.API,
	broker messaging.Broker,
	alerts alert.Service,
	cfg Config,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Worker {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	if cfg.MaxParallelTenants <= 0 {
		cfg.MaxParallelTenants = 1
	}
	if alerts == nil {
		alerts = alert.Noop{}
	}
	return &Worker{
		queue:     queue,
		campaigns: campaigns,
		contents:  contents,
		tenants:   tenants,
		gateway:   gw,
		broker:    broker,
		alerts:    alerts,
		cfg:       cfg,
		logger:    logger.WithComponent("dispatch"),
		metrics:   m,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Sweep runs one dispatch pass over every tenant with eligible work. Each
// tenant contributes at most one send per sweep; backlogs drain across
// consecutive sweeps, which keeps the per-tenant pacing honest.
func (w *Worker) Sweep(ctx context.Context) error {
	if w.metrics != nil {
		timer := prometheus.NewTimer(w.metrics.SweepDuration)
		defer timer.ObserveDuration()
	}

	tenantIDs, err := w.queue.ActiveTenantIDs(ctx, w.now())
	if err != nil {
		return fmt.Errorf("failed to list tenants with pending work: %w", err)
	}
	if len(tenantIDs) == 0 {
		return nil
	}

	sem := make(chan struct{}, w.cfg.MaxParallelTenants)
	done := make(chan struct{}, len(tenantIDs))

	for _, tenantID := range tenantIDs {
		tenantID := tenantID
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				done <- struct{}{}
			}()
			if err := w.sweepTenant(ctx, tenantID); err != nil {
				w.logger.Error(err, "tenant sweep failed", "tenant_id", tenantID.String())
			}
		}()
	}

	for range tenantIDs {
		<-done
	}
	return nil
}

// sweepTenant delivers at most one entry for the tenant.
func (w *Worker) sweepTenant(ctx context.Context, tenantID uuid.UUID) error {
	tenant, err := w.tenants.Get(ctx, tenantID)
	if err != nil {
		return err
	}
	if tenant == nil || !tenant.Active {
		return nil
	}

	creds := gateway.Credentials{BaseURL: tenant.GatewayBaseURL, Token: tenant.GatewayToken}
	if !creds.Valid() {
		// Misconfiguration is reported once per sweep and never counted
		// against any entry's attempts.
		w.logger.Warn("tenant gateway not configured, skipping",
			"tenant_id", tenantID.String())
		if w.metrics != nil {
			w.metrics.TenantsSkipped.Inc()
		}
		return nil
	}

	ok, err := w.checkPolicy(ctx, tenant)
	if err != nil {
		return err
	}
	if !ok {
		if w.metrics != nil {
			w.metrics.RateDeferrals.Inc()
		}
		return nil
	}

	entry, err := w.queue.ClaimNext(ctx, tenantID, w.now())
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	// Pace the send to look human before touching the gateway.
	w.sleep(ctx, policy.JitterDelay(tenant.Limits()))

	failed := w.deliver(ctx, tenant, creds, entry)
	if failed != nil && w.cfg.AlertFailureThreshold > 0 {
		w.maybeAlert(ctx, tenant)
	}
	return nil
}

func (w *Worker) checkPolicy(ctx context.Context, tenant *model.Tenant) (bool, error) {
	now := w.now().In(tenant.Location())

	hourCount, err := w.queue.SentCountSince(ctx, tenant.ID, now.Add(-time.Hour))
	if err != nil {
		return false, fmt.Errorf("failed to compute hourly send window: %w", err)
	}

	var minuteCount int
	if tenant.MaxPerMinute > 0 {
		minuteCount, err = w.queue.SentCountSince(ctx, tenant.ID, now.Add(-time.Minute))
		if err != nil {
			return false, fmt.Errorf("failed to compute minute send window: %w", err)
		}
	}

	window := policy.SendWindow{LastHour: hourCount, LastMinute: minuteCount}
	return policy.CanSendNow(window, tenant.Limits(), now), nil
}

// deliver sends one claimed entry and records the outcome. The returned error
// is the delivery failure (already recorded), nil on success.
func (w *Worker) deliver(ctx context.Context, tenant *model.Tenant, creds gateway.Credentials, entry *model.QueueEntry) error {
	// A cancel can race a claim; check the owning campaign immediately
	// before the gateway call. Once the send starts it completes normally
	// and records its real outcome.
	if entry.CampaignID != nil {
		campaign, err := w.campaigns.Get(ctx, *entry.CampaignID)
		if err != nil {
			w.recordFailure(ctx, entry, fmt.Errorf("failed to check campaign: %w", err))
			return err
		}
		if campaign == nil || campaign.Status == model.CampaignStatusCancelled {
			err := fmt.Errorf("campaign cancelled before send")
			w.recordFailure(ctx, entry, err)
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.GatewayTimeout)
	defer cancel()

	start := time.Now()
	externalID, err := w.gateway.SendText(callCtx, creds, entry.RecipientAddress, entry.Body)
	if w.metrics != nil {
		w.metrics.GatewayCallDuration.WithLabelValues("send_text").Observe(time.Since(start).Seconds())
	}
	if err != nil {
		w.recordFailure(ctx, entry, err)
		return err
	}

	if entry.AttachmentURL != nil && *entry.AttachmentURL != "" {
		// The text made it out, so the entry counts as sent even if the
		// follow-up attachment does not.
		if err := w.gateway.SendFile(callCtx, creds, entry.RecipientAddress, *entry.AttachmentURL, attachmentName(entry)); err != nil {
			w.logger.Warn("attachment send failed after text delivery",
				"entry_id", entry.ID.String(), "error", err.Error())
		}
	}

	w.recordSuccess(ctx, tenant, entry, externalID)
	return nil
}

func (w *Worker) recordSuccess(ctx context.Context, tenant *model.Tenant, entry *model.QueueEntry, externalID string) {
	if err := w.queue.MarkSent(ctx, entry.ID, externalID); err != nil {
		w.logger.Error(err, "failed to mark entry sent", "entry_id", entry.ID.String())
		return
	}
	if w.metrics != nil {
		w.metrics.EntriesSent.Inc()
	}

	w.logger.Info("entry delivered",
		"entry_id", entry.ID.String(),
		"tenant_id", entry.TenantID.String(),
		"kind", string(entry.Kind))

	if entry.CampaignID != nil {
		w.recordCampaignResult(ctx, *entry.CampaignID, true)
	}
	w.publishDelivery(ctx, messaging.ChannelDeliverySent, entry, "")
}

func (w *Worker) recordFailure(ctx context.Context, entry *model.QueueEntry, sendErr error) {
	if err := w.queue.MarkFailed(ctx, entry.ID, sendErr.Error()); err != nil {
		w.logger.Error(err, "failed to mark entry failed", "entry_id", entry.ID.String())
		return
	}
	if w.metrics != nil {
		w.metrics.EntriesFailed.Inc()
	}

	w.logger.Warn("entry delivery failed",
		"entry_id", entry.ID.String(),
		"tenant_id", entry.TenantID.String(),
		"error", sendErr.Error())

	if entry.ContentID != nil {
		// Surface the failure on the originating report for the UI.
		if err := w.contents.SetDeliveryError(ctx, *entry.ContentID, sendErr.Error()); err != nil {
			w.logger.Error(err, "failed to propagate delivery error", "content_id", entry.ContentID.String())
		}
	}
	if entry.CampaignID != nil {
		w.recordCampaignResult(ctx, *entry.CampaignID, false)
	}
	w.publishDelivery(ctx, messaging.ChannelDeliveryFailed, entry, sendErr.Error())
}

func (w *Worker) recordCampaignResult(ctx context.Context, campaignID uuid.UUID, sent bool) {
	campaign, err := w.campaigns.RecordResult(ctx, campaignID, sent)
	if err != nil {
		w.logger.Error(err, "failed to record campaign result", "campaign_id", campaignID.String())
		return
	}
	if campaign == nil {
		return
	}

	if campaign.Status == model.CampaignStatusCompleted &&
		campaign.SentCount+campaign.FailedCount == campaign.TotalRecipients {
		if w.metrics != nil {
			w.metrics.CampaignsCompleted.Inc()
		}
		w.logger.Info("campaign completed",
			"campaign_id", campaignID.String(),
			"sent", campaign.SentCount,
			"failed", campaign.FailedCount)
		if w.broker != nil {
			event := messaging.CampaignEvent{
				CampaignID: campaignID.String(),
				TenantID:   campaign.TenantID.String(),
				Sent:       campaign.SentCount,
				Failed:     campaign.FailedCount,
				Total:      campaign.TotalRecipients,
			}
			if err := w.broker.Publish(ctx, messaging.ChannelCampaignCompleted, event); err != nil {
				w.logger.Error(err, "failed to publish completion event", "campaign_id", campaignID.String())
			}
		}
	}
}

func (w *Worker) publishDelivery(ctx context.Context, channel string, entry *model.QueueEntry, errMsg string) {
	if w.broker == nil {
		return
	}
	event := messaging.DeliveryEvent{
		EntryID:  entry.ID.String(),
		TenantID: entry.TenantID.String(),
		Kind:     string(entry.Kind),
		Error:    errMsg,
	}
	if entry.CampaignID != nil {
		event.CampaignID = entry.CampaignID.String()
	}
	if err := w.broker.Publish(ctx, channel, event); err != nil {
		w.logger.Error(err, "failed to publish delivery event", "entry_id", entry.ID.String())
	}
}

func (w *Worker) maybeAlert(ctx context.Context, tenant *model.Tenant) {
	failures, err := w.queue.RecentFailures(ctx, tenant.ID, w.cfg.AlertFailureThreshold)
	if err != nil {
		w.logger.Error(err, "failed to load failures for alerting", "tenant_id", tenant.ID.String())
		return
	}
	if len(failures) < w.cfg.AlertFailureThreshold {
		return
	}
	if err := w.alerts.NotifyFailures(ctx, tenant, failures); err != nil {
		w.logger.Error(err, "failed to alert operators", "tenant_id", tenant.ID.String())
	}
}

func attachmentName(entry *model.QueueEntry) string {
	switch entry.Kind {
	case model.EntryKindPersonalReport:
		return "report.pdf"
	case model.EntryKindLessonSummary:
		return "summary.pdf"
	default:
		return "attachment"
	}
}

// Cleanup removes delivered entries older than the retention cutoff. Run as
// its own low-frequency periodic task.
func (w *Worker) Cleanup(ctx context.Context, keepFor time.Duration) error {
	cutoff := w.now().Add(-keepFor)
	removed, err := w.queue.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if removed > 0 {
		w.logger.Info("cleaned up delivered entries", "removed", removed)
	}
	return nil
}
