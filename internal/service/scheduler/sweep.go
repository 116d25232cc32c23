// Package scheduler materializes time-triggered content into queue entries:
// due lesson summaries and personal reports become pending deliveries, and
// due scheduled campaigns are started. Each content row is claimed for
// queuing exactly once, so overlapping sweeps are safe.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
	"github.com/classpilot/school-api/internal/service/queue"
	"github.com/classpilot/school-api/pkg/logger"
	"github.com/classpilot/school-api/pkg/metrics"
)

type CampaignStarter interface {
	Start(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error)
}

type Config struct {
	BatchSize int
}

type Sweeper struct {
	contents  repository.ContentRepository
	campaigns repository.CampaignRepository
	queueSvc  *queue.Service
	starter   CampaignStarter
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

func NewSweeper(
	contents repository.ContentRepository,
	campaigns repository.CampaignRepository,
	queueSvc *queue.Service,
	starter CampaignStarter,
	cfg Config,
	logger *logger.Logger,
	m *metrics.Metrics,
) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Sweeper{
		contents:  contents,
		campaigns: campaigns,
		queueSvc:  queueSvc,
		starter:   starter,
		cfg:       cfg,
		logger:    logger.WithComponent("scheduler"),
		metrics:   m,
		now:       time.Now,
	}
}

// Sweep runs one scheduler pass. Errors on individual records are logged and
// do not abort the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) error {
	now := s.now()

	if err := s.materializeContent(ctx, now); err != nil {
		return err
	}
	return s.startDueCampaigns(ctx, now)
}

func (s *Sweeper) materializeContent(ctx context.Context, now time.Time) error {
	contents, err := s.contents.ClaimDueForQueuing(ctx, now, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim due content: %w", err)
	}

	for _, content := range contents {
		_, err := s.queueSvc.Enqueue(ctx, queue.EnqueueRequest{
			TenantID:         content.TenantID,
			Kind:             content.Kind,
			RecipientKind:    content.RecipientKind,
			RecipientAddress: content.RecipientAddress,
			Body:             content.Body,
			AttachmentURL:    content.AttachmentURL,
			ScheduledAt:      content.ScheduledAt,
			ContentID:        &content.ID,
		})
		if err != nil {
			s.logger.Error(err, "failed to enqueue due content",
				"content_id", content.ID.String(),
				"tenant_id", content.TenantID.String())
			if setErr := s.contents.SetDeliveryError(ctx, content.ID, err.Error()); setErr != nil {
				s.logger.Error(setErr, "failed to record content error", "content_id", content.ID.String())
			}
			continue
		}
		if s.metrics != nil {
			s.metrics.ContentQueued.Inc()
		}
	}

	if len(contents) > 0 {
		s.logger.Info("materialized due content", "count", len(contents))
	}
	return nil
}

func (s *Sweeper) startDueCampaigns(ctx context.Context, now time.Time) error {
	ids, err := s.campaigns.DueScheduled(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to list due campaigns: %w", err)
	}

	for _, id := range ids {
		if _, err := s.starter.Start(ctx, id); err != nil {
			s.logger.Error(err, "failed to start scheduled campaign", "campaign_id", id.String())
			continue
		}
		if s.metrics != nil {
			s.metrics.CampaignsStarted.Inc()
		}
	}
	return nil
}
