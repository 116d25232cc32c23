// Package campaign manages broadcast campaigns: fan-out of a message (with
// rotating variants) to many recipients as queue entries, aggregate progress
// tracking, and start/cancel.
package campaign

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/gateway"
	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
	"github.com/classpilot/school-api/internal/service/queue"
	apperrors "github.com/classpilot/school-api/pkg/errors"
	"github.com/classpilot/school-api/pkg/logger"
	"github.com/classpilot/school-api/pkg/messaging"
)

type TenantSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}

type Service struct {
	repo     repository.CampaignRepository
	queueSvc *queue.Service
	tenants  TenantSource
	gateway  gateway.API
	broker   messaging.Broker
	logger   *logger.Logger
}

func NewService(
	repo repository.CampaignRepository,
	queueSvc *queue.Service,
	tenants TenantSource,
	gw gateway.API,
	broker messaging.Broker,
	logger *logger.Logger,
) *Service {
	return &Service{
		repo:     repo,
		queueSvc: queueSvc,
		tenants:  tenants,
		gateway:  gw,
		broker:   broker,
		logger:   logger.WithComponent("campaign"),
	}
}

// CreateRequest describes a new campaign. Recipients are resolved at start
// time, not here, so group membership changes before the start are respected.
type CreateRequest struct {
	TenantID        uuid.UUID
	Name            string
	Variants        []model.MessageVariant
	TargetKind      model.TargetKind
	TargetAddresses []string
	ScheduledFor    *time.Time
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.BroadcastCampaign, error) {
	if req.Name == "" {
		return nil, apperrors.Validation("campaign name is required")
	}
	if len(req.Variants) == 0 {
		return nil, apperrors.Validation("at least one message variant is required")
	}
	for i, v := range req.Variants {
		if v.Text == "" {
			return nil, apperrors.Validation(fmt.Sprintf("variant %d has empty text", i))
		}
	}
	if req.TargetKind == model.TargetKindSelectedGroups && len(req.TargetAddresses) == 0 {
		return nil, apperrors.Validation("selected-groups campaign needs target addresses")
	}

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if tenant == nil {
		return nil, apperrors.Validation("unknown tenant")
	}

	status := model.CampaignStatusPending
	if req.ScheduledFor != nil {
		status = model.CampaignStatusScheduled
	}

	campaign := &model.BroadcastCampaign{
		TenantID:        req.TenantID,
		Name:            req.Name,
		Variants:        req.Variants,
		TargetKind:      req.TargetKind,
		TargetAddresses: req.TargetAddresses,
		Status:          status,
		ScheduledFor:    req.ScheduledFor,
	}
	if err := s.repo.Create(ctx, campaign); err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	s.logger.Info("campaign created",
		"campaign_id", campaign.ID.String(),
		"tenant_id", campaign.TenantID.String(),
		"status", string(campaign.Status))
	return campaign, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	campaign, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, apperrors.NotFound("campaign", nil)
	}
	return campaign, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]*model.BroadcastCampaign, error) {
	return s.repo.ListByTenant(ctx, tenantID)
}

// Start resolves recipients, fixes the total, transitions the campaign to
// in_progress and enqueues one entry per recipient. Variant assignment
// rotates round-robin so recipient i gets variants[i mod len(variants)].
func (s *Service) Start(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status != model.CampaignStatusPending && campaign.Status != model.CampaignStatusScheduled {
		return nil, apperrors.Conflict(
			fmt.Sprintf("campaign cannot start from status %s", campaign.Status))
	}

	targets, err := s.resolveTargets(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve campaign recipients: %w", err)
	}

	started, err := s.repo.BeginDispatch(ctx, id, targets, len(targets))
	if err != nil {
		return nil, err
	}
	if !started {
		// Lost a race with another start or a cancel.
		return nil, apperrors.Conflict("campaign is no longer startable")
	}

	if len(targets) == 0 {
		s.logger.Warn("campaign started with no recipients", "campaign_id", id.String())
		if err := s.repo.Complete(ctx, id); err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}

	now := time.Now()
	for i, address := range targets {
		variant := campaign.VariantFor(i)
		_, err := s.queueSvc.Enqueue(ctx, queue.EnqueueRequest{
			TenantID:         campaign.TenantID,
			Kind:             model.EntryKindBroadcast,
			RecipientKind:    model.RecipientKindGroup,
			RecipientAddress: address,
			Body:             variant.Text,
			AttachmentURL:    variant.AttachmentURL,
			ScheduledAt:      now,
			CampaignID:       &campaign.ID,
		})
		if err != nil {
			// The recipient counts against the total, so record it as failed
			// to keep completion reachable.
			s.logger.Error(err, "failed to enqueue campaign entry",
				"campaign_id", id.String(), "recipient", address)
			if _, recErr := s.repo.RecordResult(ctx, id, false); recErr != nil {
				s.logger.Error(recErr, "failed to record enqueue failure", "campaign_id", id.String())
			}
		}
	}

	s.logger.Info("campaign started",
		"campaign_id", id.String(), "recipients", len(targets))
	return s.Get(ctx, id)
}

// Cancel marks the campaign cancelled and cascades to still-pending children.
// Already-sent and already-failed entries are untouched, and an entry claimed
// mid-flight is allowed to finish and record its real outcome.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	campaign, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Status.Terminal() {
		return nil, apperrors.Conflict(
			fmt.Sprintf("campaign already %s", campaign.Status))
	}

	cancelled, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !cancelled {
		return nil, apperrors.Conflict("campaign already finished")
	}

	dropped, err := s.queueSvc.CancelPending(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel pending entries: %w", err)
	}

	s.logger.Info("campaign cancelled",
		"campaign_id", id.String(), "entries_cancelled", dropped)

	if s.broker != nil {
		event := messaging.CampaignEvent{
			CampaignID: id.String(),
			TenantID:   campaign.TenantID.String(),
			Sent:       campaign.SentCount,
			Failed:     campaign.FailedCount,
			Total:      campaign.TotalRecipients,
		}
		if err := s.broker.Publish(ctx, messaging.ChannelCampaignCancelled, event); err != nil {
			s.logger.Error(err, "failed to publish cancellation event", "campaign_id", id.String())
		}
	}

	return s.Get(ctx, id)
}

func (s *Service) resolveTargets(ctx context.Context, campaign *model.BroadcastCampaign) ([]string, error) {
	if campaign.TargetKind == model.TargetKindSelectedGroups {
		return campaign.TargetAddresses, nil
	}

	tenant, err := s.tenants.Get(ctx, campaign.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, apperrors.Validation("unknown tenant")
	}

	creds := gateway.Credentials{BaseURL: tenant.GatewayBaseURL, Token: tenant.GatewayToken}
	if !creds.Valid() {
		return nil, apperrors.NotConfigured("tenant gateway credentials missing")
	}

	groups, err := s.gateway.ListGroups(ctx, creds)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, 0, len(groups))
	for _, g := range groups {
		addresses = append(addresses, g.Address)
	}
	return addresses, nil
}
