// Package queue is the write/read surface of the delivery queue exposed to
// collaborators: enqueue, bulk cancellation, and the monitoring aggregate.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
	apperrors "github.com/classpilot/school-api/pkg/errors"
)

const recentFailureLimit = 20

// TenantSource resolves tenants, usually the cached tenant service.
type TenantSource interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
}

type Service struct {
	repo    repository.QueueRepository
	tenants TenantSource
}

func NewService(repo repository.QueueRepository, tenants TenantSource) *Service {
	return &Service{repo: repo, tenants: tenants}
}

// EnqueueRequest carries everything needed to create one queue entry.
type EnqueueRequest struct {
	TenantID         uuid.UUID
	Kind             model.EntryKind
	RecipientKind    model.RecipientKind
	RecipientAddress string
	Body             string
	AttachmentURL    *string
	ScheduledAt      time.Time
	CampaignID       *uuid.UUID
	ContentID        *uuid.UUID
}

// Enqueue validates and inserts a pending entry.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*model.QueueEntry, error) {
	if req.RecipientAddress == "" {
		return nil, apperrors.Validation("recipient address is required")
	}
	if req.Body == "" {
		return nil, apperrors.Validation("body is required")
	}

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}
	if tenant == nil {
		return nil, apperrors.Validation("unknown tenant")
	}

	entry := &model.QueueEntry{
		TenantID:         req.TenantID,
		Kind:             req.Kind,
		RecipientKind:    req.RecipientKind,
		RecipientAddress: req.RecipientAddress,
		Body:             req.Body,
		AttachmentURL:    req.AttachmentURL,
		ScheduledAt:      req.ScheduledAt,
		CampaignID:       req.CampaignID,
		ContentID:        req.ContentID,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to enqueue entry: %w", err)
	}
	return entry, nil
}

// CancelPending cancels all still-pending entries of a campaign.
func (s *Service) CancelPending(ctx context.Context, campaignID uuid.UUID) (int64, error) {
	return s.repo.CancelPendingByCampaign(ctx, campaignID)
}

// Stats is the per-tenant monitoring aggregate: status counts plus the most
// recent failures.
type Stats struct {
	Counts         model.TenantQueueStats `json:"counts"`
	RecentFailures []*model.QueueEntry    `json:"recent_failures"`
}

func (s *Service) Stats(ctx context.Context, tenantID uuid.UUID) (*Stats, error) {
	counts, err := s.repo.TenantStats(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant stats: %w", err)
	}

	failures, err := s.repo.RecentFailures(ctx, tenantID, recentFailureLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent failures: %w", err)
	}

	return &Stats{Counts: *counts, RecentFailures: failures}, nil
}
