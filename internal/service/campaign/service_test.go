package campaign

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpilot/school-api/internal/gateway"
	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/repository"
	"github.com/classpilot/school-api/internal/service/queue"
	apperrors "github.com/classpilot/school-api/pkg/errors"
	"github.com/classpilot/school-api/pkg/logger"
)

// --- fakes -----------------------------------------------------------------

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*model.BroadcastCampaign
}

func newMemCampaignRepo() *memCampaignRepo {
	return &memCampaignRepo{campaigns: make(map[uuid.UUID]*model.BroadcastCampaign)}
}

func (r *memCampaignRepo) Create(_ context.Context, c *model.BroadcastCampaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	r.campaigns[c.ID] = &cp
	return nil
}

func (r *memCampaignRepo) Get(_ context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) ListByTenant(_ context.Context, tenantID uuid.UUID) ([]*model.BroadcastCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.BroadcastCampaign
	for _, c := range r.campaigns {
		if c.TenantID == tenantID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *memCampaignRepo) BeginDispatch(_ context.Context, id uuid.UUID, targets []string, total int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, nil
	}
	if c.Status != model.CampaignStatusPending && c.Status != model.CampaignStatusScheduled {
		return false, nil
	}
	c.Status = model.CampaignStatusInProgress
	c.TargetAddresses = targets
	c.TotalRecipients = total
	return true, nil
}

func (r *memCampaignRepo) RecordResult(_ context.Context, id uuid.UUID, sent bool) (*model.BroadcastCampaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[id]
	if c.SentCount+c.FailedCount < c.TotalRecipients {
		if sent {
			c.SentCount++
		} else {
			c.FailedCount++
		}
		if c.Status == model.CampaignStatusInProgress &&
			c.SentCount+c.FailedCount == c.TotalRecipients {
			c.Status = model.CampaignStatusCompleted
		}
	}
	cp := *c
	return &cp, nil
}

func (r *memCampaignRepo) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status.Terminal() {
		return false, nil
	}
	c.Status = model.CampaignStatusCancelled
	return true, nil
}

func (r *memCampaignRepo) Complete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok && c.Status == model.CampaignStatusInProgress {
		c.Status = model.CampaignStatusCompleted
	}
	return nil
}

func (r *memCampaignRepo) DueScheduled(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for id, c := range r.campaigns {
		if c.Status == model.CampaignStatusScheduled && c.ScheduledFor != nil && !c.ScheduledFor.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

var _ repository.CampaignRepository = (*memCampaignRepo)(nil)

type memQueueRepo struct {
	mu      sync.Mutex
	entries []*model.QueueEntry
}

func (r *memQueueRepo) Create(_ context.Context, e *model.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.New()
	e.Status = model.EntryStatusPending
	r.entries = append(r.entries, e)
	return nil
}

func (r *memQueueRepo) Get(context.Context, uuid.UUID) (*model.QueueEntry, error) { return nil, nil }
func (r *memQueueRepo) ClaimNext(context.Context, uuid.UUID, time.Time) (*model.QueueEntry, error) {
	return nil, nil
}
func (r *memQueueRepo) MarkSent(context.Context, uuid.UUID, string) error { return nil }
func (r *memQueueRepo) MarkFailed(context.Context, uuid.UUID, string) error {
	return nil
}

func (r *memQueueRepo) CancelPendingByCampaign(_ context.Context, campaignID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.CampaignID != nil && *e.CampaignID == campaignID && e.Status == model.EntryStatusPending {
			e.Status = model.EntryStatusCancelled
			n++
		}
	}
	return n, nil
}

func (r *memQueueRepo) SentCountSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return 0, nil
}
func (r *memQueueRepo) ActiveTenantIDs(context.Context, time.Time) ([]uuid.UUID, error) {
	return nil, nil
}
func (r *memQueueRepo) TenantStats(_ context.Context, id uuid.UUID) (*model.TenantQueueStats, error) {
	return &model.TenantQueueStats{TenantID: id}, nil
}
func (r *memQueueRepo) RecentFailures(context.Context, uuid.UUID, int) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (r *memQueueRepo) DeleteSentBefore(context.Context, time.Time) (int64, error) { return 0, nil }

var _ repository.QueueRepository = (*memQueueRepo)(nil)

type stubTenants struct {
	tenant *model.Tenant
}

func (s *stubTenants) Get(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	if s.tenant != nil && s.tenant.ID == id {
		return s.tenant, nil
	}
	return nil, nil
}

type fakeGateway struct {
	groups []gateway.Group
}

func (g *fakeGateway) SendText(context.Context, gateway.Credentials, string, string) (string, error) {
	return "ext-1", nil
}
func (g *fakeGateway) SendFile(context.Context, gateway.Credentials, string, string, string) error {
	return nil
}
func (g *fakeGateway) ListGroups(context.Context, gateway.Credentials) ([]gateway.Group, error) {
	return g.groups, nil
}
func (g *fakeGateway) ConnectionState(context.Context, gateway.Credentials) (bool, error) {
	return true, nil
}

// --- helpers ---------------------------------------------------------------

func newTestService(t *testing.T) (*Service, *memCampaignRepo, *memQueueRepo, *model.Tenant) {
	t.Helper()

	tenant := &model.Tenant{
		ID:             uuid.New(),
		Name:           "Hillside Academy",
		GatewayBaseURL: "http://gateway.local",
		GatewayToken:   "token",
	}
	campaignRepo := newMemCampaignRepo()
	queueRepo := &memQueueRepo{}
	tenants := &stubTenants{tenant: tenant}
	queueSvc := queue.NewService(queueRepo, tenants)
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel})

	svc := NewService(campaignRepo, queueSvc, tenants,
		&fakeGateway{groups: []gateway.Group{{Address: "g1"}, {Address: "g2"}}}, nil, log)
	return svc, campaignRepo, queueRepo, tenant
}

func variants(texts ...string) []model.MessageVariant {
	out := make([]model.MessageVariant, 0, len(texts))
	for _, t := range texts {
		out = append(out, model.MessageVariant{Text: t})
	}
	return out
}

// --- tests -----------------------------------------------------------------

func TestCreateRejectsEmptyVariants(t *testing.T) {
	svc, _, _, tenant := newTestService(t)

	_, err := svc.Create(context.Background(), CreateRequest{
		TenantID:   tenant.ID,
		Name:       "Open day",
		TargetKind: model.TargetKindAllGroups,
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))
}

func TestCreateScheduledStatus(t *testing.T) {
	svc, _, _, tenant := newTestService(t)

	when := time.Now().Add(time.Hour)
	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:     tenant.ID,
		Name:         "Open day",
		Variants:     variants("come along"),
		TargetKind:   model.TargetKindAllGroups,
		ScheduledFor: &when,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusScheduled, c.Status)

	c2, err := svc.Create(context.Background(), CreateRequest{
		TenantID:   tenant.ID,
		Name:       "Open day now",
		Variants:   variants("come along"),
		TargetKind: model.TargetKindAllGroups,
	})
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusPending, c2.Status)
}

func TestStartRotatesVariantsRoundRobin(t *testing.T) {
	svc, _, queueRepo, tenant := newTestService(t)

	addresses := make([]string, 10)
	for i := range addresses {
		addresses[i] = uuid.NewString()
	}

	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:        tenant.ID,
		Name:            "Term dates",
		Variants:        variants("v0", "v1", "v2"),
		TargetKind:      model.TargetKindSelectedGroups,
		TargetAddresses: addresses,
	})
	require.NoError(t, err)

	started, err := svc.Start(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusInProgress, started.Status)
	assert.Equal(t, 10, started.TotalRecipients)

	require.Len(t, queueRepo.entries, 10)
	counts := map[string]int{}
	for _, e := range queueRepo.entries {
		counts[e.Body]++
		assert.Equal(t, model.EntryKindBroadcast, e.Kind)
		require.NotNil(t, e.CampaignID)
		assert.Equal(t, c.ID, *e.CampaignID)
	}
	// 10 recipients over 3 variants: every variant covers 3 or 4 recipients.
	assert.Equal(t, 4, counts["v0"])
	assert.Equal(t, 3, counts["v1"])
	assert.Equal(t, 3, counts["v2"])
}

func TestStartResolvesAllGroupsAtStartTime(t *testing.T) {
	svc, _, queueRepo, tenant := newTestService(t)

	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:   tenant.ID,
		Name:       "All groups",
		Variants:   variants("hello"),
		TargetKind: model.TargetKindAllGroups,
	})
	require.NoError(t, err)

	started, err := svc.Start(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, started.TotalRecipients)
	assert.ElementsMatch(t, []string{"g1", "g2"}, []string(started.TargetAddresses))
	assert.Len(t, queueRepo.entries, 2)
}

func TestStartRejectsWrongStatus(t *testing.T) {
	svc, _, _, tenant := newTestService(t)

	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:        tenant.ID,
		Name:            "Once",
		Variants:        variants("hi"),
		TargetKind:      model.TargetKindSelectedGroups,
		TargetAddresses: []string{"g1"},
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), c.ID)
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), c.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestCancelCascadesToPendingEntries(t *testing.T) {
	svc, repo, queueRepo, tenant := newTestService(t)

	addresses := []string{"g1", "g2", "g3", "g4"}
	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:        tenant.ID,
		Name:            "Cutover",
		Variants:        variants("hi"),
		TargetKind:      model.TargetKindSelectedGroups,
		TargetAddresses: addresses,
	})
	require.NoError(t, err)

	_, err = svc.Start(context.Background(), c.ID)
	require.NoError(t, err)

	// Two of four children already resolved before the cancel.
	queueRepo.entries[0].Status = model.EntryStatusSent
	queueRepo.entries[1].Status = model.EntryStatusFailed
	_, err = repo.RecordResult(context.Background(), c.ID, true)
	require.NoError(t, err)
	_, err = repo.RecordResult(context.Background(), c.ID, false)
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCancelled, cancelled.Status)

	var stillCancelled int
	for _, e := range queueRepo.entries {
		if e.Status == model.EntryStatusCancelled {
			stillCancelled++
		}
	}
	assert.Equal(t, 2, stillCancelled, "exactly the unresolved children move to cancelled")
	assert.Equal(t, model.EntryStatusSent, queueRepo.entries[0].Status)
	assert.Equal(t, model.EntryStatusFailed, queueRepo.entries[1].Status)

	// Terminal states never change again.
	_, err = svc.Cancel(context.Background(), c.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrConflict))
}

func TestCompletionInvariant(t *testing.T) {
	svc, repo, _, tenant := newTestService(t)

	c, err := svc.Create(context.Background(), CreateRequest{
		TenantID:        tenant.ID,
		Name:            "Small",
		Variants:        variants("hi"),
		TargetKind:      model.TargetKindSelectedGroups,
		TargetAddresses: []string{"g1", "g2", "g3"},
	})
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), c.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		updated, err := repo.RecordResult(context.Background(), c.ID, i%2 == 0)
		require.NoError(t, err)
		assert.LessOrEqual(t, updated.SentCount+updated.FailedCount, updated.TotalRecipients)
	}

	final, err := svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CampaignStatusCompleted, final.Status)
	assert.Equal(t, 2, final.SentCount)
	assert.Equal(t, 1, final.FailedCount)

	// Duplicate result reports never push counters past the total.
	again, err := repo.RecordResult(context.Background(), c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 3, again.SentCount+again.FailedCount)
}
