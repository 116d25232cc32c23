package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpilot/school-api/internal/model"
	"github.com/classpilot/school-api/internal/service/queue"
	"github.com/classpilot/school-api/pkg/logger"
)

type memContentRepo struct {
	mu       sync.Mutex
	contents map[uuid.UUID]*model.ReportContent
}

func newMemContentRepo() *memContentRepo {
	return &memContentRepo{contents: make(map[uuid.UUID]*model.ReportContent)}
}

func (r *memContentRepo) add(c *model.ReportContent) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	r.contents[c.ID] = c
}

func (r *memContentRepo) Get(_ context.Context, id uuid.UUID) (*model.ReportContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contents[id], nil
}

func (r *memContentRepo) ClaimDueForQueuing(_ context.Context, now time.Time, limit int) ([]*model.ReportContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var claimed []*model.ReportContent
	for _, c := range r.contents {
		if len(claimed) >= limit {
			break
		}
		if c.Ready && !c.Queued && !c.ScheduledAt.After(now) {
			c.Queued = true
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}

func (r *memContentRepo) SetDeliveryError(_ context.Context, id uuid.UUID, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contents[id]; ok {
		c.LastError = &msg
	}
	return nil
}

type countingQueueRepo struct {
	mu      sync.Mutex
	entries []*model.QueueEntry
}

func (r *countingQueueRepo) Create(_ context.Context, e *model.QueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = uuid.New()
	e.Status = model.EntryStatusPending
	r.entries = append(r.entries, e)
	return nil
}

func (r *countingQueueRepo) Get(context.Context, uuid.UUID) (*model.QueueEntry, error) {
	return nil, nil
}
func (r *countingQueueRepo) ClaimNext(context.Context, uuid.UUID, time.Time) (*model.QueueEntry, error) {
	return nil, nil
}
func (r *countingQueueRepo) MarkSent(context.Context, uuid.UUID, string) error   { return nil }
func (r *countingQueueRepo) MarkFailed(context.Context, uuid.UUID, string) error { return nil }
func (r *countingQueueRepo) CancelPendingByCampaign(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}
func (r *countingQueueRepo) SentCountSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return 0, nil
}
func (r *countingQueueRepo) ActiveTenantIDs(context.Context, time.Time) ([]uuid.UUID, error) {
	return nil, nil
}
func (r *countingQueueRepo) TenantStats(_ context.Context, id uuid.UUID) (*model.TenantQueueStats, error) {
	return &model.TenantQueueStats{TenantID: id}, nil
}
func (r *countingQueueRepo) RecentFailures(context.Context, uuid.UUID, int) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (r *countingQueueRepo) DeleteSentBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type stubTenants struct{ tenant *model.Tenant }

func (s *stubTenants) Get(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	if s.tenant != nil && s.tenant.ID == id {
		return s.tenant, nil
	}
	return nil, nil
}

type stubCampaignRepo struct {
	due []uuid.UUID
}

func (r *stubCampaignRepo) DueScheduled(context.Context, time.Time) ([]uuid.UUID, error) {
	return r.due, nil
}

// Unused parts of the interface.
func (r *stubCampaignRepo) Create(context.Context, *model.BroadcastCampaign) error { return nil }
func (r *stubCampaignRepo) Get(context.Context, uuid.UUID) (*model.BroadcastCampaign, error) {
	return nil, nil
}
func (r *stubCampaignRepo) ListByTenant(context.Context, uuid.UUID) ([]*model.BroadcastCampaign, error) {
	return nil, nil
}
func (r *stubCampaignRepo) BeginDispatch(context.Context, uuid.UUID, []string, int) (bool, error) {
	return false, nil
}
func (r *stubCampaignRepo) RecordResult(context.Context, uuid.UUID, bool) (*model.BroadcastCampaign, error) {
	return nil, nil
}
func (r *stubCampaignRepo) Cancel(context.Context, uuid.UUID) (bool, error) { return false, nil }
func (r *stubCampaignRepo) Complete(context.Context, uuid.UUID) error       { return nil }

type recordingStarter struct {
	started []uuid.UUID
}

func (s *recordingStarter) Start(_ context.Context, id uuid.UUID) (*model.BroadcastCampaign, error) {
	s.started = append(s.started, id)
	return nil, nil
}

func newTestSweeper(t *testing.T, contents *memContentRepo, campaigns *stubCampaignRepo, starter *recordingStarter) (*Sweeper, *countingQueueRepo, *model.Tenant) {
	t.Helper()
	tenant := &model.Tenant{ID: uuid.New(), Name: "Lakeside Primary"}
	queueRepo := &countingQueueRepo{}
	queueSvc := queue.NewService(queueRepo, &stubTenants{tenant: tenant})
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel})

	sweeper := NewSweeper(contents, campaigns, queueSvc, starter, Config{BatchSize: 10}, log, nil)
	return sweeper, queueRepo, tenant
}

func TestSweepMaterializesDueContentOnce(t *testing.T) {
	contents := newMemContentRepo()
	sweeper, queueRepo, tenant := newTestSweeper(t, contents, &stubCampaignRepo{}, &recordingStarter{})

	now := time.Now()
	contents.add(&model.ReportContent{
		TenantID:         tenant.ID,
		Kind:             model.EntryKindLessonSummary,
		RecipientKind:    model.RecipientKindGroup,
		RecipientAddress: "class-3a",
		Body:             "Today we covered fractions.",
		ScheduledAt:      now.Add(-time.Minute),
		Ready:            true,
	})
	contents.add(&model.ReportContent{ // not ready yet
		TenantID:         tenant.ID,
		Kind:             model.EntryKindLessonSummary,
		RecipientKind:    model.RecipientKindGroup,
		RecipientAddress: "class-3b",
		Body:             "Draft",
		ScheduledAt:      now.Add(-time.Minute),
		Ready:            false,
	})
	contents.add(&model.ReportContent{ // due in the future
		TenantID:         tenant.ID,
		Kind:             model.EntryKindLessonSummary,
		RecipientKind:    model.RecipientKindGroup,
		RecipientAddress: "class-3c",
		Body:             "Tomorrow",
		ScheduledAt:      now.Add(time.Hour),
		Ready:            true,
	})

	require.NoError(t, sweeper.Sweep(context.Background()))
	require.Len(t, queueRepo.entries, 1)
	entry := queueRepo.entries[0]
	assert.Equal(t, "class-3a", entry.RecipientAddress)
	assert.Equal(t, model.EntryKindLessonSummary, entry.Kind)
	require.NotNil(t, entry.ContentID)

	// A second sweep is idempotent: the claimed row stays claimed.
	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.Len(t, queueRepo.entries, 1)
}

func TestSweepStartsDueCampaigns(t *testing.T) {
	due := []uuid.UUID{uuid.New(), uuid.New()}
	starter := &recordingStarter{}
	sweeper, _, _ := newTestSweeper(t, newMemContentRepo(), &stubCampaignRepo{due: due}, starter)

	require.NoError(t, sweeper.Sweep(context.Background()))
	assert.ElementsMatch(t, due, starter.started)
}
