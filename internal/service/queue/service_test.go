package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classpilot/school-api/internal/model"
	apperrors "github.com/classpilot/school-api/pkg/errors"
)

type stubTenants struct {
	known map[uuid.UUID]*model.Tenant
}

func (s *stubTenants) Get(_ context.Context, id uuid.UUID) (*model.Tenant, error) {
	return s.known[id], nil
}

// recordingQueueRepo implements only what these tests exercise.
type recordingQueueRepo struct {
	created []*model.QueueEntry
}

func (r *recordingQueueRepo) Get(context.Context, uuid.UUID) (*model.QueueEntry, error) {
	return nil, nil
}
func (r *recordingQueueRepo) ClaimNext(context.Context, uuid.UUID, time.Time) (*model.QueueEntry, error) {
	return nil, nil
}
func (r *recordingQueueRepo) MarkSent(context.Context, uuid.UUID, string) error { return nil }
func (r *recordingQueueRepo) MarkFailed(context.Context, uuid.UUID, string) error {
	return nil
}
func (r *recordingQueueRepo) CancelPendingByCampaign(context.Context, uuid.UUID) (int64, error) {
	return 0, nil
}
func (r *recordingQueueRepo) SentCountSince(context.Context, uuid.UUID, time.Time) (int, error) {
	return 0, nil
}
func (r *recordingQueueRepo) ActiveTenantIDs(context.Context, time.Time) ([]uuid.UUID, error) {
	return nil, nil
}
func (r *recordingQueueRepo) TenantStats(_ context.Context, id uuid.UUID) (*model.TenantQueueStats, error) {
	return &model.TenantQueueStats{TenantID: id}, nil
}
func (r *recordingQueueRepo) RecentFailures(context.Context, uuid.UUID, int) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (r *recordingQueueRepo) DeleteSentBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (r *recordingQueueRepo) Create(_ context.Context, entry *model.QueueEntry) error {
	entry.ID = uuid.New()
	entry.Status = model.EntryStatusPending
	if entry.ScheduledAt.IsZero() {
		entry.ScheduledAt = time.Now()
	}
	r.created = append(r.created, entry)
	return nil
}

func TestEnqueueValidation(t *testing.T) {
	tenantID := uuid.New()
	repo := &recordingQueueRepo{}
	svc := NewService(repo, &stubTenants{known: map[uuid.UUID]*model.Tenant{
		tenantID: {ID: tenantID, Name: "Greenfield Primary"},
	}})

	_, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID: tenantID,
		Body:     "hello",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID:         tenantID,
		RecipientAddress: "group-1",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	_, err = svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID:         uuid.New(), // unknown tenant
		RecipientAddress: "group-1",
		Body:             "hello",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrValidation))

	assert.Empty(t, repo.created)
}

func TestEnqueueCreatesPendingEntry(t *testing.T) {
	tenantID := uuid.New()
	repo := &recordingQueueRepo{}
	svc := NewService(repo, &stubTenants{known: map[uuid.UUID]*model.Tenant{
		tenantID: {ID: tenantID},
	}})

	entry, err := svc.Enqueue(context.Background(), EnqueueRequest{
		TenantID:         tenantID,
		Kind:             model.EntryKindPersonalReport,
		RecipientKind:    model.RecipientKindDirect,
		RecipientAddress: "parent-42",
		Body:             "Your child had a great week.",
	})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, model.EntryStatusPending, entry.Status)
	assert.Equal(t, model.EntryKindPersonalReport, entry.Kind)
	assert.False(t, entry.ScheduledAt.IsZero())
}
