package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carehub/internal/domain"
)

func onlyJob(t *testing.T, h *harness) domain.NotificationJob {
	t.Helper()
	var all []domain.NotificationJob
	for _, status := range []domain.JobStatus{domain.JobPending, domain.JobRetrying, domain.JobDelivered, domain.JobFailed} {
		jobs, err := h.jobs.ListByStatus(context.Background(), status, 0)
		require.NoError(t, err)
		all = append(all, jobs...)
	}
	require.Len(t, all, 1)
	return all[0]
}

func TestDispatcher_DeliversToRecipientsExceptActor(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReceiveNotifications)
	h.addRole("clerk", domain.PermReadRoles)
	h.addIdentity("actor", "ops", true, domain.PortalAdmin, "pw")
	h.addIdentity("alice", "ops", true, domain.PortalAdmin, "pw")
	h.addIdentity("dormant", "ops", false, domain.PortalAdmin, "pw")
	h.addIdentity("carol", "clerk", true, domain.PortalAdmin, "pw")

	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.MatchedBy(func(rs []domain.Identity) bool {
		return len(rs) == 1 && rs[0].ID == "alice"
	})).Return(nil).Once()

	entry, err := h.audit.Record(context.Background(), "actor", domain.ActionRoleCreated, "role:x")
	require.NoError(t, err)

	h.notifier.AssertExpectations(t)
	job := onlyJob(t, h)
	assert.Equal(t, domain.JobDelivered, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, entry.ID, job.Entry.ID)

	inbox, err := h.inbox.ListByRecipient(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, entry.ID, inbox[0].AuditEntryID)
	assert.Equal(t, "actor performed role.created on role:x", inbox[0].Message)

	actorInbox, _ := h.inbox.ListByRecipient(context.Background(), "actor", 0)
	assert.Empty(t, actorInbox)
	assert.Equal(t, 1, h.metrics.get("delivery:delivered"))
}

func TestDispatcher_RetriesWithBackoffThenSucceeds(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReceiveNotifications)
	h.addIdentity("alice", "ops", true, domain.PortalAdmin, "pw")

	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("503 from hook")).Twice()
	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := h.audit.Record(context.Background(), "actor", domain.ActionSubscriptionCreated, "subscription:SUB-0001")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.delays)
	job := onlyJob(t, h)
	assert.Equal(t, domain.JobDelivered, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Empty(t, job.LastError)

	inbox, _ := h.inbox.ListByRecipient(context.Background(), "alice", 0)
	assert.Len(t, inbox, 1, "retries do not duplicate inbox rows")
}

func TestDispatcher_GivesUpAfterMaxAttempts(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReceiveNotifications)
	h.addIdentity("alice", "ops", true, domain.PortalAdmin, "pw")
	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	_, err := h.audit.Record(context.Background(), "actor", domain.ActionRoleUpdated, "role:ops")
	require.NoError(t, err, "delivery failures never reach the caller")

	job := onlyJob(t, h)
	assert.Equal(t, domain.JobFailed, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "connection refused", job.LastError)
	assert.Len(t, h.auditEntries(), 1)
	assert.Equal(t, 1, h.metrics.get("delivery:failed"))
}

func TestDispatcher_RedriveResubmitsFailedJobs(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReceiveNotifications)
	h.addIdentity("alice", "ops", true, domain.PortalAdmin, "pw")
	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down")).Times(3)

	_, err := h.audit.Record(context.Background(), "actor", domain.ActionRoleUpdated, "role:ops")
	require.NoError(t, err)
	require.Equal(t, domain.JobFailed, onlyJob(t, h).Status)

	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	n, err := h.dispatcher.Redrive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job := onlyJob(t, h)
	assert.Equal(t, domain.JobDelivered, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestDispatcher_RedriveSkipsFreshPendingJobs(t *testing.T) {
	h := newHarness()
	now := time.Now().UTC()
	require.NoError(t, h.jobs.Save(context.Background(), domain.NotificationJob{
		ID: "fresh", Status: domain.JobRetrying, NextAttemptAt: now.Add(time.Second), UpdatedAt: now,
	}))
	require.NoError(t, h.jobs.Save(context.Background(), domain.NotificationJob{
		ID: "orphan", Status: domain.JobPending, NextAttemptAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}))

	n, err := h.dispatcher.Redrive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	orphan, ok := h.jobs.Get("orphan")
	require.True(t, ok)
	assert.Equal(t, domain.JobDelivered, orphan.Status, "no recipients means nothing left to deliver")
	fresh, _ := h.jobs.Get("fresh")
	assert.Equal(t, domain.JobRetrying, fresh.Status)
}

func TestDispatcher_QueueFullKeepsJobForRedrive(t *testing.T) {
	h := newHarness()
	h.pool.reject = errors.New("worker: queue full")

	_, err := h.audit.Record(context.Background(), "actor", domain.ActionRoleCreated, "role:x")
	require.NoError(t, err)

	job := onlyJob(t, h)
	assert.Equal(t, domain.JobRetrying, job.Status)
	assert.Equal(t, 1, h.metrics.get("delivery:enqueue_failed"))
}

func TestDispatcher_Backoff(t *testing.T) {
	h := newHarness()
	assert.Equal(t, time.Second, h.dispatcher.backoff(1))
	assert.Equal(t, 4*time.Second, h.dispatcher.backoff(3))
	assert.Equal(t, time.Minute, h.dispatcher.backoff(20))
}

func TestDispatcher_ScheduleRedrive(t *testing.T) {
	h := newHarness()
	c, err := h.dispatcher.ScheduleRedrive("@every 1m", time.Second)
	require.NoError(t, err)
	assert.Len(t, c.Entries(), 1)

	_, err = h.dispatcher.ScheduleRedrive("not a schedule", time.Second)
	assert.Error(t, err)
}

func TestNotificationService_ListAndMarkRead(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	svc := NewNotificationService(h.inbox)
	require.NoError(t, h.inbox.Create(ctx, domain.Notification{ID: "n1", RecipientID: "alice", Message: "hi"}))

	require.NoError(t, svc.MarkRead(ctx, "alice", "n1"))
	assert.ErrorIs(t, svc.MarkRead(ctx, "bob", "n1"), domain.ErrNotFound)

	items, err := svc.List(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.NotNil(t, items[0].ReadAt)

	_, err = svc.List(ctx, "", 10)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestAuditLogger_EnqueueFailureDoesNotFailRecord(t *testing.T) {
	h := newHarness()
	queue := new(enqueuerMock)
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("job store down"))
	logger := NewAuditLogger(h.auditRepo, queue, nopLogger{}, h.metrics)

	ctx := domain.WithScope(context.Background(), domain.RequestScope{RequestID: "req-7"})
	entry, err := logger.Record(ctx, "u1", domain.ActionRoleCreated, "role:ops")
	require.NoError(t, err)
	assert.Equal(t, "req-7", entry.RequestID)
	assert.Len(t, h.auditEntries(), 1)
	queue.AssertExpectations(t)
}

func TestAuditLogger_RejectsIncompleteEntries(t *testing.T) {
	h := newHarness()
	_, err := h.audit.Record(context.Background(), "", domain.ActionRoleCreated, "role:x")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Empty(t, h.auditEntries())
}

func TestAuditLogger_IDsSortByTime(t *testing.T) {
	h := newHarness()
	first, err := h.audit.Record(context.Background(), "u1", domain.ActionRoleCreated, "role:a")
	require.NoError(t, err)
	second, err := h.audit.Record(context.Background(), "u1", domain.ActionRoleCreated, "role:b")
	require.NoError(t, err)
	assert.Less(t, first.ID, second.ID)
}
