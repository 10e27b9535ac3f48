package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"carehub/internal/domain"
	"carehub/internal/platform/worker"
	"carehub/internal/ports"
)

// Submitter runs tasks in the background without blocking the caller.
type Submitter interface {
	Submit(task worker.Task) error
}

type DispatcherConfig struct {
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	RedriveBatch int
}

const inboxFanOut = 8

// NotificationDispatcher persists one job per audit entry and works it on the
// pool: write inbox rows for every recipient, then deliver to the external
// channel. Failed attempts are retried with exponential backoff.
type NotificationDispatcher struct {
	jobs       ports.NotificationJobRepository
	inbox      ports.NotificationRepository
	identities ports.IdentityRepository
	roles      ports.RoleRepository
	notifier   ports.Notifier
	pool       Submitter
	logger     ports.Logger
	metrics    ports.Metrics
	cfg        DispatcherConfig

	now      func() time.Time
	schedule func(delay time.Duration, fn func())
}

func NewNotificationDispatcher(
	jobs ports.NotificationJobRepository,
	inbox ports.NotificationRepository,
	identities ports.IdentityRepository,
	roles ports.RoleRepository,
	notifier ports.Notifier,
	pool Submitter,
	logger ports.Logger,
	metrics ports.Metrics,
	cfg DispatcherConfig,
) *NotificationDispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		cfg.MaxBackoff = cfg.BaseBackoff
	}
	if cfg.RedriveBatch <= 0 {
		cfg.RedriveBatch = 100
	}
	return &NotificationDispatcher{
		jobs:       jobs,
		inbox:      inbox,
		identities: identities,
		roles:      roles,
		notifier:   notifier,
		pool:       pool,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		now:        func() time.Time { return time.Now().UTC() },
		schedule:   func(delay time.Duration, fn func()) { time.AfterFunc(delay, fn) },
	}
}

// Enqueue stores the job before handing it to the pool, so a full queue or a
// restart leaves a job the redrive schedule can still pick up.
func (d *NotificationDispatcher) Enqueue(ctx context.Context, entry domain.AuditEntry) error {
	now := d.now()
	job := domain.NotificationJob{
		ID:            newUUID(),
		Entry:         entry,
		Status:        domain.JobPending,
		NextAttemptAt: now,
		UpdatedAt:     now,
	}
	if err := d.jobs.Save(ctx, job); err != nil {
		d.metrics.NotificationDelivery("enqueue_failed")
		return fmt.Errorf("save notification job: %w", err)
	}
	if err := d.pool.Submit(d.task(job)); err != nil {
		d.metrics.NotificationDelivery("enqueue_failed")
		job.Status = domain.JobRetrying
		job.LastError = err.Error()
		job.NextAttemptAt = now.Add(d.cfg.BaseBackoff)
		if saveErr := d.jobs.Save(ctx, job); saveErr != nil {
			d.logger.Error(ctx, "notification job update failed", "job_id", job.ID, "error", saveErr)
		}
		return fmt.Errorf("submit notification job: %w", err)
	}
	return nil
}

func (d *NotificationDispatcher) task(job domain.NotificationJob) worker.Task {
	return func(ctx context.Context) error {
		return d.run(ctx, job)
	}
}

func (d *NotificationDispatcher) run(ctx context.Context, job domain.NotificationJob) error {
	job.Attempts++
	err := d.attempt(ctx, &job)
	job.UpdatedAt = d.now()

	if err == nil {
		job.Status = domain.JobDelivered
		job.LastError = ""
		d.metrics.NotificationDelivery("delivered")
		return d.save(ctx, job)
	}

	job.LastError = err.Error()
	if job.Attempts >= d.cfg.MaxAttempts {
		job.Status = domain.JobFailed
		d.metrics.NotificationDelivery("failed")
		d.logger.Error(ctx, "notification delivery failed",
			"job_id", job.ID,
			"entry_id", job.Entry.ID,
			"attempts", job.Attempts,
			"error", err,
		)
		return d.save(ctx, job)
	}

	delay := d.backoff(job.Attempts)
	job.Status = domain.JobRetrying
	job.NextAttemptAt = job.UpdatedAt.Add(delay)
	d.metrics.NotificationDelivery("retry")
	d.logger.Warn(ctx, "notification delivery retry scheduled",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"delay", delay.String(),
		"error", err,
	)
	if saveErr := d.save(ctx, job); saveErr != nil {
		return saveErr
	}
	d.schedule(delay, func() {
		if err := d.pool.Submit(d.task(job)); err != nil {
			d.logger.Warn(context.Background(), "notification retry not queued", "job_id", job.ID, "error", err)
		}
	})
	return nil
}

func (d *NotificationDispatcher) save(ctx context.Context, job domain.NotificationJob) error {
	if err := d.jobs.Save(ctx, job); err != nil {
		return fmt.Errorf("save notification job %s: %w", job.ID, err)
	}
	return nil
}

func (d *NotificationDispatcher) attempt(ctx context.Context, job *domain.NotificationJob) error {
	recipients, err := d.recipients(ctx, job.Entry.ActorID)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil
	}
	if !job.InboxWritten {
		if err := d.writeInbox(ctx, job.Entry, recipients); err != nil {
			return fmt.Errorf("write inbox: %w", err)
		}
		job.InboxWritten = true
	}
	return d.notifier.Deliver(ctx, job.Entry, recipients)
}

// recipients are active identities whose role grants receive-notifications,
// excluding the actor who caused the entry.
func (d *NotificationDispatcher) recipients(ctx context.Context, actorID string) ([]domain.Identity, error) {
	roles, err := d.roles.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	var out []domain.Identity
	for _, role := range roles {
		if !role.Grants(domain.PermReceiveNotifications) {
			continue
		}
		members, err := d.identities.ListByRole(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range members {
			if !m.Active || m.ID == actorID {
				continue
			}
			if _, dup := seen[m.ID]; dup {
				continue
			}
			seen[m.ID] = struct{}{}
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// writeInbox keys each row by the entry id, so a retried write overwrites
// instead of duplicating.
func (d *NotificationDispatcher) writeInbox(ctx context.Context, entry domain.AuditEntry, recipients []domain.Identity) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(inboxFanOut)
	message := entry.Message()
	for _, r := range recipients {
		g.Go(func() error {
			return d.inbox.Create(ctx, domain.Notification{
				ID:           entry.ID,
				RecipientID:  r.ID,
				AuditEntryID: entry.ID,
				Message:      message,
				CreatedAt:    entry.Timestamp,
			})
		})
	}
	return g.Wait()
}

func (d *NotificationDispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.cfg.MaxBackoff {
			return d.cfg.MaxBackoff
		}
	}
	return delay
}

// Redrive resubmits failed jobs with a fresh attempt budget, plus pending or
// retrying jobs whose retry is overdue by more than the maximum backoff (their
// timer died with a previous process).
func (d *NotificationDispatcher) Redrive(ctx context.Context) (int, error) {
	now := d.now()
	var due []domain.NotificationJob

	failed, err := d.jobs.ListByStatus(ctx, domain.JobFailed, d.cfg.RedriveBatch)
	if err != nil {
		return 0, fmt.Errorf("list failed jobs: %w", err)
	}
	for _, job := range failed {
		job.Attempts = 0
		due = append(due, job)
	}
	for _, status := range []domain.JobStatus{domain.JobPending, domain.JobRetrying} {
		jobs, err := d.jobs.ListByStatus(ctx, status, d.cfg.RedriveBatch)
		if err != nil {
			return 0, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if job.NextAttemptAt.Add(d.cfg.MaxBackoff).Before(now) {
				due = append(due, job)
			}
		}
	}

	submitted := 0
	for _, job := range due {
		job.Status = domain.JobPending
		job.UpdatedAt = now
		job.NextAttemptAt = now
		if err := d.save(ctx, job); err != nil {
			return submitted, err
		}
		if err := d.pool.Submit(d.task(job)); err != nil {
			return submitted, fmt.Errorf("resubmit job %s: %w", job.ID, err)
		}
		submitted++
	}
	return submitted, nil
}

// ScheduleRedrive registers Redrive on a cron scheduler. The caller starts and
// stops the returned scheduler.
func (d *NotificationDispatcher) ScheduleRedrive(spec string, timeout time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		n, err := d.Redrive(ctx)
		if err != nil {
			d.logger.Error(ctx, "notification redrive failed", "error", err)
			return
		}
		if n > 0 {
			d.logger.Info(ctx, "notification jobs redriven", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule notification redrive %q: %w", spec, err)
	}
	return c, nil
}

// NotificationService serves the caller's own inbox.
type NotificationService struct {
	repo ports.NotificationRepository
	now  func() time.Time
}

func NewNotificationService(repo ports.NotificationRepository) *NotificationService {
	return &NotificationService{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

func (s *NotificationService) List(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if recipientID == "" {
		return nil, domain.ErrInvalidInput
	}
	return s.repo.ListByRecipient(ctx, recipientID, clampLimit(limit))
}

// MarkRead only touches the caller's own row; another recipient's id is not found.
func (s *NotificationService) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	if recipientID == "" || notificationID == "" {
		return domain.ErrInvalidInput
	}
	return s.repo.MarkRead(ctx, recipientID, notificationID, s.now())
}
