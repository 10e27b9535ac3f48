package application

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"golang.org/x/crypto/bcrypt"

	"carehub/internal/domain"
	"carehub/internal/infrastructure/auth"
	"carehub/internal/infrastructure/memory"
	"carehub/internal/platform/worker"
)

type nopLogger struct{}

func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Debug(context.Context, string, ...any) {}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newFakeMetrics() *fakeMetrics { return &fakeMetrics{counts: map[string]int{}} }

func (m *fakeMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *fakeMetrics) get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *fakeMetrics) AuthDecision(outcome string)        { m.inc("auth:" + outcome) }
func (m *fakeMetrics) CodeIssued()                        { m.inc("code") }
func (m *fakeMetrics) AuditRecorded(action string)        { m.inc("audit:" + action) }
func (m *fakeMetrics) NotificationDelivery(result string) { m.inc("delivery:" + result) }

type notifierMock struct{ mock.Mock }

func (m *notifierMock) Deliver(ctx context.Context, entry domain.AuditEntry, recipients []domain.Identity) error {
	return m.Called(ctx, entry, recipients).Error(0)
}

type verifierMock struct{ mock.Mock }

func (m *verifierMock) Verify(ctx context.Context, token string) (domain.FederatedIdentity, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(domain.FederatedIdentity), args.Error(1)
}

type sequenceMock struct{ mock.Mock }

func (m *sequenceMock) Next(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *sequenceMock) Current(ctx context.Context, name string) (int64, error) {
	args := m.Called(ctx, name)
	return args.Get(0).(int64), args.Error(1)
}

func (m *sequenceMock) EnsureAtLeast(ctx context.Context, name string, floor int64) error {
	return m.Called(ctx, name, floor).Error(0)
}

type enqueuerMock struct{ mock.Mock }

func (m *enqueuerMock) Enqueue(ctx context.Context, entry domain.AuditEntry) error {
	return m.Called(ctx, entry).Error(0)
}

// inlinePool runs every submitted task before Submit returns.
type inlinePool struct {
	mu        sync.Mutex
	submitted int
	reject    error
}

func (p *inlinePool) Submit(task worker.Task) error {
	p.mu.Lock()
	if p.reject != nil {
		p.mu.Unlock()
		return p.reject
	}
	p.submitted++
	p.mu.Unlock()
	return task(context.Background())
}

type harness struct {
	identities *memory.IdentityRepository
	roles      *memory.RoleRepository
	sessions   *memory.SessionStore
	seq        *memory.CodeSequence
	subs       *memory.SubscriptionRepository
	auditRepo  *memory.AuditRepository
	inbox      *memory.NotificationRepository
	jobs       *memory.NotificationJobRepository
	notifier   *notifierMock
	pool       *inlinePool
	metrics    *fakeMetrics
	delays     []time.Duration

	dispatcher *NotificationDispatcher
	audit      *AuditLogger
	codes      *CodeGenerator
	hasher     *auth.PasswordHasher
	tokens     *auth.TokenManager
}

func newHarness() *harness {
	h := &harness{
		identities: memory.NewIdentityRepository(),
		roles:      memory.NewRoleRepository(),
		sessions:   memory.NewSessionStore(),
		seq:        memory.NewCodeSequence(),
		subs:       memory.NewSubscriptionRepository(),
		auditRepo:  memory.NewAuditRepository(),
		inbox:      memory.NewNotificationRepository(),
		jobs:       memory.NewNotificationJobRepository(),
		notifier:   new(notifierMock),
		pool:       &inlinePool{},
		metrics:    newFakeMetrics(),
		hasher:     auth.NewPasswordHasher(bcrypt.MinCost),
	}
	h.tokens, _ = auth.NewTokenManager("test-secret-test-secret-test-secret")
	h.dispatcher = NewNotificationDispatcher(h.jobs, h.inbox, h.identities, h.roles, h.notifier, h.pool, nopLogger{}, h.metrics,
		DispatcherConfig{MaxAttempts: 3, BaseBackoff: time.Second, MaxBackoff: time.Minute})
	h.dispatcher.schedule = func(delay time.Duration, fn func()) {
		h.delays = append(h.delays, delay)
		fn()
	}
	h.audit = NewAuditLogger(h.auditRepo, h.dispatcher, nopLogger{}, h.metrics)
	h.codes, _ = NewCodeGenerator(h.seq, SubscriptionSequence, "SUB-", 4, h.metrics)
	return h
}

func (h *harness) addIdentity(id string, roleID string, active bool, portal domain.Portal, password string) domain.Identity {
	hash, _ := h.hasher.Hash(password)
	identity := domain.Identity{
		ID:           id,
		Email:        id + "@example.com",
		Name:         id,
		Portal:       portal,
		RoleID:       roleID,
		PasswordHash: hash,
		Active:       active,
	}
	_ = h.identities.Create(context.Background(), identity)
	return identity
}

func (h *harness) addRole(id string, perms ...domain.Permission) domain.Role {
	role := domain.Role{ID: id, Name: id, Permissions: perms}
	_ = h.roles.Create(context.Background(), role)
	return role
}

func (h *harness) auditEntries() []domain.AuditEntry {
	entries, _ := h.auditRepo.List(context.Background(), 0)
	return entries
}
