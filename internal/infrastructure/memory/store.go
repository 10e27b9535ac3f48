// Package memory holds process-local implementations of the storage ports,
// used by the development profile and by HTTP-level tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"carehub/internal/domain"
)

type IdentityRepository struct {
	mu    sync.RWMutex
	byID  map[string]domain.Identity
	email map[string]string
}

func NewIdentityRepository() *IdentityRepository {
	return &IdentityRepository{byID: map[string]domain.Identity{}, email: map[string]string{}}
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

func (r *IdentityRepository) Create(_ context.Context, identity domain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeEmail(identity.Email)
	if _, ok := r.byID[identity.ID]; ok {
		return domain.ErrConflict
	}
	if _, ok := r.email[key]; ok {
		return domain.ErrConflict
	}
	r.byID[identity.ID] = identity
	r.email[key] = identity.ID
	return nil
}

func (r *IdentityRepository) GetByID(_ context.Context, id string) (domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.byID[id]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return identity, nil
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	r.mu.RLock()
	id, ok := r.email[normalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return domain.Identity{}, domain.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *IdentityRepository) SetRole(_ context.Context, identityID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	identity, ok := r.byID[identityID]
	if !ok {
		return domain.ErrNotFound
	}
	identity.RoleID = roleID
	identity.UpdatedAt = time.Now().UTC()
	r.byID[identityID] = identity
	return nil
}

func (r *IdentityRepository) ListByRole(_ context.Context, roleID string) ([]domain.Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.Identity{}
	for _, identity := range r.byID {
		if identity.RoleID == roleID {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type RoleRepository struct {
	mu    sync.RWMutex
	roles map[string]domain.Role
}

func NewRoleRepository() *RoleRepository {
	return &RoleRepository{roles: map[string]domain.Role{}}
}

func (r *RoleRepository) Create(_ context.Context, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[role.ID]; ok {
		return domain.ErrConflict
	}
	role.Revision = 1
	r.roles[role.ID] = cloneRole(role)
	return nil
}

func (r *RoleRepository) Update(_ context.Context, role domain.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.roles[role.ID]
	if !ok {
		return domain.ErrNotFound
	}
	role.CreatedAt = current.CreatedAt
	role.Revision = current.Revision + 1
	r.roles[role.ID] = cloneRole(role)
	return nil
}

func (r *RoleRepository) Revision(_ context.Context, roleID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[roleID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return role.Revision, nil
}

func (r *RoleRepository) GetByID(_ context.Context, roleID string) (domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[roleID]
	if !ok {
		return domain.Role{}, domain.ErrNotFound
	}
	return cloneRole(role), nil
}

func (r *RoleRepository) List(_ context.Context) ([]domain.Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneRole(role domain.Role) domain.Role {
	role.Permissions = append([]domain.Permission(nil), role.Permissions...)
	return role
}

type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	now      func() time.Time
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: map[string]domain.Session{}, now: time.Now}
}

func (s *SessionStore) Create(_ context.Context, session domain.Session, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ExpiresAt.IsZero() {
		session.ExpiresAt = s.now().Add(ttl)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	if !s.now().Before(session.ExpiresAt) {
		delete(s.sessions, sessionID)
		return domain.Session{}, domain.ErrNotFound
	}
	return session, nil
}

func (s *SessionStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// CodeSequence serializes every counter operation behind one mutex.
type CodeSequence struct {
	mu       sync.Mutex
	counters map[string]int64
}

func NewCodeSequence() *CodeSequence {
	return &CodeSequence{counters: map[string]int64{}}
}

func (s *CodeSequence) Next(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name]++
	return s.counters[name], nil
}

func (s *CodeSequence) Current(_ context.Context, name string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.counters[name]
	if !ok || v == 0 {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (s *CodeSequence) EnsureAtLeast(_ context.Context, name string, floor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counters[name] < floor {
		s.counters[name] = floor
	}
	return nil
}

type SubscriptionRepository struct {
	mu   sync.RWMutex
	subs map[string]domain.Subscription
}

func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{subs: map[string]domain.Subscription{}}
}

func (r *SubscriptionRepository) Create(_ context.Context, sub domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub.Code]; ok {
		return domain.ErrConflict
	}
	r.subs[sub.Code] = sub
	return nil
}

func (r *SubscriptionRepository) GetByCode(_ context.Context, code string) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subs[code]
	if !ok {
		return domain.Subscription{}, domain.ErrNotFound
	}
	return sub, nil
}

func (r *SubscriptionRepository) List(_ context.Context, limit int) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return domain.CodeSortKey(out[i].Code) > domain.CodeSortKey(out[j].Code) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *SubscriptionRepository) HighestCode(ctx context.Context, prefix string) (string, error) {
	subs, err := r.List(ctx, 0)
	if err != nil {
		return "", err
	}
	for _, sub := range subs {
		if domain.IsSequentialCode(sub.Code, prefix) {
			return sub.Code, nil
		}
	}
	return "", domain.ErrNotFound
}

type AuditRepository struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(_ context.Context, entry domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == entry.ID {
			return domain.ErrConflict
		}
	}
	r.entries = append(r.entries, entry)
	return nil
}

// List returns newest entries first.
func (r *AuditRepository) List(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.AuditEntry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		out = append(out, r.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type NotificationRepository struct {
	mu    sync.RWMutex
	items map[string][]domain.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{items: map[string][]domain.Notification{}}
}

// Create overwrites a row with the same id, matching a keyed put.
func (r *NotificationRepository) Create(_ context.Context, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[n.RecipientID]
	for i := range items {
		if items[i].ID == n.ID {
			items[i] = n
			return nil
		}
	}
	r.items[n.RecipientID] = append(items, n)
	return nil
}

func (r *NotificationRepository) ListByRecipient(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.items[recipientID]
	out := make([]domain.Notification, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		out = append(out, items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, recipientID, notificationID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	items := r.items[recipientID]
	for i := range items {
		if items[i].ID == notificationID {
			if items[i].ReadAt == nil {
				readAt := at
				items[i].ReadAt = &readAt
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

type NotificationJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]domain.NotificationJob
}

func NewNotificationJobRepository() *NotificationJobRepository {
	return &NotificationJobRepository{jobs: map[string]domain.NotificationJob{}}
}

func (r *NotificationJobRepository) Save(_ context.Context, job domain.NotificationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
	return nil
}

func (r *NotificationJobRepository) Get(id string) (domain.NotificationJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func (r *NotificationJobRepository) ListByStatus(_ context.Context, status domain.JobStatus, limit int) ([]domain.NotificationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []domain.NotificationJob{}
	for _, job := range r.jobs {
		if job.Status == status {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
