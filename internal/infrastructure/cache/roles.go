// Package cache puts a short-lived LRU in front of role lookups, which run on
// every authenticated request.
package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

const defaultRoleEntries = 256

// RoleRepository decorates a ports.RoleRepository. A cached role is served only
// while its revision still matches the store, so an update made by any process
// is visible to the next request. Local writes also drop the entry and bump a
// per-role generation that keeps an in-flight read from re-adding the old role.
type RoleRepository struct {
	next  ports.RoleRepository
	cache *lru.LRU[string, domain.Role]

	mu          sync.Mutex
	generations map[string]uint64
}

func NewRoleRepository(next ports.RoleRepository, size int, ttl time.Duration) *RoleRepository {
	if size <= 0 {
		size = defaultRoleEntries
	}
	return &RoleRepository{
		next:        next,
		cache:       lru.NewLRU[string, domain.Role](size, nil, ttl),
		generations: map[string]uint64{},
	}
}

func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	if err := r.next.Create(ctx, role); err != nil {
		return err
	}
	r.invalidate(role.ID)
	return nil
}

func (r *RoleRepository) Update(ctx context.Context, role domain.Role) error {
	r.invalidate(role.ID)
	if err := r.next.Update(ctx, role); err != nil {
		return err
	}
	r.invalidate(role.ID)
	return nil
}

func (r *RoleRepository) GetByID(ctx context.Context, roleID string) (domain.Role, error) {
	if cached, ok := r.cache.Get(roleID); ok {
		current, err := r.next.Revision(ctx, roleID)
		if err != nil {
			return domain.Role{}, err
		}
		if current == cached.Revision {
			return cloneRole(cached), nil
		}
	}

	gen := r.generation(roleID)
	role, err := r.next.GetByID(ctx, roleID)
	if err != nil {
		return domain.Role{}, err
	}
	r.mu.Lock()
	if r.generations[roleID] == gen {
		r.cache.Add(roleID, cloneRole(role))
	}
	r.mu.Unlock()
	return role, nil
}

func (r *RoleRepository) Revision(ctx context.Context, roleID string) (int64, error) {
	return r.next.Revision(ctx, roleID)
}

func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	return r.next.List(ctx)
}

func (r *RoleRepository) generation(roleID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generations[roleID]
}

func (r *RoleRepository) invalidate(roleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generations[roleID]++
	r.cache.Remove(roleID)
}

func cloneRole(role domain.Role) domain.Role {
	role.Permissions = append([]domain.Permission(nil), role.Permissions...)
	return role
}
