package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carehub/internal/domain"
	"carehub/internal/ports"
)

type RoleInput struct {
	ID          string
	Name        string
	Permissions []string
}

type RoleService struct {
	repo       ports.RoleRepository
	identities ports.IdentityRepository
	audit      *AuditLogger
	now        func() time.Time
}

func NewRoleService(repo ports.RoleRepository, identities ports.IdentityRepository, audit *AuditLogger) *RoleService {
	return &RoleService{
		repo:       repo,
		identities: identities,
		audit:      audit,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (s *RoleService) Create(ctx context.Context, actorID string, in RoleInput) (domain.Role, error) {
	role, err := buildRole(in)
	if err != nil {
		return domain.Role{}, err
	}
	now := s.now()
	role.CreatedAt = now
	role.UpdatedAt = now
	if err := s.repo.Create(ctx, role); err != nil {
		return domain.Role{}, err
	}
	if _, err := s.audit.Record(ctx, actorID, domain.ActionRoleCreated, "role:"+role.ID); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (s *RoleService) Update(ctx context.Context, actorID string, in RoleInput) (domain.Role, error) {
	role, err := buildRole(in)
	if err != nil {
		return domain.Role{}, err
	}
	existing, err := s.repo.GetByID(ctx, role.ID)
	if err != nil {
		return domain.Role{}, err
	}
	role.CreatedAt = existing.CreatedAt
	role.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, role); err != nil {
		return domain.Role{}, err
	}
	if _, err := s.audit.Record(ctx, actorID, domain.ActionRoleUpdated, "role:"+role.ID); err != nil {
		return domain.Role{}, err
	}
	return role, nil
}

func (s *RoleService) List(ctx context.Context) ([]domain.Role, error) {
	return s.repo.List(ctx)
}

func (s *RoleService) AssignMember(ctx context.Context, actorID, roleID, identityID string) error {
	if roleID == "" || identityID == "" {
		return domain.ErrInvalidInput
	}
	if _, err := s.repo.GetByID(ctx, roleID); err != nil {
		return err
	}
	if err := s.identities.SetRole(ctx, identityID, roleID); err != nil {
		return err
	}
	_, err := s.audit.Record(ctx, actorID, domain.ActionRoleMemberAssigned, "identity:"+identityID)
	return err
}

// buildRole rejects unknown permission keys and drops duplicates.
func buildRole(in RoleInput) (domain.Role, error) {
	id := strings.TrimSpace(in.ID)
	name := strings.TrimSpace(in.Name)
	if id == "" || name == "" {
		return domain.Role{}, domain.ErrInvalidInput
	}
	seen := map[domain.Permission]struct{}{}
	perms := make([]domain.Permission, 0, len(in.Permissions))
	for _, raw := range in.Permissions {
		p, err := domain.ParsePermission(raw)
		if err != nil {
			return domain.Role{}, err
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		perms = append(perms, p)
	}
	return domain.Role{ID: id, Name: name, Permissions: perms}, nil
}

type AuthorizationService struct {
	logger  ports.Logger
	metrics ports.Metrics
}

func NewAuthorizationService(logger ports.Logger, metrics ports.Metrics) *AuthorizationService {
	return &AuthorizationService{logger: logger, metrics: metrics}
}

// Authorize evaluates the principal against perm and records the outcome.
func (s *AuthorizationService) Authorize(ctx context.Context, principal domain.Principal, perm domain.Permission) domain.Decision {
	d := domain.Evaluate(principal, perm)
	if d.Allowed {
		s.metrics.AuthDecision("allow")
		return d
	}
	s.metrics.AuthDecision("deny")
	s.logger.Info(ctx, "authorization denied",
		"identity_id", principal.Identity.ID,
		"permission", string(perm),
		"reason", string(d.Reason),
	)
	return d
}

// Unauthenticated records a request that never resolved to a principal.
func (s *AuthorizationService) Unauthenticated(ctx context.Context, cause error) {
	s.metrics.AuthDecision("unauthenticated")
	s.logger.Debug(ctx, "unauthenticated request", "error", cause)
}

const SuperAdminRoleID = "super-admin"

type BootstrapInput struct {
	AdminEmail    string
	AdminPassword string
	AdminName     string
}

// Bootstrapper makes a fresh store usable: a super-admin role holding every
// permission and, when configured, one admin identity in it.
type Bootstrapper struct {
	roles      ports.RoleRepository
	identities ports.IdentityRepository
	passwords  ports.PasswordHasher
	logger     ports.Logger
	now        func() time.Time
}

func NewBootstrapper(roles ports.RoleRepository, identities ports.IdentityRepository, passwords ports.PasswordHasher, logger ports.Logger) *Bootstrapper {
	return &Bootstrapper{
		roles:      roles,
		identities: identities,
		passwords:  passwords,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (b *Bootstrapper) Seed(ctx context.Context, in BootstrapInput) error {
	if err := b.ensureSuperAdmin(ctx); err != nil {
		return err
	}
	email := strings.TrimSpace(in.AdminEmail)
	if email == "" {
		return nil
	}
	_, err := b.identities.GetByEmail(ctx, email)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("look up bootstrap admin: %w", err)
	}
	if in.AdminPassword == "" {
		return fmt.Errorf("%w: bootstrap admin password is required", domain.ErrInvalidInput)
	}
	hash, err := b.passwords.Hash(in.AdminPassword)
	if err != nil {
		return err
	}
	now := b.now()
	admin := domain.Identity{
		ID:           newUUID(),
		Email:        strings.ToLower(email),
		Name:         in.AdminName,
		Portal:       domain.PortalAdmin,
		RoleID:       SuperAdminRoleID,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := b.identities.Create(ctx, admin); err != nil && !errors.Is(err, domain.ErrConflict) {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	b.logger.Info(ctx, "bootstrap admin created", "identity_id", admin.ID)
	return nil
}

func (b *Bootstrapper) ensureSuperAdmin(ctx context.Context) error {
	now := b.now()
	want := domain.Role{
		ID:          SuperAdminRoleID,
		Name:        "Super Admin",
		Permissions: append([]domain.Permission(nil), domain.AllPermissions...),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	existing, err := b.roles.GetByID(ctx, SuperAdminRoleID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := b.roles.Create(ctx, want); err != nil && !errors.Is(err, domain.ErrConflict) {
			return fmt.Errorf("create super-admin role: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read super-admin role: %w", err)
	}
	for _, p := range domain.AllPermissions {
		if !existing.Grants(p) {
			want.CreatedAt = existing.CreatedAt
			return b.roles.Update(ctx, want)
		}
	}
	return nil
}
