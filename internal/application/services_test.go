package application

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carehub/internal/domain"
)

func TestRoleService_Create(t *testing.T) {
	h := newHarness()
	svc := NewRoleService(h.roles, h.identities, h.audit)

	role, err := svc.Create(context.Background(), "admin-1", RoleInput{
		ID:          "auditor",
		Name:        "Auditor",
		Permissions: []string{"read-audit", "read-roles", "read-audit"},
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Permission{domain.PermReadAudit, domain.PermReadRoles}, role.Permissions)
	assert.False(t, role.CreatedAt.IsZero())

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, domain.ActionRoleCreated, entries[0].Action)
	assert.Equal(t, "role:auditor", entries[0].Target)
}

func TestRoleService_CreateRejectsUnknownPermission(t *testing.T) {
	h := newHarness()
	svc := NewRoleService(h.roles, h.identities, h.audit)

	_, err := svc.Create(context.Background(), "admin-1", RoleInput{ID: "x", Name: "X", Permissions: []string{"launch-missiles"}})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = svc.Create(context.Background(), "admin-1", RoleInput{ID: "", Name: "X"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	roles, _ := h.roles.List(context.Background())
	assert.Empty(t, roles)
	assert.Empty(t, h.auditEntries())
}

func TestRoleService_CreateDuplicate(t *testing.T) {
	h := newHarness()
	h.addRole("ops")
	svc := NewRoleService(h.roles, h.identities, h.audit)

	_, err := svc.Create(context.Background(), "admin-1", RoleInput{ID: "ops", Name: "Ops"})
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Empty(t, h.auditEntries())
}

func TestRoleService_Update(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReadRoles)
	svc := NewRoleService(h.roles, h.identities, h.audit)

	role, err := svc.Update(context.Background(), "admin-1", RoleInput{ID: "ops", Name: "Operations", Permissions: []string{"manage-roles"}})
	require.NoError(t, err)
	assert.Equal(t, "Operations", role.Name)

	stored, err := h.roles.GetByID(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, []domain.Permission{domain.PermManageRoles}, stored.Permissions)
	assert.Equal(t, domain.ActionRoleUpdated, h.auditEntries()[0].Action)

	_, err = svc.Update(context.Background(), "admin-1", RoleInput{ID: "ghost", Name: "Ghost"})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Len(t, h.auditEntries(), 1)
}

func TestRoleService_AssignMember(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReadRoles)
	h.addIdentity("bob", "", true, domain.PortalAdmin, "pw")
	svc := NewRoleService(h.roles, h.identities, h.audit)

	require.NoError(t, svc.AssignMember(context.Background(), "admin-1", "ops", "bob"))
	bob, err := h.identities.GetByID(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "ops", bob.RoleID)

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionRoleMemberAssigned, entries[0].Action)
	assert.Equal(t, "identity:bob", entries[0].Target)

	assert.ErrorIs(t, svc.AssignMember(context.Background(), "admin-1", "ghost", "bob"), domain.ErrNotFound)
	assert.ErrorIs(t, svc.AssignMember(context.Background(), "admin-1", "ops", "nobody"), domain.ErrNotFound)
	assert.Len(t, h.auditEntries(), 1)
}

func TestAuthorizationService_Authorize(t *testing.T) {
	metrics := newFakeMetrics()
	svc := NewAuthorizationService(nopLogger{}, metrics)
	principal := domain.NewPrincipal(domain.Identity{ID: "u1", Active: true}, "s1", domain.Role{ID: "ops", Permissions: []domain.Permission{domain.PermReadRoles}})

	assert.True(t, svc.Authorize(context.Background(), principal, domain.PermReadRoles).Allowed)
	d := svc.Authorize(context.Background(), principal, domain.PermManageRoles)
	assert.False(t, d.Allowed)
	assert.Equal(t, domain.ReasonMissingPermission, d.Reason)
	svc.Unauthenticated(context.Background(), domain.ErrUnauthenticated)

	assert.Equal(t, 1, metrics.get("auth:allow"))
	assert.Equal(t, 1, metrics.get("auth:deny"))
	assert.Equal(t, 1, metrics.get("auth:unauthenticated"))
}

func TestSubscriptionService_CreateAllocatesAndAudits(t *testing.T) {
	h := newHarness()
	svc := NewSubscriptionService(h.subs, h.codes, h.audit)
	ctx := context.Background()

	first, err := svc.Create(ctx, "admin-1", CreateSubscriptionInput{CompanyID: "acme", PlanID: "gold", Seats: 10})
	require.NoError(t, err)
	second, err := svc.Create(ctx, "admin-1", CreateSubscriptionInput{CompanyID: "acme", PlanID: "gold", Seats: 5})
	require.NoError(t, err)
	assert.Equal(t, "SUB-0001", first.Code)
	assert.Equal(t, "SUB-0002", second.Code)

	got, err := svc.Get(ctx, "SUB-0002")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Seats)

	latest, err := svc.LatestCode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "SUB-0002", latest)

	list, err := svc.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "SUB-0002", list[0].Code)

	entries := h.auditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "subscription:SUB-0002", entries[0].Target)
}

func TestSubscriptionService_ExactlyOneAuditEntryWhenDeliveryFails(t *testing.T) {
	h := newHarness()
	h.addRole("ops", domain.PermReceiveNotifications)
	h.addIdentity("alice", "ops", true, domain.PortalAdmin, "pw")
	h.notifier.On("Deliver", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("hook down"))
	svc := NewSubscriptionService(h.subs, h.codes, h.audit)

	sub, err := svc.Create(context.Background(), "admin-1", CreateSubscriptionInput{CompanyID: "acme", PlanID: "gold", Seats: 1})
	require.NoError(t, err)

	entries := h.auditEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "admin-1", entries[0].ActorID)
	assert.Equal(t, "subscription:"+sub.Code, entries[0].Target)
}

func TestSubscriptionService_StoreOutage(t *testing.T) {
	h := newHarness()
	seq := new(sequenceMock)
	seq.On("Next", mock.Anything, SubscriptionSequence).Return(int64(0), fmt.Errorf("%w: timeout", domain.ErrUnavailable))
	codes, err := NewCodeGenerator(seq, SubscriptionSequence, "SUB-", 4, h.metrics)
	require.NoError(t, err)
	svc := NewSubscriptionService(h.subs, codes, h.audit)

	_, err = svc.Create(context.Background(), "admin-1", CreateSubscriptionInput{CompanyID: "acme", PlanID: "gold", Seats: 1})
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.Empty(t, h.auditEntries())
}

func TestSubscriptionService_Validation(t *testing.T) {
	h := newHarness()
	svc := NewSubscriptionService(h.subs, h.codes, h.audit)

	_, err := svc.Create(context.Background(), "admin-1", CreateSubscriptionInput{CompanyID: "acme", PlanID: "gold"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Get(context.Background(), "INV-1")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = h.codes.LastIssued(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound, "rejected input allocates nothing")
}

func TestBootstrapper_Seed(t *testing.T) {
	h := newHarness()
	b := NewBootstrapper(h.roles, h.identities, h.hasher, nopLogger{})
	in := BootstrapInput{AdminEmail: "Root@Example.com", AdminPassword: "pw", AdminName: "Root"}

	require.NoError(t, b.Seed(context.Background(), in))
	require.NoError(t, b.Seed(context.Background(), in))

	role, err := h.roles.GetByID(context.Background(), SuperAdminRoleID)
	require.NoError(t, err)
	assert.ElementsMatch(t, domain.AllPermissions, role.Permissions)

	admin, err := h.identities.GetByEmail(context.Background(), "root@example.com")
	require.NoError(t, err)
	assert.Equal(t, SuperAdminRoleID, admin.RoleID)
	assert.True(t, admin.Active)
	assert.NoError(t, h.hasher.Compare(admin.PasswordHash, "pw"))
}

func TestBootstrapper_RepairsSuperAdminRole(t *testing.T) {
	h := newHarness()
	h.addRole(SuperAdminRoleID, domain.PermReadRoles)
	b := NewBootstrapper(h.roles, h.identities, h.hasher, nopLogger{})

	require.NoError(t, b.Seed(context.Background(), BootstrapInput{}))
	role, err := h.roles.GetByID(context.Background(), SuperAdminRoleID)
	require.NoError(t, err)
	assert.ElementsMatch(t, domain.AllPermissions, role.Permissions)
}

func TestBootstrapper_RequiresPassword(t *testing.T) {
	h := newHarness()
	b := NewBootstrapper(h.roles, h.identities, h.hasher, nopLogger{})
	err := b.Seed(context.Background(), BootstrapInput{AdminEmail: "root@example.com"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
