package domain

import "time"

type Portal string

const (
	PortalAdmin     Portal = "admin"
	PortalProvider  Portal = "provider"
	PortalCorporate Portal = "corporate"
	PortalEnrollee  Portal = "enrollee"
	PortalDoctor    Portal = "doctor"
)

func (p Portal) Valid() bool {
	switch p {
	case PortalAdmin, PortalProvider, PortalCorporate, PortalEnrollee, PortalDoctor:
		return true
	}
	return false
}

type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Portal       Portal    `json:"portal"`
	RoleID       string    `json:"role_id"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Role struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	// Revision is bumped by the store on every update.
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Session struct {
	ID         string    `json:"id"`
	IdentityID string    `json:"identity_id"`
	Portal     Portal    `json:"portal"`
	Device     string    `json:"device"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type Subscription struct {
	Code      string    `json:"code"`
	CompanyID string    `json:"company_id"`
	PlanID    string    `json:"plan_id"`
	Seats     int       `json:"seats"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditEntry is written once and never modified.
type AuditEntry struct {
	ID        string    `json:"id"`
	ActorID   string    `json:"actor_id"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is the one-line rendering used in inboxes and outbound notifications.
func (e AuditEntry) Message() string {
	return e.ActorID + " performed " + e.Action + " on " + e.Target
}

const (
	ActionRoleCreated         = "role.created"
	ActionRoleUpdated         = "role.updated"
	ActionRoleMemberAssigned  = "role.member_assigned"
	ActionSubscriptionCreated = "subscription.created"
	ActionSessionCreated      = "session.created"
	ActionSessionRevoked      = "session.revoked"
)

type Notification struct {
	ID           string     `json:"id"`
	RecipientID  string     `json:"recipient_id"`
	AuditEntryID string     `json:"audit_entry_id"`
	Message      string     `json:"message"`
	CreatedAt    time.Time  `json:"created_at"`
	ReadAt       *time.Time `json:"read_at,omitempty"`
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRetrying  JobStatus = "retrying"
	JobDelivered JobStatus = "delivered"
	JobFailed    JobStatus = "failed"
)

type NotificationJob struct {
	ID            string     `json:"id"`
	Entry         AuditEntry `json:"entry"`
	Status        JobStatus  `json:"status"`
	Attempts      int        `json:"attempts"`
	InboxWritten  bool       `json:"inbox_written"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt time.Time  `json:"next_attempt_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TokenClaims is what a verified session token asserts.
type TokenClaims struct {
	SessionID  string
	IdentityID string
	Portal     Portal
}

// FederatedIdentity is a caller vouched for by an external identity provider.
type FederatedIdentity struct {
	Subject string
	Email   string
}
