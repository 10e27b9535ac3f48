package http

import (
	"fmt"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	adaptermiddleware "carehub/internal/adapters/http/middleware"
	"carehub/internal/application"
	"carehub/internal/domain"
)

func respond(c echo.Context, status int, data any) error {
	return adaptermiddleware.Success(c, status, data)
}

// bind decodes and validates the body; decode failures surface as validation errors.
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid payload", domain.ErrInvalidInput)
	}
	return c.Validate(req)
}

func caller(c echo.Context) (domain.Principal, error) {
	p, ok := domain.PrincipalFrom(c.Request().Context())
	if !ok {
		return domain.Principal{}, domain.ErrUnauthenticated
	}
	return p, nil
}

func queryLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput)
	}
	return n, nil
}

type AuthHandler struct {
	sessions *application.SessionService
	portal   domain.Portal
	secure   bool
}

// NewAuthHandler signs in identities of portal only; an empty portal admits any.
func NewAuthHandler(sessions *application.SessionService, portal domain.Portal, secureCookies bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, portal: portal, secure: secureCookies}
}

type signInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (h *AuthHandler) SignIn(c echo.Context) error {
	var req signInRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.sessions.SignIn(c.Request().Context(), req.Email, req.Password, c.Request().UserAgent(), h.portal)
	if err != nil {
		return err
	}
	h.setCookie(c, res.Token, h.sessions.TTL())
	return respond(c, stdhttp.StatusOK, res)
}

func (h *AuthHandler) Exchange(c echo.Context) error {
	var req struct {
		IDToken string `json:"id_token" validate:"required"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.sessions.Exchange(c.Request().Context(), req.IDToken, c.Request().UserAgent())
	if err != nil {
		return err
	}
	h.setCookie(c, res.Token, h.sessions.TTL())
	return respond(c, stdhttp.StatusOK, res)
}

func (h *AuthHandler) SignOut(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.sessions.SignOut(c.Request().Context(), p); err != nil {
		return err
	}
	h.setCookie(c, "", -1)
	return respond(c, stdhttp.StatusNoContent, nil)
}

type meView struct {
	Identity    domain.Identity     `json:"identity"`
	RoleID      string              `json:"role_id,omitempty"`
	RoleName    string              `json:"role_name,omitempty"`
	Permissions []domain.Permission `json:"permissions"`
}

func (h *AuthHandler) Me(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	perms := append([]domain.Permission{}, p.Role.Permissions...)
	return respond(c, stdhttp.StatusOK, meView{Identity: p.Identity, RoleID: p.Role.ID, RoleName: p.Role.Name, Permissions: perms})
}

// setCookie clears the cookie when ttl is negative.
func (h *AuthHandler) setCookie(c echo.Context, token string, ttl time.Duration) {
	maxAge := int(ttl.Seconds())
	if ttl < 0 {
		maxAge = -1
	}
	c.SetCookie(&stdhttp.Cookie{
		Name:     adaptermiddleware.SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: stdhttp.SameSiteLaxMode,
	})
}

type RolesHandler struct{ service *application.RoleService }

func NewRolesHandler(service *application.RoleService) *RolesHandler {
	return &RolesHandler{service: service}
}

type roleRequest struct {
	ID          string   `json:"id" validate:"required,max=64"`
	Name        string   `json:"name" validate:"required,max=128"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

func (h *RolesHandler) Create(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	var req roleRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	role, err := h.service.Create(c.Request().Context(), p.Identity.ID, application.RoleInput(req))
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusCreated, role)
}

func (h *RolesHandler) Update(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	var req struct {
		Name        string   `json:"name" validate:"required,max=128"`
		Permissions []string `json:"permissions" validate:"dive,required"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	role, err := h.service.Update(c.Request().Context(), p.Identity.ID, application.RoleInput{
		ID:          c.Param("id"),
		Name:        req.Name,
		Permissions: req.Permissions,
	})
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, role)
}

func (h *RolesHandler) List(c echo.Context) error {
	roles, err := h.service.List(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, roles)
}

func (h *RolesHandler) Permissions(c echo.Context) error {
	return respond(c, stdhttp.StatusOK, domain.AllPermissions)
}

func (h *RolesHandler) AssignMember(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	var req struct {
		IdentityID string `json:"identity_id" validate:"required"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.service.AssignMember(c.Request().Context(), p.Identity.ID, c.Param("id"), req.IdentityID); err != nil {
		return err
	}
	return respond(c, stdhttp.StatusNoContent, nil)
}

type NotificationsHandler struct {
	service *application.NotificationService
}

func NewNotificationsHandler(service *application.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{service: service}
}

func (h *NotificationsHandler) List(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	items, err := h.service.List(c.Request().Context(), p.Identity.ID, limit)
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, items)
}

func (h *NotificationsHandler) MarkRead(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.service.MarkRead(c.Request().Context(), p.Identity.ID, c.Param("id")); err != nil {
		return err
	}
	return respond(c, stdhttp.StatusNoContent, nil)
}

type SubscriptionsHandler struct {
	service *application.SubscriptionService
}

func NewSubscriptionsHandler(service *application.SubscriptionService) *SubscriptionsHandler {
	return &SubscriptionsHandler{service: service}
}

func (h *SubscriptionsHandler) Create(c echo.Context) error {
	p, err := caller(c)
	if err != nil {
		return err
	}
	var req struct {
		CompanyID string `json:"company_id" validate:"required"`
		PlanID    string `json:"plan_id" validate:"required"`
		Seats     int    `json:"seats" validate:"required,gt=0"`
	}
	if err := bind(c, &req); err != nil {
		return err
	}
	sub, err := h.service.Create(c.Request().Context(), p.Identity.ID, application.CreateSubscriptionInput{
		CompanyID: req.CompanyID,
		PlanID:    req.PlanID,
		Seats:     req.Seats,
	})
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusCreated, sub)
}

func (h *SubscriptionsHandler) List(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	subs, err := h.service.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, subs)
}

func (h *SubscriptionsHandler) LatestCode(c echo.Context) error {
	code, err := h.service.LatestCode(c.Request().Context())
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, map[string]string{"code": code})
}

func (h *SubscriptionsHandler) Get(c echo.Context) error {
	sub, err := h.service.Get(c.Request().Context(), c.Param("code"))
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, sub)
}

type AuditHandler struct{ audit *application.AuditLogger }

func NewAuditHandler(audit *application.AuditLogger) *AuditHandler {
	return &AuditHandler{audit: audit}
}

func (h *AuditHandler) List(c echo.Context) error {
	limit, err := queryLimit(c)
	if err != nil {
		return err
	}
	entries, err := h.audit.List(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return respond(c, stdhttp.StatusOK, entries)
}
