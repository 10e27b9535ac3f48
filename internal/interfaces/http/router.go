package http

import (
	stdhttp "net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	adaptermiddleware "carehub/internal/adapters/http/middleware"
	"carehub/internal/adapters/metrics"
	"carehub/internal/application"
	"carehub/internal/domain"
	"carehub/internal/ports"
)

type Services struct {
	Sessions      *application.SessionService
	Authz         *application.AuthorizationService
	Roles         *application.RoleService
	Notifications *application.NotificationService
	Subscriptions *application.SubscriptionService
	Audit         *application.AuditLogger
}

type Options struct {
	Logger         ports.Logger
	Metrics        *metrics.Metrics
	RequestTimeout time.Duration
	SecureCookies  bool
	// TracingSegment enables one X-Ray segment per request when set.
	TracingSegment string
}

// NewRouter builds the fixed middleware chain and mounts every module.
func NewRouter(svc Services, opts Options) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = adaptermiddleware.ErrorHandler(opts.Logger)

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if opts.TracingSegment != "" {
		e.Use(adaptermiddleware.XRayMiddleware(opts.TracingSegment))
	}
	if opts.Metrics != nil {
		e.Use(adaptermiddleware.RequestLogger(opts.Logger, opts.Metrics.RequestDuration))
	} else {
		e.Use(adaptermiddleware.RequestLogger(opts.Logger, nil))
	}
	if opts.RequestTimeout > 0 {
		e.Use(middleware.ContextTimeout(opts.RequestTimeout))
	}
	e.Use(adaptermiddleware.RequestScope())

	guard := func(perm domain.Permission) []echo.MiddlewareFunc {
		return adaptermiddleware.Protect(svc.Sessions, svc.Authz, perm)
	}
	// authenticated only
	const anyone domain.Permission = ""

	auth := NewAuthHandler(svc.Sessions, "", opts.SecureCookies)
	provider := NewAuthHandler(svc.Sessions, domain.PortalProvider, opts.SecureCookies)
	roles := NewRolesHandler(svc.Roles)
	notifications := NewNotificationsHandler(svc.Notifications)
	subscriptions := NewSubscriptionsHandler(svc.Subscriptions)
	audit := NewAuditHandler(svc.Audit)

	d := NewDispatcher(e)
	modules := []module{
		{"/auth", func(g *echo.Group) {
			g.POST("/signin", auth.SignIn)
			g.POST("/signout", auth.SignOut, guard(anyone)...)
			g.GET("/me", auth.Me, guard(anyone)...)
		}},
		{"/provider-auth", func(g *echo.Group) {
			g.POST("/signin", provider.SignIn)
			g.POST("/exchange", provider.Exchange)
		}},
		{"/roles", func(g *echo.Group) {
			g.GET("", roles.List, guard(domain.PermReadRoles)...)
			g.GET("/permissions", roles.Permissions, guard(domain.PermReadRoles)...)
			g.POST("", roles.Create, guard(domain.PermManageRoles)...)
			g.PUT("/:id", roles.Update, guard(domain.PermManageRoles)...)
			g.POST("/:id/members", roles.AssignMember, guard(domain.PermManageIdentities)...)
		}},
		{"/notifications", func(g *echo.Group) {
			g.GET("", notifications.List, guard(anyone)...)
			g.POST("/:id/read", notifications.MarkRead, guard(anyone)...)
		}},
		{"/subscriptions", func(g *echo.Group) {
			g.POST("", subscriptions.Create, guard(domain.PermManageSubscriptions)...)
			g.GET("", subscriptions.List, guard(domain.PermReadSubscriptions)...)
			g.GET("/latest-code", subscriptions.LatestCode, guard(domain.PermReadSubscriptions)...)
			g.GET("/:code", subscriptions.Get, guard(domain.PermReadSubscriptions)...)
		}},
		{"/audit", func(g *echo.Group) {
			g.GET("", audit.List, guard(domain.PermReadAudit)...)
		}},
		{"/healthz", func(g *echo.Group) {
			g.GET("", func(c echo.Context) error {
				return respond(c, stdhttp.StatusOK, map[string]string{"status": "ok"})
			})
		}},
	}
	if opts.Metrics != nil {
		modules = append(modules, module{"/metrics", func(g *echo.Group) {
			g.GET("", echo.WrapHandler(opts.Metrics.Handler()))
		}})
	}
	for _, m := range modules {
		if err := d.Mount(m.prefix, m.register); err != nil {
			return nil, err
		}
	}
	return e, nil
}
