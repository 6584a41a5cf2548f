// Package http wires the session, second-factor, and system endpoints
// onto a net/http mux with the shared middleware chain.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/internal/auth/store"
	"github.com/attendgrid/sessiond/pkg/httpx"
	"github.com/attendgrid/sessiond/pkg/jwtx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	codec        *jwtx.Codec
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store store.Store

	SessionService   *service.SessionService
	TwoFactorService *service.TwoFactorService
	UserService      *service.UserService
	Gate             *service.SecurityGate
}

func NewRouter(
	codec *jwtx.Codec,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		codec:        codec,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		httpx.SecurityHeaders(),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSessions()
	r.registerTwoFactor()
	r.registerUsers()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSessions() {
	sessions := &SessionHandler{
		SessionService: r.SessionService,
		Gate:           r.Gate,
	}

	// Credential endpoints get the strict budget; refresh is routine
	// client behavior and gets more headroom.
	r.Mux.Handle("POST /v1/session/login",
		httpx.Chain(http.HandlerFunc(sessions.HandleLogin),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/session/2fa",
		httpx.Chain(http.HandlerFunc(sessions.HandleCompleteTwoFactor),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/session/2fa/resend",
		httpx.Chain(http.HandlerFunc(sessions.HandleResendChallenge),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/session/refresh",
		httpx.Chain(http.HandlerFunc(sessions.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/session/logout",
		httpx.Chain(http.HandlerFunc(sessions.HandleLogout),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("POST /v1/session/logout_all",
		httpx.Chain(http.HandlerFunc(sessions.HandleLogoutAll),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerTwoFactor() {
	twofactor := &TwoFactorHandler{
		TwoFactorService: r.TwoFactorService,
		UserService:      r.UserService,
	}

	r.Mux.Handle("POST /v1/2fa/totp/enroll",
		httpx.Chain(http.HandlerFunc(twofactor.HandleEnrollTOTP),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/2fa/totp/activate",
		httpx.Chain(http.HandlerFunc(twofactor.HandleActivateTOTP),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/2fa/backup-codes",
		httpx.Chain(http.HandlerFunc(twofactor.HandleRegenerateBackupCodes),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/2fa/disable",
		httpx.Chain(http.HandlerFunc(twofactor.HandleDisable),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerUsers() {
	users := &UserHandler{
		UserService: r.UserService,
		Gate:        r.Gate,
	}

	r.Mux.Handle("POST /v1/users",
		httpx.Chain(http.HandlerFunc(users.HandleRegister),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("GET /v1/userinfo",
		httpx.Chain(http.HandlerFunc(users.HandleUserinfo),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.store))

	audit := &AuditHandler{Gate: r.Gate}
	r.Mux.Handle("GET /v1/audit/events",
		httpx.Chain(http.HandlerFunc(audit.HandleList),
			httpx.AuthnMiddleware(r.codec),
			httpx.RateLimitByUser(httpx.LenientLimit),
		),
	)
}
