package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/pkg/httpx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

// SessionHandler serves the login, second-factor completion, refresh,
// and logout endpoints. All request bodies are JSON.
type SessionHandler struct {
	SessionService *service.SessionService
	Gate           *service.SecurityGate
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type twoFactorRequiredResponse struct {
	TwoFactorRequired bool     `json:"twofactor_required"`
	ChallengeID       string   `json:"challenge_id"`
	Methods           []string `json:"methods"`
}

func (h *SessionHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	if !h.Gate.ValidateInput(ctx, req.Email) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "input rejected")
		return
	}
	if err := h.Gate.CheckRateLimit(ctx, clientKey(r)); err != nil {
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many login attempts")
		return
	}

	result, err := h.SessionService.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
			return
		}
		log.Error("login failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	if result.TwoFactorRequired {
		httpx.WriteJSON(w, http.StatusOK, twoFactorRequiredResponse{
			TwoFactorRequired: true,
			ChallengeID:       result.Challenge.ChallengeID,
			Methods:           result.Challenge.Methods,
		})
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(result.Tokens))
}

type completeTwoFactorRequest struct {
	Email  string `json:"email"`
	Method string `json:"method"`
	Code   string `json:"code"`
}

func (h *SessionHandler) HandleCompleteTwoFactor(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req completeTwoFactorRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Code = strings.TrimSpace(req.Code)
	if req.Email == "" || req.Method == "" || req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email, method and code are required")
		return
	}

	if err := h.Gate.CheckRateLimit(ctx, clientKey(r)); err != nil {
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many verification attempts")
		return
	}

	pair, err := h.SessionService.CompleteTwoFactor(ctx, req.Email, req.Method, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedMethod):
			httpx.WriteError(w, http.StatusBadRequest, "unsupported_method", "")
		case errors.Is(err, service.ErrNoActiveChallenge):
			httpx.WriteError(w, http.StatusUnauthorized, "no_active_challenge", "")
		case errors.Is(err, service.ErrInvalidCode),
			errors.Is(err, service.ErrNotEnrolled):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_code", "")
		case errors.Is(err, service.ErrChallengeExpired):
			httpx.WriteError(w, http.StatusUnauthorized, "challenge_expired", "")
		case errors.Is(err, service.ErrAttemptsExhausted):
			httpx.WriteError(w, http.StatusUnauthorized, "attempts_exhausted", "")
		default:
			log.Error("second-factor completion failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

type resendChallengeRequest struct {
	Email string `json:"email"`
}

// HandleResendChallenge re-delivers the pending challenge code. The
// response never reveals whether the email maps to a user or a pending
// challenge.
func (h *SessionHandler) HandleResendChallenge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req resendChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	if err := h.Gate.CheckRateLimit(ctx, clientKey(r)); err != nil {
		httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		return
	}

	if err := h.SessionService.ResendChallenge(ctx, req.Email); err != nil {
		slogx.FromContext(ctx).Error("challenge resend failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	pair, err := h.SessionService.RenewSession(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTokenReuseDetected):
			// The cascade already ran; the caller's sessions are gone.
			httpx.WriteError(w, http.StatusUnauthorized, "token_reuse_detected", "all sessions revoked")
		case errors.Is(err, service.ErrInvalidOrExpired):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_or_expired_token", "")
		default:
			log.Error("refresh failed", "err", err)
			httpx.WriteError(w, http.StatusServiceUnavailable, "server_error", "")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusOK, tokenResponse(pair))
}

func (h *SessionHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	if err := h.SessionService.Logout(ctx, req.RefreshToken); err != nil {
		slogx.FromContext(ctx).Error("logout failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SessionHandler) HandleLogoutAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := httpx.UserIDFromContext(ctx)
	if userID == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	if err := h.SessionService.LogoutAll(ctx, userID); err != nil {
		slogx.FromContext(ctx).Error("logout-all failed", "err", err)
		httpx.WriteError(w, http.StatusServiceUnavailable, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeJSON reads a small JSON body, rejecting unknown fields and
// oversized payloads.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// clientKey identifies the caller for rate limiting purposes.
func clientKey(r *http.Request) string {
	return httpx.IPKeyExtractor(r)
}
