package http

import (
	"errors"
	"net/http"

	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/pkg/httpx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

// TwoFactorHandler serves the authenticated second-factor management
// endpoints: TOTP enrollment, activation, backup codes, and disable.
type TwoFactorHandler struct {
	TwoFactorService *service.TwoFactorService
	UserService      *service.UserService
}

type enrollTOTPResponse struct {
	Secret  string `json:"secret"`
	URL     string `json:"url"`
	Issuer  string `json:"issuer"`
	Account string `json:"account"`
}

func (h *TwoFactorHandler) HandleEnrollTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	user, err := h.UserService.GetUserByID(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	enrollment, err := h.TwoFactorService.EnrollTOTP(ctx, user)
	if err != nil {
		if errors.Is(err, service.ErrTwoFactorAlreadyEnabled) {
			httpx.WriteError(w, http.StatusConflict, "twofactor_already_enabled", "")
			return
		}
		log.Error("totp enrollment failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, enrollTOTPResponse{
		Secret:  enrollment.Secret,
		URL:     enrollment.URL,
		Issuer:  enrollment.Issuer,
		Account: enrollment.Account,
	})
}

type activateTOTPRequest struct {
	Code string `json:"code"`
}

type backupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

func (h *TwoFactorHandler) HandleActivateTOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req activateTOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.Code == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	codes, err := h.TwoFactorService.ActivateTOTP(ctx, httpx.UserIDFromContext(ctx), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrTwoFactorAlreadyEnabled):
			httpx.WriteError(w, http.StatusConflict, "twofactor_already_enabled", "")
		case errors.Is(err, service.ErrNotEnrolled):
			httpx.WriteError(w, http.StatusBadRequest, "totp_not_enrolled", "")
		case errors.Is(err, service.ErrInvalidTOTPCode):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_totp_code", "")
		default:
			log.Error("totp activation failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	// The plaintext codes are shown exactly once.
	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *TwoFactorHandler) HandleRegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	codes, err := h.TwoFactorService.RegenerateBackupCodes(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		if errors.Is(err, service.ErrTwoFactorNotEnabled) {
			httpx.WriteError(w, http.StatusConflict, "twofactor_not_enabled", "")
			return
		}
		log.Error("backup code regeneration failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, backupCodesResponse{BackupCodes: codes})
}

func (h *TwoFactorHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.TwoFactorService.Disable(ctx, httpx.UserIDFromContext(ctx)); err != nil {
		if errors.Is(err, service.ErrTwoFactorNotEnabled) {
			httpx.WriteError(w, http.StatusConflict, "twofactor_not_enabled", "")
			return
		}
		log.Error("twofactor disable failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
