package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/attendgrid/sessiond/internal/auth/service"
	"github.com/attendgrid/sessiond/pkg/httpx"
	"github.com/attendgrid/sessiond/pkg/slogx"
)

type UserHandler struct {
	UserService *service.UserService
	Gate        *service.SecurityGate
}

type registerRequest struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Password    string `json:"password"`
}

type userResponse struct {
	ID               string   `json:"id"`
	Email            string   `json:"email"`
	DisplayName      string   `json:"display_name"`
	Roles            []string `json:"roles"`
	TwoFactorEnabled bool     `json:"twofactor_enabled"`
}

func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	if !h.Gate.ValidateInput(ctx, req.Email) || !h.Gate.ValidateInput(ctx, req.DisplayName) {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "input rejected")
		return
	}

	user, err := h.UserService.Register(ctx, req.Email, req.DisplayName, req.Password, []string{"member"})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			httpx.WriteError(w, http.StatusConflict, "email_taken", "")
		case errors.Is(err, service.ErrInvalidCredentials):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "")
		default:
			log.Error("registration failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, userResponse{
		ID:          user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       user.Roles,
	})
}

func (h *UserHandler) HandleUserinfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := h.UserService.GetUserByID(ctx, httpx.UserIDFromContext(ctx))
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, userResponse{
		ID:               user.ID,
		Email:            user.Email,
		DisplayName:      user.DisplayName,
		Roles:            user.Roles,
		TwoFactorEnabled: user.TwoFactorRequired(),
	})
}
