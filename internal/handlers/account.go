package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ipulse/apiserver/internal/services"
	"github.com/ipulse/apiserver/internal/store"
	"github.com/ipulse/apiserver/types"
)

const (
	msgRegistered       = "Registered successfully"
	msgRegisterFailed   = "Error registering user"
	msgEmailTaken       = "Email already registered"
	msgLoginFailed      = "Error logging in"
	msgBadCredentials   = "Invalid email or password"
	msgRecoveryFailed   = "Error retrieving password"
	msgEmailNotFound    = "Email not found"
	msgResetSent        = "Password reset instructions sent"
	msgResetUnavailable = "Password reset is temporarily unavailable"
	msgResetDone        = "Password updated"
	msgResetFailed      = "Error resetting password"
)

// AccountHandler exposes the account service over HTTP.
type AccountHandler struct {
	accounts *services.AccountService
}

func NewAccountHandler(accounts *services.AccountService) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// AccountRouter registers account routes on the given router. The reset
// endpoint only exists when the service runs hardened.
func AccountRouter(r chi.Router, accounts *services.AccountService) {
	handler := NewAccountHandler(accounts)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/forgot-password", handler.ForgotPassword)
	if accounts.Hardened() {
		r.Post("/reset-password", handler.ResetPassword)
	}
}

func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	_, err := h.accounts.Register(r.Context(), types.NewUser{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			writeFailure(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, services.ErrEmailTaken):
			writeFailure(w, http.StatusConflict, msgEmailTaken)
		default:
			writeFailure(w, http.StatusInternalServerError, msgRegisterFailed)
		}
		return
	}

	writeSuccess(w, AccountResponse{Message: msgRegistered})
}

func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			writeFailure(w, http.StatusUnauthorized, msgBadCredentials)
			return
		}
		writeFailure(w, http.StatusInternalServerError, msgLoginFailed)
		return
	}

	writeSuccess(w, AccountResponse{User: &user})
}

func (h *AccountHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	recovery, err := h.accounts.RecoverPassword(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeFailure(w, http.StatusNotFound, msgEmailNotFound)
		case errors.Is(err, services.ErrResetUnavailable):
			writeFailure(w, http.StatusServiceUnavailable, msgResetUnavailable)
		default:
			writeFailure(w, http.StatusInternalServerError, msgRecoveryFailed)
		}
		return
	}

	if h.accounts.Hardened() {
		writeSuccess(w, AccountResponse{Message: msgResetSent})
		return
	}
	writeSuccess(w, AccountResponse{Password: recovery.Password})
}

func (h *AccountHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeFailure(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.accounts.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput),
			errors.Is(err, services.ErrInvalidResetToken):
			writeFailure(w, http.StatusBadRequest, err.Error())
		default:
			writeFailure(w, http.StatusInternalServerError, msgResetFailed)
		}
		return
	}

	writeSuccess(w, AccountResponse{Message: msgResetDone})
}

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}
