package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/BradenHooton/petguard/internal/auth"
	"github.com/BradenHooton/petguard/internal/models"
	"github.com/BradenHooton/petguard/internal/services"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
)

const maxLoginBodyBytes = 16 << 10

// LoginGuard is the pre-login check contract
type LoginGuard interface {
	Check(ctx context.Context, email, ipAddress string) (*services.GuardDecision, error)
}

// LoginRecorder is the post-login outcome contract
type LoginRecorder interface {
	Record(ctx context.Context, email string, success bool, ipAddress, userAgent string) error
}

// LoginHandler exposes the login guard to authentication front ends
type LoginHandler struct {
	guard    LoginGuard
	recorder LoginRecorder
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
}

// NewLoginHandler creates a new LoginHandler
func NewLoginHandler(guard LoginGuard, recorder LoginRecorder, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *LoginHandler {
	return &LoginHandler{
		guard:    guard,
		recorder: recorder,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// CheckLoginRequest is the body of POST /login/check
type CheckLoginRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent,omitempty" validate:"omitempty,max=512"`
}

// RecordLoginRequest is the body of POST /login/record
type RecordLoginRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Success   *bool  `json:"success" validate:"required"`
	IPAddress string `json:"ip_address,omitempty" validate:"omitempty,ip"`
	UserAgent string `json:"user_agent,omitempty" validate:"omitempty,max=512"`
}

// guardUnavailableResponse keeps the allowed flag explicit when the guard cannot decide
type guardUnavailableResponse struct {
	Allowed bool   `json:"allowed"`
	Blocked bool   `json:"blocked"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Check handles POST /login/check
func (h *LoginHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckLoginRequest
	if !decodeJSON(w, r, maxLoginBodyBytes, &req) {
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	ip := h.resolveIP(r, req.IPAddress)

	decision, err := h.guard.Check(r.Context(), req.Email, ip)
	if err != nil {
		h.writeGuardError(w, err)
		return
	}

	if decision.Blocked {
		if decision.RemainingSeconds != nil {
			w.Header().Set("Retry-After", strconv.Itoa(*decision.RemainingSeconds))
		}
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, decision)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// Record handles POST /login/record
func (h *LoginHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req RecordLoginRequest
	if !decodeJSON(w, r, maxLoginBodyBytes, &req) {
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	// A success clears the failure counters, so only the login backend may report one.
	if *req.Success && !auth.IsServiceRole(r.Context()) {
		pkghttp.WriteForbidden(w, "Recording a successful login requires the service role")
		return
	}

	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = truncate(r.UserAgent(), 512)
	}

	ip := h.resolveIP(r, req.IPAddress)

	if err := h.recorder.Record(r.Context(), req.Email, *req.Success, ip, userAgent); err != nil {
		if errors.Is(err, models.ErrValidation) {
			pkghttp.WriteValidationError(w, err.Error())
			return
		}
		h.logger.Error("failed to record login attempt", slog.Any("error", err))
		pkghttp.WriteStoreUnavailable(w, "Failed to record login attempt")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// resolveIP trusts a body-supplied address only from the service role; anyone else
// could otherwise claim a whitelisted IP.
func (h *LoginHandler) resolveIP(r *http.Request, claimed string) string {
	if claimed != "" && auth.IsServiceRole(r.Context()) {
		return claimed
	}
	return pkghttp.ExtractClientIP(r, h.ipConfig)
}

func (h *LoginHandler) writeGuardError(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrValidation) {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	h.logger.Error("login guard unavailable", slog.Any("error", err))
	pkghttp.WriteJSON(w, http.StatusInternalServerError, guardUnavailableResponse{
		Allowed: false,
		Blocked: false,
		Error:   pkghttp.CodeStoreUnavailable,
		Message: "Login is temporarily unavailable. Please try again shortly.",
	})
}

// decodeJSON reads a size-limited JSON body, writing a 400 on failure
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
