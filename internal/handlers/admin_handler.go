package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/BradenHooton/petguard/internal/models"
	pkghttp "github.com/BradenHooton/petguard/pkg/http"
	"github.com/go-chi/chi/v5"
)

// WhitelistAdmin manages trusted IPs
type WhitelistAdmin interface {
	Add(ctx context.Context, ipAddress, description string) (*models.IPWhitelistEntry, error)
	Remove(ctx context.Context, ipAddress string) error
	List(ctx context.Context) ([]*models.IPWhitelistEntry, error)
}

// BlocklistReader lists active IP blocks
type BlocklistReader interface {
	ListActive(ctx context.Context, limit, offset int) ([]*models.BlockedIP, error)
}

// AdminHandler handles abuse-control administration requests.
type AdminHandler struct {
	whitelist WhitelistAdmin
	blocklist BlocklistReader
	logger    *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(whitelist WhitelistAdmin, blocklist BlocklistReader, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		whitelist: whitelist,
		blocklist: blocklist,
		logger:    logger,
	}
}

// AddWhitelistRequest is the body of POST /admin/whitelist
type AddWhitelistRequest struct {
	IPAddress   string `json:"ip_address" validate:"required,ip"`
	Description string `json:"description,omitempty" validate:"max=255"`
}

// ListWhitelist handles GET /admin/whitelist
func (h *AdminHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.whitelist.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list whitelist", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve whitelist")
		return
	}
	if entries == nil {
		entries = []*models.IPWhitelistEntry{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// AddWhitelist handles POST /admin/whitelist
func (h *AdminHandler) AddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req AddWhitelistRequest
	if !decodeJSON(w, r, maxLoginBodyBytes, &req) {
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteValidationError(w, err.Error())
		return
	}

	entry, err := h.whitelist.Add(r.Context(), req.IPAddress, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteValidationError(w, err.Error())
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "IP address is already whitelisted")
		default:
			h.logger.Error("failed to add whitelist entry", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to add whitelist entry")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, entry)
}

// RemoveWhitelist handles DELETE /admin/whitelist/{ip}
func (h *AdminHandler) RemoveWhitelist(w http.ResponseWriter, r *http.Request) {
	ip, err := url.PathUnescape(chi.URLParam(r, "ip"))
	if err != nil {
		pkghttp.WriteBadRequest(w, "Invalid IP address")
		return
	}

	if err := h.whitelist.Remove(r.Context(), ip); err != nil {
		switch {
		case errors.Is(err, models.ErrValidation):
			pkghttp.WriteValidationError(w, err.Error())
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "IP address is not whitelisted")
		default:
			h.logger.Error("failed to remove whitelist entry", slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to remove whitelist entry")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListBlockedIPs handles GET /admin/blocked-ips
// Accepts optional ?limit=N (1-200, default 50) and ?offset=N.
func (h *AdminHandler) ListBlockedIPs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r, 50, 200)

	blocks, err := h.blocklist.ListActive(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list blocked ips", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve blocked IPs")
		return
	}
	if blocks == nil {
		blocks = []*models.BlockedIP{}
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]interface{}{"blocked_ips": blocks})
}

func parsePagination(r *http.Request, defaultLimit, maxLimit int) (int, int) {
	limit := defaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= maxLimit {
			limit = n
		}
	}

	offset := 0
	if o := r.URL.Query().Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
