package web

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaydir/internal/favorites"
	"relaydir/internal/shared/logger"
	"relaydir/registry"
	"relaydir/registry/model"
)

// ServerListResponse is the envelope for directory queries.
type ServerListResponse struct {
	Servers []*model.ServerRecord `json:"servers"`
	Count   int                   `json:"count"`
	Total   int                   `json:"total"`
	HasMore bool                  `json:"hasMore"`
	Offset  int                   `json:"offset"`
	Limit   int                   `json:"limit"`
	Cache   registry.Meta         `json:"cache"`
}

// ErrorResponse is the envelope for service-level failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// StatusResponse is the public health/status envelope.
type StatusResponse struct {
	UptimeSeconds int64         `json:"uptime_seconds"`
	CachedServers int           `json:"cached_servers"`
	Cache         registry.Meta `json:"cache"`
}

// Handler serves the directory API: server queries, profile export,
// favorites and status.
type Handler struct {
	cache     *registry.Cache
	favorites *favorites.Store
	startedAt time.Time
}

func NewHandler(cache *registry.Cache, favStore *favorites.Store) *Handler {
	return &Handler{
		cache:     cache,
		favorites: favStore,
		startedAt: time.Now(),
	}
}

// HandleServers handles GET /api/servers.
//
// Query parameters: limit (default 50), offset (default 0), sortBy (one of
// score|speed|ping|uptime|users, default score), forceRefresh (bool).
// Unrecognized or out-of-range values degrade to the defaults.
func (h *Handler) HandleServers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := intParam(r, "limit", registry.DefaultLimit)
	if limit <= 0 {
		limit = registry.DefaultLimit
	}
	offset := intParam(r, "offset", registry.DefaultOffset)
	if offset < 0 {
		offset = registry.DefaultOffset
	}
	sortKey := registry.ParseSortKey(r.URL.Query().Get("sortBy"))
	forceRefresh, _ := strconv.ParseBool(r.URL.Query().Get("forceRefresh"))

	records, meta, err := h.cache.GetRecords(r.Context(), forceRefresh)
	if err != nil {
		if errors.Is(err, registry.ErrRegistryUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "registry_unavailable", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	page := registry.Query(records, sortKey, offset, limit)
	writeJSON(w, http.StatusOK, ServerListResponse{
		Servers: page.Records,
		Count:   len(page.Records),
		Total:   page.Total,
		HasMore: page.HasMore,
		Offset:  offset,
		Limit:   limit,
		Cache:   meta,
	})
}

// HandleProfileExport handles /api/profile/export. It decodes a base64
// profile payload and streams it back as an attachment for the companion
// application to import.
func (h *Handler) HandleProfileExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	payload := r.FormValue("payload")
	if payload == "" {
		writeError(w, http.StatusBadRequest, "missing_payload", "no profile payload supplied")
		return
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", fmt.Sprintf("payload is not valid base64: %v", err))
		return
	}

	filename := sanitizeFilename(r.FormValue("filename"))
	w.Header().Set("Content-Type", "application/x-openvpn-profile")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(decoded); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Warn().Err(err).Msg("Failed to stream profile to client.")
	}
}

// HandleFavorites handles GET /api/favorites.
func (h *Handler) HandleFavorites(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"favorites": h.favorites.List()})
}

// HandleFavoriteActions handles POST and DELETE on /api/favorites/{host}.
func (h *Handler) HandleFavoriteActions(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimPrefix(r.URL.Path, "/api/favorites/")
	if host == "" {
		writeError(w, http.StatusBadRequest, "missing_host", "hostname is missing in URL path")
		return
	}

	var err error
	switch r.Method {
	case http.MethodPost:
		err = h.favorites.Add(host)
	case http.MethodDelete:
		err = h.favorites.Remove(host)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "favorites_store_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"favorite": h.favorites.Contains(host)})
}

// HandleStatus handles GET /api/status. It never triggers a refresh.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	total, meta := h.cache.Snapshot()
	writeJSON(w, http.StatusOK, StatusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		CachedServers: total,
		Cache:         meta,
	})
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// sanitizeFilename strips path components from a caller-supplied name and
// falls back to a default.
func sanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if idx := strings.LastIndexAny(name, `/\`); idx >= 0 {
		name = name[idx+1:]
	}
	if name == "" || name == "." || name == ".." {
		return "profile.ovpn"
	}
	return name
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		l := logger.WithComponent("Web/Handler")
		l.Error().Err(err).Msg("Failed to encode response.")
	}
}

func writeError(w http.ResponseWriter, status int, kind, details string) {
	writeJSON(w, status, ErrorResponse{Error: kind, Details: details})
}
