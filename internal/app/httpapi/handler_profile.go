package httpapi

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/reviewgame/server/internal/app/services/profiles"
	"github.com/reviewgame/server/internal/middleware"
)

// getProfile returns the caller's profile, provisioning a free-tier row on
// first authenticated fetch.
func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var email, name string
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		email = claims.Email
		name = claims.Name
	}

	p, err := h.app.Profiles.Ensure(r.Context(), userID, email, name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var upd profiles.Update
	if !h.decode(w, r, &upd) {
		return
	}

	p, err := h.app.Profiles.Update(r.Context(), userID, upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// recordLogin appends a login-history row for the caller. The dashboard
// calls this once per session, right after token exchange.
func (h *handler) recordLogin(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if _, err := h.app.Profiles.RecordLogin(r.Context(), userID, remoteIP(r), r.UserAgent()); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listLogins(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.app.Profiles.ListLogins(r.Context(), userID, queryInt(r, "limit", 0))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// remoteIP reports the originating client address. The first entry of
// X-Forwarded-For is the client as seen by the outermost proxy.
func remoteIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// queryInt parses an optional integer query parameter, falling back to def
// on absence or garbage.
func queryInt(r *http.Request, name string, def int) int {
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
