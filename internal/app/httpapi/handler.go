// Package httpapi exposes the REST and websocket surface of the review game
// server: the authenticated dashboard API under /api/v1, the public play
// surface under /play, and the admin back office under /admin.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	app "github.com/reviewgame/server/internal/app"
	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/metrics"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/internal/httputil"
	"github.com/reviewgame/server/internal/logging"
	"github.com/reviewgame/server/internal/middleware"
)

// uuidPattern constrains resource-id path parameters. Profile ids come from
// the auth provider and are not constrained.
const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

// codePattern matches join codes loosely; the games service normalises and
// rejects codes that do not resolve.
const codePattern = "[A-Za-z0-9]{4,12}"

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns the router exposing the full API surface.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application, log: logging.NewLogger("httpapi")}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(h.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(h.methodNotAllowed)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/webhooks/stripe", h.stripeWebhook).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/profile", h.getProfile).Methods(http.MethodGet)
	api.HandleFunc("/profile", h.updateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/profile/logins", h.recordLogin).Methods(http.MethodPost)
	api.HandleFunc("/profile/logins", h.listLogins).Methods(http.MethodGet)

	api.HandleFunc("/banks", h.listBanks).Methods(http.MethodGet)
	api.HandleFunc("/banks", h.createBank).Methods(http.MethodPost)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}", h.getBank).Methods(http.MethodGet)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}", h.updateBank).Methods(http.MethodPatch)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}", h.deleteBank).Methods(http.MethodDelete)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}/questions", h.listQuestions).Methods(http.MethodGet)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}/questions", h.createQuestion).Methods(http.MethodPost)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}/questions/{questionID:"+uuidPattern+"}", h.updateQuestion).Methods(http.MethodPatch)
	api.HandleFunc("/banks/{bankID:"+uuidPattern+"}/questions/{questionID:"+uuidPattern+"}", h.deleteQuestion).Methods(http.MethodDelete)

	api.HandleFunc("/games", h.createGame).Methods(http.MethodPost)
	api.HandleFunc("/games", h.listGames).Methods(http.MethodGet)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}", h.getGame).Methods(http.MethodGet)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}", h.deleteGame).Methods(http.MethodDelete)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/start", h.startGame).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/question", h.setQuestion).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/buzzer/clear", h.clearBuzzer).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/score", h.scoreTeam).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/final", h.startFinal).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/final/reveal", h.revealFinal).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/final/advance", h.advanceFinal).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/final/skip", h.skipFinal).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/complete", h.completeGame).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/teams", h.listTeams).Methods(http.MethodGet)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/teams/{teamID:"+uuidPattern+"}/release", h.releaseTeam).Methods(http.MethodPost)
	api.HandleFunc("/games/{gameID:"+uuidPattern+"}/wagers", h.listWagers).Methods(http.MethodGet)

	api.HandleFunc("/billing/subscription", h.getSubscription).Methods(http.MethodGet)
	api.HandleFunc("/billing/checkout", h.createCheckout).Methods(http.MethodPost)
	api.HandleFunc("/billing/portal", h.createPortal).Methods(http.MethodPost)

	play := r.PathPrefix("/play").Subrouter()
	play.HandleFunc("/games/{code:"+codePattern+"}", h.playSnapshot).Methods(http.MethodGet)
	play.HandleFunc("/games/{code:"+codePattern+"}/teams/{teamID:"+uuidPattern+"}/claim", h.playClaimTeam).Methods(http.MethodPost)
	play.HandleFunc("/games/{code:"+codePattern+"}/buzz", h.playBuzz).Methods(http.MethodPost)
	play.HandleFunc("/games/{code:"+codePattern+"}/final/wager", h.playSubmitWager).Methods(http.MethodPost)
	play.HandleFunc("/games/{code:"+codePattern+"}/final/answer", h.playSubmitAnswer).Methods(http.MethodPost)
	play.HandleFunc("/games/{code:"+codePattern+"}/events", h.playEvents).Methods(http.MethodGet)

	adm := r.PathPrefix("/admin").Subrouter()
	adm.Use(middleware.RequireRole(profile.RoleAdmin))
	adm.HandleFunc("/users", h.adminListUsers).Methods(http.MethodGet)
	adm.HandleFunc("/users/{userID}", h.adminGetUser).Methods(http.MethodGet)
	adm.HandleFunc("/users/{userID}", h.adminUpdateUser).Methods(http.MethodPatch)
	adm.HandleFunc("/users/{userID}", h.adminDeleteUser).Methods(http.MethodDelete)
	adm.HandleFunc("/users/{userID}/logins", h.adminUserLogins).Methods(http.MethodGet)
	adm.HandleFunc("/impersonate", h.adminImpersonate).Methods(http.MethodPost)
	adm.HandleFunc("/impersonate/status", h.adminImpersonationStatus).Methods(http.MethodGet)
	adm.HandleFunc("/impersonate/{sessionID:"+uuidPattern+"}", h.adminEndImpersonation).Methods(http.MethodDelete)
	adm.HandleFunc("/audit", h.adminListAudit).Methods(http.MethodGet)
	adm.HandleFunc("/audit/recent", h.adminRecentAudit).Methods(http.MethodGet)
	adm.HandleFunc("/system/health", h.adminSystemHealth).Methods(http.MethodGet)

	return r
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusNotFound, string(svcerrors.CodeNotFound), "resource not found", nil)
}

func (h *handler) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteErrorResponse(w, r, http.StatusMethodNotAllowed, string(svcerrors.CodeInvalidInput), "method not allowed", nil)
}

// requireUser extracts the authenticated user id, writing a 401 when the
// request reached the handler without one.
func (h *handler) requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		httputil.WriteErrorResponse(w, r, http.StatusUnauthorized, string(svcerrors.CodeUnauthorized), "authentication required", nil)
		return "", false
	}
	return userID, true
}

// decode parses the request body into dst, rejecting unknown fields. It
// writes the 400 itself and reports whether decoding succeeded.
func (h *handler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r.Body, dst); err != nil {
		h.writeError(w, r, svcerrors.InvalidInput("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se := svcerrors.GetServiceError(err); se != nil {
		httputil.WriteErrorResponse(w, r, se.HTTPStatus, string(se.Code), se.Message, se.Details)
		return
	}
	h.log.WithContext(r.Context()).WithError(err).Error("request failed")
	httputil.WriteErrorResponse(w, r, http.StatusInternalServerError, string(svcerrors.CodeInternal), "internal error", nil)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
