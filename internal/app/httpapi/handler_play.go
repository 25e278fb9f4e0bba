package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// playSnapshot returns the public view of a game: board state, team scores
// and the current question with its answer redacted.
func (h *handler) playSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Games.Snapshot(r.Context(), mux.Vars(r)["code"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *handler) playClaimTeam(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		DeviceID string `json:"device_id"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	vars := mux.Vars(r)
	team, err := h.app.Games.ClaimTeam(r.Context(), vars["code"], vars["teamID"], payload.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

// playBuzz races the caller's team for the open question. Rejections are
// part of the result, not errors: the buzzer returns 200 either way and the
// client renders the reason.
func (h *handler) playBuzz(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TeamID   string `json:"team_id"`
		DeviceID string `json:"device_id"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.app.Games.Buzz(r.Context(), mux.Vars(r)["code"], payload.TeamID, payload.DeviceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) playSubmitWager(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TeamID   string `json:"team_id"`
		DeviceID string `json:"device_id"`
		Amount   int    `json:"amount"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.app.Games.SubmitWager(r.Context(), mux.Vars(r)["code"], payload.TeamID, payload.DeviceID, payload.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) playSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TeamID   string `json:"team_id"`
		DeviceID string `json:"device_id"`
		Answer   string `json:"answer"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.app.Games.SubmitAnswer(r.Context(), mux.Vars(r)["code"], payload.TeamID, payload.DeviceID, payload.Answer)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
