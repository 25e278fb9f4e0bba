package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/services/games"
)

func (h *handler) createGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var in games.CreateInput
	if !h.decode(w, r, &in) {
		return
	}

	g, teams, err := h.app.Games.Create(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Game  game.Game   `json:"game"`
		Teams []game.Team `json:"teams"`
	}{Game: g, Teams: teams})
}

func (h *handler) listGames(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.app.Games.List(r.Context(), userID, r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.Get(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) deleteGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.app.Games.Delete(r.Context(), userID, mux.Vars(r)["gameID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) startGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.Start(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) completeGame(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.Complete(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) setQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		QuestionID string `json:"question_id"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	g, err := h.app.Games.SetCurrentQuestion(r.Context(), userID, mux.Vars(r)["gameID"], payload.QuestionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) clearBuzzer(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.ClearBuzzer(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) scoreTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		TeamID  string `json:"team_id"`
		Correct bool   `json:"correct"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.app.Games.Score(r.Context(), userID, mux.Vars(r)["gameID"], payload.TeamID, payload.Correct)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) startFinal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.StartFinal(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) revealFinal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var payload struct {
		TeamID  string `json:"team_id"`
		Correct bool   `json:"correct"`
	}
	if !h.decode(w, r, &payload) {
		return
	}

	res, err := h.app.Games.RevealFinalAnswer(r.Context(), userID, mux.Vars(r)["gameID"], payload.TeamID, payload.Correct)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) advanceFinal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.AdvanceFinal(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) skipFinal(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	g, err := h.app.Games.SkipFinal(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *handler) listTeams(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	teams, err := h.app.Games.ListTeams(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *handler) releaseTeam(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	t, err := h.app.Games.ReleaseTeam(r.Context(), userID, vars["gameID"], vars["teamID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) listWagers(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	wagers, err := h.app.Games.ListWagers(r.Context(), userID, mux.Vars(r)["gameID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wagers)
}
