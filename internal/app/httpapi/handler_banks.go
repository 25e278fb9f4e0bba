package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/reviewgame/server/internal/app/services/banks"
)

func (h *handler) listBanks(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	list, err := h.app.Banks.List(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) createBank(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var in banks.BankInput
	if !h.decode(w, r, &in) {
		return
	}

	created, err := h.app.Banks.Create(r.Context(), userID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) getBank(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	b, err := h.app.Banks.Get(r.Context(), userID, mux.Vars(r)["bankID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) updateBank(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var upd banks.BankUpdate
	if !h.decode(w, r, &upd) {
		return
	}

	b, err := h.app.Banks.Update(r.Context(), userID, mux.Vars(r)["bankID"], upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) deleteBank(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	if err := h.app.Banks.Delete(r.Context(), userID, mux.Vars(r)["bankID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) listQuestions(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	qs, err := h.app.Banks.ListQuestions(r.Context(), userID, mux.Vars(r)["bankID"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, qs)
}

func (h *handler) createQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var in banks.QuestionInput
	if !h.decode(w, r, &in) {
		return
	}

	created, err := h.app.Banks.AddQuestion(r.Context(), userID, mux.Vars(r)["bankID"], in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *handler) updateQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	var upd banks.QuestionUpdate
	if !h.decode(w, r, &upd) {
		return
	}

	vars := mux.Vars(r)
	q, err := h.app.Banks.UpdateQuestion(r.Context(), userID, vars["bankID"], vars["questionID"], upd)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *handler) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireUser(w, r)
	if !ok {
		return
	}

	vars := mux.Vars(r)
	if err := h.app.Banks.DeleteQuestion(r.Context(), userID, vars["bankID"], vars["questionID"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
