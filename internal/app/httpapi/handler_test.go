package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	app "github.com/reviewgame/server/internal/app"
	"github.com/reviewgame/server/internal/app/services/banks"
	"github.com/reviewgame/server/internal/app/services/games"
	"github.com/reviewgame/server/internal/middleware"
)

const (
	hostID  = "teacher-1"
	adminID = "admin-1"
)

func newTestHandler(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()

	application, err := app.New(app.Stores{}, app.Options{}, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("start application: %v", err)
	}
	t.Cleanup(func() { _ = application.Stop(context.Background()) })

	auth := middleware.NewAuthMiddleware(nil, nil,
		[]string{"/healthz", "/metrics", "/webhooks/stripe"},
		[]string{"/play/"})
	auth.AttachImpersonation(application.Admin)

	return application, auth.Handler(NewHandler(application))
}

func TestGameLifecycle(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := do(t, handler, http.MethodGet, "/api/v1/profile", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, handler, http.MethodPost, "/api/v1/banks", map[string]any{
		"title":   "Unit 3 Review",
		"subject": "Biology",
	}, hostID, "teacher")
	requireStatus(t, rec, http.StatusCreated)
	bankID := field(t, rec, "id")

	rec = do(t, handler, http.MethodPost, "/api/v1/banks/"+bankID+"/questions", map[string]any{
		"category": "Cells",
		"value":    200,
		"prompt":   "The powerhouse of the cell",
		"answer":   "mitochondria",
	}, hostID, "teacher")
	requireStatus(t, rec, http.StatusCreated)
	questionID := field(t, rec, "id")

	rec = do(t, handler, http.MethodPost, "/api/v1/banks/"+bankID+"/questions", map[string]any{
		"category": "Evolution",
		"prompt":   "Author of On the Origin of Species",
		"answer":   "Darwin",
		"is_final": true,
	}, hostID, "teacher")
	requireStatus(t, rec, http.StatusCreated)

	rec = do(t, handler, http.MethodPost, "/api/v1/games", map[string]any{
		"bank_id": bankID,
		"name":    "Period 4",
		"teams":   []string{"Red", "Blue"},
	}, hostID, "teacher")
	requireStatus(t, rec, http.StatusCreated)

	var created struct {
		Game struct {
			ID       string `json:"id"`
			JoinCode string `json:"join_code"`
			Status   string `json:"status"`
		} `json:"game"`
		Teams []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"teams"`
	}
	decode(t, rec, &created)
	if created.Game.Status != "lobby" {
		t.Fatalf("expected lobby status, got %s", created.Game.Status)
	}
	if len(created.Teams) != 2 {
		t.Fatalf("expected 2 teams, got %d", len(created.Teams))
	}
	gameID := created.Game.ID
	code := created.Game.JoinCode
	red, blue := created.Teams[0].ID, created.Teams[1].ID

	// The play surface needs no credentials.
	rec = do(t, handler, http.MethodGet, "/play/games/"+code, nil, "", "")
	requireStatus(t, rec, http.StatusOK)
	var snap struct {
		Status string `json:"status"`
		Teams  []struct {
			Claimed bool `json:"claimed"`
		} `json:"teams"`
	}
	decode(t, rec, &snap)
	if snap.Status != "lobby" || len(snap.Teams) != 2 || snap.Teams[0].Claimed {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/teams/"+red+"/claim", map[string]any{"device_id": "dev-a"}, "", "")
	requireStatus(t, rec, http.StatusOK)
	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/teams/"+blue+"/claim", map[string]any{"device_id": "dev-b"}, "", "")
	requireStatus(t, rec, http.StatusOK)

	// A second device cannot take an owned team.
	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/teams/"+red+"/claim", map[string]any{"device_id": "dev-c"}, "", "")
	requireStatus(t, rec, http.StatusConflict)

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/start", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/question", map[string]any{"question_id": questionID}, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/buzz", map[string]any{"team_id": red, "device_id": "dev-a"}, "", "")
	requireStatus(t, rec, http.StatusOK)
	var buzz struct {
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	}
	decode(t, rec, &buzz)
	if !buzz.Accepted {
		t.Fatalf("expected first buzz accepted, got reason %q", buzz.Reason)
	}

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/buzz", map[string]any{"team_id": blue, "device_id": "dev-b"}, "", "")
	requireStatus(t, rec, http.StatusOK)
	decode(t, rec, &buzz)
	if buzz.Accepted || buzz.Reason != "already_buzzed" {
		t.Fatalf("expected already_buzzed, got %+v", buzz)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/score", map[string]any{"team_id": red, "correct": true}, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)
	var score struct {
		NewScore int `json:"new_score"`
	}
	decode(t, rec, &score)
	if score.NewScore != 200 {
		t.Fatalf("expected score 200, got %d", score.NewScore)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/final", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)

	// While wagers are open the snapshot names the category but hides the
	// prompt.
	rec = do(t, handler, http.MethodGet, "/play/games/"+code, nil, "", "")
	requireStatus(t, rec, http.StatusOK)
	var finalSnap struct {
		Status          string `json:"status"`
		FinalPhase      string `json:"final_phase"`
		CurrentQuestion *struct {
			Category string `json:"category"`
			Prompt   string `json:"prompt"`
			IsFinal  bool   `json:"is_final"`
		} `json:"current_question"`
	}
	decode(t, rec, &finalSnap)
	if finalSnap.Status != "final_jeopardy" || finalSnap.FinalPhase != "wagering" {
		t.Fatalf("unexpected final snapshot state: %+v", finalSnap)
	}
	if finalSnap.CurrentQuestion == nil || !finalSnap.CurrentQuestion.IsFinal {
		t.Fatalf("expected final question in snapshot: %+v", finalSnap.CurrentQuestion)
	}
	if finalSnap.CurrentQuestion.Prompt != "" {
		t.Fatalf("prompt leaked during wagering: %q", finalSnap.CurrentQuestion.Prompt)
	}

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/final/wager", map[string]any{"team_id": red, "device_id": "dev-a", "amount": 150}, "", "")
	requireStatus(t, rec, http.StatusOK)

	// Wagering above the team score is rejected.
	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/final/wager", map[string]any{"team_id": blue, "device_id": "dev-b", "amount": 500}, "", "")
	requireStatus(t, rec, http.StatusBadRequest)

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/final/wager", map[string]any{"team_id": blue, "device_id": "dev-b", "amount": 0}, "", "")
	requireStatus(t, rec, http.StatusOK)
	var wager struct {
		Status string `json:"status"`
		Phase  string `json:"phase"`
	}
	decode(t, rec, &wager)
	if wager.Status != "ok" || wager.Phase != "answering" {
		t.Fatalf("expected last wager to open answering, got %+v", wager)
	}

	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/final/answer", map[string]any{"team_id": red, "device_id": "dev-a", "answer": "Darwin"}, "", "")
	requireStatus(t, rec, http.StatusOK)
	rec = do(t, handler, http.MethodPost, "/play/games/"+code+"/final/answer", map[string]any{"team_id": blue, "device_id": "dev-b", "answer": "Wallace"}, "", "")
	requireStatus(t, rec, http.StatusOK)
	decode(t, rec, &wager)
	if wager.Phase != "revealing" {
		t.Fatalf("expected revealing after last answer, got %+v", wager)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/final/reveal", map[string]any{"team_id": red, "correct": true}, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)
	var reveal struct {
		Delta      int    `json:"delta"`
		NewScore   int    `json:"new_score"`
		GameStatus string `json:"game_status"`
	}
	decode(t, rec, &reveal)
	if reveal.Delta != 150 || reveal.NewScore != 350 {
		t.Fatalf("unexpected reveal result: %+v", reveal)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/games/"+gameID+"/final/reveal", map[string]any{"team_id": blue, "correct": false}, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)
	decode(t, rec, &reveal)
	if reveal.GameStatus != "completed" {
		t.Fatalf("expected last reveal to complete the game, got %+v", reveal)
	}

	rec = do(t, handler, http.MethodGet, "/api/v1/games/"+gameID+"/wagers", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)
	var wagers []map[string]any
	decode(t, rec, &wagers)
	if len(wagers) != 2 {
		t.Fatalf("expected 2 wagers, got %d", len(wagers))
	}
}

func TestOwnershipIsEnforced(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := do(t, handler, http.MethodPost, "/api/v1/banks", map[string]any{"title": "Mine"}, hostID, "teacher")
	requireStatus(t, rec, http.StatusCreated)
	bankID := field(t, rec, "id")

	rec = do(t, handler, http.MethodGet, "/api/v1/banks/"+bankID, nil, "teacher-2", "teacher")
	requireStatus(t, rec, http.StatusForbidden)

	rec = do(t, handler, http.MethodDelete, "/api/v1/banks/"+bankID, nil, "teacher-2", "teacher")
	requireStatus(t, rec, http.StatusForbidden)
}

func TestRequestValidation(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := do(t, handler, http.MethodGet, "/healthz", nil, "", "")
	requireStatus(t, rec, http.StatusOK)

	// Unknown fields are rejected, not silently dropped.
	rec = do(t, handler, http.MethodPost, "/api/v1/banks", map[string]any{"title": "x", "bogus": true}, hostID, "teacher")
	requireStatus(t, rec, http.StatusBadRequest)

	// Path ids that are not UUIDs never reach the handlers.
	rec = do(t, handler, http.MethodGet, "/api/v1/games/not-a-uuid", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusNotFound)

	rec = do(t, handler, http.MethodDelete, "/api/v1/profile", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusMethodNotAllowed)
}

func TestAdminSurface(t *testing.T) {
	_, handler := newTestHandler(t)

	// Provision a teacher to act on.
	rec := do(t, handler, http.MethodGet, "/api/v1/profile", nil, "teacher-7", "teacher")
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, handler, http.MethodGet, "/admin/users", nil, "teacher-7", "teacher")
	requireStatus(t, rec, http.StatusForbidden)

	rec = do(t, handler, http.MethodGet, "/admin/users", nil, adminID, "admin")
	requireStatus(t, rec, http.StatusOK)
	var users struct {
		Total int `json:"total"`
	}
	decode(t, rec, &users)
	if users.Total < 1 {
		t.Fatalf("expected at least one user, got %d", users.Total)
	}

	rec = do(t, handler, http.MethodPatch, "/admin/users/teacher-7", map[string]any{"tier": "plus"}, adminID, "admin")
	requireStatus(t, rec, http.StatusOK)
	var updated struct {
		Tier string `json:"tier"`
	}
	decode(t, rec, &updated)
	if updated.Tier != "plus" {
		t.Fatalf("expected plus tier, got %s", updated.Tier)
	}

	rec = do(t, handler, http.MethodPost, "/admin/impersonate", map[string]any{"user_id": "teacher-7", "reason": "support ticket 4312"}, adminID, "admin")
	requireStatus(t, rec, http.StatusCreated)
	sessionID := field(t, rec, "id")

	rec = do(t, handler, http.MethodGet, "/admin/impersonate/status", nil, adminID, "admin")
	requireStatus(t, rec, http.StatusOK)
	var status struct {
		Active bool `json:"active"`
	}
	decode(t, rec, &status)
	if !status.Active {
		t.Fatal("expected an active impersonation session")
	}

	// With the session header the admin acts as the teacher.
	req := newRequest(t, http.MethodGet, "/api/v1/profile", nil, adminID, "admin")
	req.Header.Set(middleware.ImpersonationHeader, sessionID)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	requireStatus(t, rec, http.StatusOK)
	if got := field(t, rec, "id"); got != "teacher-7" {
		t.Fatalf("expected impersonated profile teacher-7, got %s", got)
	}

	rec = do(t, handler, http.MethodDelete, "/admin/impersonate/"+sessionID, nil, adminID, "admin")
	requireStatus(t, rec, http.StatusNoContent)

	rec = do(t, handler, http.MethodGet, "/admin/audit/recent", nil, adminID, "admin")
	requireStatus(t, rec, http.StatusOK)
	var entries []struct {
		Action string `json:"action"`
	}
	decode(t, rec, &entries)
	actions := make(map[string]bool, len(entries))
	for _, e := range entries {
		actions[e.Action] = true
	}
	for _, want := range []string{"user.update", "impersonation.start", "impersonation.end"} {
		if !actions[want] {
			t.Fatalf("expected %s in recent audit, got %v", want, actions)
		}
	}

	rec = do(t, handler, http.MethodGet, "/admin/system/health", nil, adminID, "admin")
	requireStatus(t, rec, http.StatusOK)
	var health struct {
		Status   string `json:"status"`
		Database struct {
			Status string `json:"status"`
		} `json:"database"`
	}
	decode(t, rec, &health)
	if health.Status != "ok" || health.Database.Status != "ok" {
		t.Fatalf("unexpected health report: %+v", health)
	}
}

func TestBillingUnconfigured(t *testing.T) {
	_, handler := newTestHandler(t)

	rec := do(t, handler, http.MethodGet, "/api/v1/profile", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)

	rec = do(t, handler, http.MethodGet, "/api/v1/billing/subscription", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusOK)
	var sub struct {
		Tier string `json:"tier"`
	}
	decode(t, rec, &sub)
	if sub.Tier != "free" {
		t.Fatalf("expected free tier, got %s", sub.Tier)
	}

	rec = do(t, handler, http.MethodPost, "/api/v1/billing/checkout", nil, hostID, "teacher")
	requireStatus(t, rec, http.StatusInternalServerError)
}

func TestPlayEventsWebsocket(t *testing.T) {
	application, handler := newTestHandler(t)

	srv := httptest.NewServer(handler)
	defer srv.Close()

	ctx := context.Background()
	if _, err := application.Profiles.Ensure(ctx, hostID, "host@school.test", "Host"); err != nil {
		t.Fatalf("ensure profile: %v", err)
	}
	b, err := application.Banks.Create(ctx, hostID, banks.BankInput{Title: "Sockets"})
	if err != nil {
		t.Fatalf("create bank: %v", err)
	}
	g, teams, err := application.Games.Create(ctx, hostID, games.CreateInput{
		BankID: b.ID,
		Name:   "Socket Check",
		Teams:  []string{"Red", "Blue"},
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/play/games/" + g.JoinCode + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	// The handler subscribes just after the handshake; wait for it before
	// publishing or the event is dropped.
	deadline := time.Now().Add(2 * time.Second)
	for application.Events.Subscribers(g.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := application.Games.ClaimTeam(ctx, g.JoinCode, teams[0].ID, "dev-ws"); err != nil {
		t.Fatalf("claim team: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type   string `json:"type"`
		GameID string `json:"game_id"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "team.claimed" || ev.GameID != g.ID {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func newRequest(t *testing.T, method, path string, body any, userID, role string) *http.Request {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-Dev-User", userID)
		req.Header.Set("X-Dev-Role", role)
		req.Header.Set("X-Dev-Email", userID+"@school.test")
	}
	return req
}

func do(t *testing.T, handler http.Handler, method, path string, body any, userID, role string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, newRequest(t, method, path, body, userID, role))
	return rec
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
	}
}

func field(t *testing.T, rec *httptest.ResponseRecorder, name string) string {
	t.Helper()
	var m map[string]any
	decode(t, rec, &m)
	v, ok := m[name].(string)
	if !ok {
		t.Fatalf("expected string field %q in %q", name, rec.Body.String())
	}
	return v
}
