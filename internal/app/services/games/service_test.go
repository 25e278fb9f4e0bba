package games

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/events"
	"github.com/reviewgame/server/internal/app/storage"
	"github.com/reviewgame/server/internal/app/storage/memory"
	svcerrors "github.com/reviewgame/server/internal/errors"
)

func newFixture(t *testing.T, gameLimit int) (*Service, *memory.Store, profile.Profile, bank.Bank) {
	t.Helper()
	store := memory.New()
	ctx := context.Background()

	host, err := store.CreateProfile(ctx, profile.Profile{
		ID:        "host-1",
		Email:     "host@school.test",
		Role:      profile.RoleTeacher,
		Tier:      profile.TierFree,
		GameLimit: gameLimit,
	})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	b, err := store.CreateBank(ctx, bank.Bank{OwnerID: host.ID, Title: "Review"})
	if err != nil {
		t.Fatalf("create bank: %v", err)
	}

	return New(store, store, store, nil), store, host, b
}

func addQuestion(t *testing.T, store *memory.Store, bankID string, value int, isFinal bool) bank.Question {
	t.Helper()
	q, err := store.CreateQuestion(context.Background(), bank.Question{
		BankID:   bankID,
		Category: "Science",
		Value:    value,
		Prompt:   "prompt",
		Answer:   "answer",
		IsFinal:  isFinal,
	})
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	return q
}

func requireCode(t *testing.T, err error, code svcerrors.ErrorCode) *svcerrors.ServiceError {
	t.Helper()
	se := svcerrors.GetServiceError(err)
	if se == nil {
		t.Fatalf("expected service error %s, got %v", code, err)
	}
	if se.Code != code {
		t.Fatalf("expected code %s, got %s (%s)", code, se.Code, se.Message)
	}
	return se
}

func TestCreate(t *testing.T) {
	svc, _, host, b := newFixture(t, 3)
	ctx := context.Background()

	g, teams, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red", "Blue"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if g.Status != game.StatusLobby {
		t.Fatalf("expected lobby, got %s", g.Status)
	}
	if g.Name != b.Title {
		t.Fatalf("expected name to default to the bank title, got %q", g.Name)
	}
	if len(g.JoinCode) != joinCodeLength {
		t.Fatalf("unexpected join code %q", g.JoinCode)
	}
	for _, c := range g.JoinCode {
		if !strings.ContainsRune(joinCodeAlphabet, c) {
			t.Fatalf("join code %q uses a character outside the alphabet", g.JoinCode)
		}
	}
	if len(teams) != 2 || teams[0].Name != "Red" || teams[1].Name != "Blue" {
		t.Fatalf("unexpected teams: %+v", teams)
	}

	_, _, err = svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red", "red"}})
	requireCode(t, err, svcerrors.CodeInvalidInput)

	_, _, err = svc.Create(ctx, host.ID, CreateInput{BankID: "no-such-bank", Teams: []string{"Solo"}})
	requireCode(t, err, svcerrors.CodeNotFound)

	_, _, err = svc.Create(ctx, "someone-else", CreateInput{BankID: b.ID, Teams: []string{"Solo"}})
	requireCode(t, err, svcerrors.CodeForbidden)
}

func TestCreateQuota(t *testing.T) {
	svc, store, host, b := newFixture(t, 1)
	ctx := context.Background()

	g, _, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Solo"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}

	_, _, err = svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Solo"}})
	se := requireCode(t, err, svcerrors.CodeQuotaExceeded)
	if se.Details["game_limit"] != 1 {
		t.Fatalf("expected limit detail, got %v", se.Details)
	}

	// Deleting a lobby game does not return the slot; the limit counts
	// games created.
	if err := svc.Delete(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("delete game: %v", err)
	}
	_, _, err = svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Solo"}})
	requireCode(t, err, svcerrors.CodeQuotaExceeded)

	p, err := store.GetProfile(ctx, host.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.GamesCreated != 1 {
		t.Fatalf("expected 1 slot used, got %d", p.GamesCreated)
	}
}

func TestCreateReleasesSlotOnFailure(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	host, err := store.CreateProfile(ctx, profile.Profile{ID: "host-1", Email: "host@school.test", GameLimit: 1})
	if err != nil {
		t.Fatalf("create profile: %v", err)
	}
	b, err := store.CreateBank(ctx, bank.Bank{OwnerID: host.ID, Title: "Review"})
	if err != nil {
		t.Fatalf("create bank: %v", err)
	}

	flaky := &flakyGameStore{GameStore: store, failTeams: true}
	svc := New(flaky, store, store, nil)

	_, _, err = svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Solo"}})
	requireCode(t, err, svcerrors.CodeInternal)

	p, err := store.GetProfile(ctx, host.ID)
	if err != nil {
		t.Fatalf("get profile: %v", err)
	}
	if p.GamesCreated != 0 {
		t.Fatalf("expected slot released after failure, got %d used", p.GamesCreated)
	}

	// With the store healthy again the single slot is still available.
	flaky.failTeams = false
	if _, _, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Solo"}}); err != nil {
		t.Fatalf("create after recovery: %v", err)
	}
}

func TestBuzzOrder(t *testing.T) {
	svc, store, host, b := newFixture(t, 3)
	ctx := context.Background()
	q := addQuestion(t, store, b.ID, 200, false)

	g, teams, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red", "Blue"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	red, blue := teams[0], teams[1]

	if _, err := svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("claim red: %v", err)
	}

	// Buzzing in the lobby is rejected by reason, not error.
	res, err := svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a")
	if err != nil {
		t.Fatalf("buzz in lobby: %v", err)
	}
	if res.Accepted || res.Reason != "game_not_in_progress" {
		t.Fatalf("expected game_not_in_progress, got %+v", res)
	}

	if _, err := svc.Start(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start game: %v", err)
	}

	res, _ = svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a")
	if res.Accepted || res.Reason != "no_open_question" {
		t.Fatalf("expected no_open_question, got %+v", res)
	}

	if _, err := svc.SetCurrentQuestion(ctx, host.ID, g.ID, q.ID); err != nil {
		t.Fatalf("set question: %v", err)
	}

	// An unclaimed team never buzzes.
	res, _ = svc.Buzz(ctx, g.JoinCode, blue.ID, "dev-b")
	if res.Accepted || res.Reason != "device_mismatch" {
		t.Fatalf("expected device_mismatch for unclaimed team, got %+v", res)
	}
	if _, err := svc.ClaimTeam(ctx, g.JoinCode, blue.ID, "dev-b"); err != nil {
		t.Fatalf("claim blue: %v", err)
	}

	res, _ = svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a")
	if !res.Accepted || res.BuzzedTeamID != red.ID {
		t.Fatalf("expected red to win the buzzer, got %+v", res)
	}
	res, _ = svc.Buzz(ctx, g.JoinCode, blue.ID, "dev-b")
	if res.Accepted || res.Reason != "already_buzzed" || res.BuzzedTeamID != red.ID {
		t.Fatalf("expected already_buzzed naming red, got %+v", res)
	}

	if _, err := svc.ClearBuzzer(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("clear buzzer: %v", err)
	}
	res, _ = svc.Buzz(ctx, g.JoinCode, blue.ID, "dev-b")
	if !res.Accepted {
		t.Fatalf("expected blue to buzz after clear, got %+v", res)
	}
}

func TestScoreRetiresQuestion(t *testing.T) {
	svc, store, host, b := newFixture(t, 3)
	ctx := context.Background()
	q := addQuestion(t, store, b.ID, 400, false)

	g, teams, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	red := teams[0]
	if _, err := svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := svc.Start(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Scoring with no question on the board is a conflict.
	_, err = svc.Score(ctx, host.ID, g.ID, red.ID, true)
	requireCode(t, err, svcerrors.CodeConflict)

	if _, err := svc.SetCurrentQuestion(ctx, host.ID, g.ID, q.ID); err != nil {
		t.Fatalf("set question: %v", err)
	}
	if _, err := svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("buzz: %v", err)
	}

	res, err := svc.Score(ctx, host.ID, g.ID, red.ID, false)
	if err != nil {
		t.Fatalf("score wrong answer: %v", err)
	}
	if res.NewScore != -400 {
		t.Fatalf("expected -400 after wrong answer, got %d", res.NewScore)
	}

	// The wrong answer reopened the buzzer and kept the question up.
	if _, err := svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("buzz again: %v", err)
	}
	res, err = svc.Score(ctx, host.ID, g.ID, red.ID, true)
	if err != nil {
		t.Fatalf("score correct answer: %v", err)
	}
	if res.NewScore != 0 {
		t.Fatalf("expected 0 after recovery, got %d", res.NewScore)
	}

	// A correct answer retires the question.
	fresh, err := svc.Get(ctx, host.ID, g.ID)
	if err != nil {
		t.Fatalf("get game: %v", err)
	}
	if fresh.CurrentQuestionID != "" {
		t.Fatalf("expected question retired, still %q", fresh.CurrentQuestionID)
	}
}

func TestFinalRound(t *testing.T) {
	svc, store, host, b := newFixture(t, 3)
	ctx := context.Background()
	pub := &recordingPublisher{}
	svc.AttachPublisher(pub)

	g, teams, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red", "Blue"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	red, blue := teams[0], teams[1]
	if _, err := svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("claim red: %v", err)
	}
	if _, err := svc.ClaimTeam(ctx, g.JoinCode, blue.ID, "dev-b"); err != nil {
		t.Fatalf("claim blue: %v", err)
	}

	// The final round needs a running game and a final question.
	_, err = svc.StartFinal(ctx, host.ID, g.ID)
	requireCode(t, err, svcerrors.CodeConflict)
	if _, err := svc.Start(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = svc.StartFinal(ctx, host.ID, g.ID)
	requireCode(t, err, svcerrors.CodeConflict)

	// Seed scores: red answers a 400 correctly.
	q := addQuestion(t, store, b.ID, 400, false)
	addQuestion(t, store, b.ID, 0, true)
	if _, err := svc.SetCurrentQuestion(ctx, host.ID, g.ID, q.ID); err != nil {
		t.Fatalf("set question: %v", err)
	}
	if _, err := svc.Buzz(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("buzz: %v", err)
	}
	if _, err := svc.Score(ctx, host.ID, g.ID, red.ID, true); err != nil {
		t.Fatalf("score: %v", err)
	}

	fg, err := svc.StartFinal(ctx, host.ID, g.ID)
	if err != nil {
		t.Fatalf("start final: %v", err)
	}
	if fg.Status != game.StatusFinalJeopardy || fg.FinalPhase != game.PhaseWagering {
		t.Fatalf("unexpected final state: %s/%s", fg.Status, fg.FinalPhase)
	}

	// Device and range checks surface as typed errors.
	_, err = svc.SubmitWager(ctx, g.JoinCode, red.ID, "dev-x", 100)
	requireCode(t, err, svcerrors.CodeForbidden)
	_, err = svc.SubmitWager(ctx, g.JoinCode, red.ID, "dev-a", 401)
	requireCode(t, err, svcerrors.CodeInvalidInput)

	if _, err := svc.SubmitWager(ctx, g.JoinCode, red.ID, "dev-a", 300); err != nil {
		t.Fatalf("red wager: %v", err)
	}
	_, err = svc.SubmitWager(ctx, g.JoinCode, red.ID, "dev-a", 300)
	requireCode(t, err, svcerrors.CodeConflict)

	wr, err := svc.SubmitWager(ctx, g.JoinCode, blue.ID, "dev-b", 0)
	if err != nil {
		t.Fatalf("blue wager: %v", err)
	}
	if wr.Phase != game.PhaseAnswering {
		t.Fatalf("expected answering after last wager, got %s", wr.Phase)
	}

	if _, err := svc.SubmitAnswer(ctx, g.JoinCode, red.ID, "dev-a", "alpha"); err != nil {
		t.Fatalf("red answer: %v", err)
	}
	wr, err = svc.SubmitAnswer(ctx, g.JoinCode, blue.ID, "dev-b", "beta")
	if err != nil {
		t.Fatalf("blue answer: %v", err)
	}
	if wr.Phase != game.PhaseRevealing {
		t.Fatalf("expected revealing after last answer, got %s", wr.Phase)
	}

	rr, err := svc.RevealFinalAnswer(ctx, host.ID, g.ID, red.ID, false)
	if err != nil {
		t.Fatalf("reveal red: %v", err)
	}
	if rr.Delta != -300 || rr.NewScore != 100 {
		t.Fatalf("unexpected red reveal: %+v", rr)
	}
	_, err = svc.RevealFinalAnswer(ctx, host.ID, g.ID, red.ID, false)
	requireCode(t, err, svcerrors.CodeConflict)

	rr, err = svc.RevealFinalAnswer(ctx, host.ID, g.ID, blue.ID, true)
	if err != nil {
		t.Fatalf("reveal blue: %v", err)
	}
	if rr.GameStatus != game.StatusCompleted {
		t.Fatalf("expected completed after last reveal, got %s", rr.GameStatus)
	}

	for _, want := range []string{
		events.TypeGameStarted,
		events.TypeQuestionSet,
		events.TypeBuzzAccepted,
		events.TypeScoreApplied,
		events.TypeFinalStarted,
		events.TypeFinalWager,
		events.TypeFinalPhase,
		events.TypeFinalRevealed,
		events.TypeGameCompleted,
	} {
		if !pub.saw(want) {
			t.Fatalf("expected %s event, saw %v", want, pub.types())
		}
	}
}

func TestAdvanceAndSkipFinal(t *testing.T) {
	svc, store, host, b := newFixture(t, 3)
	ctx := context.Background()
	addQuestion(t, store, b.ID, 0, true)

	g, _, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	if _, err := svc.Start(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.StartFinal(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start final: %v", err)
	}

	fg, err := svc.AdvanceFinal(ctx, host.ID, g.ID)
	if err != nil {
		t.Fatalf("advance to answering: %v", err)
	}
	if fg.FinalPhase != game.PhaseAnswering {
		t.Fatalf("expected answering, got %s", fg.FinalPhase)
	}

	// Nobody wagered, so there is nothing to reveal and the game ends.
	fg, err = svc.AdvanceFinal(ctx, host.ID, g.ID)
	if err != nil {
		t.Fatalf("advance past answering: %v", err)
	}
	if fg.Status != game.StatusCompleted {
		t.Fatalf("expected completed, got %s/%s", fg.Status, fg.FinalPhase)
	}

	// Skip ends the round from any phase.
	g2, _, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red"}})
	if err != nil {
		t.Fatalf("create second game: %v", err)
	}
	if _, err := svc.Start(ctx, host.ID, g2.ID); err != nil {
		t.Fatalf("start second game: %v", err)
	}
	if _, err := svc.StartFinal(ctx, host.ID, g2.ID); err != nil {
		t.Fatalf("start final: %v", err)
	}
	fg, err = svc.SkipFinal(ctx, host.ID, g2.ID)
	if err != nil {
		t.Fatalf("skip final: %v", err)
	}
	if fg.Status != game.StatusCompleted {
		t.Fatalf("expected completed after skip, got %s", fg.Status)
	}
}

func TestClaimAndSnapshot(t *testing.T) {
	svc, _, host, b := newFixture(t, 3)
	ctx := context.Background()

	g, teams, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Name: "Period 4", Teams: []string{"Red", "Blue"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	red, blue := teams[0], teams[1]

	// Players type codes sloppily; resolution normalizes them.
	resolved, err := svc.Resolve(ctx, "  "+strings.ToLower(g.JoinCode)+" ")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != g.ID {
		t.Fatalf("resolved wrong game: %s", resolved.ID)
	}

	_, err = svc.ClaimTeam(ctx, g.JoinCode, red.ID, "")
	requireCode(t, err, svcerrors.CodeInvalidInput)

	view, err := svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !view.Claimed {
		t.Fatalf("expected claimed view, got %+v", view)
	}
	// Reclaiming from the same device is a refresh, not a conflict.
	if _, err := svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-a"); err != nil {
		t.Fatalf("reclaim same device: %v", err)
	}
	_, err = svc.ClaimTeam(ctx, g.JoinCode, red.ID, "dev-z")
	requireCode(t, err, svcerrors.CodeConflict)

	snap, err := svc.Snapshot(ctx, g.JoinCode)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Status != game.StatusLobby || len(snap.Teams) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.CurrentQuestion != nil {
		t.Fatalf("no question should be visible in the lobby")
	}
	byID := map[string]game.TeamView{}
	for _, tv := range snap.Teams {
		byID[tv.ID] = tv
	}
	if !byID[red.ID].Claimed || byID[blue.ID].Claimed {
		t.Fatalf("claim flags wrong: %+v", snap.Teams)
	}

	// Once the game ends there is nothing left to claim.
	if _, err := svc.Start(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := svc.Complete(ctx, host.ID, g.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_, err = svc.ClaimTeam(ctx, g.JoinCode, blue.ID, "dev-b")
	requireCode(t, err, svcerrors.CodeConflict)
}

func TestHostOwnership(t *testing.T) {
	svc, _, host, b := newFixture(t, 3)
	ctx := context.Background()

	g, _, err := svc.Create(ctx, host.ID, CreateInput{BankID: b.ID, Teams: []string{"Red"}})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}

	_, err = svc.Get(ctx, "intruder", g.ID)
	requireCode(t, err, svcerrors.CodeForbidden)
	_, err = svc.Start(ctx, "intruder", g.ID)
	requireCode(t, err, svcerrors.CodeForbidden)
	err = svc.Delete(ctx, "intruder", g.ID)
	requireCode(t, err, svcerrors.CodeForbidden)
}

type flakyGameStore struct {
	storage.GameStore
	failTeams bool
}

func (f *flakyGameStore) CreateTeam(ctx context.Context, t game.Team) (game.Team, error) {
	if f.failTeams {
		return game.Team{}, errors.New("storage offline")
	}
	return f.GameStore.CreateTeam(ctx, t)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(gameID string, ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) saw(eventType string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.events {
		if ev.Type == eventType {
			return true
		}
	}
	return false
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}
