// Package games drives live game sessions: creation against the host's
// quota, board play with first-buzz-wins, and the Final Jeopardy round.
// State transitions that must survive concurrent devices are delegated to
// the game store's atomic operations; this layer enforces ownership,
// validates input and broadcasts the resulting events.
package games

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/events"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/pkg/logger"
)

const (
	// joinCodeAlphabet omits 0/O/1/I so codes survive being read aloud.
	// Exactly 32 characters, so a masked byte draws uniformly.
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 6

	// createAttempts bounds retries when a generated code collides with
	// another live game.
	createAttempts = 5

	maxGameNameLen = 120
	maxTeams       = 12
	maxTeamNameLen = 60
)

// Publisher broadcasts game events to connected devices.
type Publisher interface {
	Publish(gameID string, event events.Event)
}

// Service manages game sessions.
type Service struct {
	games    storage.GameStore
	banks    storage.BankStore
	profiles storage.ProfileStore
	log      *logger.Logger
	pub      Publisher
}

// New constructs a game service.
func New(games storage.GameStore, banks storage.BankStore, profiles storage.ProfileStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("games")
	}
	return &Service{games: games, banks: banks, profiles: profiles, log: log}
}

// AttachPublisher wires the event fan-out. Without one, state changes are
// still applied but nothing is broadcast.
func (s *Service) AttachPublisher(pub Publisher) {
	s.pub = pub
}

func (s *Service) publish(gameID string, ev events.Event) {
	if s.pub != nil {
		s.pub.Publish(gameID, ev)
	}
}

// CreateInput carries game creation fields.
type CreateInput struct {
	BankID string   `json:"bank_id"`
	Name   string   `json:"name"`
	Teams  []string `json:"teams"`
}

// Create claims a quota slot, then materialises the game and its teams.
// The slot is released again if anything after the claim fails.
func (s *Service) Create(ctx context.Context, hostID string, in CreateInput) (game.Game, []game.Team, error) {
	in.BankID = strings.TrimSpace(in.BankID)
	in.Name = strings.TrimSpace(in.Name)
	if in.BankID == "" {
		return game.Game{}, nil, svcerrors.InvalidInput("bank_id is required")
	}
	if len(in.Name) > maxGameNameLen {
		return game.Game{}, nil, svcerrors.InvalidInput("name is too long")
	}
	teamNames, err := normalizeTeamNames(in.Teams)
	if err != nil {
		return game.Game{}, nil, err
	}

	b, err := s.banks.GetBank(ctx, in.BankID)
	if errors.Is(err, storage.ErrNotFound) {
		return game.Game{}, nil, svcerrors.NotFound("question bank not found")
	}
	if err != nil {
		return game.Game{}, nil, svcerrors.Internal("load question bank", err)
	}
	if b.OwnerID != hostID {
		return game.Game{}, nil, svcerrors.Forbidden("question bank belongs to another user")
	}
	if in.Name == "" {
		in.Name = b.Title
	}

	quota, err := s.profiles.ClaimGameSlot(ctx, hostID)
	if err != nil {
		return game.Game{}, nil, svcerrors.Internal("claim game slot", err)
	}
	if !quota.Allowed {
		return game.Game{}, nil, svcerrors.QuotaExceeded("game limit reached for your plan").
			WithDetails("games_created", quota.GamesCreated).
			WithDetails("game_limit", quota.GameLimit)
	}

	g, err := s.insertWithFreshCode(ctx, hostID, in)
	if err != nil {
		s.releaseSlot(ctx, hostID)
		return game.Game{}, nil, err
	}

	teams := make([]game.Team, 0, len(teamNames))
	for _, name := range teamNames {
		t, err := s.games.CreateTeam(ctx, game.Team{GameID: g.ID, Name: name})
		if err != nil {
			s.unwindCreate(ctx, hostID, g.ID)
			return game.Game{}, nil, svcerrors.Internal("create team", err)
		}
		teams = append(teams, t)
	}

	metrics.RecordGameCreated()
	s.log.WithField("game_id", g.ID).WithField("host_id", hostID).Info("game created")
	return g, teams, nil
}

func normalizeTeamNames(names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, svcerrors.InvalidInput("at least one team is required")
	}
	if len(names) > maxTeams {
		return nil, svcerrors.InvalidInput(fmt.Sprintf("at most %d teams are allowed", maxTeams))
	}
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, svcerrors.InvalidInput("team names must not be empty")
		}
		if len(name) > maxTeamNameLen {
			return nil, svcerrors.InvalidInput("team name is too long")
		}
		key := strings.ToLower(name)
		if _, dup := seen[key]; dup {
			return nil, svcerrors.InvalidInput("team names must be unique")
		}
		seen[key] = struct{}{}
		out = append(out, name)
	}
	return out, nil
}

// insertWithFreshCode retries on join-code collisions with other live games.
func (s *Service) insertWithFreshCode(ctx context.Context, hostID string, in CreateInput) (game.Game, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := newJoinCode()
		if err != nil {
			return game.Game{}, svcerrors.Internal("generate join code", err)
		}
		g, err := s.games.CreateGame(ctx, game.Game{
			HostID:   hostID,
			BankID:   in.BankID,
			Name:     in.Name,
			JoinCode: code,
		})
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return game.Game{}, svcerrors.Internal("create game", err)
		}
		return g, nil
	}
	return game.Game{}, svcerrors.Internal("create game", fmt.Errorf("no unique join code after %d attempts", createAttempts))
}

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, joinCodeLength)
	for i, b := range buf {
		code[i] = joinCodeAlphabet[int(b)&31]
	}
	return string(code), nil
}

// unwindCreate removes a partially created game and returns the quota slot.
// Both steps are best effort; a leftover lobby game is reaped later.
func (s *Service) unwindCreate(ctx context.Context, hostID, gameID string) {
	if err := s.games.DeleteGame(ctx, gameID); err != nil {
		s.log.WithError(err).WithField("game_id", gameID).Warn("remove partially created game")
	}
	s.releaseSlot(ctx, hostID)
}

func (s *Service) releaseSlot(ctx context.Context, hostID string) {
	if err := s.profiles.ReleaseGameSlot(ctx, hostID); err != nil {
		s.log.WithError(err).WithField("host_id", hostID).Warn("release game slot")
	}
}

// Get returns one of the host's games.
func (s *Service) Get(ctx context.Context, hostID, gameID string) (game.Game, error) {
	return s.requireGame(ctx, hostID, gameID)
}

// List returns the host's games, optionally filtered by status.
func (s *Service) List(ctx context.Context, hostID, status string) ([]game.Game, error) {
	st := game.Status(strings.TrimSpace(status))
	switch st {
	case "", game.StatusLobby, game.StatusInProgress, game.StatusFinalJeopardy, game.StatusCompleted, game.StatusAbandoned:
	default:
		return nil, svcerrors.InvalidInput("unknown status filter")
	}
	games, err := s.games.ListGames(ctx, storage.GameFilter{HostID: hostID, Status: st})
	if err != nil {
		return nil, svcerrors.Internal("list games", err)
	}
	return games, nil
}

// Delete removes a game that is still in the lobby. Finished or running
// games are kept for history. The quota slot is not returned; the limit
// counts games created, not games retained.
func (s *Service) Delete(ctx context.Context, hostID, gameID string) error {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return err
	}
	err := s.games.DeleteGame(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return svcerrors.Conflict("only games still in the lobby can be deleted")
	case errors.Is(err, storage.ErrNotFound):
		return svcerrors.NotFound("game not found")
	case err != nil:
		return svcerrors.Internal("delete game", err)
	}
	s.log.WithField("game_id", gameID).Info("game deleted")
	return nil
}

// Start moves a lobby game into play.
func (s *Service) Start(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.StartGame(ctx, gameID, time.Now().UTC())
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game has already started")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("start game", err)
	}
	s.publish(g.ID, events.New(events.TypeGameStarted, g.ID, map[string]any{
		"status": g.Status,
	}))
	s.log.WithField("game_id", g.ID).Info("game started")
	return g, nil
}

// Complete ends a game early, regardless of where play stands.
func (s *Service) Complete(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.CompleteGame(ctx, gameID, time.Now().UTC())
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game is already finished")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("complete game", err)
	}
	s.publish(g.ID, events.New(events.TypeGameCompleted, g.ID, map[string]any{
		"status": g.Status,
	}))
	s.log.WithField("game_id", g.ID).Info("game completed")
	return g, nil
}

// SetCurrentQuestion puts a board question in front of the players and
// reopens the buzzer.
func (s *Service) SetCurrentQuestion(ctx context.Context, hostID, gameID, questionID string) (game.Game, error) {
	questionID = strings.TrimSpace(questionID)
	if questionID == "" {
		return game.Game{}, svcerrors.InvalidInput("question_id is required")
	}
	g, err := s.requireGame(ctx, hostID, gameID)
	if err != nil {
		return game.Game{}, err
	}

	q, err := s.banks.GetQuestion(ctx, questionID)
	if errors.Is(err, storage.ErrNotFound) {
		return game.Game{}, svcerrors.NotFound("question not found")
	}
	if err != nil {
		return game.Game{}, svcerrors.Internal("load question", err)
	}
	if q.BankID != g.BankID {
		return game.Game{}, svcerrors.NotFound("question is not in this game's bank")
	}
	if q.IsFinal {
		return game.Game{}, svcerrors.Conflict("the final question never goes on the board")
	}

	g, err = s.games.SetCurrentQuestion(ctx, gameID, questionID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game is not in progress")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("question not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("set question", err)
	}

	s.publish(g.ID, events.New(events.TypeQuestionSet, g.ID, questionView(q)))
	return g, nil
}

// ClearBuzzer reopens the buzzer for the current question.
func (s *Service) ClearBuzzer(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.ClearBuzzer(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game is not in progress")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("clear buzzer", err)
	}
	s.publish(g.ID, events.New(events.TypeBuzzerCleared, g.ID, nil))
	return g, nil
}

// Score judges the buzzed team's answer to the current question. A correct
// answer retires the question; either way the buzzer reopens.
func (s *Service) Score(ctx context.Context, hostID, gameID, teamID string, correct bool) (game.ScoreResult, error) {
	g, err := s.requireGame(ctx, hostID, gameID)
	if err != nil {
		return game.ScoreResult{}, err
	}
	if g.CurrentQuestionID == "" {
		return game.ScoreResult{}, svcerrors.Conflict("no question is on the board")
	}

	res, err := s.games.ApplyScore(ctx, gameID, teamID, g.CurrentQuestionID, correct)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.ScoreResult{}, svcerrors.Conflict("game is not in progress")
	case errors.Is(err, storage.ErrNotFound):
		return game.ScoreResult{}, svcerrors.NotFound("team or question not found")
	case err != nil:
		return game.ScoreResult{}, svcerrors.Internal("apply score", err)
	}

	s.publish(gameID, events.New(events.TypeScoreApplied, gameID, map[string]any{
		"team_id":   res.TeamID,
		"new_score": res.NewScore,
		"correct":   correct,
	}))
	return res, nil
}

// ListTeams lists the game's teams for the host.
func (s *Service) ListTeams(ctx context.Context, hostID, gameID string) ([]game.Team, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return nil, err
	}
	teams, err := s.games.ListTeams(ctx, gameID)
	if err != nil {
		return nil, svcerrors.Internal("list teams", err)
	}
	return teams, nil
}

// ReleaseTeam unbinds a team from its device so another can claim it.
func (s *Service) ReleaseTeam(ctx context.Context, hostID, gameID, teamID string) (game.Team, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Team{}, err
	}
	t, err := s.games.ReleaseTeamDevice(ctx, gameID, teamID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return game.Team{}, svcerrors.NotFound("team not found")
	case err != nil:
		return game.Team{}, svcerrors.Internal("release team", err)
	}
	s.publish(gameID, events.New(events.TypeTeamReleased, gameID, t.View()))
	s.log.WithField("game_id", gameID).WithField("team_id", teamID).Info("team released")
	return t, nil
}

// StartFinal moves an in-progress game into the Final Jeopardy round.
func (s *Service) StartFinal(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.StartFinal(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrNoFinalQuestion):
		return game.Game{}, svcerrors.Conflict("question bank has no final question")
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game is not in progress")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("start final round", err)
	}
	s.publish(g.ID, events.New(events.TypeFinalStarted, g.ID, map[string]any{
		"phase": g.FinalPhase,
	}))
	s.log.WithField("game_id", g.ID).Info("final round started")
	return g, nil
}

// RevealFinalAnswer reveals one team's Final Jeopardy answer and settles
// its wager. Revealing the last outstanding wager completes the game.
func (s *Service) RevealFinalAnswer(ctx context.Context, hostID, gameID, teamID string, correct bool) (game.RevealResult, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.RevealResult{}, err
	}
	res, err := s.games.RevealFinalAnswer(ctx, gameID, teamID, correct)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.RevealResult{}, svcerrors.Conflict("this wager cannot be revealed now")
	case errors.Is(err, storage.ErrNotFound):
		return game.RevealResult{}, svcerrors.NotFound("no wager found for this team")
	case err != nil:
		return game.RevealResult{}, svcerrors.Internal("reveal final answer", err)
	}

	s.publish(gameID, events.New(events.TypeFinalRevealed, gameID, map[string]any{
		"team_id":   res.TeamID,
		"delta":     res.Delta,
		"new_score": res.NewScore,
		"correct":   correct,
	}))
	if res.GameStatus == game.StatusCompleted {
		s.publish(gameID, events.New(events.TypeGameCompleted, gameID, map[string]any{
			"status": res.GameStatus,
		}))
		s.log.WithField("game_id", gameID).Info("game completed")
	}
	return res, nil
}

// AdvanceFinal forces the round into its next phase when stragglers hold
// it up. Teams that never wagered or answered are simply passed over.
func (s *Service) AdvanceFinal(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.AdvanceFinal(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("final round cannot advance from here")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("advance final round", err)
	}
	s.publishPhase(g)
	return g, nil
}

// SkipFinal abandons the Final Jeopardy round and completes the game with
// scores as they stand.
func (s *Service) SkipFinal(ctx context.Context, hostID, gameID string) (game.Game, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return game.Game{}, err
	}
	g, err := s.games.SkipFinal(ctx, gameID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.Game{}, svcerrors.Conflict("game is not in its final round")
	case errors.Is(err, storage.ErrNotFound):
		return game.Game{}, svcerrors.NotFound("game not found")
	case err != nil:
		return game.Game{}, svcerrors.Internal("skip final round", err)
	}
	s.publishPhase(g)
	s.log.WithField("game_id", g.ID).Info("final round skipped")
	return g, nil
}

func (s *Service) publishPhase(g game.Game) {
	s.publish(g.ID, events.New(events.TypeFinalPhase, g.ID, map[string]any{
		"phase":  g.FinalPhase,
		"status": g.Status,
	}))
	if g.Status == game.StatusCompleted {
		s.publish(g.ID, events.New(events.TypeGameCompleted, g.ID, map[string]any{
			"status": g.Status,
		}))
	}
}

// ListWagers lists the Final Jeopardy wagers, answers included. Host only.
func (s *Service) ListWagers(ctx context.Context, hostID, gameID string) ([]game.Wager, error) {
	if _, err := s.requireGame(ctx, hostID, gameID); err != nil {
		return nil, err
	}
	wagers, err := s.games.ListWagers(ctx, gameID)
	if err != nil {
		return nil, svcerrors.Internal("list wagers", err)
	}
	return wagers, nil
}

func (s *Service) requireGame(ctx context.Context, hostID, gameID string) (game.Game, error) {
	g, err := s.games.GetGame(ctx, gameID)
	if errors.Is(err, storage.ErrNotFound) {
		return game.Game{}, svcerrors.NotFound("game not found")
	}
	if err != nil {
		return game.Game{}, svcerrors.Internal("load game", err)
	}
	if g.HostID != hostID {
		return game.Game{}, svcerrors.Forbidden("game belongs to another user")
	}
	return g, nil
}
