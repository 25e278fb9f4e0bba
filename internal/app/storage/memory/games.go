package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/storage"
)

// --- GameStore ---

func (s *Store) CreateGame(ctx context.Context, g game.Game) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g.ID = newID(g.ID)
	if _, exists := s.games[g.ID]; exists {
		return game.Game{}, storage.ErrConflict
	}
	g.JoinCode = strings.ToUpper(g.JoinCode)
	for _, existing := range s.games {
		if existing.JoinCode == g.JoinCode && gameActive(existing.Status) {
			return game.Game{}, storage.ErrConflict
		}
	}
	g.Status = game.StatusLobby
	g.FinalPhase = game.PhaseNone
	g.CreatedAt = now()
	g.StartedAt = nil
	g.CompletedAt = nil
	s.games[g.ID] = g
	return g, nil
}

func gameActive(status game.Status) bool {
	switch status {
	case game.StatusLobby, game.StatusInProgress, game.StatusFinalJeopardy:
		return true
	}
	return false
}

func (s *Store) GetGame(ctx context.Context, id string) (game.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[id]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	return g, nil
}

func (s *Store) GetGameByCode(ctx context.Context, code string) (game.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = strings.ToUpper(strings.TrimSpace(code))
	var best game.Game
	found := false
	for _, g := range s.games {
		if g.JoinCode != code {
			continue
		}
		// Codes are reusable once a game finishes; prefer the live game,
		// then the most recent.
		if gameActive(g.Status) {
			return g, nil
		}
		if !found || g.CreatedAt.After(best.CreatedAt) {
			best = g
			found = true
		}
	}
	if !found {
		return game.Game{}, storage.ErrNotFound
	}
	return best, nil
}

func (s *Store) ListGames(ctx context.Context, f storage.GameFilter) ([]game.Game, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	games := make([]game.Game, 0)
	for _, g := range s.games {
		if f.HostID != "" && g.HostID != f.HostID {
			continue
		}
		if f.Status != "" && g.Status != f.Status {
			continue
		}
		games = append(games, g)
	}
	sort.Slice(games, func(i, j int) bool {
		if games[i].CreatedAt.Equal(games[j].CreatedAt) {
			return games[i].ID < games[j].ID
		}
		return games[i].CreatedAt.After(games[j].CreatedAt)
	})
	return games, nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return storage.ErrNotFound
	}
	if g.Status != game.StatusLobby {
		return storage.ErrConflict
	}
	s.deleteGameLocked(id)
	return nil
}

func (s *Store) deleteGameLocked(id string) {
	delete(s.games, id)
	for teamID, t := range s.teams {
		if t.GameID == id {
			delete(s.teams, teamID)
		}
	}
	for wagerID, w := range s.wagers {
		if w.GameID == id {
			delete(s.wagers, wagerID)
		}
	}
}

func (s *Store) StartGame(ctx context.Context, id string, at time.Time) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusLobby {
		return game.Game{}, storage.ErrConflict
	}
	at = at.UTC()
	g.Status = game.StatusInProgress
	g.StartedAt = &at
	s.games[id] = g
	return g, nil
}

func (s *Store) CompleteGame(ctx context.Context, id string, at time.Time) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[id]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusInProgress && g.Status != game.StatusFinalJeopardy {
		return game.Game{}, storage.ErrConflict
	}
	at = at.UTC()
	g.Status = game.StatusCompleted
	g.CompletedAt = &at
	g.CurrentQuestionID = ""
	g.BuzzedTeamID = ""
	s.games[id] = g
	return g, nil
}

func (s *Store) AbandonStaleGames(ctx context.Context, createdBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, g := range s.games {
		if g.Status == game.StatusLobby && g.CreatedAt.Before(createdBefore) {
			g.Status = game.StatusAbandoned
			s.games[id] = g
			n++
		}
	}
	return n, nil
}

func (s *Store) SetCurrentQuestion(ctx context.Context, gameID, questionID string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusInProgress {
		return game.Game{}, storage.ErrConflict
	}
	q, ok := s.questions[questionID]
	if !ok || q.BankID != g.BankID {
		return game.Game{}, storage.ErrNotFound
	}
	if q.IsFinal {
		return game.Game{}, storage.ErrConflict
	}
	g.CurrentQuestionID = questionID
	g.BuzzedTeamID = ""
	s.games[gameID] = g
	return g, nil
}

func (s *Store) ClearBuzzer(ctx context.Context, gameID string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusInProgress {
		return game.Game{}, storage.ErrConflict
	}
	g.BuzzedTeamID = ""
	s.games[gameID] = g
	return g, nil
}

// --- teams ---

func (s *Store) CreateTeam(ctx context.Context, t game.Team) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.games[t.GameID]; !ok {
		return game.Team{}, storage.ErrNotFound
	}
	t.ID = newID(t.ID)
	t.CreatedAt = now()
	s.teams[t.ID] = t
	return t, nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (game.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return game.Team{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) ListTeams(ctx context.Context, gameID string) ([]game.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.games[gameID]; !ok {
		return nil, storage.ErrNotFound
	}
	return s.listTeamsLocked(gameID), nil
}

func (s *Store) listTeamsLocked(gameID string) []game.Team {
	teams := make([]game.Team, 0)
	for _, t := range s.teams {
		if t.GameID == gameID {
			teams = append(teams, t)
		}
	}
	sort.Slice(teams, func(i, j int) bool {
		if teams[i].CreatedAt.Equal(teams[j].CreatedAt) {
			return teams[i].Name < teams[j].Name
		}
		return teams[i].CreatedAt.Before(teams[j].CreatedAt)
	})
	return teams
}

func (s *Store) ClaimTeamDevice(ctx context.Context, gameID, teamID, deviceID string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Team{}, storage.ErrNotFound
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.Team{}, storage.ErrNotFound
	}
	if !gameActive(g.Status) {
		return game.Team{}, storage.ErrConflict
	}

	switch t.DeviceID {
	case "":
		t.DeviceID = deviceID
		s.teams[teamID] = t
		return t, nil
	case deviceID:
		return t, nil
	default:
		return game.Team{}, storage.ErrConflict
	}
}

func (s *Store) ReleaseTeamDevice(ctx context.Context, gameID, teamID string) (game.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.Team{}, storage.ErrNotFound
	}
	t.DeviceID = ""
	s.teams[teamID] = t
	return t, nil
}

// --- buzzing and scoring ---

func (s *Store) RegisterBuzz(ctx context.Context, gameID, teamID, deviceID string) (game.BuzzResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.BuzzResult{}, storage.ErrNotFound
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.BuzzResult{}, storage.ErrNotFound
	}

	if g.Status != game.StatusInProgress {
		return game.BuzzResult{Reason: "game_not_in_progress"}, nil
	}
	if t.DeviceID == "" || t.DeviceID != deviceID {
		return game.BuzzResult{Reason: "device_mismatch"}, nil
	}
	if g.CurrentQuestionID == "" {
		return game.BuzzResult{Reason: "no_open_question"}, nil
	}
	if g.BuzzedTeamID != "" {
		return game.BuzzResult{Reason: "already_buzzed", BuzzedTeamID: g.BuzzedTeamID}, nil
	}

	g.BuzzedTeamID = teamID
	s.games[gameID] = g
	t.BuzzCount++
	s.teams[teamID] = t
	return game.BuzzResult{Accepted: true, BuzzedTeamID: teamID}, nil
}

func (s *Store) ApplyScore(ctx context.Context, gameID, teamID, questionID string, correct bool) (game.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.ScoreResult{}, storage.ErrNotFound
	}
	if g.Status != game.StatusInProgress {
		return game.ScoreResult{}, storage.ErrConflict
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.ScoreResult{}, storage.ErrNotFound
	}
	q, ok := s.questions[questionID]
	if !ok || q.BankID != g.BankID {
		return game.ScoreResult{}, storage.ErrNotFound
	}

	delta := q.Value
	if !correct {
		delta = -q.Value
	}
	t.Score += delta
	s.teams[teamID] = t

	// A correct answer retires the question; a miss reopens the buzzer.
	g.BuzzedTeamID = ""
	if correct && g.CurrentQuestionID == questionID {
		g.CurrentQuestionID = ""
	}
	s.games[gameID] = g

	return game.ScoreResult{TeamID: teamID, NewScore: t.Score}, nil
}

// --- Final Jeopardy ---

func (s *Store) StartFinal(ctx context.Context, gameID string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusInProgress {
		return game.Game{}, storage.ErrConflict
	}
	if !s.bankHasFinalLocked(g.BankID) {
		return game.Game{}, storage.ErrNoFinalQuestion
	}

	g.Status = game.StatusFinalJeopardy
	g.FinalPhase = game.PhaseWagering
	g.CurrentQuestionID = ""
	g.BuzzedTeamID = ""
	s.games[gameID] = g
	return g, nil
}

func (s *Store) bankHasFinalLocked(bankID string) bool {
	for _, q := range s.questions {
		if q.BankID == bankID && q.IsFinal {
			return true
		}
	}
	return false
}

func (s *Store) SubmitFinalWager(ctx context.Context, gameID, teamID, deviceID string, amount int) (game.WagerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.WagerResult{}, storage.ErrNotFound
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.WagerResult{}, storage.ErrNotFound
	}

	if g.Status != game.StatusFinalJeopardy || g.FinalPhase != game.PhaseWagering {
		return game.WagerResult{Status: "rejected", Reason: "wrong_phase", Phase: g.FinalPhase}, nil
	}
	if t.DeviceID == "" || t.DeviceID != deviceID {
		return game.WagerResult{Status: "rejected", Reason: "device_mismatch", Phase: g.FinalPhase}, nil
	}
	if s.wagerForTeamLocked(gameID, teamID) != nil {
		return game.WagerResult{Status: "rejected", Reason: "already_wagered", Phase: g.FinalPhase}, nil
	}
	maxWager := t.Score
	if maxWager < 0 {
		maxWager = 0
	}
	if amount < 0 || amount > maxWager {
		return game.WagerResult{Status: "rejected", Reason: "amount_out_of_range", Phase: g.FinalPhase}, nil
	}

	w := game.Wager{
		ID:        newID(""),
		GameID:    gameID,
		TeamID:    teamID,
		Amount:    amount,
		CreatedAt: now(),
	}
	s.wagers[w.ID] = w

	if s.allClaimedTeamsWageredLocked(gameID) {
		g.FinalPhase = game.PhaseAnswering
		s.games[gameID] = g
	}
	return game.WagerResult{Status: "ok", Phase: g.FinalPhase}, nil
}

func (s *Store) wagerForTeamLocked(gameID, teamID string) *game.Wager {
	for id, w := range s.wagers {
		if w.GameID == gameID && w.TeamID == teamID {
			found := s.wagers[id]
			return &found
		}
	}
	return nil
}

func (s *Store) allClaimedTeamsWageredLocked(gameID string) bool {
	for _, t := range s.teams {
		if t.GameID != gameID || t.DeviceID == "" {
			continue
		}
		if s.wagerForTeamLocked(gameID, t.ID) == nil {
			return false
		}
	}
	return true
}

func (s *Store) SubmitFinalAnswer(ctx context.Context, gameID, teamID, deviceID, answer string) (game.WagerResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.WagerResult{}, storage.ErrNotFound
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.WagerResult{}, storage.ErrNotFound
	}

	if g.Status != game.StatusFinalJeopardy || g.FinalPhase != game.PhaseAnswering {
		return game.WagerResult{Status: "rejected", Reason: "wrong_phase", Phase: g.FinalPhase}, nil
	}
	if t.DeviceID == "" || t.DeviceID != deviceID {
		return game.WagerResult{Status: "rejected", Reason: "device_mismatch", Phase: g.FinalPhase}, nil
	}
	w := s.wagerForTeamLocked(gameID, teamID)
	if w == nil {
		return game.WagerResult{Status: "rejected", Reason: "no_wager", Phase: g.FinalPhase}, nil
	}
	if w.AnsweredAt != nil {
		return game.WagerResult{Status: "rejected", Reason: "already_answered", Phase: g.FinalPhase}, nil
	}

	ts := now()
	w.Answer = answer
	w.AnsweredAt = &ts
	s.wagers[w.ID] = *w

	if s.allWagersAnsweredLocked(gameID) {
		g.FinalPhase = game.PhaseRevealing
		s.games[gameID] = g
	}
	return game.WagerResult{Status: "ok", Phase: g.FinalPhase}, nil
}

func (s *Store) allWagersAnsweredLocked(gameID string) bool {
	for _, w := range s.wagers {
		if w.GameID == gameID && w.AnsweredAt == nil {
			return false
		}
	}
	return true
}

func (s *Store) RevealFinalAnswer(ctx context.Context, gameID, teamID string, correct bool) (game.RevealResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.RevealResult{}, storage.ErrNotFound
	}
	if g.Status != game.StatusFinalJeopardy || g.FinalPhase != game.PhaseRevealing {
		return game.RevealResult{}, storage.ErrConflict
	}
	t, ok := s.teams[teamID]
	if !ok || t.GameID != gameID {
		return game.RevealResult{}, storage.ErrNotFound
	}
	w := s.wagerForTeamLocked(gameID, teamID)
	if w == nil {
		return game.RevealResult{}, storage.ErrNotFound
	}
	if w.RevealedAt != nil {
		return game.RevealResult{}, storage.ErrConflict
	}

	delta := w.Amount
	if !correct {
		delta = -w.Amount
	}
	t.Score += delta
	s.teams[teamID] = t

	ts := now()
	w.RevealedAt = &ts
	w.Correct = &correct
	s.wagers[w.ID] = *w

	if s.allWagersRevealedLocked(gameID) {
		g.FinalPhase = game.PhaseComplete
		g.Status = game.StatusCompleted
		g.CompletedAt = &ts
		s.games[gameID] = g
	}

	return game.RevealResult{
		TeamID:     teamID,
		Delta:      delta,
		NewScore:   t.Score,
		Phase:      g.FinalPhase,
		GameStatus: g.Status,
	}, nil
}

func (s *Store) allWagersRevealedLocked(gameID string) bool {
	for _, w := range s.wagers {
		if w.GameID == gameID && w.RevealedAt == nil {
			return false
		}
	}
	return true
}

func (s *Store) AdvanceFinal(ctx context.Context, gameID string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusFinalJeopardy {
		return game.Game{}, storage.ErrConflict
	}

	switch g.FinalPhase {
	case game.PhaseWagering:
		g.FinalPhase = game.PhaseAnswering
	case game.PhaseAnswering:
		g.FinalPhase = game.PhaseRevealing
	default:
		return game.Game{}, storage.ErrConflict
	}

	// Advancing past teams that never wagered can leave nothing to reveal.
	if g.FinalPhase == game.PhaseRevealing && !s.anyWagersLocked(gameID) {
		ts := now()
		g.FinalPhase = game.PhaseComplete
		g.Status = game.StatusCompleted
		g.CompletedAt = &ts
	}

	s.games[gameID] = g
	return g, nil
}

func (s *Store) anyWagersLocked(gameID string) bool {
	for _, w := range s.wagers {
		if w.GameID == gameID {
			return true
		}
	}
	return false
}

func (s *Store) SkipFinal(ctx context.Context, gameID string) (game.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return game.Game{}, storage.ErrNotFound
	}
	if g.Status != game.StatusFinalJeopardy {
		return game.Game{}, storage.ErrConflict
	}

	ts := now()
	g.FinalPhase = game.PhaseComplete
	g.Status = game.StatusCompleted
	g.CompletedAt = &ts
	s.games[gameID] = g
	return g, nil
}

func (s *Store) ListWagers(ctx context.Context, gameID string) ([]game.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.games[gameID]; !ok {
		return nil, storage.ErrNotFound
	}
	wagers := make([]game.Wager, 0)
	for _, w := range s.wagers {
		if w.GameID == gameID {
			wagers = append(wagers, w)
		}
	}
	sort.Slice(wagers, func(i, j int) bool {
		if wagers[i].CreatedAt.Equal(wagers[j].CreatedAt) {
			return wagers[i].ID < wagers[j].ID
		}
		return wagers[i].CreatedAt.Before(wagers[j].CreatedAt)
	})
	return wagers, nil
}
