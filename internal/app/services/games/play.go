package games

import (
	"context"
	"errors"
	"strings"

	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/events"
	"github.com/reviewgame/server/internal/app/metrics"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
)

const maxAnswerLen = 500

// Player operations are addressed by join code and authenticated only by
// the device id captured when a team was claimed. Nothing returned here
// may contain an answer or another team's device id.

// Snapshot returns the public state of a game for player devices.
func (s *Service) Snapshot(ctx context.Context, code string) (game.Snapshot, error) {
	g, err := s.resolveByCode(ctx, code)
	if err != nil {
		return game.Snapshot{}, err
	}
	teams, err := s.games.ListTeams(ctx, g.ID)
	if err != nil {
		return game.Snapshot{}, svcerrors.Internal("list teams", err)
	}

	snap := game.Snapshot{
		GameID:       g.ID,
		JoinCode:     g.JoinCode,
		Name:         g.Name,
		Status:       g.Status,
		FinalPhase:   g.FinalPhase,
		BuzzedTeamID: g.BuzzedTeamID,
		Teams:        make([]game.TeamView, 0, len(teams)),
	}
	for _, t := range teams {
		snap.Teams = append(snap.Teams, t.View())
	}

	if g.CurrentQuestionID != "" {
		q, err := s.banks.GetQuestion(ctx, g.CurrentQuestionID)
		switch {
		case err == nil:
			v := questionView(q)
			snap.CurrentQuestion = &v
		case !errors.Is(err, storage.ErrNotFound):
			return game.Snapshot{}, svcerrors.Internal("load question", err)
		}
	}
	if g.Status == game.StatusFinalJeopardy {
		v, err := s.finalQuestionView(ctx, g)
		if err != nil {
			return game.Snapshot{}, err
		}
		if v != nil {
			snap.CurrentQuestion = v
		}
	}
	return snap, nil
}

// finalQuestionView projects the bank's final question for players.
// Only the category shows while wagers are open; the prompt appears once
// answering starts.
func (s *Service) finalQuestionView(ctx context.Context, g game.Game) (*game.QuestionView, error) {
	questions, err := s.banks.ListQuestions(ctx, g.BankID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, svcerrors.Internal("load final question", err)
	}
	for _, q := range questions {
		if !q.IsFinal {
			continue
		}
		v := questionView(q)
		if g.FinalPhase == game.PhaseWagering {
			v.Prompt = ""
		}
		return &v, nil
	}
	return nil, nil
}

// ClaimTeam binds a player device to an unclaimed team. The same device
// claiming its own team again is a no-op.
func (s *Service) ClaimTeam(ctx context.Context, code, teamID, deviceID string) (game.TeamView, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return game.TeamView{}, svcerrors.InvalidInput("device_id is required")
	}
	g, err := s.resolveByCode(ctx, code)
	if err != nil {
		return game.TeamView{}, err
	}

	t, err := s.games.ClaimTeamDevice(ctx, g.ID, teamID, deviceID)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return game.TeamView{}, svcerrors.Conflict("team is already claimed by another device")
	case errors.Is(err, storage.ErrNotFound):
		return game.TeamView{}, svcerrors.NotFound("team not found")
	case err != nil:
		return game.TeamView{}, svcerrors.Internal("claim team", err)
	}

	view := t.View()
	s.publish(g.ID, events.New(events.TypeTeamClaimed, g.ID, view))
	return view, nil
}

// Buzz records a buzz attempt against the open question. Losing the race
// is an outcome, not an error: the result names the team holding the
// buzzer.
func (s *Service) Buzz(ctx context.Context, code, teamID, deviceID string) (game.BuzzResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return game.BuzzResult{}, svcerrors.InvalidInput("device_id is required")
	}
	g, err := s.resolveByCode(ctx, code)
	if err != nil {
		return game.BuzzResult{}, err
	}

	res, err := s.games.RegisterBuzz(ctx, g.ID, teamID, deviceID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return game.BuzzResult{}, svcerrors.NotFound("team not found")
	case err != nil:
		return game.BuzzResult{}, svcerrors.Internal("register buzz", err)
	}

	metrics.RecordBuzz(res.Accepted)
	if res.Accepted {
		s.publish(g.ID, events.New(events.TypeBuzzAccepted, g.ID, map[string]any{
			"team_id": res.BuzzedTeamID,
		}))
	}
	return res, nil
}

// SubmitWager places a team's Final Jeopardy wager. Amounts stay hidden
// from other players until the reveal.
func (s *Service) SubmitWager(ctx context.Context, code, teamID, deviceID string, amount int) (game.WagerResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return game.WagerResult{}, svcerrors.InvalidInput("device_id is required")
	}
	g, err := s.resolveByCode(ctx, code)
	if err != nil {
		return game.WagerResult{}, err
	}

	res, err := s.games.SubmitFinalWager(ctx, g.ID, teamID, deviceID, amount)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return game.WagerResult{}, svcerrors.NotFound("team not found")
	case err != nil:
		return game.WagerResult{}, svcerrors.Internal("submit wager", err)
	}
	metrics.RecordFinalWager(wagerLabel(res))
	if res.Status != "ok" {
		return game.WagerResult{}, wagerRejection(res)
	}

	s.publish(g.ID, events.New(events.TypeFinalWager, g.ID, map[string]any{
		"team_id": teamID,
	}))
	if res.Phase == game.PhaseAnswering {
		s.publish(g.ID, events.New(events.TypeFinalPhase, g.ID, map[string]any{
			"phase":  res.Phase,
			"status": g.Status,
		}))
	}
	return res, nil
}

// SubmitAnswer records a team's Final Jeopardy answer.
func (s *Service) SubmitAnswer(ctx context.Context, code, teamID, deviceID, answer string) (game.WagerResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return game.WagerResult{}, svcerrors.InvalidInput("device_id is required")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return game.WagerResult{}, svcerrors.InvalidInput("answer is required")
	}
	if len(answer) > maxAnswerLen {
		return game.WagerResult{}, svcerrors.InvalidInput("answer is too long")
	}
	g, err := s.resolveByCode(ctx, code)
	if err != nil {
		return game.WagerResult{}, err
	}

	res, err := s.games.SubmitFinalAnswer(ctx, g.ID, teamID, deviceID, answer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return game.WagerResult{}, svcerrors.NotFound("team not found")
	case err != nil:
		return game.WagerResult{}, svcerrors.Internal("submit answer", err)
	}
	if res.Status != "ok" {
		return game.WagerResult{}, wagerRejection(res)
	}

	s.publish(g.ID, events.New(events.TypeFinalAnswer, g.ID, map[string]any{
		"team_id": teamID,
	}))
	if res.Phase == game.PhaseRevealing {
		s.publish(g.ID, events.New(events.TypeFinalPhase, g.ID, map[string]any{
			"phase":  res.Phase,
			"status": g.Status,
		}))
	}
	return res, nil
}

// Resolve looks a game up by join code for the event socket.
func (s *Service) Resolve(ctx context.Context, code string) (game.Game, error) {
	return s.resolveByCode(ctx, code)
}

func (s *Service) resolveByCode(ctx context.Context, code string) (game.Game, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return game.Game{}, svcerrors.InvalidInput("join code is required")
	}
	g, err := s.games.GetGameByCode(ctx, code)
	if errors.Is(err, storage.ErrNotFound) {
		return game.Game{}, svcerrors.NotFound("game not found")
	}
	if err != nil {
		return game.Game{}, svcerrors.Internal("load game", err)
	}
	return g, nil
}

// wagerRejection maps a rejected wager or answer submission onto the API
// error vocabulary.
func wagerRejection(res game.WagerResult) error {
	switch res.Reason {
	case "device_mismatch":
		return svcerrors.Forbidden("team is claimed by another device")
	case "amount_out_of_range":
		return svcerrors.InvalidInput("wager is out of range")
	case "wrong_phase":
		return svcerrors.Conflict("the final round is not in that phase")
	case "already_wagered":
		return svcerrors.Conflict("team has already wagered")
	case "no_wager":
		return svcerrors.Conflict("team has no wager on record")
	case "already_answered":
		return svcerrors.Conflict("team has already answered")
	default:
		return svcerrors.Conflict("submission rejected")
	}
}

func wagerLabel(res game.WagerResult) string {
	if res.Status == "ok" {
		return "accepted"
	}
	return res.Reason
}

func questionView(q bank.Question) game.QuestionView {
	return game.QuestionView{
		ID:       q.ID,
		Category: q.Category,
		Value:    q.Value,
		Prompt:   q.Prompt,
		IsFinal:  q.IsFinal,
	}
}
