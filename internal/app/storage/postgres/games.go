package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/storage"
)

type gameRow struct {
	ID                string         `db:"id"`
	HostID            string         `db:"host_id"`
	BankID            string         `db:"bank_id"`
	Name              string         `db:"name"`
	JoinCode          string         `db:"join_code"`
	Status            string         `db:"status"`
	FinalPhase        sql.NullString `db:"final_phase"`
	CurrentQuestionID sql.NullString `db:"current_question_id"`
	BuzzedTeamID      sql.NullString `db:"buzzed_team_id"`
	CreatedAt         time.Time      `db:"created_at"`
	StartedAt         sql.NullTime   `db:"started_at"`
	CompletedAt       sql.NullTime   `db:"completed_at"`
}

func (r gameRow) toDomain() game.Game {
	return game.Game{
		ID:                r.ID,
		HostID:            r.HostID,
		BankID:            r.BankID,
		Name:              r.Name,
		JoinCode:          r.JoinCode,
		Status:            game.Status(r.Status),
		FinalPhase:        game.FinalPhase(fromNullString(r.FinalPhase)),
		CurrentQuestionID: fromNullString(r.CurrentQuestionID),
		BuzzedTeamID:      fromNullString(r.BuzzedTeamID),
		CreatedAt:         r.CreatedAt.UTC(),
		StartedAt:         fromNullTime(r.StartedAt),
		CompletedAt:       fromNullTime(r.CompletedAt),
	}
}

const gameColumns = `id, host_id, bank_id, name, join_code, status, final_phase, current_question_id, buzzed_team_id, created_at, started_at, completed_at`

const activeStatuses = `'lobby', 'in_progress', 'final_jeopardy'`

func (s *Store) CreateGame(ctx context.Context, g game.Game) (game.Game, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO games (id, host_id, bank_id, name, join_code, status)
		VALUES ($1, $2, $3, $4, upper($5), 'lobby')
		RETURNING `+gameColumns,
		g.ID, g.HostID, g.BankID, g.Name, g.JoinCode)
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetGame(ctx context.Context, id string) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+gameColumns+` FROM games WHERE id = $1`, id)
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

// GetGameByCode prefers a live game holding the code; finished games keep
// their code visible until it is reused.
func (s *Store) GetGameByCode(ctx context.Context, code string) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+gameColumns+` FROM games
		WHERE join_code = upper(trim($1))
		ORDER BY (status IN (`+activeStatuses+`)) DESC, created_at DESC
		LIMIT 1`, code)
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListGames(ctx context.Context, f storage.GameFilter) ([]game.Game, error) {
	query := `SELECT ` + gameColumns + ` FROM games`
	var conds []string
	var args []interface{}
	if f.HostID != "" {
		args = append(args, f.HostID)
		conds = append(conds, fmt.Sprintf("host_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	var rows []gameRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]game.Game, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteGame(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM games WHERE id = $1 AND status = 'lobby'`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return s.gameConflictOrMissing(ctx, id)
	}
	return nil
}

// gameConflictOrMissing disambiguates a zero-row conditional update: the
// game either does not exist or is in a state the operation rejects.
func (s *Store) gameConflictOrMissing(ctx context.Context, id string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, id); err != nil {
		return mapError(err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *Store) StartGame(ctx context.Context, id string, at time.Time) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE games SET status = 'in_progress', started_at = $2
		WHERE id = $1 AND status = 'lobby'
		RETURNING `+gameColumns, id, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, s.gameConflictOrMissing(ctx, id)
	}
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) CompleteGame(ctx context.Context, id string, at time.Time) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE games
		SET status = 'completed', completed_at = $2, current_question_id = NULL, buzzed_team_id = NULL
		WHERE id = $1 AND status IN ('in_progress', 'final_jeopardy')
		RETURNING `+gameColumns, id, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, s.gameConflictOrMissing(ctx, id)
	}
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) AbandonStaleGames(ctx context.Context, createdBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE games SET status = 'abandoned' WHERE status = 'lobby' AND created_at < $1`,
		createdBefore.UTC())
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *Store) SetCurrentQuestion(ctx context.Context, gameID, questionID string) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE games g
		SET current_question_id = q.id, buzzed_team_id = NULL
		FROM questions q
		WHERE g.id = $1 AND g.status = 'in_progress'
		  AND q.id = $2 AND q.bank_id = g.bank_id AND NOT q.is_final
		RETURNING g.id, g.host_id, g.bank_id, g.name, g.join_code, g.status, g.final_phase,
		          g.current_question_id, g.buzzed_team_id, g.created_at, g.started_at, g.completed_at`,
		gameID, questionID)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, s.setQuestionFailure(ctx, gameID, questionID)
	}
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) setQuestionFailure(ctx context.Context, gameID, questionID string) error {
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return err
	}
	if g.Status != game.StatusInProgress {
		return storage.ErrConflict
	}
	var q struct {
		BankID  string `db:"bank_id"`
		IsFinal bool   `db:"is_final"`
	}
	if err := s.db.GetContext(ctx, &q, `SELECT bank_id, is_final FROM questions WHERE id = $1`, questionID); err != nil {
		return mapError(err)
	}
	if q.BankID != g.BankID {
		return storage.ErrNotFound
	}
	// Final questions never go on the board.
	return storage.ErrConflict
}

func (s *Store) ClearBuzzer(ctx context.Context, gameID string) (game.Game, error) {
	var row gameRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE games SET buzzed_team_id = NULL
		WHERE id = $1 AND status = 'in_progress'
		RETURNING `+gameColumns, gameID)
	if errors.Is(err, sql.ErrNoRows) {
		return game.Game{}, s.gameConflictOrMissing(ctx, gameID)
	}
	if err != nil {
		return game.Game{}, mapError(err)
	}
	return row.toDomain(), nil
}

type teamRow struct {
	ID        string         `db:"id"`
	GameID    string         `db:"game_id"`
	Name      string         `db:"name"`
	Score     int            `db:"score"`
	DeviceID  sql.NullString `db:"device_id"`
	BuzzCount int            `db:"buzz_count"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r teamRow) toDomain() game.Team {
	return game.Team{
		ID:        r.ID,
		GameID:    r.GameID,
		Name:      r.Name,
		Score:     r.Score,
		DeviceID:  fromNullString(r.DeviceID),
		BuzzCount: r.BuzzCount,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

const teamColumns = `id, game_id, name, score, device_id, buzz_count, created_at`

func (s *Store) CreateTeam(ctx context.Context, t game.Team) (game.Team, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	var row teamRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO teams (id, game_id, name, score, device_id, buzz_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+teamColumns,
		t.ID, t.GameID, t.Name, t.Score, toNullString(t.DeviceID), t.BuzzCount)
	if err != nil {
		return game.Team{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetTeam(ctx context.Context, id string) (game.Team, error) {
	var row teamRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+teamColumns+` FROM teams WHERE id = $1`, id)
	if err != nil {
		return game.Team{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListTeams(ctx context.Context, gameID string) ([]game.Team, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	var rows []teamRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+teamColumns+` FROM teams WHERE game_id = $1 ORDER BY created_at, name`, gameID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]game.Team, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) requireGame(ctx context.Context, gameID string) error {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM games WHERE id = $1)`, gameID); err != nil {
		return mapError(err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

// ClaimTeamDevice binds a device to an unclaimed team with a conditional
// update on device_id IS NULL, so concurrent claims cannot both win.
func (s *Store) ClaimTeamDevice(ctx context.Context, gameID, teamID, deviceID string) (game.Team, error) {
	var row teamRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE teams t SET device_id = $3
		FROM games g
		WHERE t.id = $2 AND t.game_id = $1 AND g.id = t.game_id
		  AND g.status IN (`+activeStatuses+`)
		  AND t.device_id IS NULL
		RETURNING t.id, t.game_id, t.name, t.score, t.device_id, t.buzz_count, t.created_at`,
		gameID, teamID, deviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return s.claimFailure(ctx, gameID, teamID, deviceID)
	}
	if err != nil {
		return game.Team{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) claimFailure(ctx context.Context, gameID, teamID, deviceID string) (game.Team, error) {
	g, err := s.GetGame(ctx, gameID)
	if err != nil {
		return game.Team{}, err
	}
	t, err := s.GetTeam(ctx, teamID)
	if err != nil {
		return game.Team{}, err
	}
	if t.GameID != gameID {
		return game.Team{}, storage.ErrNotFound
	}
	switch {
	case g.Status == game.StatusCompleted || g.Status == game.StatusAbandoned:
		return game.Team{}, storage.ErrConflict
	case t.DeviceID == deviceID:
		// Same device re-claiming its team is a no-op.
		return t, nil
	default:
		return game.Team{}, storage.ErrConflict
	}
}

func (s *Store) ReleaseTeamDevice(ctx context.Context, gameID, teamID string) (game.Team, error) {
	var row teamRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE teams SET device_id = NULL
		WHERE id = $2 AND game_id = $1
		RETURNING `+teamColumns, gameID, teamID)
	if err != nil {
		return game.Team{}, mapError(err)
	}
	return row.toDomain(), nil
}

func wagerResult(res gjson.Result) game.WagerResult {
	return game.WagerResult{
		Status: res.Get("status").String(),
		Reason: res.Get("reason").String(),
		Phase:  game.FinalPhase(res.Get("phase").String()),
	}
}

func (s *Store) RegisterBuzz(ctx context.Context, gameID, teamID, deviceID string) (game.BuzzResult, error) {
	res, err := s.callProc(ctx, "register_buzz", gameID, teamID, deviceID)
	if err != nil {
		return game.BuzzResult{}, err
	}
	return game.BuzzResult{
		Accepted:     res.Get("accepted").Bool(),
		Reason:       res.Get("reason").String(),
		BuzzedTeamID: res.Get("buzzed_team_id").String(),
	}, nil
}

func (s *Store) ApplyScore(ctx context.Context, gameID, teamID, questionID string, correct bool) (game.ScoreResult, error) {
	res, err := s.callProc(ctx, "apply_team_score", gameID, teamID, questionID, correct)
	if err != nil {
		return game.ScoreResult{}, err
	}
	return game.ScoreResult{
		TeamID:   res.Get("team_id").String(),
		NewScore: int(res.Get("new_score").Int()),
	}, nil
}

func (s *Store) StartFinal(ctx context.Context, gameID string) (game.Game, error) {
	if _, err := s.callProc(ctx, "start_final_jeopardy", gameID); err != nil {
		return game.Game{}, err
	}
	return s.GetGame(ctx, gameID)
}

func (s *Store) SubmitFinalWager(ctx context.Context, gameID, teamID, deviceID string, amount int) (game.WagerResult, error) {
	res, err := s.callProc(ctx, "submit_final_jeopardy_wager", gameID, teamID, deviceID, amount)
	if err != nil {
		return game.WagerResult{}, err
	}
	return wagerResult(res), nil
}

func (s *Store) SubmitFinalAnswer(ctx context.Context, gameID, teamID, deviceID, answer string) (game.WagerResult, error) {
	res, err := s.callProc(ctx, "submit_final_jeopardy_answer", gameID, teamID, deviceID, answer)
	if err != nil {
		return game.WagerResult{}, err
	}
	return wagerResult(res), nil
}

func (s *Store) RevealFinalAnswer(ctx context.Context, gameID, teamID string, correct bool) (game.RevealResult, error) {
	res, err := s.callProc(ctx, "reveal_final_jeopardy_answer", gameID, teamID, correct)
	if err != nil {
		return game.RevealResult{}, err
	}
	return game.RevealResult{
		TeamID:     res.Get("team_id").String(),
		Delta:      int(res.Get("delta").Int()),
		NewScore:   int(res.Get("new_score").Int()),
		Phase:      game.FinalPhase(res.Get("phase").String()),
		GameStatus: game.Status(res.Get("game_status").String()),
	}, nil
}

func (s *Store) AdvanceFinal(ctx context.Context, gameID string) (game.Game, error) {
	if _, err := s.callProc(ctx, "advance_final_jeopardy", gameID); err != nil {
		return game.Game{}, err
	}
	return s.GetGame(ctx, gameID)
}

func (s *Store) SkipFinal(ctx context.Context, gameID string) (game.Game, error) {
	if _, err := s.callProc(ctx, "skip_final_jeopardy", gameID); err != nil {
		return game.Game{}, err
	}
	return s.GetGame(ctx, gameID)
}

type wagerRow struct {
	ID         string         `db:"id"`
	GameID     string         `db:"game_id"`
	TeamID     string         `db:"team_id"`
	Amount     int            `db:"amount"`
	Answer     sql.NullString `db:"answer"`
	AnsweredAt sql.NullTime   `db:"answered_at"`
	RevealedAt sql.NullTime   `db:"revealed_at"`
	Correct    sql.NullBool   `db:"correct"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r wagerRow) toDomain() game.Wager {
	return game.Wager{
		ID:         r.ID,
		GameID:     r.GameID,
		TeamID:     r.TeamID,
		Amount:     r.Amount,
		Answer:     fromNullString(r.Answer),
		AnsweredAt: fromNullTime(r.AnsweredAt),
		RevealedAt: fromNullTime(r.RevealedAt),
		Correct:    fromNullBool(r.Correct),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func (s *Store) ListWagers(ctx context.Context, gameID string) ([]game.Wager, error) {
	if err := s.requireGame(ctx, gameID); err != nil {
		return nil, err
	}
	var rows []wagerRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT id, game_id, team_id, amount, answer, answered_at, revealed_at, correct, created_at
		FROM wagers WHERE game_id = $1 ORDER BY created_at, id`, gameID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]game.Wager, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
