// Package game defines live game session models and the result types
// returned by the invariant-preserving database procedures.
package game

import "time"

// Status is the lifecycle state of a game session.
type Status string

const (
	StatusLobby         Status = "lobby"
	StatusInProgress    Status = "in_progress"
	StatusFinalJeopardy Status = "final_jeopardy"
	StatusCompleted     Status = "completed"
	StatusAbandoned     Status = "abandoned"
)

// FinalPhase is the sub-state of the Final Jeopardy round. Phases advance
// linearly: wagering, answering, revealing, complete.
type FinalPhase string

const (
	PhaseNone      FinalPhase = ""
	PhaseWagering  FinalPhase = "wagering"
	PhaseAnswering FinalPhase = "answering"
	PhaseRevealing FinalPhase = "revealing"
	PhaseComplete  FinalPhase = "complete"
)

// Game is one hosted session of a question bank.
type Game struct {
	ID                string     `json:"id"`
	HostID            string     `json:"host_id"`
	BankID            string     `json:"bank_id"`
	Name              string     `json:"name"`
	JoinCode          string     `json:"join_code"`
	Status            Status     `json:"status"`
	FinalPhase        FinalPhase `json:"final_phase,omitempty"`
	CurrentQuestionID string     `json:"current_question_id,omitempty"`
	BuzzedTeamID      string     `json:"buzzed_team_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// FinalPhaseDone reports whether the Final Jeopardy round has finished,
// either by running to completion or because the game ended around it.
func (g Game) FinalPhaseDone() bool {
	if g.FinalPhase == PhaseComplete {
		return true
	}
	return g.Status == StatusCompleted || g.Status == StatusAbandoned
}

// Team is a participant group in a game. DeviceID binds the team to the
// browser that claimed it and never leaves the server.
type Team struct {
	ID        string    `json:"id"`
	GameID    string    `json:"game_id"`
	Name      string    `json:"name"`
	Score     int       `json:"score"`
	DeviceID  string    `json:"-"`
	BuzzCount int       `json:"buzz_count"`
	CreatedAt time.Time `json:"created_at"`
}

// View renders a team for API responses, exposing claim state without the
// device identifier.
func (t Team) View() TeamView {
	return TeamView{
		ID:        t.ID,
		Name:      t.Name,
		Score:     t.Score,
		Claimed:   t.DeviceID != "",
		BuzzCount: t.BuzzCount,
	}
}

// TeamView is the public projection of a team.
type TeamView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Score     int    `json:"score"`
	Claimed   bool   `json:"claimed"`
	BuzzCount int    `json:"buzz_count"`
}

// Wager is the Final Jeopardy audit row for one team.
type Wager struct {
	ID         string     `json:"id"`
	GameID     string     `json:"game_id"`
	TeamID     string     `json:"team_id"`
	Amount     int        `json:"amount"`
	Answer     string     `json:"answer,omitempty"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	RevealedAt *time.Time `json:"revealed_at,omitempty"`
	Correct    *bool      `json:"correct,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// QuestionView is the answer-redacted question shown to players.
type QuestionView struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Value    int    `json:"value"`
	Prompt   string `json:"prompt"`
	IsFinal  bool   `json:"is_final"`
}

// Snapshot is the public game state served to player devices. It contains
// no answers and no device identifiers.
type Snapshot struct {
	GameID          string        `json:"game_id"`
	JoinCode        string        `json:"join_code"`
	Name            string        `json:"name"`
	Status          Status        `json:"status"`
	FinalPhase      FinalPhase    `json:"final_phase,omitempty"`
	CurrentQuestion *QuestionView `json:"current_question,omitempty"`
	BuzzedTeamID    string        `json:"buzzed_team_id,omitempty"`
	Teams           []TeamView    `json:"teams"`
}

// BuzzResult is returned by the register_buzz procedure.
type BuzzResult struct {
	Accepted     bool   `json:"accepted"`
	Reason       string `json:"reason,omitempty"`
	BuzzedTeamID string `json:"buzzed_team_id,omitempty"`
}

// WagerResult is returned by the wager and answer submission procedures.
type WagerResult struct {
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
	Phase  FinalPhase `json:"phase"`
}

// RevealResult is returned by reveal_final_jeopardy_answer.
type RevealResult struct {
	TeamID     string     `json:"team_id"`
	Delta      int        `json:"delta"`
	NewScore   int        `json:"new_score"`
	Phase      FinalPhase `json:"phase"`
	GameStatus Status     `json:"game_status"`
}

// ScoreResult is returned by apply_team_score.
type ScoreResult struct {
	TeamID   string `json:"team_id"`
	NewScore int    `json:"new_score"`
}
