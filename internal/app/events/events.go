// Package events fans live game state changes out to subscribed devices.
// Every mutation of a game publishes one event on that game's channel;
// payloads are already redacted for player consumption.
package events

import "time"

// Event types published on game channels.
const (
	TypeGameStarted   = "game.started"
	TypeGameCompleted = "game.completed"
	TypeQuestionSet   = "question.set"
	TypeBuzzerCleared = "buzzer.cleared"
	TypeBuzzAccepted  = "buzz.accepted"
	TypeScoreApplied  = "score.applied"
	TypeTeamCreated   = "team.created"
	TypeTeamClaimed   = "team.claimed"
	TypeTeamReleased  = "team.released"
	TypeFinalStarted  = "final.started"
	TypeFinalPhase    = "final.phase"
	TypeFinalWager    = "final.wager"
	TypeFinalAnswer   = "final.answer"
	TypeFinalRevealed = "final.revealed"
)

// Event is one state change on a game channel.
type Event struct {
	Type    string    `json:"type"`
	GameID  string    `json:"game_id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// New builds an event stamped with the current time.
func New(eventType, gameID string, payload any) Event {
	return Event{
		Type:    eventType,
		GameID:  gameID,
		At:      time.Now().UTC(),
		Payload: payload,
	}
}
