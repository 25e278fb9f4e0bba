package storage

import (
	"context"
	"errors"
	"time"

	"github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/domain/game"
	"github.com/reviewgame/server/internal/app/domain/profile"
)

// Sentinel errors shared by every storage implementation. Services translate
// these into the API error vocabulary.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrNoFinalQuestion = errors.New("bank has no final question")
)

// ProfileFilter narrows and pages profile listings.
type ProfileFilter struct {
	Query   string
	Page    int
	PerPage int
}

// GameFilter narrows game listings.
type GameFilter struct {
	HostID string
	Status game.Status
}

// AuditFilter narrows and pages audit log listings.
type AuditFilter struct {
	AdminID string
	Action  string
	Page    int
	PerPage int
}

// ProfileStore persists profiles, their login history and the usage
// counters behind tier quotas.
type ProfileStore interface {
	CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error)
	GetProfile(ctx context.Context, id string) (profile.Profile, error)
	GetProfileByCustomer(ctx context.Context, stripeCustomerID string) (profile.Profile, error)
	ListProfiles(ctx context.Context, f ProfileFilter) ([]profile.Profile, int, error)
	DeleteProfile(ctx context.Context, id string) error

	// ClaimGameSlot atomically consumes one unit of the game-creation quota.
	// An exhausted quota is reported via QuotaResult.Allowed, not an error.
	ClaimGameSlot(ctx context.Context, profileID string) (profile.QuotaResult, error)
	// ReleaseGameSlot is the compensating decrement for a failed creation.
	ReleaseGameSlot(ctx context.Context, profileID string) error

	RecordLogin(ctx context.Context, rec profile.LoginRecord) (profile.LoginRecord, error)
	ListLoginHistory(ctx context.Context, profileID string, limit int) ([]profile.LoginRecord, error)
	PurgeLoginHistory(ctx context.Context, before time.Time) (int, error)
}

// BankStore persists question banks and their questions.
type BankStore interface {
	CreateBank(ctx context.Context, b bank.Bank) (bank.Bank, error)
	UpdateBank(ctx context.Context, b bank.Bank) (bank.Bank, error)
	GetBank(ctx context.Context, id string) (bank.Bank, error)
	ListBanks(ctx context.Context, ownerID string) ([]bank.Bank, error)
	DeleteBank(ctx context.Context, id string) error

	CreateQuestion(ctx context.Context, q bank.Question) (bank.Question, error)
	UpdateQuestion(ctx context.Context, q bank.Question) (bank.Question, error)
	GetQuestion(ctx context.Context, id string) (bank.Question, error)
	ListQuestions(ctx context.Context, bankID string) ([]bank.Question, error)
	DeleteQuestion(ctx context.Context, id string) error
}

// GameStore persists game sessions, teams and wagers. Methods that guard
// invariants (buzzing, claiming, quota-sensitive transitions, the Final
// Jeopardy phases) map to database procedures in the Postgres
// implementation and are reimplemented in memory for tests.
type GameStore interface {
	CreateGame(ctx context.Context, g game.Game) (game.Game, error)
	GetGame(ctx context.Context, id string) (game.Game, error)
	GetGameByCode(ctx context.Context, code string) (game.Game, error)
	ListGames(ctx context.Context, f GameFilter) ([]game.Game, error)
	DeleteGame(ctx context.Context, id string) error

	StartGame(ctx context.Context, id string, at time.Time) (game.Game, error)
	CompleteGame(ctx context.Context, id string, at time.Time) (game.Game, error)
	AbandonStaleGames(ctx context.Context, createdBefore time.Time) (int, error)

	// SetCurrentQuestion also reopens the buzzer for the new question.
	SetCurrentQuestion(ctx context.Context, gameID, questionID string) (game.Game, error)
	ClearBuzzer(ctx context.Context, gameID string) (game.Game, error)

	CreateTeam(ctx context.Context, t game.Team) (game.Team, error)
	GetTeam(ctx context.Context, id string) (game.Team, error)
	ListTeams(ctx context.Context, gameID string) ([]game.Team, error)
	// ClaimTeamDevice binds a device to an unclaimed team. Claiming an
	// already-owned team with the same device is idempotent; with another
	// device it returns ErrConflict.
	ClaimTeamDevice(ctx context.Context, gameID, teamID, deviceID string) (game.Team, error)
	ReleaseTeamDevice(ctx context.Context, gameID, teamID string) (game.Team, error)

	RegisterBuzz(ctx context.Context, gameID, teamID, deviceID string) (game.BuzzResult, error)
	ApplyScore(ctx context.Context, gameID, teamID, questionID string, correct bool) (game.ScoreResult, error)

	StartFinal(ctx context.Context, gameID string) (game.Game, error)
	SubmitFinalWager(ctx context.Context, gameID, teamID, deviceID string, amount int) (game.WagerResult, error)
	SubmitFinalAnswer(ctx context.Context, gameID, teamID, deviceID, answer string) (game.WagerResult, error)
	RevealFinalAnswer(ctx context.Context, gameID, teamID string, correct bool) (game.RevealResult, error)
	AdvanceFinal(ctx context.Context, gameID string) (game.Game, error)
	SkipFinal(ctx context.Context, gameID string) (game.Game, error)
	ListWagers(ctx context.Context, gameID string) ([]game.Wager, error)
}

// AdminStore persists impersonation sessions and the audit log.
type AdminStore interface {
	CreateImpersonationSession(ctx context.Context, s admin.ImpersonationSession) (admin.ImpersonationSession, error)
	GetImpersonationSession(ctx context.Context, id string) (admin.ImpersonationSession, error)
	// ActiveImpersonationSession returns the admin's current live session,
	// or ErrNotFound when none is active.
	ActiveImpersonationSession(ctx context.Context, adminID string, now time.Time) (admin.ImpersonationSession, error)
	EndImpersonationSession(ctx context.Context, id string, at time.Time) (admin.ImpersonationSession, error)
	ExpireImpersonationSessions(ctx context.Context, now time.Time) (int, error)

	AppendAuditEntry(ctx context.Context, e admin.AuditEntry) (admin.AuditEntry, error)
	ListAuditEntries(ctx context.Context, f AuditFilter) ([]admin.AuditEntry, int, error)
}
