// Package banks manages question banks and their questions on behalf of
// their owning teacher. Every operation enforces ownership.
package banks

import (
	"context"
	"errors"
	"strings"

	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/storage"
	svcerrors "github.com/reviewgame/server/internal/errors"
	"github.com/reviewgame/server/pkg/logger"
)

// Board questions carry a value between 100 and 2000 in steps of 100.
const (
	minQuestionValue  = 100
	maxQuestionValue  = 2000
	questionValueStep = 100
)

// Service manages question bank content.
type Service struct {
	store storage.BankStore
	log   *logger.Logger
}

// New constructs a bank service.
func New(store storage.BankStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("banks")
	}
	return &Service{store: store, log: log}
}

// BankInput carries bank creation fields.
type BankInput struct {
	Title       string `json:"title"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// BankUpdate carries optional bank changes.
type BankUpdate struct {
	Title       *string `json:"title"`
	Subject     *string `json:"subject"`
	Description *string `json:"description"`
}

// QuestionInput carries question creation fields.
type QuestionInput struct {
	Category string `json:"category"`
	Value    int    `json:"value"`
	Prompt   string `json:"prompt"`
	Answer   string `json:"answer"`
	IsFinal  bool   `json:"is_final"`
	Position int    `json:"position"`
}

// QuestionUpdate carries optional question changes.
type QuestionUpdate struct {
	Category *string `json:"category"`
	Value    *int    `json:"value"`
	Prompt   *string `json:"prompt"`
	Answer   *string `json:"answer"`
	IsFinal  *bool   `json:"is_final"`
	Position *int    `json:"position"`
}

// Create registers a new question bank for the owner.
func (s *Service) Create(ctx context.Context, ownerID string, in BankInput) (bank.Bank, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return bank.Bank{}, svcerrors.InvalidInput("title is required")
	}
	if len(title) > 200 {
		return bank.Bank{}, svcerrors.InvalidInput("title exceeds 200 characters")
	}

	created, err := s.store.CreateBank(ctx, bank.Bank{
		OwnerID:     ownerID,
		Title:       title,
		Subject:     strings.TrimSpace(in.Subject),
		Description: strings.TrimSpace(in.Description),
	})
	if err != nil {
		return bank.Bank{}, err
	}
	s.log.WithFields(map[string]interface{}{"bank_id": created.ID, "owner_id": ownerID}).Info("bank created")
	return created, nil
}

// Get retrieves a bank the owner can see.
func (s *Service) Get(ctx context.Context, ownerID, bankID string) (bank.Bank, error) {
	return s.requireBank(ctx, ownerID, bankID)
}

// List returns the owner's banks, newest first.
func (s *Service) List(ctx context.Context, ownerID string) ([]bank.Bank, error) {
	return s.store.ListBanks(ctx, ownerID)
}

// Update applies changes to a bank the caller owns.
func (s *Service) Update(ctx context.Context, ownerID, bankID string, upd BankUpdate) (bank.Bank, error) {
	b, err := s.requireBank(ctx, ownerID, bankID)
	if err != nil {
		return bank.Bank{}, err
	}

	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if title == "" {
			return bank.Bank{}, svcerrors.InvalidInput("title cannot be empty")
		}
		if len(title) > 200 {
			return bank.Bank{}, svcerrors.InvalidInput("title exceeds 200 characters")
		}
		b.Title = title
	}
	if upd.Subject != nil {
		b.Subject = strings.TrimSpace(*upd.Subject)
	}
	if upd.Description != nil {
		b.Description = strings.TrimSpace(*upd.Description)
	}

	updated, err := s.store.UpdateBank(ctx, b)
	if errors.Is(err, storage.ErrNotFound) {
		return bank.Bank{}, svcerrors.NotFound("bank not found")
	}
	return updated, err
}

// Delete removes a bank and its questions.
func (s *Service) Delete(ctx context.Context, ownerID, bankID string) error {
	if _, err := s.requireBank(ctx, ownerID, bankID); err != nil {
		return err
	}
	if err := s.store.DeleteBank(ctx, bankID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("bank not found")
		}
		return err
	}
	s.log.WithFields(map[string]interface{}{"bank_id": bankID, "owner_id": ownerID}).Info("bank deleted")
	return nil
}

// AddQuestion appends a question to a bank the caller owns.
func (s *Service) AddQuestion(ctx context.Context, ownerID, bankID string, in QuestionInput) (bank.Question, error) {
	if _, err := s.requireBank(ctx, ownerID, bankID); err != nil {
		return bank.Question{}, err
	}

	prompt := strings.TrimSpace(in.Prompt)
	answer := strings.TrimSpace(in.Answer)
	if prompt == "" {
		return bank.Question{}, svcerrors.InvalidInput("prompt is required")
	}
	if answer == "" {
		return bank.Question{}, svcerrors.InvalidInput("answer is required")
	}
	if err := validateValue(in.Value, in.IsFinal); err != nil {
		return bank.Question{}, err
	}
	if in.Position < 0 {
		return bank.Question{}, svcerrors.InvalidInput("position cannot be negative")
	}

	created, err := s.store.CreateQuestion(ctx, bank.Question{
		BankID:   bankID,
		Category: strings.TrimSpace(in.Category),
		Value:    in.Value,
		Prompt:   prompt,
		Answer:   answer,
		IsFinal:  in.IsFinal,
		Position: in.Position,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return bank.Question{}, svcerrors.NotFound("bank not found")
	}
	return created, err
}

// GetQuestion retrieves one question of a bank the caller owns.
func (s *Service) GetQuestion(ctx context.Context, ownerID, bankID, questionID string) (bank.Question, error) {
	if _, err := s.requireBank(ctx, ownerID, bankID); err != nil {
		return bank.Question{}, err
	}
	q, err := s.store.GetQuestion(ctx, questionID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && q.BankID != bankID) {
		return bank.Question{}, svcerrors.NotFound("question not found")
	}
	return q, err
}

// ListQuestions returns a bank's questions in board order.
func (s *Service) ListQuestions(ctx context.Context, ownerID, bankID string) ([]bank.Question, error) {
	if _, err := s.requireBank(ctx, ownerID, bankID); err != nil {
		return nil, err
	}
	return s.store.ListQuestions(ctx, bankID)
}

// UpdateQuestion applies changes to a question of a bank the caller owns.
func (s *Service) UpdateQuestion(ctx context.Context, ownerID, bankID, questionID string, upd QuestionUpdate) (bank.Question, error) {
	q, err := s.GetQuestion(ctx, ownerID, bankID, questionID)
	if err != nil {
		return bank.Question{}, err
	}

	if upd.Category != nil {
		q.Category = strings.TrimSpace(*upd.Category)
	}
	if upd.Value != nil {
		q.Value = *upd.Value
	}
	if upd.Prompt != nil {
		prompt := strings.TrimSpace(*upd.Prompt)
		if prompt == "" {
			return bank.Question{}, svcerrors.InvalidInput("prompt cannot be empty")
		}
		q.Prompt = prompt
	}
	if upd.Answer != nil {
		answer := strings.TrimSpace(*upd.Answer)
		if answer == "" {
			return bank.Question{}, svcerrors.InvalidInput("answer cannot be empty")
		}
		q.Answer = answer
	}
	if upd.IsFinal != nil {
		q.IsFinal = *upd.IsFinal
	}
	if upd.Position != nil {
		if *upd.Position <= 0 {
			return bank.Question{}, svcerrors.InvalidInput("position must be positive")
		}
		q.Position = *upd.Position
	}
	if err := validateValue(q.Value, q.IsFinal); err != nil {
		return bank.Question{}, err
	}

	updated, err := s.store.UpdateQuestion(ctx, q)
	if errors.Is(err, storage.ErrNotFound) {
		return bank.Question{}, svcerrors.NotFound("question not found")
	}
	return updated, err
}

// DeleteQuestion removes a question from a bank the caller owns.
func (s *Service) DeleteQuestion(ctx context.Context, ownerID, bankID, questionID string) error {
	if _, err := s.GetQuestion(ctx, ownerID, bankID, questionID); err != nil {
		return err
	}
	if err := s.store.DeleteQuestion(ctx, questionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.NotFound("question not found")
		}
		return err
	}
	return nil
}

func (s *Service) requireBank(ctx context.Context, ownerID, bankID string) (bank.Bank, error) {
	b, err := s.store.GetBank(ctx, bankID)
	if errors.Is(err, storage.ErrNotFound) {
		return bank.Bank{}, svcerrors.NotFound("bank not found")
	}
	if err != nil {
		return bank.Bank{}, err
	}
	if b.OwnerID != ownerID {
		return bank.Bank{}, svcerrors.Forbidden("bank belongs to another user")
	}
	return b, nil
}

// validateValue enforces the board value rules. Final questions carry no
// board value; the wager sets the stakes.
func validateValue(value int, isFinal bool) error {
	if isFinal {
		if value != 0 {
			return svcerrors.InvalidInput("final questions carry no board value")
		}
		return nil
	}
	if value < minQuestionValue || value > maxQuestionValue || value%questionValueStep != 0 {
		return svcerrors.InvalidInput("value must be a multiple of 100 between 100 and 2000")
	}
	return nil
}
