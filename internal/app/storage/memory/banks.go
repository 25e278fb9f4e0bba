package memory

import (
	"context"
	"sort"

	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/storage"
)

// --- BankStore ---

func (s *Store) CreateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b.ID = newID(b.ID)
	if _, exists := s.banks[b.ID]; exists {
		return bank.Bank{}, storage.ErrConflict
	}
	if _, ok := s.profiles[b.OwnerID]; !ok {
		return bank.Bank{}, storage.ErrNotFound
	}
	ts := now()
	b.CreatedAt = ts
	b.UpdatedAt = ts
	b.QuestionCount = 0
	s.banks[b.ID] = b
	return b, nil
}

func (s *Store) UpdateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.banks[b.ID]
	if !ok {
		return bank.Bank{}, storage.ErrNotFound
	}
	b.OwnerID = existing.OwnerID
	b.QuestionCount = existing.QuestionCount
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = now()
	s.banks[b.ID] = b
	return b, nil
}

func (s *Store) GetBank(ctx context.Context, id string) (bank.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.banks[id]
	if !ok {
		return bank.Bank{}, storage.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBanks(ctx context.Context, ownerID string) ([]bank.Bank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	banks := make([]bank.Bank, 0)
	for _, b := range s.banks {
		if b.OwnerID == ownerID {
			banks = append(banks, b)
		}
	}
	sort.Slice(banks, func(i, j int) bool {
		if banks[i].CreatedAt.Equal(banks[j].CreatedAt) {
			return banks[i].ID < banks[j].ID
		}
		return banks[i].CreatedAt.After(banks[j].CreatedAt)
	})
	return banks, nil
}

func (s *Store) DeleteBank(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.banks[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.banks, id)
	for qID, q := range s.questions {
		if q.BankID == id {
			delete(s.questions, qID)
		}
	}
	return nil
}

// --- questions ---

func (s *Store) CreateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.banks[q.BankID]
	if !ok {
		return bank.Question{}, storage.ErrNotFound
	}

	q.ID = newID(q.ID)
	ts := now()
	q.CreatedAt = ts
	q.UpdatedAt = ts
	if q.Position == 0 {
		q.Position = b.QuestionCount + 1
	}
	s.questions[q.ID] = q

	b.QuestionCount++
	b.UpdatedAt = ts
	s.banks[b.ID] = b
	return q, nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.questions[q.ID]
	if !ok {
		return bank.Question{}, storage.ErrNotFound
	}
	q.BankID = existing.BankID
	q.CreatedAt = existing.CreatedAt
	q.UpdatedAt = now()
	if q.Position == 0 {
		q.Position = existing.Position
	}
	s.questions[q.ID] = q
	return q, nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (bank.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q, ok := s.questions[id]
	if !ok {
		return bank.Question{}, storage.ErrNotFound
	}
	return q, nil
}

func (s *Store) ListQuestions(ctx context.Context, bankID string) ([]bank.Question, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.banks[bankID]; !ok {
		return nil, storage.ErrNotFound
	}
	questions := make([]bank.Question, 0)
	for _, q := range s.questions {
		if q.BankID == bankID {
			questions = append(questions, q)
		}
	}
	sort.Slice(questions, func(i, j int) bool {
		if questions[i].Position == questions[j].Position {
			return questions[i].CreatedAt.Before(questions[j].CreatedAt)
		}
		return questions[i].Position < questions[j].Position
	})
	return questions, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.questions[id]
	if !ok {
		return storage.ErrNotFound
	}
	delete(s.questions, id)

	if b, ok := s.banks[q.BankID]; ok && b.QuestionCount > 0 {
		b.QuestionCount--
		b.UpdatedAt = now()
		s.banks[b.ID] = b
	}
	return nil
}
