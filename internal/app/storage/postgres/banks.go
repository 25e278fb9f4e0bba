package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/reviewgame/server/internal/app/domain/bank"
	"github.com/reviewgame/server/internal/app/storage"
)

type bankRow struct {
	ID            string         `db:"id"`
	OwnerID       string         `db:"owner_id"`
	Title         string         `db:"title"`
	Subject       sql.NullString `db:"subject"`
	Description   sql.NullString `db:"description"`
	QuestionCount int            `db:"question_count"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r bankRow) toDomain() bank.Bank {
	return bank.Bank{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Title:         r.Title,
		Subject:       fromNullString(r.Subject),
		Description:   fromNullString(r.Description),
		QuestionCount: r.QuestionCount,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

// question_count is derived from live question rows rather than stored.
const bankColumns = `b.id, b.owner_id, b.title, b.subject, b.description,
	(SELECT count(*) FROM questions q WHERE q.bank_id = b.id) AS question_count,
	b.created_at, b.updated_at`

func (s *Store) CreateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO question_banks (id, owner_id, title, subject, description)
		VALUES ($1, $2, $3, $4, $5)`,
		b.ID, b.OwnerID, b.Title, toNullString(b.Subject), toNullString(b.Description))
	if err != nil {
		return bank.Bank{}, mapError(err)
	}
	return s.GetBank(ctx, b.ID)
}

func (s *Store) UpdateBank(ctx context.Context, b bank.Bank) (bank.Bank, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE question_banks
		SET title = $2, subject = $3, description = $4, updated_at = now()
		WHERE id = $1`,
		b.ID, b.Title, toNullString(b.Subject), toNullString(b.Description))
	if err != nil {
		return bank.Bank{}, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return bank.Bank{}, err
	}
	if n == 0 {
		return bank.Bank{}, storage.ErrNotFound
	}
	return s.GetBank(ctx, b.ID)
}

func (s *Store) GetBank(ctx context.Context, id string) (bank.Bank, error) {
	var row bankRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+bankColumns+` FROM question_banks b WHERE b.id = $1`, id)
	if err != nil {
		return bank.Bank{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListBanks(ctx context.Context, ownerID string) ([]bank.Bank, error) {
	var rows []bankRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+bankColumns+` FROM question_banks b WHERE b.owner_id = $1 ORDER BY b.created_at DESC, b.id`, ownerID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]bank.Bank, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteBank(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM question_banks WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type questionRow struct {
	ID        string    `db:"id"`
	BankID    string    `db:"bank_id"`
	Category  string    `db:"category"`
	Value     int       `db:"value"`
	Prompt    string    `db:"prompt"`
	Answer    string    `db:"answer"`
	IsFinal   bool      `db:"is_final"`
	Position  int       `db:"position"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r questionRow) toDomain() bank.Question {
	return bank.Question{
		ID:        r.ID,
		BankID:    r.BankID,
		Category:  r.Category,
		Value:     r.Value,
		Prompt:    r.Prompt,
		Answer:    r.Answer,
		IsFinal:   r.IsFinal,
		Position:  r.Position,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

const questionColumns = `id, bank_id, category, value, prompt, answer, is_final, position, created_at, updated_at`

func (s *Store) CreateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return bank.Question{}, err
	}
	defer tx.Rollback()

	var row questionRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO questions (id, bank_id, category, value, prompt, answer, is_final, position)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			CASE WHEN $8 > 0 THEN $8 ELSE (SELECT count(*) + 1 FROM questions WHERE bank_id = $2) END)
		RETURNING `+questionColumns,
		q.ID, q.BankID, q.Category, q.Value, q.Prompt, q.Answer, q.IsFinal, q.Position)
	if err != nil {
		return bank.Question{}, mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE question_banks SET updated_at = now() WHERE id = $1`, q.BankID); err != nil {
		return bank.Question{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return bank.Question{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateQuestion(ctx context.Context, q bank.Question) (bank.Question, error) {
	var row questionRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE questions
		SET category = $2, value = $3, prompt = $4, answer = $5, is_final = $6,
		    position = CASE WHEN $7 > 0 THEN $7 ELSE position END,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+questionColumns,
		q.ID, q.Category, q.Value, q.Prompt, q.Answer, q.IsFinal, q.Position)
	if err != nil {
		return bank.Question{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetQuestion(ctx context.Context, id string) (bank.Question, error) {
	var row questionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+questionColumns+` FROM questions WHERE id = $1`, id)
	if err != nil {
		return bank.Question{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListQuestions(ctx context.Context, bankID string) ([]bank.Question, error) {
	var rows []questionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+questionColumns+` FROM questions WHERE bank_id = $1 ORDER BY position, created_at`, bankID)
	if err != nil {
		return nil, mapError(err)
	}
	out := make([]bank.Question, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) DeleteQuestion(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var bankID string
	if err := tx.GetContext(ctx, &bankID, `DELETE FROM questions WHERE id = $1 RETURNING bank_id`, id); err != nil {
		return mapError(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE question_banks SET updated_at = now() WHERE id = $1`, bankID); err != nil {
		return mapError(err)
	}
	return tx.Commit()
}
