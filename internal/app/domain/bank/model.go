// Package bank defines question bank content models.
package bank

import "time"

// Bank is a collection of questions owned by one teacher.
type Bank struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"owner_id"`
	Title         string    `json:"title"`
	Subject       string    `json:"subject,omitempty"`
	Description   string    `json:"description,omitempty"`
	QuestionCount int       `json:"question_count"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Question is a single prompt/answer pair on a board. Final questions are
// reserved for the Final Jeopardy round and carry no board value.
type Question struct {
	ID        string    `json:"id"`
	BankID    string    `json:"bank_id"`
	Category  string    `json:"category"`
	Value     int       `json:"value"`
	Prompt    string    `json:"prompt"`
	Answer    string    `json:"answer"`
	IsFinal   bool      `json:"is_final"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
