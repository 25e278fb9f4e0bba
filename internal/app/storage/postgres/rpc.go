package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/reviewgame/server/internal/app/storage"
)

// callProc invokes a database procedure by name and returns its jsonb
// result. Invariant-preserving mutations (quota counters, buzzing, the
// Final Jeopardy phases) live in these procedures; the store only marshals
// parameters and interprets the returned JSON.
func (s *Store) callProc(ctx context.Context, fn string, args ...interface{}) (gjson.Result, error) {
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("SELECT %s(%s)", fn, strings.Join(placeholders, ", "))

	var raw []byte
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&raw); err != nil {
		return gjson.Result{}, fmt.Errorf("call %s: %w", fn, err)
	}

	res := gjson.ParseBytes(raw)
	if err := procError(res); err != nil {
		return gjson.Result{}, err
	}
	return res, nil
}

// procError maps the error field of a procedure result onto the storage
// sentinels.
func procError(res gjson.Result) error {
	code := res.Get("error").String()
	switch code {
	case "":
		return nil
	case "not_found":
		return storage.ErrNotFound
	case "conflict":
		return storage.ErrConflict
	case "no_final_question":
		return storage.ErrNoFinalQuestion
	default:
		return fmt.Errorf("procedure error: %s", code)
	}
}
