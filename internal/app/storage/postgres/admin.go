package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewgame/server/internal/app/domain/admin"
	"github.com/reviewgame/server/internal/app/storage"
)

type sessionRow struct {
	ID           string       `db:"id"`
	AdminID      string       `db:"admin_id"`
	TargetUserID string       `db:"target_user_id"`
	Reason       string       `db:"reason"`
	CreatedAt    time.Time    `db:"created_at"`
	ExpiresAt    time.Time    `db:"expires_at"`
	EndedAt      sql.NullTime `db:"ended_at"`
}

func (r sessionRow) toDomain() admin.ImpersonationSession {
	return admin.ImpersonationSession{
		ID:           r.ID,
		AdminID:      r.AdminID,
		TargetUserID: r.TargetUserID,
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt.UTC(),
		ExpiresAt:    r.ExpiresAt.UTC(),
		EndedAt:      fromNullTime(r.EndedAt),
	}
}

const sessionColumns = `id, admin_id, target_user_id, reason, created_at, expires_at, ended_at`

// CreateImpersonationSession relies on a partial unique index over open
// sessions per admin. Expired-but-unreaped sessions are closed first so
// they cannot block a new one.
func (s *Store) CreateImpersonationSession(ctx context.Context, sess admin.ImpersonationSession) (admin.ImpersonationSession, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return admin.ImpersonationSession{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE admin_impersonation_sessions SET ended_at = expires_at
		WHERE admin_id = $1 AND ended_at IS NULL AND expires_at <= now()`,
		sess.AdminID); err != nil {
		return admin.ImpersonationSession{}, mapError(err)
	}

	var row sessionRow
	err = tx.GetContext(ctx, &row, `
		INSERT INTO admin_impersonation_sessions (id, admin_id, target_user_id, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+sessionColumns,
		sess.ID, sess.AdminID, sess.TargetUserID, sess.Reason, sess.ExpiresAt.UTC())
	if err != nil {
		return admin.ImpersonationSession{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return admin.ImpersonationSession{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) GetImpersonationSession(ctx context.Context, id string) (admin.ImpersonationSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+sessionColumns+` FROM admin_impersonation_sessions WHERE id = $1`, id)
	if err != nil {
		return admin.ImpersonationSession{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ActiveImpersonationSession(ctx context.Context, adminID string, at time.Time) (admin.ImpersonationSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT `+sessionColumns+` FROM admin_impersonation_sessions
		WHERE admin_id = $1 AND ended_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC
		LIMIT 1`, adminID, at.UTC())
	if err != nil {
		return admin.ImpersonationSession{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) EndImpersonationSession(ctx context.Context, id string, at time.Time) (admin.ImpersonationSession, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE admin_impersonation_sessions SET ended_at = $2
		WHERE id = $1 AND ended_at IS NULL
		RETURNING `+sessionColumns, id, at.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetImpersonationSession(ctx, id); getErr != nil {
			return admin.ImpersonationSession{}, getErr
		}
		return admin.ImpersonationSession{}, storage.ErrConflict
	}
	if err != nil {
		return admin.ImpersonationSession{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ExpireImpersonationSessions(ctx context.Context, at time.Time) (int, error) {
	res, err := s.callProc(ctx, "expire_impersonation_sessions", at.UTC())
	if err != nil {
		return 0, err
	}
	return int(res.Get("expired").Int()), nil
}

type auditRow struct {
	ID         string         `db:"id"`
	AdminID    string         `db:"admin_id"`
	Action     string         `db:"action"`
	TargetType sql.NullString `db:"target_type"`
	TargetID   sql.NullString `db:"target_id"`
	Detail     []byte         `db:"detail"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (r auditRow) toDomain() (admin.AuditEntry, error) {
	e := admin.AuditEntry{
		ID:         r.ID,
		AdminID:    r.AdminID,
		Action:     r.Action,
		TargetType: fromNullString(r.TargetType),
		TargetID:   fromNullString(r.TargetID),
		CreatedAt:  r.CreatedAt.UTC(),
	}
	if len(r.Detail) > 0 {
		if err := json.Unmarshal(r.Detail, &e.Detail); err != nil {
			return admin.AuditEntry{}, fmt.Errorf("decode audit detail: %w", err)
		}
	}
	return e, nil
}

const auditColumns = `id, admin_id, action, target_type, target_id, detail, created_at`

func (s *Store) AppendAuditEntry(ctx context.Context, e admin.AuditEntry) (admin.AuditEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var detail []byte
	if e.Detail != nil {
		var err error
		detail, err = json.Marshal(e.Detail)
		if err != nil {
			return admin.AuditEntry{}, fmt.Errorf("encode audit detail: %w", err)
		}
	}

	var row auditRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO admin_audit_log (id, admin_id, action, target_type, target_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+auditColumns,
		e.ID, e.AdminID, e.Action, toNullString(e.TargetType), toNullString(e.TargetID), detail)
	if err != nil {
		return admin.AuditEntry{}, mapError(err)
	}
	return row.toDomain()
}

func (s *Store) ListAuditEntries(ctx context.Context, f storage.AuditFilter) ([]admin.AuditEntry, int, error) {
	var conds []string
	var args []interface{}
	if f.AdminID != "" {
		args = append(args, f.AdminID)
		conds = append(conds, fmt.Sprintf("admin_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM admin_audit_log`+where, args...); err != nil {
		return nil, 0, mapError(err)
	}

	perPage := f.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	limitPos := len(args) + 1
	args = append(args, perPage, (page-1)*perPage)

	var rows []auditRow
	query := fmt.Sprintf(`SELECT %s FROM admin_audit_log%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		auditColumns, where, limitPos, limitPos+1)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}

	out := make([]admin.AuditEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.toDomain()
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, nil
}
