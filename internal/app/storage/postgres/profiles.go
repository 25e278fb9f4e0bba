package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reviewgame/server/internal/app/domain/profile"
	"github.com/reviewgame/server/internal/app/storage"
)

type profileRow struct {
	ID                 string         `db:"id"`
	Email              string         `db:"email"`
	DisplayName        string         `db:"display_name"`
	School             sql.NullString `db:"school"`
	Role               string         `db:"role"`
	Tier               string         `db:"tier"`
	SubscriptionStatus string         `db:"subscription_status"`
	StripeCustomerID   sql.NullString `db:"stripe_customer_id"`
	GamesCreated       int            `db:"games_created"`
	GameLimit          int            `db:"game_limit"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
}

func (r profileRow) toDomain() profile.Profile {
	return profile.Profile{
		ID:                 r.ID,
		Email:              r.Email,
		DisplayName:        r.DisplayName,
		School:             fromNullString(r.School),
		Role:               r.Role,
		Tier:               profile.Tier(r.Tier),
		SubscriptionStatus: profile.SubscriptionStatus(r.SubscriptionStatus),
		StripeCustomerID:   fromNullString(r.StripeCustomerID),
		GamesCreated:       r.GamesCreated,
		GameLimit:          r.GameLimit,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

const profileColumns = `id, email, display_name, school, role, tier, subscription_status, stripe_customer_id, games_created, game_limit, created_at, updated_at`

func (s *Store) CreateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO profiles (id, email, display_name, school, role, tier, subscription_status, stripe_customer_id, games_created, game_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+profileColumns,
		p.ID, p.Email, p.DisplayName, toNullString(p.School), p.Role,
		string(p.Tier), string(p.SubscriptionStatus), toNullString(p.StripeCustomerID),
		p.GamesCreated, p.GameLimit)
	if err != nil {
		return profile.Profile{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) UpdateProfile(ctx context.Context, p profile.Profile) (profile.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE profiles
		SET email = $2, display_name = $3, school = $4, role = $5, tier = $6,
		    subscription_status = $7, stripe_customer_id = $8, games_created = $9,
		    game_limit = $10, updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns,
		p.ID, p.Email, p.DisplayName, toNullString(p.School), p.Role,
		string(p.Tier), string(p.SubscriptionStatus), toNullString(p.StripeCustomerID),
		p.GamesCreated, p.GameLimit)
	if err != nil {
		return profile.Profile{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetProfile(ctx context.Context, id string) (profile.Profile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id)
	if err != nil {
		return profile.Profile{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) GetProfileByCustomer(ctx context.Context, stripeCustomerID string) (profile.Profile, error) {
	if stripeCustomerID == "" {
		return profile.Profile{}, storage.ErrNotFound
	}
	var row profileRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+profileColumns+` FROM profiles WHERE stripe_customer_id = $1`, stripeCustomerID)
	if err != nil {
		return profile.Profile{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListProfiles(ctx context.Context, f storage.ProfileFilter) ([]profile.Profile, int, error) {
	where := ""
	args := []interface{}{}
	if q := strings.TrimSpace(f.Query); q != "" {
		where = ` WHERE email ILIKE $1 OR display_name ILIKE $1`
		args = append(args, "%"+q+"%")
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM profiles`+where, args...); err != nil {
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

	var rows []profileRow
	query := fmt.Sprintf(`SELECT %s FROM profiles%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		profileColumns, where, limitPos, limitPos+1)
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, mapError(err)
	}

	out := make([]profile.Profile, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, total, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = $1`, id)
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

func (s *Store) ClaimGameSlot(ctx context.Context, profileID string) (profile.QuotaResult, error) {
	res, err := s.callProc(ctx, "claim_game_slot", profileID)
	if err != nil {
		return profile.QuotaResult{}, err
	}
	return profile.QuotaResult{
		Allowed:      res.Get("allowed").Bool(),
		GamesCreated: int(res.Get("games_created").Int()),
		GameLimit:    int(res.Get("game_limit").Int()),
	}, nil
}

func (s *Store) ReleaseGameSlot(ctx context.Context, profileID string) error {
	_, err := s.callProc(ctx, "release_game_slot", profileID)
	return err
}

type loginRow struct {
	ID        string         `db:"id"`
	ProfileID string         `db:"profile_id"`
	IP        sql.NullString `db:"ip"`
	UserAgent sql.NullString `db:"user_agent"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r loginRow) toDomain() profile.LoginRecord {
	return profile.LoginRecord{
		ID:        r.ID,
		ProfileID: r.ProfileID,
		IP:        fromNullString(r.IP),
		UserAgent: fromNullString(r.UserAgent),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *Store) RecordLogin(ctx context.Context, rec profile.LoginRecord) (profile.LoginRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	var row loginRow
	err := s.db.GetContext(ctx, &row, `
		INSERT INTO login_history (id, profile_id, ip, user_agent)
		VALUES ($1, $2, $3, $4)
		RETURNING id, profile_id, ip, user_agent, created_at`,
		rec.ID, rec.ProfileID, toNullString(rec.IP), toNullString(rec.UserAgent))
	if err != nil {
		return profile.LoginRecord{}, mapError(err)
	}
	return row.toDomain(), nil
}

func (s *Store) ListLoginHistory(ctx context.Context, profileID string, limit int) ([]profile.LoginRecord, error) {
	var exists bool
	if err := s.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM profiles WHERE id = $1)`, profileID); err != nil {
		return nil, mapError(err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}

	query := `SELECT id, profile_id, ip, user_agent, created_at FROM login_history WHERE profile_id = $1 ORDER BY created_at DESC`
	args := []interface{}{profileID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	var rows []loginRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	out := make([]profile.LoginRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) PurgeLoginHistory(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM login_history WHERE created_at < $1`, before.UTC())
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
