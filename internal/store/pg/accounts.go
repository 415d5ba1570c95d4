package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ballotguard.org/internal/auth"
)

var (
	_ auth.AdminStore = (*Admins)(nil)
	_ auth.VoterStore = (*Voters)(nil)
)

// Admins reads electoral staff accounts from the admins table.
type Admins struct {
	db *sql.DB
}

const adminColumns = `id, email, full_name, admin_type, permissions, regions, is_active, mfa_enabled, coalesce(password_hash, ''), created_at, updated_at`

func (s *Admins) FindByID(ctx context.Context, id string) (auth.AdminRecord, error) {
	return s.findOne(ctx, `select `+adminColumns+` from admins where id = $1`, id)
}

func (s *Admins) FindByEmail(ctx context.Context, email string) (auth.AdminRecord, error) {
	return s.findOne(ctx, `select `+adminColumns+` from admins where lower(email) = lower($1)`, email)
}

func (s *Admins) findOne(ctx context.Context, query string, arg string) (auth.AdminRecord, error) {
	var (
		rec        auth.AdminRecord
		role       string
		rawPerms   []byte
		rawRegions []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.Email, &rec.FullName, &role, &rawPerms, &rawRegions,
		&rec.Active, &rec.MFAEnabled, &rec.PasswordHash, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.AdminRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.AdminRecord{}, classify(err)
	}
	rec.AdminType = auth.Role(role)
	if rec.Permissions, err = decodeList[auth.Permission](rawPerms); err != nil {
		return auth.AdminRecord{}, fmt.Errorf("decode admin permissions: %w", err)
	}
	if rec.Regions, err = decodeList[string](rawRegions); err != nil {
		return auth.AdminRecord{}, fmt.Errorf("decode admin regions: %w", err)
	}
	return rec, nil
}

func (s *Admins) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	return setFlag(ctx, s.db, `update admins set mfa_enabled = $2, updated_at = now() where id = $1`, id, enabled)
}

// Create inserts an admin account. Used by seeding and tests.
func (s *Admins) Create(ctx context.Context, rec auth.AdminRecord) error {
	perms, err := encodeList(rec.Permissions)
	if err != nil {
		return err
	}
	regions, err := encodeList(rec.Regions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into admins (id, email, full_name, admin_type, permissions, regions, is_active, mfa_enabled, password_hash)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, rec.Email, rec.FullName, string(rec.AdminType), perms, regions, rec.Active, rec.MFAEnabled, nullIfEmpty(rec.PasswordHash))
	return classify(err)
}

// Voters reads registered voters from the voters table.
type Voters struct {
	db *sql.DB
}

const voterColumns = `id, vin, full_name, coalesce(role, ''), permissions, coalesce(region_id, ''), is_active, mfa_enabled, coalesce(password_hash, ''), created_at, updated_at`

func (s *Voters) FindByID(ctx context.Context, id string) (auth.VoterRecord, error) {
	return s.findOne(ctx, `select `+voterColumns+` from voters where id = $1`, id)
}

func (s *Voters) FindByVIN(ctx context.Context, vin string) (auth.VoterRecord, error) {
	return s.findOne(ctx, `select `+voterColumns+` from voters where upper(vin) = upper($1)`, vin)
}

func (s *Voters) findOne(ctx context.Context, query string, arg string) (auth.VoterRecord, error) {
	var (
		rec      auth.VoterRecord
		role     string
		rawPerms []byte
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&rec.ID, &rec.VIN, &rec.FullName, &role, &rawPerms, &rec.RegionID,
		&rec.Active, &rec.MFAEnabled, &rec.PasswordHash, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.VoterRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.VoterRecord{}, classify(err)
	}
	rec.Role = auth.Role(role)
	if rec.Permissions, err = decodeList[auth.Permission](rawPerms); err != nil {
		return auth.VoterRecord{}, fmt.Errorf("decode voter permissions: %w", err)
	}
	return rec, nil
}

func (s *Voters) SetMFAEnabled(ctx context.Context, id string, enabled bool) error {
	return setFlag(ctx, s.db, `update voters set mfa_enabled = $2, updated_at = now() where id = $1`, id, enabled)
}

func setFlag(ctx context.Context, db *sql.DB, query, id string, enabled bool) error {
	res, err := db.ExecContext(ctx, query, id, enabled)
	if err != nil {
		return classify(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
