package pg

import (
	"context"
	"database/sql"
	"errors"

	"ballotguard.org/internal/ids"
	"ballotguard.org/internal/mfa"
)

var (
	_ mfa.Store           = (*MFARecords)(nil)
	_ mfa.BackupCodeStore = (*BackupCodes)(nil)
)

// MFARecords persists TOTP secrets in mfa_records.
type MFARecords struct {
	db *sql.DB
}

func (s *MFARecords) Get(ctx context.Context, subject mfa.Subject) (mfa.Record, error) {
	var (
		rec     = mfa.Record{Subject: subject}
		pending sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select secret, pending_secret, enabled, updated_at
		from mfa_records
		where principal_kind = $1 and principal_id = $2
	`, string(subject.Kind), subject.ID).Scan(&rec.Secret, &pending, &rec.Enabled, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mfa.Record{}, mfa.ErrNotEnrolled
	}
	if err != nil {
		return mfa.Record{}, classify(err)
	}
	rec.PendingSecret = pending.String
	return rec, nil
}

func (s *MFARecords) Put(ctx context.Context, rec mfa.Record) error {
	_, err := s.db.ExecContext(ctx, `
		insert into mfa_records (principal_kind, principal_id, secret, pending_secret, enabled, updated_at)
		values ($1, $2, $3, $4, $5, $6)
		on conflict (principal_kind, principal_id) do update
		set secret = excluded.secret,
		    pending_secret = excluded.pending_secret,
		    enabled = excluded.enabled,
		    updated_at = excluded.updated_at
	`, string(rec.Subject.Kind), rec.Subject.ID, rec.Secret, nullIfEmpty(rec.PendingSecret), rec.Enabled, rec.UpdatedAt)
	return classify(err)
}

func (s *MFARecords) Clear(ctx context.Context, subject mfa.Subject) error {
	_, err := s.db.ExecContext(ctx, `delete from mfa_records where principal_kind = $1 and principal_id = $2`,
		string(subject.Kind), subject.ID)
	return classify(err)
}

// BackupCodes persists hashed backup codes in mfa_backup_codes. Consume relies
// on a conditional update so concurrent redemptions of one code cannot both
// match a row.
type BackupCodes struct {
	db *sql.DB
}

func (s *BackupCodes) Replace(ctx context.Context, subject mfa.Subject, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `delete from mfa_backup_codes where principal_kind = $1 and principal_id = $2`,
		string(subject.Kind), subject.ID); err != nil {
		return classify(err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			insert into mfa_backup_codes (id, principal_kind, principal_id, code_hash)
			values ($1, $2, $3, $4)
		`, ids.New(), string(subject.Kind), subject.ID, h); err != nil {
			return classify(err)
		}
	}
	return tx.Commit()
}

func (s *BackupCodes) Consume(ctx context.Context, subject mfa.Subject, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update mfa_backup_codes
		set consumed_at = now()
		where principal_kind = $1 and principal_id = $2 and code_hash = $3 and consumed_at is null
	`, string(subject.Kind), subject.ID, hash)
	if err != nil {
		return false, classify(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *BackupCodes) Remaining(ctx context.Context, subject mfa.Subject) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		select count(*) from mfa_backup_codes
		where principal_kind = $1 and principal_id = $2 and consumed_at is null
	`, string(subject.Kind), subject.ID).Scan(&n)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (s *BackupCodes) Clear(ctx context.Context, subject mfa.Subject) error {
	_, err := s.db.ExecContext(ctx, `delete from mfa_backup_codes where principal_kind = $1 and principal_id = $2`,
		string(subject.Kind), subject.ID)
	return classify(err)
}
