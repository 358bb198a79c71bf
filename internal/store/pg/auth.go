package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
)

const accountColumns = `id, coalesce(company_id, ''), email, password_hash, first_name, last_name,
	birth_date, job_title, role, total_time_off, taken_time_off, created_at, updated_at`

const inviteColumns = `id, email, company_id, role, invited_by, expires_at, consumed_at,
	coalesce(account_id, ''), created_at`

const tokenColumns = `id, account_id, lineage_id, token_hash, issued_at, expires_at, superseded_at, revoked_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// RegisterOwner inserts the company and its owner in one transaction.
func (s *Store) RegisterOwner(ctx context.Context, company *auth.Company, owner *auth.Account) error {
	if company == nil || owner == nil {
		return auth.ErrInvalidInput
	}
	if owner.Role == auth.RoleOwner {
		return fmt.Errorf("%w: owner is a derived role", auth.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		insert into companies (id, name, owner_id, created_at)
		values ($1, $2, $3, $4)
	`, company.ID, company.Name, company.OwnerID, company.CreatedAt); err != nil {
		return err
	}
	if err := insertAccount(ctx, tx, owner); err != nil {
		return err
	}
	return tx.Commit()
}

// AcceptInvite claims the invite row, then creates the account and consumes
// the invite in the same transaction. The row lock makes a concurrent accept
// wait and then observe the consumed invite instead of the duplicate email.
func (s *Store) AcceptInvite(ctx context.Context, inviteID string, acc *auth.Account, at time.Time) error {
	if acc == nil {
		return auth.ErrInvalidInput
	}
	if acc.Role == auth.RoleOwner {
		return fmt.Errorf("%w: owner is a derived role", auth.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var consumed sql.NullTime
	err = tx.QueryRowContext(ctx, `
		select consumed_at from invites where id = $1 for update
	`, inviteID).Scan(&consumed)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrInviteNotFound
	}
	if err != nil {
		return err
	}
	if consumed.Valid {
		return auth.ErrInviteAlreadyUsed
	}

	if err := insertAccount(ctx, tx, acc); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		update invites set consumed_at = $2, account_id = $3
		where id = $1 and consumed_at is null
	`, inviteID, at, acc.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrInviteAlreadyUsed
	}
	return tx.Commit()
}

func insertAccount(ctx context.Context, tx *sql.Tx, acc *auth.Account) error {
	_, err := tx.ExecContext(ctx, `
		insert into accounts (id, company_id, email, password_hash, first_name, last_name,
			birth_date, job_title, role, total_time_off, taken_time_off, created_at, updated_at)
		values ($1, nullif($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, acc.ID, acc.CompanyID, strings.ToLower(strings.TrimSpace(acc.Email)), acc.PasswordHash,
		acc.FirstName, acc.LastName, nullTime(acc.BirthDate), acc.JobTitle, string(acc.Role),
		acc.TotalTimeOff, acc.TakenTimeOff, acc.CreatedAt, acc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return auth.ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// Account store ---------------------------------------------------------------
type accountStore struct{ db *sql.DB }

func (s accountStore) Find(ctx context.Context, id string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where id = $1`, id)
	return scanAccount(row)
}

func (s accountStore) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := s.db.QueryRowContext(ctx, `select `+accountColumns+` from accounts where email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	return scanAccount(row)
}

func (s accountStore) UpdateProfile(ctx context.Context, acc *auth.Account) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set first_name = $2, last_name = $3, birth_date = $4, job_title = $5, updated_at = $6
		where id = $1
	`, acc.ID, acc.FirstName, acc.LastName, nullTime(acc.BirthDate), acc.JobTitle, acc.UpdatedAt)
	return expectOne(res, err, auth.ErrNotFound)
}

func (s accountStore) UpdateAllowance(ctx context.Context, id string, total, taken int, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update accounts set total_time_off = $2, taken_time_off = $3, updated_at = $4
		where id = $1
	`, id, total, taken, at)
	return expectOne(res, err, auth.ErrNotFound)
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var (
		acc   auth.Account
		birth sql.NullTime
		role  string
	)
	err := row.Scan(&acc.ID, &acc.CompanyID, &acc.Email, &acc.PasswordHash, &acc.FirstName, &acc.LastName,
		&birth, &acc.JobTitle, &role, &acc.TotalTimeOff, &acc.TakenTimeOff, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	if birth.Valid {
		acc.BirthDate = birth.Time
	}
	parsed, ok := auth.ParseStoredRole(role)
	if !ok {
		return nil, fmt.Errorf("account %s has unknown role %q", acc.ID, role)
	}
	acc.Role = parsed
	return &acc, nil
}

// Company store ---------------------------------------------------------------
type companyStore struct{ db *sql.DB }

func (s companyStore) Find(ctx context.Context, id string) (*auth.Company, error) {
	var c auth.Company
	err := s.db.QueryRowContext(ctx, `select id, name, owner_id, created_at from companies where id = $1`, id).
		Scan(&c.ID, &c.Name, &c.OwnerID, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Invite store ----------------------------------------------------------------
type inviteStore struct{ db *sql.DB }

func (s inviteStore) Create(ctx context.Context, inv *auth.Invite) error {
	_, err := s.db.ExecContext(ctx, `
		insert into invites (id, email, company_id, role, invited_by, expires_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, inv.ID, strings.ToLower(strings.TrimSpace(inv.Email)), inv.CompanyID, string(inv.Role),
		inv.InvitedBy, inv.ExpiresAt, inv.CreatedAt)
	return err
}

func (s inviteStore) Find(ctx context.Context, id string) (*auth.Invite, error) {
	row := s.db.QueryRowContext(ctx, `select `+inviteColumns+` from invites where id = $1`, id)
	return scanInvite(row)
}

func (s inviteStore) LatestByEmail(ctx context.Context, email string) (*auth.Invite, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+inviteColumns+` from invites
		where email = $1
		order by created_at desc, id desc
		limit 1
	`, strings.ToLower(strings.TrimSpace(email)))
	return scanInvite(row)
}

func scanInvite(row rowScanner) (*auth.Invite, error) {
	var (
		inv      auth.Invite
		role     string
		consumed sql.NullTime
	)
	err := row.Scan(&inv.ID, &inv.Email, &inv.CompanyID, &role, &inv.InvitedBy, &inv.ExpiresAt,
		&consumed, &inv.AccountID, &inv.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrInviteNotFound
		}
		return nil, err
	}
	inv.Role = auth.Role(role)
	inv.ConsumedAt = timePtr(consumed)
	return &inv, nil
}

// Refresh token store ---------------------------------------------------------
type tokenStore struct{ db *sql.DB }

func (s tokenStore) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := s.db.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, lineage_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, tok.ID, tok.AccountID, tok.LineageID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt)
	return err
}

func (s tokenStore) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var (
		tok        auth.RefreshToken
		superseded sql.NullTime
		revoked    sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `select `+tokenColumns+` from refresh_tokens where id = $1`, id).
		Scan(&tok.ID, &tok.AccountID, &tok.LineageID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &superseded, &revoked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrRefreshNotFound
		}
		return nil, err
	}
	tok.SupersededAt = timePtr(superseded)
	tok.RevokedAt = timePtr(revoked)
	return &tok, nil
}

// Rotate is a compare-and-swap: the update only matches a token that is still
// current, so of two concurrent rotations exactly one sees a row affected.
func (s tokenStore) Rotate(ctx context.Context, oldID string, next *auth.RefreshToken, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update refresh_tokens set superseded_at = $2
		where id = $1 and superseded_at is null and revoked_at is null
	`, oldID, at)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var superseded, revoked sql.NullTime
		err := tx.QueryRowContext(ctx, `select superseded_at, revoked_at from refresh_tokens where id = $1`, oldID).
			Scan(&superseded, &revoked)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return auth.ErrRefreshNotFound
		case err != nil:
			return err
		case !superseded.Valid && revoked.Valid:
			return auth.ErrRefreshRevoked
		default:
			return auth.ErrRefreshReused
		}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into refresh_tokens (id, account_id, lineage_id, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5, $6)
	`, next.ID, next.AccountID, next.LineageID, next.TokenHash, next.IssuedAt, next.ExpiresAt); err != nil {
		return err
	}
	return tx.Commit()
}

func (s tokenStore) RevokeLineage(ctx context.Context, lineageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where lineage_id = $1 and revoked_at is null
	`, lineageID, at)
	return err
}

func (s tokenStore) RevokeByAccount(ctx context.Context, accountID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		update refresh_tokens set revoked_at = $2
		where account_id = $1 and revoked_at is null
	`, accountID, at)
	return err
}

func expectOne(res sql.Result, err error, notFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
