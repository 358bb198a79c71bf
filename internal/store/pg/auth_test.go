package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
)

var at = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func checkExpectations(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func nextToken() *auth.RefreshToken {
	return &auth.RefreshToken{
		ID:        "tok-2",
		AccountID: "acc-1",
		LineageID: "lin-1",
		TokenHash: "hash",
		IssuedAt:  at,
		ExpiresAt: at.Add(time.Hour),
	}
}

func TestRotateSupersedesAndInserts(t *testing.T) {
	store, mock := newMockStore(t)
	next := nextToken()

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set superseded_at").
		WithArgs("tok-1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(next.ID, next.AccountID, next.LineageID, next.TokenHash, next.IssuedAt, next.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.RefreshTokens(context.Background()).Rotate(context.Background(), "tok-1", next, at); err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	checkExpectations(t, mock)
}

func TestRotateLosingRaceIsReuse(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set superseded_at").
		WithArgs("tok-1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select superseded_at, revoked_at from refresh_tokens").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"superseded_at", "revoked_at"}).AddRow(at, nil))
	mock.ExpectRollback()

	err := store.RefreshTokens(context.Background()).Rotate(context.Background(), "tok-1", nextToken(), at)
	if !errors.Is(err, auth.ErrRefreshReused) {
		t.Fatalf("expected ErrRefreshReused, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRotateRevokedToken(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("update refresh_tokens set superseded_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select superseded_at, revoked_at from refresh_tokens").
		WillReturnRows(sqlmock.NewRows([]string{"superseded_at", "revoked_at"}).AddRow(nil, at))
	mock.ExpectRollback()

	err := store.RefreshTokens(context.Background()).Rotate(context.Background(), "tok-1", nextToken(), at)
	if !errors.Is(err, auth.ErrRefreshRevoked) {
		t.Fatalf("expected ErrRefreshRevoked, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestFindRefreshTokenNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from refresh_tokens where id").WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := store.RefreshTokens(context.Background()).Find(context.Background(), "nope")
	if !errors.Is(err, auth.ErrRefreshNotFound) {
		t.Fatalf("expected ErrRefreshNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRevokeLineage(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update refresh_tokens set revoked_at").
		WithArgs("lin-1", at).
		WillReturnResult(sqlmock.NewResult(0, 3))

	if err := store.RefreshTokens(context.Background()).RevokeLineage(context.Background(), "lin-1", at); err != nil {
		t.Fatalf("RevokeLineage: %v", err)
	}
	checkExpectations(t, mock)
}

func ownerFixture() (*auth.Company, *auth.Account) {
	company := &auth.Company{ID: "co-1", Name: "Co", OwnerID: "acc-1", CreatedAt: at}
	owner := &auth.Account{
		ID:           "acc-1",
		CompanyID:    "co-1",
		Email:        "Owner@Co.com",
		PasswordHash: "hash",
		FirstName:    "Olga",
		LastName:     "Owner",
		Role:         auth.RoleManager,
		CreatedAt:    at,
		UpdatedAt:    at,
	}
	return company, owner
}

func TestRegisterOwnerCommits(t *testing.T) {
	store, mock := newMockStore(t)
	company, owner := ownerFixture()

	mock.ExpectBegin()
	mock.ExpectExec("insert into companies").
		WithArgs("co-1", "Co", "acc-1", at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into accounts").
		WithArgs("acc-1", "co-1", "owner@co.com", "hash", "Olga", "Owner", nil, "", "Manager", 0, 0, at, at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	if err := store.RegisterOwner(context.Background(), company, owner); err != nil {
		t.Fatalf("RegisterOwner: %v", err)
	}
	checkExpectations(t, mock)
}

func TestRegisterOwnerDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)
	company, owner := ownerFixture()

	mock.ExpectBegin()
	mock.ExpectExec("insert into companies").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("insert into accounts").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectRollback()

	err := store.RegisterOwner(context.Background(), company, owner)
	if !errors.Is(err, auth.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestRegisterOwnerRejectsStoredOwnerRole(t *testing.T) {
	store, mock := newMockStore(t)
	company, owner := ownerFixture()
	owner.Role = auth.RoleOwner

	if err := store.RegisterOwner(context.Background(), company, owner); !errors.Is(err, auth.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	checkExpectations(t, mock)
}

func memberFixture() *auth.Account {
	return &auth.Account{
		ID:        "acc-2",
		CompanyID: "co-1",
		Email:     "emp@co.com",
		FirstName: "Eve",
		LastName:  "Member",
		Role:      auth.RoleEmployee,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func expectInviteClaim(mock sqlmock.Sqlmock, consumed any) {
	mock.ExpectQuery(`select consumed_at from invites where id = \$1 for update`).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"consumed_at"}).AddRow(consumed))
}

func TestAcceptInviteConsumes(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	expectInviteClaim(mock, nil)
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update invites set consumed_at").
		WithArgs("inv-1", at, "acc-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.AcceptInvite(context.Background(), "inv-1", memberFixture(), at); err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	checkExpectations(t, mock)
}

// A concurrent accept that committed first is seen through the row lock as a
// consumed invite, so no account insert is attempted and no duplicate email
// can be reported.
func TestAcceptInviteAlreadyUsedSkipsAccountInsert(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	expectInviteClaim(mock, at.Add(-time.Minute))
	mock.ExpectRollback()

	err := store.AcceptInvite(context.Background(), "inv-1", memberFixture(), at)
	if !errors.Is(err, auth.ErrInviteAlreadyUsed) {
		t.Fatalf("expected ErrInviteAlreadyUsed, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestAcceptInviteUpdateMissIsAlreadyUsed(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	expectInviteClaim(mock, nil)
	mock.ExpectExec("insert into accounts").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("update invites set consumed_at").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.AcceptInvite(context.Background(), "inv-1", memberFixture(), at)
	if !errors.Is(err, auth.ErrInviteAlreadyUsed) {
		t.Fatalf("expected ErrInviteAlreadyUsed, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestAcceptInviteUnknown(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select consumed_at from invites").
		WillReturnRows(sqlmock.NewRows([]string{"consumed_at"}))
	mock.ExpectRollback()

	err := store.AcceptInvite(context.Background(), "inv-1", memberFixture(), at)
	if !errors.Is(err, auth.ErrInviteNotFound) {
		t.Fatalf("expected ErrInviteNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

var accountRowColumns = []string{
	"id", "company_id", "email", "password_hash", "first_name", "last_name",
	"birth_date", "job_title", "role", "total_time_off", "taken_time_off", "created_at", "updated_at",
}

func TestFindAccountByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	birth := time.Date(1990, 1, 2, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("from accounts where email").
		WithArgs("emp@co.com").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("acc-2", "co-1", "emp@co.com", "hash", "Eve", "Member", birth, "QA", "Employee", 20, 2, at, at))

	acc, err := store.Accounts(context.Background()).FindByEmail(context.Background(), " EMP@co.com ")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if acc.Role != auth.RoleEmployee || acc.TotalTimeOff != 20 || acc.TakenTimeOff != 2 {
		t.Fatalf("unexpected account: %+v", acc)
	}
	if !acc.BirthDate.Equal(birth) {
		t.Fatalf("unexpected birth date: %v", acc.BirthDate)
	}
	checkExpectations(t, mock)
}

func TestFindAccountNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from accounts where id").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := store.Accounts(context.Background()).Find(context.Background(), "missing")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestFindAccountRejectsUnknownRole(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from accounts where id").
		WillReturnRows(sqlmock.NewRows(accountRowColumns).
			AddRow("acc-1", "co-1", "x@co.com", "hash", "X", "Y", nil, "", "Owner", 0, 0, at, at))

	if _, err := store.Accounts(context.Background()).Find(context.Background(), "acc-1"); err == nil {
		t.Fatal("expected error for stored Owner role")
	}
	checkExpectations(t, mock)
}

func TestUpdateAllowanceMissingAccount(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update accounts set total_time_off").
		WithArgs("missing", 10, 1, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Accounts(context.Background()).UpdateAllowance(context.Background(), "missing", 10, 1, at)
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}

func TestLatestInviteByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	cols := []string{"id", "email", "company_id", "role", "invited_by", "expires_at", "consumed_at", "account_id", "created_at"}
	mock.ExpectQuery("from invites").
		WithArgs("emp@co.com").
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("inv-1", "emp@co.com", "co-1", "Employee", "acc-1", at.Add(time.Hour), nil, "", at))

	inv, err := store.Invites(context.Background()).LatestByEmail(context.Background(), "Emp@co.com")
	if err != nil {
		t.Fatalf("LatestByEmail: %v", err)
	}
	if inv.State(at) != auth.InvitePending {
		t.Fatalf("expected pending invite, got %s", inv.State(at))
	}
	checkExpectations(t, mock)
}

func TestCompanyNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("from companies where id").WithArgs("co-x").WillReturnError(sql.ErrNoRows)

	if _, err := store.Companies(context.Background()).Find(context.Background(), "co-x"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	checkExpectations(t, mock)
}
