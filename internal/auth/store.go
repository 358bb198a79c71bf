package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Accounts(ctx context.Context) AccountStore
	Companies(ctx context.Context) CompanyStore
	Invites(ctx context.Context) InviteStore
	RefreshTokens(ctx context.Context) RefreshTokenStore

	// RegisterOwner creates company and its first manager atomically. Either
	// both rows exist afterwards or neither does.
	RegisterOwner(ctx context.Context, company *Company, owner *Account) error

	// AcceptInvite marks the invite consumed and creates the account in one
	// step. It fails with ErrInviteAlreadyUsed when the invite was consumed
	// concurrently, leaving no account behind.
	AcceptInvite(ctx context.Context, inviteID string, acc *Account, at time.Time) error

	// Ping reports storage availability for readiness probes.
	Ping(ctx context.Context) error
}

// AccountStore manages accounts. Accounts are never hard-deleted.
type AccountStore interface {
	Find(ctx context.Context, id string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	UpdateProfile(ctx context.Context, acc *Account) error
	UpdateAllowance(ctx context.Context, id string, total, taken int, at time.Time) error
}

// CompanyStore manages companies.
type CompanyStore interface {
	Find(ctx context.Context, id string) (*Company, error)
}

// InviteStore manages invites.
type InviteStore interface {
	Create(ctx context.Context, inv *Invite) error
	Find(ctx context.Context, id string) (*Invite, error)
	// LatestByEmail returns the most recently created invite for email.
	LatestByEmail(ctx context.Context, email string) (*Invite, error)
}

// RefreshTokenStore manages the refresh token ledger.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate supersedes oldID and inserts next atomically. It returns
	// ErrRefreshReused when oldID is no longer current.
	Rotate(ctx context.Context, oldID string, next *RefreshToken, at time.Time) error
	RevokeLineage(ctx context.Context, lineageID string, at time.Time) error
	RevokeByAccount(ctx context.Context, accountID string, at time.Time) error
}
