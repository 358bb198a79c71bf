package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DilyaSoft/Time-off-company-manager/internal/ids"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

const refreshSecretBytes = 32

// Ledger issues and rotates refresh tokens. Each lineage is a strict chain:
// a token is current until it is superseded by exactly one successor.
type Ledger struct {
	store  Store
	now    func() time.Time
	ttl    time.Duration
	logger *slog.Logger
}

// NewLedger constructs a Ledger over store.
func NewLedger(store Store, ttl time.Duration, now func() time.Time, logger *slog.Logger) *Ledger {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = obs.Logger()
	}
	return &Ledger{store: store, now: now, ttl: ttl, logger: logger}
}

// Issue creates a token for accountID. An empty lineageID starts a new lineage.
func (l *Ledger) Issue(ctx context.Context, accountID, lineageID string) (string, *RefreshToken, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}
	raw, rec, err := l.newToken(accountID, lineageID, l.now())
	if err != nil {
		return "", nil, err
	}
	if err := l.store.RefreshTokens(ctx).Create(ctx, rec); err != nil {
		return "", nil, err
	}
	return raw, rec, nil
}

// Rotate exchanges presented for its successor in the same lineage.
// Presenting a superseded token revokes the whole lineage.
//
// prepare, when set, runs after presented is validated and before the
// successor is committed. An error from prepare leaves presented current,
// so the caller may retry with the same token.
func (l *Ledger) Rotate(ctx context.Context, presented string, prepare func(ctx context.Context, cur *RefreshToken) error) (string, *RefreshToken, error) {
	id, secret, err := splitRefreshToken(presented)
	if err != nil {
		return "", nil, ErrRefreshNotFound
	}
	tokens := l.store.RefreshTokens(ctx)
	rec, err := tokens.Find(ctx, id)
	if err != nil {
		return "", nil, err
	}
	if !secureCompareHash(rec.TokenHash, secret) {
		return "", nil, ErrRefreshNotFound
	}

	now := l.now()
	if rec.SupersededAt != nil {
		return "", nil, l.reuseDetected(ctx, rec, now)
	}
	if rec.RevokedAt != nil {
		return "", nil, ErrRefreshRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return "", nil, ErrRefreshExpired
	}
	if prepare != nil {
		if err := prepare(ctx, rec); err != nil {
			return "", nil, err
		}
	}

	raw, next, err := l.newToken(rec.AccountID, rec.LineageID, now)
	if err != nil {
		return "", nil, err
	}
	if err := tokens.Rotate(ctx, rec.ID, next, now); err != nil {
		if errors.Is(err, ErrRefreshReused) {
			return "", nil, l.reuseDetected(ctx, rec, now)
		}
		return "", nil, err
	}
	return raw, next, nil
}

// Revoke ends every lineage of accountID.
func (l *Ledger) Revoke(ctx context.Context, accountID string) error {
	return l.store.RefreshTokens(ctx).RevokeByAccount(ctx, accountID, l.now())
}

func (l *Ledger) reuseDetected(ctx context.Context, rec *RefreshToken, now time.Time) error {
	obs.ObserveRefreshReuse()
	l.logger.WarnContext(ctx, "refresh token reuse detected",
		"account_id", rec.AccountID,
		"lineage_id", rec.LineageID,
		"token_id", rec.ID,
	)
	if err := l.store.RefreshTokens(ctx).RevokeLineage(ctx, rec.LineageID, now); err != nil {
		return errors.Join(ErrRefreshReused, err)
	}
	return ErrRefreshReused
}

func (l *Ledger) newToken(accountID, lineageID string, now time.Time) (string, *RefreshToken, error) {
	secret, err := ids.NewSecret(refreshSecretBytes)
	if err != nil {
		return "", nil, fmt.Errorf("auth: generate refresh secret: %w", err)
	}
	if lineageID == "" {
		lineageID = ids.NewLineage()
	}
	sum := sha256.Sum256([]byte(secret))
	rec := &RefreshToken{
		ID:        ids.New(),
		AccountID: accountID,
		LineageID: lineageID,
		TokenHash: hex.EncodeToString(sum[:]),
		IssuedAt:  now,
		ExpiresAt: now.Add(l.ttl),
	}
	return rec.ID + "." + secret, rec, nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
