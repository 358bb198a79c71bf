package auth

import "errors"

var (
	ErrInvalidInput       = errors.New("auth: invalid input")
	ErrNotFound           = errors.New("auth: not found")
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrDuplicateEmail     = errors.New("auth: email already registered")
	ErrInviteNotFound     = errors.New("auth: invite not found")
	ErrInviteExpired      = errors.New("auth: invite expired")
	ErrInviteAlreadyUsed  = errors.New("auth: invite already used")
	ErrNotAuthenticated   = errors.New("auth: not authenticated")
	ErrNotAuthorized      = errors.New("auth: not authorized")

	// ErrUnavailable marks transient storage failures; callers may retry with backoff.
	ErrUnavailable = errors.New("auth: storage unavailable")
)

// Access token failures. Each one wraps ErrInvalidToken.
var (
	ErrInvalidToken   = errors.New("auth: invalid token")
	ErrTokenExpired   = tokenError("auth: token expired")
	ErrTokenMalformed = tokenError("auth: token malformed")
	ErrBadSignature   = tokenError("auth: bad token signature")
)

// Refresh token failures. ErrRefreshReused revokes the lineage before it is returned.
var (
	ErrRefreshNotFound = errors.New("auth: refresh token not found")
	ErrRefreshReused   = errors.New("auth: refresh token reused")
	ErrRefreshExpired  = errors.New("auth: refresh token expired")
	ErrRefreshRevoked  = errors.New("auth: refresh token revoked")
)

type tokenErr struct{ msg string }

func tokenError(msg string) error { return &tokenErr{msg: msg} }

func (e *tokenErr) Error() string { return e.msg }

func (e *tokenErr) Unwrap() error { return ErrInvalidToken }
