package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const minKeyLength = 32

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Subject   string
	Role      Role
	CompanyID string
	IssuedAt  time.Time
	ExpiresAt time.Time
	ID        string
}

// KeyConfig describes the signing keyring. Tokens signed by any key in Keys
// verify; new tokens are signed with ActiveKeyID.
type KeyConfig struct {
	Issuer      string
	ActiveKeyID string
	Keys        map[string][]byte
	Leeway      time.Duration
}

type keyring struct {
	issuer   string
	activeID string
	keys     map[string][]byte
	leeway   time.Duration
}

// Codec mints and verifies HS256 access tokens.
//
// Keys rotate without a restart: the api binary re-reads its config on SIGHUP
// and calls Reload. To rotate, add the new key as active and keep the old one
// under retired_keys until every token it signed has expired, then drop it.
type Codec struct {
	ring atomic.Pointer[keyring]
	now  func() time.Time
}

// CodecOption configures Codec behavior.
type CodecOption func(*Codec)

// WithCodecClock overrides the time source used for iat/exp.
func WithCodecClock(fn func() time.Time) CodecOption {
	return func(c *Codec) {
		if fn != nil {
			c.now = fn
		}
	}
}

type jwtClaims struct {
	Role      string `json:"role"`
	CompanyID string `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// NewCodec validates cfg and builds a Codec.
func NewCodec(cfg KeyConfig, opts ...CodecOption) (*Codec, error) {
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.Reload(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload swaps the keyring. In-flight Verify calls finish against the old ring.
func (c *Codec) Reload(cfg KeyConfig) error {
	ring, err := buildKeyring(cfg)
	if err != nil {
		return err
	}
	c.ring.Store(ring)
	return nil
}

func buildKeyring(cfg KeyConfig) (*keyring, error) {
	active := strings.TrimSpace(cfg.ActiveKeyID)
	if active == "" {
		return nil, errors.New("auth: active key id is required")
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("auth: leeway must not be negative")
	}
	keys := make(map[string][]byte, len(cfg.Keys))
	for kid, secret := range cfg.Keys {
		if len(secret) < minKeyLength {
			return nil, fmt.Errorf("auth: key %q must be at least %d bytes", kid, minKeyLength)
		}
		keys[kid] = append([]byte(nil), secret...)
	}
	if _, ok := keys[active]; !ok {
		return nil, fmt.Errorf("auth: active key %q not in keyring", active)
	}
	return &keyring{
		issuer:   cfg.Issuer,
		activeID: active,
		keys:     keys,
		leeway:   cfg.Leeway,
	}, nil
}

// Mint signs claims with the active key. IssuedAt defaults to the codec clock
// and ID to a fresh uuid; the returned time is the token expiry.
func (c *Codec) Mint(claims AccessClaims, ttl time.Duration) (string, time.Time, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", time.Time{}, fmt.Errorf("%w: subject is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: ttl must be positive", ErrInvalidInput)
	}
	ring := c.ring.Load()
	iat := claims.IssuedAt
	if iat.IsZero() {
		iat = c.now()
	}
	iat = iat.UTC().Truncate(time.Second)
	exp := iat.Add(ttl)
	jti := claims.ID
	if jti == "" {
		jti = uuid.NewString()
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		Role:      string(claims.Role),
		CompanyID: claims.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ring.issuer,
			Subject:   claims.Subject,
			IssuedAt:  jwt.NewNumericDate(iat),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	})
	tok.Header["kid"] = ring.activeID
	signed, err := tok.SignedString(ring.keys[ring.activeID])
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign access token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and expiry. Failures wrap ErrInvalidToken.
func (c *Codec) Verify(token string) (AccessClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessClaims{}, ErrTokenMalformed
	}
	ring := c.ring.Load()
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
		jwt.WithLeeway(ring.leeway),
	}
	if ring.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ring.issuer))
	}

	var claims jwtClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		key, ok := ring.keys[kid]
		if !ok {
			return nil, ErrBadSignature
		}
		return key, nil
	}, opts...)
	if err != nil {
		return AccessClaims{}, classifyJWTError(err)
	}
	if claims.Subject == "" || claims.IssuedAt == nil {
		return AccessClaims{}, ErrTokenMalformed
	}
	return AccessClaims{
		Subject:   claims.Subject,
		Role:      Role(claims.Role),
		CompanyID: claims.CompanyID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
		ID:        claims.ID,
	}, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrTokenMalformed
	case errors.Is(err, ErrBadSignature),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrBadSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}
