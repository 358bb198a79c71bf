package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DilyaSoft/Time-off-company-manager/internal/ids"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

const (
	defaultAccessTTL    = 15 * time.Minute
	defaultRefreshTTL   = 24 * time.Hour * 14
	defaultInviteTTL    = 24 * time.Hour * 7
	defaultStoreTimeout = 5 * time.Second

	// SignInFailedMessage is returned for unknown emails and wrong passwords alike.
	SignInFailedMessage = "Invalid email or password."
	signInOKMessage     = "Signed in."
)

// Service is the session authority: it signs callers in, rotates their
// tokens, manages invites and gates allowance changes.
type Service struct {
	store    Store
	codec    *Codec
	ledger   *Ledger
	resolver *Resolver
	logger   *slog.Logger
	now      func() time.Time

	accessTTL    time.Duration
	refreshTTL   time.Duration
	inviteTTL    time.Duration
	storeTimeout time.Duration
	passwordCost int

	revokeOnAllowanceChange bool

	dummyOnce sync.Once
	dummyHash string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithInviteTTL configures how long a new invite stays acceptable.
func WithInviteTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.inviteTTL = ttl
		}
		return nil
	}
}

// WithStoreTimeout bounds every storage round trip of one operation.
func WithStoreTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d > 0 {
			s.storeTimeout = d
		}
		return nil
	}
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// WithRevokeOnAllowanceChange signs the target account out after its
// allowance is changed.
func WithRevokeOnAllowanceChange(enabled bool) ServiceOption {
	return func(s *Service) error {
		s.revokeOnAllowanceChange = enabled
		return nil
	}
}

// WithPasswordCost sets the bcrypt cost for new hashes.
func WithPasswordCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return fmt.Errorf("auth: bcrypt cost %d out of range", cost)
		}
		s.passwordCost = cost
		return nil
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, codec *Codec, opts ...ServiceOption) (*Service, error) {
	if store == nil || codec == nil {
		return nil, errors.New("auth: store and codec are required")
	}
	svc := &Service{
		store:        store,
		codec:        codec,
		logger:       obs.Logger(),
		now:          time.Now,
		accessTTL:    defaultAccessTTL,
		refreshTTL:   defaultRefreshTTL,
		inviteTTL:    defaultInviteTTL,
		storeTimeout: defaultStoreTimeout,
		passwordCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	svc.ledger = NewLedger(store, svc.refreshTTL, svc.clock, svc.logger)
	svc.resolver = NewResolver(codec, store)
	return svc, nil
}

// Resolver exposes the caller resolver used by transport middleware.
func (s *Service) Resolver() *Resolver { return s.resolver }

func (s *Service) clock() time.Time { return s.now().UTC() }

func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// SignIn authenticates credentials. Credential failures are reported in the
// result with a generic message; storage failures are returned as errors.
func (s *Service) SignIn(ctx context.Context, email, password string) (SignInResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		obs.ObserveSignIn("rejected")
		return SignInResult{Message: SignInFailedMessage}, nil
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	acc, err := s.store.Accounts(ctx).FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			obs.ObserveSignIn("error")
			return SignInResult{}, storeErr(err)
		}
		// Spend the same bcrypt work as a real comparison.
		_ = VerifyPassword(s.dummyPasswordHash(), password)
		obs.ObserveSignIn("rejected")
		return SignInResult{Message: SignInFailedMessage}, nil
	}
	if err := VerifyPassword(acc.PasswordHash, password); err != nil {
		obs.ObserveSignIn("rejected")
		return SignInResult{Message: SignInFailedMessage}, nil
	}

	pair, err := s.issuePair(ctx, acc)
	if err != nil {
		obs.ObserveSignIn("error")
		return SignInResult{}, storeErr(err)
	}
	obs.ObserveSignIn("success")
	return SignInResult{Success: true, Message: signInOKMessage, Token: &pair}, nil
}

// SignUpOwner registers a company together with its first manager, who
// becomes the company's owner.
func (s *Service) SignUpOwner(ctx context.Context, req SignUpRequest) (Account, error) {
	email, err := validateEmail(req.Email)
	if err != nil {
		return Account{}, err
	}
	first, last, err := validateNames(req.FirstName, req.LastName)
	if err != nil {
		return Account{}, err
	}
	if req.BirthDate.After(s.clock()) {
		return Account{}, fmt.Errorf("%w: birth date is in the future", ErrInvalidInput)
	}
	hash, err := hashPasswordCost(req.Password, s.passwordCost)
	if err != nil {
		return Account{}, err
	}

	now := s.clock()
	acc := Account{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		BirthDate:    dateOnly(req.BirthDate),
		JobTitle:     strings.TrimSpace(req.JobTitle),
		Role:         RoleManager,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	companyName := strings.TrimSpace(req.CompanyName)
	if companyName == "" {
		companyName = first + " " + last
	}
	company := Company{
		ID:        ids.New(),
		Name:      companyName,
		OwnerID:   acc.ID,
		CreatedAt: now,
	}
	acc.CompanyID = company.ID

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.store.RegisterOwner(ctx, &company, &acc); err != nil {
		return Account{}, storeErr(err)
	}
	s.logger.InfoContext(ctx, "company registered", "company_id", company.ID, "account_id", acc.ID)
	return acc, nil
}

// IsInviteValid reports whether the latest invite for email is pending.
func (s *Service) IsInviteValid(ctx context.Context, email string) (bool, error) {
	email = normalizeEmail(email)
	if email == "" {
		return false, nil
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	inv, err := s.store.Invites(ctx).LatestByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrInviteNotFound) {
			return false, nil
		}
		return false, storeErr(err)
	}
	return inv.State(s.clock()) == InvitePending, nil
}

// CreateInvite lets an owner or manager invite email into their company.
func (s *Service) CreateInvite(ctx context.Context, caller *AuthorizedUser, email string, role Role) (Invite, error) {
	if caller == nil {
		return Invite{}, ErrNotAuthenticated
	}
	email, err := validateEmail(email)
	if err != nil {
		return Invite{}, err
	}
	target, ok := ParseStoredRole(string(role))
	if !ok {
		return Invite{}, fmt.Errorf("%w: role %q cannot be invited", ErrInvalidInput, role)
	}

	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	inviter, err := s.privilegedCaller(ctx, caller.ID)
	if err != nil {
		return Invite{}, err
	}
	if inviter.CompanyID == "" {
		return Invite{}, ErrNotAuthorized
	}
	if _, err := s.store.Accounts(ctx).FindByEmail(ctx, email); err == nil {
		return Invite{}, ErrDuplicateEmail
	} else if !errors.Is(err, ErrNotFound) {
		return Invite{}, storeErr(err)
	}

	now := s.clock()
	inv := Invite{
		ID:        ids.New(),
		Email:     email,
		CompanyID: inviter.CompanyID,
		Role:      target,
		InvitedBy: inviter.ID,
		ExpiresAt: now.Add(s.inviteTTL),
		CreatedAt: now,
	}
	if err := s.store.Invites(ctx).Create(ctx, &inv); err != nil {
		return Invite{}, storeErr(err)
	}
	return inv, nil
}

// AcceptInvite consumes a pending invite and creates its account. A failed
// acceptance leaves the invite pending.
func (s *Service) AcceptInvite(ctx context.Context, req AcceptInviteRequest) (Account, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	inv, err := s.findInvite(ctx, req)
	if err != nil {
		return Account{}, err
	}
	now := s.clock()
	switch inv.State(now) {
	case InviteConsumed:
		return Account{}, ErrInviteAlreadyUsed
	case InviteExpired:
		return Account{}, ErrInviteExpired
	}

	first, last, err := validateNames(req.FirstName, req.LastName)
	if err != nil {
		return Account{}, err
	}
	if req.BirthDate.After(now) {
		return Account{}, fmt.Errorf("%w: birth date is in the future", ErrInvalidInput)
	}
	hash, err := hashPasswordCost(req.Password, s.passwordCost)
	if err != nil {
		return Account{}, err
	}
	role := inv.Role
	if role == "" || role == RoleOwner {
		role = RoleEmployee
	}
	acc := Account{
		ID:           ids.New(),
		CompanyID:    inv.CompanyID,
		Email:        inv.Email,
		PasswordHash: hash,
		FirstName:    first,
		LastName:     last,
		BirthDate:    dateOnly(req.BirthDate),
		JobTitle:     strings.TrimSpace(req.JobTitle),
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.AcceptInvite(ctx, inv.ID, &acc, now); err != nil {
		return Account{}, storeErr(err)
	}
	return acc, nil
}

func (s *Service) findInvite(ctx context.Context, req AcceptInviteRequest) (*Invite, error) {
	invites := s.store.Invites(ctx)
	var (
		inv *Invite
		err error
	)
	switch {
	case strings.TrimSpace(req.InviteID) != "":
		inv, err = invites.Find(ctx, strings.TrimSpace(req.InviteID))
	case normalizeEmail(req.Email) != "":
		inv, err = invites.LatestByEmail(ctx, req.Email)
	default:
		return nil, fmt.Errorf("%w: invite id or email is required", ErrInvalidInput)
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return inv, nil
}

// RefreshToken rotates presented and returns a fresh pair in the same lineage.
func (s *Service) RefreshToken(ctx context.Context, presented string) (TokenPair, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	var (
		access    string
		accessExp time.Time
	)
	raw, rec, err := s.ledger.Rotate(ctx, presented, func(ctx context.Context, cur *RefreshToken) error {
		acc, err := s.store.Accounts(ctx).Find(ctx, cur.AccountID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrRefreshNotFound
			}
			return err
		}
		access, accessExp, err = s.mintAccess(ctx, acc)
		return err
	})
	if err != nil {
		obs.ObserveRefresh(refreshOutcome(err))
		return TokenPair{}, storeErr(err)
	}
	obs.ObserveRefresh("success")
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     raw,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

func refreshOutcome(err error) string {
	switch {
	case errors.Is(err, ErrRefreshReused):
		return "reused"
	case errors.Is(err, ErrRefreshNotFound), errors.Is(err, ErrRefreshExpired), errors.Is(err, ErrRefreshRevoked):
		return "rejected"
	default:
		return "error"
	}
}

// GetAuthorized resolves token into the caller view.
func (s *Service) GetAuthorized(ctx context.Context, token string, withCompany bool) (Resolution, error) {
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	res, err := s.resolver.Resolve(ctx, token, withCompany)
	return res, storeErr(err)
}

// UpdateProfile applies the caller's own profile changes.
func (s *Service) UpdateProfile(ctx context.Context, caller *AuthorizedUser, upd ProfileUpdate) (Account, error) {
	if caller == nil {
		return Account{}, ErrNotAuthenticated
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	accounts := s.store.Accounts(ctx)
	acc, err := accounts.Find(ctx, caller.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Account{}, ErrNotAuthenticated
		}
		return Account{}, storeErr(err)
	}
	now := s.clock()
	if upd.FirstName != nil {
		acc.FirstName = strings.TrimSpace(*upd.FirstName)
	}
	if upd.LastName != nil {
		acc.LastName = strings.TrimSpace(*upd.LastName)
	}
	if acc.FirstName == "" || acc.LastName == "" {
		return Account{}, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if upd.BirthDate != nil {
		if upd.BirthDate.After(now) {
			return Account{}, fmt.Errorf("%w: birth date is in the future", ErrInvalidInput)
		}
		acc.BirthDate = dateOnly(*upd.BirthDate)
	}
	if upd.JobTitle != nil {
		acc.JobTitle = strings.TrimSpace(*upd.JobTitle)
	}
	acc.UpdatedAt = now
	if err := accounts.UpdateProfile(ctx, acc); err != nil {
		return Account{}, storeErr(err)
	}
	return *acc, nil
}

// SignOut revokes every refresh lineage of the caller. Access tokens already
// issued stay valid until they expire.
func (s *Service) SignOut(ctx context.Context, caller *AuthorizedUser) error {
	if caller == nil {
		return ErrNotAuthenticated
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.ledger.Revoke(ctx, caller.ID); err != nil {
		return storeErr(err)
	}
	return nil
}

// UpdateAllowanceTimeOff sets the time-off counters of userID. The caller
// must currently be an owner or manager of the target's company.
func (s *Service) UpdateAllowanceTimeOff(ctx context.Context, caller *AuthorizedUser, userID string, total, taken int) error {
	if caller == nil {
		return ErrNotAuthenticated
	}
	if total < 0 || taken < 0 {
		return fmt.Errorf("%w: time-off values must not be negative", ErrInvalidInput)
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	ctx, cancel := s.storeCtx(ctx)
	defer cancel()

	actor, err := s.privilegedCaller(ctx, caller.ID)
	if err != nil {
		return err
	}
	accounts := s.store.Accounts(ctx)
	target, err := accounts.Find(ctx, userID)
	if err != nil {
		return storeErr(err)
	}
	if actor.CompanyID == "" || target.CompanyID != actor.CompanyID {
		return ErrNotAuthorized
	}
	now := s.clock()
	if err := accounts.UpdateAllowance(ctx, target.ID, total, taken, now); err != nil {
		return storeErr(err)
	}
	if s.revokeOnAllowanceChange {
		if err := s.ledger.Revoke(ctx, target.ID); err != nil {
			s.logger.WarnContext(ctx, "revoke after allowance change failed", "account_id", target.ID, "error", err)
		}
	}
	return nil
}

// privilegedCaller reloads the caller and requires a privileged effective role.
func (s *Service) privilegedCaller(ctx context.Context, accountID string) (*Account, error) {
	acc, err := s.store.Accounts(ctx).Find(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, storeErr(err)
	}
	var company *Company
	if acc.CompanyID != "" {
		company, err = s.store.Companies(ctx).Find(ctx, acc.CompanyID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, storeErr(err)
		}
	}
	if !EffectiveRole(*acc, company).Privileged() {
		return nil, ErrNotAuthorized
	}
	return acc, nil
}

func (s *Service) issuePair(ctx context.Context, acc *Account) (TokenPair, error) {
	access, accessExp, err := s.mintAccess(ctx, acc)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, rec, err := s.ledger.Issue(ctx, acc.ID, "")
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: rec.ExpiresAt,
	}, nil
}

// mintAccess embeds the effective role at mint time. Decisions never rely on
// it; the resolver recomputes the role from live state.
func (s *Service) mintAccess(ctx context.Context, acc *Account) (string, time.Time, error) {
	var company *Company
	if acc.CompanyID != "" {
		c, err := s.store.Companies(ctx).Find(ctx, acc.CompanyID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return "", time.Time{}, err
		}
		company = c
	}
	return s.codec.Mint(AccessClaims{
		Subject:   acc.ID,
		Role:      EffectiveRole(*acc, company),
		CompanyID: acc.CompanyID,
		IssuedAt:  s.clock(),
	}, s.accessTTL)
}

func (s *Service) dummyPasswordHash() string {
	s.dummyOnce.Do(func() {
		secret, err := ids.NewSecret(24)
		if err != nil {
			secret = "timeoff-dummy-password"
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.passwordCost)
		if err == nil {
			s.dummyHash = string(hash)
		}
	})
	return s.dummyHash
}

// storeErr passes domain errors through and marks everything else transient.
func storeErr(err error) error {
	if err == nil || isDomainError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

var domainErrors = []error{
	ErrInvalidInput, ErrNotFound, ErrInvalidCredentials, ErrDuplicateEmail,
	ErrInviteNotFound, ErrInviteExpired, ErrInviteAlreadyUsed,
	ErrNotAuthenticated, ErrNotAuthorized, ErrUnavailable, ErrInvalidToken,
	ErrRefreshNotFound, ErrRefreshReused, ErrRefreshExpired, ErrRefreshRevoked,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func validateEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", fmt.Errorf("%w: email %q is not valid", ErrInvalidInput, raw)
	}
	return email, nil
}

func validateNames(first, last string) (string, string, error) {
	first, last = strings.TrimSpace(first), strings.TrimSpace(last)
	if first == "" || last == "" {
		return "", "", fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	return first, last, nil
}

func dateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
