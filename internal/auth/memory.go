package auth

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used by tests
// and by cmd/api when no database DSN is configured.
type InMemory struct {
	mu        sync.RWMutex
	accounts  map[string]*Account
	byEmail   map[string]string
	companies map[string]*Company
	invites   map[string]*Invite
	tokens    map[string]*RefreshToken
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		accounts:  make(map[string]*Account),
		byEmail:   make(map[string]string),
		companies: make(map[string]*Company),
		invites:   make(map[string]*Invite),
		tokens:    make(map[string]*RefreshToken),
	}
}

func (s *InMemory) Accounts(context.Context) AccountStore { return memAccounts{s} }
func (s *InMemory) Companies(context.Context) CompanyStore { return memCompanies{s} }
func (s *InMemory) Invites(context.Context) InviteStore { return memInvites{s} }
func (s *InMemory) RefreshTokens(context.Context) RefreshTokenStore { return memTokens{s} }

// Ping always succeeds.
func (s *InMemory) Ping(context.Context) error { return nil }

func (s *InMemory) RegisterOwner(ctx context.Context, company *Company, owner *Account) error {
	if company == nil || owner == nil {
		return ErrInvalidInput
	}
	if owner.Role == RoleOwner {
		return fmt.Errorf("%w: owner is a derived role", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(owner.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateEmail
	}
	if _, ok := s.companies[company.ID]; ok {
		return fmt.Errorf("%w: company exists", ErrInvalidInput)
	}
	c := *company
	a := *owner
	a.Email = email
	s.companies[c.ID] = &c
	s.accounts[a.ID] = &a
	s.byEmail[email] = a.ID
	return nil
}

func (s *InMemory) AcceptInvite(ctx context.Context, inviteID string, acc *Account, at time.Time) error {
	if acc == nil {
		return ErrInvalidInput
	}
	if acc.Role == RoleOwner {
		return fmt.Errorf("%w: owner is a derived role", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return ErrInviteNotFound
	}
	if inv.ConsumedAt != nil {
		return ErrInviteAlreadyUsed
	}
	email := normalizeEmail(acc.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrDuplicateEmail
	}
	a := *acc
	a.Email = email
	s.accounts[a.ID] = &a
	s.byEmail[email] = a.ID
	consumed := at
	inv.ConsumedAt = &consumed
	inv.AccountID = a.ID
	return nil
}

type memAccounts struct{ s *InMemory }

func (m memAccounts) Find(ctx context.Context, id string) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	acc, ok := m.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *acc
	return &out, nil
}

func (m memAccounts) FindByEmail(ctx context.Context, email string) (*Account, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	id, ok := m.s.byEmail[normalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *m.s.accounts[id]
	return &out, nil
}

func (m memAccounts) UpdateProfile(ctx context.Context, acc *Account) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.accounts[acc.ID]
	if !ok {
		return ErrNotFound
	}
	cur.FirstName = acc.FirstName
	cur.LastName = acc.LastName
	cur.BirthDate = acc.BirthDate
	cur.JobTitle = acc.JobTitle
	cur.UpdatedAt = acc.UpdatedAt
	return nil
}

func (m memAccounts) UpdateAllowance(ctx context.Context, id string, total, taken int, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	cur.TotalTimeOff = total
	cur.TakenTimeOff = taken
	cur.UpdatedAt = at
	return nil
}

type memCompanies struct{ s *InMemory }

func (m memCompanies) Find(ctx context.Context, id string) (*Company, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	c, ok := m.s.companies[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *c
	return &out, nil
}

type memInvites struct{ s *InMemory }

func (m memInvites) Create(ctx context.Context, inv *Invite) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.invites[inv.ID]; ok {
		return fmt.Errorf("%w: invite exists", ErrInvalidInput)
	}
	cp := *inv
	cp.Email = normalizeEmail(cp.Email)
	m.s.invites[cp.ID] = &cp
	return nil
}

func (m memInvites) Find(ctx context.Context, id string) (*Invite, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	inv, ok := m.s.invites[id]
	if !ok {
		return nil, ErrInviteNotFound
	}
	return copyInvite(inv), nil
}

func (m memInvites) LatestByEmail(ctx context.Context, email string) (*Invite, error) {
	email = normalizeEmail(email)
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	var latest *Invite
	for _, inv := range m.s.invites {
		if inv.Email != email {
			continue
		}
		// IDs are monotonic ULIDs; they break ties between equal timestamps.
		if latest == nil || inv.CreatedAt.After(latest.CreatedAt) ||
			(inv.CreatedAt.Equal(latest.CreatedAt) && inv.ID > latest.ID) {
			latest = inv
		}
	}
	if latest == nil {
		return nil, ErrInviteNotFound
	}
	return copyInvite(latest), nil
}

func copyInvite(inv *Invite) *Invite {
	out := *inv
	if inv.ConsumedAt != nil {
		t := *inv.ConsumedAt
		out.ConsumedAt = &t
	}
	return &out
}

type memTokens struct{ s *InMemory }

func (m memTokens) Create(ctx context.Context, tok *RefreshToken) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.tokens[tok.ID]; ok {
		return fmt.Errorf("%w: refresh token exists", ErrInvalidInput)
	}
	cp := *tok
	m.s.tokens[cp.ID] = &cp
	return nil
}

func (m memTokens) Find(ctx context.Context, id string) (*RefreshToken, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	tok, ok := m.s.tokens[id]
	if !ok {
		return nil, ErrRefreshNotFound
	}
	out := *tok
	if tok.SupersededAt != nil {
		t := *tok.SupersededAt
		out.SupersededAt = &t
	}
	if tok.RevokedAt != nil {
		t := *tok.RevokedAt
		out.RevokedAt = &t
	}
	return &out, nil
}

func (m memTokens) Rotate(ctx context.Context, oldID string, next *RefreshToken, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	cur, ok := m.s.tokens[oldID]
	if !ok {
		return ErrRefreshNotFound
	}
	if cur.SupersededAt != nil {
		return ErrRefreshReused
	}
	if cur.RevokedAt != nil {
		return ErrRefreshRevoked
	}
	superseded := at
	cur.SupersededAt = &superseded
	cp := *next
	m.s.tokens[cp.ID] = &cp
	return nil
}

func (m memTokens) RevokeLineage(ctx context.Context, lineageID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, tok := range m.s.tokens {
		if tok.LineageID == lineageID && tok.RevokedAt == nil {
			revoked := at
			tok.RevokedAt = &revoked
		}
	}
	return nil
}

func (m memTokens) RevokeByAccount(ctx context.Context, accountID string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, tok := range m.s.tokens {
		if tok.AccountID == accountID && tok.RevokedAt == nil {
			revoked := at
			tok.RevokedAt = &revoked
		}
	}
	return nil
}
