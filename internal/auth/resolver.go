package auth

import (
	"context"
	"errors"
)

// ResolutionState distinguishes the outcomes of resolving a caller.
type ResolutionState string

const (
	StateAnonymous       ResolutionState = "anonymous"
	StateCompanyRequired ResolutionState = "company-required"
	StateAuthorized      ResolutionState = "authorized"
)

// Resolution is the result of resolving a bearer token. User is set only
// when State is StateAuthorized.
type Resolution struct {
	State ResolutionState
	User  *AuthorizedUser
}

// Authorized reports whether a caller was resolved.
func (r Resolution) Authorized() bool {
	return r.State == StateAuthorized && r.User != nil
}

// EffectiveRole upgrades a stored Manager to Owner when the account is the
// company's registering manager. company may be nil.
func EffectiveRole(acc Account, company *Company) Role {
	if acc.Role == RoleManager && company != nil && company.ID == acc.CompanyID && company.OwnerID == acc.ID {
		return RoleOwner
	}
	if acc.Role == "" {
		return RoleEmployee
	}
	return acc.Role
}

// Resolver turns access tokens into AuthorizedUser views using live account
// and company state. Token role claims are never trusted for decisions.
type Resolver struct {
	codec *Codec
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(codec *Codec, store Store) *Resolver {
	return &Resolver{codec: codec, store: store}
}

// Resolve verifies token and loads the caller. An empty token is anonymous
// without error; a failing token is anonymous with the codec error.
func (r *Resolver) Resolve(ctx context.Context, token string, requireCompany bool) (Resolution, error) {
	anonymous := Resolution{State: StateAnonymous}
	if token == "" {
		return anonymous, nil
	}
	claims, err := r.codec.Verify(token)
	if err != nil {
		return anonymous, err
	}
	acc, err := r.store.Accounts(ctx).Find(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return anonymous, ErrInvalidToken
		}
		return anonymous, err
	}

	var company *Company
	if acc.CompanyID != "" {
		company, err = r.store.Companies(ctx).Find(ctx, acc.CompanyID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return anonymous, err
		}
	}
	if requireCompany && company == nil {
		return Resolution{State: StateCompanyRequired}, nil
	}
	return Resolution{State: StateAuthorized, User: authorizedView(*acc, company)}, nil
}

// IsOwner reports whether acc is its company's registering manager.
func (r *Resolver) IsOwner(ctx context.Context, acc Account) (bool, error) {
	if acc.CompanyID == "" || acc.Role != RoleManager {
		return false, nil
	}
	company, err := r.store.Companies(ctx).Find(ctx, acc.CompanyID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return EffectiveRole(acc, company) == RoleOwner, nil
}

func authorizedView(acc Account, company *Company) *AuthorizedUser {
	u := &AuthorizedUser{
		ID:           acc.ID,
		Email:        acc.Email,
		FirstName:    acc.FirstName,
		LastName:     acc.LastName,
		JobTitle:     acc.JobTitle,
		CompanyID:    acc.CompanyID,
		StoredRole:   acc.Role,
		RoleName:     EffectiveRole(acc, company),
		TotalTimeOff: acc.TotalTimeOff,
		TakenTimeOff: acc.TakenTimeOff,
	}
	if company != nil {
		u.CompanyName = company.Name
	}
	return u
}
