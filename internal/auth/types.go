package auth

import (
	"strings"
	"time"
)

// Role is the stored base role of an account. RoleOwner is never stored; it is
// derived from company state by EffectiveRole.
type Role string

const (
	RoleManager  Role = "Manager"
	RoleEmployee Role = "Employee"
	RoleOwner    Role = "Owner"
)

// Privileged reports whether an effective role may manage other accounts of
// its company.
func (r Role) Privileged() bool {
	return r == RoleOwner || r == RoleManager
}

// ParseStoredRole accepts the roles an account may carry in storage.
func ParseStoredRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "manager":
		return RoleManager, true
	case "employee", "":
		return RoleEmployee, true
	default:
		return "", false
	}
}

// Company is the organization owning accounts. OwnerID is the account that
// performed the company sign-up.
type Company struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Account is an identity record.
type Account struct {
	ID           string    `json:"id"`
	CompanyID    string    `json:"companyId,omitempty"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	BirthDate    time.Time `json:"birthDate"`
	JobTitle     string    `json:"jobTitle"`
	Role         Role      `json:"role"`
	TotalTimeOff int       `json:"totalTimeOff"`
	TakenTimeOff int       `json:"takenTimeOff"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// InviteState is the lifecycle position of an invite.
type InviteState string

const (
	InvitePending  InviteState = "pending"
	InviteConsumed InviteState = "consumed"
	InviteExpired  InviteState = "expired"
)

// Invite is a single-use, time-boxed grant to join a company.
type Invite struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	CompanyID  string     `json:"companyId"`
	Role       Role       `json:"role"`
	InvitedBy  string     `json:"invitedBy"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty"`
	AccountID  string     `json:"accountId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// State reports whether the invite can still be accepted at now.
func (i Invite) State(now time.Time) InviteState {
	if i.ConsumedAt != nil {
		return InviteConsumed
	}
	if !now.Before(i.ExpiresAt) {
		return InviteExpired
	}
	return InvitePending
}

// RefreshToken is a ledger row. The raw secret is never stored, only its hash.
type RefreshToken struct {
	ID           string
	AccountID    string
	LineageID    string
	TokenHash    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	SupersededAt *time.Time
	RevokedAt    *time.Time
}

// TokenPair is returned by sign-in and refresh.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// SignInResult mirrors the browser client's contract.
type SignInResult struct {
	Success bool       `json:"success"`
	Message string     `json:"message"`
	Token   *TokenPair `json:"token"`
}

// AuthorizedUser is the caller view returned by resolution. RoleName is the effective role.
type AuthorizedUser struct {
	ID           string `json:"id"`
	Email        string `json:"email"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	JobTitle     string `json:"jobTitle"`
	CompanyID    string `json:"companyId,omitempty"`
	CompanyName  string `json:"companyName,omitempty"`
	StoredRole   Role   `json:"storedRole"`
	RoleName     Role   `json:"roleName"`
	TotalTimeOff int    `json:"totalTimeOff"`
	TakenTimeOff int    `json:"takenTimeOff"`
}

// SignUpRequest holds owner sign-up fields.
type SignUpRequest struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	BirthDate   time.Time
	JobTitle    string
	CompanyName string
}

// AcceptInviteRequest holds the fields of a new account created from an invite.
// The invite is addressed by InviteID, or by the invited Email when InviteID is empty.
type AcceptInviteRequest struct {
	InviteID  string
	Email     string
	Password  string
	FirstName string
	LastName  string
	BirthDate time.Time
	JobTitle  string
}

// ProfileUpdate lists the caller-editable fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	BirthDate *time.Time
	JobTitle  *string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
