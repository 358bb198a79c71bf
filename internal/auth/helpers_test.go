package auth

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCodec(t *testing.T, clock *testClock) *Codec {
	t.Helper()
	codec, err := NewCodec(KeyConfig{
		Issuer:      "timeoff-test",
		ActiveKeyID: "primary",
		Keys:        map[string][]byte{"primary": testKey},
	}, WithCodecClock(clock.Now))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return codec
}

type fixture struct {
	svc   *Service
	store *InMemory
	codec *Codec
	clock *testClock
}

func newFixture(t *testing.T, opts ...ServiceOption) *fixture {
	t.Helper()
	clock := newTestClock()
	store := NewInMemory()
	codec := newTestCodec(t, clock)
	base := []ServiceOption{
		WithClock(clock.Now),
		WithPasswordCost(bcrypt.MinCost),
		WithLogger(obs.NewJSONLogger(&bytes.Buffer{})),
	}
	svc, err := NewService(store, codec, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &fixture{svc: svc, store: store, codec: codec, clock: clock}
}

func (f *fixture) signUpOwner(t *testing.T, email string) Account {
	t.Helper()
	acc, err := f.svc.SignUpOwner(t.Context(), SignUpRequest{
		Email:       email,
		Password:    "owner-password",
		FirstName:   "Olga",
		LastName:    "Owner",
		BirthDate:   time.Date(1985, 5, 4, 0, 0, 0, 0, time.UTC),
		CompanyName: "Co",
	})
	if err != nil {
		t.Fatalf("SignUpOwner: %v", err)
	}
	return acc
}

func (f *fixture) caller(t *testing.T, acc Account) *AuthorizedUser {
	t.Helper()
	res, err := f.svc.GetAuthorized(t.Context(), f.accessToken(t, acc), false)
	if err != nil {
		t.Fatalf("GetAuthorized: %v", err)
	}
	if !res.Authorized() {
		t.Fatal("res.Authorized() = false, want true")
	}
	return res.User
}

func (f *fixture) accessToken(t *testing.T, acc Account) string {
	t.Helper()
	token, _, err := f.codec.Mint(AccessClaims{Subject: acc.ID, Role: acc.Role, CompanyID: acc.CompanyID}, time.Hour)
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return token
}

func (f *fixture) invite(t *testing.T, by Account, email string, role Role) Invite {
	t.Helper()
	inv, err := f.svc.CreateInvite(t.Context(), f.caller(t, by), email, role)
	if err != nil {
		t.Fatalf("CreateInvite: %v", err)
	}
	return inv
}

func (f *fixture) accept(t *testing.T, inv Invite) Account {
	t.Helper()
	acc, err := f.svc.AcceptInvite(t.Context(), AcceptInviteRequest{
		InviteID:  inv.ID,
		Password:  "member-password",
		FirstName: "Eve",
		LastName:  "Member",
		BirthDate: time.Date(1992, 1, 2, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("AcceptInvite: %v", err)
	}
	return acc
}
