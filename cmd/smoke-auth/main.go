package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
	"github.com/DilyaSoft/Time-off-company-manager/internal/ids"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, &payload)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) mustOK(ctx context.Context, method, path, token string, body, out any) {
	code, err := c.call(ctx, method, path, token, body, out)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	if code != http.StatusOK && code != http.StatusCreated {
		log.Fatalf("%s %s: unexpected status %d", method, path, code)
	}
}

func (c *client) signIn(ctx context.Context, email, password string) auth.TokenPair {
	var res auth.SignInResult
	c.mustOK(ctx, http.MethodPost, "/account/login-to-company-workspace", "",
		map[string]string{"email": email, "password": password}, &res)
	if !res.Success || res.Token == nil {
		log.Fatalf("sign in %s rejected: %s", email, res.Message)
	}
	return *res.Token
}

func main() {
	base := os.Getenv("TIMEOFF_API_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: strings.TrimSuffix(base, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	suffix := strings.ToLower(ids.New())
	ownerEmail := "owner-" + suffix + "@smoke.test"
	empEmail := "emp-" + suffix + "@smoke.test"

	var owner auth.Account
	c.mustOK(ctx, http.MethodPost, "/account/sign-up", "", map[string]string{
		"email": ownerEmail, "password": "smoke-owner-pw", "firstName": "Smoke", "lastName": "Owner",
		"birthDate": "1980-01-01", "companyName": "Smoke " + suffix,
	}, &owner)
	ownerPair := c.signIn(ctx, ownerEmail, "smoke-owner-pw")

	var who auth.AuthorizedUser
	c.mustOK(ctx, http.MethodGet, "/account/get-authorized?withCompany=true", ownerPair.AccessToken, nil, &who)
	if who.RoleName != auth.RoleOwner {
		log.Fatalf("expected Owner, got %s", who.RoleName)
	}

	var inv auth.Invite
	c.mustOK(ctx, http.MethodPost, "/account/invite", ownerPair.AccessToken,
		map[string]string{"email": empEmail, "role": string(auth.RoleEmployee)}, &inv)
	var valid bool
	c.mustOK(ctx, http.MethodGet, "/account/is-invite-valid?email="+url.QueryEscape(empEmail), "", nil, &valid)
	if !valid {
		log.Fatalf("invite for %s not reported valid", empEmail)
	}

	var emp auth.Account
	c.mustOK(ctx, http.MethodPost, "/account/accept-invite", "", map[string]string{
		"inviteId": inv.ID, "password": "smoke-emp-pw", "firstName": "Smoke", "lastName": "Employee",
		"birthDate": "1990-01-01",
	}, &emp)
	empPair := c.signIn(ctx, empEmail, "smoke-emp-pw")

	c.mustOK(ctx, http.MethodPatch, "/account/update-allowance-timeoff", ownerPair.AccessToken,
		map[string]any{"userId": emp.ID, "totalTimeOff": 24, "tookTimeOff": 2}, nil)
	code, err := c.call(ctx, http.MethodPatch, "/account/update-allowance-timeoff", empPair.AccessToken,
		map[string]any{"userId": owner.ID, "totalTimeOff": 99, "tookTimeOff": 0}, nil)
	if err != nil || code != http.StatusForbidden {
		log.Fatalf("employee allowance edit: status=%d err=%v, want 403", code, err)
	}

	var rotated auth.TokenPair
	c.mustOK(ctx, http.MethodPost, "/account/refresh-token", "",
		map[string]string{"refreshToken": empPair.RefreshToken}, &rotated)
	code, err = c.call(ctx, http.MethodPost, "/account/refresh-token", "",
		map[string]string{"refreshToken": empPair.RefreshToken}, nil)
	if err != nil || code != http.StatusUnauthorized {
		log.Fatalf("refresh replay: status=%d err=%v, want 401", code, err)
	}
	code, err = c.call(ctx, http.MethodPost, "/account/refresh-token", "",
		map[string]string{"refreshToken": rotated.RefreshToken}, nil)
	if err != nil || code != http.StatusUnauthorized {
		log.Fatalf("lineage not revoked after replay: status=%d err=%v", code, err)
	}

	c.mustOK(ctx, http.MethodPost, "/account/sign-out", ownerPair.AccessToken, nil, nil)

	fmt.Printf("auth smoke test passed: company=%s owner=%s employee=%s\n", owner.CompanyID, owner.ID, emp.ID)
}
