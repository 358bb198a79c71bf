package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/DilyaSoft/Time-off-company-manager/internal/audit"
	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
)

// date accepts "2006-01-02" or an RFC 3339 timestamp.
type date struct {
	time.Time
}

func (d *date) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		d.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339Nano} {
		if t, err := time.Parse(layout, raw); err == nil {
			d.Time = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q", raw)
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type signUpRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	BirthDate   date   `json:"birthDate"`
	JobTitle    string `json:"jobTitle"`
	CompanyName string `json:"companyName"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type acceptInviteRequest struct {
	InviteID  string `json:"inviteId"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	BirthDate date   `json:"birthDate"`
	JobTitle  string `json:"jobTitle"`
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	BirthDate *date   `json:"birthDate"`
	JobTitle  *string `json:"jobTitle"`
}

type allowanceRequest struct {
	UserID       string `json:"userId"`
	TotalTimeOff *int   `json:"totalTimeOff"`
	TookTimeOff  *int   `json:"tookTimeOff"`
}

func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	res, err := a.svc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	fields := map[string]any{"email": strings.ToLower(strings.TrimSpace(req.Email)), "ip": clientIP(r)}
	if res.Success {
		_ = audit.LogEvent(r.Context(), audit.EventSignInSucceeded, fields)
	} else {
		_ = audit.LogEvent(r.Context(), audit.EventSignInFailed, fields)
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	pair, err := a.svc.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrRefreshReused) {
			_ = audit.LogEvent(r.Context(), audit.EventRefreshReused, map[string]any{"ip": clientIP(r)})
		}
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (a *API) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	acc, err := a.svc.SignUpOwner(r.Context(), auth.SignUpRequest{
		Email:       req.Email,
		Password:    req.Password,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		BirthDate:   req.BirthDate.Time,
		JobTitle:    req.JobTitle,
		CompanyName: req.CompanyName,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignUp, map[string]any{
		"account_id": acc.ID,
		"company_id": acc.CompanyID,
	})
	writeJSON(w, http.StatusOK, acc)
}

// handleIsInviteValid also reads the misspelled "emeil" parameter that older
// clients send. A missing address is just not a valid invite.
func (a *API) handleIsInviteValid(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := q.Get("email")
	if email == "" {
		email = q.Get("emeil")
	}
	ok, err := a.svc.IsInviteValid(r.Context(), email)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ok)
}

func (a *API) handleCreateInvite(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	inv, err := a.svc.CreateInvite(r.Context(), caller, req.Email, auth.Role(req.Role))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventInviteCreated, map[string]any{
		"invite_id":  inv.ID,
		"company_id": inv.CompanyID,
		"role":       string(inv.Role),
		"expires_at": inv.ExpiresAt.Format(time.RFC3339),
	})
	writeJSON(w, http.StatusCreated, inv)
}

func (a *API) handleAcceptInvite(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	acc, err := a.svc.AcceptInvite(r.Context(), auth.AcceptInviteRequest{
		InviteID:  req.InviteID,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		BirthDate: req.BirthDate.Time,
		JobTitle:  req.JobTitle,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventInviteAccepted, map[string]any{
		"account_id": acc.ID,
		"company_id": acc.CompanyID,
	})
	writeJSON(w, http.StatusOK, acc)
}

// handleGetAuthorized answers 200 in every resolution state. Anonymous and
// company-less callers get an empty body; the state is in X-Authorization-State.
func (a *API) handleGetAuthorized(w http.ResponseWriter, r *http.Request) {
	withCompany := false
	if raw := r.URL.Query().Get("withCompany"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "withCompany must be a boolean")
			return
		}
		withCompany = v
	}

	res, tokenErr := auth.ResolutionFromContext(r.Context())
	if token, ok := auth.TokenFromContext(r.Context()); ok && withCompany {
		res, tokenErr = a.svc.GetAuthorized(r.Context(), token, true)
	}
	if errors.Is(tokenErr, auth.ErrUnavailable) {
		writeAuthError(w, r, tokenErr)
		return
	}

	w.Header().Set(authStateHeader, string(res.State))
	if code := authErrorCode(tokenErr); code != "" {
		w.Header().Set(authErrorHeader, code)
	}
	if !res.Authorized() {
		w.WriteHeader(http.StatusOK)
		return
	}
	writeJSON(w, http.StatusOK, res.User)
}

func (a *API) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	upd := auth.ProfileUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		JobTitle:  req.JobTitle,
	}
	if req.BirthDate != nil {
		upd.BirthDate = &req.BirthDate.Time
	}
	acc, err := a.svc.UpdateProfile(r.Context(), caller, upd)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}
	if err := a.svc.SignOut(r.Context(), caller); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventSignOut, nil)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (a *API) handleUpdateAllowance(w http.ResponseWriter, r *http.Request) {
	caller := requireCaller(w, r)
	if caller == nil {
		return
	}
	var req allowanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.TotalTimeOff == nil || req.TookTimeOff == nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "totalTimeOff and tookTimeOff are required")
		return
	}
	fields := map[string]any{
		"target_id": req.UserID,
		"total":     *req.TotalTimeOff,
		"taken":     *req.TookTimeOff,
	}
	err := a.svc.UpdateAllowanceTimeOff(r.Context(), caller, req.UserID, *req.TotalTimeOff, *req.TookTimeOff)
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthorized) {
			_ = audit.LogEvent(r.Context(), audit.EventAllowanceRejected, fields)
		}
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventAllowanceUpdated, fields)
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
