package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
	"github.com/DilyaSoft/Time-off-company-manager/internal/obs"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

// writeAuthError maps session errors onto status codes. Order matters: the
// token errors wrap ErrInvalidToken.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, r, http.StatusConflict, "duplicate_email", "an account with this email already exists")
	case errors.Is(err, auth.ErrInviteNotFound):
		writeError(w, r, http.StatusNotFound, "invite_not_found", "invite not found")
	case errors.Is(err, auth.ErrInviteExpired):
		writeError(w, r, http.StatusGone, "invite_expired", "invite has expired")
	case errors.Is(err, auth.ErrInviteAlreadyUsed):
		writeError(w, r, http.StatusConflict, "invite_used", "invite has already been used")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, auth.ErrNotAuthenticated):
		writeUnauthorized(w, r, "not_authenticated", "authentication required")
	case errors.Is(err, auth.ErrTokenExpired):
		writeUnauthorized(w, r, "token_expired", "access token expired")
	case errors.Is(err, auth.ErrInvalidToken):
		writeUnauthorized(w, r, "token_invalid", "access token invalid")
	case errors.Is(err, auth.ErrRefreshReused):
		writeUnauthorized(w, r, "refresh_reused", "refresh token reuse detected; sign in again")
	case errors.Is(err, auth.ErrRefreshExpired):
		writeUnauthorized(w, r, "refresh_expired", "refresh token expired")
	case errors.Is(err, auth.ErrRefreshRevoked):
		writeUnauthorized(w, r, "refresh_revoked", "refresh token revoked")
	case errors.Is(err, auth.ErrRefreshNotFound):
		writeUnauthorized(w, r, "refresh_invalid", "refresh token invalid")
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeUnauthorized(w, r, "invalid_credentials", auth.SignInFailedMessage)
	case errors.Is(err, auth.ErrNotAuthorized):
		writeError(w, r, http.StatusForbidden, "not_authorized", "not authorized")
	case errors.Is(err, auth.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		w.Header().Set("Retry-After", "1")
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable")
	default:
		obs.Logger().ErrorContext(r.Context(), "unhandled error",
			"error", err,
			"path", r.URL.Path,
			"request_id", RequestIDFromContext(r.Context()),
		)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeUnauthorized(w http.ResponseWriter, r *http.Request, code, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="`+code+`"`)
	writeError(w, r, http.StatusUnauthorized, code, msg)
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
}
