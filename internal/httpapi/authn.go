package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/DilyaSoft/Time-off-company-manager/internal/auth"
)

const (
	authHeader      = "Authorization"
	bearer          = "Bearer "
	authStateHeader = "X-Authorization-State"
	authErrorHeader = "X-Authorization-Error"
)

// withAuth resolves the bearer token, if any, and attaches the resolution to
// the request. It never rejects; handlers that need a caller use requireCaller.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		header := r.Header.Get(authHeader)
		if strings.TrimSpace(header) == "" {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(header)
		if err != nil {
			ctx = auth.ContextWithResolution(ctx, auth.Resolution{State: auth.StateAnonymous}, err)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		res, err := a.svc.GetAuthorized(ctx, token, false)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = auth.ContextWithResolution(ctx, res, err)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireCaller returns the resolved caller or writes a 401 (or 503 when the
// store could not be reached) and returns nil.
func requireCaller(w http.ResponseWriter, r *http.Request) *auth.AuthorizedUser {
	res, err := auth.ResolutionFromContext(r.Context())
	if res.Authorized() {
		return res.User
	}
	if err == nil {
		err = auth.ErrNotAuthenticated
	}
	writeAuthError(w, r, err)
	return nil
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.Join(auth.ErrTokenMalformed, errors.New("invalid authorization scheme"))
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.Join(auth.ErrTokenMalformed, errors.New("missing bearer token"))
	}
	return token, nil
}

// authErrorCode names a token failure for the X-Authorization-Error header.
func authErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, auth.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, auth.ErrInvalidToken):
		return "token_invalid"
	default:
		return ""
	}
}
