package auth

import "context"

type resolutionContextKey struct{}
type tokenContextKey struct{}

type resolved struct {
	res Resolution
	err error
}

// ContextWithResolution attaches the resolved caller and the token error, if any.
func ContextWithResolution(ctx context.Context, res Resolution, tokenErr error) context.Context {
	return context.WithValue(ctx, resolutionContextKey{}, &resolved{res: res, err: tokenErr})
}

// ResolutionFromContext returns the resolution attached by ContextWithResolution.
// Without one the caller is anonymous.
func ResolutionFromContext(ctx context.Context) (Resolution, error) {
	if ctx == nil {
		return Resolution{State: StateAnonymous}, nil
	}
	v, ok := ctx.Value(resolutionContextKey{}).(*resolved)
	if !ok || v == nil {
		return Resolution{State: StateAnonymous}, nil
	}
	return v.res, v.err
}

// CallerFromContext returns the authorized caller, or nil.
func CallerFromContext(ctx context.Context) *AuthorizedUser {
	res, _ := ResolutionFromContext(ctx)
	if !res.Authorized() {
		return nil
	}
	return res.User
}

// UserIDFromContext returns the authorized caller's account id.
func UserIDFromContext(ctx context.Context) (string, bool) {
	u := CallerFromContext(ctx)
	if u == nil {
		return "", false
	}
	return u.ID, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
