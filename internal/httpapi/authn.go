package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// withAuth admits requests carrying a valid bearer token and stores the
// caller identity in the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		res := a.validator.Validate(raw)
		if !res.OK() {
			a.log.WithField("reason", res.Code()).Debug("bearer token rejected")
			w.Header().Set("WWW-Authenticate", `Bearer realm="authgate", error="invalid_token"`)
			writeFailure(w, r, res)
			return
		}
		claims := res.Data()
		ctx := auth.ContextWithUser(r.Context(), claims.Subject, claims.Email)
		ctx = auth.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
