package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pesio-ai/be-plot-transfers/internal/platform/errors"
	"github.com/pesio-ai/be-plot-transfers/internal/workflow"
)

// Gateway headers trusted when no JWT secret is configured.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// AuthConfig controls actor resolution.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens. When empty the gateway headers
	// are trusted instead.
	JWTSecret string
	// JWTIssuer, when set, must match the token's iss claim.
	JWTIssuer string
}

type actorKey struct{}

type actorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// ActorFromContext returns the actor resolved by the auth middleware. The
// zero Actor means the request is anonymous.
func ActorFromContext(ctx context.Context) workflow.Actor {
	a, _ := ctx.Value(actorKey{}).(workflow.Actor)
	return a
}

// authenticate resolves the acting user and stores it on the request context.
// A malformed or invalid bearer token is rejected; a missing one leaves the
// request anonymous.
func (h *HTTPHandler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := h.resolveActor(r)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

func (h *HTTPHandler) resolveActor(r *http.Request) (workflow.Actor, error) {
	if h.auth.JWTSecret == "" {
		return workflow.Actor{
			ID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Role: strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		}, nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return workflow.Actor{}, nil
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, "authorization header must be a bearer token")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if h.auth.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(h.auth.JWTIssuer))
	}

	var claims actorClaims
	_, err := jwt.ParseWithClaims(strings.TrimSpace(token), &claims, func(*jwt.Token) (any, error) {
		return []byte(h.auth.JWTSecret), nil
	}, opts...)
	if err != nil {
		return workflow.Actor{}, errors.Wrap(err, errors.ErrCodeUnauthorized, "invalid bearer token")
	}
	if claims.Subject == "" {
		return workflow.Actor{}, errors.New(errors.ErrCodeUnauthorized, "bearer token has no subject")
	}

	return workflow.Actor{ID: claims.Subject, Role: strings.ToUpper(claims.Role)}, nil
}
