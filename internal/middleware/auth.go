package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/go-chi/render"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

type authCtxKey int

const adminKey authCtxKey = 1

// Admin is the caller identity supplied by the organization's auth system.
type Admin struct {
	OrgID   string
	Subject string
}

// NewAdminAuth builds the HS256 verifier for admin bearer tokens.
func NewAdminAuth(secret string) *jwtauth.JWTAuth {
	return jwtauth.New("HS256", []byte(secret), nil, jwt.WithAcceptableSkew(30*time.Second))
}

// SignAdminToken issues an admin token, for tooling and tests.
func SignAdminToken(ja *jwtauth.JWTAuth, orgID, subject string, ttl time.Duration) (string, error) {
	claims := map[string]interface{}{"org_id": orgID, "sub": subject}
	jwtauth.SetIssuedNow(claims)
	jwtauth.SetExpiryIn(claims, ttl)
	_, tok, err := ja.Encode(claims)
	return tok, err
}

// RequireAdmin verifies the bearer token and rejects requests without an
// org_id claim.
func RequireAdmin(ja *jwtauth.JWTAuth) func(http.Handler) http.Handler {
	verify := jwtauth.Verifier(ja)
	return func(next http.Handler) http.Handler {
		return verify(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, claims, err := jwtauth.FromContext(r.Context())
			if err != nil || token == nil {
				unauthorized(w, r)
				return
			}
			org, _ := claims["org_id"].(string)
			if org == "" {
				unauthorized(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), adminKey, &Admin{OrgID: org, Subject: token.Subject()})
			next.ServeHTTP(w, r.WithContext(ctx))
		}))
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusUnauthorized)
	render.JSON(w, r, map[string]string{"error": "unauthorized", "message": "admin authentication required"})
}

func AdminFromContext(ctx context.Context) (*Admin, bool) {
	a, ok := ctx.Value(adminKey).(*Admin)
	return a, ok && a != nil
}

func OrgIDFromContext(ctx context.Context) (string, bool) {
	if a, ok := AdminFromContext(ctx); ok && a.OrgID != "" {
		return a.OrgID, true
	}
	return "", false
}
