package authguard

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTGuard validates a bearer token's signature and audience against a
// configured issuer, grounded on tombee-conductor's
// internal/controller/auth/jwt.go ValidateJWT (parser leeway for clock
// skew, issuer/audience checks after parse). The OIDC/JWKS fetcher that
// resolves a key id to a verification key is a consumed collaborator
// per spec.md §1; JWTGuard only needs it behind the KeyFunc interface.
type JWTGuard struct {
	// KeyFunc resolves the verification key for a parsed, not-yet-verified
	// token, in the exact shape jwt.Parser expects. This is the boundary to
	// the OIDC/JWKS fetcher: a real deployment supplies a keyfunc backed by
	// a JWKS cache, tests supply a static key.
	KeyFunc jwt.Keyfunc

	Issuer    string
	Audience  string
	ClockSkew time.Duration
}

func (g *JWTGuard) clockSkew() time.Duration {
	if g.ClockSkew > 0 {
		return g.ClockSkew
	}
	return 5 * time.Minute
}

func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", NewError(FailureTokenSourceMissing, "missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", NewError(FailureExtractTokenFailed, "Authorization header is not a bearer token")
	}
	return parts[1], nil
}

// Evaluate implements Guard.
func (g *JWTGuard) Evaluate(r *http.Request) (any, error) {
	tokenString, err := extractBearerToken(r)
	if err != nil {
		return nil, err
	}

	parser := jwt.NewParser(jwt.WithLeeway(g.clockSkew()))
	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, claims, g.KeyFunc)
	if err != nil {
		return nil, NewError(FailureUnauthorised, "token verification failed: "+err.Error())
	}
	if !token.Valid {
		return nil, NewError(FailureUnauthorised, "token is invalid")
	}

	if g.Issuer != "" {
		iss, _ := claims.GetIssuer()
		if iss != g.Issuer {
			return nil, NewError(FailureForbidden, "unexpected issuer")
		}
	}
	if g.Audience != "" {
		aud, _ := claims.GetAudience()
		matched := false
		for _, a := range aud {
			if a == g.Audience {
				matched = true
				break
			}
		}
		if !matched {
			return nil, NewError(FailureForbidden, "unexpected audience")
		}
	}

	return map[string]any(claims), nil
}
