package credential

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// jwtIdentityClaims captures the handful of claim names providers use to
// identify an OAuth principal. Unknown claims are ignored.
type jwtIdentityClaims struct {
	Email     string `json:"email,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	AccountID2 string `json:"accountId,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	jwt.RegisteredClaims
}

// extractJWTIdentities parses a JWT's claims without verifying its signature
// (we have no shared secret with an arbitrary upstream provider) and returns
// any identity-bearing claims found, in priority order: email, then
// account_id/accountId/user_id/sub. A malformed token yields no identities
// and never errors the caller.
func extractJWTIdentities(token string) []string {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	var claims jwtIdentityClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil
	}

	var out []string
	if email := strings.ToLower(strings.TrimSpace(claims.Email)); email != "" {
		out = append(out, email)
	}
	for _, id := range []string{claims.AccountID, claims.AccountID2, claims.UserID, claims.Subject} {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
