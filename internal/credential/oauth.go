package credential

import (
	"context"
	"errors"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// definitiveRefreshFailure matches error text that means the credential can
// never be refreshed again and must be dropped from the pool, as opposed to
// a transient failure that only earns a temporary block.
var definitiveRefreshFailure = regexp.MustCompile(`(?i)invalid_grant|invalid_token|revoked|unauthorized|expired.*refresh|refresh.*expired`)

// OAuthRefresher performs the provider-specific HTTP exchange to refresh an
// access token. It is supplied by the caller per provider; the protocol
// details of any specific upstream are out of scope for this package.
type OAuthRefresher interface {
	Refresh(ctx context.Context, cred OAuthCredential) (OAuthCredential, error)
}

// OAuthRefresherFunc adapts a function to OAuthRefresher.
type OAuthRefresherFunc func(ctx context.Context, cred OAuthCredential) (OAuthCredential, error)

func (f OAuthRefresherFunc) Refresh(ctx context.Context, cred OAuthCredential) (OAuthCredential, error) {
	return f(ctx, cred)
}

// refreshOutcome classifies what happened to a refresh attempt.
type refreshOutcome int

const (
	refreshOK refreshOutcome = iota
	refreshTransient
	refreshDefinitive
)

// classifyRefreshError decides whether a refresh failure is transient
// (network, timeout, 5xx, or a 401/403 carrying network markers — block 5
// minutes and retry later) or definitive (invalid_grant and friends — the
// credential is unusable and must be pruned).
func classifyRefreshError(err error) refreshOutcome {
	if err == nil {
		return refreshOK
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return refreshTransient
	}

	msg := err.Error()
	if definitiveRefreshFailure.MatchString(msg) {
		return refreshDefinitive
	}

	var statusErr interface{ StatusCode() int }
	if errors.As(err, &statusErr) {
		code := statusErr.StatusCode()
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			return refreshDefinitive
		}
		if code >= 500 {
			return refreshTransient
		}
	}

	return refreshTransient
}

// Token converts the stored credential into the standard oauth2 shape,
// for refresher implementations built on an oauth2.TokenSource.
func (c OAuthCredential) Token() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken:  c.Access,
		RefreshToken: c.Refresh,
		TokenType:    "Bearer",
	}
	if c.ExpiresAtMs > 0 {
		tok.Expiry = time.UnixMilli(c.ExpiresAtMs)
	}
	return tok
}

// FromToken folds a refreshed oauth2 token back into the credential,
// preserving identity fields.
func (c OAuthCredential) FromToken(tok *oauth2.Token) OAuthCredential {
	out := c
	out.Access = tok.AccessToken
	if tok.RefreshToken != "" {
		out.Refresh = tok.RefreshToken
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresAtMs = tok.Expiry.UnixMilli()
	}
	return out
}

// nearExpiry reports whether an OAuth token should be refreshed before use.
const expiryMargin = 2 * time.Minute

func nearExpiry(cred OAuthCredential, clock Clock) bool {
	if cred.ExpiresAtMs == 0 {
		return false
	}
	return cred.ExpiresAtMs <= nowMs(clock)+expiryMargin.Milliseconds()
}

// oauthIdentities returns the priority-ordered identity strings for a
// credential: explicit account_id, then lowercased email, then identities
// parsed out of the access token JWT, then the refresh token JWT.
func oauthIdentities(cred OAuthCredential) []string {
	var out []string
	if id := strings.TrimSpace(cred.AccountID); id != "" {
		out = append(out, id)
	}
	if email := strings.ToLower(strings.TrimSpace(cred.Email)); email != "" {
		out = append(out, email)
	}
	out = append(out, extractJWTIdentities(cred.Access)...)
	out = append(out, extractJWTIdentities(cred.Refresh)...)
	return out
}

// dedupeOAuth walks credentials newest-first, keeping the first occurrence
// of any identity and dropping every later credential that shares one. It
// returns the surviving credentials in their original relative order plus
// whether anything was pruned.
func dedupeOAuth(creds []Credential) ([]Credential, bool) {
	seen := make(map[string]bool)
	keep := make([]bool, len(creds))

	for i := len(creds) - 1; i >= 0; i-- {
		c := creds[i]
		if c.Kind != KindOAuth || c.OAuth == nil {
			keep[i] = true
			continue
		}
		ids := oauthIdentities(*c.OAuth)
		if len(ids) == 0 {
			keep[i] = true
			continue
		}
		duplicate := false
		for _, id := range ids {
			if seen[id] {
				duplicate = true
			}
		}
		keep[i] = !duplicate
		for _, id := range ids {
			seen[id] = true
		}
	}

	pruned := false
	out := make([]Credential, 0, len(creds))
	for i, c := range creds {
		if keep[i] {
			out = append(out, c)
		} else {
			pruned = true
		}
	}
	return out, pruned
}
