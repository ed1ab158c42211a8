// Package credential rotates API-key and OAuth credentials across providers,
// tracking usage and backoff state so callers always get a usable key.
package credential

import "time"

// Kind discriminates the two credential shapes. API keys and OAuth tokens for
// the same provider rotate independently of each other.
type Kind string

const (
	KindAPIKey Kind = "api_key"
	KindOAuth  Kind = "oauth"
)

// Credential is a tagged variant: exactly one of APIKey or OAuth is set,
// matching the Kind field. Modeling it as two optional pointers (rather than
// an interface hierarchy) keeps JSON round-tripping and SQLite persistence
// straightforward.
type Credential struct {
	// ID is the stable row identifier assigned by the store. Zero means
	// "not yet persisted".
	ID       int64
	Provider string
	Kind     Kind

	APIKey *APIKeyCredential
	OAuth  *OAuthCredential
}

// APIKeyCredential is a bare secret string.
type APIKeyCredential struct {
	Secret string
}

// OAuthCredential is a refreshable token pair plus optional identity hints
// used for deduplication.
type OAuthCredential struct {
	Access       string
	Refresh      string
	ExpiresAtMs  int64
	AccountID    string
	Email        string
	ProjectID    string
	EnterpriseURL string
}

// ProviderTypeKey is the unit of round-robin and backoff accounting: an
// OAuth pool and an API-key pool for the same provider never share rotation
// state.
type ProviderTypeKey struct {
	Provider string
	Kind     Kind
}

// LimitAmount describes one dimension of a usage limit.
type LimitAmount struct {
	Used             *float64
	Limit            *float64
	Remaining        *float64
	UsedFraction     *float64
	RemainingFraction *float64
	Unit             string // "percent", "tokens", "requests", ...
}

// LimitWindow describes when a limit resets.
type LimitWindow struct {
	ResetsAtMs *int64
	ResetInMs  *int64
}

// LimitScope narrows a limit to an account.
type LimitScope struct {
	AccountID string
}

// Limit is one quota dimension reported by a provider for a credential.
type Limit struct {
	ID     string
	Amount LimitAmount
	Window LimitWindow
	Scope  LimitScope
	Status string // e.g. "ok", "exhausted"
}

// UsageReport is a provider's point-in-time quota snapshot for a credential.
type UsageReport struct {
	Limits      []Limit
	Metadata    map[string]string // email, account_id, ...
	FetchedAtMs int64
	ExpiresAtMs int64
}

// Clock abstracts time.Now so selection and backoff logic can be tested
// deterministically.
type Clock func() time.Time

func defaultClock() time.Time { return time.Now() }

func nowMs(clock Clock) int64 {
	if clock == nil {
		clock = defaultClock
	}
	return clock().UnixMilli()
}
