package credential

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

// fixedClock returns a controllable clock.
type fixedClock struct {
	now time.Time
}

func (c *fixedClock) clock() Clock {
	return func() time.Time { return c.now }
}

func (c *fixedClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestClock() *fixedClock {
	return &fixedClock{now: time.Unix(1_700_000_000, 0)}
}

func apiKey(secret string) Credential {
	return Credential{Kind: KindAPIKey, APIKey: &APIKeyCredential{Secret: secret}}
}

func oauthCred(access, refresh string) Credential {
	return Credential{Kind: KindOAuth, OAuth: &OAuthCredential{Access: access, Refresh: refresh}}
}

func TestFNVDeterminism(t *testing.T) {
	// Cross-check the stdlib-backed index against the published FNV-1a
	// constants computed by hand.
	manual := func(s string, n int) int {
		var h uint32 = 2166136261
		for i := 0; i < len(s); i++ {
			h ^= uint32(s[i])
			h *= 16777619
		}
		return int(h % uint32(n))
	}

	for _, s := range []string{"session-X", "", "another", "日本語"} {
		for _, n := range []int{1, 3, 7, 100} {
			if got, want := fnv1aIndex(s, n), manual(s, n); got != want {
				t.Errorf("fnv1aIndex(%q, %d) = %d, want %d", s, n, got, want)
			}
		}
	}
	if got := fnv1aIndex("x", 0); got != 0 {
		t.Errorf("n=0 should clamp to 0, got %d", got)
	}
}

func TestResolveKeyRuntimeOverrideWins(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.StoreCredentials("prov", []Credential{apiKey("stored")})
	p.SetRuntimeOverride("prov", "override-key")

	key, ok := p.ResolveKey(context.Background(), "prov", "", "")
	if !ok || key != "override-key" {
		t.Fatalf("key = %q, ok = %v", key, ok)
	}

	p.ClearRuntimeOverride("prov")
	key, _ = p.ResolveKey(context.Background(), "prov", "", "")
	if key != "stored" {
		t.Fatalf("after clear key = %q", key)
	}
}

func TestResolveKeyPrefersAPIKeyOverOAuth(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.StoreCredentials("prov", []Credential{
		oauthCred("oauth-access", "r"),
		apiKey("plain-key"),
	})

	key, ok := p.ResolveKey(context.Background(), "prov", "s1", "")
	if !ok || key != "plain-key" {
		t.Fatalf("key = %q, ok = %v", key, ok)
	}
}

func TestRoundRobinFairness(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	n := 3
	creds := make([]Credential, n)
	for i := range creds {
		creds[i] = apiKey(fmt.Sprintf("key-%d", i))
	}
	p.StoreCredentials("prov", creds)

	counts := map[string]int{}
	k := 4
	for i := 0; i < k*n; i++ {
		key, ok := p.ResolveKey(context.Background(), "prov", "", "")
		if !ok {
			t.Fatal("no key")
		}
		counts[key]++
	}
	for i := 0; i < n; i++ {
		if got := counts[fmt.Sprintf("key-%d", i)]; got != k {
			t.Errorf("key-%d selected %d times, want %d", i, got, k)
		}
	}
}

func TestSessionStickySelection(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.StoreCredentials("prov", []Credential{apiKey("k0"), apiKey("k1"), apiKey("k2")})

	first, ok := p.ResolveKey(context.Background(), "prov", "session-X", "")
	if !ok {
		t.Fatal("no key")
	}
	for i := 0; i < 10; i++ {
		key, _ := p.ResolveKey(context.Background(), "prov", "session-X", "")
		if key != first {
			t.Fatalf("call %d returned %q, sticky was %q", i, key, first)
		}
	}
}

func TestMarkUsageExhaustedRotates(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	p.StoreCredentials("openai-codex", []Credential{
		oauthCred("tok-0", ""), oauthCred("tok-1", ""), oauthCred("tok-2", ""),
	})

	session := "S1"
	first, ok := p.ResolveKey(context.Background(), "openai-codex", session, "")
	if !ok {
		t.Fatal("no key")
	}

	if remaining := p.MarkUsageExhausted("openai-codex", session, 0); !remaining {
		t.Fatal("two credentials should remain")
	}

	second, ok := p.ResolveKey(context.Background(), "openai-codex", session, "")
	if !ok {
		t.Fatal("no key after rotation")
	}
	if second == first {
		t.Fatalf("still on blocked credential %q", second)
	}

	// The block honors the default 60s backoff: advancing past it makes
	// the original credential selectable again.
	clk.advance(61 * time.Second)
	p.MarkUsageExhausted("openai-codex", session, 0) // block the fallback too
	third, _ := p.ResolveKey(context.Background(), "openai-codex", session, "")
	if third == second {
		t.Fatalf("expected rotation off %q", second)
	}
}

func TestMarkUsageExhaustedWithoutAffinity(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.StoreCredentials("prov", []Credential{oauthCred("a", "")})
	if p.MarkUsageExhausted("prov", "never-seen", 0) {
		t.Fatal("session without prior credential should report false")
	}
}

func TestAllBlockedReturnsStartingCandidate(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	p.StoreCredentials("prov", []Credential{apiKey("k0"), apiKey("k1")})

	// Block everything far into the future.
	until := clk.now.Add(time.Hour).UnixMilli()
	key := ProviderTypeKey{Provider: "prov", Kind: KindAPIKey}
	p.blockLocked(key, 0, until)
	p.blockLocked(key, 1, until)

	got, ok := p.ResolveKey(context.Background(), "prov", "session-X", "")
	if !ok || got == "" {
		t.Fatal("caller should still get some key when everything is blocked")
	}
}

func TestBlockedEntryLazilyPurged(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	key := ProviderTypeKey{Provider: "prov", Kind: KindAPIKey}
	p.blockLocked(key, 0, clk.now.Add(time.Second).UnixMilli())

	if !p.isBlockedLocked(key, 0, nowMs(clk.clock())) {
		t.Fatal("should be blocked now")
	}
	clk.advance(2 * time.Second)
	if p.isBlockedLocked(key, 0, nowMs(clk.clock())) {
		t.Fatal("past-deadline entry should read as absent")
	}
	if _, ok := p.blocked[key][0]; ok {
		t.Error("stale entry should be purged on read")
	}
}

func TestEnvFallback(t *testing.T) {
	t.Setenv("MY_PROV_API_KEY", "from-env")
	p := NewPool(newTestClock().clock(), nil)

	key, ok := p.ResolveKey(context.Background(), "my-prov", "", "")
	if !ok || key != "from-env" {
		t.Fatalf("key = %q, ok = %v", key, ok)
	}
	if !p.HasAuth("my-prov") {
		t.Error("HasAuth should see the env var")
	}
}

func TestUserResolverFallback(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.SetUserResolver(func(provider string) (string, bool) {
		if provider == "custom" {
			return "from-resolver", true
		}
		return "", false
	})

	key, ok := p.ResolveKey(context.Background(), "custom", "", "")
	if !ok || key != "from-resolver" {
		t.Fatalf("key = %q, ok = %v", key, ok)
	}
	if _, ok := p.ResolveKey(context.Background(), "other", "", ""); ok {
		t.Error("unknown provider without any source should be absent")
	}
}

func TestDefinitiveRefreshFailureRemovesCredential(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	creds := []Credential{
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-0", ExpiresAtMs: clk.now.UnixMilli()}},
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-1"}},
	}
	p.StoreCredentials("prov", creds)
	p.RegisterRefresher("prov", OAuthRefresherFunc(func(ctx context.Context, c OAuthCredential) (OAuthCredential, error) {
		if c.Access == "tok-0" {
			return OAuthCredential{}, errors.New("oauth server said: invalid_grant")
		}
		return c, nil
	}))

	var deleted []int64
	p.SetPersistence(nil, func(id int64) error {
		deleted = append(deleted, id)
		return nil
	})

	key, ok := p.ResolveKey(context.Background(), "prov", "", "")
	if !ok {
		t.Fatal("selection should fall through to the surviving credential")
	}
	if key != "tok-1" {
		t.Fatalf("key = %q, want tok-1", key)
	}
	if n := len(p.buckets["prov"][KindOAuth]); n != 1 {
		t.Fatalf("pool size = %d, want 1 after definitive failure", n)
	}
	if len(deleted) != 1 {
		t.Errorf("persistence hook fired %d times, want 1", len(deleted))
	}
}

func TestTransientRefreshFailureBlocksFiveMinutes(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	p.StoreCredentials("prov", []Credential{
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-0", ExpiresAtMs: clk.now.UnixMilli()}},
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-1"}},
	})
	p.RegisterRefresher("prov", OAuthRefresherFunc(func(ctx context.Context, c OAuthCredential) (OAuthCredential, error) {
		if c.Access == "tok-0" {
			return OAuthCredential{}, errors.New("connection reset by peer")
		}
		return c, nil
	}))

	key, ok := p.ResolveKey(context.Background(), "prov", "", "")
	if !ok || key != "tok-1" {
		t.Fatalf("key = %q, ok = %v", key, ok)
	}
	if n := len(p.buckets["prov"][KindOAuth]); n != 2 {
		t.Fatalf("transient failure must not delete, pool size = %d", n)
	}
	blocked := p.blocked[ProviderTypeKey{Provider: "prov", Kind: KindOAuth}]
	until, ok := blocked[0]
	if !ok {
		t.Fatal("credential 0 should be blocked")
	}
	want := clk.now.Add(5 * time.Minute).UnixMilli()
	if until != want {
		t.Errorf("blocked until %d, want %d", until, want)
	}
}

func TestUsageProbeBlocksExhaustedCredential(t *testing.T) {
	clk := newTestClock()
	p := NewPool(clk.clock(), nil)
	p.StoreCredentials("prov", []Credential{
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-0", AccountID: "a0"}},
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "tok-1", AccountID: "a1"}},
	})

	used := 1.0
	resetAt := clk.now.Add(30 * time.Minute).UnixMilli()
	p.RegisterUsageProbe("prov", UsageProbeFunc(func(c Credential) (UsageReport, error) {
		if c.OAuth.Access == "tok-0" {
			return UsageReport{Limits: []Limit{{
				ID:     "primary",
				Amount: LimitAmount{UsedFraction: &used},
				Window: LimitWindow{ResetsAtMs: &resetAt},
			}}}, nil
		}
		return UsageReport{}, nil
	}))

	// session-X hashes somewhere; force start at 0 via round-robin.
	key, ok := p.ResolveKey(context.Background(), "prov", "", "")
	if !ok {
		t.Fatal("no key")
	}
	if key != "tok-1" {
		t.Fatalf("key = %q, want probe to skip exhausted tok-0", key)
	}

	blocked := p.blocked[ProviderTypeKey{Provider: "prov", Kind: KindOAuth}]
	if until := blocked[0]; until != resetAt {
		t.Errorf("blocked until %d, want report reset %d", until, resetAt)
	}
}

func TestUsageProbeFailureIsNoData(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	p.StoreCredentials("prov", []Credential{
		oauthCred("tok-0", ""), oauthCred("tok-1", ""),
	})
	p.RegisterUsageProbe("prov", UsageProbeFunc(func(Credential) (UsageReport, error) {
		return UsageReport{}, errors.New("probe http 503")
	}))

	key, ok := p.ResolveKey(context.Background(), "prov", "", "")
	if !ok || key == "" {
		t.Fatal("probe failure must never block selection")
	}
	if n := len(p.buckets["prov"][KindOAuth]); n != 2 {
		t.Fatal("probe failure must never drop credentials")
	}
}

func TestStoreCredentialsAssignsIDsAndDedupes(t *testing.T) {
	p := NewPool(newTestClock().clock(), nil)
	stored := p.StoreCredentials("prov", []Credential{
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "t0", Email: "User@Example.com"}},
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "t1", Email: "user@example.com"}},
		{Kind: KindOAuth, OAuth: &OAuthCredential{Access: "t2", Email: "other@example.com"}},
	})

	if len(stored) != 2 {
		t.Fatalf("stored %d credentials, want 2 after dedup", len(stored))
	}
	for _, c := range stored {
		if c.ID == 0 {
			t.Error("stored credential without id")
		}
	}

	// Idempotence: storing the surviving set again changes nothing.
	again := p.StoreCredentials("prov", stored)
	if len(again) != 2 {
		t.Fatalf("second store = %d credentials", len(again))
	}
}
