package credential

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/relaycore/relaycore/internal/backoff"
	"github.com/relaycore/relaycore/internal/observability"
)

// EnvKeyResolver is the last-resort fallback: an environment variable, then
// a caller-supplied resolver callback.
type EnvKeyResolver func(provider string) (string, bool)

// Pool rotates credentials for every provider it has been told about.
// Mutable state is guarded per instance; callers that need ordering
// across calls serialize at the call-site.
type Pool struct {
	mu sync.Mutex

	clock  Clock
	logger *slog.Logger

	// buckets[provider][kind] is insertion-ordered; insertion order is the
	// fallback rotation order when no usage history exists.
	buckets map[string]map[Kind][]Credential

	roundRobin map[ProviderTypeKey]int
	affinity   map[string]map[string]stickyChoice // session -> provider -> choice
	blocked    map[ProviderTypeKey]map[int]int64   // index -> epoch_ms

	overrides map[string]string // provider -> runtime key override

	usage      *usageCache
	usageProbe map[string]UsageProbe
	refresher  map[string]OAuthRefresher

	envResolver  EnvKeyResolver
	userResolver EnvKeyResolver

	metrics *observability.Metrics

	// Persistence hooks, fired after in-memory mutation. Failures are
	// logged, never propagated into selection.
	onUpdate func(Credential) error
	onDelete func(id int64) error

	nextID int64
}

// SetPersistence wires the store callbacks fired when a refresh rewrites
// a credential or a definitive failure removes one.
func (p *Pool) SetPersistence(onUpdate func(Credential) error, onDelete func(id int64) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUpdate = onUpdate
	p.onDelete = onDelete
}

// SetMetrics wires the selection counters; nil disables them.
func (p *Pool) SetMetrics(m *observability.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

func (p *Pool) countSelection(provider, outcome string) {
	if p.metrics != nil {
		p.metrics.CredentialSelections.WithLabelValues(provider, outcome).Inc()
	}
}

type stickyChoice struct {
	kind  Kind
	index int
}

// NewPool builds an empty credential pool. clock may be nil to use the
// system wall clock.
func NewPool(clock Clock, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		clock:      clock,
		logger:     logger,
		buckets:    make(map[string]map[Kind][]Credential),
		roundRobin: make(map[ProviderTypeKey]int),
		affinity:   make(map[string]map[string]stickyChoice),
		blocked:    make(map[ProviderTypeKey]map[int]int64),
		overrides:  make(map[string]string),
		usage:      newUsageCache(clock),
		usageProbe: make(map[string]UsageProbe),
		refresher:  make(map[string]OAuthRefresher),
		envResolver: func(provider string) (string, bool) {
			v, ok := os.LookupEnv(envVarName(provider))
			return v, ok && v != ""
		},
	}
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

func envVarName(provider string) string {
	return strings.ToUpper(strings.Trim(nonAlnum.ReplaceAllString(provider, "_"), "_")) + "_API_KEY"
}

// RegisterUsageProbe wires a usage-report fetcher for a provider's OAuth
// pool. Providers without one registered skip the usage-probe step of
// selection entirely.
func (p *Pool) RegisterUsageProbe(provider string, probe UsageProbe) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.usageProbe[provider] = probe
}

// RegisterRefresher wires the OAuth refresh implementation for a provider.
func (p *Pool) RegisterRefresher(provider string, refresher OAuthRefresher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresher[provider] = refresher
}

// SetUserResolver installs the final fallback callback consulted after the
// environment variable lookup fails.
func (p *Pool) SetUserResolver(resolver EnvKeyResolver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userResolver = resolver
}

// StoreCredentials replaces the full credential list for a provider,
// assigning stable ids, and returns the stored list. OAuth dedup runs
// immediately after insertion.
func (p *Pool) StoreCredentials(provider string, creds []Credential) []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()

	byKind := make(map[Kind][]Credential)
	for _, c := range creds {
		c.Provider = provider
		if c.ID == 0 {
			p.nextID++
			c.ID = p.nextID
		}
		byKind[c.Kind] = append(byKind[c.Kind], c)
	}

	if oauthCreds, ok := byKind[KindOAuth]; ok {
		deduped, pruned := dedupeOAuth(oauthCreds)
		byKind[KindOAuth] = deduped
		if pruned {
			p.resetRotationLocked(provider, KindOAuth)
		}
	}

	if p.buckets[provider] == nil {
		p.buckets[provider] = make(map[Kind][]Credential)
	}
	for kind, list := range byKind {
		p.buckets[provider][kind] = list
	}

	out := make([]Credential, 0, len(creds))
	for _, list := range byKind {
		out = append(out, list...)
	}
	return out
}

// ListProviders returns every provider with at least one stored credential.
func (p *Pool) ListProviders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.buckets))
	for provider := range p.buckets {
		out = append(out, provider)
	}
	return out
}

// HasAuth reports whether a provider has any usable credential source:
// a stored credential, a runtime override, or an environment variable.
func (p *Pool) HasAuth(provider string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.overrides[provider]; ok {
		return true
	}
	for _, list := range p.buckets[provider] {
		if len(list) > 0 {
			return true
		}
	}
	_, ok := p.envResolver(provider)
	return ok
}

// SetRuntimeOverride installs a non-persistent key that wins selection
// unconditionally until cleared.
func (p *Pool) SetRuntimeOverride(provider, key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[provider] = key
}

// ClearRuntimeOverride removes a previously set override.
func (p *Pool) ClearRuntimeOverride(provider string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.overrides, provider)
}

func (p *Pool) resetRotationLocked(provider string, kind Kind) {
	key := ProviderTypeKey{Provider: provider, Kind: kind}
	delete(p.roundRobin, key)
	delete(p.blocked, key)
}

// fnv1aIndex maps a session id onto a credential index with 32-bit
// FNV-1a, so any two processes agree on the sticky assignment
// bit-for-bit.
func fnv1aIndex(sessionID string, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return int(h.Sum32() % uint32(n))
}

// ResolveKey returns a usable API key for provider, preferring a
// session-sticky credential when session is non-empty. It never errors;
// absence is communicated by (value, false).
func (p *Pool) ResolveKey(ctx context.Context, provider, session, baseURL string) (string, bool) {
	ctx, span := observability.StartSpan(ctx, "credential.resolve_key")
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	if override, ok := p.overrides[provider]; ok {
		p.countSelection(provider, "override")
		return override, true
	}

	if key, ok := p.selectLocked(ctx, provider, session, KindAPIKey); ok {
		p.countSelection(provider, "hit")
		return key, true
	}
	if key, ok := p.selectLocked(ctx, provider, session, KindOAuth); ok {
		p.countSelection(provider, "hit")
		return key, true
	}

	if key, ok := p.envResolver(provider); ok {
		p.countSelection(provider, "env")
		return key, true
	}
	if p.userResolver != nil {
		if key, ok := p.userResolver(provider); ok {
			p.countSelection(provider, "resolver")
			return key, true
		}
	}
	p.countSelection(provider, "absent")
	return "", false
}

func (p *Pool) selectLocked(ctx context.Context, provider, session string, kind Kind) (string, bool) {
	list := p.buckets[provider][kind]
	n := len(list)
	if n == 0 {
		return "", false
	}

	key := ProviderTypeKey{Provider: provider, Kind: kind}
	start := p.startIndexLocked(key, session, n)

	if key2, ok := p.walkLocked(ctx, provider, kind, start, n, session, true); ok {
		return key2, true
	}
	// Every candidate blocked: retry the starting index without the skip
	// filter so the caller gets some key rather than none.
	if key2, ok := p.walkLocked(ctx, provider, kind, start, n, session, false); ok {
		return key2, true
	}
	return "", false
}

func (p *Pool) startIndexLocked(key ProviderTypeKey, session string, n int) int {
	if session != "" {
		if byProvider, ok := p.affinity[session]; ok {
			if choice, ok := byProvider[key.Provider]; ok && choice.kind == key.Kind && choice.index < n {
				return choice.index
			}
		}
		return fnv1aIndex(session, n)
	}
	idx := p.roundRobin[key] % n
	p.roundRobin[key] = (idx + 1) % n
	return idx
}

// walkLocked walks the circular order starting at start, honoring skip for
// blocked entries, refreshing near-expiry OAuth tokens and consulting the
// usage probe. It mutates p.buckets in place (refresh, removal) and returns
// the first usable key, or ("", false) if none qualified.
func (p *Pool) walkLocked(ctx context.Context, provider string, kind Kind, start, n int, session string, honorSkip bool) (string, bool) {
	key := ProviderTypeKey{Provider: provider, Kind: kind}
	now := nowMs(p.clock)

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		list := p.buckets[provider][kind]
		if idx >= len(list) {
			continue
		}

		if honorSkip && p.isBlockedLocked(key, idx, now) {
			continue
		}

		cred := list[idx]

		if kind == KindOAuth {
			if removed := p.probeUsageLocked(provider, idx, now); removed {
				// index shifted; restart the walk from scratch over the
				// (shrunk) list using the same start heuristic.
				return p.selectLocked(ctx, provider, session, kind)
			}
			if honorSkip && p.isBlockedLocked(key, idx, now) {
				continue
			}

			refreshed, outcome := p.maybeRefreshLocked(ctx, provider, idx)
			switch outcome {
			case refreshDefinitive:
				p.removeLocked(provider, kind, idx)
				return p.selectLocked(ctx, provider, session, kind)
			case refreshTransient:
				p.blockLocked(key, idx, now+backoff.TransientCredentialBlock.Milliseconds())
				continue
			}
			cred = refreshed
		}

		var out string
		switch kind {
		case KindAPIKey:
			if cred.APIKey == nil {
				continue
			}
			out = cred.APIKey.Secret
		case KindOAuth:
			if cred.OAuth == nil {
				continue
			}
			out = cred.OAuth.Access
		}
		if out == "" {
			continue
		}

		if session != "" {
			p.setAffinityLocked(session, provider, kind, idx)
		}
		return out, true
	}
	return "", false
}

func (p *Pool) isBlockedLocked(key ProviderTypeKey, idx int, now int64) bool {
	until, ok := p.blocked[key][idx]
	if !ok {
		return false
	}
	if until <= now {
		delete(p.blocked[key], idx)
		return false
	}
	return true
}

func (p *Pool) blockLocked(key ProviderTypeKey, idx int, untilMs int64) {
	if p.blocked[key] == nil {
		p.blocked[key] = make(map[int]int64)
	}
	p.blocked[key][idx] = untilMs
}

func (p *Pool) setAffinityLocked(session, provider string, kind Kind, idx int) {
	if p.affinity[session] == nil {
		p.affinity[session] = make(map[string]stickyChoice)
	}
	p.affinity[session][provider] = stickyChoice{kind: kind, index: idx}
}

// probeUsageLocked consults the registered usage probe (when present and
// n>1) and, if the report shows exhaustion, records a block with the
// report's reset time. A still-valid cached report is used instead of a
// fresh probe. Probe failures are swallowed. Returns true if the
// credential was removed outright (never happens from a probe: probes only
// block, they don't delete — kept for symmetry with the refresh path).
func (p *Pool) probeUsageLocked(provider string, idx int, now int64) bool {
	probe := p.usageProbe[provider]
	list := p.buckets[provider][KindOAuth]
	if probe == nil || len(list) <= 1 || idx >= len(list) {
		return false
	}
	cred := list[idx]
	identity := credentialIdentity(cred)

	report, cached := p.usage.get(provider, identity)
	if !cached {
		var err error
		report, err = probe.Probe(cred)
		if err != nil {
			p.logger.Warn("usage probe failed", "provider", provider, "error", err)
			return false
		}
		if report.ExpiresAtMs > 0 {
			p.usage.set(provider, identity, report)
		}
	}

	exhausted, resetAt := reportExhausted(report, now)
	if exhausted {
		p.blockLocked(ProviderTypeKey{Provider: provider, Kind: KindOAuth}, idx, resetAt)
	}
	return false
}

// credentialIdentity picks the cache key for a credential's usage
// reports: its strongest identity string, falling back to the raw token.
func credentialIdentity(c Credential) string {
	if c.OAuth != nil {
		if ids := oauthIdentities(*c.OAuth); len(ids) > 0 {
			return ids[0]
		}
		return c.OAuth.Access
	}
	if c.APIKey != nil {
		return c.APIKey.Secret
	}
	return ""
}

func (p *Pool) maybeRefreshLocked(ctx context.Context, provider string, idx int) (Credential, refreshOutcome) {
	list := p.buckets[provider][KindOAuth]
	cred := list[idx]
	if cred.OAuth == nil || !nearExpiry(*cred.OAuth, p.clock) {
		return cred, refreshOK
	}

	refresher := p.refresher[provider]
	if refresher == nil {
		return cred, refreshOK
	}

	refreshCtx, span := observability.StartSpan(ctx, "credential.oauth_refresh")
	refreshed, err := refresher.Refresh(refreshCtx, *cred.OAuth)
	span.End()
	if err != nil {
		outcome := classifyRefreshError(err)
		if p.metrics != nil {
			label := "transient"
			if outcome == refreshDefinitive {
				label = "definitive"
			}
			p.metrics.CredentialRefreshes.WithLabelValues(provider, label).Inc()
		}
		return cred, outcome
	}
	if p.metrics != nil {
		p.metrics.CredentialRefreshes.WithLabelValues(provider, "ok").Inc()
	}

	cred.OAuth = &refreshed
	list[idx] = cred
	p.buckets[provider][KindOAuth] = list
	if p.onUpdate != nil {
		if err := p.onUpdate(cred); err != nil {
			p.logger.Warn("persist refreshed credential", "provider", provider, "error", err)
		}
	}
	return cred, refreshOK
}

func (p *Pool) removeLocked(provider string, kind Kind, idx int) {
	list := p.buckets[provider][kind]
	if idx >= len(list) {
		return
	}
	removed := list[idx]
	p.buckets[provider][kind] = append(list[:idx], list[idx+1:]...)
	p.resetRotationLocked(provider, kind)
	if p.onDelete != nil && removed.ID != 0 {
		if err := p.onDelete(removed.ID); err != nil {
			p.logger.Warn("persist credential removal", "provider", provider, "error", err)
		}
	}
}

// MarkUsageExhausted blocks session's last-used credential for provider and
// reports whether another candidate remains. Returns false if the session
// had no prior credential for this provider.
func (p *Pool) MarkUsageExhausted(provider, session string, retryAfterMs int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	byProvider, ok := p.affinity[session]
	if !ok {
		return false
	}
	choice, ok := byProvider[provider]
	if !ok {
		return false
	}

	until := retryAfterMs
	if until <= 0 {
		until = nowMs(p.clock) + defaultBackoffMs
	}
	key := ProviderTypeKey{Provider: provider, Kind: choice.kind}
	p.blockLocked(key, choice.index, until)

	n := len(p.buckets[provider][choice.kind])
	remaining := 0
	now := nowMs(p.clock)
	for i := 0; i < n; i++ {
		if !p.isBlockedLocked(key, i, now) {
			remaining++
		}
	}
	return remaining > 0
}

// FetchAllUsageReports fetches and dedupes usage reports across every
// provider with a registered probe.
func (p *Pool) FetchAllUsageReports() map[string][]UsageReport {
	p.mu.Lock()
	providers := make([]string, 0, len(p.usageProbe))
	for provider := range p.usageProbe {
		providers = append(providers, provider)
	}
	p.mu.Unlock()

	out := make(map[string][]UsageReport, len(providers))
	for _, provider := range providers {
		if reports := p.FetchUsageReports(provider); len(reports) > 0 {
			out[provider] = reports
		}
	}
	return out
}

// FetchUsageReports returns a deduped usage report per registered provider
// probe, across every OAuth credential.
func (p *Pool) FetchUsageReports(provider string) []UsageReport {
	p.mu.Lock()
	probe := p.usageProbe[provider]
	creds := append([]Credential(nil), p.buckets[provider][KindOAuth]...)
	p.mu.Unlock()

	if probe == nil {
		return nil
	}

	var reports []UsageReport
	for _, c := range creds {
		r, err := probe.Probe(c)
		if err != nil {
			p.logger.Warn("usage probe failed", "provider", provider, "error", err)
			continue
		}
		reports = append(reports, r)
	}
	return mergeUsageReports(reports)
}
