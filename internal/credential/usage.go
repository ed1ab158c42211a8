package credential

import (
	"sync"
)

// UsageProbe fetches a fresh usage report for a credential from its
// provider. Probe failures are logged and treated as "no data": they never
// cause a credential to be dropped, only to be left unblocked.
type UsageProbe interface {
	Probe(credential Credential) (UsageReport, error)
}

// UsageProbeFunc adapts a function to UsageProbe.
type UsageProbeFunc func(credential Credential) (UsageReport, error)

func (f UsageProbeFunc) Probe(credential Credential) (UsageReport, error) { return f(credential) }

// limitExhausted reports whether a single limit counts as exhausted per the
// usage-parsing rules: an explicit exhausted status, a used/remaining
// fraction past its bound, absolute used>=limit or remaining<=0, or a
// percent-unit limit that has reached 100.
func limitExhausted(l Limit) bool {
	if l.Status == "exhausted" {
		return true
	}
	if l.Amount.UsedFraction != nil && *l.Amount.UsedFraction >= 1 {
		return true
	}
	if l.Amount.RemainingFraction != nil && *l.Amount.RemainingFraction <= 0 {
		return true
	}
	if l.Amount.Used != nil && l.Amount.Limit != nil && *l.Amount.Used >= *l.Amount.Limit {
		return true
	}
	if l.Amount.Remaining != nil && *l.Amount.Remaining <= 0 {
		return true
	}
	if l.Amount.Unit == "percent" && l.Amount.Used != nil && *l.Amount.Used >= 100 {
		return true
	}
	return false
}

const defaultBackoffMs = 60_000

// reportExhausted reports whether any limit in the report is exhausted, and
// if so the wall-clock time at which the block should lift: the minimum
// over exhausted limits of a future resets_at_ms, or now+reset_in_ms when
// positive, falling back to a 60s default backoff when neither is present.
func reportExhausted(report UsageReport, nowMsVal int64) (exhausted bool, resetAtMs int64) {
	var best int64 = -1
	for _, l := range report.Limits {
		if !limitExhausted(l) {
			continue
		}
		exhausted = true
		candidate := int64(-1)
		if l.Window.ResetsAtMs != nil && *l.Window.ResetsAtMs > nowMsVal {
			candidate = *l.Window.ResetsAtMs
		} else if l.Window.ResetInMs != nil && *l.Window.ResetInMs > 0 {
			candidate = nowMsVal + *l.Window.ResetInMs
		}
		if candidate < 0 {
			continue
		}
		if best < 0 || candidate < best {
			best = candidate
		}
	}
	if !exhausted {
		return false, 0
	}
	if best < 0 {
		best = nowMsVal + defaultBackoffMs
	}
	return true, best
}

// identitySet returns the report's identifying strings (email, account_id,
// plus any single unambiguous scope account id shared by all limits) used to
// decide whether two reports describe the same underlying account.
func identitySet(r UsageReport) map[string]bool {
	ids := map[string]bool{}
	if email := r.Metadata["email"]; email != "" {
		ids[email] = true
	}
	if acct := r.Metadata["account_id"]; acct != "" {
		ids[acct] = true
	}
	if len(r.Limits) > 0 {
		scope := r.Limits[0].Scope.AccountID
		if scope != "" {
			unambiguous := true
			for _, l := range r.Limits[1:] {
				if l.Scope.AccountID != scope {
					unambiguous = false
					break
				}
			}
			if unambiguous {
				ids[scope] = true
			}
		}
	}
	return ids
}

func shareIdentity(a, b map[string]bool) bool {
	for id := range a {
		if b[id] {
			return true
		}
	}
	return false
}

// mergeUsageReports merges reports that share an identifier: the report
// with more limits (ties broken by the later fetched_at_ms) becomes the
// base, and every other report's limits/metadata are unioned into it.
func mergeUsageReports(reports []UsageReport) []UsageReport {
	groups := make([][]UsageReport, 0, len(reports))
	ids := make([]map[string]bool, 0, len(reports))

	for _, r := range reports {
		rid := identitySet(r)
		placed := false
		for gi, gid := range ids {
			if shareIdentity(rid, gid) {
				groups[gi] = append(groups[gi], r)
				for id := range rid {
					gid[id] = true
				}
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []UsageReport{r})
			ids = append(ids, rid)
		}
	}

	out := make([]UsageReport, 0, len(groups))
	for _, group := range groups {
		out = append(out, mergeGroup(group))
	}
	return out
}

func mergeGroup(group []UsageReport) UsageReport {
	if len(group) == 1 {
		return group[0]
	}

	baseIdx := 0
	for i, candidate := range group[1:] {
		base := group[baseIdx]
		betterCount := len(candidate.Limits) > len(base.Limits)
		tie := len(candidate.Limits) == len(base.Limits) && candidate.FetchedAtMs > base.FetchedAtMs
		if betterCount || tie {
			baseIdx = i + 1
		}
	}
	base := group[baseIdx]

	merged := UsageReport{
		Limits:      append([]Limit(nil), base.Limits...),
		Metadata:    map[string]string{},
		FetchedAtMs: base.FetchedAtMs,
		ExpiresAtMs: base.ExpiresAtMs,
	}
	for k, v := range base.Metadata {
		merged.Metadata[k] = v
	}
	for i, other := range group {
		for k, v := range other.Metadata {
			if merged.Metadata[k] == "" {
				merged.Metadata[k] = v
			}
		}
		if i == baseIdx {
			continue
		}
		merged.Limits = append(merged.Limits, other.Limits...)
	}
	return merged
}

// usageCache caches reports per (provider, credential identity) honoring the
// provider-supplied expires_at_ms; expired entries are ignored on read.
type usageCache struct {
	mu      sync.Mutex
	entries map[string]UsageReport
	clock   Clock
}

func newUsageCache(clock Clock) *usageCache {
	return &usageCache{entries: make(map[string]UsageReport), clock: clock}
}

func (c *usageCache) key(provider, identity string) string { return provider + "::" + identity }

func (c *usageCache) get(provider, identity string) (UsageReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[c.key(provider, identity)]
	if !ok {
		return UsageReport{}, false
	}
	if r.ExpiresAtMs > 0 && r.ExpiresAtMs <= nowMs(c.clock) {
		delete(c.entries, c.key(provider, identity))
		return UsageReport{}, false
	}
	return r, true
}

func (c *usageCache) set(provider, identity string, r UsageReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[c.key(provider, identity)] = r
}
