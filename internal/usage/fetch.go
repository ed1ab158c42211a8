// Package usage fetches per-credential quota reports from upstream
// providers over HTTP and adapts them to the credential pool's probe
// interface, plus the token/cost formatting the dispatcher's summaries
// use.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/relaycore/relaycore/internal/credential"
)

// defaultTimeout bounds one usage probe request. A probe that stalls
// must never stall credential selection for long.
const defaultTimeout = 10 * time.Second

// HTTPFetcher probes one provider's usage endpoint with the credential's
// bearer token and parses the response into a credential.UsageReport.
type HTTPFetcher struct {
	provider string
	endpoint string
	client   *http.Client
	clock    credential.Clock
}

// NewHTTPFetcher builds a fetcher for a provider's usage endpoint.
// client may be nil for a default with the probe timeout.
func NewHTTPFetcher(provider, endpoint string, client *http.Client, clock credential.Clock) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &HTTPFetcher{provider: provider, endpoint: endpoint, client: client, clock: clock}
}

// Provider returns the provider this fetcher serves.
func (f *HTTPFetcher) Provider() string { return f.provider }

// Probe implements credential.UsageProbe.
func (f *HTTPFetcher) Probe(cred credential.Credential) (credential.UsageReport, error) {
	token := bearerFor(cred)
	if token == "" {
		return credential.UsageReport{}, fmt.Errorf("usage: credential carries no token")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return credential.UsageReport{}, fmt.Errorf("usage: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return credential.UsageReport{}, fmt.Errorf("usage: fetch %s: %w", f.provider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return credential.UsageReport{}, fmt.Errorf("usage: %s returned %d: %s", f.provider, resp.StatusCode, body)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credential.UsageReport{}, fmt.Errorf("usage: read response: %w", err)
	}
	return ParseReport(raw, nowMs(f.clock))
}

func bearerFor(cred credential.Credential) string {
	if cred.OAuth != nil {
		return cred.OAuth.Access
	}
	if cred.APIKey != nil {
		return cred.APIKey.Secret
	}
	return ""
}

func nowMs(clock credential.Clock) int64 {
	if clock == nil {
		return time.Now().UnixMilli()
	}
	return clock().UnixMilli()
}

// Wire shapes of the usage endpoint response.
type wireReport struct {
	Limits    []wireLimit       `json:"limits"`
	Metadata  map[string]string `json:"metadata"`
	ExpiresAt int64             `json:"expires_at,omitempty"` // epoch ms
}

type wireLimit struct {
	ID     string     `json:"id"`
	Amount wireAmount `json:"amount"`
	Window wireWindow `json:"window"`
	Scope  wireScope  `json:"scope"`
	Status string     `json:"status,omitempty"`
}

type wireAmount struct {
	Used              *float64 `json:"used,omitempty"`
	Limit             *float64 `json:"limit,omitempty"`
	Remaining         *float64 `json:"remaining,omitempty"`
	UsedFraction      *float64 `json:"used_fraction,omitempty"`
	RemainingFraction *float64 `json:"remaining_fraction,omitempty"`
	Unit              string   `json:"unit,omitempty"`
}

type wireWindow struct {
	ResetsAt *int64 `json:"resets_at,omitempty"` // epoch ms
	ResetIn  *int64 `json:"reset_in,omitempty"`  // ms
}

type wireScope struct {
	AccountID string `json:"account_id,omitempty"`
}

// ParseReport decodes a usage endpoint payload into the pool's report
// shape, stamping it with the fetch time.
func ParseReport(raw []byte, fetchedAtMs int64) (credential.UsageReport, error) {
	var wire wireReport
	if err := json.Unmarshal(raw, &wire); err != nil {
		return credential.UsageReport{}, fmt.Errorf("usage: decode report: %w", err)
	}

	report := credential.UsageReport{
		Metadata:    wire.Metadata,
		FetchedAtMs: fetchedAtMs,
		ExpiresAtMs: wire.ExpiresAt,
	}
	for _, l := range wire.Limits {
		report.Limits = append(report.Limits, credential.Limit{
			ID: l.ID,
			Amount: credential.LimitAmount{
				Used:              l.Amount.Used,
				Limit:             l.Amount.Limit,
				Remaining:         l.Amount.Remaining,
				UsedFraction:      l.Amount.UsedFraction,
				RemainingFraction: l.Amount.RemainingFraction,
				Unit:              l.Amount.Unit,
			},
			Window: credential.LimitWindow{
				ResetsAtMs: l.Window.ResetsAt,
				ResetInMs:  l.Window.ResetIn,
			},
			Scope:  credential.LimitScope{AccountID: l.Scope.AccountID},
			Status: l.Status,
		})
	}
	return report, nil
}

// Registry maps providers to their usage fetchers and wires them into a
// credential pool.
type Registry struct {
	fetchers map[string]*HTTPFetcher
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]*HTTPFetcher)}
}

// Register installs a fetcher for its provider.
func (r *Registry) Register(f *HTTPFetcher) {
	r.fetchers[f.Provider()] = f
}

// Providers lists registered providers.
func (r *Registry) Providers() []string {
	out := make([]string, 0, len(r.fetchers))
	for p := range r.fetchers {
		out = append(out, p)
	}
	return out
}

// WireInto registers every fetcher as its provider's usage probe on the
// pool.
func (r *Registry) WireInto(pool *credential.Pool) {
	for provider, f := range r.fetchers {
		pool.RegisterUsageProbe(provider, f)
	}
}
