package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relaycore/relaycore/internal/credential"
	"github.com/relaycore/relaycore/internal/usage"
)

func newCredentialCommand(state *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Inspect and exercise the credential pool",
	}
	cmd.AddCommand(newCredentialListCommand(state))
	cmd.AddCommand(newCredentialResolveCommand(state))
	cmd.AddCommand(newCredentialUsageCommand(state))
	return cmd
}

// openPool loads stored credentials into a pool wired with the
// configured usage endpoints.
func openPool(state *rootState) (*credential.Pool, *credential.Store, error) {
	store, err := credential.OpenStore(state.cfg.CredentialDB, nil)
	if err != nil {
		return nil, nil, err
	}

	pool := credential.NewPool(nil, state.mustLogger())
	pool.SetPersistence(store.UpdateCredential, store.DeleteCredential)
	providers, err := store.Providers()
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	for _, provider := range providers {
		creds, err := store.LoadCredentials(provider)
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		pool.StoreCredentials(provider, creds)
	}

	reg := usage.NewRegistry()
	for provider, pc := range state.cfg.Providers {
		if pc.UsageEndpoint != "" {
			reg.Register(usage.NewHTTPFetcher(provider, pc.UsageEndpoint, nil, nil))
		}
	}
	reg.WireInto(pool)
	return pool, store, nil
}

func newCredentialListCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List providers with stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openPool(state)
			if err != nil {
				return err
			}
			defer store.Close()

			providers, err := store.Providers()
			if err != nil {
				return err
			}
			if len(providers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no credentials stored")
				return nil
			}
			for _, provider := range providers {
				creds, err := store.LoadCredentials(provider)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d credential(s)\n", provider, len(creds))
				for _, c := range creds {
					fmt.Fprintf(cmd.OutOrStdout(), "  #%d %s\n", c.ID, c.Kind)
				}
			}
			return nil
		},
	}
}

func newCredentialResolveCommand(state *rootState) *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:   "resolve <provider>",
		Short: "Resolve a usable API key for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, store, err := openPool(state)
			if err != nil {
				return err
			}
			defer store.Close()

			key, ok := pool.ResolveKey(context.Background(), args[0], session, "")
			if !ok {
				return fmt.Errorf("no usable credential for %q", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), redactKey(key))
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "session id for sticky selection")
	return cmd
}

func newCredentialUsageCommand(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "usage <provider>",
		Short: "Fetch deduped usage reports for a provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, store, err := openPool(state)
			if err != nil {
				return err
			}
			defer store.Close()

			reports := pool.FetchUsageReports(args[0])
			if len(reports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no usage data")
				return nil
			}
			for _, r := range reports {
				who := r.Metadata["email"]
				if who == "" {
					who = r.Metadata["account_id"]
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s:\n", who)
				for _, l := range r.Limits {
					line := "  " + l.ID
					if l.Amount.UsedFraction != nil {
						line += " " + usage.FormatPercentage(*l.Amount.UsedFraction)
					}
					if l.Status != "" {
						line += " (" + l.Status + ")"
					}
					fmt.Fprintln(cmd.OutOrStdout(), line)
				}
			}
			return nil
		},
	}
}

// redactKey shows only enough of a secret to identify it.
func redactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-4:]
}
