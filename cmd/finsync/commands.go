package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/njoerd114/finsync/internal/config"
	"github.com/njoerd114/finsync/internal/model"
	"github.com/njoerd114/finsync/internal/store"
	finsync "github.com/njoerd114/finsync/internal/sync"
)

// --- transactions ------------------------------------------------------------

func newTransactionsCommand(opts *rootOptions) *cobra.Command {
	var (
		accounts []int64
		ids      []int64
		from, to string
		status   string
	)
	cmd := &cobra.Command{
		Use:   "transactions",
		Short: "Refresh transactions by filter or by ID",
		Long: `Refresh transactions matching a filter, walking every page.

With --id the listed transactions are refreshed directly; IDs the API no
longer returns are removed from the store.

Example:
  finsync transactions --account 12 --from 2024-01-01
  finsync transactions --id 1001,1002`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var st model.TransactionStatus
			if status != "" {
				_ = st.UnmarshalText([]byte(status))
				if st == model.TransactionStatusUnknown {
					return fmt.Errorf("--status %q: want pending, posted or scheduled", status)
				}
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			if len(ids) > 0 {
				if err := a.refresher.RefreshTransactionsByIDs(ctx, ids); err != nil {
					return err
				}
				a.refresher.Wait()
				fmt.Fprintf(cmd.OutOrStdout(), "refreshed %d transaction(s)\n", len(ids))
				return nil
			}

			info, err := a.refresher.RefreshTransactions(ctx, model.TransactionFilter{
				AccountIDs: accounts,
				FromDate:   from,
				ToDate:     to,
				Status:     st,
			})
			a.refresher.Wait()
			printPagination(cmd, info)
			reportMissing(a)
			return err
		},
	}
	cmd.Flags().Int64SliceVar(&accounts, "account", nil, "account IDs to filter on")
	cmd.Flags().Int64SliceVar(&ids, "id", nil, "transaction IDs to refresh directly")
	cmd.Flags().StringVar(&from, "from", "", "earliest transaction date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "latest transaction date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "transaction status (pending|posted|scheduled)")
	cmd.MarkFlagsMutuallyExclusive("id", "account")
	return cmd
}

func printPagination(cmd *cobra.Command, info model.PaginationInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "pages:   %d\n", info.Pages)
	if info.Total > 0 {
		fmt.Fprintf(out, "total:   %d (reported by the API)\n", info.Total)
	}
	if info.Pages > 0 && info.LastID != 0 {
		fmt.Fprintf(out, "newest:  %d %s\n", info.FirstID, info.FirstDate)
		fmt.Fprintf(out, "oldest:  %d %s\n", info.LastID, info.LastDate)
	}
	if info.Truncated {
		fmt.Fprintln(out, "stopped early at max_pages or a repeated cursor; older records were left as stored")
	}
}

// --- merchants ---------------------------------------------------------------

func newMerchantsCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "merchants",
		Short: "Walk the full merchant catalogue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			info, err := a.refresher.RefreshMerchants(ctx)
			printPagination(cmd, info)
			return err
		},
	}
}

// --- tag ---------------------------------------------------------------------

func newTagCommand(opts *rootOptions) *cobra.Command {
	var add, remove []string
	cmd := &cobra.Command{
		Use:   "tag <transaction-id>",
		Short: "Add or remove user tags on a stored transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid transaction ID %q: %w", args[0], err)
			}
			if len(add) == 0 && len(remove) == 0 {
				return fmt.Errorf("nothing to do: pass --add or --remove")
			}

			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signalContext()
			defer stop()

			if len(add) > 0 {
				if err := a.refresher.UpdateTransactionTags(ctx, id, add, finsync.TagAdd); err != nil {
					return err
				}
			}
			if len(remove) > 0 {
				if err := a.refresher.UpdateTransactionTags(ctx, id, remove, finsync.TagRemove); err != nil {
					return err
				}
			}

			tx, err := store.Get(ctx, a.store, store.Transactions, id)
			if err != nil {
				return err
			}
			if tx != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "transaction %d tags: %v\n", id, []string(tx.UserTags))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&add, "add", nil, "tags to add")
	cmd.Flags().StringSliceVar(&remove, "remove", nil, "tags to remove")
	return cmd
}

// --- status ------------------------------------------------------------------

func newStatusCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show config, store and row counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, opts.configPath)
		},
	}
}

// runStatus reads the store directly; it needs neither the API nor telemetry.
func runStatus(cmd *cobra.Command, cfgPath string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "finsync status")
	fmt.Fprintln(out, "──────────────")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(out, "  Config:    %s (%v)\n", cfgPath, err)
		return nil
	}
	fmt.Fprintf(out, "  Config:    %s ✓\n", cfgPath)
	fmt.Fprintf(out, "  API URL:   %s\n", cfg.APIURL)
	fmt.Fprintf(out, "  Window:    %d day(s)\n", cfg.TransactionWindowDays)

	info, err := os.Stat(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(out, "  Store:     not found (%s)\n", cfg.DatabasePath)
		return nil
	}
	fmt.Fprintf(out, "  Store:     %s (%s)\n", cfg.DatabasePath, humanSize(info.Size()))

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	schemaVer, err := st.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  Schema:    v%d\n", schemaVer)

	counts, err := rowCounts(ctx, st)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "")
	for _, c := range counts {
		fmt.Fprintf(tw, "  %s\t%d\n", c.table, c.rows)
	}
	return tw.Flush()
}

type tableCount struct {
	table string
	rows  int
}

func rowCounts(ctx context.Context, st *store.Store) ([]tableCount, error) {
	var out []tableCount
	add := func(name string, n int, err error) error {
		if err != nil {
			return fmt.Errorf("counting %s: %w", name, err)
		}
		out = append(out, tableCount{name, n})
		return nil
	}
	all := store.All()
	n, err := store.Count(ctx, st, store.Providers, all)
	if err := add(store.Providers.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.ProviderAccounts, all)
	if err := add(store.ProviderAccounts.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.Accounts, all)
	if err := add(store.Accounts.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.Merchants, all)
	if err := add(store.Merchants.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.TransactionCategories, all)
	if err := add(store.TransactionCategories.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.Transactions, all)
	if err := add(store.Transactions.Name, n, err); err != nil {
		return nil, err
	}
	n, err = store.Count(ctx, st, store.Tags, all)
	if err := add(store.Tags.Name, n, err); err != nil {
		return nil, err
	}
	return out, nil
}

// humanSize returns a human-readable file size string.
func humanSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
