package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ariefcatur/go-stripe-orders/internal/config"
	"github.com/ariefcatur/go-stripe-orders/internal/orders"
	"github.com/ariefcatur/go-stripe-orders/internal/postgres"
	"github.com/ariefcatur/go-stripe-orders/internal/redisx"
)

// sampleProducts replaces the catalog on seed. Prices are minor units.
var sampleProducts = []orders.Product{
	{Name: "Sample T-Shirt", Description: "A comfortable cotton t-shirt", Price: 1999, ImageURL: "https://via.placeholder.com/200"},
	{Name: "Sample Hoodie", Description: "Warm and cozy hoodie", Price: 3999, ImageURL: "https://via.placeholder.com/200"},
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded SQL migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := postgres.Connect(ctx, config.Load().PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			names, err := postgres.Migrate(ctx, db)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", n)
			}
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Replace the product catalog with the sample products",
		Long: `Replace the product catalog with the sample products.

Existing orders keep the unit prices they were checked out with.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := postgres.Connect(ctx, config.Load().PostgresDSN)
			if err != nil {
				return fmt.Errorf("db connect: %w", err)
			}
			defer db.Close()

			created, err := (&orders.Repo{DB: db}).ReplaceProducts(ctx, sampleProducts)
			if err != nil {
				return fmt.Errorf("seed products: %w", err)
			}
			return writeJSONLines(cmd.OutOrStdout(), created)
		},
	}
}

// reconcileQueues maps the subcommand argument to its Redis list.
var reconcileQueues = map[string]string{
	"unmatched": redisx.KeyUnmatched,
	"orphaned":  redisx.KeyOrphaned,
}

type queue interface {
	List(ctx context.Context, n int64) ([]json.RawMessage, error)
	Clear(ctx context.Context) error
}

func reconcileCmd() *cobra.Command {
	var (
		limit      int64
		clearAfter bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile unmatched|orphaned",
		Short: "List records awaiting manual reconciliation",
		Long: `List records awaiting manual reconciliation, newest first.

  unmatched  verified payment callbacks that named no known order
  orphaned   payment intents created for checkouts whose order was never saved

Examples:
  shopctl reconcile unmatched --limit 20
  shopctl reconcile orphaned --clear`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"unmatched", "orphaned"},
		RunE: func(cmd *cobra.Command, args []string) error {
			rdb := redisx.New(config.Load().RedisAddr)
			defer rdb.Close()
			q := &redisx.Queue{Redis: rdb, Key: reconcileQueues[args[0]]}
			return runReconcile(cmd.Context(), cmd.OutOrStdout(), q, limit, clearAfter)
		},
	}
	cmd.Flags().Int64Var(&limit, "limit", 50, "maximum records to print")
	cmd.Flags().BoolVar(&clearAfter, "clear", false, "empty the queue after printing")
	return cmd
}

func runReconcile(ctx context.Context, w io.Writer, q queue, limit int64, clearAfter bool) error {
	records, err := q.List(ctx, limit)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}
	for _, r := range records {
		fmt.Fprintln(w, string(r))
	}
	if len(records) == 0 {
		fmt.Fprintln(w, "nothing to reconcile")
	}
	if clearAfter {
		if err := q.Clear(ctx); err != nil {
			return fmt.Errorf("clear queue: %w", err)
		}
	}
	return nil
}

func writeJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return err
		}
	}
	return nil
}
