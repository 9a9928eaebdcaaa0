package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mixinhost/internal/audit"
	"mixinhost/internal/config"
)

func newAuditCmd(configPath func() string) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recorded flush outcomes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath())
			if err != nil {
				return err
			}
			return runAudit(cmd.Context(), cfg, runID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "only show entries of this flush run")
	return cmd
}

func runAudit(ctx context.Context, cfg *config.Config, runID string, out io.Writer) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ledger, err := audit.Open(ctx, cfg.AuditLedgerConfig())
	if err != nil {
		return fmt.Errorf("open audit ledger: %w", err)
	}
	defer func() { err = errors.Join(err, ledger.Close()) }()

	entries, err := ledger.List(ctx, runID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tRUN\tTARGET\tSTATUS\tDESCRIPTORS\tBYTES\tERROR")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d->%d\t%s\n",
			e.Timestamp.UTC().Format(time.RFC3339), e.RunID, e.Target, e.Status,
			e.Descriptors, e.BytesIn, e.BytesOut, e.Error)
	}
	return tw.Flush()
}
