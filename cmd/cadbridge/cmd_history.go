package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"cadbridge/pkg/journal"

	"github.com/spf13/cobra"
)

type historyOpts struct {
	limit      int
	tool       string
	failedOnly bool
	patterns   bool
	minFreq    int
}

func newHistoryCmd() *cobra.Command {
	var opts historyOpts
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled operations or recurring patterns",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runHistory(cmd.Context(), cmd.OutOrStdout(), cfg.Journal.Path, opts)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "number of operations to show")
	cmd.Flags().StringVar(&opts.tool, "tool", "", "only show this tool")
	cmd.Flags().BoolVar(&opts.failedOnly, "failed", false, "only show failed operations")
	cmd.Flags().BoolVar(&opts.patterns, "patterns", false, "show recurring three-step patterns instead")
	cmd.Flags().IntVar(&opts.minFreq, "min-frequency", 2, "pattern frequency threshold")
	return cmd
}

func runHistory(ctx context.Context, w io.Writer, dbPath string, opts historyOpts) error {
	r, err := journal.NewReader(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer func() { _ = tw.Flush() }()

	if opts.patterns {
		rows, err := r.Patterns(ctx, opts.minFreq)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Fprintln(tw, "no patterns yet")
			return nil
		}
		fmt.Fprintln(tw, "SEQUENCE\tCOUNT\tSUCCESS\tAVG MS")
		for _, p := range rows {
			fmt.Fprintf(tw, "%s\t%d\t%.0f%%\t%.0f\n", p.Sequence, p.Frequency, p.SuccessRate*100, p.AvgDurationMS)
		}
		return nil
	}

	rows, err := r.Operations(ctx, journal.QueryOpts{Tool: opts.tool, FailedOnly: opts.failedOnly, Limit: opts.limit})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(tw, "no operations recorded")
		return nil
	}
	fmt.Fprintln(tw, "TIME\tTOOL\tOUTCOME\tMS")
	for _, op := range rows {
		outcome := "ok"
		if !op.Success {
			outcome = string(op.ErrorKind)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", op.CreatedAt, op.Tool, outcome, op.DurationMS)
	}
	return nil
}
