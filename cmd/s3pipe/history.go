package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bleepstore/s3pipe/internal/journal"
)

// timeFormat is the timestamp layout used in history output.
const timeFormat = "2006-01-02T15:04:05.000Z"

type historyOptions struct {
	limit  int
	asJSON bool
}

func newHistoryCommand() *cobra.Command {
	opts := &historyOptions{}
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			j, err := journal.Open(cmd.Context(), cfg.Journal)
			if err != nil {
				return fmt.Errorf("failed to open journal: %w", err)
			}
			defer j.Close()

			records, err := j.List(cmd.Context(), opts.limit)
			if err != nil {
				return fmt.Errorf("listing transfers: %w", err)
			}
			if opts.asJSON {
				return writeHistoryJSON(cmd.OutOrStdout(), records)
			}
			return writeHistory(cmd.OutOrStdout(), records)
		},
	}
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "number of transfers to show (-1 for all)")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print records as JSON")
	return cmd
}

func writeHistoryJSON(w io.Writer, records []journal.Record) error {
	if records == nil {
		records = []journal.Record{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(records)
}

// writeHistory prints one aligned row per record.
func writeHistory(w io.Writer, records []journal.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tSTATE\tVARIANT\tBYTES\tPARTS\tDESTINATION\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID,
			r.StartedAt.UTC().Format(timeFormat),
			r.State,
			r.Variant,
			r.Bytes,
			r.Parts,
			r.Destination,
			r.Error,
		)
	}
	return tw.Flush()
}
