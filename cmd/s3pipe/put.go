package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/bleepstore/s3pipe/internal/config"
	"github.com/bleepstore/s3pipe/internal/journal"
	"github.com/bleepstore/s3pipe/internal/pipeline"
)

type putOptions struct {
	location string
	input    string
	sets     []string
	readSize int
}

func newPutCommand() *cobra.Command {
	opts := &putOptions{}
	cmd := &cobra.Command{
		Use:   "put",
		Short: "Stream stdin or a file into one object",
		Long: `Stream stdin or a file into one object.

Transfer properties come from the "transfer" section of the config file and
can be overridden with --set, for example:

  s3pipe put --location s3://bucket/key --set part-size=16777216 < data`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPut(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.location, "location", "l", "", "destination URI (s3://, gs://, az://, file://, mem://)")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "input file (- for stdin)")
	cmd.Flags().StringArrayVar(&opts.sets, "set", nil, "transfer property as name=value (repeatable)")
	cmd.Flags().IntVar(&opts.readSize, "read-size", pipeline.DefaultReadSize, "bytes read from the input per chunk")
	return cmd
}

// parseProps turns name=value pairs into a property map. Later pairs win.
func parseProps(pairs []string) (map[string]string, error) {
	props := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q, want name=value", pair)
		}
		props[name] = value
	}
	return props, nil
}

func runPut(cmd *cobra.Command, opts *putOptions) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	sets, err := parseProps(opts.sets)
	if err != nil {
		return err
	}
	props := maps.Clone(cfg.Transfer)
	if props == nil {
		props = make(map[string]string)
	}
	maps.Copy(props, sets)
	if opts.location != "" {
		props["location"] = opts.location
	}

	var in io.Reader = os.Stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
		if _, ok := props["content-length"]; !ok {
			if fi, err := f.Stat(); err == nil && fi.Mode().IsRegular() {
				props["content-length"] = fmt.Sprint(fi.Size())
			}
		}
	}

	builder := config.NewBuilder(logger)
	if err := builder.SetAll(props); err != nil {
		return err
	}

	j, err := journal.Open(cmd.Context(), cfg.Journal)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}
	defer j.Close()

	coord := pipeline.New(builder, logger, pipeline.WithJournal(j))
	n, err := coord.Run(cmd.Context(), in, opts.readSize)
	if err != nil {
		return err
	}
	snap := builder.Snapshot()
	dest := snap.Location
	if dest == "" {
		dest = snap.URI()
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d bytes written to %s\n", coord.TransferID(), n, dest)
	return nil
}
