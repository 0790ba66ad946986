package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"obsstore/internal/archive"
	"obsstore/internal/codec"
	"obsstore/internal/core"
	"obsstore/internal/streaming"
)

type window struct {
	from, to string
}

func (w *window) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&w.from, "from", "", "earliest phenomenon time (RFC3339)")
	cmd.Flags().StringVar(&w.to, "to", "", "latest phenomenon time (RFC3339)")
}

func (w window) parse() (from, to *time.Time, err error) {
	if from, err = parseTime("from", w.from); err != nil {
		return nil, nil, err
	}
	if to, err = parseTime("to", w.to); err != nil {
		return nil, nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, nil, fmt.Errorf("--to %s is before --from %s", w.to, w.from)
	}
	return from, to, nil
}

func parseTime(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	t = t.UTC()
	return &t, nil
}

func parseSeriesID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid series id %q", arg)
	}
	return id, nil
}

func (a *app) streamCmd() *cobra.Command {
	var (
		win    window
		chunk  int
		limit  int
		output string
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "stream <series-id>",
		Short: "Print the values of a series in phenomenon time order",
		Long: `Stream pages through a series with a lazy cursor. --chunk overrides the
configured fetch size; zero or less reads the series in one fetch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seriesID, err := parseSeriesID(args[0])
			if err != nil {
				return err
			}
			from, to, err := win.parse()
			if err != nil {
				return err
			}
			if output != "ndjson" && output != "table" {
				return fmt.Errorf("unknown output %q (want ndjson or table)", output)
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				size := svc.StreamingDefaults().ChunkSize
				if cmd.Flags().Changed("chunk") {
					size = chunk
				}
				cursor, err := svc.OpenStream(ctx, seriesID, core.StreamFilter{From: from, To: to}, size)
				if err != nil {
					return err
				}
				defer cursor.Close()
				if output == "table" {
					err = writeTable(ctx, cmd.OutOrStdout(), cursor, limit)
				} else {
					err = writeNDJSON(ctx, cmd.OutOrStdout(), cursor, limit)
				}
				if err != nil {
					return err
				}
				if stats {
					s := cursor.Stats()
					fmt.Fprintln(cmd.ErrOrStderr(), dimColor.Sprintf("fetches=%d returned=%d discarded=%d state=%s",
						s.Fetches, s.Returned, s.Discarded, s.State))
				}
				return nil
			})
		},
	}
	win.bind(cmd)
	cmd.Flags().IntVar(&chunk, "chunk", 0, "fetch size override")
	cmd.Flags().IntVar(&limit, "limit", 0, "stop after this many values (0 = all)")
	cmd.Flags().StringVarP(&output, "output", "o", "ndjson", "output format (ndjson|table)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print cursor statistics to stderr")
	return cmd
}

func writeNDJSON(ctx context.Context, w io.Writer, cursor *streaming.Cursor, limit int) error {
	enc := json.NewEncoder(w)
	n := 0
	for pair, err := range cursor.Values(ctx) {
		if err != nil {
			return err
		}
		v, err := codec.Encode(pair.Value)
		if err != nil {
			return err
		}
		if err := enc.Encode(archive.Record{Start: pair.Time.Start.UTC(), End: pair.Time.End.UTC(), Value: v}); err != nil {
			return err
		}
		if n++; limit > 0 && n >= limit {
			break
		}
	}
	return nil
}

func writeTable(ctx context.Context, w io.Writer, cursor *streaming.Cursor, limit int) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tKIND\tVALUE\tUOM")
	n := 0
	for pair, err := range cursor.Values(ctx) {
		if err != nil {
			return err
		}
		v, err := codec.Encode(pair.Value)
		if err != nil {
			return err
		}
		cell, err := archive.FormatCell(v)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			pair.Time.Start.UTC().Format(time.RFC3339),
			pair.Time.End.UTC().Format(time.RFC3339),
			v.Kind, cell, v.Unit)
		if n++; limit > 0 && n >= limit {
			break
		}
	}
	return tw.Flush()
}
