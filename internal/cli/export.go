package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"obsstore/internal/archive"
	"obsstore/internal/blob"
	"obsstore/internal/core"
)

func (a *app) exportCmd() *cobra.Command {
	var (
		win        window
		formats    []string
		compress   bool
		prefix     string
		blobDriver string
		blobRoot   string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "export <series-id>",
		Short: "Write a series to the configured blob store",
		Long: `Export streams a series once and writes one artifact per format to the
blob store. Artifacts are keyed series/<id>/<job>.<format> under --prefix.`,
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
			req := archive.Request{SeriesID: seriesID, From: from, To: to, Compress: compress, RequestedBy: os.Getenv("USER")}
			for _, name := range formats {
				f, err := archive.ParseFormat(name)
				if err != nil {
					return err
				}
				req.Formats = append(req.Formats, f)
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				settings := a.cfg.BlobSettings()
				if blobDriver != "" {
					settings.Driver = blob.Driver(blobDriver)
				}
				if blobRoot != "" {
					settings.Root = blobRoot
				}
				store, err := blob.Open(ctx, settings)
				if err != nil {
					return fmt.Errorf("open blob store: %w", err)
				}
				worker := archive.NewWorker(svc, store,
					archive.WithLogger(core.NewSlogLogger(a.logger)),
					archive.WithKeyPrefix(prefix),
				)
				job, err := worker.Run(ctx, req)
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(job)
				}
				return printJob(cmd, job)
			})
		},
	}
	win.bind(cmd)
	cmd.Flags().StringArrayVarP(&formats, "format", "f", nil, "artifact format, ndjson or csv (repeatable, default ndjson)")
	cmd.Flags().BoolVar(&compress, "compress", false, "frame artifacts with snappy")
	cmd.Flags().StringVar(&prefix, "prefix", "", "key prefix inside the store")
	cmd.Flags().StringVar(&blobDriver, "blob", "", "blob driver override (fs|s3|memory)")
	cmd.Flags().StringVar(&blobRoot, "blob-root", "", "filesystem blob root override")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the finished job as JSON")
	return cmd
}

func printJob(cmd *cobra.Command, job archive.Job) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s export %s of series %s\n", okMark, job.ID, idColor.Sprint(job.SeriesID))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FORMAT\tROWS\tBYTES\tKEY\tURL")
	for _, art := range job.Artifacts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", art.Format, art.Rows, art.SizeBytes, art.Key, dimColor.Sprint(art.URL))
	}
	return tw.Flush()
}
