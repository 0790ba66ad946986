package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"obsstore/internal/core"
	"obsstore/internal/ingest"
	"obsstore/pkg/domain"
)

func (a *app) registerCmd() *cobra.Command {
	var phenomena []string
	cmd := &cobra.Command{
		Use:   "register [file|-]",
		Short: "Register a sensor and print its datasets",
		Long: `Register reads one sensor document and creates a dataset for every
offering and observed property pair. Extra observed properties that complex
fields or profile levels refer to can be added with --phenomenon.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()
			doc, err := ingest.DecodeSensor(in)
			if err != nil {
				return err
			}
			reg, err := doc.Registration()
			if err != nil {
				return err
			}
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				for _, id := range phenomena {
					if _, err := svc.RegisterPhenomenon(ctx, domain.Phenomenon{Identifier: id}); err != nil {
						return err
					}
				}
				datasets, err := svc.RegisterSensor(ctx, reg)
				if err != nil {
					return err
				}
				return printDatasets(cmd.OutOrStdout(), datasets)
			})
		},
	}
	cmd.Flags().StringArrayVar(&phenomena, "phenomenon", nil, "additional observed property identifier (repeatable)")
	return cmd
}

func printDatasets(w io.Writer, datasets []domain.Dataset) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROCEDURE\tPHENOMENON\tOFFERING\tTYPE")
	for _, ds := range datasets {
		otype := string(ds.ObservationType)
		if otype == "" {
			otype = dimColor.Sprint("-")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			idColor.Sprint(ds.ID),
			ds.Procedure.Identifier,
			ds.Phenomenon.Identifier,
			ds.Offering.Identifier,
			otype,
		)
	}
	return tw.Flush()
}
