package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"obsstore/pkg/domain"
)

func kindsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List value kinds and whether they can be stored",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			supported := color.New(color.FgGreen).Sprint("supported")
			rejected := color.New(color.FgYellow).Sprint("rejected")
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "KIND\tSTORAGE\tSHAPE")
			for _, k := range domain.Kinds() {
				status, shape := rejected, "scalar"
				if k.IsSupported() {
					status = supported
				}
				if k.IsComposite() {
					shape = "composite"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", k, status, shape)
			}
			return tw.Flush()
		},
	}
}
