package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"obsstore/internal/core"
	"obsstore/internal/ingest"
)

func (a *app) insertCmd() *cobra.Command {
	var keepGoing bool
	cmd := &cobra.Command{
		Use:   "insert [file|-]",
		Short: "Persist observations from a JSON array or NDJSON stream",
		Long: `Insert persists each observation document in its own session. By
default the first rejected observation stops the command; --continue reports
it and moves on.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()
			return a.withService(cmd, func(ctx context.Context, svc *core.Service) error {
				out := cmd.OutOrStdout()
				var stored, failed int
				n := 0
				for doc, err := range ingest.Observations(in) {
					if err != nil {
						return err
					}
					n++
					res, err := persist(ctx, svc, doc)
					if err != nil {
						failed++
						fmt.Fprintf(out, "%s #%d %v\n", failMark, n, err)
						if !keepGoing {
							return fmt.Errorf("%w: %d stored, stopped at #%d", errRejected, stored, n)
						}
						continue
					}
					stored++
					fmt.Fprintf(out, "%s #%d %s %s\n", okMark, n, idColor.Sprint(res.Observation.ID), res.Observation.Identifier)
				}
				fmt.Fprintf(out, "%d stored, %d rejected\n", stored, failed)
				if failed > 0 {
					return fmt.Errorf("%w: %d of %d", errRejected, failed, n)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&keepGoing, "continue", false, "report rejected observations and keep going")
	return cmd
}

func persist(ctx context.Context, svc *core.Service, doc ingest.Observation) (core.PersistResult, error) {
	req, err := doc.Request()
	if err != nil {
		return core.PersistResult{}, err
	}
	return svc.Persist(ctx, req)
}
