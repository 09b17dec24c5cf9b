package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"modelgate/internal/domain"
)

func newHealthCmd(cfgPath func() string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe every backend once and print its status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgPath())
			defer a.Close()
			if err != nil {
				return err
			}
			if err := a.monitor.Sweep(cmd.Context()); err != nil {
				return err
			}

			snap := a.monitor.Snapshot()
			if asJSON {
				if err := writeJSON(cmd.OutOrStdout(), snap); err != nil {
					return err
				}
			} else {
				printHealth(cmd.OutOrStdout(), snap)
			}
			if !a.monitor.AnyHealthy() && a.fallback == nil {
				return fmt.Errorf("no healthy backend and no fallback configured")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the snapshot as JSON")
	return cmd
}

func printHealth(w io.Writer, snap map[string]domain.BackendStatus) {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tSTATUS\tMODEL\tENDPOINT\tERROR")
	for _, id := range ids {
		st := snap[id]
		status := "down"
		if st.Healthy {
			status = "up"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", id, status, st.Model, st.Endpoint, st.Error)
	}
	tw.Flush()
}
