package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newRepairCmd())
}

func newRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Rebuild the view and metadata from the content store",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer done()

			report, err := c.Repair(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s views restored %d, removed %d; metadata written %d, removed %d\n",
				green.Render("repaired"), report.ViewsRestored, report.ViewsRemoved,
				report.MetadataWritten, report.MetadataRemoved)
			return nil
		},
	}
}
