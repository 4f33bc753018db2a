package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newDetectCmd())
}

func newDetectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Record changes made to the content store since the last run",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer done()

			n, err := c.Detect(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), green.Render(fmt.Sprintf("%d change(s) detected", n)))
			return err
		},
	}
}
