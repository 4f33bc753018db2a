package main

import (
	"fmt"

	"github.com/hcsync/hcs/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLiveCmd())
}

func newLiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "live",
		Short: "Watch and sync continuously (not supported)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("live mode: %w", sync.ErrUnsupported)
		},
	}
}
