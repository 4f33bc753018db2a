package main

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hcsync/hcs/internal/client/sync"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Pull remote changes, then push local ones",
		// sync with anything other than up or down is bidirectional
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer done()

			pulled, pushed, err := c.Sync(cmd.Context())
			if pulled != nil {
				printPull(cmd, pulled)
			}
			if pushed != nil {
				printPush(cmd, pushed)
			}
			return explain(err)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Push local changes",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer done()

			res, err := c.SyncUp(cmd.Context())
			if res != nil {
				printPush(cmd, res)
			}
			return explain(err)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Pull remote changes",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, done, err := openClient(cmd)
			if err != nil {
				return err
			}
			defer done()

			res, err := c.SyncDown(cmd.Context())
			if res != nil {
				printPull(cmd, res)
			}
			return explain(err)
		},
	})

	return cmd
}

func printPull(cmd *cobra.Command, res *sync.PullResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d applied, %d skipped %s\n",
		cyan.Render("pulled"), res.Applied, res.Skipped, gray.Render(fmt.Sprintf("(version %d)", res.Version)))
}

func printPush(cmd *cobra.Command, res *sync.PushResult) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d change(s), %s %s\n",
		cyan.Render("pushed"), res.Sent, humanize.Bytes(res.Bytes), gray.Render(fmt.Sprintf("(version %d)", res.Version)))
}

// explain adds a hint to the errors a user can act on.
func explain(err error) error {
	if errors.Is(err, sync.ErrPullRequired) {
		return fmt.Errorf("%w\n%s", err, lightGray.Render("run `hcs sync down` or `hcs sync` first"))
	}
	return err
}
