package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memrank-go/pkg/core"
)

func newArchiveCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive memories that have gone cold",
	}
	cmd.AddCommand(
		newArchiveScanCmd(opts),
		newArchiveRunCmd(opts),
		newArchiveCandidatesCmd(opts),
		newArchiveRestoreCmd(opts),
		newArchiveStatsCmd(opts),
	)
	return cmd
}

func newArchiveScanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Run one archival scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				res, err := client.Archival().RunArchivalScan(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
}

func newArchiveRunCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the archival job until interrupted",
		Long: `Run scans immediately and then on every interval until the process
receives SIGINT or SIGTERM. Working-memory decay runs alongside it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				ctx := cmd.Context()
				if interval <= 0 {
					interval = client.Archival().Config().ScanInterval
				}
				client.Archival().Start(ctx, interval)
				if err := client.WorkingMemory().StartDecayLoop(ctx); err != nil {
					return err
				}
				cmd.PrintErrf("archival job running every %s; press Ctrl+C to stop\n", interval)

				<-ctx.Done()
				return printJSON(cmd, client.Archival().GetStats())
			})
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Scan interval (default: config)")
	return cmd
}

func newArchiveCandidatesCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "List memories eligible for archival",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				return printJSON(cmd, client.Archival().GetArchivalCandidates(cmd.Context(), limit))
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Max candidates (default: batch size)")
	return cmd
}

func newArchiveRestoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>...",
		Short: "Unarchive memories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			return opts.withClient(func(client *core.Client) error {
				restored := make([]int64, 0, len(ids))
				for _, id := range ids {
					ok, err := client.Archival().UnarchiveMemory(cmd.Context(), id)
					if err != nil {
						return fmt.Errorf("unarchive %d: %w", id, err)
					}
					if ok {
						restored = append(restored, id)
					}
				}
				return printJSON(cmd, map[string]any{"restored": restored})
			})
		},
	}
}

func newArchiveStatsCmd(opts *rootOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show archived counts and pending candidates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				ctx := cmd.Context()
				states := client.StateStats(ctx, folder)
				return printJSON(cmd, map[string]any{
					"archived":   states.Archived,
					"total":      states.Total,
					"candidates": len(client.Archival().GetArchivalCandidates(ctx, 0)),
					"job":        client.Archival().GetStats(),
				})
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Limit counts to one spec folder")
	return cmd
}
