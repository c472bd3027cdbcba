package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memrank-go/pkg/checkpoint"
	"github.com/oceanbase/memrank-go/pkg/core"
)

func newCheckpointCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "checkpoint",
		Aliases: []string{"cp"},
		Short:   "Snapshot and restore memories",
	}
	cmd.AddCommand(
		newCheckpointCreateCmd(opts),
		newCheckpointListCmd(opts),
		newCheckpointShowCmd(opts),
		newCheckpointRestoreCmd(opts),
		newCheckpointDeleteCmd(opts),
	)
	return cmd
}

func newCheckpointCreateCmd(opts *rootOptions) *cobra.Command {
	var folder string

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a checkpoint (default name: checkpoint-<ulid>)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) == 1 {
				name = args[0]
			}
			return opts.withClient(func(client *core.Client) error {
				info, err := client.Checkpoints().Create(cmd.Context(), name, checkpoint.CreateOptions{SpecFolder: folder})
				if err != nil {
					return err
				}
				return printJSON(cmd, info)
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Snapshot only this spec folder")
	return cmd
}

func newCheckpointListCmd(opts *rootOptions) *cobra.Command {
	var (
		folder string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List checkpoints, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				return printJSON(cmd, client.Checkpoints().List(cmd.Context(), checkpoint.ListOptions{
					SpecFolder: folder,
					Limit:      limit,
				}))
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Only checkpoints of this spec folder")
	cmd.Flags().IntVarP(&limit, "limit", "l", checkpoint.DefaultListLimit, "Max checkpoints")
	return cmd
}

func newCheckpointShowCmd(opts *rootOptions) *cobra.Command {
	var full bool

	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				cp, err := client.Checkpoints().Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if full {
					return printJSON(cmd, cp)
				}
				return printJSON(cmd, map[string]any{
					"checkpoint":     cp.Info,
					"memories":       len(cp.Snapshot.Memories),
					"working_memory": len(cp.Snapshot.WorkingMemory),
					"timestamp":      cp.Snapshot.Timestamp,
				})
			})
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "Print the full snapshot")
	return cmd
}

func newCheckpointRestoreCmd(opts *rootOptions) *cobra.Command {
	var restoreOpts checkpoint.RestoreOptions

	cmd := &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore a checkpoint",
		Long: `Restore reinserts the checkpoint's memories, skipping ids that still
exist. With --clear the checkpoint's scope is deleted first; otherwise a
folder-scoped restore marks the folder's current memories deprecated.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				res, err := client.Checkpoints().Restore(cmd.Context(), args[0], restoreOpts)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	cmd.Flags().BoolVar(&restoreOpts.ClearExisting, "clear", false, "Delete the checkpoint's scope before restoring")
	cmd.Flags().BoolVar(&restoreOpts.SkipReinsert, "skip-reinsert", false, "Only clear or deprecate")
	return cmd
}

func newCheckpointDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				ok, err := client.Checkpoints().Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("checkpoint %q: %w", args[0], checkpoint.ErrNotFound)
				}
				return printJSON(cmd, map[string]bool{"deleted": true})
			})
		},
	}
}
