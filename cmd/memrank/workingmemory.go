package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memrank-go/pkg/core"
	"github.com/oceanbase/memrank-go/pkg/workingmemory"
)

func newWorkingMemoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "wm",
		Aliases: []string{"working-memory"},
		Short:   "Inspect and update session working memory",
	}
	cmd.AddCommand(
		newWMSetCmd(opts),
		newWMGetCmd(opts),
		newWMDecayCmd(opts),
		newWMClearCmd(opts),
		newWMCleanupCmd(opts),
	)
	return cmd
}

func newWMSetCmd(opts *rootOptions) *cobra.Command {
	var (
		session string
		score   float64
	)

	cmd := &cobra.Command{
		Use:   "set <memory-id>",
		Short: "Focus a memory in a session",
		Long: `Set records an attention score for a memory. Without --session a new
session id is generated and printed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			sessionID := workingmemory.GetOrCreateSession(session)

			return opts.withClient(func(client *core.Client) error {
				if _, err := client.Get(cmd.Context(), id); err != nil {
					return err
				}
				ok, err := client.WorkingMemory().SetAttentionScore(cmd.Context(), sessionID, id, score)
				if err != nil {
					return err
				}
				entry := client.WorkingMemory().GetEntry(cmd.Context(), sessionID, id)
				return printJSON(cmd, map[string]any{
					"session_id": sessionID,
					"updated":    ok,
					"entry":      entry,
				})
			})
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "Session id (default: new)")
	cmd.Flags().Float64Var(&score, "score", 1, "Attention score in [0,1]")
	return cmd
}

func newWMGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get [session]",
		Short: "Show a session's entries, or list sessions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				wm := client.WorkingMemory()
				if len(args) == 0 {
					return printJSON(cmd, map[string]any{"sessions": wm.Sessions(cmd.Context())})
				}

				entries := wm.GetSession(cmd.Context(), args[0])
				type row struct {
					MemoryID       int64   `json:"memory_id"`
					AttentionScore float64 `json:"attention_score"`
					Tier           string  `json:"tier"`
					FocusCount     int     `json:"focus_count"`
				}
				rows := make([]row, 0, len(entries))
				for _, e := range entries {
					rows = append(rows, row{
						MemoryID:       e.MemoryID,
						AttentionScore: e.AttentionScore,
						Tier:           workingmemory.CalculateTier(e.AttentionScore),
						FocusCount:     e.FocusCount,
					})
				}
				return printJSON(cmd, map[string]any{
					"session_id": args[0],
					"stats":      wm.GetSessionStats(cmd.Context(), args[0]),
					"entries":    rows,
				})
			})
		},
	}
}

func newWMDecayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decay [session]",
		Short: "Apply one decay tick to a session, or to every session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				wm := client.WorkingMemory()
				if len(args) == 0 {
					return printJSON(cmd, map[string]int{"changed": wm.BatchUpdateAll(cmd.Context())})
				}
				n, err := wm.BatchUpdateScores(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"changed": n})
			})
		},
	}
}

func newWMClearCmd(opts *rootOptions) *cobra.Command {
	var memoryID string

	cmd := &cobra.Command{
		Use:   "clear <session>",
		Short: "Drop a session, or one entry with --memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				wm := client.WorkingMemory()
				if memoryID != "" {
					id, err := parseID(memoryID)
					if err != nil {
						return err
					}
					ok, err := wm.RemoveEntry(cmd.Context(), args[0], id)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("memory %d is not in session %s", id, args[0])
					}
					return printJSON(cmd, map[string]int{"removed": 1})
				}
				n, err := wm.ClearSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]int{"removed": n})
			})
		},
	}

	cmd.Flags().StringVar(&memoryID, "memory", "", "Remove only this memory id")
	return cmd
}

func newWMCleanupCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove entries not focused within the session timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				return printJSON(cmd, map[string]int{"removed": client.WorkingMemory().CleanupOldSessions(cmd.Context())})
			})
		},
	}
}
