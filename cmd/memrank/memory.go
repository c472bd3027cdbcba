package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memrank-go/pkg/core"
	"github.com/oceanbase/memrank-go/pkg/intelligence"
	"github.com/oceanbase/memrank-go/pkg/storage"
)

func newSaveCmd(opts *rootOptions) *cobra.Command {
	var (
		folder      string
		title       string
		filePath    string
		tier        string
		contextType string
		weight      float64
		halfLife    float64
		pinned      bool
	)

	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save a memory through the write gate",
		Long: `Save offers content to the write gate. Depending on how similar it is to
existing memories it is reinforced, merged, linked, superseded or stored
as a new memory. Content can be a positional arg or piped via stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readContent(cmd, args)
			if err != nil {
				return err
			}

			saveOpts := []core.SaveOption{
				core.WithSpecFolder(folder),
				core.WithTitle(title),
				core.WithFilePath(filePath),
				core.WithContextType(contextType),
				core.WithPinned(pinned),
			}
			if tier != "" {
				t := storage.ImportanceTier(strings.ToLower(tier))
				if !t.Valid() {
					return fmt.Errorf("unknown tier %q", tier)
				}
				saveOpts = append(saveOpts, core.WithTier(t))
			}
			if cmd.Flags().Changed("weight") {
				saveOpts = append(saveOpts, core.WithImportanceWeight(weight))
			}
			if cmd.Flags().Changed("half-life") {
				saveOpts = append(saveOpts, core.WithHalfLife(halfLife))
			}

			return opts.withClient(func(client *core.Client) error {
				res, err := client.Save(cmd.Context(), content, saveOpts...)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Spec folder")
	cmd.Flags().StringVarP(&title, "title", "t", "", "Title (default: first line)")
	cmd.Flags().StringVar(&filePath, "file", "", "Source file path")
	cmd.Flags().StringVar(&tier, "tier", "", "Importance tier: constitutional, critical, important, normal, temporary, deprecated")
	cmd.Flags().StringVar(&contextType, "type", "", "Context type, e.g. decision, research, implementation")
	cmd.Flags().Float64Var(&weight, "weight", 0, "Importance weight in [0,1] (default: evaluated)")
	cmd.Flags().Float64Var(&halfLife, "half-life", 0, "Decay half-life in days")
	cmd.Flags().BoolVar(&pinned, "pin", false, "Pin the memory so it never decays")
	return cmd
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var (
		folder          string
		limit           int
		minSimilarity   float64
		includeArchived bool
		session         string
	)

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories, ranked by composite score",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				res, err := client.Search(cmd.Context(), strings.Join(args, " "),
					core.WithSearchFolder(folder),
					core.WithLimit(limit),
					core.WithMinSimilarity(minSimilarity),
					core.WithIncludeArchived(includeArchived),
					core.WithSession(session),
				)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Limit to one spec folder")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Max results")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "Drop candidates below this 0-100 similarity")
	cmd.Flags().BoolVar(&includeArchived, "archived", false, "Include archived memories")
	cmd.Flags().StringVar(&session, "session", "", "Focus results in this working-memory session")
	return cmd
}

func newGetCmd(opts *rootOptions) *cobra.Command {
	var history bool

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a memory and its freshness state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return opts.withClient(func(client *core.Client) error {
				mem, err := client.Get(cmd.Context(), id)
				if err != nil {
					return err
				}
				class, err := client.Classify(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := map[string]any{
					"memory":         mem,
					"classification": class,
				}
				if history {
					out["history"] = client.History(cmd.Context(), id)
				}
				return printJSON(cmd, out)
			})
		},
	}

	cmd.Flags().BoolVar(&history, "history", false, "Include the change history")
	return cmd
}

func newReviewCmd(opts *rootOptions) *cobra.Command {
	var grade string

	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Record a spaced-repetition review",
		Long: `Review updates a memory's FSRS stability and difficulty.

Grades: again (1), hard (2), good (3), easy (4).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			g, err := parseGrade(grade)
			if err != nil {
				return err
			}
			return opts.withClient(func(client *core.Client) error {
				outcome, ok, err := client.Review(cmd.Context(), id, g)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("memory %d: %w", id, core.ErrNotFound)
				}
				return printJSON(cmd, outcome)
			})
		},
	}

	cmd.Flags().StringVarP(&grade, "grade", "g", "good", "Grade: again, hard, good, easy or 1-4")
	return cmd
}

func parseGrade(s string) (intelligence.Grade, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "again", "1":
		return intelligence.GradeAgain, nil
	case "hard", "2":
		return intelligence.GradeHard, nil
	case "good", "3", "":
		return intelligence.GradeGood, nil
	case "easy", "4":
		return intelligence.GradeEasy, nil
	}
	return 0, fmt.Errorf("unknown grade %q", s)
}

func newStateCmd(opts *rootOptions) *cobra.Command {
	var (
		folder string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "state [HOT|WARM|COLD|DORMANT|ARCHIVED]",
		Short: "Show memory counts per state, or the memories in one state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withClient(func(client *core.Client) error {
				if len(args) == 0 {
					return printJSON(cmd, client.StateStats(cmd.Context(), folder))
				}
				state, ok := intelligence.ParseState(args[0])
				if !ok {
					return fmt.Errorf("unknown state %q", args[0])
				}
				return printJSON(cmd, client.StateContent(cmd.Context(), state, folder, limit))
			})
		},
	}

	cmd.Flags().StringVarP(&folder, "folder", "s", "", "Limit to one spec folder")
	cmd.Flags().IntVarP(&limit, "limit", "l", intelligence.DefaultStateLimit, "Max memories")
	return cmd
}

func newConflictsCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List recent write-gate decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withClient(func(client *core.Client) error {
				return printJSON(cmd, client.ListConflicts(cmd.Context(), limit))
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Max records")
	return cmd
}
