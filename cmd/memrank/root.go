package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/oceanbase/memrank-go/pkg/core"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "memrank",
		Short: "Retention-aware long-term memory for coding agents",
		Long: `memrank stores memories in SQL, schedules them with FSRS, ranks search
results by composite score and graph authority, and archives what has
gone cold.

Configuration is read from --config (YAML, with MEMRANK_ environment
overrides) or, without it, from DATABASE_PROVIDER, SQLITE_PATH and the
other variables documented by LoadConfigFromEnv.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&opts.dbPath, "db", "d", "", "SQLite database path (overrides config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newSaveCmd(opts),
		newSearchCmd(opts),
		newGetCmd(opts),
		newReviewCmd(opts),
		newStateCmd(opts),
		newConflictsCmd(opts),
		newArchiveCmd(opts),
		newWorkingMemoryCmd(opts),
		newCheckpointCmd(opts),
	)
	return root
}

// loadConfig resolves the configuration for one invocation.
func (o *rootOptions) loadConfig() (*core.Config, error) {
	var (
		cfg *core.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = core.LoadConfigFromYAML(o.configPath)
	} else {
		cfg, err = core.LoadConfigFromEnv()
	}
	if err != nil {
		return nil, err
	}

	if o.dbPath != "" {
		cfg.Store.Provider = "sqlite"
		cfg.Store.SQLite.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	} else if os.Getenv("LOG_LEVEL") == "" && o.configPath == "" {
		cfg.Logging.Level = "warn"
	}
	// Periodic jobs belong to long-running processes; archive run starts
	// its own.
	cfg.Background.ArchivalScan = false
	cfg.Background.WorkingMemoryDecay = false
	return cfg, nil
}

func (o *rootOptions) openClient() (*core.Client, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	return core.NewClient(cfg)
}

// withClient opens a client, runs fn and closes the client.
func (o *rootOptions) withClient(fn func(*core.Client) error) error {
	client, err := o.openClient()
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}
	defer func() { _ = client.Close() }()
	return fn(client)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readContent takes content from the positional args, or from stdin when
// none are given and stdin is not a terminal.
func readContent(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("content is required (positional arg or stdin)")
		}
	}
	b, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid memory id %q", s)
	}
	return id, nil
}
