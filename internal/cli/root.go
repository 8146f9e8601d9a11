// Package cli implements the csvbook command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/internal/config"
	"github.com/nao1215/csvbook/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
)

// defaultConfigFile is read from the working directory when present and no
// other file is named.
const defaultConfigFile = "csvbook.yaml"

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// app carries the resolved settings shared by every command.
type app struct {
	configPath string
	flags      config.Config
	cfg        *config.Config
	repl       replFlags
	logger     *slog.Logger
	closeLog   func()
}

func newRootCmd() *cobra.Command {
	a := &app{closeLog: func() {}}

	rootCmd := &cobra.Command{
		Use:   "csvbook",
		Short: "Notebook-style SQL over a folder of CSV files",
		Long: `csvbook loads CSV files into an embedded SQL engine and lets you query
them from an interactive prompt, the command line or the notebook API.

Without a subcommand it starts the interactive prompt.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.resolve(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.closeLog()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runREPL(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	def := config.Default()
	pf.StringVarP(&a.configPath, "config", "c", "", "config file (default ./"+defaultConfigFile+" when present)")
	pf.StringVar(&a.flags.Engine, "engine", def.Engine, "SQL engine: duckdb or sqlite")
	pf.StringVar(&a.flags.Database, "database", def.Database, `database file, "" for in-memory`)
	pf.StringVar(&a.flags.DataDir, "data-dir", def.DataDir, "folder holding the CSV files")
	pf.StringVar(&a.flags.SchemaDir, "schema-dir", def.SchemaDir, "folder holding schema snapshots")
	pf.IntVar(&a.flags.Threads, "threads", def.Threads, "engine threads")
	pf.StringVar(&a.flags.MemoryLimit, "memory-limit", def.MemoryLimit, "engine memory limit")
	pf.IntVar(&a.flags.MaxResultRows, "max-rows", def.MaxResultRows, "maximum rows returned by a query")
	pf.BoolVar(&a.flags.AutoScan, "auto-scan", def.AutoScan, "ingest new CSV files of the data folder on start")
	pf.StringVar(&a.flags.LogLevel, "log-level", def.LogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&a.flags.LogFormat, "log-format", def.LogFormat, "log format: text or json")
	pf.StringVar(&a.flags.SeqURL, "seq-url", "", "Seq server receiving logs")

	a.repl.bind(rootCmd)

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newREPLCmd(a))
	rootCmd.AddCommand(newIngestCmd(a))
	rootCmd.AddCommand(newScanCmd(a))
	rootCmd.AddCommand(newQueryCmd(a))
	rootCmd.AddCommand(newTablesCmd(a))
	rootCmd.AddCommand(newDescribeCmd(a))
	rootCmd.AddCommand(newDropCmd(a))
	rootCmd.AddCommand(newSnapshotsCmd(a))
	rootCmd.AddCommand(newExportCmd(a))
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// resolve applies precedence flag > env > file > default and builds the
// logger.
func (a *app) resolve(cmd *cobra.Command) error {
	path := a.configPath
	if path == "" {
		path = os.Getenv(config.EnvPrefix + "CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	override := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	override("engine", func() { cfg.Engine = a.flags.Engine })
	override("database", func() { cfg.Database = a.flags.Database })
	override("data-dir", func() { cfg.DataDir = a.flags.DataDir })
	override("schema-dir", func() { cfg.SchemaDir = a.flags.SchemaDir })
	override("threads", func() { cfg.Threads = a.flags.Threads })
	override("memory-limit", func() { cfg.MemoryLimit = a.flags.MemoryLimit })
	override("max-rows", func() { cfg.MaxResultRows = a.flags.MaxResultRows })
	override("auto-scan", func() { cfg.AutoScan = a.flags.AutoScan })
	override("log-level", func() { cfg.LogLevel = a.flags.LogLevel })
	override("log-format", func() { cfg.LogFormat = a.flags.LogFormat })
	override("seq-url", func() { cfg.SeqURL = a.flags.SeqURL })
	override("listen", func() { cfg.ListenAddr = a.flags.ListenAddr })

	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, a.closeLog = logging.SetupLogger(cmd.ErrOrStderr(), logging.Options{
		Level:  cfg.SlogLevel(),
		Format: cfg.LogFormat,
		SeqURL: cfg.SeqURL,
	})
	return nil
}

// openWorkspace opens the configured workspace. Auto scan is applied only
// when scan is true.
func (a *app) openWorkspace(ctx context.Context, scan bool) (*csvbook.Workspace, error) {
	b, err := a.cfg.Builder(a.logger)
	if err != nil {
		return nil, err
	}
	return b.WithAutoScan(scan && a.cfg.AutoScan).Open(ctx)
}

// withWorkspace runs fn against a workspace opened without auto scan.
func (a *app) withWorkspace(cmd *cobra.Command, fn func(*csvbook.Workspace, io.Writer) error) (err error) {
	ws, err := a.openWorkspace(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, ws.Close()) }()
	return fn(ws, cmd.OutOrStdout())
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "csvbook %s (%s)\n", version, commit)
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
}
