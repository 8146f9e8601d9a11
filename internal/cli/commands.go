package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/domain/model"
	"github.com/nao1215/csvbook/internal/config"
	"github.com/nao1215/csvbook/internal/repl"
)

type replFlags struct {
	promptIngest bool
	noColor      bool
}

func (f *replFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.promptIngest, "ingest-prompt", false, "ask for extra CSV files before the SQL prompt")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable colored output")
}

func newREPLCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start the interactive SQL prompt",
		Long: `Start the interactive SQL prompt. The data folder is scanned first unless
auto scan is disabled. Macros such as @top_users are expanded and tab
completes keywords, tables and columns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runREPL(cmd)
		},
	}
	a.repl.bind(cmd)
	return cmd
}

func (a *app) runREPL(cmd *cobra.Command) (err error) {
	ws, err := a.openWorkspace(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, ws.Close()) }()

	r := repl.New(ws, cmd.InOrStdin(), cmd.OutOrStdout(), repl.Options{
		PromptIngest: a.repl.promptIngest,
		Color:        !a.repl.noColor && !color.NoColor,
		Logger:       a.logger,
	})
	return r.Run(cmd.Context())
}

func newIngestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <file.csv>...",
		Short: "Load CSV files as tables, replacing tables of the same name",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				var errs []error
				for _, path := range args {
					table, err := ws.IngestFile(cmd.Context(), path)
					if err != nil {
						errs = append(errs, err)
						continue
					}
					fmt.Fprintf(out, "%s -> %s\n", path, table)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newScanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "scan [dir]",
		Short: "Load the CSV files of a folder that are not tables yet",
		Long:  "Load every top-level .csv file of dir (default: the data folder) whose table does not exist yet.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				dir := ws.DataDir()
				if len(args) == 1 {
					dir = args[0]
				}
				tables, err := ws.ScanFolder(cmd.Context(), dir)
				for _, t := range tables {
					fmt.Fprintln(out, t)
				}
				return err
			})
		},
	}
}

func newQueryCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run one SQL statement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "table" && output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
			}
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				result, err := ws.Query(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if output == "json" {
					return printJSON(out, result)
				}
				repl.PrintResult(out, result)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	return cmd
}

func newTablesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				tables, err := ws.ListTables(cmd.Context())
				if err != nil {
					return err
				}
				for _, t := range tables {
					fmt.Fprintln(out, t)
				}
				return nil
			})
		},
	}
}

func newDescribeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "describe <table>",
		Short: "Show the columns of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				columns, err := ws.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				printColumns(out, columns)
				return nil
			})
		},
	}
}

func newDropCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "drop <table>",
		Short: "Drop a table and delete its CSV files from the data folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				if err := ws.DropTable(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "dropped %s\n", args[0])
				return nil
			})
		},
	}
}

func newSnapshotsCmd(a *app) *cobra.Command {
	var show string
	cmd := &cobra.Command{
		Use:   "snapshots [table]",
		Short: "List schema snapshots, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				if show != "" {
					snap, err := ws.LoadSnapshot(show)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "%s (%s)\n", snap.ID, snap.CreatedAt.Format("2006-01-02 15:04:05"))
					printColumns(out, snap.Columns)
					return nil
				}
				table := ""
				if len(args) == 1 {
					table = args[0]
				}
				ids, err := ws.ListSnapshots(table)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Fprintln(out, id)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&show, "show", "", "print the columns of the snapshot with this id")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var dir, format, compression string
	cmd := &cobra.Command{
		Use:   "export <table>",
		Short: "Write a table to a file",
		Long:  "Write a table as csv, tsv, ltsv, xlsx or parquet, optionally compressed with gz, xz, zstd or lz4.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := model.ParseOutputFormat(format)
			if err != nil {
				return err
			}
			c, err := model.ParseCompressionType(compression)
			if err != nil {
				return err
			}
			return a.withWorkspace(cmd, func(ws *csvbook.Workspace, out io.Writer) error {
				opts := model.NewExportOptions().WithFormat(f).WithCompression(c)
				path, err := ws.ExportTable(cmd.Context(), args[0], dir, opts)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv, tsv, ltsv, xlsx, parquet)")
	cmd.Flags().StringVar(&compression, "compression", "none", "compression (none, gz, xz, zstd, lz4)")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(a.cfg)
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration to a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := defaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
			if err := config.Default().Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func printColumns(out io.Writer, columns []model.Column) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range columns {
		fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Type)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
