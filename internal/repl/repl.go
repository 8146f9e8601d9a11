// Package repl is the interactive SQL prompt over a csvbook workspace.
package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/nao1215/csvbook"
	"github.com/nao1215/csvbook/domain/model"
)

const (
	// Prompt is shown before every SQL line.
	Prompt = "sql> "
	// ingestPrompt is shown while asking for extra files at startup.
	ingestPrompt = "csv path (blank to continue)> "
	// MaxPrintRows bounds the rows printed per result.
	MaxPrintRows = 20
)

// errQuit ends the loop.
var errQuit = errors.New("quit")

// Options tunes a REPL.
type Options struct {
	// PromptIngest asks for additional CSV paths before the SQL loop.
	PromptIngest bool
	// Color enables colored output.
	Color bool
	// Logger receives command failures. Nil discards them.
	Logger *slog.Logger
}

// lineReader is satisfied by *term.Terminal and by scannerReader.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	sc  *bufio.Scanner
	out io.Writer
	// prompt is printed before every read; term.Terminal draws its own.
	prompt string
}

func (s *scannerReader) ReadLine() (string, error) {
	fmt.Fprint(s.out, s.prompt)
	if !s.sc.Scan() {
		if err := s.sc.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return s.sc.Text(), nil
}

// REPL reads SQL and commands line by line and prints their results.
type REPL struct {
	ws        *csvbook.Workspace
	in        io.Reader
	out       io.Writer
	opts      Options
	logger    *slog.Logger
	completer *csvbook.Completer
	setPrompt func(string)

	errColor  *color.Color
	infoColor *color.Color
}

// New returns a REPL reading from in and writing to out.
func New(ws *csvbook.Workspace, in io.Reader, out io.Writer, opts Options) *REPL {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	r := &REPL{
		ws:        ws,
		in:        in,
		out:       out,
		opts:      opts,
		logger:    logger,
		errColor:  color.New(color.FgRed),
		infoColor: color.New(color.FgYellow),
	}
	if opts.Color {
		r.errColor.EnableColor()
		r.infoColor.EnableColor()
	} else {
		r.errColor.DisableColor()
		r.infoColor.DisableColor()
	}
	return r
}

// Run runs the loop until EOF, a quit command or ctx is done. When in is a
// terminal it is switched to raw mode for line editing and tab completion.
func (r *REPL) Run(ctx context.Context) error {
	var reader lineReader = r.plainReader()
	if f, ok := r.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		state, err := term.MakeRaw(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		defer func() { _ = term.Restore(int(f.Fd()), state) }()

		t := term.NewTerminal(struct {
			io.Reader
			io.Writer
		}{r.in, r.out}, Prompt)
		t.AutoCompleteCallback = r.autoComplete(t)
		r.out = t
		r.setPrompt = t.SetPrompt
		reader = t
	}

	r.refreshCompleter(ctx)
	r.banner(ctx)
	if r.opts.PromptIngest {
		if err := r.promptIngest(ctx, reader); err != nil {
			return ignoreEOF(err)
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := reader.ReadLine()
		if err != nil {
			return ignoreEOF(err)
		}
		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			return err
		}
	}
}

func (r *REPL) plainReader() *scannerReader {
	s := &scannerReader{sc: bufio.NewScanner(r.in), out: r.out, prompt: Prompt}
	r.setPrompt = func(p string) { s.prompt = p }
	return s
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (r *REPL) banner(ctx context.Context) {
	fmt.Fprintln(r.out, "csvbook interactive SQL")
	if r.ws.Standby() {
		r.infoColor.Fprintln(r.out, "database is in use elsewhere: running in read-only standby, nothing is persisted")
	}
	tables, err := r.ws.ListTables(ctx)
	if err == nil {
		fmt.Fprintf(r.out, "%d table(s) loaded from %s\n", len(tables), r.ws.DataDir())
	}
	fmt.Fprintln(r.out, `Type \help for commands, \q to quit.`)
}

// promptIngest asks for CSV paths until a blank line.
func (r *REPL) promptIngest(ctx context.Context, reader lineReader) error {
	r.setPrompt(ingestPrompt)
	defer r.setPrompt(Prompt)
	for {
		line, err := reader.ReadLine()
		if err != nil {
			return err
		}
		path := strings.TrimSpace(line)
		if path == "" {
			return nil
		}
		r.ingest(ctx, path)
	}
}

// Execute runs one input line: a backslash command, a quit word or SQL.
func (r *REPL) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	switch strings.ToLower(line) {
	case "exit", "quit", `\q`:
		return errQuit
	}
	if strings.HasPrefix(line, `\`) {
		r.command(ctx, line)
		return nil
	}

	result, err := r.ws.Query(ctx, line)
	if err != nil {
		r.printError(err)
		return nil
	}
	PrintResult(r.out, result)
	// DDL may have changed the table set.
	r.refreshCompleter(ctx)
	return nil
}

func (r *REPL) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case `\help`, `\?`:
		r.help()
	case `\tables`, `\dt`:
		tables, err := r.ws.ListTables(ctx)
		if err != nil {
			r.printError(err)
			return
		}
		for _, t := range tables {
			fmt.Fprintf(r.out, "  %s\n", t)
		}
	case `\d`:
		columns, err := r.ws.Describe(ctx, arg)
		if err != nil {
			r.printError(err)
			return
		}
		tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		for _, c := range columns {
			fmt.Fprintf(tw, "  %s\t%s\n", c.Name, c.Type)
		}
		_ = tw.Flush()
	case `\ingest`:
		if arg == "" {
			r.errColor.Fprintln(r.out, `usage: \ingest <path>`)
			return
		}
		r.ingest(ctx, arg)
	case `\scan`:
		dir := arg
		if dir == "" {
			dir = r.ws.DataDir()
		}
		tables, err := r.ws.ScanFolder(ctx, dir)
		if err != nil {
			r.printError(err)
		}
		fmt.Fprintf(r.out, "ingested %d table(s) from %s\n", len(tables), dir)
		r.refreshCompleter(ctx)
	case `\drop`:
		if err := r.ws.DropTable(ctx, arg); err != nil {
			r.printError(err)
			return
		}
		fmt.Fprintf(r.out, "dropped %s\n", arg)
		r.refreshCompleter(ctx)
	case `\macros`:
		tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
		for _, m := range r.ws.Macros() {
			fmt.Fprintf(tw, "  %s\t%s\n", m.Token, m.Description)
		}
		_ = tw.Flush()
	case `\snapshots`:
		ids, err := r.ws.ListSnapshots(arg)
		if err != nil {
			r.printError(err)
			return
		}
		for _, id := range ids {
			fmt.Fprintf(r.out, "  %s\n", id)
		}
	default:
		r.errColor.Fprintf(r.out, "unknown command %s, try \\help\n", name)
	}
}

func (r *REPL) help() {
	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	for _, h := range [][2]string{
		{`\tables`, "list tables"},
		{`\d <table>`, "describe a table"},
		{`\ingest <path>`, "load a CSV file as a table, replacing it"},
		{`\scan [dir]`, "load every CSV file of a folder not loaded yet"},
		{`\drop <table>`, "drop a table and its data file"},
		{`\macros`, "list query macros"},
		{`\snapshots [table]`, "list schema snapshots, newest first"},
		{`\q`, "quit"},
	} {
		fmt.Fprintf(tw, "  %s\t%s\n", h[0], h[1])
	}
	_ = tw.Flush()
}

func (r *REPL) ingest(ctx context.Context, path string) {
	table, err := r.ws.IngestFile(ctx, path)
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintf(r.out, "loaded %s as %s\n", path, table)
	r.refreshCompleter(ctx)
}

func (r *REPL) printError(err error) {
	r.logger.Debug("command failed", "event", "repl_error", "error", err)
	var qe *csvbook.QueryError
	if errors.As(err, &qe) && qe.Line > 0 {
		r.errColor.Fprintf(r.out, "error at line %d, column %d: %s\n", qe.Line, qe.Column, qe.Message)
		return
	}
	r.errColor.Fprintf(r.out, "error: %v\n", err)
}

func (r *REPL) refreshCompleter(ctx context.Context) {
	c, err := r.ws.Completer(ctx)
	if err != nil {
		r.logger.Warn("completer refresh failed", "event", "repl_error", "error", err)
		return
	}
	r.completer = c
}

// autoComplete returns the tab handler of t. A single suggestion, or a
// longer common prefix, is inserted; otherwise the suggestions are listed.
func (r *REPL) autoComplete(t *term.Terminal) func(string, int, rune) (string, int, bool) {
	return func(line string, pos int, key rune) (string, int, bool) {
		if key != '\t' || r.completer == nil {
			return "", 0, false
		}
		newLine, newPos, suggestions := Complete(r.completer, line, pos)
		if len(suggestions) > 1 && newPos == pos {
			fmt.Fprintf(t, "%s\n", strings.Join(suggestions, "  "))
		}
		return newLine, newPos, true
	}
}

// Complete applies tab completion to line at the cursor pos and returns the
// new line, the new cursor and the suggestions.
func Complete(c *csvbook.Completer, line string, pos int) (string, int, []string) {
	suggestions, word := c.Complete(line[:pos])
	if len(suggestions) == 0 {
		return line, pos, suggestions
	}
	insert := suggestions[0]
	if len(suggestions) > 1 {
		insert = commonPrefix(suggestions)
		if len(insert) <= len(word) {
			return line, pos, suggestions
		}
	}
	start := pos - len(word)
	return line[:start] + insert + line[pos:], start + len(insert), suggestions
}

// commonPrefix returns the longest case-insensitive common prefix, spelled as
// in the first item.
func commonPrefix(items []string) string {
	prefix := items[0]
	for _, s := range items[1:] {
		n := 0
		for n < len(prefix) && n < len(s) && strings.EqualFold(prefix[n:n+1], s[n:n+1]) {
			n++
		}
		prefix = prefix[:n]
	}
	return prefix
}

// PrintResult writes at most MaxPrintRows rows of res as an aligned table.
func PrintResult(w io.Writer, res *model.ResultSet) {
	if res == nil {
		return
	}
	if len(res.Columns) == 0 {
		fmt.Fprintln(w, "OK")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(res.Columns, "\t"))
	sep := make([]string, len(res.Columns))
	for i := range sep {
		sep[i] = "---"
	}
	fmt.Fprintln(tw, strings.Join(sep, "\t"))

	for i, row := range res.Rows {
		if i == MaxPrintRows {
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			if v == nil {
				cells[j] = "NULL"
			} else {
				cells[j] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	_ = tw.Flush()

	switch n := res.RowCount(); {
	case res.Truncated:
		fmt.Fprintf(w, "(%d+ rows, showing %d)\n", n, min(n, MaxPrintRows))
	case n > MaxPrintRows:
		fmt.Fprintf(w, "(%d rows, showing %d)\n", n, MaxPrintRows)
	default:
		fmt.Fprintf(w, "(%d rows)\n", n)
	}
}
