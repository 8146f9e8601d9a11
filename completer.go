package csvbook

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/nao1215/csvbook/domain/model"
)

var sqlKeywords = []string{
	"select", "from", "where", "group by", "order by",
	"join", "left join", "right join", "inner join",
	"create", "or replace", "table", "drop", "union", "all",
	"window", "over", "partition by", "limit",
	"having", "distinct", "as", "on",
}

var sqlFunctions = []string{
	"count", "sum", "avg", "min", "max",
	"row_number", "rank", "dense_rank",
	"lag", "lead", "coalesce",
}

var (
	tableContextRe  = regexp.MustCompile(`(?i)\b(from|join)\s+\w*$`)
	columnContextRe = regexp.MustCompile(`(\w+)\.(\w*)$`)
	wordRe          = regexp.MustCompile(`[@\w]*$`)
)

// Completer suggests SQL keywords, functions, macros, tables and columns for
// the text before the cursor. It works on a snapshot of the catalog.
type Completer struct {
	tables  []string
	columns map[string][]string
	macros  []string
}

// NewCompleter builds a completer over tree and macros.
func NewCompleter(tree []TableSchema, macros []model.Macro) *Completer {
	c := &Completer{
		tables:  make([]string, 0, len(tree)),
		columns: make(map[string][]string, len(tree)),
		macros:  model.MacroTokens(macros),
	}
	for _, t := range tree {
		c.tables = append(c.tables, t.Name)
		c.columns[strings.ToLower(t.Name)] = model.ColumnNames(t.Columns)
	}
	return c
}

// Completer returns a completer over the current tables.
func (w *Workspace) Completer(ctx context.Context) (*Completer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tree, err := w.schemaTree(ctx, "")
	if err != nil {
		return nil, err
	}
	return NewCompleter(tree, w.macros), nil
}

// Complete returns the sorted suggestions for text, the input before the
// cursor, and the partial word they replace.
//
// After "table." only that table's columns are offered; after FROM or JOIN
// only tables. Otherwise keywords, functions, macros and tables are offered.
// Matching is a case-insensitive prefix match.
func (c *Completer) Complete(text string) ([]string, string) {
	if m := columnContextRe.FindStringSubmatch(text); m != nil {
		return matchPrefix(c.columns[strings.ToLower(m[1])], m[2]), m[2]
	}

	word := wordRe.FindString(text)
	if tableContextRe.MatchString(text) {
		return matchPrefix(c.tables, word), word
	}

	candidates := make([]string, 0, len(sqlKeywords)+len(sqlFunctions)+len(c.macros)+len(c.tables))
	candidates = append(candidates, sqlKeywords...)
	candidates = append(candidates, sqlFunctions...)
	candidates = append(candidates, c.macros...)
	candidates = append(candidates, c.tables...)
	return matchPrefix(candidates, word), word
}

func matchPrefix(candidates []string, prefix string) []string {
	prefix = strings.ToLower(prefix)
	out := []string{}
	for _, s := range candidates {
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
