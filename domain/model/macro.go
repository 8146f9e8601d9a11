package model

import "strings"

// MacroPrefix marks a macro token in query text.
const MacroPrefix = "@"

// Macro maps a short token to a fixed SQL fragment.
type Macro struct {
	// Token is the literal text replaced in queries, including MacroPrefix.
	Token string `json:"token"`
	// Body is the SQL the token expands to, without surrounding parentheses.
	Body string `json:"body"`
	// Description is shown by hinting surfaces.
	Description string `json:"description"`
}

// defaultMacros is the closed macro vocabulary in declaration order.
var defaultMacros = []Macro{
	{
		Token:       "@top_users",
		Body:        "SELECT user_id, count(*) as cnt FROM sales GROUP BY user_id ORDER BY cnt DESC LIMIT 10",
		Description: "ten users with the most sales rows",
	},
	{
		Token:       "@daily_agg",
		Body:        "SELECT date_trunc('day', timestamp) as day, sum(amount) as total FROM sales GROUP BY 1 ORDER BY 1",
		Description: "daily total of sales.amount",
	},
	{
		Token:       "@dedup_latest",
		Body:        "SELECT * FROM (SELECT *, row_number() OVER (PARTITION BY id ORDER BY updated_at DESC) as rn FROM my_table) WHERE rn = 1",
		Description: "latest row per id of my_table",
	},
}

// DefaultMacros returns a copy of the built-in macro set in declaration order.
func DefaultMacros() []Macro {
	macros := make([]Macro, len(defaultMacros))
	copy(macros, defaultMacros)
	return macros
}

// MacroTokens returns the tokens of macros in order.
func MacroTokens(macros []Macro) []string {
	tokens := make([]string, len(macros))
	for i, m := range macros {
		tokens[i] = m.Token
	}
	return tokens
}

// ExpandMacros expands the default macro set in query.
func ExpandMacros(query string) string {
	return ExpandMacrosWith(query, defaultMacros)
}

// ExpandMacrosWith replaces every occurrence of each macro token with its body
// wrapped in parentheses, so it composes as a subquery or scalar expression.
//
// Expansion is a single left-to-right pass over query. Replaced text is never
// rescanned, so a body that contains a token stays as written. When two tokens
// match at the same position the one declared first wins. Tokens are matched
// as plain substrings, including inside string literals.
func ExpandMacrosWith(query string, macros []Macro) string {
	pairs := make([]string, 0, 2*len(macros))
	for _, m := range macros {
		if m.Token == "" || !strings.Contains(query, m.Token) {
			continue
		}
		pairs = append(pairs, m.Token, "("+m.Body+")")
	}
	if len(pairs) == 0 {
		return query
	}
	return strings.NewReplacer(pairs...).Replace(query)
}
