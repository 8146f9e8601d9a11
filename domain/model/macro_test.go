package model

import (
	"strings"
	"testing"
)

func TestExpandMacros(t *testing.T) {
	t.Parallel()

	t.Run("default macro is wrapped in parentheses", func(t *testing.T) {
		t.Parallel()
		got := ExpandMacros("SELECT * FROM @top_users")
		want := "SELECT * FROM (SELECT user_id, count(*) as cnt FROM sales GROUP BY user_id ORDER BY cnt DESC LIMIT 10)"
		if got != want {
			t.Errorf("ExpandMacros() = %q, want %q", got, want)
		}
	})

	t.Run("every occurrence is replaced", func(t *testing.T) {
		t.Parallel()
		got := ExpandMacros("SELECT * FROM @daily_agg a JOIN @daily_agg b USING (day)")
		if strings.Contains(got, "@daily_agg") {
			t.Errorf("token left in %q", got)
		}
		if n := strings.Count(got, "date_trunc"); n != 2 {
			t.Errorf("expansions = %d, want 2", n)
		}
	})

	t.Run("query without tokens is unchanged", func(t *testing.T) {
		t.Parallel()
		const q = "SELECT 1 -- user@example.com"
		if got := ExpandMacros(q); got != q {
			t.Errorf("ExpandMacros() = %q, want %q", got, q)
		}
	})
}

func TestExpandMacrosWith_NotRecursive(t *testing.T) {
	t.Parallel()

	macros := []Macro{
		{Token: "@a", Body: "SELECT '@b' AS x"},
		{Token: "@b", Body: "SELECT '@a' AS y"},
	}
	got := ExpandMacrosWith("@a UNION ALL @b", macros)
	want := "(SELECT '@b' AS x) UNION ALL (SELECT '@a' AS y)"
	if got != want {
		t.Errorf("ExpandMacrosWith() = %q, want %q", got, want)
	}

	self := []Macro{{Token: "@loop", Body: "SELECT '@loop'"}}
	if got := ExpandMacrosWith("@loop", self); got != "(SELECT '@loop')" {
		t.Errorf("self reference expanded more than once: %q", got)
	}
}

func TestExpandMacrosWith_DeclarationOrderWins(t *testing.T) {
	t.Parallel()

	macros := []Macro{
		{Token: "@user", Body: "SELECT 1"},
		{Token: "@users", Body: "SELECT 2"},
	}
	if got := ExpandMacrosWith("@users", macros); got != "(SELECT 1)s" {
		t.Errorf("ExpandMacrosWith() = %q", got)
	}
}

func TestDefaultMacros(t *testing.T) {
	t.Parallel()

	macros := DefaultMacros()
	want := []string{"@top_users", "@daily_agg", "@dedup_latest"}
	tokens := MacroTokens(macros)
	if strings.Join(tokens, ",") != strings.Join(want, ",") {
		t.Errorf("MacroTokens() = %v, want %v", tokens, want)
	}

	macros[0].Body = "changed"
	if DefaultMacros()[0].Body == "changed" {
		t.Error("DefaultMacros() must return a copy")
	}
}
