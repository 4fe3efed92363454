package admin

import (
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestTable() *Table {
	t := NewTable()
	t.Register("set", "set a value", nil)
	t.Register("set.queue_priority", "set queue_priority <default|time|eap>", func(ctx *Context, args []string, out *strings.Builder) error {
		out.WriteString("ok\n")
		return nil
	})
	t.Register("show.stats", "show pool stats", func(ctx *Context, args []string, out *strings.Builder) error {
		out.WriteString("stats\n")
		return nil
	})
	return t
}

func run(t *Table, input string) string {
	var out strings.Builder
	r := New(t, zap.NewNop(), strings.NewReader(input), &out)
	r.Run()
	return out.String()
}

func TestAdmin_RunnableCommand(t *testing.T) {
	out := run(newTestTable(), "show stats\nexit\n")
	if !strings.Contains(out, "stats") {
		t.Fatalf("expected stats output, got %q", out)
	}
}

func TestAdmin_CommentAndBlankLinesIgnored(t *testing.T) {
	tbl := newTestTable()
	var out strings.Builder
	r := New(tbl, zap.NewNop(), strings.NewReader("# a comment\n\nshow stats\nexit\n"), &out)
	r.Run()
	if len(r.History()) != 2 { // "show stats" and "exit" only
		t.Fatalf("expected 2 history entries, got %d: %v", len(r.History()), r.History())
	}
}

func TestAdmin_ParseErrorStillRecordedInHistory(t *testing.T) {
	tbl := newTestTable()
	var out strings.Builder
	r := New(tbl, zap.NewNop(), strings.NewReader("bogus command\nexit\n"), &out)
	r.Run()
	hist := r.History()
	if len(hist) != 2 || hist[0] != "bogus command" {
		t.Fatalf("expected parse-error line retained in history, got %v", hist)
	}
	if !strings.Contains(out.String(), "error:") {
		t.Fatalf("expected error line in output, got %q", out.String())
	}
}

// Multi-level partial descent in one line, then exit pops back to the
// context active before that whole line, not one tree node at a time.
func TestAdmin_ExitPopsToLineEntryContext(t *testing.T) {
	tbl := NewTable()
	tbl.Register("a", "", nil)
	tbl.Register("a.b", "", nil)
	tbl.Register("a.b.c", "leaf", func(ctx *Context, args []string, out *strings.Builder) error {
		out.WriteString("leaf-ran\n")
		return nil
	})

	var out strings.Builder
	// "a b" descends two levels in one line; a single exit must then return
	// to the root, where one-node-at-a-time popping would stop at "a".
	r := New(tbl, zap.NewNop(), strings.NewReader("a\nb\nexit\nexit\na b\nexit\n"), &out)
	r.Run()

	if r.current != tbl.root {
		t.Fatalf("expected to be back at root after the final exit, got %v", r.current)
	}
}

func TestTokenize_CapsAt32Tokens(t *testing.T) {
	line := strings.Repeat("x ", 40)
	toks := tokenize(line)
	if len(toks) != maxTokens {
		t.Fatalf("expected %d tokens, got %d", maxTokens, len(toks))
	}
}
