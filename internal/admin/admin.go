// Package admin implements the interactive administration loop (spec
// §4.7): a line-oriented REPL over a hierarchical command tree, with
// context-sensitive help/exit and history that records even parse
// errors. Grounded directly on FreeRADIUS's radmin.c — specifically its
// non-readline fallback reader — because the go-prompt fork retrieved
// alongside this repo's other examples doesn't include the file defining
// the constructor referenced by its own example (prompt.Input/With*), so
// its signature couldn't be verified closely enough to call it.
package admin

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// REPL runs the admin command loop against a Table.
type REPL struct {
	table   *Table
	logger  *zap.Logger
	in      *bufio.Scanner
	out     io.Writer
	started time.Time

	current    *Command
	entryStack []*Command // context active before each Partial descent
	history    []string
}

func New(table *Table, logger *zap.Logger, in io.Reader, out io.Writer) *REPL {
	return &REPL{
		table:   table,
		logger:  logger,
		in:      bufio.NewScanner(in),
		out:     out,
		started: time.Now(),
		current: table.root,
	}
}

// prompt mirrors radmin.c: "radmin> " at the root, "... <last-token>> "
// inside a context.
func (r *REPL) prompt() string {
	if r.current == r.table.root {
		return "radmin> "
	}
	return fmt.Sprintf("... %s> ", r.current.Name)
}

// Run reads lines until EOF or a root-level "exit", writing prompts and
// output to r.out. It returns when the loop should terminate.
func (r *REPL) Run() {
	for {
		fmt.Fprint(r.out, r.prompt())
		if !r.in.Scan() {
			return
		}
		line := strings.TrimRight(r.in.Text(), "\r\n")

		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if r.handleLine(trimmed) {
			return
		}
	}
}

// handleLine processes one non-comment, non-blank line. It returns true
// if the REPL should terminate (a root-level "exit").
func (r *REPL) handleLine(line string) bool {
	argv := tokenize(line)
	if len(argv) == 0 {
		return false
	}

	switch argv[0] {
	case "exit":
		r.history = append(r.history, line)
		return r.doExit()
	case "help":
		r.history = append(r.history, line)
		r.doHelp(argv[1:])
		return false
	case "uptime":
		r.history = append(r.history, line)
		fmt.Fprintf(r.out, "uptime: %s\n", time.Since(r.started).Round(time.Second))
		return false
	}

	result, cmd, rest, err := r.table.parse(r.current, argv)
	r.history = append(r.history, line)

	switch result {
	case ResultRunnable:
		var sb strings.Builder
		if herr := cmd.Handler(&Context{current: cmd}, rest, &sb); herr != nil {
			fmt.Fprintf(r.out, "error: %v\n", herr)
		} else {
			io.WriteString(r.out, sb.String())
		}
	case ResultPartial:
		r.entryStack = append(r.entryStack, r.current)
		r.current = cmd
	case ResultParseError:
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
	return false
}

// doExit pops to the context in force when the current partial was
// entered, not merely one tree level — that context is whatever is on
// top of entryStack, which may be several tree levels above r.current if
// a single line's partial match descended through more than one node.
// At the root, exit requests global termination.
func (r *REPL) doExit() bool {
	if len(r.entryStack) == 0 {
		return true
	}
	n := len(r.entryStack) - 1
	r.current = r.entryStack[n]
	r.entryStack = r.entryStack[:n]
	return false
}

func (r *REPL) doHelp(args []string) {
	node := r.current
	if len(args) > 0 {
		if child, ok := node.Children[args[0]]; ok {
			node = child
		}
	}
	if node.Help != "" {
		fmt.Fprintln(r.out, node.Help)
	}
	names := make([]string, 0, len(node.Children))
	for name := range node.Children {
		names = append(names, name)
	}
	if len(names) > 0 {
		fmt.Fprintln(r.out, strings.Join(names, "  "))
	}
}

// History returns every line seen so far, including parse errors — lines
// are recorded whether or not they ran, matching radmin.c's behavior so
// an operator can recall and edit a mistyped command.
func (r *REPL) History() []string {
	out := make([]string, len(r.history))
	copy(out, r.history)
	return out
}

// Context is passed to a runnable Handler; it exposes the command node
// the handler was resolved against.
type Context struct {
	current *Command
}

func (c *Context) Name() string { return c.current.Name }
