package admin

import (
	"fmt"
	"strings"
)

// maxTokens bounds argv tokenization (§4.7).
const maxTokens = 32

// Handler executes a runnable command. out is the REPL's own output
// stream (radmin.c's FILE *fp parameter), not the structured logger.
type Handler func(ctx *Context, args []string, out *strings.Builder) error

// Command is one node of the hierarchical command tree. Command nodes
// with a non-nil Handler are runnable leaves; nodes with Children but no
// Handler are pure contexts the REPL can descend into (fr_cmd_table_t's
// "parents" chain, §4.7).
type Command struct {
	Name     string
	Help     string
	Handler  Handler
	Children map[string]*Command
}

// Table is the root command tree, built by Register calls before the REPL
// starts (radmin.c's register(name, ctx, table)).
type Table struct {
	root *Command
}

func NewTable() *Table {
	return &Table{root: &Command{Name: "", Children: map[string]*Command{}}}
}

// Register adds a command at the given dotted path (e.g. "set.queue_priority"),
// creating intermediate context nodes as needed.
func (t *Table) Register(path string, help string, handler Handler) {
	parts := strings.Split(path, ".")
	node := t.root
	for i, part := range parts {
		if node.Children == nil {
			node.Children = map[string]*Command{}
		}
		child, ok := node.Children[part]
		if !ok {
			child = &Command{Name: part, Children: map[string]*Command{}}
			node.Children[part] = child
		}
		if i == len(parts)-1 {
			child.Help = help
			child.Handler = handler
		}
		node = child
	}
}

// tokenize splits a line into at most maxTokens whitespace-separated
// tokens (§4.7).
func tokenize(line string) []string {
	fields := strings.Fields(line)
	if len(fields) > maxTokens {
		fields = fields[:maxTokens]
	}
	return fields
}

// ParseResult classifies a line per §4.7.
type ParseResult int

const (
	ResultRunnable ParseResult = iota
	ResultPartial
	ResultParseError
)

// parse walks argv against cur's children, returning the outcome and,
// for Runnable, the matched command and remaining args; for Partial, the
// context descended into.
func (t *Table) parse(cur *Command, argv []string) (ParseResult, *Command, []string, error) {
	if len(argv) == 0 {
		return ResultParseError, nil, nil, fmt.Errorf("empty command")
	}

	node, ok := cur.Children[argv[0]]
	if !ok {
		return ResultParseError, nil, nil, fmt.Errorf("unknown command %q", argv[0])
	}

	rest := argv[1:]

	if node.Handler != nil {
		return ResultRunnable, node, rest, nil
	}

	if len(node.Children) > 0 {
		if len(rest) == 0 {
			return ResultPartial, node, nil, nil
		}
		return t.parse(node, rest)
	}

	return ResultParseError, nil, nil, fmt.Errorf("%q has no handler and no subcommands", argv[0])
}
