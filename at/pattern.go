package at

import "strings"

// Pattern describes a response or URC line: a literal prefix followed by
// arguments separated by Delim. A line matches when it starts with Prefix
// and the remainder splits into at least MinArgs arguments.
//
// An empty Delim treats the whole remainder as a single argument. An empty
// Prefix matches any line, so such patterns rely on MinArgs or on their
// position at the end of a table.
type Pattern struct {
	Prefix  string
	Delim   string
	MinArgs int
}

// Match reports whether line matches p and returns its arguments with
// surrounding spaces trimmed.
func (p Pattern) Match(line string) ([]string, bool) {
	rest, ok := strings.CutPrefix(line, p.Prefix)
	if !ok {
		return nil, false
	}

	var args []string
	switch {
	case rest == "":
	case p.Delim == "":
		args = []string{strings.TrimSpace(rest)}
	default:
		args = strings.Split(rest, p.Delim)
		for i := range args {
			args[i] = strings.TrimSpace(args[i])
		}
	}

	if len(args) < p.MinArgs {
		return nil, false
	}
	return args, true
}

// Entry binds a Pattern to a handler of any type.
type Entry[H any] struct {
	Pattern
	Handler H
}

// Lookup returns the first entry of table matching line, in table order.
// Longer, more specific patterns must therefore be listed before generic
// ones.
func Lookup[H any](table []Entry[H], line string) (Entry[H], []string, bool) {
	for _, e := range table {
		if args, ok := e.Match(line); ok {
			return e, args, true
		}
	}
	var zero Entry[H]
	return zero, nil, false
}
