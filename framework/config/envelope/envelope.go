// Package envelope implements the flat configuration file format described
// by the external interfaces design: one "name value" directive per line,
// blank lines ignored, '#' starts a comment that runs to end of line, no
// nesting and no blocks. A line that starts with a space has no directive
// name and is rejected.
package envelope

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Envelope is an ordered multimap of directive name to value, preserving the
// order directives were declared so repeated directives (e.g. multiple
// "relay" lines) can be read back in file order.
type Envelope struct {
	order []string
	vals  map[string][]string
}

// Parse reads a configuration envelope from r. A malformed line (anything
// that isn't "name value", "name" alone, blank, or a comment) is reported as
// an *Error with the 1-based line number.
func Parse(r io.Reader) (*Envelope, error) {
	e := &Envelope{vals: make(map[string][]string)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(stripComment(sc.Text()), " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		name, value, _ := strings.Cut(line, " ")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			return nil, &Error{Line: lineNo, Msg: "missing directive name"}
		}

		if _, ok := e.vals[name]; !ok {
			e.order = append(e.order, name)
		}
		e.vals[name] = append(e.vals[name], value)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return e, nil
}

func stripComment(line string) string {
	inQuote := false
	for i, r := range line {
		switch r {
		case '"':
			inQuote = !inQuote
		case '#':
			if !inQuote {
				return line[:i]
			}
		}
	}
	return line
}

// Error reports a malformed envelope line.
type Error struct {
	Line int
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config envelope: line %d: %s", e.Line, e.Msg)
}

// Get returns the first value of name, and whether it was present at all.
func (e *Envelope) Get(name string) (string, bool) {
	vs, ok := e.vals[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// GetDefault returns the first value of name, or def if name is absent.
func (e *Envelope) GetDefault(name, def string) string {
	if v, ok := e.Get(name); ok {
		return v
	}
	return def
}

// All returns every value given for name, in declaration order.
func (e *Envelope) All(name string) []string {
	return append([]string(nil), e.vals[name]...)
}

// Names returns every directive name present, in first-declaration order.
func (e *Envelope) Names() []string {
	return append([]string(nil), e.order...)
}

// Has reports whether name was set at all.
func (e *Envelope) Has(name string) bool {
	_, ok := e.vals[name]
	return ok
}
