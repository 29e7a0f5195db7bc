package parse

import "fmt"

// Parse runs root against the whole of input and returns the resulting tree.
// ok is false if root did not consume the full input or failed outright; in
// that case Tree.BestAttempt() (also reachable via Error()) describes the
// furthest point any sub-parser reached.
func Parse(input []byte, tabWidth int, root Parser) (tree *Tree, topNode *Node, ok bool) {
	tree = NewTree(input, tabWidth)
	n := tree.Root()
	if !root(n) || !n.AtEOF() {
		return tree, n, false
	}
	return tree, n, true
}

// Error renders a tree's best-attempt diagnostic as a human-readable
// message, e.g. "parse error at line 3, column 12: unexpected input (in
// 0 > 5 > 2)", where the stack lists the open node tags as integers.
func Error(t *Tree) error {
	d := t.BestAttempt()
	if len(d.Stack) == 0 {
		return fmt.Errorf("parse error at line %d, column %d: unexpected input", d.Row, d.Col)
	}
	return fmt.Errorf("parse error at line %d, column %d: unexpected input (in %s)", d.Row, d.Col, formatStack(d.Stack))
}

func formatStack(stack []Tag) string {
	out := make([]byte, 0, len(stack)*4)
	for i, tag := range stack {
		if i > 0 {
			out = append(out, " > "...)
		}
		out = fmt.Appendf(out, "%d", tag)
	}
	return string(out)
}
