// Package parse implements the parser framework the IMF/MIME/SMTP/DKIM
// grammars are built on: a node arena with a bump allocator, three parser
// kinds (value/constructed/neutral), best-attempt failure diagnostics, and a
// small set of combinators (Req, Repeat, Choice, UntilIncl, UntilExcl,
// OneOrMoreOf, Not, NotFollowedBy, SeqMatch).
//
// There is no close analogue for this in the example pack: nothing in the
// corpus hand-rolls a parser combinator library, so this package has no
// third-party grounding beyond stdlib unicode/utf8 for character
// classification.
package parse

import "unicode/utf8"

// NodeKind distinguishes the three parser/node kinds.
type NodeKind int

const (
	// Value nodes extend their value window by consuming contiguous
	// input.
	Value NodeKind = iota
	// Constructed nodes accumulate child nodes.
	Constructed
	// Neutral nodes consume nothing and produce nothing; used for
	// end-of-input and lookahead assertions.
	Neutral
)

func (k NodeKind) String() string {
	switch k {
	case Value:
		return "Value"
	case Constructed:
		return "Constructed"
	case Neutral:
		return "Neutral"
	default:
		return "Unknown"
	}
}

// Tag identifies a grammar production. The parse framework treats it as an
// opaque integer; grammars (internal/imf) define their own Tag constants.
type Tag int32

// TagAppend is the reserved tag for a Value-kind child whose bytes/children
// should be merged into the enclosing node rather than kept as a distinct
// child, per the C_* "Append" contract.
const TagAppend Tag = -1

// Pos tracks a byte offset alongside 1-based row/column, the latter using a
// configurable tab width for column accounting.
type Pos struct {
	Offset int
	Row    int
	Col    int
}

func startPos() Pos { return Pos{Offset: 0, Row: 1, Col: 1} }

func advance(p Pos, r rune, tabWidth int) Pos {
	p.Offset += utf8.RuneLen(r)
	switch r {
	case '\n':
		p.Row++
		p.Col = 1
	case '\t':
		if tabWidth < 1 {
			tabWidth = 1
		}
		p.Col += tabWidth - ((p.Col - 1) % tabWidth)
	default:
		p.Col++
	}
	return p
}

// Node is one element of the parse tree: a grammar production's window over
// the input plus (for Value nodes) its accumulated bytes or (for
// Constructed nodes) its children.
type Node struct {
	idx    int // index into Tree.nodes; stable once allocated
	tree   *Tree
	Parent int // index of parent node, -1 for the root
	Kind   NodeKind
	Type   Tag

	Start  Pos // position when this node was allocated
	Cursor Pos // current consumption position

	Value    []byte
	Children []int
}

// Text returns the node's full source window, [Start.Offset, Cursor.Offset).
func (n *Node) Text() []byte {
	return n.tree.Input[n.Start.Offset:n.Cursor.Offset]
}

// Remaining returns the unconsumed input starting at the node's cursor.
func (n *Node) Remaining() []byte {
	return n.tree.Input[n.Cursor.Offset:]
}

// AtEOF reports whether the node's cursor has reached the end of input.
func (n *Node) AtEOF() bool {
	return n.Cursor.Offset >= len(n.tree.Input)
}

// Child returns the i'th child node.
func (n *Node) Child(i int) *Node {
	return &n.tree.nodes[n.Children[i]]
}

// bestAttempt records the deepest point any parse attempt reached, and the
// stack of node types that were open at that point, so a failed parse can
// report *where* it gave up and *what it was trying to parse* there.
type bestAttempt struct {
	offset int
	row    int
	col    int
	stack  []Tag
}

// Tree owns the input, the node arena, and the tab width used for
// column tracking. Nodes are allocated strictly in forward (bump-allocator)
// order; a failed attempt truncates the arena back to the point before it
// started, the Go analogue of the source's intrusive freelist heap rollback.
type Tree struct {
	Input    []byte
	TabWidth int

	nodes []Node
	best  bestAttempt
}

// NewTree creates a tree over input ready for parsing from byte 0.
func NewTree(input []byte, tabWidth int) *Tree {
	if tabWidth < 1 {
		tabWidth = 8
	}
	return &Tree{Input: input, TabWidth: tabWidth}
}

// Root allocates and returns the tree's root node, a Constructed node with
// Tag 0 covering the whole input from offset 0.
func (t *Tree) Root() *Node {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		idx:    idx,
		tree:   t,
		Parent: -1,
		Kind:   Constructed,
		Type:   0,
		Start:  startPos(),
		Cursor: startPos(),
	})
	return &t.nodes[idx]
}

// child allocates a new node of the given kind/type as a trial child of
// parent, starting at parent's current cursor.
func (t *Tree) child(parent *Node, kind NodeKind, typ Tag) *Node {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, Node{
		idx:    idx,
		tree:   t,
		Parent: parent.idx,
		Kind:   kind,
		Type:   typ,
		Start:  parent.Cursor,
		Cursor: parent.Cursor,
	})
	return &t.nodes[idx]
}

// commit splices a successful child into parent: parent's cursor advances
// to the child's, and the child either merges into parent (value bytes and
// any grandchildren bubbled up, when the child is tagged TagAppend) or is
// kept as a genuine child node reference. A Neutral child produces nothing
// and is not kept.
func (t *Tree) commit(parent, child *Node) {
	parent.Cursor = child.Cursor
	if child.Kind == Neutral {
		return
	}
	if child.Type == TagAppend {
		parent.Value = append(parent.Value, child.Value...)
		parent.Children = append(parent.Children, child.Children...)
		return
	}
	parent.Children = append(parent.Children, child.idx)
}

// fail discards child: the node arena is truncated back to the point before
// child was allocated (so nothing it or its own failed sub-attempts
// allocated survives), and the best-attempt record is updated if child's
// cursor reached further than any previous attempt.
func (t *Tree) fail(child *Node) {
	t.recordBest(child)
	t.nodes = t.nodes[:child.idx]
}

func (t *Tree) recordBest(child *Node) {
	if child.Cursor.Offset < t.best.offset {
		return
	}
	stack := openStack(child)
	if child.Cursor.Offset > t.best.offset || len(stack) > len(t.best.stack) {
		t.best = bestAttempt{
			offset: child.Cursor.Offset,
			row:    child.Cursor.Row,
			col:    child.Cursor.Col,
			stack:  stack,
		}
	}
}

func openStack(n *Node) []Tag {
	var stack []Tag
	for cur := n; cur != nil; {
		stack = append([]Tag{cur.Type}, stack...)
		if cur.Parent < 0 {
			break
		}
		cur = &cur.tree.nodes[cur.Parent]
	}
	return stack
}

// Diagnostic describes the furthest-reaching failed parse attempt: the
// "best attempt" the framework reports instead of a bare "parse failed".
type Diagnostic struct {
	Offset int
	Row    int
	Col    int
	Stack  []Tag
}

// BestAttempt returns the current best-attempt diagnostic.
func (t *Tree) BestAttempt() Diagnostic {
	return Diagnostic{Offset: t.best.offset, Row: t.best.row, Col: t.best.col, Stack: t.best.stack}
}
