package parse

import (
	"unicode"
	"unicode/utf8"
)

// Parser consumes from n's current cursor forward, reporting whether it
// matched. On failure it must not have consumed input or mutated n — every
// combinator and rule constructor below upholds that contract by operating
// on a disposable trial node (via Tree.child/commit/fail) and only ever
// mutating n itself on success.
type Parser func(n *Node) bool

// NewValueRule builds a grammar production that accumulates value bytes: it
// allocates a Value child of the given tag, runs body against it, and
// commits or fails it into the caller's node.
func NewValueRule(tag Tag, body Parser) Parser {
	return func(n *Node) bool {
		c := n.tree.child(n, Value, tag)
		if body(c) {
			n.tree.commit(n, c)
			return true
		}
		n.tree.fail(c)
		return false
	}
}

// NewConstructedRule builds a grammar production that accumulates child
// nodes.
func NewConstructedRule(tag Tag, body Parser) Parser {
	return func(n *Node) bool {
		c := n.tree.child(n, Constructed, tag)
		if body(c) {
			n.tree.commit(n, c)
			return true
		}
		n.tree.fail(c)
		return false
	}
}

// NewNeutralRule builds a zero-width production: lookahead assertions and
// end-of-input markers.
func NewNeutralRule(tag Tag, body Parser) Parser {
	return func(n *Node) bool {
		c := n.tree.child(n, Neutral, tag)
		if body(c) {
			n.tree.commit(n, c)
			return true
		}
		n.tree.fail(c)
		return false
	}
}

// Append wraps body so a successful match is merged into the enclosing node
// (value bytes and any children bubbled up) instead of kept as a distinct
// child — the "value-valued child with the reserved tag Append" rule C_*
// productions use to splice in shared sub-grammars without extra tree
// nesting.
func Append(body Parser) Parser {
	return NewValueRule(TagAppend, body)
}

// --- primitives -------------------------------------------------------

// Rune matches a single rune satisfying pred and appends it to n's value.
func Rune(pred func(r rune) bool) Parser {
	return func(n *Node) bool {
		r, size := utf8.DecodeRune(n.Remaining())
		if size == 0 || r == utf8.RuneError && size == 1 {
			return false
		}
		if !pred(r) {
			return false
		}
		n.Value = append(n.Value, n.Remaining()[:size]...)
		n.Cursor = advance(n.Cursor, r, n.tree.TabWidth)
		return true
	}
}

// AnyRune matches and consumes exactly one rune, regardless of value.
func AnyRune() Parser {
	return Rune(func(rune) bool { return true })
}

// SeqMatch matches the literal s exactly, or case-insensitively when ci is
// true. It consumes nothing on a partial match.
func SeqMatch(s string, ci bool) Parser {
	runes := []rune(s)
	return func(n *Node) bool {
		cursor := n.Cursor
		rest := n.tree.Input[cursor.Offset:]
		for _, want := range runes {
			r, size := utf8.DecodeRune(rest)
			if size == 0 {
				return false
			}
			match := r == want
			if !match && ci {
				match = toLowerRune(r) == toLowerRune(want)
			}
			if !match {
				return false
			}
			n.Value = append(n.Value, rest[:size]...)
			cursor = advance(cursor, r, n.tree.TabWidth)
			rest = rest[size:]
		}
		n.Cursor = cursor
		return true
	}
}

func toLowerRune(r rune) rune {
	return unicode.ToLower(r)
}

// EOF is a Neutral parser matching only at end of input.
func EOF() Parser {
	return func(n *Node) bool {
		return n.AtEOF()
	}
}

// --- combinators --------------------------------------------------------

// Step is one element of a Req sequence: Required false marks it optional
// (its failure does not fail the whole sequence, and it contributes nothing
// if it doesn't match).
type Step struct {
	P        Parser
	Required bool
}

// Req runs steps in order against a trial copy of n, rolling back entirely
// if any Required step fails; Optional steps that fail are simply skipped.
func Req(steps ...Step) Parser {
	return func(n *Node) bool {
		snapshot := snapshotOf(n)
		for _, step := range steps {
			if !step.P(n) && step.Required {
				restore(n, snapshot)
				return false
			}
		}
		return true
	}
}

// Repeat matches body between min and max times (max<0 means unbounded),
// failing (and rolling back) if fewer than min matches are found.
func Repeat(min, max int, body Parser) Parser {
	return func(n *Node) bool {
		snapshot := snapshotOf(n)
		count := 0
		for max < 0 || count < max {
			if !body(n) {
				break
			}
			count++
		}
		if count < min {
			restore(n, snapshot)
			return false
		}
		return true
	}
}

// Choice tries each alternative in order, committing the first that
// matches; it fails only if none do.
func Choice(alts ...Parser) Parser {
	return func(n *Node) bool {
		for _, alt := range alts {
			snapshot := snapshotOf(n)
			if alt(n) {
				return true
			}
			restore(n, snapshot)
		}
		return false
	}
}

// UntilIncl repeats body until sentinel matches, consuming the sentinel
// itself as the final repetition (hence "inclusive").
func UntilIncl(body, sentinel Parser) Parser {
	return func(n *Node) bool {
		snapshot := snapshotOf(n)
		for {
			if sentinel(n) {
				return true
			}
			if !body(n) {
				restore(n, snapshot)
				return false
			}
		}
	}
}

// UntilExcl repeats body until sentinel would match, WITHOUT consuming the
// sentinel (it is left for the caller to match separately).
func UntilExcl(body, sentinel Parser) Parser {
	return func(n *Node) bool {
		for {
			probe := snapshotOf(n)
			if sentinel(n) {
				restore(n, probe) // don't consume the sentinel
				return true
			}
			restore(n, probe)
			if !body(n) {
				return true // ran out of input without ever seeing sentinel; caller's EOF/sentinel check decides if that's an error
			}
		}
	}
}

// OneOrMoreOf runs every alternative against n in order (each independently,
// not first-match-wins like Choice) and succeeds if at least one matched.
// Used for unordered-but-each-optional field groups.
func OneOrMoreOf(alts ...Parser) Parser {
	return func(n *Node) bool {
		matched := false
		for _, alt := range alts {
			if alt(n) {
				matched = true
			}
		}
		return matched
	}
}

// Not succeeds (consuming nothing) iff body would fail at the current
// position.
func Not(body Parser) Parser {
	return func(n *Node) bool {
		snapshot := snapshotOf(n)
		ok := body(n)
		restore(n, snapshot)
		return !ok
	}
}

// NotFollowedBy is Not expressed as a Neutral lookahead combinator — an
// alias kept distinct from Not because grammars use it specifically to gate
// on what comes *next* without implying "this production doesn't apply
// here" the way Not often reads.
func NotFollowedBy(body Parser) Parser {
	return Not(body)
}

// Opt matches body if possible, but always succeeds (consuming nothing on a
// non-match). It is the single-step analogue of an optional Req step.
func Opt(body Parser) Parser {
	return func(n *Node) bool {
		snapshot := snapshotOf(n)
		if !body(n) {
			restore(n, snapshot)
		}
		return true
	}
}

// --- rollback bookkeeping -------------------------------------------------

type snapshot struct {
	cursor   Pos
	valueLen int
	childLen int
	arenaLen int
}

func snapshotOf(n *Node) snapshot {
	return snapshot{
		cursor:   n.Cursor,
		valueLen: len(n.Value),
		childLen: len(n.Children),
		arenaLen: len(n.tree.nodes),
	}
}

// restore rolls n back to a prior snapshot, truncating both its own
// partial accumulation and any arena nodes allocated (and subsequently
// failed-out-of, or left dangling) by sub-parsers since the snapshot.
// n's own cursor is offered to the best-attempt record before it is
// rewound, so an attempt that consumed input and then failed still
// reports how far it got.
func restore(n *Node, s snapshot) {
	if len(n.tree.nodes) > s.arenaLen {
		// Surviving descendants between s.arenaLen and the current
		// length were committed children of n (or of n's own trial
		// sub-nodes) during the aborted attempt; record the deepest
		// one reached before discarding them, same as Tree.fail does
		// for a single failed child.
		deepest := &n.tree.nodes[len(n.tree.nodes)-1]
		n.tree.recordBest(deepest)
		n.tree.nodes = n.tree.nodes[:s.arenaLen]
	}
	n.tree.recordBest(n)
	n.Cursor = s.cursor
	n.Value = n.Value[:s.valueLen]
	n.Children = n.Children[:s.childLen]
}
