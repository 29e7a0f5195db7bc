// Package diffengine computes a line-level diff between two texts via a
// dynamic-programming longest-common-subsequence search. Nothing in the
// example pack ships a diff engine, so this is built directly from the
// spec's description of the algorithm rather than grounded on pack code;
// its tunable knobs (maxMatrixWidth, quality_match, quality_momentum) mirror
// the ones spec.md names for the source implementation.
package diffengine

import (
	"fmt"
	"strings"
)

// UnitKind classifies one output unit of a diff.
type UnitKind int

const (
	Unchanged UnitKind = iota
	Added
	Removed
)

func (k UnitKind) String() string {
	switch k {
	case Unchanged:
		return "Unchanged"
	case Added:
		return "Added"
	case Removed:
		return "Removed"
	default:
		return "Unknown"
	}
}

// DiffUnit is one line of either input tagged with how it relates to the
// other side.
type DiffUnit struct {
	Kind UnitKind
	Text string
}

// Options tunes the search. The zero value is not directly usable; start
// from DefaultOptions.
type Options struct {
	// MaxMatrixWidth bounds the width (b-side length) of the DP matrix the
	// engine is willing to build. When b has more lines than this, only its
	// first MaxMatrixWidth lines are diffed against a and the remaining b
	// lines are emitted as a trailing Added block; a is never truncated.
	// The engine trades optimality for a bounded memory footprint on huge
	// inputs. 0 means unbounded.
	MaxMatrixWidth int

	// QualityMatch rewards each matched line when the DP has a tie between
	// two equally-long subsequences, to prefer the one that front-loads
	// matches.
	QualityMatch int

	// QualityMomentum additionally rewards extending an already-open run of
	// matched lines over starting a fresh one, damping alignments that
	// needlessly hop between near-duplicate lines.
	QualityMomentum int

	// EmitUnchanged, if false, omits Unchanged units from the result,
	// returning only the edit script (Added/Removed units).
	EmitUnchanged bool

	// DebugHTML, if non-nil, receives a side-by-side HTML rendering of the
	// final alignment — a debugging aid, not consulted by normal callers.
	DebugHTML *strings.Builder
}

// DefaultOptions returns the engine's baseline tuning.
func DefaultOptions() Options {
	return Options{
		MaxMatrixWidth:  4096,
		QualityMatch:    2,
		QualityMomentum: 1,
		EmitUnchanged:   true,
	}
}

// DiffLines splits a and b into lines and diffs them with DefaultOptions.
func DiffLines(a, b string) []DiffUnit {
	return DiffLinesOpts(a, b, DefaultOptions())
}

// DiffLinesOpts splits a and b into lines and diffs them under opts.
func DiffLinesOpts(a, b string, opts Options) []DiffUnit {
	return Diff(splitLines(a), splitLines(b), opts)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

// cell is one DP table entry: the LCS length reachable at (i, j), the
// tie-break score used to pick among equal-length candidates, and which
// direction the optimal path came from.
type cell struct {
	length int
	score  int
	from   byte // 'd' diagonal (match), 'u' up (skip a[i]), 'l' left (skip b[j])
}

// Diff computes a bounded LCS-based alignment of a against b and returns
// the Unchanged/Added/Removed unit sequence describing how to turn a into
// b.
func Diff(a, b []string, opts Options) []DiffUnit {
	var tail []DiffUnit
	if opts.MaxMatrixWidth > 0 && len(b) > opts.MaxMatrixWidth {
		overflow := b[opts.MaxMatrixWidth:]
		b = b[:opts.MaxMatrixWidth]
		for _, line := range overflow {
			tail = append(tail, DiffUnit{Kind: Added, Text: line})
		}
	}

	units := diffBounded(a, b, opts)
	units = append(units, tail...)

	if opts.EmitUnchanged {
		if opts.DebugHTML != nil {
			writeDebugHTML(opts.DebugHTML, units)
		}
		return units
	}

	out := units[:0:0]
	for _, u := range units {
		if u.Kind != Unchanged {
			out = append(out, u)
		}
	}
	if opts.DebugHTML != nil {
		writeDebugHTML(opts.DebugHTML, units)
	}
	return out
}

func diffBounded(a, b []string, opts Options) []DiffUnit {
	n, m := len(a), len(b)

	table := make([][]cell, n+1)
	for i := range table {
		table[i] = make([]cell, m+1)
	}

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			if a[i-1] == b[j-1] {
				prevMomentum := table[i-1][j-1].from == 'd'
				score := table[i-1][j-1].score + opts.QualityMatch
				if prevMomentum {
					score += opts.QualityMomentum
				}
				table[i][j] = cell{length: table[i-1][j-1].length + 1, score: score, from: 'd'}
				continue
			}

			up := table[i-1][j]
			left := table[i][j-1]
			if up.length > left.length || (up.length == left.length && up.score >= left.score) {
				table[i][j] = cell{length: up.length, score: up.score, from: 'u'}
			} else {
				table[i][j] = cell{length: left.length, score: left.score, from: 'l'}
			}
		}
	}

	units := make([]DiffUnit, 0, n+m)
	i, j := n, m
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && table[i][j].from == 'd':
			units = append(units, DiffUnit{Kind: Unchanged, Text: a[i-1]})
			i--
			j--
		case i > 0 && (j == 0 || table[i][j].from == 'u'):
			units = append(units, DiffUnit{Kind: Removed, Text: a[i-1]})
			i--
		default:
			units = append(units, DiffUnit{Kind: Added, Text: b[j-1]})
			j--
		}
	}

	for l, r := 0, len(units)-1; l < r; l, r = l+1, r-1 {
		units[l], units[r] = units[r], units[l]
	}
	return units
}

func writeDebugHTML(w *strings.Builder, units []DiffUnit) {
	w.WriteString("<table class=\"diff\">\n")
	for _, u := range units {
		class := "unchanged"
		switch u.Kind {
		case Added:
			class = "added"
		case Removed:
			class = "removed"
		}
		fmt.Fprintf(w, "<tr class=%q><td>%s</td></tr>\n", class, htmlEscape(u.Text))
	}
	w.WriteString("</table>\n")
}

func htmlEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
