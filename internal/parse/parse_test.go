package parse

import "testing"

const (
	tagDigits Tag = iota + 1
	tagWord
	tagList
)

func isDigit(r rune) bool { return r >= '0' && r <= '9' }
func isAlpha(r rune) bool { return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' }

func TestValueRuleAccumulates(t *testing.T) {
	digits := NewValueRule(tagDigits, Repeat(1, -1, Rune(isDigit)))
	tree, n, ok := Parse([]byte("12345"), 8, digits)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	if len(n.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(n.Children))
	}
	if got := string(n.Child(0).Text()); got != "12345" {
		t.Errorf("Text() = %q", got)
	}
}

func TestRepeatFailsBelowMin(t *testing.T) {
	rule := Repeat(3, -1, Rune(isDigit))
	tree, _, ok := Parse([]byte("12"), 8, NewValueRule(tagDigits, rule))
	if ok {
		t.Fatal("expected failure, digits too short")
	}
	d := tree.BestAttempt()
	if d.Offset != 2 {
		t.Errorf("best attempt offset = %d, want 2", d.Offset)
	}
}

func TestChoiceFirstMatchWins(t *testing.T) {
	word := NewValueRule(tagWord, Repeat(1, -1, Rune(isAlpha)))
	digits := NewValueRule(tagDigits, Repeat(1, -1, Rune(isDigit)))
	rule := Choice(word, digits)

	tree, n, ok := Parse([]byte("abc"), 8, rule)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	if n.Child(0).Type != tagWord {
		t.Errorf("matched tag = %v, want tagWord", n.Child(0).Type)
	}
}

func TestReqRollsBackOnRequiredFailure(t *testing.T) {
	word := NewValueRule(tagWord, Repeat(1, -1, Rune(isAlpha)))
	digits := NewValueRule(tagDigits, Repeat(1, -1, Rune(isDigit)))
	rule := Req(Step{word, true}, Step{digits, true})

	tree, n, ok := Parse([]byte("abc"), 8, rule)
	if ok {
		t.Fatal("expected failure: no digits follow")
	}
	if len(n.Children) != 0 {
		t.Errorf("expected rollback to discard the word child, got %d children", len(n.Children))
	}
	_ = tree
}

func TestReqOptionalStepSkippedOnFailure(t *testing.T) {
	word := NewValueRule(tagWord, Repeat(1, -1, Rune(isAlpha)))
	digits := NewValueRule(tagDigits, Repeat(1, -1, Rune(isDigit)))
	rule := Req(Step{word, true}, Step{digits, false})

	tree, n, ok := Parse([]byte("abc"), 8, rule)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	if len(n.Children) != 1 {
		t.Errorf("expected only the word child to survive, got %d", len(n.Children))
	}
}

func TestSeqMatchCaseInsensitive(t *testing.T) {
	rule := SeqMatch("HELLO", true)
	_, _, ok := Parse([]byte("hello"), 8, NewValueRule(tagWord, rule))
	if !ok {
		t.Fatal("expected case-insensitive match to succeed")
	}
}

func TestSeqMatchCaseSensitiveFails(t *testing.T) {
	rule := SeqMatch("HELLO", false)
	_, _, ok := Parse([]byte("hello"), 8, NewValueRule(tagWord, rule))
	if ok {
		t.Fatal("expected case-sensitive match to fail")
	}
}

func TestUntilExclStopsBeforeSentinel(t *testing.T) {
	sentinel := SeqMatch(";", false)
	body := AnyRune()
	rule := Req(
		Step{NewValueRule(tagWord, UntilExcl(body, sentinel)), true},
		Step{NewNeutralRule(tagList, sentinel), true},
	)
	tree, n, ok := Parse([]byte("abc;"), 8, rule)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	if got := string(n.Child(0).Text()); got != "abc" {
		t.Errorf("word text = %q, want %q", got, "abc")
	}
}

func TestNotSucceedsWithoutConsuming(t *testing.T) {
	rule := Req(
		Step{NewNeutralRule(tagList, Not(SeqMatch("x", false))), true},
		Step{NewValueRule(tagWord, AnyRune()), true},
	)
	tree, n, ok := Parse([]byte("y"), 8, rule)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	if got := string(n.Child(0).Text()); got != "y" {
		t.Errorf("consumed text = %q, want %q", got, "y")
	}
}

func TestEOFRule(t *testing.T) {
	rule := Req(
		Step{NewValueRule(tagWord, Repeat(1, -1, Rune(isAlpha))), true},
		Step{NewNeutralRule(tagList, EOF()), true},
	)
	if _, _, ok := Parse([]byte("abc"), 8, rule); !ok {
		t.Fatal("expected success at EOF")
	}
	if _, _, ok := Parse([]byte("abc!"), 8, rule); ok {
		t.Fatal("expected failure: trailing input after EOF assertion")
	}
}

func TestAppendMergesIntoParent(t *testing.T) {
	inner := NewValueRule(tagWord, Rune(isAlpha))
	rule := NewConstructedRule(tagList, Repeat(1, -1, Append(inner)))
	tree, n, ok := Parse([]byte("abc"), 8, rule)
	if !ok {
		t.Fatalf("parse failed: %v", Error(tree))
	}
	list := n.Child(0)
	if len(list.Children) != 0 {
		t.Errorf("expected Append to merge value bytes with no surviving children, got %d", len(list.Children))
	}
	if string(list.Value) != "abc" {
		t.Errorf("merged value = %q, want %q", list.Value, "abc")
	}
}
