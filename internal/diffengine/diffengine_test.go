package diffengine

import "testing"

func kinds(units []DiffUnit) []UnitKind {
	out := make([]UnitKind, len(units))
	for i, u := range units {
		out[i] = u.Kind
	}
	return out
}

func TestIdenticalInputsAllUnchanged(t *testing.T) {
	units := DiffLines("a\nb\nc", "a\nb\nc")
	for _, u := range units {
		if u.Kind != Unchanged {
			t.Fatalf("expected all Unchanged, got %v", kinds(units))
		}
	}
	if len(units) != 3 {
		t.Fatalf("len = %d, want 3", len(units))
	}
}

func TestSingleLineInsertion(t *testing.T) {
	units := DiffLines("a\nc", "a\nb\nc")
	got := kinds(units)
	want := []UnitKind{Unchanged, Added, Unchanged}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestSingleLineRemoval(t *testing.T) {
	units := DiffLines("a\nb\nc", "a\nc")
	got := kinds(units)
	want := []UnitKind{Unchanged, Removed, Unchanged}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestEmitUnchangedFalseDropsMatches(t *testing.T) {
	opts := DefaultOptions()
	opts.EmitUnchanged = false
	units := DiffLinesOpts("a\nb\nc", "a\nx\nc", opts)
	for _, u := range units {
		if u.Kind == Unchanged {
			t.Fatalf("expected no Unchanged units, got %v", kinds(units))
		}
	}
	if len(units) != 2 {
		t.Fatalf("len = %d, want 2 (one Removed, one Added)", len(units))
	}
}

func TestMaxMatrixWidthTruncatesAsAdded(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMatrixWidth = 2
	a := "a\nb"
	b := "a\nb\nc\nd"
	units := DiffLinesOpts(a, b, opts)
	last := units[len(units)-1]
	if last.Kind != Added || last.Text != "d" {
		t.Fatalf("expected overflow tail to end in Added \"d\", got %+v", last)
	}
}

func TestReconstructB(t *testing.T) {
	a := "line1\nline2\nline3\nline4"
	b := "line1\nlineX\nline3\nline5"
	units := DiffLines(a, b)

	var reconstructed []string
	for _, u := range units {
		if u.Kind == Unchanged || u.Kind == Added {
			reconstructed = append(reconstructed, u.Text)
		}
	}
	want := []string{"line1", "lineX", "line3", "line5"}
	if len(reconstructed) != len(want) {
		t.Fatalf("reconstructed = %v, want %v", reconstructed, want)
	}
	for i := range want {
		if reconstructed[i] != want[i] {
			t.Fatalf("reconstructed = %v, want %v", reconstructed, want)
		}
	}
}
