package envelope

import (
	"strings"
	"testing"
)

func TestParseBasic(t *testing.T) {
	in := `
# this is a comment
hostname mail.example.org
listen 0.0.0.0:25
relay mx1.example.org
relay mx2.example.org
debug true
`
	e, err := Parse(strings.NewReader(in))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if got, _ := e.Get("hostname"); got != "mail.example.org" {
		t.Errorf("hostname = %q", got)
	}
	if got := e.All("relay"); len(got) != 2 || got[0] != "mx1.example.org" || got[1] != "mx2.example.org" {
		t.Errorf("relay = %v", got)
	}
	if got := e.GetDefault("missing", "fallback"); got != "fallback" {
		t.Errorf("GetDefault = %q", got)
	}
	if !e.Has("debug") {
		t.Error("expected debug to be present")
	}
}

func TestParseMissingName(t *testing.T) {
	_, err := Parse(strings.NewReader(" value-only-line-has-no-name\nfoo bar"))
	if err == nil {
		t.Fatal("expected error")
	}
	var perr *Error
	if !strings.Contains(err.Error(), "directive name") {
		t.Errorf("unexpected error: %v (type %T)", err, perr)
	}
}

func TestParseCommentAfterValue(t *testing.T) {
	e, err := Parse(strings.NewReader("foo bar # trailing comment"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got, _ := e.Get("foo"); got != "bar" {
		t.Errorf("foo = %q", got)
	}
}
