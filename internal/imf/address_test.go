package imf

import (
	"reflect"
	"testing"
)

func TestExtractAddressListSimple(t *testing.T) {
	var got []string
	diag, count := ExtractAddressList([]byte("alice@example.com, Bob <bob@EXAMPLE.org>"), func(a string) {
		got = append(got, a)
	})
	if diag != "" {
		t.Fatalf("unexpected diagnostic: %s", diag)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	want := []string{"alice@example.com", "bob@example.org"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestExtractAddressListGroup(t *testing.T) {
	var got []string
	diag, count := ExtractAddressList([]byte("Undisclosed:;, Team: a@x.com, b@x.com;"), func(a string) {
		got = append(got, a)
	})
	if diag != "" {
		t.Fatalf("unexpected diagnostic: %s", diag)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2, got %v", count, got)
	}
}

func TestExtractAddressListPartialFailureReportsDiagnostic(t *testing.T) {
	var got []string
	diag, count := ExtractAddressList([]byte("a@x.com, !!!not-an-address"), func(a string) {
		got = append(got, a)
	})
	if diag == "" {
		t.Fatal("expected a diagnostic for malformed input")
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (only the first address parsed)", count)
	}
}

func TestParseAddrSpecStrict(t *testing.T) {
	addr, err := ParseAddrSpec([]byte("user@Example.COM"))
	if err != nil {
		t.Fatalf("ParseAddrSpec: %v", err)
	}
	if addr != "user@example.com" {
		t.Fatalf("got %q, want user@example.com", addr)
	}
}

func TestParseAddrSpecRejectsDisplayName(t *testing.T) {
	if _, err := ParseAddrSpec([]byte("Bob <bob@example.com>")); err == nil {
		t.Fatal("expected an error for a non-strict addr-spec")
	}
}

func TestParseAddrSpecQuotedLocalPart(t *testing.T) {
	addr, err := ParseAddrSpec([]byte(`"bob smith"@example.com`))
	if err != nil {
		t.Fatalf("ParseAddrSpec: %v", err)
	}
	if addr != `"bob smith"@example.com` {
		t.Fatalf("got %q", addr)
	}
}
