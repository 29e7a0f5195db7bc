package dkim

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/emersion/go-message/textproto"
)

func testHeader(t *testing.T) textproto.Header {
	t.Helper()
	raw := "From: alice@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: hello\r\n" +
		"Date: Wed, 29 Jul 2026 12:00:00 +0000\r\n" +
		"\r\n"
	h, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	return h
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	key, err := GenerateKey("example.com", "sel1", RSA2048, 0)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}

	header := testHeader(t)
	body := []byte("hello, world\r\n")

	cfg := SignConfig{
		Domain:   "example.com",
		Selector: "sel1",
		Signer:   key.Signer,
	}
	if err := Sign(cfg, &header, body); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !header.Has("DKIM-Signature") {
		t.Fatal("expected a DKIM-Signature field after signing")
	}

	lookupTXT := func(domain string) ([]string, error) {
		if domain == key.DNSName {
			return []string{key.DNSValue}, nil
		}
		return nil, nil
	}

	results, err := Verify(header, body, lookupTXT)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].State != Verified || results[0].Err != nil {
		t.Fatalf("expected a clean pass, got %+v", results[0])
	}
}

func TestVerifyNoSignatureReturnsNoneState(t *testing.T) {
	header := testHeader(t)
	results, err := Verify(header, []byte("body\r\n"), func(string) ([]string, error) { return nil, nil })
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(results) != 1 || results[0].State != None {
		t.Fatalf("expected a single None result, got %+v", results)
	}
}

func TestRequiredFieldsSigned(t *testing.T) {
	r := Result{HeaderKeys: []string{"From", "Subject", "Date"}}
	if !RequiredFieldsSigned(r, []string{"from", "subject"}) {
		t.Fatal("expected required fields to be satisfied")
	}
	if RequiredFieldsSigned(r, []string{"to"}) {
		t.Fatal("expected missing field to fail the check")
	}
}
