package imf

import "testing"

func TestQuotedPrintableRoundTripSimple(t *testing.T) {
	in := []byte("hello, world!\r\nsecond line\r\n")
	enc := EncodeQuotedPrintable(in)
	dec := DecodeQuotedPrintable(enc)
	if string(dec) != string(in) {
		t.Fatalf("round trip mismatch: got %q, want %q", dec, in)
	}
}

func TestQuotedPrintableEscapesEquals(t *testing.T) {
	enc := EncodeQuotedPrintable([]byte("100% = great\r\n"))
	if !contains(enc, []byte("=3D")) {
		t.Fatalf("expected '=' to be escaped as =3D, got %q", enc)
	}
}

func TestQuotedPrintableEscapesTrailingWhitespace(t *testing.T) {
	enc := EncodeQuotedPrintable([]byte("trailing \t \r\nnext\r\n"))
	dec := DecodeQuotedPrintable(enc)
	if string(dec) != "trailing \t \r\nnext\r\n" {
		t.Fatalf("round trip lost trailing whitespace: got %q", dec)
	}
}

func TestQuotedPrintableSoftLineBreak(t *testing.T) {
	long := make([]byte, 200)
	for i := range long {
		long[i] = 'A'
	}
	enc := EncodeQuotedPrintable(long)
	for _, line := range splitOnCRLF(enc) {
		if len(line) > 76 {
			t.Fatalf("line exceeds 76 columns: %d", len(line))
		}
	}
	dec := DecodeQuotedPrintable(enc)
	if string(dec) != string(long) {
		t.Fatalf("round trip mismatch on long line")
	}
}

func TestQuotedPrintablePreservesInvalidEscape(t *testing.T) {
	dec := DecodeQuotedPrintable([]byte("a=ZZb"))
	if string(dec) != "a=ZZb" {
		t.Fatalf("expected invalid escape preserved verbatim, got %q", dec)
	}
}

func contains(hay, needle []byte) bool {
	for i := 0; i+len(needle) <= len(hay); i++ {
		if string(hay[i:i+len(needle)]) == string(needle) {
			return true
		}
	}
	return false
}

func splitOnCRLF(b []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			lines = append(lines, b[start:i])
			start = i + 2
			i++
		}
	}
	if start < len(b) {
		lines = append(lines, b[start:])
	}
	return lines
}
