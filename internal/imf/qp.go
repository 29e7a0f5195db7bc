package imf

// Quoted-printable (RFC 2045 §6.7) is hand-rolled here rather than reused
// from encoding/mime/quotedprintable or go-message's own codec: neither
// exposes the exact soft-break-width/trailing-whitespace/invalid-escape
// round-trip behavior this package needs, and the teacher's own DKIM code
// only ever consumes already-decoded bodies — there's no pack analogue to
// adapt, so this follows RFC 2045 directly.

const (
	qpFirstLineWidth = 76
	qpContLineWidth  = 75
)

func isSafeQP(b byte) bool {
	if b == '=' {
		return false
	}
	if b == ' ' || b == '\t' {
		return true
	}
	return b >= 33 && b <= 126
}

func restIsWS(line []byte, i int) bool {
	for j := i; j < len(line); j++ {
		if line[j] != ' ' && line[j] != '\t' {
			return false
		}
	}
	return true
}

const hexDigits = "0123456789ABCDEF"

func splitLinesRaw(input []byte) (lines [][]byte, hasFinalTerm bool) {
	start := 0
	for i := 0; i < len(input); i++ {
		if input[i] == '\n' {
			end := i
			if end > start && input[end-1] == '\r' {
				end--
			}
			lines = append(lines, input[start:end])
			start = i + 1
		}
	}
	if start < len(input) {
		lines = append(lines, input[start:])
		return lines, false
	}
	return lines, true
}

// EncodeQuotedPrintable encodes input per RFC 2045: bytes outside the safe
// set become "=HH", trailing line whitespace is escaped, and soft line
// breaks ("=\r\n") keep every line within qpFirstLineWidth/qpContLineWidth
// columns.
func EncodeQuotedPrintable(input []byte) []byte {
	lines, hasFinalTerm := splitLinesRaw(input)
	var out []byte
	for i, line := range lines {
		out = append(out, encodeQPLine(line)...)
		if i < len(lines)-1 || hasFinalTerm {
			out = append(out, '\r', '\n')
		}
	}
	return out
}

func encodeQPLine(line []byte) []byte {
	var out []byte
	col := 0
	limit := qpFirstLineWidth

	for i := 0; i < len(line); i++ {
		b := line[i]
		trailingWS := (b == ' ' || b == '\t') && restIsWS(line, i)

		var unit []byte
		if trailingWS || !isSafeQP(b) {
			unit = []byte{'=', hexDigits[b>>4], hexDigits[b&0xF]}
		} else {
			unit = []byte{b}
		}

		if col+len(unit) > limit-1 {
			out = append(out, '=', '\r', '\n')
			col = 0
			limit = qpContLineWidth
		}
		out = append(out, unit...)
		col += len(unit)
	}
	return out
}

func isHexByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'A' && b <= 'F') || (b >= 'a' && b <= 'f')
}

func hexVal(b byte) byte {
	switch {
	case b >= '0' && b <= '9':
		return b - '0'
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10
	default:
		return 0
	}
}

func stripTrailingLineWS(b []byte) []byte {
	j := len(b)
	for j > 0 && (b[j-1] == ' ' || b[j-1] == '\t') {
		j--
	}
	return b[:j]
}

// DecodeQuotedPrintable reverses EncodeQuotedPrintable. Invalid escape
// sequences (a '=' not followed by a soft break or two hex digits) are
// preserved verbatim rather than rejected, per RFC 2045's guidance to
// decoders.
func DecodeQuotedPrintable(input []byte) []byte {
	var out []byte
	kept := 0 // out[:kept] holds escaped bytes and earlier lines, never trimmed
	i := 0
	n := len(input)
	for i < n {
		b := input[i]
		switch {
		case b == '=':
			if i+2 < n && input[i+1] == '\r' && input[i+2] == '\n' {
				i += 3
				continue
			}
			if i+1 < n && input[i+1] == '\n' {
				i += 2
				continue
			}
			if i+2 < n && isHexByte(input[i+1]) && isHexByte(input[i+2]) {
				out = append(out, hexVal(input[i+1])<<4|hexVal(input[i+2]))
				kept = len(out)
				i += 3
				continue
			}
			out = append(out, b)
			i++
		case b == '\r' && i+1 < n && input[i+1] == '\n':
			out = out[:kept+len(stripTrailingLineWS(out[kept:]))]
			out = append(out, '\r', '\n')
			kept = len(out)
			i += 2
		default:
			out = append(out, b)
			i++
		}
	}
	return out
}
