package imf

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/emersion/go-message/textproto"
	"github.com/nyholt/atomicmail/internal/xcrypto"
)

// DefaultMaxPartDepth is a maxDepth value for ParsePart, bounding how many
// nested multipart levels it will descend into, per RFC 2046's unbounded recursion
// risk — mirrors mtasts/cache.go's use of mime.ParseMediaType for the
// Content-Type split, generalized from a single header to a part tree.
const DefaultMaxPartDepth = 8

// Part is one node of a parsed MIME tree: a leaf part carries Content in
// its original (still encoded) form; a multipart part carries Children
// instead.
type Part struct {
	ContentType       string
	Params            map[string]string
	TransferEncoding  string
	ContentID         string
	Description       string
	Disposition       string
	DispositionParams map[string]string
	MIMEVersion       string
	Extension         []Field

	Content  []byte
	Children []*Part
}

// IsMultipart reports whether p's Content-Type top-level type is
// "multipart".
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(strings.ToLower(p.ContentType), "multipart/")
}

// DecodedContent returns a leaf part's Content with its
// Content-Transfer-Encoding reversed. Unknown encodings are returned
// unmodified, matching RFC 2045's guidance to treat them as "8bit".
func (p *Part) DecodedContent() []byte {
	switch strings.ToLower(p.TransferEncoding) {
	case "quoted-printable":
		return DecodeQuotedPrintable(p.Content)
	case "base64":
		return decodeBase64Loose(p.Content)
	default:
		return p.Content
	}
}

func decodeBase64Loose(b []byte) []byte {
	clean := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\r' || c == '\n' {
			continue
		}
		clean = append(clean, c)
	}
	out, err := base64Decode(clean)
	if err != nil {
		return b
	}
	return out
}

// ParsePart builds a Part from a parsed header and its raw body, descending
// into nested multiparts up to maxDepth levels.
func ParsePart(header textproto.Header, body []byte, maxDepth int) (*Part, error) {
	p := &Part{}

	if ct := header.Get("Content-Type"); ct != "" {
		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil {
			mediaType = strings.ToLower(strings.TrimSpace(strings.SplitN(ct, ";", 2)[0]))
			params = map[string]string{}
		}
		p.ContentType = mediaType
		p.Params = params
	} else {
		p.ContentType = "text/plain"
		p.Params = map[string]string{}
	}

	p.TransferEncoding = header.Get("Content-Transfer-Encoding")
	p.ContentID = header.Get("Content-Id")
	p.Description = header.Get("Content-Description")
	p.MIMEVersion = header.Get("Mime-Version")

	if cd := header.Get("Content-Disposition"); cd != "" {
		disp, params, err := mime.ParseMediaType(cd)
		if err == nil {
			p.Disposition = disp
			p.DispositionParams = params
		}
	}

	for f := header.Fields(); f.Next(); {
		lk := strings.ToLower(f.Key())
		switch lk {
		case "content-type", "content-transfer-encoding", "content-id",
			"content-description", "content-disposition", "mime-version":
			continue
		}
		p.Extension = append(p.Extension, Field{Name: f.Key(), Value: f.Value()})
	}

	if !p.IsMultipart() || maxDepth <= 0 {
		p.Content = body
		return p, nil
	}

	boundary := p.Params["boundary"]
	if boundary == "" {
		p.Content = body
		return p, nil
	}

	children, err := splitMultipart(body, boundary, maxDepth-1)
	if err != nil {
		return nil, err
	}
	p.Children = children
	return p, nil
}

func splitMultipart(body []byte, boundary string, remainingDepth int) ([]*Part, error) {
	dashBoundary := []byte("--" + boundary)
	segments := bytes.Split(body, dashBoundary)
	if len(segments) < 2 {
		return nil, fmt.Errorf("imf: no boundary %q found in multipart body", boundary)
	}

	var parts []*Part
	// segments[0] is the preamble; the final segment (after the closing
	// "--boundary--") is the epilogue, both discarded.
	for _, seg := range segments[1 : len(segments)-1] {
		seg = bytes.TrimPrefix(seg, []byte("\r\n"))
		seg = bytes.TrimPrefix(seg, []byte("\n"))

		headerEnd := bytes.Index(seg, []byte("\r\n\r\n"))
		sep := 4
		if headerEnd < 0 {
			headerEnd = bytes.Index(seg, []byte("\n\n"))
			sep = 2
		}
		var rawHeader, partBody []byte
		if headerEnd < 0 {
			rawHeader = seg
			partBody = nil
		} else {
			rawHeader = seg[:headerEnd]
			partBody = seg[headerEnd+sep:]
		}

		header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(append(rawHeader, "\r\n\r\n"...))))
		if err != nil {
			continue
		}

		child, err := ParsePart(header, partBody, remainingDepth)
		if err != nil {
			continue
		}
		parts = append(parts, child)
	}
	return parts, nil
}

// GenerateBoundary produces a fresh multipart boundary token seeded with
// "=_" so it can never collide with a quoted-printable escape sequence
// appearing in the encoded body.
func GenerateBoundary() (string, error) {
	buf := make([]byte, 18)
	if err := xcrypto.RNG(buf); err != nil {
		return "", err
	}
	return "=_" + hexEncode(buf), nil
}

func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}

func base64Decode(b []byte) ([]byte, error) {
	s := string(b)
	// Tolerate missing padding, which 8bit-unaware MTAs occasionally
	// mangle in transit.
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.StdEncoding.DecodeString(s)
}
