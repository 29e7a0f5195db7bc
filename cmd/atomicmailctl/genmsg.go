package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/nyholt/atomicmail/internal/dkim"
	"github.com/nyholt/atomicmail/internal/imf"
	"github.com/urfave/cli/v2"
)

// defaultGenMsgContent stands in for OgnTestCmdGenMsg.cpp's c_mkdnDefault
// sample: a short multi-paragraph body exercising the plain-text path when
// -content names no file.
const defaultGenMsgContent = `Hello,

This is a test message generated by atomicmailctl genmsg.

It has more than one paragraph, so the quoted-printable body encoder has
something to fold.

Regards.
`

// genMsgCommand composes a test message from a plain-text body plus
// optional attachments, the Go counterpart of OgnTestCmdGenMsg.cpp. The
// original rendered the body from Markdown to HTML; no library in this
// module's corpus composes or renders Markdown, so the body here is carried
// through as plain text (see DESIGN.md) rather than reimplementing a
// Markdown renderer on the standard library.
func genMsgCommand() *cli.Command {
	return &cli.Command{
		Name:  "genmsg",
		Usage: "Compose a test message and write it to a file or stdout",
		Flags: []cli.Flag{
			&cli.PathFlag{Name: "o", Usage: "output file (default: stdout)"},
			&cli.PathFlag{Name: "content", Usage: "body content file (default: a built-in sample)"},
			&cli.StringFlag{Name: "from", Value: "from@example.com"},
			&cli.StringSliceFlag{Name: "to"},
			&cli.StringSliceFlag{Name: "cc"},
			&cli.StringFlag{Name: "sub", Value: "atomicmailctl test message"},
			&cli.PathFlag{Name: "kp", Usage: "DKIM private key file to sign with"},
			&cli.StringFlag{Name: "sdid", Usage: "DKIM signing domain identifier"},
			&cli.StringFlag{Name: "sel", Usage: "DKIM selector"},
			&cli.StringSliceFlag{Name: "attach", Usage: "type:file, repeatable"},
		},
		Action: func(ctx *cli.Context) error {
			to := ctx.StringSlice("to")
			if len(to) == 0 {
				return cli.Exit("at least one -to is required", 2)
			}

			body, err := loadGenMsgBody(ctx.Path("content"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			header := textproto.Header{}
			header.Set("From", ctx.String("from"))
			for _, addr := range to {
				header.Add("To", addr)
			}
			for _, addr := range ctx.StringSlice("cc") {
				header.Add("Cc", addr)
			}
			header.Set("Subject", ctx.String("sub"))
			header.Set("Date", time.Now().Format(time.RFC1123Z))
			header.Set("MIME-Version", "1.0")

			wireBody, err := buildGenMsgBody(&header, body, ctx.StringSlice("attach"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			if kp := ctx.Path("kp"); kp != "" {
				pemBlob, err := os.ReadFile(kp)
				if err != nil {
					return cli.Exit(err, 1)
				}
				signer, err := dkim.LoadKey(pemBlob)
				if err != nil {
					return cli.Exit(err, 1)
				}
				cfg := dkim.SignConfig{Domain: ctx.String("sdid"), Selector: ctx.String("sel"), Signer: signer}
				if err := dkim.Sign(cfg, &header, wireBody); err != nil {
					return cli.Exit(err, 1)
				}
			}

			var out io.Writer = os.Stdout
			var outFile *os.File
			if path := ctx.Path("o"); path != "" {
				outFile, err = os.Create(path)
				if err != nil {
					return cli.Exit(err, 1)
				}
				defer outFile.Close()
				out = outFile
			}

			if err := textproto.WriteHeader(out, header); err != nil {
				return cli.Exit(err, 1)
			}
			if _, err := out.Write(wireBody); err != nil {
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
}

func loadGenMsgBody(path string) ([]byte, error) {
	if path == "" {
		return []byte(defaultGenMsgContent), nil
	}
	return os.ReadFile(path)
}

// buildGenMsgBody sets the message's Content-Type/Content-Transfer-Encoding
// on header and returns the encoded wire body: a single quoted-printable
// text/plain part with no attachments, or a multipart/mixed envelope (built
// with the standard library's mime/multipart, since nothing in this
// module's corpus composes outbound MIME) when -attach was given.
func buildGenMsgBody(header *textproto.Header, body []byte, attachments []string) ([]byte, error) {
	if len(attachments) == 0 {
		header.Set("Content-Type", "text/plain; charset=utf-8")
		header.Set("Content-Transfer-Encoding", "quoted-printable")
		return imf.EncodeQuotedPrintable(body), nil
	}

	boundary, err := imf.GenerateBoundary()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.SetBoundary(boundary); err != nil {
		return nil, err
	}

	partHeader := map[string][]string{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	}
	part, err := mw.CreatePart(partHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(imf.EncodeQuotedPrintable(body)); err != nil {
		return nil, err
	}

	for _, spec := range attachments {
		typ, path, ok := strings.Cut(spec, ":")
		if !ok {
			return nil, fmt.Errorf("genmsg: -attach must be type:file, got %q", spec)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(path)
		ah := map[string][]string{
			"Content-Type":              {typ},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": name})},
		}
		ap, err := mw.CreatePart(ah)
		if err != nil {
			return nil, err
		}
		enc := base64.NewEncoder(base64.StdEncoding, ap)
		if _, err := enc.Write(data); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	header.Set("Content-Type", "multipart/mixed; boundary="+boundary)
	return buf.Bytes(), nil
}
