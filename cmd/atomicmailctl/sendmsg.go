package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/nyholt/atomicmail"
	"github.com/urfave/cli/v2"
)

// sendMsgCommand is "run" plus one message enqueued before the signal wait,
// the Go counterpart of CmdSendMsg in OgnTestCmdSendMsg.cpp (which called
// CmdRun_Inner with a startup callback that did the one
// Originator_SendMessage). The original's -retry/-tlsreq/-basesecsmax/
// -minbps per-message overrides have no equivalent on smtpqueue.Queue.
// Enqueue, which takes only messageID/from/to/header/body — they are
// accepted here for CLI compatibility and logged, not enforced; see
// DESIGN.md.
func sendMsgCommand() *cli.Command {
	return &cli.Command{
		Name:  "sendmsg",
		Usage: "Enqueue one message and run the send queue until the process is signaled",
		Flags: []cli.Flag{
			stgsFlag(), stateDirFlag(),
			&cli.StringFlag{Name: "from", Value: "from@example.com"},
			&cli.StringFlag{Name: "todomain", Required: true, Usage: "destination domain for -mbox entries"},
			&cli.StringSliceFlag{Name: "mbox", Usage: "local-part at -todomain, repeatable"},
			&cli.PathFlag{Name: "content", Required: true, Usage: "raw RFC 5322 message file (header + body)"},
			&cli.StringFlag{Name: "retry", Usage: "comma-separated retry minutes (accepted, not enforced)"},
			&cli.BoolFlag{Name: "tlsreq", Usage: "require TLS for this delivery (accepted, not enforced)"},
			&cli.IntFlag{Name: "basesecsmax", Usage: "maximum DATA transfer seconds override (accepted, not enforced)"},
			&cli.IntFlag{Name: "minbps", Usage: "minimum bytes/sec override (accepted, not enforced)"},
			&cli.StringSliceFlag{Name: "addldomain", Usage: "additional match domains (accepted, not enforced)"},
			&cli.StringFlag{Name: "selector", Value: "default", Usage: "DKIM selector to sign with, if a key is stored for -from's domain"},
		},
		Action: func(ctx *cli.Context) error {
			mboxes := ctx.StringSlice("mbox")
			if len(mboxes) == 0 {
				return cli.Exit("at least one -mbox is required", 2)
			}
			to := make([]string, len(mboxes))
			for i, m := range mboxes {
				to[i] = m + "@" + ctx.String("todomain")
			}

			raw, err := os.ReadFile(ctx.Path("content"))
			if err != nil {
				return cli.Exit(err, 1)
			}
			rawHeader, body := splitMessage(raw)

			p, err := openPipeline(ctx.Path("state-dir"), ctx.Path("stgs"))
			if err != nil {
				return cli.Exit(err, 1)
			}

			for _, flag := range []string{"retry", "tlsreq", "basesecsmax", "minbps", "addldomain"} {
				if ctx.IsSet(flag) {
					p.log.Printf("-%s given but not enforced by the send pipeline", flag)
				}
			}

			if signed, err := p.signIfKeyStored(ctx.String("from"), ctx.String("selector"), rawHeader, body); err != nil {
				p.close()
				return cli.Exit(err, 1)
			} else if signed != nil {
				rawHeader = signed
			}

			id, err := p.queue.Enqueue(uuid.New().String(), ctx.String("from"), to, rawHeader, body)
			if err != nil {
				p.close()
				return cli.Exit(err, 1)
			}
			fmt.Printf("enqueued as %s\n", id)

			sig := atomicmail.HandleSignals()
			p.log.Printf("shutting down (signal %v)", sig)
			if err := p.close(); err != nil {
				return cli.Exit(err, 1)
			}
			return nil
		},
	}
}

// splitMessage separates a raw RFC 5322 message file into its header block
// (bytes up to and including the first blank line) and body, the two parts
// SmtpMsgToSend stores as RawHeader and Body; internal/smtpsend's Sender
// parses RawHeader with textproto.ReadHeader and sends Body after it.
func splitMessage(raw []byte) (header, body []byte) {
	for _, sep := range []string{"\r\n\r\n", "\n\n"} {
		if i := strings.Index(string(raw), sep); i >= 0 {
			return raw[:i+len(sep)], raw[i+len(sep):]
		}
	}
	return raw, nil
}
