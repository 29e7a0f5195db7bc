package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/emersion/go-message/textproto"
	"github.com/nyholt/atomicmail"
	"github.com/nyholt/atomicmail/framework/address"
	"github.com/nyholt/atomicmail/framework/clock"
	"github.com/nyholt/atomicmail/framework/hooks"
	"github.com/nyholt/atomicmail/framework/log"
	"github.com/nyholt/atomicmail/internal/dkim"
	"github.com/nyholt/atomicmail/internal/entitystore"
	"github.com/nyholt/atomicmail/internal/smtpqueue"
	"github.com/nyholt/atomicmail/internal/smtpsend"
	"github.com/urfave/cli/v2"
)

// pipeline bundles everything "run" and "sendmsg" both need: the entity
// store, its dkim.KeyStore, and a queue pumping through a sender, mirroring
// how CmdRun_Inner builds one OgnSmtpSettings/OgnServiceSettings pair and
// CmdSendMsg reuses it verbatim plus one Originator_SendMessage call.
type pipeline struct {
	store *entitystore.Store
	keys  *dkim.KeyStore
	queue *smtpqueue.Queue
	log   log.Logger
}

// openPipeline opens the entity store at stateDir, parses the settings
// envelope at stgsPath, and wires a Sender/Queue pair from it.
func openPipeline(stateDir, stgsPath string) (*pipeline, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return nil, err
	}
	store, err := entitystore.Open(stateDir)
	if err != nil {
		return nil, err
	}

	stgs, err := loadSettings(stgsPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	lg := log.Logger{Name: "atomicmailctl", Out: log.WriterOutput(os.Stderr, true)}
	pins := smtpsend.NewEntityPinStore(store)
	sender := smtpsend.NewSender(stgs.buildSenderConfig(lg, pins))

	p := &pipeline{store: store, keys: dkim.NewKeyStore(store), log: lg}

	cb := smtpqueue.Callbacks{
		OnReset: func(msg *smtpqueue.SmtpMsgToSend) {
			p.log.Printf("Reset: %s", describeMsg(msg))
		},
		OnAttempt: func(msg *smtpqueue.SmtpMsgToSend, rcpts []string) {
			p.log.Printf("Attempt: %s -> %v", describeMsg(msg), rcpts)
		},
		OnResult: func(msg *smtpqueue.SmtpMsgToSend, results []smtpqueue.AttemptResult) {
			p.log.Printf("Result: %s", describeMsg(msg))
			for _, r := range results {
				if r.Err != nil {
					p.log.Printf("  %s: failed at %s: %v (temporary=%v)", r.Rcpt, r.Stage, r.Err, r.Temporary)
				} else {
					p.log.Printf("  %s: delivered", r.Rcpt)
				}
			}
		},
	}

	queue, err := smtpqueue.Open(store, sender, clock.Real, 16, cb)
	if err != nil {
		store.Close()
		return nil, err
	}
	p.queue = queue
	return p, nil
}

// signIfKeyStored DKIM-signs rawHeader/body using whatever key dkimgen -store
// persisted for fromAddr's domain+selector, returning the re-serialized
// header with the new DKIM-Signature field at its top, or nil if no such key
// is on file — "sendmsg" calls this so a message composed without -kp still
// gets signed when the sending domain has a stored key.
func (p *pipeline) signIfKeyStored(fromAddr, selector string, rawHeader, body []byte) ([]byte, error) {
	_, domain, err := address.Split(fromAddr)
	if err != nil || domain == "" {
		return nil, nil
	}
	rec, found, err := p.keys.Lookup(domain, selector)
	if err != nil || !found {
		return nil, err
	}

	signer, err := dkim.LoadKey(rec.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(rawHeader)))
	if err != nil {
		return nil, err
	}
	if err := dkim.Sign(dkim.SignConfig{Domain: domain, Selector: selector, Signer: signer}, &header, body); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, header); err != nil {
		return nil, err
	}
	p.log.Printf("signed outgoing message for %s with stored key (selector %s)", domain, selector)
	return buf.Bytes(), nil
}

func describeMsg(msg *smtpqueue.SmtpMsgToSend) string {
	return fmt.Sprintf("%s from=%s to=%v size=%d", msg.MessageID, msg.From, msg.To, len(msg.Body))
}

// close shuts the pipeline down in the order CmdRun_Inner's
// Originator_BeginStop/Originator_WaitStop pair did: it first runs the
// shutdown hooks, then closes the queue (stop taking new work, drain
// in-flight attempts), then closes the store.
func (p *pipeline) close() error {
	hooks.RunHooks(hooks.EventShutdown)
	if err := p.queue.Close(); err != nil {
		p.store.Close()
		return err
	}
	return p.store.Close()
}

// defaultStgsPath mirrors CmdRun_Inner's "OgnTestSmtp.txt next to the
// executable" default, replaced with the configured config directory since
// this is an installed daemon, not a developer test harness.
func defaultStgsPath() string {
	return filepath.Join(atomicmail.ConfigDirectory, "atomicmailctl.stgs")
}

func stgsFlag() cli.Flag {
	return &cli.PathFlag{
		Name:  "stgs",
		Usage: "settings envelope file",
		Value: defaultStgsPath(),
	}
}

func stateDirFlag() cli.Flag {
	return &cli.PathFlag{
		Name:  "state-dir",
		Usage: "entity store directory",
		Value: atomicmail.DefaultStateDirectory,
	}
}
