package smtpsend

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/nyholt/atomicmail/framework/exterrors"
	"github.com/nyholt/atomicmail/framework/log"
)

// conn wraps a go-smtp.Client the way internal/smtpconn.C wraps it: one
// dial+EHLO+STARTTLS attempt per remote host, with errors classified into
// exterrors.SMTPError and the negotiated TlsAssurance recorded for the
// caller to inspect.
type conn struct {
	cl     *smtp.Client
	host   string
	domain string

	assurance TlsAssurance
	used      int
	log       log.Logger
}

func (c *conn) Usable() bool {
	return c.cl != nil && c.cl.Reset() == nil
}

func (c *conn) Close() error {
	if c.cl == nil {
		return nil
	}
	err := c.cl.Quit()
	if err != nil {
		c.log.Error("QUIT error", err)
		return c.cl.Close()
	}
	return nil
}

// dialParams bundles what dialMX needs beyond the host/domain being
// connected, factored out so Sender can build it once per Send call instead
// of threading seven parameters through.
type dialParams struct {
	dialer         func(ctx context.Context, network, addr string) (net.Conn, error)
	hostname       string
	connectTimeout time.Duration
	commandTimeout time.Duration
	tlsConfig      *tls.Config
	pins           PinStore
	log            log.Logger
}

// dialMX performs one connection attempt against host: dial, EHLO, and
// STARTTLS if offered, falling back to plaintext rather than failing
// outright — mirroring attemptConnect plus the verify-error retry ladder in
// remote/connect.go's connect(), collapsed into a single pass since
// internal/smtpsend does not implement MX policy escalation (mx_auth
// directives) the way remote.go's PolicyGroup does.
func dialMX(ctx context.Context, p dialParams, host, domain string) (*conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
	netConn, err := p.dialer(dialCtx, "tcp", net.JoinHostPort(host, smtpPort))
	cancel()
	if err != nil {
		reason, misc := exterrors.UnwrapDNSErr(err)
		misc["remote_server"] = host
		return nil, &exterrors.SMTPError{
			Code:         exterrors.SMTPCode(err, 450, 550),
			EnhancedCode: exterrors.SMTPEnchCode(err, exterrors.EnhancedCode{0, 4, 4}),
			Message:      "Connection error",
			TargetName:   "smtpsend",
			Reason:       reason,
			Misc:         misc,
			Err:          err,
		}
	}

	cl, err := smtp.NewClient(netConn, host)
	if err != nil {
		netConn.Close()
		return nil, wrapConnErr(err, host)
	}
	cl.CommandTimeout = p.commandTimeout

	ace, err := ToACE(p.hostname)
	if err != nil {
		ace = p.hostname
	}
	if err := cl.Hello(ace); err != nil {
		cl.Close()
		return nil, wrapConnErr(err, host)
	}

	assurance := TlsNone
	if ok, _ := cl.Extension("STARTTLS"); ok && p.tlsConfig != nil {
		cfg := p.tlsConfig.Clone()
		cfg.ServerName = host
		if err := cl.StartTLS(cfg); err != nil {
			p.log.Error("STARTTLS failed, continuing in plaintext", err, "remote_server", host)
		} else if state, ok := cl.TLSConnectionState(); ok {
			assurance, err = assessTLS(state, host, p.pins)
			if err != nil {
				cl.Close()
				if _, ok := err.(*pinMismatchError); !ok {
					return nil, wrapConnErr(err, host)
				}
				return nil, &exterrors.SMTPError{
					Code:         550,
					EnhancedCode: exterrors.EnhancedCode{5, 7, 5},
					Message:      "TLS certificate does not match pinned fingerprint",
					TargetName:   "smtpsend",
					Err:          err,
				}
			}
		}
	}

	return &conn{cl: cl, host: host, domain: domain, assurance: assurance, log: p.log}, nil
}

func wrapConnErr(err error, host string) error {
	if smtpErr, ok := err.(*smtp.SMTPError); ok {
		return &exterrors.SMTPError{
			Code:         smtpErr.Code,
			EnhancedCode: EnhancedCodeFromSMTP(smtpErr),
			Message:      smtpErr.Message,
			TargetName:   "smtpsend",
			Misc:         map[string]interface{}{"remote_server": host},
			Err:          err,
		}
	}
	return exterrors.WithFields(err, map[string]interface{}{"remote_server": host})
}

// EnhancedCodeFromSMTP copies the enhanced status code off a go-smtp error,
// defaulting to the bare reply class when the server didn't send one.
func EnhancedCodeFromSMTP(err *smtp.SMTPError) exterrors.EnhancedCode {
	if err.EnhancedCode == (smtp.EnhancedCode{}) {
		return exterrors.EnhancedCode{err.Code / 100, 0, 0}
	}
	return exterrors.EnhancedCode{err.EnhancedCode[0], err.EnhancedCode[1], err.EnhancedCode[2]}
}
