// Package smtpsend implements the per-attempt SMTP delivery state machine
// that internal/smtpqueue dispatches into: resolve MX, connect, optionally
// STARTTLS and authenticate, then MAIL FROM/RCPT TO/DATA/QUIT. It is
// grounded on internal/target/remote (MX selection, per-domain connection
// grouping) and internal/smtpconn (error classification), reusing
// github.com/emersion/go-smtp as the wire client and github.com/miekg/dns +
// golang.org/x/net/idna for MX resolution and hostname encoding.
package smtpsend

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/emersion/go-smtp"
	"github.com/nyholt/atomicmail/framework/address"
	"github.com/nyholt/atomicmail/framework/dns"
	"github.com/nyholt/atomicmail/framework/exterrors"
	"github.com/nyholt/atomicmail/framework/log"
	"github.com/nyholt/atomicmail/internal/smtpqueue"
)

// Config holds the settings a Sender needs to build outbound connections:
// the ambient counterpart of remote.Target's cfg.* fields, but constructed
// directly in Go rather than parsed from a config.Map block.
type Config struct {
	Hostname       string
	Resolver       dns.Resolver
	Dialer         func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSConfig      *tls.Config
	Auth           AuthConfig
	Pins           PinStore
	Pool           *Pool
	RateLimit      *DomainLimiter
	MaxMessageSize int64

	ConnectTimeout time.Duration
	CommandTimeout time.Duration

	Log log.Logger
}

// Sender implements smtpqueue.Sender atop Config, the wiring that finally
// lets entitystore-backed queue entries turn into real network deliveries.
type Sender struct {
	cfg Config
}

func NewSender(cfg Config) *Sender {
	if cfg.Dialer == nil {
		cfg.Dialer = (&net.Dialer{}).DialContext
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Minute
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.Resolver == nil {
		cfg.Resolver = dns.DefaultResolver()
	}

	s := &Sender{cfg: cfg}
	if s.cfg.Pool == nil {
		s.cfg.Pool = NewPool(PoolConfig{
			MaxKeys:             20000,
			MaxConnsPerKey:      10,
			MaxConnLifetimeSec:  150,
			StaleKeyLifetimeSec: 300,
		})
	}
	s.cfg.Pool.cfg.New = func(ctx context.Context, domain string) (Conn, error) {
		c, _, err := s.dial(ctx, domain)
		return c, err
	}
	return s
}

var _ smtpqueue.Sender = (*Sender)(nil)

// Send groups rcpts by destination domain and runs one delivery attempt per
// group, matching remote.go's per-domain connection reuse: recipients at the
// same domain share a single MAIL FROM/DATA transaction.
func (s *Sender) Send(ctx context.Context, msg *smtpqueue.SmtpMsgToSend, rcpts []string) []smtpqueue.AttemptResult {
	byDomain := map[string][]string{}
	var order []string
	for _, r := range rcpts {
		_, domain, err := address.Split(r)
		if err != nil || domain == "" {
			byDomain["?"] = append(byDomain["?"], r)
			if !contains(order, "?") {
				order = append(order, "?")
			}
			continue
		}
		if _, ok := byDomain[domain]; !ok {
			order = append(order, domain)
		}
		byDomain[domain] = append(byDomain[domain], r)
	}

	results := make([]smtpqueue.AttemptResult, 0, len(rcpts))
	for _, domain := range order {
		group := byDomain[domain]
		if domain == "?" {
			for _, r := range group {
				results = append(results, smtpqueue.AttemptResult{
					Rcpt: r, Err: errInvalidRecipient{}, Temporary: false, Stage: "resolve",
				})
			}
			continue
		}
		results = append(results, s.sendToDomain(ctx, msg, domain, group)...)
	}
	return results
}

type errInvalidRecipient struct{}

func (errInvalidRecipient) Error() string   { return "smtpsend: recipient address has no domain part" }
func (errInvalidRecipient) Temporary() bool { return false }

func (s *Sender) sendToDomain(ctx context.Context, msg *smtpqueue.SmtpMsgToSend, domain string, rcpts []string) []smtpqueue.AttemptResult {
	if s.cfg.RateLimit != nil {
		if err := s.cfg.RateLimit.Wait(ctx, domain); err != nil {
			return allFailed(rcpts, err, true, "ratelimit")
		}
	}

	c, stage, err := s.connect(ctx, domain)
	if err != nil {
		return allFailed(rcpts, err, exterrors.IsTemporaryOrUnspec(err), stage)
	}
	defer func() {
		if s.cfg.Pool != nil {
			s.cfg.Pool.Return(domain, c)
		} else {
			c.Close()
		}
	}()

	if err := s.authenticate(c); err != nil {
		return allFailed(rcpts, err, exterrors.IsTemporaryOrUnspec(err), "auth")
	}

	if err := c.cl.Mail(msg.From, &smtp.MailOptions{}); err != nil {
		return allFailed(rcpts, wrapConnErr(err, c.host), exterrors.IsTemporaryOrUnspec(err), "mail")
	}

	results := make([]smtpqueue.AttemptResult, 0, len(rcpts))
	var accepted []string
	for _, r := range rcpts {
		if err := c.cl.Rcpt(r); err != nil {
			wrapped := wrapConnErr(err, c.host)
			results = append(results, toResult(r, wrapped, "rcpt"))
			continue
		}
		accepted = append(accepted, r)
	}
	if len(accepted) == 0 {
		return results
	}

	header, _ := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(msg.RawHeader)))
	body := newLimitedReader(bytes.NewReader(msg.Body), s.cfg.MaxMessageSize)

	dataErr := sendData(c, header, body)
	for _, r := range accepted {
		results = append(results, toResult(r, dataErr, "data"))
	}
	return results
}

func toResult(rcpt string, err error, stage string) smtpqueue.AttemptResult {
	if err == nil {
		return smtpqueue.AttemptResult{Rcpt: rcpt, Stage: stage}
	}
	r := smtpqueue.AttemptResult{
		Rcpt: rcpt, Err: err, Temporary: exterrors.IsTemporaryOrUnspec(err), Stage: stage,
	}
	if smtpErr, ok := err.(*exterrors.SMTPError); ok {
		r.ReplyCode = smtpErr.Code
		r.EnhancedCode = smtpErr.EnhancedCode.String()
		r.FirstReplyLine = smtpErr.Message
	}
	return r
}

func allFailed(rcpts []string, err error, temporary bool, stage string) []smtpqueue.AttemptResult {
	out := make([]smtpqueue.AttemptResult, 0, len(rcpts))
	for _, r := range rcpts {
		res := smtpqueue.AttemptResult{Rcpt: r, Err: err, Temporary: temporary, Stage: stage}
		if smtpErr, ok := err.(*exterrors.SMTPError); ok {
			res.ReplyCode = smtpErr.Code
			res.EnhancedCode = smtpErr.EnhancedCode.String()
			res.FirstReplyLine = smtpErr.Message
		}
		out = append(out, res)
	}
	return out
}

// connect fetches a usable connection for domain from the pool, dialing a
// fresh one (via dial, wired in as the pool's New func) on a cache miss —
// the entitystore-era replacement for remote.go's connectionForDomain, which
// did the same pool-then-dial fallback against rd.connections.
func (s *Sender) connect(ctx context.Context, domain string) (*conn, string, error) {
	pooled, err := s.cfg.Pool.Get(ctx, domain)
	if err != nil {
		return nil, "connect", err
	}
	c, ok := pooled.(*conn)
	if !ok {
		return nil, "connect", &exterrors.SMTPError{
			Code: 451, Message: "internal pool error", TargetName: "smtpsend",
		}
	}
	return c, "connect", nil
}

// dial resolves domain's MX set and tries each host in preference order
// until one accepts a connection, mirroring newConn's iterate-until-usable
// loop in remote/connect.go.
func (s *Sender) dial(ctx context.Context, domain string) (*conn, string, error) {
	records, err := ResolveMX(ctx, s.cfg.Resolver, domain)
	if err != nil {
		return nil, "resolve", err
	}

	params := dialParams{
		dialer:         s.cfg.Dialer,
		hostname:       s.cfg.Hostname,
		connectTimeout: s.cfg.ConnectTimeout,
		commandTimeout: s.cfg.CommandTimeout,
		tlsConfig:      s.cfg.TLSConfig,
		pins:           s.cfg.Pins,
		log:            s.cfg.Log,
	}

	var lastErr error
	for _, mx := range records {
		if mx.Host == "." {
			return nil, "resolve", &exterrors.SMTPError{
				Code:         556,
				EnhancedCode: exterrors.EnhancedCode{5, 1, 10},
				Message:      "Domain does not accept email (null MX)",
				TargetName:   "smtpsend",
			}
		}
		c, err := dialMX(ctx, params, mx.Host, domain)
		if err != nil {
			lastErr = err
			continue
		}
		return c, "connect", nil
	}
	return nil, "connect", lastErr
}

func (s *Sender) authenticate(c *conn) error {
	cl, err := s.cfg.Auth.Client()
	if err != nil {
		return err
	}
	if cl == nil {
		return nil
	}
	if ok, _ := c.cl.Extension("AUTH"); !ok {
		return &exterrors.SMTPError{
			Code:         530,
			EnhancedCode: exterrors.EnhancedCode{5, 7, 0},
			Message:      "Remote server does not support AUTH",
			TargetName:   "smtpsend",
		}
	}
	return c.cl.Auth(cl)
}

func sendData(c *conn, header textproto.Header, body io.Reader) error {
	wc, err := c.cl.Data()
	if err != nil {
		return wrapConnErr(err, c.host)
	}
	if err := textproto.WriteHeader(wc, header); err != nil {
		wc.Close()
		return wrapConnErr(err, c.host)
	}
	buf := make([]byte, 32*1024)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := wc.Write(buf[:n]); werr != nil {
				wc.Close()
				return wrapConnErr(werr, c.host)
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				// Drop the connection instead of closing DATA so a partial
				// body is never committed.
				c.cl.Close()
				return rerr
			}
			break
		}
	}
	if err := wc.Close(); err != nil {
		return wrapConnErr(err, c.host)
	}
	return nil
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
