package smtpsend

import (
	"context"
	"io"
	"io/ioutil"
	"net"
	"sort"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/nyholt/atomicmail/internal/smtpqueue"
)

// testBackend is a trimmed version of maddy's testutils SMTPBackend: just
// enough of a go-smtp server to record MAIL FROM/RCPT TO/DATA so Sender.Send
// can be exercised against a real (loopback) SMTP connection rather than a
// mocked transport.
type testBackend struct {
	mailErr error
	rcptErr map[string]error
	dataErr error

	messages []recordedMsg
}

type recordedMsg struct {
	from string
	to   []string
	data []byte
}

type testSession struct {
	be  *testBackend
	msg recordedMsg
}

func (s *testSession) Mail(from string, opts *gosmtp.MailOptions) error {
	if s.be.mailErr != nil {
		return s.be.mailErr
	}
	s.msg = recordedMsg{from: from}
	return nil
}

func (s *testSession) Rcpt(to string) error {
	if err := s.be.rcptErr[to]; err != nil {
		return err
	}
	s.msg.to = append(s.msg.to, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	if s.be.dataErr != nil {
		return s.be.dataErr
	}
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.data = b
	s.be.messages = append(s.be.messages, s.msg)
	return nil
}

func (s *testSession) Reset()        {}
func (s *testSession) Logout() error { return nil }

func (be *testBackend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	return &testSession{be: be}, nil
}

func startTestServer(t *testing.T) (*testBackend, string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	be := &testBackend{rcptErr: map[string]error{}}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	go srv.Serve(l)
	t.Cleanup(func() { srv.Close() })

	// Dial once to make sure Serve has started before the real test traffic
	// arrives, same race guard testutils.SMTPServer uses.
	addr := l.Addr().String()
	testConn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	testConn.Close()

	return be, addr
}

// fixedDialer ignores the address it's given and always connects to addr —
// stands in for DNS+dial against a real host during tests.
func fixedDialer(addr string) func(ctx context.Context, network, a string) (net.Conn, error) {
	return func(ctx context.Context, network, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
}

// fixedResolver always returns a single MX pointing at "mx.test.invalid" —
// the fixedDialer above ignores the hostname anyway, so only one record is
// needed to drive the dial loop.
type fixedResolver struct{}

func (fixedResolver) LookupAddr(ctx context.Context, addr string) ([]string, error) { return nil, nil }
func (fixedResolver) LookupHost(ctx context.Context, host string) ([]string, error) { return nil, nil }
func (fixedResolver) LookupMX(ctx context.Context, name string) ([]*net.MX, error) {
	return []*net.MX{{Host: "mx.test.invalid.", Pref: 10}}, nil
}
func (fixedResolver) LookupTXT(ctx context.Context, name string) ([]string, error) { return nil, nil }
func (fixedResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nil, nil
}

func TestSendDeliversToSingleDomain(t *testing.T) {
	be, addr := startTestServer(t)

	sender := NewSender(Config{
		Hostname: "relay.example.com",
		Resolver: fixedResolver{},
		Dialer:   fixedDialer(addr),
	})

	msg := &smtpqueue.SmtpMsgToSend{
		From:      "alice@example.com",
		RawHeader: []byte("Subject: hi\r\n\r\n"),
		Body:      []byte("hello\r\n"),
	}

	results := sender.Send(context.Background(), msg, []string{"bob@example.com", "carol@example.com"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for _, r := range results {
		if r.Err != nil {
			t.Fatalf("unexpected failure for %s: %v (stage %s)", r.Rcpt, r.Err, r.Stage)
		}
	}

	if len(be.messages) != 1 {
		t.Fatalf("backend recorded %d messages, want 1 (both rcpts share one transaction)", len(be.messages))
	}
	got := append([]string(nil), be.messages[0].to...)
	sort.Strings(got)
	want := []string{"bob@example.com", "carol@example.com"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("recipients = %v, want %v", got, want)
		}
	}
}

func TestSendRecipientRejectedByServer(t *testing.T) {
	be, addr := startTestServer(t)
	be.rcptErr["bad@example.com"] = &gosmtp.SMTPError{
		Code: 550, Message: "no such user",
	}

	sender := NewSender(Config{
		Hostname: "relay.example.com",
		Resolver: fixedResolver{},
		Dialer:   fixedDialer(addr),
	})

	msg := &smtpqueue.SmtpMsgToSend{
		From:      "alice@example.com",
		RawHeader: []byte("Subject: hi\r\n\r\n"),
		Body:      []byte("hello\r\n"),
	}

	results := sender.Send(context.Background(), msg, []string{"bad@example.com", "good@example.com"})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	var badResult, goodResult *smtpqueue.AttemptResult
	for i := range results {
		switch results[i].Rcpt {
		case "bad@example.com":
			badResult = &results[i]
		case "good@example.com":
			goodResult = &results[i]
		}
	}
	if badResult == nil || badResult.Err == nil || badResult.Temporary {
		t.Fatalf("expected a permanent failure for bad@example.com, got %+v", badResult)
	}
	if badResult.ReplyCode != 550 {
		t.Fatalf("ReplyCode = %d, want 550", badResult.ReplyCode)
	}
	if goodResult == nil || goodResult.Err != nil {
		t.Fatalf("expected good@example.com to succeed, got %+v", goodResult)
	}
}
