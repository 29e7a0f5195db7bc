package smtpqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nyholt/atomicmail/framework/clock"
	"github.com/nyholt/atomicmail/internal/entitystore"
)

type fakeSender struct {
	results map[string][]AttemptResult // rcpt -> queued results, one per call
	calls   map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{results: map[string][]AttemptResult{}, calls: map[string]int{}}
}

func (f *fakeSender) queue(rcpt string, r AttemptResult) {
	r.Rcpt = rcpt
	f.results[rcpt] = append(f.results[rcpt], r)
}

func (f *fakeSender) Send(ctx context.Context, msg *SmtpMsgToSend, rcpts []string) []AttemptResult {
	out := make([]AttemptResult, 0, len(rcpts))
	for _, r := range rcpts {
		queued := f.results[r]
		idx := f.calls[r]
		f.calls[r]++
		if idx >= len(queued) {
			idx = len(queued) - 1
		}
		if idx < 0 {
			out = append(out, AttemptResult{Rcpt: r})
			continue
		}
		out = append(out, queued[idx])
	}
	return out
}

func openTestQueue(t *testing.T, sender Sender) (*Queue, *entitystore.Store) {
	t.Helper()
	st, err := entitystore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("entitystore.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	q, err := Open(st, sender, clock.NewFake(time.Unix(1700000000, 0)), 4, Callbacks{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, st
}

func TestEnqueueAndSuccessfulDeliveryMarksDone(t *testing.T) {
	sender := newFakeSender()
	sender.queue("bob@example.com", AttemptResult{Stage: "data"})

	q, st := openTestQueue(t, sender)

	id, err := q.Enqueue("msg-1", "alice@example.com", []string{"bob@example.com"}, []byte("From: a\r\n"), []byte("body"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	q.tryDelivery(id)

	var msg *SmtpMsgToSend
	err = st.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		msg = e.(*SmtpMsgToSend)
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !msg.Done {
		t.Fatal("expected message to be marked Done after a clean delivery")
	}
	if len(msg.To) != 0 {
		t.Fatalf("To = %v, want empty", msg.To)
	}
}

func TestTemporaryFailureSchedulesRetryWithFirstScheduleDelay(t *testing.T) {
	sender := newFakeSender()
	sender.queue("bob@example.com", AttemptResult{
		Err: errors.New("4.3.0 try again"), Temporary: true, Stage: "data",
	})

	q, st := openTestQueue(t, sender)
	id, err := q.Enqueue("msg-2", "alice@example.com", []string{"bob@example.com"}, nil, []byte("body"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	q.tryDelivery(id)

	var msg *SmtpMsgToSend
	err = st.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		msg = e.(*SmtpMsgToSend)
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if msg.Done {
		t.Fatal("message should not be Done while a recipient still has retries left")
	}
	if len(msg.To) != 1 {
		t.Fatalf("To = %v, want [bob@example.com]", msg.To)
	}
	wantNext := msg.LastAttempt.Add(RetrySchedule[0])
	if !msg.NextAttemptTime.Equal(wantNext) {
		t.Fatalf("NextAttemptTime = %v, want %v", msg.NextAttemptTime, wantNext)
	}

	var logCount int
	err = st.RunTxExclusive(func(tx *entitystore.Tx) error {
		return tx.EnumAllChildrenOfKind(id, KindSendAttemptLog, func(entitystore.Entity) bool {
			logCount++
			return true
		})
	})
	if err != nil {
		t.Fatalf("enum attempt logs: %v", err)
	}
	if logCount != 1 {
		t.Fatalf("logCount = %d, want 1", logCount)
	}
}

func TestExhaustedRetriesBecomePermanentFailure(t *testing.T) {
	sender := newFakeSender()
	for i := 0; i < MaxTries; i++ {
		sender.queue("bob@example.com", AttemptResult{
			Err: errors.New("4.3.0 try again"), Temporary: true, Stage: "data",
		})
	}

	q, st := openTestQueue(t, sender)
	id, err := q.Enqueue("msg-3", "alice@example.com", []string{"bob@example.com"}, nil, []byte("body"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	for i := 0; i < MaxTries; i++ {
		q.tryDelivery(id)
	}

	var msg *SmtpMsgToSend
	err = st.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		msg = e.(*SmtpMsgToSend)
		return nil
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !msg.Done {
		t.Fatal("expected message to be Done once retries are exhausted")
	}
	if len(msg.FailedRcpts) != 1 || msg.FailedRcpts[0] != "bob@example.com" {
		t.Fatalf("FailedRcpts = %v, want [bob@example.com]", msg.FailedRcpts)
	}
}
