package smtpqueue

import (
	"context"
	"time"

	"github.com/nyholt/atomicmail/framework/clock"
	"github.com/nyholt/atomicmail/framework/ensure"
	"github.com/nyholt/atomicmail/framework/log"
	"github.com/nyholt/atomicmail/internal/entitystore"
	"golang.org/x/sync/errgroup"
)

// AttemptResult is one recipient's outcome from a single delivery attempt,
// matching the per-mailbox stage/error-class/reply-code/enhanced-code/first
// reply line fields SendAttemptLog persists.
type AttemptResult struct {
	Rcpt           string
	Err            error
	Temporary      bool
	Stage          string
	ReplyCode      int
	EnhancedCode   string
	FirstReplyLine string
}

// Sender performs one delivery attempt against the given recipients and
// reports a result per recipient. Queue does not know how to actually talk
// SMTP — that is internal/smtpsend's job — mirroring how the teacher's Queue
// holds only a module.DeliveryTarget interface, not concrete dialing code.
type Sender interface {
	Send(ctx context.Context, msg *SmtpMsgToSend, rcpts []string) []AttemptResult
}

// Callbacks observe queue activity for logging/metrics/tests, the Go
// equivalent of the spec's onReset/onAttempt/onResult hooks.
type Callbacks struct {
	OnReset  func(msg *SmtpMsgToSend)
	OnAttempt func(msg *SmtpMsgToSend, rcpts []string)
	OnResult func(msg *SmtpMsgToSend, results []AttemptResult)
}

// Queue is the durable SMTP send queue: a pump thread driven by a time wheel
// over SmtpMsgToSend.NextAttemptTime, dispatching bounded-parallel delivery
// attempts through Sender and recording outcomes as SendAttemptLog children.
type Queue struct {
	store  *entitystore.Store
	sender Sender
	clock  clock.Clock
	Log    log.Logger

	wheel *timeWheel
	group errgroup.Group
	sem   chan struct{}

	postInitDelay time.Duration

	cb Callbacks
}

// Open constructs a Queue atop an already-open entity store and starts its
// pump thread, replaying any messages left over from a prior run (the entity
// store's analogue of the teacher's readDiskQueue startup scan).
func Open(store *entitystore.Store, sender Sender, c clock.Clock, maxParallelism int, cb Callbacks) (*Queue, error) {
	if c == nil {
		c = clock.Real
	}
	if maxParallelism <= 0 {
		maxParallelism = 16
	}
	q := &Queue{
		store:         store,
		sender:        sender,
		clock:         c,
		Log:           log.Logger{Name: "smtpqueue"},
		sem:           make(chan struct{}, maxParallelism),
		postInitDelay: 10 * time.Second,
		cb:            cb,
	}
	q.wheel = newTimeWheel(c, q.dispatch)

	if err := q.resetInFlight(); err != nil {
		return nil, err
	}
	return q, nil
}

// Close stops the pump thread and waits for in-flight delivery goroutines to
// finish.
func (q *Queue) Close() error {
	q.wheel.Close()
	return q.group.Wait()
}

// resetInFlight scans every non-Done SmtpMsgToSend at startup and re-arms
// the time wheel for it, delaying anything due sooner than postInitDelay so
// a restart loop can't hammer a downstream MX — the entity-store equivalent
// of readDiskQueue's "loaded saved queue entries" pass.
func (q *Queue) resetInFlight() error {
	var due []entitystore.ObjId
	err := q.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		return tx.EnumAllChildrenOfKind(entitystore.Root, KindSmtpMsgToSend, func(e entitystore.Entity) bool {
			msg := e.(*SmtpMsgToSend)
			if !msg.Done {
				due = append(due, msg.EntityID())
				if q.cb.OnReset != nil {
					q.cb.OnReset(msg)
				}
			}
			return true
		})
	})
	if err != nil {
		return err
	}

	now := q.clock.Now()
	for _, id := range due {
		var msg *SmtpMsgToSend
		if err := q.store.RunTxExclusive(func(tx *entitystore.Tx) error {
			e, err := tx.Load(id)
			if err != nil {
				return err
			}
			msg = e.(*SmtpMsgToSend)
			return nil
		}); err != nil {
			q.Log.Error("resetInFlight: load", err)
			continue
		}

		next := msg.NextAttemptTime
		if next.Sub(now) < q.postInitDelay {
			next = now.Add(q.postInitDelay)
		}
		q.wheel.Add(next, id)
	}
	return nil
}

// Enqueue inserts a new SmtpMsgToSend for immediate delivery.
func (q *Queue) Enqueue(messageID, from string, to []string, rawHeader, body []byte) (entitystore.ObjId, error) {
	now := q.clock.Now()
	msg := &SmtpMsgToSend{
		Header:          entitystore.Header{Parent: entitystore.Root},
		MessageID:       messageID,
		From:            from,
		To:              to,
		RawHeader:       rawHeader,
		Body:            body,
		TriesCount:      make(map[string]int),
		RcptErrs:        make(map[string]string),
		NextAttemptTime: now,
		FirstAttempt:    now,
		LastAttempt:     now,
	}

	var id entitystore.ObjId
	err := q.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		if err := tx.InsertParentExists(msg); err != nil {
			return err
		}
		id = msg.EntityID()
		return nil
	})
	if err != nil {
		return entitystore.ObjId{}, err
	}

	q.wheel.Add(now, id)
	return id, nil
}

// dispatch is the time wheel's callback: it spawns a bounded-parallel
// delivery goroutine for the due message, mirroring Queue.dispatch's
// semaphore-gated goroutine plus panic recovery.
func (q *Queue) dispatch(slot timeSlot) {
	id := slot.Value.(entitystore.ObjId)

	q.group.Go(func() (err error) {
		q.sem <- struct{}{}
		defer func() { <-q.sem }()

		defer ensure.Recover(func(v error) {
			q.Log.Error("panic recovered during delivery dispatch", v)
		})

		q.tryDelivery(id)
		return nil
	})
}

// tryDelivery loads the message, asks the Sender to attempt every recipient
// still pending, records a SendAttemptLog child per recipient, and either
// marks the message Done or re-arms the time wheel for the recipients that
// still need a retry — the entity-store analogue of Queue.tryDelivery.
func (q *Queue) tryDelivery(id entitystore.ObjId) {
	var msg *SmtpMsgToSend
	if err := q.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		msg = e.(*SmtpMsgToSend)
		return nil
	}); err != nil {
		q.Log.Error("tryDelivery: load", err)
		return
	}
	if msg.Done {
		return
	}

	pending := append([]string(nil), msg.To...)
	if len(pending) == 0 {
		return
	}

	if q.cb.OnAttempt != nil {
		q.cb.OnAttempt(msg, pending)
	}
	results := q.sender.Send(context.Background(), msg, pending)
	if q.cb.OnResult != nil {
		q.cb.OnResult(msg, results)
	}

	now := q.clock.Now()
	var retryRcpts []string
	var failedRcpts []string
	smallestTries := -1

	err := q.store.RunTxExclusive(func(tx *entitystore.Tx) error {
		e, err := tx.Load(id)
		if err != nil {
			return err
		}
		m := e.(*SmtpMsgToSend)
		if m.TriesCount == nil {
			m.TriesCount = make(map[string]int)
		}
		if m.RcptErrs == nil {
			m.RcptErrs = make(map[string]string)
		}

		for _, r := range results {
			if err := tx.InsertParentExists(&SendAttemptLog{
				Header:         entitystore.Header{Parent: id},
				Rcpt:           r.Rcpt,
				Stage:          r.Stage,
				ErrorClass:     errorClass(r),
				ReplyCode:      r.ReplyCode,
				EnhancedCode:   r.EnhancedCode,
				FirstReplyLine: r.FirstReplyLine,
				At:             now,
			}); err != nil {
				return err
			}

			if r.Err == nil {
				delete(m.TriesCount, r.Rcpt)
				continue
			}

			m.RcptErrs[r.Rcpt] = r.Err.Error()
			m.TriesCount[r.Rcpt]++

			if !r.Temporary {
				failedRcpts = append(failedRcpts, r.Rcpt)
				delete(m.TriesCount, r.Rcpt)
				continue
			}

			if _, exhausted := nextDelay(m.TriesCount[r.Rcpt]); exhausted {
				failedRcpts = append(failedRcpts, r.Rcpt)
				delete(m.TriesCount, r.Rcpt)
				continue
			}

			retryRcpts = append(retryRcpts, r.Rcpt)
			if smallestTries == -1 || m.TriesCount[r.Rcpt] < smallestTries {
				smallestTries = m.TriesCount[r.Rcpt]
			}
		}

		m.FailedRcpts = append(m.FailedRcpts, failedRcpts...)
		m.To = retryRcpts
		m.LastAttempt = now

		if len(retryRcpts) == 0 {
			m.Done = true
			m.NextAttemptTime = now
		} else {
			delay, _ := nextDelay(smallestTries)
			m.NextAttemptTime = now.Add(delay)
		}

		return tx.Update(m)
	})
	if err != nil {
		q.Log.Error("tryDelivery: update", err)
		return
	}

	if len(retryRcpts) != 0 {
		delay, _ := nextDelay(smallestTries)
		q.wheel.Add(now.Add(delay), id)
	}
}

func errorClass(r AttemptResult) string {
	if r.Err == nil {
		return "none"
	}
	if r.Temporary {
		return "temporary"
	}
	return "permanent"
}
