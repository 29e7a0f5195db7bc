// Package smtpqueue implements the durable SMTP send queue: retry scheduling,
// a pump thread driven by a time wheel, and a worker pool bounded delivery
// fan-out, grounded on internal/target/queue/queue.go (dispatch/tryDelivery)
// and timewheel.go but reading and writing its state through
// internal/entitystore rather than flat .meta/.header/.body files.
package smtpqueue

import (
	"encoding/json"
	"time"

	"github.com/nyholt/atomicmail/internal/entitystore"
)

const (
	KindSmtpMsgToSend entitystore.KindId = 2001
	KindSendAttemptLog entitystore.KindId = 2002
)

// SmtpMsgToSend is the queue's primary entity kind: one per accepted message,
// keyed on NextAttemptTime so FindChildren can pop due work in time order —
// the entity-store analogue of the teacher's TimeWheel slot plus on-disk
// QueueMetadata combined into one durable record.
type SmtpMsgToSend struct {
	entitystore.Header

	MessageID string
	From      string
	To        []string

	RawHeader []byte
	Body      []byte

	FailedRcpts     []string
	TempFailedRcpts []string
	RcptErrs        map[string]string
	TriesCount      map[string]int

	NextAttemptTime time.Time
	FirstAttempt    time.Time
	LastAttempt     time.Time
	Done            bool
}

func (m *SmtpMsgToSend) Kind() entitystore.KindId { return KindSmtpMsgToSend }

type smtpMsgToSendJSON struct {
	MessageID       string            `json:"message_id"`
	From            string            `json:"from"`
	To              []string          `json:"to"`
	RawHeader       []byte            `json:"raw_header"`
	Body            []byte            `json:"body"`
	FailedRcpts     []string          `json:"failed_rcpts,omitempty"`
	TempFailedRcpts []string          `json:"temp_failed_rcpts,omitempty"`
	RcptErrs        map[string]string `json:"rcpt_errs,omitempty"`
	TriesCount      map[string]int    `json:"tries_count,omitempty"`
	NextAttemptTime time.Time         `json:"next_attempt_time"`
	FirstAttempt    time.Time         `json:"first_attempt"`
	LastAttempt     time.Time         `json:"last_attempt"`
	Done            bool              `json:"done"`
}

// SendAttemptLog is one child entity per delivery attempt against a single
// recipient, recorded under its SmtpMsgToSend parent — turns the teacher's
// in-memory-only partialError.Errs map into a durable, enumerable audit
// trail ordered by FindChildren on the attempt timestamp.
type SendAttemptLog struct {
	entitystore.Header

	Rcpt           string
	Stage          string
	ErrorClass     string // "none", "temporary", "permanent"
	ReplyCode      int
	EnhancedCode   string
	FirstReplyLine string
	At             time.Time
}

func (a *SendAttemptLog) Kind() entitystore.KindId { return KindSendAttemptLog }

type sendAttemptLogJSON struct {
	Rcpt           string    `json:"rcpt"`
	Stage          string    `json:"stage"`
	ErrorClass     string    `json:"error_class"`
	ReplyCode      int       `json:"reply_code,omitempty"`
	EnhancedCode   string    `json:"enhanced_code,omitempty"`
	FirstReplyLine string    `json:"first_reply_line,omitempty"`
	At             time.Time `json:"at"`
}

func init() {
	entitystore.Register(&entitystore.Schema{
		Kind:      KindSmtpMsgToSend,
		Name:      "smtpqueue.SmtpMsgToSend",
		KeyPolicy: entitystore.NonStrMulti,
		KeyOf: func(e entitystore.Entity) []byte {
			return entitystore.EncodeTimeKey(e.(*SmtpMsgToSend).NextAttemptTime)
		},
		Marshal: func(e entitystore.Entity) ([]byte, error) {
			m := e.(*SmtpMsgToSend)
			return json.Marshal(smtpMsgToSendJSON{
				MessageID:       m.MessageID,
				From:            m.From,
				To:              m.To,
				RawHeader:       m.RawHeader,
				Body:            m.Body,
				FailedRcpts:     m.FailedRcpts,
				TempFailedRcpts: m.TempFailedRcpts,
				RcptErrs:        m.RcptErrs,
				TriesCount:      m.TriesCount,
				NextAttemptTime: m.NextAttemptTime,
				FirstAttempt:    m.FirstAttempt,
				LastAttempt:     m.LastAttempt,
				Done:            m.Done,
			})
		},
		Unmarshal: func(parent entitystore.ObjId, body []byte) (entitystore.Entity, error) {
			var j smtpMsgToSendJSON
			if err := json.Unmarshal(body, &j); err != nil {
				return nil, err
			}
			return &SmtpMsgToSend{
				Header:          entitystore.Header{Parent: parent},
				MessageID:       j.MessageID,
				From:            j.From,
				To:              j.To,
				RawHeader:       j.RawHeader,
				Body:            j.Body,
				FailedRcpts:     j.FailedRcpts,
				TempFailedRcpts: j.TempFailedRcpts,
				RcptErrs:        j.RcptErrs,
				TriesCount:      j.TriesCount,
				NextAttemptTime: j.NextAttemptTime,
				FirstAttempt:    j.FirstAttempt,
				LastAttempt:     j.LastAttempt,
				Done:            j.Done,
			}, nil
		},
	})

	entitystore.Register(&entitystore.Schema{
		Kind:      KindSendAttemptLog,
		Name:      "smtpqueue.SendAttemptLog",
		KeyPolicy: entitystore.NonStrMulti,
		KeyOf: func(e entitystore.Entity) []byte {
			return entitystore.EncodeTimeKey(e.(*SendAttemptLog).At)
		},
		Marshal: func(e entitystore.Entity) ([]byte, error) {
			a := e.(*SendAttemptLog)
			return json.Marshal(sendAttemptLogJSON{
				Rcpt:           a.Rcpt,
				Stage:          a.Stage,
				ErrorClass:     a.ErrorClass,
				ReplyCode:      a.ReplyCode,
				EnhancedCode:   a.EnhancedCode,
				FirstReplyLine: a.FirstReplyLine,
				At:             a.At,
			})
		},
		Unmarshal: func(parent entitystore.ObjId, body []byte) (entitystore.Entity, error) {
			var j sendAttemptLogJSON
			if err := json.Unmarshal(body, &j); err != nil {
				return nil, err
			}
			return &SendAttemptLog{
				Header:         entitystore.Header{Parent: parent},
				Rcpt:           j.Rcpt,
				Stage:          j.Stage,
				ErrorClass:     j.ErrorClass,
				ReplyCode:      j.ReplyCode,
				EnhancedCode:   j.EnhancedCode,
				FirstReplyLine: j.FirstReplyLine,
				At:             j.At,
			}, nil
		},
	})
}
