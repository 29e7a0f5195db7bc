// Package testkinds registers a single generic QueueItem entity kind for
// entity-store conservation-law tests (nrItemsQueued-style invariants):
// insert N items under a parent, remove some, and check the child count
// always matches what was actually committed. No package in this
// repository imports it.
package testkinds

import "github.com/nyholt/atomicmail/internal/entitystore"

const KindQueueItem entitystore.KindId = 9001

// QueueItem is a bare ordered work item: no payload beyond a sequence number
// and an opaque label, enough to exercise insert/remove/enumerate without
// pulling in the SMTP send pipeline's entity kinds.
type QueueItem struct {
	entitystore.Header
	Seq   uint64
	Label string
}

func (q *QueueItem) Kind() entitystore.KindId { return KindQueueItem }

func init() {
	entitystore.Register(&entitystore.Schema{
		Kind:      KindQueueItem,
		Name:      "testkinds.QueueItem",
		KeyPolicy: entitystore.NonStrMulti,
		KeyOf:     func(e entitystore.Entity) []byte { return entitystore.EncodeUintKey(e.(*QueueItem).Seq) },
		Marshal: func(e entitystore.Entity) ([]byte, error) {
			q := e.(*QueueItem)
			b := entitystore.EncodeUintKey(q.Seq)
			return append(b, []byte(q.Label)...), nil
		},
		Unmarshal: func(parent entitystore.ObjId, body []byte) (entitystore.Entity, error) {
			if len(body) < 8 {
				return nil, errShortBody
			}
			seq := uint64(0)
			for _, b := range body[:8] {
				seq = seq<<8 | uint64(b)
			}
			return &QueueItem{Header: entitystore.Header{Parent: parent}, Seq: seq, Label: string(body[8:])}, nil
		},
	})
}

type shortBodyErr struct{}

func (shortBodyErr) Error() string { return "testkinds: QueueItem body too short" }

var errShortBody = shortBodyErr{}
