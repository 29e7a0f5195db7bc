package smtpqueue

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nyholt/atomicmail/framework/clock"
)

// timeSlot pairs a due time with an opaque payload — here always an
// entitystore.ObjId naming the SmtpMsgToSend to dispatch.
type timeSlot struct {
	Time  time.Time
	Value interface{}
}

// timeWheel is internal/target/queue/timewheel.go's TimeWheel, generalized
// to take an injected clock.Clock so retry scheduling can be driven
// deterministically from tests instead of wall-clock time.Now.
type timeWheel struct {
	stopped uint32
	clock   clock.Clock

	slots     *list.List
	slotsLock sync.Mutex

	updateNotify chan time.Time
	stopNotify   chan struct{}

	dispatch func(timeSlot)
}

func newTimeWheel(c clock.Clock, dispatch func(timeSlot)) *timeWheel {
	tw := &timeWheel{
		clock:        c,
		slots:        list.New(),
		stopNotify:   make(chan struct{}),
		updateNotify: make(chan time.Time),
		dispatch:     dispatch,
	}
	go tw.tick()
	return tw
}

func (tw *timeWheel) Add(target time.Time, value interface{}) {
	if atomic.LoadUint32(&tw.stopped) == 1 {
		return
	}
	if value == nil {
		panic("smtpqueue: can't insert nil value into time wheel")
	}

	tw.slotsLock.Lock()
	tw.slots.PushBack(timeSlot{Time: target, Value: value})
	tw.slotsLock.Unlock()

	tw.updateNotify <- target
}

func (tw *timeWheel) Close() {
	atomic.StoreUint32(&tw.stopped, 1)

	if tw.stopNotify == nil {
		return
	}
	tw.stopNotify <- struct{}{}
	<-tw.stopNotify
	tw.stopNotify = nil

	close(tw.updateNotify)
}

func (tw *timeWheel) tick() {
	for {
		now := tw.clock.Now()
		tw.slotsLock.Lock()
		var closestSlot timeSlot
		var closestEl *list.Element
		for e := tw.slots.Front(); e != nil; e = e.Next() {
			slot := e.Value.(timeSlot)
			if slot.Time.Sub(now) < closestSlot.Time.Sub(now) || closestSlot.Value == nil {
				closestSlot = slot
				closestEl = e
			}
		}
		tw.slotsLock.Unlock()

		if closestEl == nil {
			select {
			case <-tw.updateNotify:
				continue
			case <-tw.stopNotify:
				tw.stopNotify <- struct{}{}
				return
			}
		}

		timer := time.NewTimer(closestSlot.Time.Sub(now))

	selectloop:
		for {
			select {
			case <-timer.C:
				tw.slotsLock.Lock()
				tw.slots.Remove(closestEl)
				tw.slotsLock.Unlock()

				tw.dispatch(closestSlot)
				break selectloop
			case newTarget := <-tw.updateNotify:
				if closestSlot.Time.Sub(now) <= newTarget.Sub(now) {
					continue
				}
				timer.Stop()
				break selectloop
			case <-tw.stopNotify:
				timer.Stop()
				tw.stopNotify <- struct{}{}
				return
			}
		}
	}
}
