package smtpsend

import (
	"context"
	"sync"
	"time"
)

// Conn is anything Pool can hand back out for reuse: the smtpsend attempt
// state machine's open *smtp.Client satisfies it via a thin wrapper.
type Conn interface {
	Usable() bool
	Close() error
}

// PoolConfig mirrors internal/smtpconn/pool.Config: one channel-backed bucket
// per key (here, destination domain), reaped when stale.
type PoolConfig struct {
	New func(ctx context.Context, key string) (Conn, error)

	MaxKeys             int
	MaxConnsPerKey       int
	MaxConnLifetimeSec   int64
	StaleKeyLifetimeSec int64
}

type poolSlot struct {
	c       chan Conn
	lastUse int64
}

// Pool caches live connections per destination domain across delivery
// attempts so a queue retrying several messages to the same MX doesn't pay
// for a fresh TCP+TLS handshake every time — adapted from
// internal/smtpconn/pool.P, generalized only in that the pool's Conn
// interface is smtpsend's own rather than a hardwired *smtp.Client.
type Pool struct {
	cfg  PoolConfig
	keys map[string]*poolSlot
	lock sync.Mutex
}

func NewPool(cfg PoolConfig) *Pool {
	return &Pool{cfg: cfg, keys: map[string]*poolSlot{}}
}

func (p *Pool) Get(ctx context.Context, key string) (Conn, error) {
	p.lock.Lock()
	p.dropStaleLocked()
	slot, ok := p.keys[key]
	if !ok {
		slot = &poolSlot{c: make(chan Conn, p.cfg.MaxConnsPerKey)}
		p.keys[key] = slot
	}
	p.lock.Unlock()

	for {
		select {
		case c := <-slot.c:
			if !c.Usable() {
				c.Close()
				continue
			}
			return c, nil
		default:
			return p.cfg.New(ctx, key)
		}
	}
}

func (p *Pool) Return(key string, c Conn) {
	if !c.Usable() {
		c.Close()
		return
	}

	p.lock.Lock()
	defer p.lock.Unlock()

	slot, ok := p.keys[key]
	if !ok {
		if len(p.keys) >= p.cfg.MaxKeys {
			p.dropStaleLocked()
		}
		slot = &poolSlot{c: make(chan Conn, p.cfg.MaxConnsPerKey)}
		p.keys[key] = slot
	}
	slot.lastUse = nowUnix()

	select {
	case slot.c <- c:
	default:
		c.Close()
	}
}

// dropStaleLocked removes buckets unused for StaleKeyLifetimeSec, closing any
// connections still sitting in them. Caller must hold p.lock.
func (p *Pool) dropStaleLocked() {
	if p.cfg.StaleKeyLifetimeSec == 0 {
		return
	}
	now := nowUnix()
	for key, slot := range p.keys {
		if now-slot.lastUse < p.cfg.StaleKeyLifetimeSec {
			continue
		}
	drain:
		for {
			select {
			case c := <-slot.c:
				c.Close()
			default:
				break drain
			}
		}
		delete(p.keys, key)
	}
}

func (p *Pool) Close() {
	p.lock.Lock()
	defer p.lock.Unlock()
	for key, slot := range p.keys {
	drain:
		for {
			select {
			case c := <-slot.c:
				c.Close()
			default:
				break drain
			}
		}
		delete(p.keys, key)
	}
}

func nowUnix() int64 { return time.Now().Unix() }
