package smtpsend

import (
	"context"
	"io"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter governs concurrency and send rate per destination domain,
// adapted from internal/limits: limiters.Rate wraps golang.org/x/time/rate,
// and limiters.BucketSet keys a fresh limiter per string (there, per source
// domain/IP; here, per destination domain so one slow or greylisting MX
// can't starve delivery to every other domain in the queue).
type DomainLimiter struct {
	burst  int
	period time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewDomainLimiter(burst int, period time.Duration) *DomainLimiter {
	return &DomainLimiter{burst: burst, period: period, buckets: map[string]*rate.Limiter{}}
}

func (d *DomainLimiter) bucket(domain string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.buckets[domain]
	if !ok {
		limit := rate.Every(d.period)
		if d.burst == 0 {
			limit = rate.Inf
		}
		l = rate.NewLimiter(limit, d.burst)
		d.buckets[domain] = l
	}
	return l
}

// Wait blocks until a send to domain is permitted under the configured rate,
// or ctx is done.
func (d *DomainLimiter) Wait(ctx context.Context, domain string) error {
	if d.burst == 0 {
		return nil
	}
	return d.bucket(domain).Wait(ctx)
}

// limitedReader caps the number of bytes DATA will transmit for a message,
// returning an error instead of silently truncating — the governor named in
// the send pipeline's supplementary feature list, implemented as a plain
// io.Reader wrapper the way maddy composes check/limit behavior around
// readers elsewhere in the pipeline.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

// errMessageTooLarge is returned by limitedReader once the configured byte
// budget for a DATA transmission is exceeded.
type errMessageTooLarge struct{}

func (errMessageTooLarge) Error() string   { return "smtpsend: message exceeds configured size limit" }
func (errMessageTooLarge) Temporary() bool { return false }

func newLimitedReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitedReader{r: r, remaining: max}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.remaining <= 0 {
		var probe [1]byte
		if n, err := l.r.Read(probe[:]); n == 0 && err != nil {
			return 0, err
		}
		return 0, errMessageTooLarge{}
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	return n, err
}
