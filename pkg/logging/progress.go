package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Progress counts processed items and logs throughput at most once per
// interval. It is safe for concurrent use.
type Progress struct {
	phase    string
	log      zerolog.Logger
	interval time.Duration
	start    time.Time
	now      func() time.Time

	count atomic.Int64

	mu      sync.Mutex
	lastLog time.Time
}

// NewProgress starts tracking. A non-positive interval disables the
// periodic log lines; Done still logs.
func NewProgress(phase string, interval time.Duration, log zerolog.Logger) *Progress {
	return newProgress(phase, interval, log, time.Now)
}

func newProgress(phase string, interval time.Duration, log zerolog.Logger, now func() time.Time) *Progress {
	start := now()
	return &Progress{
		phase:    phase,
		log:      log,
		interval: interval,
		start:    start,
		now:      now,
		lastLog:  start,
	}
}

// Add records n more items and logs if the interval has passed.
func (p *Progress) Add(n int64) {
	total := p.count.Add(n)
	if p.interval <= 0 {
		return
	}

	now := p.now()
	p.mu.Lock()
	if now.Sub(p.lastLog) < p.interval {
		p.mu.Unlock()
		return
	}
	p.lastLog = now
	p.mu.Unlock()

	p.log.Info().
		Str("phase", p.phase).
		Int64("items", total).
		Float64("items_per_sec", p.rate(total, now)).
		Dur("elapsed", now.Sub(p.start)).
		Msg("progress")
}

// Count returns the items recorded so far.
func (p *Progress) Count() int64 {
	return p.count.Load()
}

// Rate returns items per second since tracking started.
func (p *Progress) Rate() float64 {
	return p.rate(p.count.Load(), p.now())
}

func (p *Progress) rate(total int64, now time.Time) float64 {
	elapsed := now.Sub(p.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(total) / elapsed
}

// Elapsed returns time since tracking started.
func (p *Progress) Elapsed() time.Duration {
	return p.now().Sub(p.start)
}

// Done logs the final count.
func (p *Progress) Done() {
	now := p.now()
	total := p.count.Load()
	p.log.Info().
		Str("phase", p.phase).
		Int64("items", total).
		Float64("items_per_sec", p.rate(total, now)).
		Dur("elapsed", now.Sub(p.start)).
		Msg("phase complete")
}
