package audiokit

import "sync"

// ProgressFunc receives a percentage in [0,100] and a short status message.
type ProgressFunc func(percent int, message string)

// Progress forwards updates to fn while keeping the reported value monotonic.
type Progress struct {
	mu   sync.Mutex
	fn   ProgressFunc
	last int
}

func NewProgress(fn ProgressFunc) *Progress {
	return &Progress{fn: fn, last: -1}
}

func (p *Progress) Report(percent int, message string) {
	if p == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	// Held across the callback so concurrent reporters deliver in order.
	p.mu.Lock()
	defer p.mu.Unlock()
	if percent < p.last {
		percent = p.last
	}
	p.last = percent
	if p.fn != nil {
		p.fn(percent, message)
	}
}

// Span maps a child's 0..100 range onto [lo, hi] of p.
func (p *Progress) Span(lo, hi int) ProgressFunc {
	return func(percent int, message string) {
		if percent < 0 {
			percent = 0
		}
		if percent > 100 {
			percent = 100
		}
		p.Report(lo+(hi-lo)*percent/100, message)
	}
}
