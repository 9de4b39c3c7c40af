package core

// TickPacer derives step ticks from a free-running microsecond counter.
// After a slow loop pass it runs at most MaxCatchUp ticks back to back and
// drops the rest of the backlog.
type TickPacer struct {
	Period     uint64 // microseconds per tick
	MaxCatchUp int
	Overrun    uint64 // ticks dropped so far

	next uint64
}

// NewTickPacer starts pacing at freq ticks per second from now (us)
func NewTickPacer(freq uint32, maxCatchUp int, now uint64) *TickPacer {
	period := uint64(1)
	if freq > 0 && freq < 1000000 {
		period = uint64(1000000 / freq)
	}
	return &TickPacer{Period: period, MaxCatchUp: max(maxCatchUp, 1), next: now + period}
}

// Due returns the ticks to run at now and the ticks dropped after them.
// Dropped ticks never reach the engine; pass them to Clock.Skip so the
// clock stays on wall time.
func (p *TickPacer) Due(now uint64) (run int, dropped uint64) {
	for now >= p.next && run < p.MaxCatchUp {
		p.next += p.Period
		run++
	}
	if now >= p.next {
		dropped = (now-p.next)/p.Period + 1
		p.Overrun += dropped
		p.next += dropped * p.Period
	}
	return run, dropped
}
