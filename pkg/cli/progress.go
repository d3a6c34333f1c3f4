package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ProgressReporter reports how far a batch job such as a trace export has
// got.
type ProgressReporter interface {
	Start(total int64)
	Update(current int64)
	Finish()
	Error(err error)
}

// redrawInterval bounds how often Update rewrites the status line.
const redrawInterval = 100 * time.Millisecond

// SimpleProgress rewrites a single status line on a terminal:
//
//	Progress: 1200/5000 traces (24.0%) 850.3 traces/s
type SimpleProgress struct {
	mu       sync.Mutex
	w        io.Writer
	unit     string
	now      func() time.Time
	total    int64
	done     int64
	started  time.Time
	lastDraw time.Time
}

// NewProgressReporter writes to w (stderr when nil) and counts in unit
// ("items" when empty).
func NewProgressReporter(w io.Writer, unit string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if unit == "" {
		unit = "items"
	}
	return &SimpleProgress{w: w, unit: unit, now: time.Now}
}

// Start resets the counter and draws the first line.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total, p.done = total, 0
	p.started = p.now()
	p.draw()
}

// Update records current items done. Redraws are throttled.
func (p *SimpleProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = current
	if p.now().Sub(p.lastDraw) >= redrawInterval {
		p.draw()
	}
}

// Finish draws the final line and ends it.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

// Error ends the status line with err.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.w, "\n✗ Error: %v\n", err)
}

func (p *SimpleProgress) draw() {
	if p.total <= 0 {
		return
	}
	now := p.now()
	p.lastDraw = now

	done := min(p.done, p.total)
	pct := float64(done) / float64(p.total) * 100
	var rate float64
	if secs := now.Sub(p.started).Seconds(); secs > 0 {
		rate = float64(done) / secs
	}
	fmt.Fprintf(p.w, "\rProgress: %d/%d %s (%.1f%%) %.1f %s/s",
		done, p.total, p.unit, pct, rate, p.unit)
}
