// Package pause decides when a silent candidate has finished speaking.
package pause

import (
	"strings"
	"sync"
	"time"
)

// DefaultWindow is the quiet period after which an utterance is considered finished.
const DefaultWindow = 15 * time.Second

// SilenceCallback receives the last partial transcript when the window elapses.
type SilenceCallback func(text string)

// Detector is a restartable debounce timer over partial transcripts.
//
// Every non-blank partial update restarts the window. When the window
// elapses the callback fires once with the latest text. A final result
// disarms the detector until the next Reset, so one utterance can never
// be submitted through both the final-result and the silence path.
type Detector struct {
	window   time.Duration
	callback SilenceCallback

	mu        sync.Mutex
	timer     *time.Timer
	gen       uint64
	text      string
	deadline  time.Time
	finalized bool
	fired     bool
	stopped   bool
}

// NewDetector creates a detector. A non-positive window uses DefaultWindow.
func NewDetector(window time.Duration, callback SilenceCallback) *Detector {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Detector{
		window:   window,
		callback: callback,
	}
}

// Reset cancels any pending expiry and starts a new utterance cycle.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.text = ""
	d.finalized = false
	d.fired = false
	d.stopped = false
}

// OnPartialUpdate records an interim transcript and restarts the window.
// Blank text is ignored.
func (d *Detector) OnPartialUpdate(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finalized || d.fired || d.stopped {
		return
	}

	d.cancelLocked()
	d.text = text
	d.deadline = time.Now().Add(d.window)
	gen := d.gen
	d.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
}

// OnFinal records that the recognizer delivered a final result for this
// utterance. Expiry is suppressed until the next Reset.
func (d *Detector) OnFinal(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.text = text
	d.finalized = true
}

// Stop cancels any pending expiry without starting a new cycle. Safe to call repeatedly.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()
	d.stopped = true
}

// pending reports whether an expiry is scheduled
func (d *Detector) pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Remaining returns the time left before expiry, or 0 if nothing is pending.
// Snapshots expose it as the silence countdown.
func (d *Detector) Remaining() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer == nil {
		return 0
	}
	if left := time.Until(d.deadline); left > 0 {
		return left
	}
	return 0
}

// cancelLocked stops the timer and invalidates any expiry already in flight.
// Must be called with mu held.
func (d *Detector) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}

func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.finalized || d.fired || d.stopped {
		d.mu.Unlock()
		return
	}
	d.fired = true
	d.timer = nil
	text := d.text
	cb := d.callback
	d.mu.Unlock()

	if cb != nil {
		cb(text)
	}
}
