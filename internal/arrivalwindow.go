package internal

import (
	"math"
	"time"
)

var (
	// phiFactor converts the ratio of elapsed time to mean interval into
	// phi, assuming exponentially distributed arrivals.
	phiFactor = 1.0 / math.Log(10.0)
)

// arrivalWindow records the intervals between frames arriving from a peer.
type arrivalWindow struct {
	last      time.Time
	intervals *intervalRing
	// bootstrap is used as the first interval so a peer isn't convicted
	// before enough frames have arrived to estimate the real interval.
	bootstrap time.Duration
}

func newArrivalWindow(expectedInterval time.Duration, sampleSize int) *arrivalWindow {
	return &arrivalWindow{
		intervals: newIntervalRing(sampleSize),
		bootstrap: expectedInterval * 2,
	}
}

// Phi returns the suspicion level that the peer is down. Returns 0 if no
// frames have arrived.
func (w *arrivalWindow) Phi(now time.Time) float64 {
	if w.last.IsZero() || w.intervals.Mean() <= 0.0 {
		return 0.0
	}
	sinceLast := now.Sub(w.last)
	if sinceLast < 0 {
		return 0.0
	}
	return (float64(sinceLast) / w.intervals.Mean()) * phiFactor
}

func (w *arrivalWindow) Add(t time.Time) {
	if w.last.IsZero() {
		w.intervals.Add(w.bootstrap)
	} else {
		w.intervals.Add(t.Sub(w.last))
	}
	w.last = t
}

// intervalRing keeps a running mean of the last N intervals.
type intervalRing struct {
	intervals []time.Duration
	// next is the slot the next interval is written to.
	next int
	full bool
	sum  time.Duration
}

func newIntervalRing(size int) *intervalRing {
	if size < 1 {
		size = 1
	}
	return &intervalRing{
		intervals: make([]time.Duration, size),
	}
}

func (r *intervalRing) Mean() float64 {
	n := r.next
	if r.full {
		n = len(r.intervals)
	}
	if n == 0 {
		return 0.0
	}
	return float64(r.sum) / float64(n)
}

func (r *intervalRing) Add(interval time.Duration) {
	if r.next == len(r.intervals) {
		r.next = 0
		r.full = true
	}
	if r.full {
		r.sum -= r.intervals[r.next]
	}
	r.intervals[r.next] = interval
	r.sum += interval
	r.next++
}
