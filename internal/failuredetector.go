package internal

import (
	"sync"
	"time"
)

type PeerStatus int

const (
	PeerStatusUnknown = PeerStatus(0)
	PeerStatusUp      = PeerStatus(1)
	PeerStatusDown    = PeerStatus(2)
)

func (s PeerStatus) String() string {
	switch s {
	case PeerStatusUp:
		return "up"
	case PeerStatusDown:
		return "down"
	default:
		return "unknown"
	}
}

// FailureDetector detects unresponsive peers from the arrival times of their
// frames, using "The Phi Accrual Failure Detector".
//
// Note this is thread safe.
type FailureDetector struct {
	windows map[string]*arrivalWindow
	// mu protects the above fields.
	mu sync.Mutex

	sampleSize int
	// interval is the expected time between frames from a peer, such as
	// the keepalive interval.
	interval  time.Duration
	threshold float64
}

func NewFailureDetector(interval time.Duration, sampleSize int, threshold float64) *FailureDetector {
	return &FailureDetector{
		windows:    make(map[string]*arrivalWindow),
		sampleSize: sampleSize,
		interval:   interval,
		threshold:  threshold,
	}
}

// Report records a frame arriving from the peer.
func (fd *FailureDetector) Report(addr string, t time.Time) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	window, ok := fd.windows[addr]
	if !ok {
		window = newArrivalWindow(fd.interval, fd.sampleSize)
		fd.windows[addr] = window
	}
	window.Add(t)
}

// PeerStatus returns whether the peer is considered up at the given time.
// Peers that have never reported are unknown.
func (fd *FailureDetector) PeerStatus(addr string, now time.Time) PeerStatus {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	window, ok := fd.windows[addr]
	if !ok {
		return PeerStatusUnknown
	}
	if window.Phi(now) > fd.threshold {
		return PeerStatusDown
	}
	return PeerStatusUp
}

// Convicted returns the tracked peers considered down at the given time.
func (fd *FailureDetector) Convicted(now time.Time) []string {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	var down []string
	for addr, window := range fd.windows {
		if window.Phi(now) > fd.threshold {
			down = append(down, addr)
		}
	}
	return down
}

func (fd *FailureDetector) RemovePeer(addr string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	delete(fd.windows, addr)
}
