package internal

import (
	"sync"
	"time"
)

const (
	DefaultConvictionThreshold = 8.0

	livenessSampleSize = 100
)

// liveness sends keepalives to stream peers and tracks when frames last
// arrived from each peer, so peers that stop responding can be reported.
//
// A nil *liveness is valid and disables keepalives.
type liveness struct {
	interval time.Duration
	detector *FailureDetector

	// reported contains the convicted peers that have already been
	// reported. Only accessed from the transport worker.
	reported map[string]struct{}

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func newLiveness(interval time.Duration, threshold float64) *liveness {
	if interval <= 0 {
		return nil
	}
	return &liveness{
		interval: interval,
		detector: NewFailureDetector(interval, livenessSampleSize, threshold),
		reported: make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Start submits tick to the worker every interval. Only the first call has
// an effect.
func (l *liveness) Start(w *worker, tick func()) {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.wg.Add(1)
		go l.loop(w, tick)
	})
}

func (l *liveness) Stop() {
	if l == nil {
		return
	}
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	l.wg.Wait()
}

func (l *liveness) loop(w *worker, tick func()) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.Submit(tick) {
				return
			}
		case <-l.done:
			return
		}
	}
}

// Arrived records a frame arriving from the peer.
func (l *liveness) Arrived(addr string, t time.Time) {
	if l == nil {
		return
	}
	l.detector.Report(addr, t)
}

func (l *liveness) Status(addr string) PeerStatus {
	if l == nil {
		return PeerStatusUnknown
	}
	return l.detector.PeerStatus(addr, time.Now())
}

// Remove stops tracking the peer. Must be called from the worker.
func (l *liveness) Remove(addr string) {
	if l == nil {
		return
	}
	l.detector.RemovePeer(addr)
	delete(l.reported, addr)
}

// Convicted returns peers that have become unresponsive since the last call.
// Must be called from the worker.
func (l *liveness) Convicted(now time.Time) []string {
	if l == nil {
		return nil
	}

	down := l.detector.Convicted(now)
	current := make(map[string]struct{}, len(down))
	var convicted []string
	for _, addr := range down {
		current[addr] = struct{}{}
		if _, ok := l.reported[addr]; !ok {
			l.reported[addr] = struct{}{}
			convicted = append(convicted, addr)
		}
	}
	// Peers that recovered can be reported again.
	for addr := range l.reported {
		if _, ok := current[addr]; !ok {
			delete(l.reported, addr)
		}
	}
	return convicted
}

var keepAliveFrame = mustEncode(newKeepAliveMessage())

func mustEncode(m *Message) []byte {
	b, err := EncodeMessage(m)
	if err != nil {
		panic("failed to encode message: " + err.Error())
	}
	return b
}
