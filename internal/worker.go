package internal

import (
	"sync"
)

// worker runs tasks one at a time, in the order they were submitted, on a
// single goroutine. Transports use it to serialise start, stop and sends.
type worker struct {
	tasks chan func()
	// mu protects closed and makes sure no task is submitted after tasks
	// is closed.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newWorker(queueSize int) *worker {
	w := &worker{
		tasks: make(chan func(), queueSize),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Submit queues fn. Returns false if the worker is stopped. Blocks if the
// queue is full.
func (w *worker) Submit(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return false
	}
	w.tasks <- fn
	return true
}

// Do runs fn on the worker and waits for it to return. Returns false if the
// worker is stopped. Must not be called from the worker goroutine.
func (w *worker) Do(fn func()) bool {
	ch := make(chan struct{})
	ok := w.Submit(func() {
		defer close(ch)
		fn()
	})
	if !ok {
		return false
	}
	<-ch
	return true
}

// Stop rejects new tasks, runs those already queued and waits for the
// worker goroutine to exit. Safe to call multiple times.
func (w *worker) Stop() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.tasks)
	}
	w.mu.Unlock()

	w.wg.Wait()
}

func (w *worker) loop() {
	defer w.wg.Done()

	for fn := range w.tasks {
		fn()
	}
}
