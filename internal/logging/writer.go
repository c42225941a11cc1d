package logging

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BOUNDED ASYNC LOG WRITER
// ═══════════════════════════════════════════════════════════════════════════════
//
// Log lines are queued and written by a single background goroutine so that
// hot paths never block on stderr. When the queue is full the line is
// dropped and counted; once drops cross the halt threshold the writer stops
// queueing and writes synchronously, so nothing further is lost.
//
// ═══════════════════════════════════════════════════════════════════════════════

// AsyncWriter is an io.Writer that decouples log production from the
// underlying sink via a bounded queue.
type AsyncWriter struct {
	out           io.Writer
	queue         chan []byte
	dropped       atomic.Int64
	haltThreshold int64
	halted        atomic.Bool

	mu     sync.Mutex // serialises all writes to out
	stop   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

// NewAsyncWriter wraps out with a queue of the given capacity. A
// haltThreshold <= 0 disables the synchronous fallback.
func NewAsyncWriter(out io.Writer, capacity int, haltThreshold int) *AsyncWriter {
	if capacity < 1 {
		capacity = 1
	}
	w := &AsyncWriter{
		out:           out,
		queue:         make(chan []byte, capacity),
		haltThreshold: int64(haltThreshold),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go w.drain()
	return w
}

func (w *AsyncWriter) Write(p []byte) (int, error) {
	if w.closed.Load() || w.halted.Load() {
		return w.writeSync(p)
	}

	// The zerolog buffer is reused by the caller, so copy before queueing.
	line := make([]byte, len(p))
	copy(line, p)

	// The queue channel is never closed, so this send cannot panic even if
	// Close races the closed-flag load above.
	select {
	case w.queue <- line:
		return len(p), nil
	default:
	}

	n := w.dropped.Add(1)
	if w.haltThreshold > 0 && n >= w.haltThreshold && w.halted.CompareAndSwap(false, true) {
		w.mu.Lock()
		fmt.Fprintf(w.out, `{"level":"warn","message":"log queue drop threshold reached, switching to synchronous writes","dropped":%d}`+"\n", n)
		w.mu.Unlock()
	}
	return len(p), nil
}

// Dropped returns how many lines were discarded due to a full queue.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Close flushes queued lines and stops the background goroutine. Later
// writes fall through synchronously.
func (w *AsyncWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(w.stop)
	<-w.done
	w.flush()
	return nil
}

func (w *AsyncWriter) writeSync(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.out.Write(p)
}

// flush empties whatever is queued right now.
func (w *AsyncWriter) flush() {
	for {
		select {
		case line := <-w.queue:
			w.writeSync(line) //nolint:errcheck // nowhere to report a stderr failure
		default:
			return
		}
	}
}

func (w *AsyncWriter) drain() {
	defer close(w.done)
	for {
		select {
		case line := <-w.queue:
			w.writeSync(line) //nolint:errcheck
		case <-w.stop:
			return
		}
	}
}
