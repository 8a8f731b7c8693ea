package netconn

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/kprimus/dcshare/internal/metrics"
	"github.com/kprimus/dcshare/internal/ratelimit"
)

// BulkWorker owns a Connection's socket for the duration of a single
// upload or download, per spec.md §4.3/§4.4: the async loop only takes
// the embedded mutex to inspect progress or to force a disconnect, and
// cancellation closes a channel the worker selects on instead of blocking
// on it.
type BulkWorker struct {
	conn   *Connection
	rates  *ratelimit.Pair
	mu        sync.Mutex // guards remaining, shared with the async loop
	remaining int64
	cancel    chan struct{}
	cancelled int32
	done      chan struct{}
}

// StartUpload begins a synchronous, rate-limited send of all bytes from
// src (total size bytes) to the peer. The async loop must not touch the
// Connection's read/write buffers until Wait returns.
func (c *Connection) StartUpload(src io.Reader, size int64, rates *ratelimit.Pair) *BulkWorker {
	c.setState(StateSync)
	w := &BulkWorker{conn: c, rates: rates, remaining: size, cancel: make(chan struct{}), done: make(chan struct{})}
	go w.runUpload(src)
	return w
}

// StartDownload begins a synchronous, rate-limited receive of size bytes,
// invoking onData for each chunk read. onData may cancel the transfer by
// returning false.
func (c *Connection) StartDownload(size int64, rates *ratelimit.Pair, onData func([]byte) bool) *BulkWorker {
	c.setState(StateSync)
	w := &BulkWorker{conn: c, rates: rates, remaining: size, cancel: make(chan struct{}), done: make(chan struct{})}
	go w.runDownload(onData)
	return w
}

func (w *BulkWorker) runUpload(src io.Reader) {
	defer close(w.done)
	defer w.conn.setState(StateAsync)
	buf := make([]byte, 64*1024)
	for {
		select {
		case <-w.cancel:
			return
		default:
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			if w.rates != nil {
				if err := w.rates.WaitWrite(context.Background(), n); err != nil {
					return
				}
			}
			if err := w.conn.Write(buf[:n]); err != nil {
				return
			}
			metrics.BytesUploaded.Mark(int64(n))
			w.mu.Lock()
			w.remaining -= int64(n)
			w.mu.Unlock()
		}
		if rerr != nil {
			return
		}
	}
}

func (w *BulkWorker) runDownload(onData func([]byte) bool) {
	defer close(w.done)
	defer w.conn.setState(StateAsync)
	for {
		select {
		case <-w.cancel:
			return
		default:
		}
		w.mu.Lock()
		left := w.remaining
		w.mu.Unlock()
		if left <= 0 {
			return
		}
		chunk := int64(64 * 1024)
		if left < chunk {
			chunk = left
		}
		data, err := w.conn.ReadN(int(chunk), ModeByteCountConsume)
		if err != nil {
			return
		}
		if w.rates != nil {
			_ = w.rates.WaitRead(context.Background(), len(data))
		}
		metrics.BytesDownloaded.Mark(int64(len(data)))
		w.mu.Lock()
		w.remaining -= int64(len(data))
		w.mu.Unlock()
		if !onData(data) {
			return
		}
	}
}

// Remaining reports bytes left to transfer; safe to call concurrently
// with the worker goroutine.
func (w *BulkWorker) Remaining() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.remaining
}

// Cancel signals the worker to stop by closing the cancel channel (a
// close, not a send). It is idempotent and safe to call concurrently: the
// compare-and-swap guard below lets only the first call close the channel.
func (w *BulkWorker) Cancel() {
	if atomic.CompareAndSwapInt32(&w.cancelled, 0, 1) {
		close(w.cancel)
	}
}

// Wait blocks until the transfer finishes or is cancelled.
func (w *BulkWorker) Wait() { <-w.done }
