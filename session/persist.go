package session

import (
	"sync"
	"time"

	"github.com/kprimus/dcshare/internal/dlresumer"
	"github.com/kprimus/dcshare/internal/logger"
)

// persistDebounceInterval is the bitmap-flush coalescing window, per
// spec.md:109's "scheduled for flush to durable storage (debounced)".
// Mirrors scheduler's own debounce-timer-plus-poll-goroutine idiom rather
// than flushing bolt on every single verified block.
const persistDebounceInterval = 2 * time.Second

// persistDebouncer accumulates DLItems with unflushed bitmap progress and
// writes them to the resume database on a periodic tick, per spec.md §6.
type persistDebouncer struct {
	resumer *dlresumer.Resumer
	log     logger.Logger

	mu    sync.Mutex
	dirty map[string]*DLItem // keyed by TTH.String()
}

func newPersistDebouncer(resumer *dlresumer.Resumer, log logger.Logger) *persistDebouncer {
	return &persistDebouncer{resumer: resumer, log: log, dirty: make(map[string]*DLItem)}
}

// Mark schedules item's current bitmap for the next flush.
func (p *persistDebouncer) Mark(item *DLItem) {
	p.mu.Lock()
	p.dirty[item.TTH.String()] = item
	p.mu.Unlock()
}

// loop drains the dirty set every persistDebounceInterval, plus once more on
// shutdown so a clean exit never drops the last round of progress.
func (p *persistDebouncer) loop(closeC <-chan struct{}) {
	t := time.NewTicker(persistDebounceInterval)
	defer t.Stop()
	for {
		select {
		case <-closeC:
			p.flush()
			return
		case <-t.C:
			p.flush()
		}
	}
}

func (p *persistDebouncer) flush() {
	p.mu.Lock()
	items := make([]*DLItem, 0, len(p.dirty))
	for _, item := range p.dirty {
		items = append(items, item)
	}
	p.dirty = make(map[string]*DLItem)
	p.mu.Unlock()

	for _, item := range items {
		blockSize, bitmap, leaves := item.PersistSnapshot()
		if bitmap == nil {
			continue
		}
		if err := p.resumer.SetBitmap(item.TTH, blockSize, bitmap); err != nil {
			p.log.Warningf("failed to persist bitmap for %s: %v", item.TTH, err)
		}
		if len(leaves) > 0 {
			if err := p.resumer.SetTTHL(item.TTH, leaves); err != nil {
				p.log.Warningf("failed to persist TTHL for %s: %v", item.TTH, err)
			}
		}
	}
}
