package httpserver

import (
	"sync"
	"sync/atomic"
)

// viewerQueue buffers encoded messages for one viewer. When full, the
// oldest message is discarded; every discarded message is counted.
type viewerQueue struct {
	mu      sync.Mutex
	ch      chan []byte
	stopped bool
	dropped *atomic.Uint64
}

func newViewerQueue(size int, dropped *atomic.Uint64) *viewerQueue {
	return &viewerQueue{ch: make(chan []byte, max(size, 1)), dropped: dropped}
}

// push reports false once the queue is stopped.
func (q *viewerQueue) push(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.drop()
		return false
	}
	for {
		select {
		case q.ch <- data:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.drop()
		default:
		}
	}
}

func (q *viewerQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stopped {
		q.stopped = true
		close(q.ch)
	}
}

func (q *viewerQueue) out() <-chan []byte {
	return q.ch
}

func (q *viewerQueue) drop() {
	if q.dropped != nil {
		q.dropped.Add(1)
	}
}
