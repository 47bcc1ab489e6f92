// Copyright 2026 The Streamd Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"sync"

	"github.com/visionkit/streamd/wire"
)

// DefaultQueueSize is the number of stream entries a viewer may have
// pending before the oldest are dropped.
const DefaultQueueSize = 15

// outbound is one entry in a viewer's transmit queue. Exactly one of
// message and raw is set. raw bytes are written verbatim (HTTP
// responses, pong frames, elementary-stream payloads).
type outbound struct {
	message *wire.ClientBound
	raw     []byte

	// closeAfter closes the connection once the entry is written.
	closeAfter bool

	// control entries (HTTP responses, the upgrade, pongs) are never
	// evicted and do not count against the capacity. written, when
	// set, is closed once the entry has been written or discarded.
	control bool
	written chan struct{}
}

// finish releases anyone waiting for the entry to be written.
func (o outbound) finish() {
	if o.written != nil {
		close(o.written)
	}
}

// txQueue is a FIFO of outbound entries bounded in stream entries.
// Push never blocks: when more than capacity stream entries are
// pending the oldest of them are evicted. Control entries keep their
// place. The transmit goroutine waits on notify and drains with pop.
type txQueue struct {
	mu       sync.Mutex
	entries  []outbound
	streamed int
	capacity int
	dropped  uint64
	closed   bool
	notify   chan struct{}
}

func newTxQueue(capacity int) *txQueue {
	if capacity <= 0 {
		panic(fmt.Sprintf("stream: queue capacity must be positive, got %d", capacity))
	}
	return &txQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// push appends entry and returns how many of the oldest stream entries
// were evicted to make room. Pushing to a closed queue discards the
// entry.
func (q *txQueue) push(entry outbound) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		entry.finish()
		return 0
	}

	q.entries = append(q.entries, entry)
	if !entry.control {
		q.streamed++
	}
	evicted := 0
	for q.streamed > q.capacity {
		q.evictOldestStreamLocked()
		evicted++
	}
	q.dropped += uint64(evicted)

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return evicted
}

func (q *txQueue) evictOldestStreamLocked() {
	for index, entry := range q.entries {
		if entry.control {
			continue
		}
		copy(q.entries[index:], q.entries[index+1:])
		q.entries[len(q.entries)-1] = outbound{}
		q.entries = q.entries[:len(q.entries)-1]
		q.streamed--
		return
	}
}

// pop removes the oldest entry. ok is false when the queue is empty.
func (q *txQueue) pop() (entry outbound, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return outbound{}, false
	}
	entry = q.entries[0]
	q.entries[0] = outbound{}
	q.entries = q.entries[1:]
	if !entry.control {
		q.streamed--
	}
	return entry, true
}

// next blocks until an entry is available or the queue is closed.
// ok is false only after close.
func (q *txQueue) next() (outbound, bool) {
	for {
		if entry, ok := q.pop(); ok {
			return entry, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return outbound{}, false
		}
		<-q.notify
	}
}

// close wakes the transmit goroutine and discards pending entries.
func (q *txQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, entry := range q.entries {
		entry.finish()
	}
	q.entries = nil
	q.streamed = 0
	close(q.notify)
}

func (q *txQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *txQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
