package core

import (
	"sync"
)

// Outbound is an unbounded FIFO of frames with a single blocking consumer.
// The ring doubles its capacity when it reaches 70% occupancy.
type Outbound struct {
	mu       sync.Mutex
	cond     *sync.Cond
	buf      []Frame
	head     int
	tail     int
	count    int
	capacity int
	closed   bool

	totalReceived int64
	totalSent     int64
	resizeCount   int
}

func NewOutbound(initialCapacity int) *Outbound {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	o := &Outbound{
		buf:      make([]Frame, initialCapacity),
		capacity: initialCapacity,
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// TrySend enqueues f. It never blocks; it fails only once the queue is closed.
func (o *Outbound) TrySend(f Frame) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboundClosed
	}

	threshold := (o.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if o.count+1 >= threshold {
		o.grow()
	}

	o.buf[o.tail] = f
	o.tail = (o.tail + 1) % o.capacity
	o.count++
	o.totalReceived++

	o.cond.Signal()
	return nil
}

// Receive blocks until a frame is available or the queue is closed.
// Frames still queued at Close are discarded, so ok is false right after Close.
func (o *Outbound) Receive() (Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.count == 0 && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return nil, false
	}
	return o.pop(), true
}

// TryReceive returns the next frame without blocking.
func (o *Outbound) TryReceive() (Frame, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.count == 0 || o.closed {
		return nil, false
	}
	return o.pop(), true
}

// Close rejects further sends, drops undelivered frames and wakes the consumer.
func (o *Outbound) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.buf = nil
	o.head, o.tail, o.count = 0, 0, 0
	o.cond.Broadcast()
}

func (o *Outbound) IsClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Outbound) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

func (o *Outbound) Stats() OutboundStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	return OutboundStats{
		Count:         o.count,
		Capacity:      o.capacity,
		TotalReceived: o.totalReceived,
		TotalSent:     o.totalSent,
		ResizeCount:   o.resizeCount,
	}
}

type OutboundStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	ResizeCount   int
}

// pop must be called with the lock held and count > 0.
func (o *Outbound) pop() Frame {
	f := o.buf[o.head]
	o.buf[o.head] = nil
	o.head = (o.head + 1) % o.capacity
	o.count--
	o.totalSent++
	return f
}

// grow doubles the ring. Must be called with lock held.
func (o *Outbound) grow() {
	newCapacity := o.capacity * 2
	newBuf := make([]Frame, newCapacity)

	if o.count > 0 {
		if o.head < o.tail {
			copy(newBuf, o.buf[o.head:o.tail])
		} else {
			n := copy(newBuf, o.buf[o.head:])
			copy(newBuf[n:], o.buf[:o.tail])
		}
	}

	o.buf = newBuf
	o.head = 0
	o.tail = o.count
	o.capacity = newCapacity
	o.resizeCount++
}
