// Package collector implements the Batch Collector: it accumulates frames
// offered by the Lane Orchestrator into size- or time-triggered batches for
// Lane 2, the same rolling per-service buffering a batched vLLM client uses
// to group frames before a verification call.
package collector

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zapdos-labs/shieldcast/frame"
)

// OfferResult is the outcome of one Offer call.
type OfferResult int

const (
	Accepted OfferResult = iota
	Dropped
)

// Collector buffers frames and emits Batch values on Batches() once
// max_batch_size frames have accumulated or max_wait_ms has elapsed since
// the first frame in the current buffer, whichever comes first. Outbound
// batches queue up to max_pending_batches; once that many batches are
// already pending, Offer refuses the next frame outright rather than
// buffering it, so the caller learns immediately that this frame will not
// be verified.
//
// Collector does not wait for a batch's detection results before accepting
// more frames: results are integrated by source_sequence downstream, so
// batches may complete out of order with no correctness impact here.
type Collector struct {
	maxWait time.Duration
	maxSize int
	onDrop  func(reason frame.DropReason, count int)

	mu     sync.Mutex
	buf    []frame.SubmittedFrame
	timer  *time.Timer
	closed bool

	out chan frame.Batch
}

// New constructs a Collector. onDrop, if non-nil, is called whenever
// frames are dropped (queue_full backpressure), for the
// frames_dropped_total{reason} counter; it must not block.
func New(cfg *frame.Config, onDrop func(reason frame.DropReason, count int)) *Collector {
	return &Collector{
		maxWait: cfg.BatchMaxWait,
		maxSize: cfg.BatchMaxSize,
		onDrop:  onDrop,
		out:     make(chan frame.Batch, cfg.MaxPendingBatches),
	}
}

// Batches returns the channel of ready batches. Closed once Close is
// called and any buffered remainder has been flushed.
func (c *Collector) Batches() <-chan frame.Batch {
	return c.out
}

// Offer adds one frame to the current batch. It returns ErrCollectorShutdown
// once Close has been called, and ErrQueueFull once pending_batches (the
// depth of the outbound queue Batches() drains) has reached
// max_pending_batches; in both cases the frame is not buffered and the
// caller should count a drop.
func (c *Collector) Offer(sf frame.SubmittedFrame) (OfferResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Dropped, frame.ErrCollectorShutdown
	}
	if len(c.out) >= cap(c.out) {
		c.mu.Unlock()
		c.drop(frame.DropReasonQueueFull, 1)
		return Dropped, frame.ErrQueueFull
	}

	c.buf = append(c.buf, sf)
	if len(c.buf) == 1 {
		c.timer = time.AfterFunc(c.maxWait, func() { c.flush("time") })
	}
	full := len(c.buf) >= c.maxSize
	c.mu.Unlock()

	if full {
		c.flush("size")
	}
	return Accepted, nil
}

// flush cuts the current buffer into a Batch and enqueues it; if the
// outbound queue is already at capacity, enqueue drops this new batch.
func (c *Collector) flush(trigger string) {
	c.mu.Lock()
	if c.closed || len(c.buf) == 0 {
		c.mu.Unlock()
		return
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	frames := c.buf
	c.buf = nil
	c.mu.Unlock()

	batch := frame.Batch{
		ID:      uuid.New().String(),
		Frames:  frames,
		Trigger: trigger,
	}
	c.enqueue(batch)
}

// enqueue admits batch to the outbound queue. Offer already refuses new
// frames once the queue is at capacity, so this should never block; the
// non-blocking send is a backstop against the rare race where concurrent
// flushes (size trigger racing the wait timer) fill the last slot between
// Offer's check and this send, in which case the whole new batch is
// dropped rather than evicting an older, already-admitted one.
func (c *Collector) enqueue(batch frame.Batch) {
	select {
	case c.out <- batch:
	default:
		c.drop(frame.DropReasonQueueFull, len(batch.Frames))
	}
}

func (c *Collector) drop(reason frame.DropReason, count int) {
	if c.onDrop != nil && count > 0 {
		c.onDrop(reason, count)
	}
}

// Close stops accepting new frames, flushes any partial batch, and closes
// the output channel once that final batch (if any) has been enqueued.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	frames := c.buf
	c.buf = nil
	c.mu.Unlock()

	if len(frames) > 0 {
		c.enqueue(frame.Batch{ID: uuid.New().String(), Frames: frames, Trigger: "shutdown"})
	}
	close(c.out)
}
