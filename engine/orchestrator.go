package engine

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"

	"github.com/zapdos-labs/shieldcast/blur"
	"github.com/zapdos-labs/shieldcast/collector"
	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/metrics"
	"github.com/zapdos-labs/shieldcast/tracking"
)

// orchestrator is the Lane 1 loop: pull one frame at a time, stamp it with
// the current must-blur set, publish the sanitized copy, and hand the
// original off to the Batch Collector for Lane 2 verification. It never
// waits on a detection result before publishing; blur coverage for a given
// frame only ever reflects detections already integrated by the time that
// frame is read.
type orchestrator struct {
	roomID string
	source frame.Source
	sink   frame.Sink
	store  *tracking.Store
	coll   *collector.Collector
	cfg    *frame.Config
	bus    *bus
	log    *log.Logger

	overloaded atomic.Bool
	window     []time.Duration
	windowPos  int
}

func newOrchestrator(roomID string, source frame.Source, sink frame.Sink, store *tracking.Store, coll *collector.Collector, cfg *frame.Config, b *bus) *orchestrator {
	return &orchestrator{
		roomID: roomID,
		source: source,
		sink:   sink,
		store:  store,
		coll:   coll,
		cfg:    cfg,
		bus:    b,
		log:    cfg.Log(),
		window: make([]time.Duration, cfg.OverloadWindowFrames),
	}
}

// run drives Lane 1 until ctx is cancelled or the source closes.
func (o *orchestrator) run(ctx context.Context) {
	for {
		idleCtx, cancel := context.WithTimeout(ctx, o.cfg.IdleTimeout)
		f, err := o.source.Next(idleCtx)
		cancel()
		if err != nil {
			if errors.Is(err, frame.ErrSourceClosed) || ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				metrics.FramesDropped.WithLabelValues(string(frame.DropReasonSourceTimeout)).Inc()
				continue
			}
			o.log.Printf("[Orchestrator %s] source error: %v", o.roomID, err)
			continue
		}

		o.processFrame(ctx, f)
	}
}

func (o *orchestrator) processFrame(ctx context.Context, f *frame.Frame) {
	start := time.Now()
	defer func() {
		o.recordLatency(time.Since(start))
	}()

	regions := o.store.GetBlurRegions(f.Sequence, f.Width(), f.Height())

	out := f.Clone()
	if err := blur.Apply(out.Img, regions, o.cfg); err != nil {
		o.log.Printf("[Orchestrator %s] blur failed for seq=%d: %v, falling back to full-frame pixelation", o.roomID, f.Sequence, err)
		blur.Fallback(out.Img, o.cfg.PixelSize)
	}

	pubCtx, cancel := context.WithTimeout(ctx, o.cfg.PublishTimeout)
	err := o.sink.Publish(pubCtx, out)
	cancel()
	if err != nil {
		reason := frame.DropReasonPublishError
		if errors.Is(err, frame.ErrBackpressure) {
			reason = frame.DropReasonSink
		}
		metrics.FramesDropped.WithLabelValues(string(reason)).Inc()
		o.log.Printf("[Orchestrator %s] publish failed for seq=%d: %v", o.roomID, f.Sequence, err)
	} else {
		metrics.FramesPublished.Inc()
	}

	o.offer(f)
}

// offer hands the original (unblurred) frame to the Batch Collector without
// waiting. If the collector refuses because its pending-batch queue is
// full, this records a verification-skipped event instead of halting Lane
// 1: the blurred frame has already published, only Lane 2's verification
// of this particular frame is lost.
func (o *orchestrator) offer(f *frame.Frame) {
	sf := frame.SubmittedFrame{
		Frame:        f,
		SubmittedAt:  time.Now().UnixNano(),
		SubmitWidth:  f.Width(),
		SubmitHeight: f.Height(),
	}
	if _, err := o.coll.Offer(sf); err != nil {
		if errors.Is(err, frame.ErrQueueFull) {
			metrics.FramesDropped.WithLabelValues(string(frame.DropReasonQueueFull)).Inc()
			o.bus.publish(Event{Kind: EventVerificationSkipped, RoomID: o.roomID, Sequence: f.Sequence})
			return
		}
		metrics.FramesDropped.WithLabelValues(string(frame.DropReasonShutdown)).Inc()
		return
	}
	o.bus.publish(Event{Kind: EventFrameSubmitted, RoomID: o.roomID, Sequence: f.Sequence})
}

// recordLatency tracks Lane 1 wall time over a rolling window and raises
// the overload signal once the fraction of over-budget frames in the
// window crosses OverloadFractionTrip.
func (o *orchestrator) recordLatency(d time.Duration) {
	metrics.Lane1Latency.Observe(float64(d.Milliseconds()))

	o.window[o.windowPos] = d
	o.windowPos = (o.windowPos + 1) % len(o.window)

	var over int
	for _, w := range o.window {
		if w > o.cfg.Lane1Budget {
			over++
		}
	}
	trip := float64(over)/float64(len(o.window)) >= o.cfg.OverloadFractionTrip
	if trip != o.overloaded.Load() {
		o.overloaded.Store(trip)
		if trip {
			o.log.Printf("[Orchestrator %s] Lane 1 overloaded: %d/%d frames over budget", o.roomID, over, len(o.window))
		}
	}
}

// Overloaded reports whether Lane 1 is currently tripped for this room.
func (o *orchestrator) Overloaded() bool {
	return o.overloaded.Load()
}
