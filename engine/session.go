package engine

import (
	"context"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zapdos-labs/shieldcast/collector"
	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/metrics"
	"github.com/zapdos-labs/shieldcast/tracking"
)

// lane2Workers caps how many batches this Session verifies concurrently.
// Bounded by the pending-batch queue itself: there is never a reason to
// run more verification workers than there are batches that can be
// queued at once.
func lane2Workers(cfg *frame.Config) int {
	if cfg.MaxPendingBatches < 1 {
		return 1
	}
	if cfg.MaxPendingBatches > 4 {
		return 4
	}
	return cfg.MaxPendingBatches
}

// Session owns the full pipeline for one room: a Tracker Set and
// Confidence Store, a Batch Collector, an orchestrator driving Lane 1
// against a Source/Sink pair, and a Lane 2 loop that drains batches
// through an InferenceService and folds the results back into the store.
type Session struct {
	RoomID string

	cfg   *frame.Config
	store *tracking.Store
	coll  *collector.Collector
	infer frame.InferenceService
	orch  *orchestrator
	bus   *bus
	log   *log.Logger

	cancel context.CancelFunc
	eg     *errgroup.Group

	closeOnce sync.Once
}

// NewSession constructs and starts a Session for roomID. source and sink
// drive Lane 1; inferenceService drives Lane 2. The lanes run until Close
// is called or the source reports ErrSourceClosed, which ends Lane 1 and
// cancels Lane 2. A failed Publish only drops that frame and never stops
// the Session. Close must still be called to release the Batch Collector.
func NewSession(roomID string, cfg *frame.Config, source frame.Source, sink frame.Sink, inferenceService frame.InferenceService) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	store := tracking.NewStore(cfg)
	b := newBus()

	var dropped func(reason frame.DropReason, count int)
	dropped = func(reason frame.DropReason, count int) {
		metrics.FramesDropped.WithLabelValues(string(reason)).Add(float64(count))
	}
	coll := collector.New(cfg, dropped)

	ctx, cancel := context.WithCancel(context.Background())
	eg, egCtx := errgroup.WithContext(ctx)

	s := &Session{
		RoomID: roomID,
		cfg:    cfg,
		store:  store,
		coll:   coll,
		infer:  inferenceService,
		bus:    b,
		log:    cfg.Log(),
		cancel: cancel,
		eg:     eg,
	}
	s.orch = newOrchestrator(roomID, source, sink, store, coll, cfg, b)

	eg.Go(func() error {
		s.orch.run(egCtx)
		cancel()
		return nil
	})
	for i := 0; i < lane2Workers(cfg); i++ {
		eg.Go(func() error {
			s.runLane2(egCtx)
			return nil
		})
	}

	return s, nil
}

// runLane2 drains ready batches and folds their detections into the
// Confidence Store. A batch-level failure (timeout, circuit open) is
// logged and dropped; it never blocks or restarts Lane 1, since a stale
// or missing detection pass is indistinguishable downstream from a
// quiet frame until the next batch succeeds.
func (s *Session) runLane2(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-s.coll.Batches():
			if !ok {
				return
			}
			s.verifyBatch(ctx, batch)
		}
	}
}

func (s *Session) verifyBatch(ctx context.Context, batch frame.Batch) {
	metrics.BatchesFlushed.WithLabelValues(batch.Trigger).Inc()
	s.bus.publish(Event{Kind: EventBatchReady, RoomID: s.RoomID, BatchID: batch.ID, BatchSize: len(batch.Frames)})

	results, err := s.infer.Verify(ctx, batch)
	if err != nil {
		s.log.Printf("[Session %s] batch %s verify failed: %v", s.RoomID, batch.ID, err)
		s.bus.publish(Event{Kind: EventDetectionsReady, RoomID: s.RoomID, BatchID: batch.ID, Err: err})
		return
	}

	var detections []frame.Detection
	for _, r := range results {
		if r.Status == frame.FrameResultDetections {
			detections = append(detections, r.Detections...)
		}
	}
	s.store.Integrate(detections)
	metrics.ActiveTracks.Set(float64(s.store.ActiveTrackCount()))
	metrics.ActiveRegions.Set(float64(s.store.ActiveRegionCount()))

	s.bus.publish(Event{Kind: EventDetectionsReady, RoomID: s.RoomID, BatchID: batch.ID, Detected: len(detections)})
}

// Subscribe returns a live feed of this Session's lifecycle Events.
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.bus.subscribe()
}

// Overloaded reports whether Lane 1 is currently over its latency budget
// for this room.
func (s *Session) Overloaded() bool {
	return s.orch.Overloaded()
}

// Close stops both lanes and releases the Batch Collector. It is
// idempotent and blocks until every lane goroutine has returned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.coll.Close()
		s.eg.Wait()
		s.bus.publish(Event{Kind: EventSessionClosed, RoomID: s.RoomID})
	})
}
