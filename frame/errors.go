package frame

import "errors"

// Error kinds are defined by their handling, not by their source.
var (
	// ErrBackpressure is returned by a Sink when it cannot accept a frame
	// right now. The orchestrator drops the frame, not the Region state.
	ErrBackpressure = errors.New("sink: backpressure")

	// ErrSourceClosed is returned by a Source once the broadcaster's
	// stream has ended. It is not retried.
	ErrSourceClosed = errors.New("source: closed")

	// ErrQueueFull is returned by the Batch Collector's Offer when
	// pending_batches >= max_pending_batches.
	ErrQueueFull = errors.New("batch collector: queue full")

	// ErrCollectorShutdown is returned by Offer after the collector has
	// been stopped.
	ErrCollectorShutdown = errors.New("batch collector: shut down")

	// ErrDetectTimeout marks a per-batch RPC that exceeded detect_timeout_ms.
	ErrDetectTimeout = errors.New("inference client: timeout")

	// ErrServiceUnavailable is returned while the circuit breaker is open.
	ErrServiceUnavailable = errors.New("inference client: service unavailable")

	// ErrTransient marks a transport error eligible for retry with backoff.
	ErrTransient = errors.New("inference client: transient error")

	// ErrPermanent marks an error that is not retried within a Verify call.
	// Like any failed call, it counts as one failure toward the circuit
	// breaker's consecutive-failure threshold.
	ErrPermanent = errors.New("inference client: permanent error")
)
