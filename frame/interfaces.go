package frame

import "context"

// Source is the broadcast collaborator: a lazy, finite, non-restartable
// sequence of frames. Next blocks until a frame is available,
// the context is cancelled, or the underlying stream has ended
// (ErrSourceClosed).
type Source interface {
	Next(ctx context.Context) (*Frame, error)
}

// Sink is the sanitized-output collaborator. Publish returns
// ErrBackpressure when the sink cannot accept the frame right now; any
// other non-nil error is a decode/encode failure.
type Sink interface {
	Publish(ctx context.Context, f *Frame) error
}

// SubmittedFrame is what the Batch Collector carries for one frame awaiting
// verification: the raw pixels plus the bookkeeping carried on the
// eventual batch (sequence, submitted_at, submit_resolution).
type SubmittedFrame struct {
	Frame         *Frame
	SubmittedAt   int64 // unix nanos, wall clock
	SubmitWidth   int
	SubmitHeight  int
}

// Batch is a size- or time-triggered group of frames handed to the
// Inference Client.
type Batch struct {
	ID      string
	Frames  []SubmittedFrame
	Trigger string // "size", "time", or "shutdown" (final flush on Close), for batches_flushed_total{trigger}
}

// FrameResultStatus distinguishes a successful per-frame detection result
// from a per-frame error.
type FrameResultStatus int

const (
	FrameResultDetections FrameResultStatus = iota
	FrameResultError
)

// FrameResult is Detections([]Detection) or Error(kind) for one submitted
// frame in a batch.
type FrameResult struct {
	Status         FrameResultStatus
	SourceSequence uint64
	Detections     []Detection
	Err            error
}

// InferenceService is the remote RPC collaborator. A production
// implementation is a batched call to a detector; it must never synthesize
// or guess a detection for a batch that failed outright.
type InferenceService interface {
	Verify(ctx context.Context, batch Batch) ([]FrameResult, error)
}

// DropReason labels why a frame (or offered frame) never made it through a
// lane, for the frames_dropped_total{reason} counter.
type DropReason string

const (
	DropReasonQueueFull     DropReason = "queue_full"
	DropReasonShutdown      DropReason = "shutdown"
	DropReasonSink          DropReason = "sink"
	DropReasonPublishError  DropReason = "publish_error"
	DropReasonBlurError     DropReason = "blur_error"
	DropReasonSourceTimeout DropReason = "source_timeout"
)
