// Package inference implements the Inference Client: the single
// collaborator that turns a Batch into per-frame detections by calling a
// remote, OpenAI-compatible structured-output endpoint, wrapped with a
// circuit breaker and bounded retry so a sick detector degrades Lane 2
// instead of the whole session.
package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/jpeg"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sony/gobreaker"

	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/metrics"
)

// Client is the production InferenceService: a batched chat-completions
// call against a vLLM-style endpoint, asking for structured JSON detections
// instead of free text.
type Client struct {
	oai         *openai.Client
	model       string
	instruction string
	timeout     time.Duration
	maxRetries  int
	cb          *gobreaker.CircuitBreaker
	log         func(format string, args ...any)
}

// Option configures a Client at construction.
type Option func(*Client)

// WithInstruction overrides the default detection prompt.
func WithInstruction(s string) Option {
	return func(c *Client) { c.instruction = s }
}

// New constructs a Client against baseURL using apiKey and model,
// configuring the circuit breaker and retry budget from cfg.
func New(baseURL, apiKey, model string, cfg *frame.Config, opts ...Option) *Client {
	oaiOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		oaiOpts = append(oaiOpts, option.WithBaseURL(baseURL))
	}
	oaiClient := openai.NewClient(oaiOpts...)

	logger := cfg.Log()
	c := &Client{
		oai:         &oaiClient,
		model:       model,
		instruction: "Detect unsafe regions (faces, license plates, weapons, or nudity) in each frame. Return bounding boxes in NORMALIZED 1000 COORDINATES (0=top/left, 1000=bottom/right).",
		timeout:     cfg.DetectTimeout,
		maxRetries:  cfg.DetectMaxRetries,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "inference-client",
			MaxRequests: 1,
			Interval:    0,
			Timeout:     cfg.CircuitBreakerCooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.CircuitBreakerWindow
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Printf("[InferenceClient] circuit %s: %s -> %s", name, from, to)
				metrics.CircuitBreakerState.Set(circuitStateValue(to))
			},
		}),
		log: logger.Printf,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify sends one batch to the remote detector and maps its structured
// response back to a FrameResult per submitted frame.
//
// A batch-level failure (timeout, circuit open, exhausted retries) is
// returned as an error and the caller must not synthesize detections for
// any frame in the batch. A successful call that simply found nothing for
// a frame yields an empty-detections FrameResult for it, not an error.
func (c *Client) Verify(ctx context.Context, batch frame.Batch) ([]frame.FrameResult, error) {
	if len(batch.Frames) == 0 {
		return nil, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp detectionResponse
	operation := func() error {
		r, err := c.call(timeoutCtx, batch)
		if err != nil {
			if classifyPermanent(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.WithContext(backoff.NewExponentialBackOff(), timeoutCtx), uint64(c.maxRetries))

	_, cbErr := c.cb.Execute(func() (any, error) {
		return nil, backoff.Retry(operation, bo)
	})

	if cbErr != nil {
		if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
			return nil, frame.ErrServiceUnavailable
		}
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return nil, frame.ErrDetectTimeout
		}
		return nil, fmt.Errorf("inference client: %w", cbErr)
	}

	return c.toFrameResults(batch, resp), nil
}

// call performs exactly one chat-completions round trip for the batch.
func (c *Client) call(ctx context.Context, batch frame.Batch) (detectionResponse, error) {
	content := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(c.instruction),
	}
	for _, sf := range batch.Frames {
		dataURL, err := encodeJPEGDataURL(sf.Frame)
		if err != nil {
			return detectionResponse{}, fmt.Errorf("%w: encode frame %d: %v", frame.ErrPermanent, sf.Frame.Sequence, err)
		}
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}))
	}

	schema := generateDetectionResponseSchema()
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(content),
		},
		MaxTokens: openai.Int(2000),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "frame_detections",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	start := time.Now()
	completion, err := c.oai.Chat.Completions.New(ctx, params)
	duration := time.Since(start)
	metrics.Lane2Latency.Observe(float64(duration.Milliseconds()))
	if err != nil {
		return detectionResponse{}, classifyTransportError(err)
	}
	c.log("[InferenceClient] batch=%s frames=%d duration=%v trigger=%s", batch.ID, len(batch.Frames), duration, batch.Trigger)

	if len(completion.Choices) == 0 {
		return detectionResponse{}, fmt.Errorf("%w: empty response", frame.ErrTransient)
	}

	var resp detectionResponse
	if err := json.Unmarshal([]byte(completion.Choices[0].Message.Content), &resp); err != nil {
		return detectionResponse{}, fmt.Errorf("%w: decode response: %v", frame.ErrPermanent, err)
	}
	return resp, nil
}

// toFrameResults maps the raw detection response onto every frame in the
// batch by source sequence, keyed so out-of-order or partial responses
// still land on the right Track.
func (c *Client) toFrameResults(batch frame.Batch, resp detectionResponse) []frame.FrameResult {
	bySeq := make(map[uint64]frameDetections, len(resp.Frames))
	for _, fd := range resp.Frames {
		bySeq[fd.SourceSequence] = fd
	}

	out := make([]frame.FrameResult, 0, len(batch.Frames))
	for _, sf := range batch.Frames {
		fd, ok := bySeq[sf.Frame.Sequence]
		detections := make([]frame.Detection, 0)
		if ok {
			for _, obj := range fd.Objects {
				x, y, w, h := scaleBBox(obj.BBox, sf.SubmitWidth, sf.SubmitHeight)
				detections = append(detections, frame.Detection{
					BBox:           frame.BBox{X: x, Y: y, W: w, H: h},
					ClassID:        obj.ClassID,
					RawConfidence:  obj.Confidence,
					SourceSequence: sf.Frame.Sequence,
				})
			}
			metrics.DetectionsTotal.Add(float64(len(fd.Objects)))
		}
		out = append(out, frame.FrameResult{
			Status:         frame.FrameResultDetections,
			SourceSequence: sf.Frame.Sequence,
			Detections:     detections,
		})
	}
	return out
}

func encodeJPEGDataURL(f *frame.Frame) (string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, f.Img, &jpeg.Options{Quality: 85}); err != nil {
		return "", err
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// classifyTransportError tags a raw transport error as transient, making it
// eligible for a retry within the current Verify call.
func classifyTransportError(err error) error {
	return fmt.Errorf("%w: %v", frame.ErrTransient, err)
}

func classifyPermanent(err error) bool {
	return errors.Is(err, frame.ErrPermanent)
}

// circuitStateValue maps a breaker state to the circuit_breaker_state gauge
// value: 0=closed, 1=half-open, 2=open.
func circuitStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
