// Package frame holds the data types and collaborator interfaces shared by
// every lane of the moderation pipeline. It has no dependencies on the rest
// of this module so that the tracking, collector, inference, blur, metrics
// and telemetry packages can all import it without creating a cycle with the
// engine package that wires them together.
package frame

import (
	"image"
	"time"
)

// Frame is an opaque pixel buffer owned by the pipeline for the duration of
// one pass. Sequence is strictly monotonic per room.
type Frame struct {
	Img       *image.RGBA
	Timestamp time.Time
	Sequence  uint64
}

// Width returns the frame's pixel width.
func (f *Frame) Width() int {
	if f == nil || f.Img == nil {
		return 0
	}
	return f.Img.Bounds().Dx()
}

// Height returns the frame's pixel height.
func (f *Frame) Height() int {
	if f == nil || f.Img == nil {
		return 0
	}
	return f.Img.Bounds().Dy()
}

// Clone returns a deep copy of the frame's pixel buffer, leaving the
// original untouched. The orchestrator blurs a clone so the raw frame
// offered to the Batch Collector is never mutated.
func (f *Frame) Clone() *Frame {
	if f == nil || f.Img == nil {
		return f
	}
	cp := image.NewRGBA(f.Img.Bounds())
	copy(cp.Pix, f.Img.Pix)
	return &Frame{Img: cp, Timestamp: f.Timestamp, Sequence: f.Sequence}
}

// BBox is a pixel-space bounding box.
type BBox struct {
	X, Y, W, H int
}

// Dilate returns the box padded by px pixels on every side.
func (b BBox) Dilate(px int) BBox {
	return BBox{
		X: b.X - px,
		Y: b.Y - px,
		W: b.W + 2*px,
		H: b.H + 2*px,
	}
}

// Clamp returns the box intersected with a 0,0,width,height frame. If the
// box falls entirely outside the frame, the returned box has zero area.
func (b BBox) Clamp(width, height int) BBox {
	x1, y1 := b.X, b.Y
	x2, y2 := b.X+b.W, b.Y+b.H

	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > width {
		x2 = width
	}
	if y2 > height {
		y2 = height
	}
	if x2 < x1 {
		x2 = x1
	}
	if y2 < y1 {
		y2 = y1
	}
	return BBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Center returns the box's center point.
func (b BBox) Center() (float64, float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Area returns the box's pixel area.
func (b BBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func (b BBox) IoU(o BBox) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.W, o.X+o.W)
	y2 := min(b.Y+b.H, o.Y+o.H)

	iw, ih := x2-x1, y2-y1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(b.Area()+o.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection is produced by Lane 2. Coordinates are in the frame-resolution
// of the frame that was submitted under SourceSequence.
type Detection struct {
	BBox           BBox
	ClassID        string
	RawConfidence  float64
	SourceSequence uint64
}

// RegionState is the state-machine position of a Region.
type RegionState int

const (
	// RegionObserved means the Region was refreshed by a detection this
	// decay cycle.
	RegionObserved RegionState = iota
	// RegionCoasting means the Region's backing Track is gone (or stale)
	// but its decayed confidence has not yet crossed the floor.
	RegionCoasting
	// RegionEvicted is terminal; evicted Regions are never rendered.
	RegionEvicted
)

func (s RegionState) String() string {
	switch s {
	case RegionObserved:
		return "observed"
	case RegionCoasting:
		return "coasting"
	case RegionEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Region is a renderable blur directive owned by the Confidence Store.
type Region struct {
	ID            string
	BBox          BBox
	Confidence    float64
	ClassID       string
	LinkedTrackID string // empty once the backing Track is evicted (coasting)
	LastRefreshSeq uint64
	State         RegionState
}
