package tracking

import "github.com/zapdos-labs/shieldcast/frame"

// kalmanDim is the 8-D constant-velocity state: (cx, cy, aspect, height)
// and their time derivatives.
const kalmanDim = 8
const measureDim = 4

// kalmanState is one Track's Kalman filter. Predict is deterministic given
// the stored state.
type kalmanState struct {
	x *mat // 8x1 state
	p *mat // 8x8 covariance
	q *mat // 8x8 process noise
	r *mat // 4x4 measurement noise
	h *mat // 4x8 measurement matrix

	lastPredictSequence uint64
}

func measurementFromBBox(b frame.BBox) (cx, cy, aspect, height float64) {
	height = float64(b.H)
	if height <= 0 {
		height = 1
	}
	aspect = float64(b.W) / height
	cx, cy = b.Center()
	return
}

func bboxFromMeasurement(cx, cy, aspect, height float64) frame.BBox {
	if height < 0 {
		height = 0
	}
	w := aspect * height
	return frame.BBox{
		X: int(cx - w/2),
		Y: int(cy - height/2),
		W: int(w),
		H: int(height),
	}
}

// newKalmanState initializes a filter from the first observation. Velocity
// starts at zero; its covariance starts high since it is unobserved.
func newKalmanState(b frame.BBox, seq uint64, processNoise, measurementNoise float64) *kalmanState {
	cx, cy, aspect, height := measurementFromBBox(b)

	x := newMat(kalmanDim, 1)
	x.set(0, 0, cx)
	x.set(1, 0, cy)
	x.set(2, 0, aspect)
	x.set(3, 0, height)

	p := identity(kalmanDim)
	for i := 4; i < kalmanDim; i++ {
		p.set(i, i, 1000) // velocity is unobserved at birth
	}

	q := identity(kalmanDim)
	for i := 0; i < kalmanDim; i++ {
		q.set(i, i, processNoise)
	}

	r := identity(measureDim)
	for i := 0; i < measureDim; i++ {
		r.set(i, i, measurementNoise)
	}

	h := newMat(measureDim, kalmanDim)
	for i := 0; i < measureDim; i++ {
		h.set(i, i, 1)
	}

	return &kalmanState{
		x:                   x,
		p:                   p,
		q:                   q,
		r:                   r,
		h:                   h,
		lastPredictSequence: seq,
	}
}

func transitionMatrix(steps float64) *mat {
	f := identity(kalmanDim)
	for i := 0; i < measureDim; i++ {
		f.set(i, i+measureDim, steps)
	}
	return f
}

// predict advances the filter to sequence seq and returns the predicted
// bbox. Calling predict twice for the same seq with no intervening update is
// idempotent.
func (k *kalmanState) predict(seq uint64) frame.BBox {
	if seq > k.lastPredictSequence {
		steps := float64(seq - k.lastPredictSequence)
		f := transitionMatrix(steps)
		k.x = f.mul(k.x)
		k.p = f.mul(k.p).mul(f.transpose()).add(k.q)
		k.lastPredictSequence = seq
	}
	return bboxFromMeasurement(k.x.at(0, 0), k.x.at(1, 0), k.x.at(2, 0), k.x.at(3, 0))
}

// update integrates a new measurement. It does not move lastPredictSequence backwards: a late-arriving
// detection for a sequence already predicted past only corrects position
// and velocity going forward, it never revises a prediction already handed
// to Lane 1.
func (k *kalmanState) update(b frame.BBox) {
	cx, cy, aspect, height := measurementFromBBox(b)
	z := newMat(measureDim, 1)
	z.set(0, 0, cx)
	z.set(1, 0, cy)
	z.set(2, 0, aspect)
	z.set(3, 0, height)

	y := z.sub(k.h.mul(k.x))
	s := k.h.mul(k.p).mul(k.h.transpose()).add(k.r)
	gain := k.p.mul(k.h.transpose()).mul(s.inverse())

	k.x = k.x.add(gain.mul(y))

	ikh := identity(kalmanDim).sub(gain.mul(k.h))
	k.p = ikh.mul(k.p)
}

func (k *kalmanState) currentBBox() frame.BBox {
	return bboxFromMeasurement(k.x.at(0, 0), k.x.at(1, 0), k.x.at(2, 0), k.x.at(3, 0))
}
