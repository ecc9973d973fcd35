package tracking

import (
	"time"

	"github.com/zapdos-labs/shieldcast/frame"
)

// Track is a stateful record of one moving unsafe region.
type Track struct {
	ID                   string
	ClassID              string
	HitCount             int
	MissCount            int
	LastObservedSequence uint64
	CreatedAt            time.Time

	kf *kalmanState
}

func newTrack(id string, d frame.Detection, now time.Time, processNoise, measurementNoise float64) *Track {
	return &Track{
		ID:                   id,
		ClassID:              d.ClassID,
		HitCount:             1,
		LastObservedSequence: d.SourceSequence,
		CreatedAt:            now,
		kf:                   newKalmanState(d.BBox, d.SourceSequence, processNoise, measurementNoise),
	}
}

// Predict advances the track's filter to seq and returns the predicted
// bbox, without mutating hit/miss counters.
func (t *Track) Predict(seq uint64) frame.BBox {
	return t.kf.predict(seq)
}

// observe integrates a matched detection into the track.
func (t *Track) observe(d frame.Detection) {
	t.kf.update(d.BBox)
	t.HitCount++
	t.MissCount = 0
	if d.SourceSequence > t.LastObservedSequence {
		t.LastObservedSequence = d.SourceSequence
	}
}

// miss records a frame where no detection matched this track.
func (t *Track) miss() {
	t.MissCount++
}

func (t *Track) expired(now time.Time, maxMissed int, maxAge time.Duration) bool {
	return t.MissCount > maxMissed || now.Sub(t.CreatedAt) > maxAge
}
