package tracking

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zapdos-labs/shieldcast/frame"
)

// candidate is one (track, detection) pairing considered during greedy IoU
// association.
type candidate struct {
	trackIdx int
	detIdx   int
	iou      float64
}

// Tracker is the Tracker Set: one Track per live unsafe region, predicted
// forward every frame and updated from Lane 2 observations keyed by source
// sequence.
//
// Tracker itself is not safe for concurrent use; the Confidence Store that
// owns it serializes access under its own lock.
type Tracker struct {
	tracks map[string]*Track

	iouThreshold     float64
	maxMissed        int
	maxAge           time.Duration
	processNoise     float64
	measurementNoise float64

	now func() time.Time
}

// NewTracker constructs a Tracker Set from the session configuration.
func NewTracker(cfg *frame.Config) *Tracker {
	return &Tracker{
		tracks:           make(map[string]*Track),
		iouThreshold:     cfg.IoUAssocThreshold,
		maxMissed:        cfg.MaxMissedFrames,
		maxAge:           cfg.MaxTrackAge,
		processNoise:     cfg.KalmanProcessNoise,
		measurementNoise: cfg.KalmanMeasurementNoise,
		now:              time.Now,
	}
}

// Predict advances every live track to seq and returns its predicted bbox,
// keyed by track ID. Deterministic given stored state.
func (t *Tracker) Predict(seq uint64) map[string]frame.BBox {
	out := make(map[string]frame.BBox, len(t.tracks))
	for id, tr := range t.tracks {
		out[id] = tr.Predict(seq)
	}
	return out
}

// Integrate applies one Lane-2 batch of detections, keyed by
// source_sequence: greedy-IoU association against same-class tracks,
// unmatched detections spawn new tracks, unmatched tracks accrue a miss and
// may be evicted. matchedTrackIDs is parallel to detections and carries the
// ID of the track each detection ended up linked to, whether that track
// already existed or was just created, so a caller never has to re-derive
// the association by scanning sequence numbers.
//
// Integrate does not deduplicate by source_sequence: submitting the same
// detection twice matches the same track twice, running a second filter
// update and incrementing HitCount again. Retries inside the Inference
// Client do not cause this, since Verify returns one result set per batch
// and Session integrates each delivered batch once.
func (t *Tracker) Integrate(detections []frame.Detection) (newTrackIDs []string, evictedTrackIDs []string, matchedTrackIDs []string) {
	if len(detections) == 0 {
		allIDs := make([]string, 0, len(t.tracks))
		for id := range t.tracks {
			allIDs = append(allIDs, id)
		}
		return nil, t.ageAndEvict(allIDs), nil
	}

	// Group live tracks by sequence-local predicted bbox for association.
	type liveTrack struct {
		id   string
		bbox frame.BBox
	}
	var seq uint64
	for _, d := range detections {
		if d.SourceSequence > seq {
			seq = d.SourceSequence
		}
	}

	liveIDs := make([]string, 0, len(t.tracks))
	for id := range t.tracks {
		liveIDs = append(liveIDs, id)
	}
	sort.Strings(liveIDs) // deterministic iteration order for reproducible association

	live := make([]liveTrack, 0, len(liveIDs))
	for _, id := range liveIDs {
		tr := t.tracks[id]
		live = append(live, liveTrack{id: id, bbox: tr.Predict(seq)})
	}

	var candidates []candidate
	for ti, lt := range live {
		for di, d := range detections {
			if t.tracks[lt.id].ClassID != d.ClassID {
				continue
			}
			iou := lt.bbox.IoU(d.BBox)
			if iou >= t.iouThreshold {
				candidates = append(candidates, candidate{trackIdx: ti, detIdx: di, iou: iou})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].iou > candidates[j].iou })

	matchedTrack := make([]bool, len(live))
	matchedDet := make([]bool, len(detections))
	detToTrack := make([]int, len(detections))
	for i := range detToTrack {
		detToTrack[i] = -1
	}

	for _, c := range candidates {
		if matchedTrack[c.trackIdx] || matchedDet[c.detIdx] {
			continue
		}
		matchedTrack[c.trackIdx] = true
		matchedDet[c.detIdx] = true
		detToTrack[c.detIdx] = c.trackIdx
	}

	now := t.now()
	matchedTrackIDs = make([]string, len(detections))
	for di, d := range detections {
		if ti := detToTrack[di]; ti >= 0 {
			t.tracks[live[ti].id].observe(d)
			matchedTrackIDs[di] = live[ti].id
			continue
		}
		id := uuid.New().String()
		t.tracks[id] = newTrack(id, d, now, t.processNoise, t.measurementNoise)
		newTrackIDs = append(newTrackIDs, id)
		matchedTrackIDs[di] = id
	}

	unmatchedIDs := make([]string, 0, len(live))
	for ti, lt := range live {
		if !matchedTrack[ti] {
			unmatchedIDs = append(unmatchedIDs, lt.id)
		}
	}
	evictedTrackIDs = t.ageAndEvict(unmatchedIDs)
	return newTrackIDs, evictedTrackIDs, matchedTrackIDs
}

// ageAndEvict increments miss_count for the given unmatched track IDs, then
// evicts anything past max_missed or max_age.
func (t *Tracker) ageAndEvict(unmatchedIDs []string) (evicted []string) {
	for _, id := range unmatchedIDs {
		if tr, ok := t.tracks[id]; ok {
			tr.miss()
		}
	}

	now := t.now()
	for id, tr := range t.tracks {
		if tr.expired(now, t.maxMissed, t.maxAge) {
			delete(t.tracks, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Get returns a live track by ID, or nil.
func (t *Tracker) Get(id string) *Track {
	return t.tracks[id]
}

// Live returns a snapshot of currently live track IDs.
func (t *Tracker) Live() []string {
	ids := make([]string, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live tracks, for the active_tracks gauge.
func (t *Tracker) Count() int {
	return len(t.tracks)
}
