package tracking

import (
	"sync"

	"github.com/zapdos-labs/shieldcast/frame"
)

// Store is the Confidence Store: it owns a Region per Track, bridging
// Lane 1 (which only ever reads GetBlurRegions output) and Lane 2 (which
// calls Integrate). A Region survives its Track by coasting on decayed
// confidence so a just-lost detection does not blink off mid-frame.
//
// Store serializes Lane 1's GetBlurRegions reads against Lane 2's
// Integrate writes under its own lock: the two lanes run on independent
// goroutines and both touch the same track/region maps.
type Store struct {
	mu      sync.Mutex
	tracker *Tracker
	regions map[string]*frame.Region

	decayRate  float64
	minFloor   float64
	dilationPx int

	lastDecaySeq uint64
	decayInit    bool
}

// NewStore constructs a Confidence Store over a fresh Tracker Set.
func NewStore(cfg *frame.Config) *Store {
	return &Store{
		tracker:    NewTracker(cfg),
		regions:    make(map[string]*frame.Region),
		decayRate:  cfg.ConfidenceDecayRate,
		minFloor:   cfg.MinConfidenceFloor,
		dilationPx: cfg.BlurDilationPx,
	}
}

// Integrate folds one Lane-2 batch's detections into the Tracker Set and
// refreshes (or creates) the Region bound to each resulting track. A Region
// whose track is evicted is unlinked from it and coasts on its decaying
// confidence until GetBlurRegions drops it below the floor.
func (s *Store) Integrate(detections []frame.Detection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newIDs, evictedIDs, matchedTrackIDs := s.tracker.Integrate(detections)

	for _, id := range evictedIDs {
		if r, ok := s.regions[id]; ok {
			r.LinkedTrackID = ""
			r.State = frame.RegionCoasting
		}
	}

	for _, id := range newIDs {
		tr := s.tracker.Get(id)
		if tr == nil {
			continue
		}
		s.regions[id] = &frame.Region{
			ID:            id,
			LinkedTrackID: id,
			ClassID:       tr.ClassID,
		}
	}

	// Refresh confidence/bbox for every detection against the track it was
	// just matched to, by identity rather than by re-deriving the match
	// from sequence numbers. This is what lets a late-arriving detection
	// (source_sequence behind the track's already-advanced
	// LastObservedSequence) still raise the region's confidence: the
	// identity came straight out of this round's association, so it
	// applies regardless of arrival order.
	for i, d := range detections {
		r, ok := s.regions[matchedTrackIDs[i]]
		if !ok {
			continue
		}
		if d.RawConfidence > r.Confidence {
			r.Confidence = d.RawConfidence
		}
		r.LastRefreshSeq = d.SourceSequence
		r.State = frame.RegionObserved
	}
}

// GetBlurRegions is the per-frame read Lane 1 calls: predict every live
// track to seq, apply one decay step the first time seq is seen, evict
// anything below the confidence floor, and return the resulting must-blur
// set with bboxes dilated and clamped to the frame.
// It is idempotent: calling it twice for the same seq with no intervening
// Integrate returns the same regions (decay only fires once per sequence).
func (s *Store) GetBlurRegions(seq uint64, frameWidth, frameHeight int) []frame.Region {
	s.mu.Lock()
	defer s.mu.Unlock()

	predicted := s.tracker.Predict(seq)

	decay := !s.decayInit || seq > s.lastDecaySeq
	if decay {
		s.lastDecaySeq = seq
		s.decayInit = true
	}

	out := make([]frame.Region, 0, len(s.regions))
	for id, r := range s.regions {
		bbox, live := predicted[id]
		if !live {
			// The backing Track is gone. Coast on the last dilated/clamped
			// bbox instead of dropping the region outright, so a detection
			// that just missed one match doesn't blink the blur off.
			r.LinkedTrackID = ""
		}

		if decay {
			r.Confidence *= s.decayRate
			if r.State == frame.RegionObserved {
				r.State = frame.RegionCoasting
			}
		}

		if r.Confidence < s.minFloor {
			r.State = frame.RegionEvicted
			delete(s.regions, id)
			continue
		}

		if live {
			r.BBox = bbox.Dilate(s.dilationPx).Clamp(frameWidth, frameHeight)
		}
		r.LastRefreshSeq = seq
		out = append(out, *r)
	}
	return out
}

// ActiveRegionCount reports the live region count for the active_regions
// gauge.
func (s *Store) ActiveRegionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.regions)
}

// ActiveTrackCount reports the live track count for the active_tracks
// gauge.
func (s *Store) ActiveTrackCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.Count()
}
