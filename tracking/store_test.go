package tracking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/tracking"
)

func storeConfig() *frame.Config {
	cfg := frame.DefaultConfig()
	cfg.ConfidenceDecayRate = 0.5
	cfg.MinConfidenceFloor = 0.2
	cfg.BlurDilationPx = 0
	return cfg
}

func TestStoreGetBlurRegionsIdempotentPerSequence(t *testing.T) {
	st := tracking.NewStore(storeConfig())
	st.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", RawConfidence: 0.9, SourceSequence: 1},
	})

	first := st.GetBlurRegions(1, 100, 100)
	second := st.GetBlurRegions(1, 100, 100)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.InDelta(t, first[0].Confidence, second[0].Confidence, 1e-9, "repeated reads of the same sequence must not re-apply decay")
}

func TestStoreDecaysOncePerNewSequence(t *testing.T) {
	st := tracking.NewStore(storeConfig())
	st.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", RawConfidence: 0.9, SourceSequence: 1},
	})

	first := st.GetBlurRegions(1, 100, 100)
	require.Len(t, first, 1)
	startConf := first[0].Confidence

	next := st.GetBlurRegions(2, 100, 100)
	require.Len(t, next, 1)
	assert.InDelta(t, startConf*0.5, next[0].Confidence, 1e-9)
}

func TestStoreEvictsBelowConfidenceFloor(t *testing.T) {
	st := tracking.NewStore(storeConfig())
	st.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", RawConfidence: 0.4, SourceSequence: 1},
	})

	// The first read decays 0.4 to 0.2, which is not below the floor 0.2.
	regions := st.GetBlurRegions(1, 100, 100)
	require.Len(t, regions, 1)

	// 0.2 * 0.5 = 0.1 < floor 0.2: this read should evict it.
	regions = st.GetBlurRegions(2, 100, 100)
	assert.Empty(t, regions)
	assert.Equal(t, 0, st.ActiveRegionCount())
}

func TestStoreAppliesLateDetectionConfidenceByTrackIdentity(t *testing.T) {
	st := tracking.NewStore(storeConfig())
	box := frame.BBox{X: 0, Y: 0, W: 10, H: 10}

	st.Integrate([]frame.Detection{
		{BBox: box, ClassID: "face", RawConfidence: 0.5, SourceSequence: 1},
	})
	st.Integrate([]frame.Detection{
		{BBox: box, ClassID: "face", RawConfidence: 0.6, SourceSequence: 2},
	})

	// LastObservedSequence is now 2. Force the one-time decay for sequence 2
	// before the late detection arrives, so the assertion below isolates
	// the refresh's effect from decay.
	baseline := st.GetBlurRegions(2, 100, 100)
	require.Len(t, baseline, 1)
	require.InDelta(t, 0.3, baseline[0].Confidence, 1e-6)

	// A detection for source_sequence 1 arrives late, after sequence 2 has
	// already advanced the track's LastObservedSequence past it. It still
	// matches the same track by position, and its higher raw confidence
	// must still apply even though its sequence is behind the track's.
	st.Integrate([]frame.Detection{
		{BBox: box, ClassID: "face", RawConfidence: 0.95, SourceSequence: 1},
	})

	regions := st.GetBlurRegions(2, 100, 100)
	require.Len(t, regions, 1)
	assert.InDelta(t, 0.95, regions[0].Confidence, 1e-6, "a late-arriving detection must still raise confidence via max(old, raw)")
}

func TestStoreCoastsAfterTrackLost(t *testing.T) {
	cfg := storeConfig()
	cfg.MaxMissedFrames = 0
	st := tracking.NewStore(cfg)

	st.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", RawConfidence: 0.9, SourceSequence: 1},
	})
	require.Equal(t, 1, st.ActiveTrackCount())

	firstRead := st.GetBlurRegions(1, 100, 100)
	require.Len(t, firstRead, 1)
	lastKnownBBox := firstRead[0].BBox

	// An empty batch misses the track once; max_missed=0 evicts it immediately.
	st.Integrate(nil)
	assert.Equal(t, 0, st.ActiveTrackCount(), "track should be evicted from the Tracker Set")

	// The region should still render this frame, coasting on decayed
	// confidence at its last known position, even though its backing
	// track is gone.
	regions := st.GetBlurRegions(2, 100, 100)
	require.Len(t, regions, 1)
	assert.Equal(t, frame.RegionCoasting, regions[0].State)
	assert.Equal(t, lastKnownBBox, regions[0].BBox)
	assert.Empty(t, regions[0].LinkedTrackID)
}
