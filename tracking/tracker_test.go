package tracking_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdos-labs/shieldcast/frame"
	"github.com/zapdos-labs/shieldcast/tracking"
)

func testConfig() *frame.Config {
	cfg := frame.DefaultConfig()
	cfg.IoUAssocThreshold = 0.3
	cfg.MaxMissedFrames = 2
	cfg.MaxTrackAge = time.Hour
	return cfg
}

func TestTrackerIntegrateCreatesNewTrack(t *testing.T) {
	tr := tracking.NewTracker(testConfig())

	newIDs, evicted, matched := tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", SourceSequence: 1},
	})

	require.Len(t, newIDs, 1)
	assert.Empty(t, evicted)
	assert.Equal(t, 1, tr.Count())
	require.Len(t, matched, 1)
	assert.Equal(t, newIDs[0], matched[0], "matchedTrackIDs must carry the newly created track's ID")
}

func TestTrackerAssociatesBySameBoxAcrossFrames(t *testing.T) {
	tr := tracking.NewTracker(testConfig())

	newIDs, _, _ := tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", SourceSequence: 1},
	})
	id := newIDs[0]

	moreNew, evicted, matched := tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 1, Y: 1, W: 10, H: 10}, ClassID: "face", SourceSequence: 2},
	})

	assert.Empty(t, moreNew, "overlapping same-class detection should match the existing track, not spawn a new one")
	assert.Empty(t, evicted)
	assert.Equal(t, 1, tr.Count())
	require.Len(t, matched, 1)
	assert.Equal(t, id, matched[0], "matchedTrackIDs must identify the existing track the detection was associated to")

	tk := tr.Get(id)
	require.NotNil(t, tk)
	assert.Equal(t, uint64(2), tk.LastObservedSequence)
	assert.Equal(t, 2, tk.HitCount)
}

func TestTrackerRejectsCrossClassMatch(t *testing.T) {
	tr := tracking.NewTracker(testConfig())

	tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", SourceSequence: 1},
	})
	newIDs, _, _ := tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "plate", SourceSequence: 2},
	})

	assert.Len(t, newIDs, 1, "a detection of a different class over the same box must spawn its own track")
	assert.Equal(t, 2, tr.Count())
}

func TestTrackerEvictsAfterMaxMissed(t *testing.T) {
	cfg := testConfig()
	tr := tracking.NewTracker(cfg)

	tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", SourceSequence: 1},
	})

	var evicted []string
	for seq := uint64(2); seq <= uint64(2+cfg.MaxMissedFrames+1); seq++ {
		_, ev, _ := tr.Integrate(nil)
		evicted = append(evicted, ev...)
	}

	assert.NotEmpty(t, evicted, "track should be evicted once miss_count exceeds max_missed")
	assert.Equal(t, 0, tr.Count())
}

func TestTrackerEmptyBatchStillAgesLiveTracks(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMissedFrames = 1
	tr := tracking.NewTracker(cfg)

	tr.Integrate([]frame.Detection{
		{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, ClassID: "face", SourceSequence: 1},
	})

	_, evicted1, _ := tr.Integrate(nil)
	assert.Empty(t, evicted1)

	_, evicted2, _ := tr.Integrate(nil)
	assert.NotEmpty(t, evicted2, "a second consecutive empty batch must evict a track with max_missed=1")
}
