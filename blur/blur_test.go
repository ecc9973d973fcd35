package blur_test

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapdos-labs/shieldcast/blur"
	"github.com/zapdos-labs/shieldcast/frame"
)

func checkerboard(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			}
		}
	}
	return img
}

func TestApplyPixelationAveragesEachBlock(t *testing.T) {
	img := checkerboard(4, 4)
	cfg := frame.DefaultConfig()
	cfg.BlurMethodKind = frame.BlurPixelation
	cfg.PixelSize = 2

	regions := []frame.Region{{BBox: frame.BBox{X: 0, Y: 0, W: 4, H: 4}, State: frame.RegionObserved}}
	require.NoError(t, blur.Apply(img, regions, cfg))

	// Every pixel in a 2x2 block straddling both checkerboard colors
	// should now read the same averaged value.
	for _, p := range []image.Point{{0, 0}, {0, 1}, {1, 0}, {1, 1}} {
		c := img.RGBAAt(p.X, p.Y)
		assert.EqualValues(t, 127, c.R, "pixel %v should be averaged", p)
	}
}

func TestApplySkipsEvictedRegions(t *testing.T) {
	img := checkerboard(4, 4)
	before := img.RGBAAt(0, 0)
	cfg := frame.DefaultConfig()
	cfg.BlurMethodKind = frame.BlurPixelation

	regions := []frame.Region{{BBox: frame.BBox{X: 0, Y: 0, W: 4, H: 4}, State: frame.RegionEvicted}}
	require.NoError(t, blur.Apply(img, regions, cfg))

	assert.Equal(t, before, img.RGBAAt(0, 0), "an evicted region must not be blurred")
}

func TestApplyGaussianSmoothsSharpEdge(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			if x < 5 {
				img.SetRGBA(x, y, color.RGBA{A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: 255, A: 255})
			}
		}
	}

	cfg := frame.DefaultConfig()
	cfg.BlurMethodKind = frame.BlurGaussian
	cfg.GaussianSigma = 3

	regions := []frame.Region{{BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}, State: frame.RegionObserved}}
	require.NoError(t, blur.Apply(img, regions, cfg))

	edge := img.RGBAAt(5, 5)
	assert.Greater(t, edge.R, uint8(0), "the hard edge should bleed across after blurring")
	assert.Less(t, edge.R, uint8(255))
}

func TestApplyRejectsUnknownMethod(t *testing.T) {
	img := checkerboard(4, 4)
	cfg := frame.DefaultConfig()
	cfg.BlurMethodKind = "unknown"

	regions := []frame.Region{{BBox: frame.BBox{X: 0, Y: 0, W: 4, H: 4}, State: frame.RegionObserved}}
	assert.Error(t, blur.Apply(img, regions, cfg))
}

func TestFallbackCoversWholeFrame(t *testing.T) {
	img := checkerboard(4, 4)
	blur.Fallback(img, 2)

	for _, p := range []image.Point{{0, 0}, {3, 3}} {
		c := img.RGBAAt(p.X, p.Y)
		assert.EqualValues(t, 127, c.R, "pixel %v should be averaged by the fallback pass", p)
	}
}
