package frames

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlane_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		plane   Plane
		wantErr bool
	}{
		{"packed", NewPlane(4, 3, 4), false},
		{"padded rows", Plane{Width: 2, Height: 2, BytesPerPixel: 1, RowStride: 8, Data: make([]byte, 10)}, false},
		{"short last row", Plane{Width: 2, Height: 2, BytesPerPixel: 1, RowStride: 8, Data: make([]byte, 9)}, true},
		{"short data", Plane{Width: 4, Height: 4, BytesPerPixel: 4, RowStride: 16, Data: make([]byte, 63)}, true},
		{"stride too small", Plane{Width: 4, Height: 1, BytesPerPixel: 4, RowStride: 8, Data: make([]byte, 64)}, true},
		{"zero bytes per pixel", Plane{Width: 1, Height: 1, Data: make([]byte, 1)}, true},
		{"empty", NewPlane(0, 0, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plane.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrPlaneBounds)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDepthImage(t *testing.T) {
	t.Parallel()

	d, err := NewDepthImage(NewPlane(3, 2, 4))
	require.NoError(t, err)
	d.Set(2, 1, 1.25)
	d.Set(0, 0, float32(math.Inf(1)))

	assert.Equal(t, float32(1.25), d.At(2, 1))
	assert.True(t, math.IsInf(float64(d.At(0, 0)), 1))
	assert.Equal(t, float32(0), d.At(1, 1))
	assert.True(t, d.Contains(2, 1))
	assert.False(t, d.Contains(3, 0))
	assert.False(t, d.Contains(0, -1))

	_, err = NewDepthImage(NewPlane(3, 2, 2))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestDepthImage_RowStride(t *testing.T) {
	t.Parallel()

	p := Plane{Width: 2, Height: 2, BytesPerPixel: 4, RowStride: 12, Data: make([]byte, 24)}
	d, err := NewDepthImage(p)
	require.NoError(t, err)
	d.Set(0, 1, 3)
	assert.Equal(t, float32(3), d.At(0, 1))
	assert.Equal(t, byte(0x40), p.Data[12+3], "row 1 starts at the stride, not at width*bpp")
}

func TestConfidenceImage(t *testing.T) {
	t.Parallel()

	c, err := NewConfidenceImage(NewPlane(2, 2, 1))
	require.NoError(t, err)
	c.Set(1, 1, 2)
	assert.Equal(t, uint8(2), c.At(1, 1))
	assert.Equal(t, 2, c.Width())

	_, err = NewConfidenceImage(NewPlane(2, 2, 4))
	assert.ErrorIs(t, err, ErrFormat)
}

func TestColorImageFromRGBA(t *testing.T) {
	t.Parallel()

	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.SetRGBA(3, 2, color.RGBA{R: 1, G: 2, B: 3, A: 4})

	c, err := ColorImageFromRGBA(img)
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 4}, c.At(3, 2))

	sub := img.SubImage(image.Rect(2, 2, 4, 4)).(*image.RGBA)
	c, err = ColorImageFromRGBA(sub)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Width())
	assert.Equal(t, color.RGBA{R: 1, G: 2, B: 3, A: 4}, c.At(1, 0))
}

func TestMapConfidence(t *testing.T) {
	t.Parallel()

	assert.Equal(t, float32(0), MapConfidence(0))
	assert.Equal(t, float32(0.5), MapConfidence(1))
	assert.Equal(t, float32(1), MapConfidence(2))
	for _, code := range []uint8{3, 7, 128, 255} {
		assert.Equal(t, float32(0), MapConfidence(code), "code %d", code)
	}
	assert.Equal(t, "medium", ConfidenceMedium.String())
	assert.Equal(t, "unknown", ConfidenceLevel(9).String())
}

func TestAlignColor(t *testing.T) {
	t.Parallel()

	src := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			src.SetRGBA(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}

	dst := AlignColor(src, 4, 2)
	assert.Equal(t, image.Rect(0, 0, 4, 2), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, dst.RGBAAt(3, 1))

	same := AlignColor(src, 8, 8)
	assert.Equal(t, src.Pix, same.Pix)
}

func TestFrameRelease_Once(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	f := NewCameraFrame(nil, func() error { calls++; return boom })

	assert.ErrorIs(t, f.Release(), boom)
	assert.ErrorIs(t, f.Release(), boom)
	assert.Equal(t, 1, calls)

	assert.NoError(t, NewDepthFrame(DepthImage{}, nil).Release())
	assert.NoError(t, NewConfidenceFrame(ConfidenceImage{}, nil).Release())
}

func TestTrackingState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "tracking", TrackingTracking.String())
	assert.Equal(t, "none", TrackingNone.String())
}
