package frames

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
)

var (
	// ErrPlaneBounds is returned when a plane's geometry does not fit its data.
	ErrPlaneBounds = errors.New("frames: plane geometry exceeds data")

	// ErrFormat is returned when a plane has the wrong pixel size for its view.
	ErrFormat = errors.New("frames: unexpected pixel format")
)

// Plane is one raw image plane with its geometry.
type Plane struct {
	Width         int
	Height        int
	BytesPerPixel int
	RowStride     int // bytes between the starts of consecutive rows
	Data          []byte
}

// NewPlane allocates a tightly packed plane.
func NewPlane(width, height, bytesPerPixel int) Plane {
	return Plane{
		Width:         width,
		Height:        height,
		BytesPerPixel: bytesPerPixel,
		RowStride:     width * bytesPerPixel,
		Data:          make([]byte, width*height*bytesPerPixel),
	}
}

// Validate checks that every pixel addressed by the geometry lies in Data.
func (p Plane) Validate() error {
	if p.Width < 0 || p.Height < 0 || p.BytesPerPixel <= 0 {
		return fmt.Errorf("%w: %dx%d, %d bytes per pixel", ErrPlaneBounds, p.Width, p.Height, p.BytesPerPixel)
	}
	if p.RowStride < p.Width*p.BytesPerPixel {
		return fmt.Errorf("%w: row stride %d shorter than row of %d bytes", ErrPlaneBounds, p.RowStride, p.Width*p.BytesPerPixel)
	}
	if p.Width == 0 || p.Height == 0 {
		return nil
	}
	need := (p.Height-1)*p.RowStride + p.Width*p.BytesPerPixel
	if len(p.Data) < need {
		return fmt.Errorf("%w: need %d bytes, have %d", ErrPlaneBounds, need, len(p.Data))
	}
	return nil
}

// Contains reports whether (x, y) addresses a pixel of the plane.
func (p Plane) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < p.Width && y < p.Height
}

func (p Plane) offset(x, y int) int {
	return y*p.RowStride + x*p.BytesPerPixel
}

func checkPlane(p Plane, bytesPerPixel int) error {
	if p.BytesPerPixel != bytesPerPixel {
		return fmt.Errorf("%w: want %d bytes per pixel, got %d", ErrFormat, bytesPerPixel, p.BytesPerPixel)
	}
	return p.Validate()
}

// DepthImage is a view of a plane of little-endian float32 depths in metres.
type DepthImage struct {
	plane Plane
}

// NewDepthImage validates p and wraps it as a depth view.
func NewDepthImage(p Plane) (DepthImage, error) {
	if err := checkPlane(p, 4); err != nil {
		return DepthImage{}, fmt.Errorf("depth plane: %w", err)
	}
	return DepthImage{plane: p}, nil
}

// Width returns the image width in pixels.
func (d DepthImage) Width() int { return d.plane.Width }

// Height returns the image height in pixels.
func (d DepthImage) Height() int { return d.plane.Height }

// Contains reports whether (x, y) is inside the image.
func (d DepthImage) Contains(x, y int) bool { return d.plane.Contains(x, y) }

// At returns the depth at (x, y). The caller must check Contains.
func (d DepthImage) At(x, y int) float32 {
	o := d.plane.offset(x, y)
	return math.Float32frombits(binary.LittleEndian.Uint32(d.plane.Data[o : o+4]))
}

// Set writes the depth at (x, y). The caller must check Contains.
func (d DepthImage) Set(x, y int, v float32) {
	o := d.plane.offset(x, y)
	binary.LittleEndian.PutUint32(d.plane.Data[o:o+4], math.Float32bits(v))
}

// ConfidenceImage is a view of a plane of one-byte confidence codes.
type ConfidenceImage struct {
	plane Plane
}

// NewConfidenceImage validates p and wraps it as a confidence view.
func NewConfidenceImage(p Plane) (ConfidenceImage, error) {
	if err := checkPlane(p, 1); err != nil {
		return ConfidenceImage{}, fmt.Errorf("confidence plane: %w", err)
	}
	return ConfidenceImage{plane: p}, nil
}

// Width returns the image width in pixels.
func (c ConfidenceImage) Width() int { return c.plane.Width }

// Height returns the image height in pixels.
func (c ConfidenceImage) Height() int { return c.plane.Height }

// At returns the raw confidence code at (x, y). The caller must check bounds.
func (c ConfidenceImage) At(x, y int) uint8 {
	return c.plane.Data[c.plane.offset(x, y)]
}

// Set writes the confidence code at (x, y). The caller must check bounds.
func (c ConfidenceImage) Set(x, y int, code uint8) {
	c.plane.Data[c.plane.offset(x, y)] = code
}

// ColorImage is a view of a plane of RGBA32 pixels.
type ColorImage struct {
	plane Plane
}

// NewColorImage validates p and wraps it as a colour view.
func NewColorImage(p Plane) (ColorImage, error) {
	if err := checkPlane(p, 4); err != nil {
		return ColorImage{}, fmt.Errorf("color plane: %w", err)
	}
	return ColorImage{plane: p}, nil
}

// ColorImageFromRGBA wraps an *image.RGBA without copying. The image's
// bounds origin is treated as pixel (0, 0).
func ColorImageFromRGBA(img *image.RGBA) (ColorImage, error) {
	b := img.Bounds()
	start := img.PixOffset(b.Min.X, b.Min.Y)
	return NewColorImage(Plane{
		Width:         b.Dx(),
		Height:        b.Dy(),
		BytesPerPixel: 4,
		RowStride:     img.Stride,
		Data:          img.Pix[start:],
	})
}

// Width returns the image width in pixels.
func (c ColorImage) Width() int { return c.plane.Width }

// Height returns the image height in pixels.
func (c ColorImage) Height() int { return c.plane.Height }

// At returns the colour at (x, y). The caller must check bounds.
func (c ColorImage) At(x, y int) color.RGBA {
	o := c.plane.offset(x, y)
	px := c.plane.Data[o : o+4]
	return color.RGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
}
