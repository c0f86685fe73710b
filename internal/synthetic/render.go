package synthetic

import (
	"image"
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/banshee-data/densecloud/internal/frames"
)

const tileSize = 0.5 // metres

var colorfulBlack = colorful.Color{}

// hit is where a ray from the camera meets the room.
type hit struct {
	t      float64 // distance along the camera's forward axis
	face   int     // index into faceHex
	point  r3.Vector
	normal r3.Vector
}

// ray returns the direction through screen point (sx, sy), scaled so its
// forward component is 1.
func (s *Scene) ray(sx, sy float64) r3.Vector {
	pose := s.cam.Pose()
	w, h := float64(s.cfg.ScreenWidth), float64(s.cfg.ScreenHeight)
	tanHalf := math.Tan(s.cfg.FieldOfView * math.Pi / 360)
	ndcX := 2*sx/w - 1
	ndcY := 2*sy/h - 1
	return pose.Forward().
		Add(pose.Right().Mul(ndcX * tanHalf * w / h)).
		Add(pose.Up().Mul(ndcY * tanHalf))
}

// cast intersects a ray from inside the room with its walls.
func (s *Scene) cast(origin, d r3.Vector) hit {
	best := hit{t: math.Inf(1)}
	try := func(t float64, face int, normal r3.Vector) {
		if t > 0 && t < best.t {
			best = hit{t: t, face: face, normal: normal}
		}
	}
	hw, hd := s.cfg.RoomHalfWidth, s.cfg.RoomHalfDepth
	switch {
	case d.X > 0:
		try((hw-origin.X)/d.X, 1, r3.Vector{X: -1})
	case d.X < 0:
		try((-hw-origin.X)/d.X, 0, r3.Vector{X: 1})
	}
	switch {
	case d.Y > 0:
		try((s.cfg.RoomHeight-origin.Y)/d.Y, 3, r3.Vector{Y: -1})
	case d.Y < 0:
		try(-origin.Y/d.Y, 2, r3.Vector{Y: 1})
	}
	switch {
	case d.Z > 0:
		try((hd-origin.Z)/d.Z, 5, r3.Vector{Z: -1})
	case d.Z < 0:
		try((-hd-origin.Z)/d.Z, 4, r3.Vector{Z: 1})
	}
	best.point = origin.Add(d.Mul(best.t))
	return best
}

// shade returns the checker-tiled face colour at h.
func (s *Scene) shade(h hit) color.RGBA {
	var u, v float64
	switch h.face {
	case 0, 1:
		u, v = h.point.Y, h.point.Z
	case 2, 3:
		u, v = h.point.X, h.point.Z
	default:
		u, v = h.point.X, h.point.Y
	}
	c := s.faces[h.face]
	if (int(math.Floor(u/tileSize))+int(math.Floor(v/tileSize)))%2 != 0 {
		c = c.BlendRgb(colorfulBlack, 0.25)
	}
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// confidenceCode grades a hit by incidence angle and range.
func (s *Scene) confidenceCode(d r3.Vector, h hit) uint8 {
	cos := math.Abs(d.Normalize().Dot(h.normal))
	level := frames.ConfidenceLow
	switch {
	case cos >= 0.6:
		level = frames.ConfidenceHigh
	case cos >= 0.3:
		level = frames.ConfidenceMedium
	}
	if h.t > 0.7*float64(s.cfg.MaxDepth) && level > frames.ConfidenceLow {
		level--
	}
	return uint8(level)
}

// renderLocked produces the depth, confidence and camera planes for the
// current pose. Depth pixel (x, y) samples screen point
// (W·x/w, H·(1−y/h)), the mapping admission uses to unproject it.
func (s *Scene) renderLocked() (*render, error) {
	w, h := s.cfg.DepthWidth, s.cfg.DepthHeight
	depth, err := frames.NewDepthImage(frames.NewPlane(w, h, 4))
	if err != nil {
		return nil, err
	}
	conf, err := frames.NewConfidenceImage(frames.NewPlane(w, h, 1))
	if err != nil {
		return nil, err
	}

	origin := s.cam.Pose().Position
	sw, sh := float64(s.cfg.ScreenWidth), float64(s.cfg.ScreenHeight)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := s.ray(sw*float64(x)/float64(w), sh*(1-float64(y)/float64(h)))
			hh := s.cast(origin, d)
			t := hh.t
			if s.cfg.NoiseStdDev > 0 {
				t += s.rng.NormFloat64() * s.cfg.NoiseStdDev
			}
			if math.IsInf(hh.t, 1) || t > float64(s.cfg.MaxDepth) {
				depth.Set(x, y, 0)
				conf.Set(x, y, uint8(frames.ConfidenceLow))
				continue
			}
			depth.Set(x, y, float32(t))
			conf.Set(x, y, s.confidenceCode(d, hh))
		}
	}

	k := s.cfg.CameraScale
	iw, ih := w*k, h*k
	img := image.NewRGBA(image.Rect(0, 0, iw, ih))
	for y := 0; y < ih; y++ {
		for x := 0; x < iw; x++ {
			d := s.ray(sw*float64(x)/float64(iw), sh*(1-float64(y)/float64(ih)))
			img.SetRGBA(x, y, s.shade(s.cast(origin, d)))
		}
	}
	return &render{depth: depth, conf: conf, image: img}, nil
}
