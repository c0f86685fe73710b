// Package stream publishes point-cloud deltas to remote observers over
// gRPC and websockets. Each delta travels as a DeltaFrame: a little-endian
// binary record compressed with zstd.
package stream

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/banshee-data/densecloud/internal/cloud"
)

// FrameKind says how a receiver applies a frame.
type FrameKind uint8

const (
	// KindDelta carries points appended at Start.
	KindDelta FrameKind = iota + 1
	// KindReset announces that the cloud was emptied.
	KindReset
	// KindSnapshot carries the whole cloud from index 0.
	KindSnapshot
	// KindRemoved announces that the cloud was destroyed.
	KindRemoved
)

func (k FrameKind) String() string {
	switch k {
	case KindDelta:
		return "delta"
	case KindReset:
		return "reset"
	case KindSnapshot:
		return "snapshot"
	case KindRemoved:
		return "removed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// DeltaFrame is one published change to a cloud. Point i of the frame
// lands at index Start+i of the receiver's copy.
type DeltaFrame struct {
	Seq            uint64
	Kind           FrameKind
	CloudID        uuid.UUID
	TimestampNanos int64
	Capacity       uint32
	Start          uint32
	Positions      [][3]float32
	Colors         []color.RGBA
	Confidences    []float32
}

// Len returns the number of points carried.
func (f *DeltaFrame) Len() int { return len(f.Positions) }

// frameFromSlice converts a buffer snapshot into a frame.
func frameFromSlice(kind FrameKind, id uuid.UUID, capacity int, s cloud.Slice) *DeltaFrame {
	f := &DeltaFrame{
		Kind:        kind,
		CloudID:     id,
		Capacity:    uint32(capacity),
		Start:       uint32(s.Start),
		Positions:   make([][3]float32, s.Len()),
		Colors:      s.Colors,
		Confidences: s.Confidences,
	}
	for i, p := range s.Points {
		f.Positions[i] = [3]float32{float32(p.X), float32(p.Y), float32(p.Z)}
	}
	return f
}

var frameMagic = [4]byte{'D', 'C', 'F', '1'}

const (
	headerSize = 4 + 1 + 8 + 16 + 8 + 4 + 4 + 4
	pointSize  = 3*4 + 4 + 4

	// maxFramePoints bounds decoder allocations.
	maxFramePoints = 1 << 24
)

var (
	// ErrBadFrame is returned for frames that fail to decode.
	ErrBadFrame = errors.New("stream: malformed frame")

	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// A nil writer with valid options cannot fail.
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(headerSize+maxFramePoints*pointSize)))
	})
	return decoder
}

// Encode serialises f and compresses it.
func Encode(f *DeltaFrame) ([]byte, error) {
	n := f.Len()
	if len(f.Colors) != n || len(f.Confidences) != n {
		return nil, fmt.Errorf("encode frame: %d positions, %d colors, %d confidences", n, len(f.Colors), len(f.Confidences))
	}
	if n > maxFramePoints {
		return nil, fmt.Errorf("encode frame: %d points exceeds %d", n, maxFramePoints)
	}

	raw := make([]byte, headerSize+n*pointSize)
	copy(raw, frameMagic[:])
	raw[4] = byte(f.Kind)
	le := binary.LittleEndian
	le.PutUint64(raw[5:], f.Seq)
	copy(raw[13:29], f.CloudID[:])
	le.PutUint64(raw[29:], uint64(f.TimestampNanos))
	le.PutUint32(raw[37:], f.Capacity)
	le.PutUint32(raw[41:], f.Start)
	le.PutUint32(raw[45:], uint32(n))

	off := headerSize
	for i := 0; i < n; i++ {
		p := f.Positions[i]
		le.PutUint32(raw[off:], math.Float32bits(p[0]))
		le.PutUint32(raw[off+4:], math.Float32bits(p[1]))
		le.PutUint32(raw[off+8:], math.Float32bits(p[2]))
		c := f.Colors[i]
		raw[off+12], raw[off+13], raw[off+14], raw[off+15] = c.R, c.G, c.B, c.A
		le.PutUint32(raw[off+16:], math.Float32bits(f.Confidences[i]))
		off += pointSize
	}
	return zstdEncoder().EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode decompresses and parses a frame produced by Encode.
func Decode(b []byte) (*DeltaFrame, error) {
	raw, err := zstdDecoder().DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	if len(raw) < headerSize || !bytes.Equal(raw[:4], frameMagic[:]) {
		return nil, fmt.Errorf("%w: bad header", ErrBadFrame)
	}

	le := binary.LittleEndian
	f := &DeltaFrame{
		Kind:           FrameKind(raw[4]),
		Seq:            le.Uint64(raw[5:]),
		TimestampNanos: int64(le.Uint64(raw[29:])),
		Capacity:       le.Uint32(raw[37:]),
		Start:          le.Uint32(raw[41:]),
	}
	copy(f.CloudID[:], raw[13:29])
	n := int(le.Uint32(raw[45:]))
	if n > maxFramePoints || len(raw) != headerSize+n*pointSize {
		return nil, fmt.Errorf("%w: %d points in %d bytes", ErrBadFrame, n, len(raw))
	}

	f.Positions = make([][3]float32, n)
	f.Colors = make([]color.RGBA, n)
	f.Confidences = make([]float32, n)
	off := headerSize
	for i := 0; i < n; i++ {
		f.Positions[i] = [3]float32{
			math.Float32frombits(le.Uint32(raw[off:])),
			math.Float32frombits(le.Uint32(raw[off+4:])),
			math.Float32frombits(le.Uint32(raw[off+8:])),
		}
		f.Colors[i] = color.RGBA{R: raw[off+12], G: raw[off+13], B: raw[off+14], A: raw[off+15]}
		f.Confidences[i] = math.Float32frombits(le.Uint32(raw[off+16:]))
		off += pointSize
	}
	return f, nil
}
