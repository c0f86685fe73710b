package stream

import (
	"errors"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

func sampleFrame(n int) *DeltaFrame {
	f := &DeltaFrame{
		Seq:            42,
		Kind:           KindDelta,
		CloudID:        uuid.MustParse("6f1c2d3e-4a5b-4c6d-8e7f-901a2b3c4d5e"),
		TimestampNanos: 1_760_000_000_000_000_000,
		Capacity:       1000,
		Start:          17,
	}
	for i := 0; i < n; i++ {
		v := float32(i)
		f.Positions = append(f.Positions, [3]float32{v, -v / 2, v * 1.5})
		f.Colors = append(f.Colors, color.RGBA{R: uint8(i), G: 128, B: 255 - uint8(i), A: 255})
		f.Confidences = append(f.Confidences, 0.5)
	}
	return f
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	for _, n := range []int{0, 1, 500} {
		want := sampleFrame(n)
		b, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode(%d points): %v", n, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode(%d points): %v", n, err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("%d points: round trip mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestEncode_Compresses(t *testing.T) {
	t.Parallel()

	b, err := Encode(sampleFrame(2000))
	if err != nil {
		t.Fatal(err)
	}
	if raw := headerSize + 2000*pointSize; len(b) >= raw {
		t.Errorf("encoded %d bytes, want fewer than the raw %d", len(b), raw)
	}
}

func TestEncode_MismatchedLengths(t *testing.T) {
	t.Parallel()

	f := sampleFrame(3)
	f.Confidences = f.Confidences[:2]
	if _, err := Encode(f); err == nil {
		t.Error("expected error for mismatched attribute lengths")
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()

	good, err := Encode(sampleFrame(2))
	if err != nil {
		t.Fatal(err)
	}
	raw, err := zstdDecoder().DecodeAll(good, nil)
	if err != nil {
		t.Fatal(err)
	}
	badMagic := append([]byte("XXXX"), raw[4:]...)
	truncated := raw[:len(raw)-3]

	tests := []struct {
		name  string
		input []byte
	}{
		{"not zstd", []byte("definitely not a frame")},
		{"short", enc.EncodeAll([]byte("DCF1"), nil)},
		{"bad magic", enc.EncodeAll(badMagic, nil)},
		{"truncated points", enc.EncodeAll(truncated, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.input); !errors.Is(err, ErrBadFrame) {
				t.Errorf("Decode() error = %v, want ErrBadFrame", err)
			}
		})
	}
}

func TestFrameKind_String(t *testing.T) {
	t.Parallel()

	for k, want := range map[FrameKind]string{
		KindDelta:     "delta",
		KindReset:     "reset",
		KindSnapshot:  "snapshot",
		KindRemoved:   "removed",
		FrameKind(99): "kind(99)",
	} {
		if got := k.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", uint8(k), got, want)
		}
	}
}
