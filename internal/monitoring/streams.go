package monitoring

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Streams holds the writers for the three logging streams:
//
//   - Ops: actionable warnings (buffer saturation, acquisition failures)
//   - Diag: per-frame summaries and tuning context
//   - Trace: per-sample telemetry
//
// A nil writer disables that stream.
type Streams struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// LogSetter is the SetLogWriters function exported by each logging package.
type LogSetter func(ops, diag, trace io.Writer)

// Apply configures every package setter with s.
func (s Streams) Apply(setters ...LogSetter) {
	for _, set := range setters {
		set(s.Ops, s.Diag, s.Trace)
	}
}

// Level selects which streams are enabled.
type Level int

const (
	LevelOps Level = iota
	LevelDiag
	LevelTrace
)

// ParseLevel parses "ops", "diag" or "trace".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ops", "":
		return LevelOps, nil
	case "diag":
		return LevelDiag, nil
	case "trace":
		return LevelTrace, nil
	default:
		return LevelOps, fmt.Errorf("unknown log level %q (want ops, diag or trace)", s)
	}
}

// NewStreams routes the streams enabled by level to w. Ops always goes to
// ops, which may differ from w (for example a rotating file).
func NewStreams(level Level, ops, w io.Writer) Streams {
	s := Streams{Ops: ops}
	if level >= LevelDiag {
		s.Diag = w
	}
	if level >= LevelTrace {
		s.Trace = w
	}
	return s
}

// RotatingFile returns a size-rotated log file. maxSizeMB and maxBackups
// fall back to 50 MB and 5 files when non-positive.
func RotatingFile(path string, maxSizeMB, maxBackups int) io.WriteCloser {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 5
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
}
