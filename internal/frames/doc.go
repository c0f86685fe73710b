// Package frames describes the sensor inputs consumed by the admission
// pipeline: typed, bounds-checked views over raw image planes and the
// frame source contract used to acquire them.
//
// Image planes carry their geometry (width, height, bytes per pixel and row
// stride) alongside the raw bytes so that no caller reinterprets memory
// without a bounds check.
package frames
