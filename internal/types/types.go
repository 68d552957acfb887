package types

import "errors"

// ErrFrameRejected marks a frame the embedder could not analyse (decode failure,
// unsupported format). Callers treat it as a frame with no faces.
var ErrFrameRejected = errors.New("frame rejected by embedder")

// FrameTask represents a single captured frame queued for an engine.
type FrameTask struct {
	Seq     uint64
	Data    []byte
	Process bool
}

// Box is a face location in the detector's coordinate space.
type Box struct {
	Top    int
	Right  int
	Bottom int
	Left   int
}

// Scale maps the box from detector space into a frame scaled by factor.
func (b Box) Scale(factor float64) Box {
	return Box{
		Top:    scaleCoord(b.Top, factor),
		Right:  scaleCoord(b.Right, factor),
		Bottom: scaleCoord(b.Bottom, factor),
		Left:   scaleCoord(b.Left, factor),
	}
}

// Area is used to pick the dominant face when several are found.
func (b Box) Area() int {
	w, h := b.Right-b.Left, b.Bottom-b.Top
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

func scaleCoord(v int, factor float64) int {
	f := float64(v) * factor
	if f < 0 {
		return int(f - 0.5)
	}
	return int(f + 0.5)
}

// FaceResult is one detected face as reported by the embedder.
type FaceResult struct {
	Loc Box       // [top, right, bottom, left]
	Vec []float64 // 128-d face encoding
}
