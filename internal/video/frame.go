package video

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidDimensions is returned for non-positive frame sizes.
	ErrInvalidDimensions = errors.New("video: invalid frame dimensions")

	// ErrShortPlane is returned when a plane is smaller than its stride and height require.
	ErrShortPlane = errors.New("video: plane buffer too small")
)

// Rotation is the clockwise rotation, in degrees, a renderer has to apply to
// show a frame upright.
type Rotation int

const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// NormalizeRotation maps any multiple of 90 degrees, negative values included,
// onto 0/90/180/270. Other angles map to Rotation0.
func NormalizeRotation(degrees int) Rotation {
	d := ((degrees % 360) + 360) % 360
	switch d {
	case 90, 180, 270:
		return Rotation(d)
	default:
		return Rotation0
	}
}

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// I420Buffer holds planar YUV 4:2:0 pixel data.
type I420Buffer struct {
	Width   int
	Height  int
	StrideY int
	StrideU int
	StrideV int
	Y       []byte
	U       []byte
	V       []byte
}

// NewI420Buffer allocates a tightly packed buffer.
func NewI420Buffer(width, height int) *I420Buffer {
	cw, ch := (width+1)/2, (height+1)/2
	return &I420Buffer{
		Width:   width,
		Height:  height,
		StrideY: width,
		StrideU: cw,
		StrideV: cw,
		Y:       make([]byte, width*height),
		U:       make([]byte, cw*ch),
		V:       make([]byte, cw*ch),
	}
}

// ChromaWidth returns the width of the U and V planes.
func (b *I420Buffer) ChromaWidth() int { return (b.Width + 1) / 2 }

// ChromaHeight returns the height of the U and V planes.
func (b *I420Buffer) ChromaHeight() int { return (b.Height + 1) / 2 }

// Validate checks dimensions, strides and plane sizes.
func (b *I420Buffer) Validate() error {
	if b.Width <= 0 || b.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, b.Width, b.Height)
	}
	cw, ch := b.ChromaWidth(), b.ChromaHeight()
	if err := checkPlane("Y", b.Y, b.StrideY, b.Width, b.Height); err != nil {
		return err
	}
	if err := checkPlane("U", b.U, b.StrideU, cw, ch); err != nil {
		return err
	}
	return checkPlane("V", b.V, b.StrideV, cw, ch)
}

func checkPlane(name string, plane []byte, stride, width, rows int) error {
	if stride < width {
		return fmt.Errorf("%w: %s stride %d < width %d", ErrShortPlane, name, stride, width)
	}
	if need := stride*(rows-1) + width; len(plane) < need {
		return fmt.Errorf("%w: %s has %d bytes, need %d", ErrShortPlane, name, len(plane), need)
	}
	return nil
}

// Clone returns a tightly packed deep copy.
func (b *I420Buffer) Clone() *I420Buffer {
	out := NewI420Buffer(b.Width, b.Height)
	copyPlane(out.Y, out.StrideY, b.Y, b.StrideY, b.Width, b.Height)
	copyPlane(out.U, out.StrideU, b.U, b.StrideU, b.ChromaWidth(), b.ChromaHeight())
	copyPlane(out.V, out.StrideV, b.V, b.StrideV, b.ChromaWidth(), b.ChromaHeight())
	return out
}

func copyPlane(dst []byte, dstStride int, src []byte, srcStride int, width, rows int) {
	for y := 0; y < rows; y++ {
		copy(dst[y*dstStride:y*dstStride+width], src[y*srcStride:y*srcStride+width])
	}
}

// Frame is a captured video frame as delivered by a capturer.
type Frame struct {
	Buffer      *I420Buffer
	Rotation    Rotation
	TimestampNs int64
}

// NewFrame wraps buffer into a frame.
func NewFrame(buffer *I420Buffer, rotation Rotation, timestampNs int64) *Frame {
	return &Frame{Buffer: buffer, Rotation: rotation, TimestampNs: timestampNs}
}

// Width returns the buffer width, or 0 for a frame without buffer.
func (f *Frame) Width() int {
	if f.Buffer == nil {
		return 0
	}
	return f.Buffer.Width
}

// Height returns the buffer height, or 0 for a frame without buffer.
func (f *Frame) Height() int {
	if f.Buffer == nil {
		return 0
	}
	return f.Buffer.Height
}

// Timestamp returns the capture timestamp as a duration.
func (f *Frame) Timestamp() time.Duration {
	return time.Duration(f.TimestampNs)
}

// Clone deep copies the frame.
func (f *Frame) Clone() *Frame {
	out := *f
	if f.Buffer != nil {
		out.Buffer = f.Buffer.Clone()
	}
	return &out
}

// EncodedFrame is the output of a video encoder.
type EncodedFrame struct {
	Data      []byte
	Timestamp time.Duration
	Duration  time.Duration
	KeyFrame  bool
	Codec     string
}
