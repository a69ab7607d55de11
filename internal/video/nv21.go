package video

import (
	"image"
	"sync"

	"github.com/disintegration/imaging"
)

// NV21Frame is a CPU copy of a frame in NV21 layout: the full luma plane
// followed by interleaved V/U samples. It is what the segmentation stage works
// on, so it is safe to read from one goroutine while another refills it.
type NV21Frame struct {
	mu          sync.Mutex
	width       int
	height      int
	data        []byte
	rotation    Rotation
	timestampNs int64
}

// NewNV21Frame copies frame into a new NV21Frame.
func NewNV21Frame(frame *Frame) *NV21Frame {
	f := &NV21Frame{}
	if frame != nil {
		f.FromFrame(frame, frame.TimestampNs)
	}
	return f
}

// FromFrame refills f from frame. The backing slice is reused when the frame
// size does not change. A nil frame leaves f untouched.
func (f *NV21Frame) FromFrame(frame *Frame, timestampNs int64) {
	if frame == nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.timestampNs = timestampNs
	f.rotation = frame.Rotation
	if frame.Buffer == nil || frame.Buffer.Validate() != nil {
		f.data = nil
		return
	}
	f.copyPlanes(frame.Buffer)
}

func (f *NV21Frame) copyPlanes(b *I420Buffer) {
	f.width = b.Width
	f.height = b.Height

	size := b.Width * b.Height
	cw, ch := b.ChromaWidth(), b.ChromaHeight()
	chromaStride := 2 * cw
	nv21Size := size + chromaStride*ch

	if len(f.data) != nv21Size {
		f.data = make([]byte, nv21Size)
	}

	copyPlane(f.data[:size], b.Width, b.Y, b.StrideY, b.Width, b.Height)

	for y := 0; y < ch; y++ {
		row := f.data[size+y*chromaStride:]
		for x := 0; x < cw; x++ {
			row[2*x] = b.V[y*b.StrideV+x]
			row[2*x+1] = b.U[y*b.StrideU+x]
		}
	}
}

// Dispose drops the pixel data.
func (f *NV21Frame) Dispose() {
	f.mu.Lock()
	f.data = nil
	f.mu.Unlock()
}

// Width returns the luma width.
func (f *NV21Frame) Width() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.width
}

// Height returns the luma height.
func (f *NV21Frame) Height() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height
}

// Rotation returns the rotation of the source frame.
func (f *NV21Frame) Rotation() Rotation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rotation
}

// TimestampNs returns the timestamp recorded by FromFrame.
func (f *NV21Frame) TimestampNs() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.timestampNs
}

// Bytes returns a copy of the NV21 data, nil after Dispose.
func (f *NV21Frame) Bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		return nil
	}
	out := make([]byte, len(f.data))
	copy(out, f.data)
	return out
}

// RGBA converts the frame to RGBA in buffer orientation. It returns nil after
// Dispose or when the source frame had no usable buffer.
func (f *NV21Frame) RGBA() *image.RGBA {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.data == nil {
		return nil
	}
	img := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
	NV21ToRGBA(img.Pix, f.data, f.width, f.height)
	return img
}

// Oriented converts the frame to RGBA and applies the mirror and rotation a
// front-facing preview expects for the recorded rotation.
func (f *NV21Frame) Oriented() *image.NRGBA {
	img := f.RGBA()
	if img == nil {
		return nil
	}

	switch f.Rotation() {
	case Rotation90:
		return imaging.Rotate270(imaging.FlipH(img))
	case Rotation180:
		return imaging.Rotate180(imaging.FlipH(img))
	case Rotation270:
		return imaging.Rotate90(imaging.FlipV(img))
	default:
		return imaging.FlipH(img)
	}
}
