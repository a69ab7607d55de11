package video

import "fmt"

// PlaneLayout describes how an I420 image is laid out in one contiguous byte slice.
type PlaneLayout struct {
	StrideY  int
	StrideUV int
	OffsetU  int
	OffsetV  int
	Size     int
}

func roundUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// PackedI420Layout is the layout without any row padding.
func PackedI420Layout(width, height int) PlaneLayout {
	cw, ch := (width+1)/2, (height+1)/2
	return PlaneLayout{
		StrideY:  width,
		StrideUV: cw,
		OffsetU:  width * height,
		OffsetV:  width*height + cw*ch,
		Size:     width*height + 2*cw*ch,
	}
}

// GStreamerI420Layout is the default layout of video/x-raw,format=I420
// buffers: rows padded to 4 bytes, plane heights rounded up to even.
func GStreamerI420Layout(width, height int) PlaneLayout {
	strideY := roundUp(width, 4)
	strideUV := roundUp(roundUp(width, 2)/2, 4)
	h2 := roundUp(height, 2)
	offsetU := strideY * h2
	offsetV := offsetU + strideUV*(h2/2)
	return PlaneLayout{
		StrideY:  strideY,
		StrideUV: strideUV,
		OffsetU:  offsetU,
		OffsetV:  offsetV,
		Size:     offsetV + strideUV*(h2/2),
	}
}

// WrapI420 creates a buffer whose planes alias data.
func WrapI420(data []byte, width, height int, layout PlaneLayout) (*I420Buffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if len(data) < layout.Size {
		return nil, fmt.Errorf("%w: got %d bytes, layout needs %d", ErrShortPlane, len(data), layout.Size)
	}
	buf := &I420Buffer{
		Width:   width,
		Height:  height,
		StrideY: layout.StrideY,
		StrideU: layout.StrideUV,
		StrideV: layout.StrideUV,
		Y:       data[:layout.OffsetU],
		U:       data[layout.OffsetU:layout.OffsetV],
		V:       data[layout.OffsetV:layout.Size],
	}
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Pack copies the planes into a new slice using layout.
func (b *I420Buffer) Pack(layout PlaneLayout) []byte {
	out := make([]byte, layout.Size)
	cw, ch := b.ChromaWidth(), b.ChromaHeight()
	copyPlane(out[:layout.OffsetU], layout.StrideY, b.Y, b.StrideY, b.Width, b.Height)
	copyPlane(out[layout.OffsetU:layout.OffsetV], layout.StrideUV, b.U, b.StrideU, cw, ch)
	copyPlane(out[layout.OffsetV:], layout.StrideUV, b.V, b.StrideV, cw, ch)
	return out
}
