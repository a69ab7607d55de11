package video

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillI420(b *I420Buffer, y, u, v byte) {
	for i := range b.Y {
		b.Y[i] = y
	}
	for i := range b.U {
		b.U[i] = u
	}
	for i := range b.V {
		b.V[i] = v
	}
}

func TestNormalizeRotation(t *testing.T) {
	tests := []struct {
		in   int
		want Rotation
	}{
		{0, Rotation0},
		{90, Rotation90},
		{-270, Rotation90},
		{180, Rotation180},
		{-180, Rotation180},
		{270, Rotation270},
		{-90, Rotation270},
		{450, Rotation90},
		{45, Rotation0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeRotation(tt.in), "degrees=%d", tt.in)
	}
	assert.False(t, Rotation(45).Valid())
	assert.True(t, Rotation270.Valid())
}

func TestNewI420BufferOddSize(t *testing.T) {
	b := NewI420Buffer(5, 3)
	assert.Equal(t, 3, b.ChromaWidth())
	assert.Equal(t, 2, b.ChromaHeight())
	assert.Len(t, b.Y, 15)
	assert.Len(t, b.U, 6)
	assert.Len(t, b.V, 6)
	assert.NoError(t, b.Validate())
}

func TestI420BufferValidate(t *testing.T) {
	b := NewI420Buffer(4, 4)
	b.U = b.U[:2]
	assert.ErrorIs(t, b.Validate(), ErrShortPlane)

	b = NewI420Buffer(4, 4)
	b.StrideY = 2
	assert.ErrorIs(t, b.Validate(), ErrShortPlane)

	assert.ErrorIs(t, (&I420Buffer{}).Validate(), ErrInvalidDimensions)
}

func TestFrameClone(t *testing.T) {
	b := NewI420Buffer(4, 2)
	fillI420(b, 1, 2, 3)
	f := NewFrame(b, Rotation90, int64(33*time.Millisecond))

	c := f.Clone()
	c.Buffer.Y[0] = 99

	assert.Equal(t, byte(1), f.Buffer.Y[0])
	assert.Equal(t, Rotation90, c.Rotation)
	assert.Equal(t, 33*time.Millisecond, c.Timestamp())
	assert.Equal(t, 4, c.Width())
	assert.Equal(t, 2, c.Height())
}

func TestFrameWithoutBuffer(t *testing.T) {
	f := &Frame{}
	assert.Zero(t, f.Width())
	assert.Zero(t, f.Height())
	assert.Nil(t, f.Clone().Buffer)
}

func TestGStreamerI420Layout(t *testing.T) {
	l := GStreamerI420Layout(6, 3)
	assert.Equal(t, 8, l.StrideY)
	assert.Equal(t, 4, l.StrideUV)
	assert.Equal(t, 32, l.OffsetU)
	assert.Equal(t, 40, l.OffsetV)
	assert.Equal(t, 48, l.Size)

	packed := PackedI420Layout(4, 2)
	assert.Equal(t, 8, packed.OffsetU)
	assert.Equal(t, 10, packed.OffsetV)
	assert.Equal(t, 12, packed.Size)
}

func TestWrapAndPackRoundTrip(t *testing.T) {
	src := NewI420Buffer(6, 3)
	for i := range src.Y {
		src.Y[i] = byte(i)
	}
	for i := range src.U {
		src.U[i] = byte(100 + i)
		src.V[i] = byte(200 + i)
	}

	layout := GStreamerI420Layout(6, 3)
	data := src.Pack(layout)
	require.Len(t, data, layout.Size)

	wrapped, err := WrapI420(data, 6, 3, layout)
	require.NoError(t, err)
	assert.Equal(t, src.Y[7], wrapped.Y[1*wrapped.StrideY+1])
	assert.Equal(t, src.U[4], wrapped.U[1*wrapped.StrideU+1])
	assert.Equal(t, src.V[5], wrapped.V[1*wrapped.StrideV+2])

	_, err = WrapI420(data[:10], 6, 3, layout)
	assert.ErrorIs(t, err, ErrShortPlane)
}
