package video

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNV21InterleavesVBeforeU(t *testing.T) {
	b := NewI420Buffer(2, 2)
	fillI420(b, 50, 10, 20)

	nv := NewNV21Frame(NewFrame(b, Rotation0, 1))
	data := nv.Bytes()
	require.Len(t, data, 6)
	assert.Equal(t, []byte{50, 50, 50, 50, 20, 10}, data)
}

func TestNV21FrameReusesBuffer(t *testing.T) {
	b := NewI420Buffer(4, 4)
	nv := NewNV21Frame(NewFrame(b, Rotation0, 1))
	first := &nv.data[0]

	nv.FromFrame(NewFrame(b, Rotation180, 2), 42)
	assert.Same(t, first, &nv.data[0])
	assert.Equal(t, Rotation180, nv.Rotation())
	assert.Equal(t, int64(42), nv.TimestampNs())
}

func TestNV21FrameNilAndDispose(t *testing.T) {
	nv := NewNV21Frame(nil)
	assert.Nil(t, nv.RGBA())

	nv.FromFrame(NewFrame(NewI420Buffer(2, 2), Rotation0, 0), 0)
	require.NotNil(t, nv.RGBA())

	nv.Dispose()
	assert.Nil(t, nv.Bytes())
	assert.Nil(t, nv.RGBA())
	assert.Nil(t, nv.Oriented())
}

func TestNV21ToRGBAGrey(t *testing.T) {
	b := NewI420Buffer(2, 2)
	fillI420(b, 128, 128, 128)

	img := NewNV21Frame(NewFrame(b, Rotation0, 0)).RGBA()
	require.NotNil(t, img)
	assert.Equal(t, color.RGBA{R: 130, G: 130, B: 130, A: 255}, img.RGBAAt(1, 1))
}

func TestNV21ToRGBAClampsLuma(t *testing.T) {
	b := NewI420Buffer(2, 2)
	fillI420(b, 0, 128, 128)

	img := NewNV21Frame(NewFrame(b, Rotation0, 0)).RGBA()
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(0, 0))
}

func TestNV21OddWidth(t *testing.T) {
	b := NewI420Buffer(3, 3)
	fillI420(b, 128, 128, 128)

	nv := NewNV21Frame(NewFrame(b, Rotation0, 0))
	assert.Len(t, nv.Bytes(), 9+4*2)
	img := nv.RGBA()
	assert.Equal(t, uint8(130), img.RGBAAt(2, 2).R)
}

func TestOrientedMirrorsAndRotates(t *testing.T) {
	b := NewI420Buffer(2, 2)
	fillI420(b, 16, 128, 128)
	b.Y[1] = 235
	b.Y[3] = 235

	img := NewNV21Frame(NewFrame(b, Rotation0, 0)).Oriented()
	require.NotNil(t, img)
	assert.Equal(t, uint8(254), img.NRGBAAt(0, 0).R)
	assert.Equal(t, uint8(0), img.NRGBAAt(1, 0).R)

	wide := NewI420Buffer(4, 2)
	img = NewNV21Frame(NewFrame(wide, Rotation90, 0)).Oriented()
	assert.Equal(t, image.Rect(0, 0, 2, 4), img.Bounds())
}

func TestI420FromImageRoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 3))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 130, 130, 130, 255
	}

	buf := I420FromImage(img)
	require.NoError(t, buf.Validate())
	assert.Equal(t, byte(128), buf.Y[0])
	assert.Equal(t, byte(128), buf.U[0])
	assert.Equal(t, byte(128), buf.V[3])
}

func TestI420FromImagePureRed(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 255, 255
	}

	buf := I420FromImage(img)
	assert.Equal(t, byte(82), buf.Y[0])
	assert.Equal(t, byte(90), buf.U[0])
	assert.Equal(t, byte(240), buf.V[0])
}

func TestI420FromGenericImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 2))
	buf := I420FromImage(img)
	assert.Equal(t, byte(16), buf.Y[0])
}
