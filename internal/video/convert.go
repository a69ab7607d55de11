package video

import (
	"image"
	"image/color"
)

func clamp8(v int) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// NV21ToRGBA converts BT.601 limited range NV21 into 4-byte RGBA pixels.
// dst must hold width*height*4 bytes. The chroma rows of yuv are
// 2*((width+1)/2) bytes wide.
func NV21ToRGBA(dst []byte, yuv []byte, width, height int) {
	frameSize := width * height
	chromaStride := 2 * ((width + 1) / 2)

	a := 0
	for i := 0; i < height; i++ {
		for j := 0; j < width; j++ {
			y := int(yuv[i*width+j])
			c := frameSize + (i>>1)*chromaStride + (j &^ 1)
			v := int(yuv[c])
			u := int(yuv[c+1])
			if y < 16 {
				y = 16
			}

			r := int(1.164*float32(y-16) + 1.596*float32(v-128))
			g := int(1.164*float32(y-16) - 0.813*float32(v-128) - 0.391*float32(u-128))
			b := int(1.164*float32(y-16) + 2.018*float32(u-128))

			dst[a] = clamp8(r)
			dst[a+1] = clamp8(g)
			dst[a+2] = clamp8(b)
			dst[a+3] = 0xff
			a += 4
		}
	}
}

func rgbToY(r, g, b int) uint8 {
	return clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
}

func rgbToU(r, g, b int) uint8 {
	return clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
}

func rgbToV(r, g, b int) uint8 {
	return clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
}

// I420FromImage converts img into a tightly packed BT.601 limited range I420
// buffer. Chroma is the average of each 2x2 block. Alpha is ignored.
func I420FromImage(img image.Image) *I420Buffer {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	buf := NewI420Buffer(w, h)

	px := pixelReader(img)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b := px(x, y)
			buf.Y[y*buf.StrideY+x] = rgbToY(r, g, b)
		}
	}

	for cy := 0; cy < buf.ChromaHeight(); cy++ {
		for cx := 0; cx < buf.ChromaWidth(); cx++ {
			var sr, sg, sb, n int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					x, y := 2*cx+dx, 2*cy+dy
					if x >= w || y >= h {
						continue
					}
					r, g, b := px(x, y)
					sr, sg, sb, n = sr+r, sg+g, sb+b, n+1
				}
			}
			r, g, b := sr/n, sg/n, sb/n
			buf.U[cy*buf.StrideU+cx] = rgbToU(r, g, b)
			buf.V[cy*buf.StrideV+cx] = rgbToV(r, g, b)
		}
	}
	return buf
}

// pixelReader returns an 8-bit RGB accessor relative to the image origin,
// reading Pix directly for the two layouts the pipeline produces.
func pixelReader(img image.Image) func(x, y int) (int, int, int) {
	origin := img.Bounds().Min
	switch m := img.(type) {
	case *image.RGBA:
		return func(x, y int) (int, int, int) {
			i := m.PixOffset(origin.X+x, origin.Y+y)
			return int(m.Pix[i]), int(m.Pix[i+1]), int(m.Pix[i+2])
		}
	case *image.NRGBA:
		return func(x, y int) (int, int, int) {
			i := m.PixOffset(origin.X+x, origin.Y+y)
			return int(m.Pix[i]), int(m.Pix[i+1]), int(m.Pix[i+2])
		}
	default:
		return func(x, y int) (int, int, int) {
			c := color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
			return int(c.R), int(c.G), int(c.B)
		}
	}
}
