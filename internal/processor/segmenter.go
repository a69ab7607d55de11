package processor

import (
	"fmt"
	"image"
	"math"
	"sync"
)

// Mask holds per-pixel foreground confidence in [0, 1], row major.
type Mask struct {
	Width      int
	Height     int
	Confidence []float32
}

// NewMask allocates an all-background mask.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Confidence: make([]float32, width*height)}
}

// MaskAlpha maps a background likelihood to the alpha the replacement
// background is drawn with. Values above 0.9 are fully replaced, values at or
// below 0.2 keep the original pixel, and the band between ramps linearly.
func MaskAlpha(likelihood float32) uint8 {
	switch {
	case likelihood > 0.9:
		return 255
	case likelihood > 0.2:
		return uint8(int(182.9*float64(likelihood) - 36.6 + 0.5))
	default:
		return 0
	}
}

// AlphaImage turns the mask into the alpha the replacement background is
// composited with.
func (m *Mask) AlphaImage() *image.Alpha {
	img := image.NewAlpha(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row := m.Confidence[y*m.Width : (y+1)*m.Width]
		for x, c := range row {
			img.Pix[y*img.Stride+x] = MaskAlpha(1 - c)
		}
	}
	return img
}

// Segmenter separates a person from the background.
type Segmenter interface {
	Segment(img *image.RGBA) (*Mask, error)
}

// BackgroundModelSegmenter keeps a running average of the luma of each pixel
// and treats pixels that differ from it as foreground. The first frame seeds
// the model and is reported as all background.
type BackgroundModelSegmenter struct {
	mu           sync.Mutex
	learningRate float32
	threshold    float32
	width        int
	height       int
	background   []float32
}

// NewBackgroundModelSegmenter creates a segmenter. learningRate is in (0, 1];
// threshold is the luma difference that counts as certain foreground.
func NewBackgroundModelSegmenter(learningRate, threshold float64) (*BackgroundModelSegmenter, error) {
	if learningRate <= 0 || learningRate > 1 {
		return nil, fmt.Errorf("processor: learning rate must be in (0, 1], got %v", learningRate)
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("processor: threshold must be positive, got %v", threshold)
	}
	return &BackgroundModelSegmenter{
		learningRate: float32(learningRate),
		threshold:    float32(threshold),
	}, nil
}

func luma(r, g, b uint8) float32 {
	return 0.299*float32(r) + 0.587*float32(g) + 0.114*float32(b)
}

func (s *BackgroundModelSegmenter) Segment(img *image.RGBA) (*Mask, error) {
	if img == nil {
		return nil, fmt.Errorf("processor: nil image")
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	mask := NewMask(w, h)

	s.mu.Lock()
	defer s.mu.Unlock()

	seed := s.width != w || s.height != h || s.background == nil
	if seed {
		s.width, s.height = w, h
		s.background = make([]float32, w*h)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			l := luma(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			k := y*w + x

			if seed {
				s.background[k] = l
				continue
			}

			diff := float32(math.Abs(float64(l - s.background[k])))
			mask.Confidence[k] = min(diff/s.threshold, 1)
			s.background[k] += s.learningRate * (l - s.background[k])
		}
	}
	return mask, nil
}

// Reset forgets the background model.
func (s *BackgroundModelSegmenter) Reset() {
	s.mu.Lock()
	s.background = nil
	s.width, s.height = 0, 0
	s.mu.Unlock()
}
