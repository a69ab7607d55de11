package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// SMPTE-ish colour bars in YUV.
var patternBars = [][3]byte{
	{235, 128, 128}, // white
	{210, 16, 146},  // yellow
	{170, 166, 16},  // cyan
	{145, 54, 34},   // green
	{106, 202, 222}, // magenta
	{81, 90, 240},   // red
	{41, 240, 110},  // blue
	{16, 128, 128},  // black
}

// PatternCapturer generates scrolling colour bars at a fixed frame rate.
type PatternCapturer struct {
	width     int
	height    int
	frameRate int
	logger    *logrus.Entry

	mu       sync.Mutex
	delegate CapturerDelegate
	state    State
	cancel   context.CancelFunc
	done     chan struct{}
	frames   uint64
}

// NewPatternCapturer creates a pattern capturer for cfg.
func NewPatternCapturer(cfg *config.CaptureConfig) (*PatternCapturer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("capture config cannot be nil")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.FrameRate <= 0 {
		return nil, fmt.Errorf("invalid pattern format %dx%d@%d", cfg.Width, cfg.Height, cfg.FrameRate)
	}

	return &PatternCapturer{
		width:     cfg.Width,
		height:    cfg.Height,
		frameRate: cfg.FrameRate,
		logger:    config.GetLoggerWithPrefix("pattern-capturer"),
	}, nil
}

// SetDelegate sets the frame receiver. It must be called before Start.
func (c *PatternCapturer) SetDelegate(delegate CapturerDelegate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delegate = delegate
}

// State returns the capturer state.
func (c *PatternCapturer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FramesCaptured returns the number of frames delivered so far.
func (c *PatternCapturer) FramesCaptured() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Start begins producing frames until ctx is cancelled or Stop is called.
func (c *PatternCapturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStarted {
		return ErrAlreadyStarted
	}
	if c.delegate == nil {
		return ErrNoDelegate
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateStarted

	NotifyStarted(c.delegate, true)
	go c.run(runCtx, c.delegate, c.done)

	c.logger.Infof("Pattern capturer started: %dx%d@%dfps", c.width, c.height, c.frameRate)
	return nil
}

func (c *PatternCapturer) run(ctx context.Context, delegate CapturerDelegate, done chan struct{}) {
	defer close(done)

	limiter := rate.NewLimiter(rate.Limit(c.frameRate), 1)
	start := time.Now()
	var index int

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		frame := video.NewFrame(c.render(index), video.Rotation0, time.Since(start).Nanoseconds())
		delegate.DidCaptureVideoFrame(c, frame)

		c.mu.Lock()
		c.frames++
		c.mu.Unlock()
		index++
	}
}

// render draws the bars shifted by one column per frame.
func (c *PatternCapturer) render(index int) *video.I420Buffer {
	buf := video.NewI420Buffer(c.width, c.height)
	barWidth := (c.width + len(patternBars) - 1) / len(patternBars)

	for y := 0; y < c.height; y++ {
		for x := 0; x < c.width; x++ {
			bar := patternBars[((x+index)/barWidth)%len(patternBars)]
			buf.Y[y*buf.StrideY+x] = bar[0]
			if y%2 == 0 && x%2 == 0 {
				buf.U[(y/2)*buf.StrideU+x/2] = bar[1]
				buf.V[(y/2)*buf.StrideV+x/2] = bar[2]
			}
		}
	}
	return buf
}

// Stop halts frame production and waits for the generator goroutine.
func (c *PatternCapturer) Stop() error {
	c.mu.Lock()
	if c.state != StateStarted {
		c.mu.Unlock()
		return nil
	}
	cancel, done, delegate := c.cancel, c.done, c.delegate
	c.state = StateStopped
	c.mu.Unlock()

	cancel()
	<-done

	NotifyStopped(delegate)
	c.logger.Info("Pattern capturer stopped")
	return nil
}
