package gstreamer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

func requireGStreamer(t *testing.T, elements ...string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping GStreamer test in short mode")
	}
	if err := HasElements(elements...); err != nil {
		t.Skipf("GStreamer plugins missing: %v", err)
	}
}

type frameCollector struct {
	mu      sync.Mutex
	frames  []*video.Frame
	started []bool
	stopped int
}

func (c *frameCollector) DidCaptureVideoFrame(_ capture.Capturer, frame *video.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, frame)
	c.mu.Unlock()
}

func (c *frameCollector) CapturerStarted(ok bool) {
	c.mu.Lock()
	c.started = append(c.started, ok)
	c.mu.Unlock()
}

func (c *frameCollector) CapturerStopped() {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func TestCapturer_VideoTestSrc(t *testing.T) {
	requireGStreamer(t, "videotestsrc", "videoconvert", "videoscale", "videorate", "appsink")

	cfg := &config.CaptureConfig{Source: config.CaptureSourceTestSrc, Width: 64, Height: 48, FrameRate: 30}
	c, err := NewCapturer(cfg)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Start(context.Background()), capture.ErrNoDelegate)

	collector := &frameCollector{}
	c.SetDelegate(collector)
	require.NoError(t, c.Start(context.Background()))
	assert.ErrorIs(t, c.Start(context.Background()), capture.ErrAlreadyStarted)
	assert.Equal(t, capture.StateStarted, c.State())

	assert.Eventually(t, func() bool { return collector.count() >= 3 }, 5*time.Second, 20*time.Millisecond)
	require.NoError(t, c.Stop())
	require.NoError(t, c.Stop())

	collector.mu.Lock()
	defer collector.mu.Unlock()
	assert.Equal(t, []bool{true}, collector.started)
	assert.Equal(t, 1, collector.stopped)
	first := collector.frames[0]
	assert.Equal(t, 64, first.Width())
	assert.Equal(t, 48, first.Height())
	assert.NoError(t, first.Buffer.Validate())
	assert.LessOrEqual(t, collector.frames[0].TimestampNs, collector.frames[1].TimestampNs)
}

func TestEncoder_VP8(t *testing.T) {
	requireGStreamer(t, encoderElements(config.CodecVP8)...)

	cfg := config.DefaultEncoderConfig()
	cfg.Codec = config.CodecVP8
	enc, err := NewEncoder(cfg, 30)
	require.NoError(t, err)
	defer enc.Close()

	out := make(chan *video.EncodedFrame, 64)
	enc.SetOutput(func(f *video.EncodedFrame) error {
		select {
		case out <- f:
		default:
		}
		return nil
	})

	for i := 0; i < 10; i++ {
		buf := video.NewI420Buffer(64, 48)
		for j := range buf.Y {
			buf.Y[j] = byte(i * 10)
		}
		require.NoError(t, enc.Encode(video.NewFrame(buf, video.Rotation0, int64(i)*int64(time.Second/30))))
	}

	select {
	case f := <-out:
		assert.NotEmpty(t, f.Data)
		assert.True(t, f.KeyFrame, "first encoded frame is a keyframe")
		assert.Equal(t, "vp8", f.Codec)
	case <-time.After(5 * time.Second):
		t.Fatal("no encoded output")
	}

	// A size change rebuilds the pipeline.
	require.NoError(t, enc.Encode(video.NewFrame(video.NewI420Buffer(32, 24), video.Rotation0, int64(time.Second))))
	stats := enc.Stats()
	assert.Equal(t, 32, stats.Width)
	assert.Equal(t, uint64(11), stats.FramesIn)

	require.NoError(t, enc.Close())
	assert.ErrorIs(t, enc.Encode(video.NewFrame(video.NewI420Buffer(32, 24), video.Rotation0, 0)), ErrNotRunning)
}
