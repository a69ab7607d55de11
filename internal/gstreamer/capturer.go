package gstreamer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// Capturer reads raw frames from a videotestsrc or v4l2src pipeline and
// delivers them to its delegate from the appsink streaming thread.
type Capturer struct {
	cfg    config.CaptureConfig
	launch string
	layout video.PlaneLayout
	logger *logrus.Entry

	mu       sync.Mutex
	delegate capture.CapturerDelegate
	state    capture.State
	pipeline *gst.Pipeline
	cancel   context.CancelFunc
	started  time.Time

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// NewCapturer validates cfg and prepares the pipeline description.
func NewCapturer(cfg *config.CaptureConfig) (*Capturer, error) {
	if cfg == nil {
		cfg = config.DefaultCaptureConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid capture config: %w", err)
	}

	launch, err := captureLaunch(cfg)
	if err != nil {
		return nil, err
	}

	return &Capturer{
		cfg:    *cfg,
		launch: launch,
		layout: video.GStreamerI420Layout(cfg.Width, cfg.Height),
		logger: config.GetLoggerWithPrefix("gst-capturer").WithField("source", string(cfg.Source)),
	}, nil
}

func (c *Capturer) SetDelegate(delegate capture.CapturerDelegate) {
	c.mu.Lock()
	c.delegate = delegate
	c.mu.Unlock()
}

func (c *Capturer) State() capture.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FramesCaptured returns the number of frames delivered to the delegate.
func (c *Capturer) FramesCaptured() uint64 {
	return c.frames.Load()
}

// Start builds and plays the pipeline. Cancelling ctx stops it.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == capture.StateStarted {
		return capture.ErrAlreadyStarted
	}
	delegate := c.delegate
	if delegate == nil {
		return capture.ErrNoDelegate
	}

	Init()
	c.logger.Infof("Starting capture pipeline: %s", c.launch)

	pipeline, err := gst.NewPipelineFromString(c.launch)
	if err != nil {
		capture.NotifyStarted(delegate, false)
		return fmt.Errorf("failed to create capture pipeline: %w", err)
	}

	element, err := pipeline.GetElementByName(appSinkName)
	if err != nil {
		capture.NotifyStarted(delegate, false)
		return fmt.Errorf("failed to find appsink: %w", err)
	}
	sink := app.SinkFromElement(element)
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: func(sink *app.Sink) gst.FlowReturn {
			return c.onNewSample(sink, delegate)
		},
	})

	watchBus(pipeline, c.logger, func(err error) {
		c.logger.Warnf("Capture pipeline stopped: %v", err)
		go c.Stop()
	})

	c.started = time.Now()
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		stopPipeline(pipeline)
		capture.NotifyStarted(delegate, false)
		return fmt.Errorf("failed to start capture pipeline: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.pipeline = pipeline
	c.cancel = cancel
	c.state = capture.StateStarted

	go func() {
		<-runCtx.Done()
		c.Stop()
	}()

	capture.NotifyStarted(delegate, true)
	return nil
}

func (c *Capturer) onNewSample(sink *app.Sink, delegate capture.CapturerDelegate) gst.FlowReturn {
	defer func() {
		if r := recover(); r != nil {
			c.dropped.Add(1)
			c.logger.Errorf("panic in frame delegate: %v", r)
		}
	}()

	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowEOS
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowError
	}

	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		c.dropped.Add(1)
		return gst.FlowError
	}
	data := make([]byte, len(mapInfo.AsUint8Slice()))
	copy(data, mapInfo.AsUint8Slice())
	buffer.Unmap()

	i420, err := video.WrapI420(data, c.cfg.Width, c.cfg.Height, c.layout)
	if err != nil {
		c.dropped.Add(1)
		c.logger.Warnf("Unexpected capture buffer: %v", err)
		return gst.FlowOK
	}

	ts := time.Since(c.started).Nanoseconds()
	if pts := buffer.PresentationTimestamp(); pts != gst.ClockTimeNone {
		ts = int64(pts)
	}

	n := c.frames.Add(1)
	if n == 1 {
		c.logger.Infof("First frame captured: %dx%d, %d bytes", c.cfg.Width, c.cfg.Height, len(data))
	}

	delegate.DidCaptureVideoFrame(c, video.NewFrame(i420, video.Rotation0, ts))
	return gst.FlowOK
}

// Stop tears the pipeline down. Stopping a capturer that is not running is a
// no-op.
func (c *Capturer) Stop() error {
	c.mu.Lock()
	if c.state != capture.StateStarted {
		c.mu.Unlock()
		return nil
	}
	pipeline, cancel, delegate := c.pipeline, c.cancel, c.delegate
	c.pipeline = nil
	c.cancel = nil
	c.state = capture.StateStopped
	c.mu.Unlock()

	cancel()
	err := stopPipeline(pipeline)
	c.logger.Infof("Capture stopped after %d frames (%d dropped)", c.frames.Load(), c.dropped.Load())

	if delegate != nil {
		capture.NotifyStopped(delegate)
	}
	if err != nil {
		return fmt.Errorf("failed to stop capture pipeline: %w", err)
	}
	return nil
}
