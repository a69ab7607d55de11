package gstreamer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// Encoder pushes raw frames into an appsrc and hands the encoded access
// units from the appsink to its output. The pipeline is built on the first
// frame and rebuilt when the frame size changes.
type Encoder struct {
	cfg    config.EncoderConfig
	fps    int
	logger *logrus.Entry

	outputMu sync.RWMutex
	output   func(*video.EncodedFrame) error

	mu       sync.Mutex
	pipeline *gst.Pipeline
	src      *app.Source
	width    int
	height   int
	baseTs   int64
	lastPts  int64
	hasPts   bool
	closed   bool

	framesIn  atomic.Uint64
	framesOut atomic.Uint64
	keyFrames atomic.Uint64
	errors    atomic.Uint64
}

// NewEncoder validates cfg. fps is the nominal input rate used for caps and
// sample durations.
func NewEncoder(cfg *config.EncoderConfig, fps int) (*Encoder, error) {
	if cfg == nil {
		cfg = config.DefaultEncoderConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}
	if fps <= 0 {
		fps = 30
	}

	return &Encoder{
		cfg:    *cfg,
		fps:    fps,
		logger: config.GetLoggerWithPrefix("gst-encoder").WithField("codec", string(cfg.Codec)),
	}, nil
}

// MimeType returns the RTP mime type of the encoded stream.
func (e *Encoder) MimeType() string {
	if e.cfg.Codec == config.CodecVP8 {
		return webrtc.MimeTypeVP8
	}
	return webrtc.MimeTypeH264
}

func (e *Encoder) SetOutput(output func(*video.EncodedFrame) error) {
	e.outputMu.Lock()
	e.output = output
	e.outputMu.Unlock()
}

// Encode queues frame for encoding.
func (e *Encoder) Encode(frame *video.Frame) error {
	if frame == nil || frame.Buffer == nil {
		return fmt.Errorf("gstreamer: frame has no buffer")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrNotRunning
	}

	w, h := frame.Width(), frame.Height()
	if e.pipeline == nil || w != e.width || h != e.height {
		if err := e.rebuild(w, h, frame.TimestampNs); err != nil {
			e.errors.Add(1)
			return err
		}
	}

	pts := frame.TimestampNs - e.baseTs
	if pts < 0 {
		// Timestamps went backwards; restart the running time.
		e.baseTs = frame.TimestampNs
		e.hasPts = false
		pts = 0
	}
	duration := bufferDuration(e.lastPts, pts, e.hasPts, e.fps)
	e.lastPts, e.hasPts = pts, true

	buffer := gst.NewBufferFromBytes(frame.Buffer.Pack(video.GStreamerI420Layout(w, h)))
	buffer.SetPresentationTimestamp(gst.ClockTime(pts))
	buffer.SetDuration(gst.ClockTime(duration))

	if ret := e.src.PushBuffer(buffer); ret != gst.FlowOK {
		e.errors.Add(1)
		return fmt.Errorf("failed to push buffer to appsrc: %s", ret.String())
	}
	e.framesIn.Add(1)
	return nil
}

// bufferDuration is the gap since the previous buffer, or the nominal frame
// interval when there is no usable previous timestamp.
func bufferDuration(prevPts, pts int64, hasPrev bool, fps int) time.Duration {
	if hasPrev && pts > prevPts {
		return time.Duration(pts - prevPts)
	}
	return time.Second / time.Duration(max(fps, 1))
}

// rebuild replaces the running pipeline with one for width x height input.
// Called with e.mu held.
func (e *Encoder) rebuild(width, height int, baseTs int64) error {
	if e.pipeline != nil {
		e.logger.Infof("Frame size changed %dx%d -> %dx%d, rebuilding encoder", e.width, e.height, width, height)
		e.src.EndStream()
		if err := stopPipeline(e.pipeline); err != nil {
			e.logger.Warnf("Failed to stop previous encoder pipeline: %v", err)
		}
		e.pipeline, e.src = nil, nil
	}

	Init()

	launch, err := encoderLaunch(&e.cfg, width, height, e.fps)
	if err != nil {
		return err
	}
	e.logger.Debugf("Encoder pipeline: %s", launch)

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return fmt.Errorf("failed to create encoder pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName(appSrcName)
	if err != nil {
		return fmt.Errorf("failed to find appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName(appSinkName)
	if err != nil {
		return fmt.Errorf("failed to find appsink: %w", err)
	}

	app.SinkFromElement(sinkElement).SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: e.onNewSample,
	})
	watchBus(pipeline, e.logger, nil)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		stopPipeline(pipeline)
		return fmt.Errorf("failed to start encoder pipeline: %w", err)
	}

	e.pipeline = pipeline
	e.src = app.SrcFromElement(srcElement)
	e.width, e.height = width, height
	e.baseTs = baseTs
	e.hasPts = false

	e.logger.Infof("Encoder started: %dx%d@%d, %d kbps", width, height, e.fps, e.cfg.BitrateKbps)
	return nil
}

func (e *Encoder) onNewSample(sink *app.Sink) gst.FlowReturn {
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
		return gst.FlowError
	}
	data := make([]byte, len(mapInfo.AsUint8Slice()))
	copy(data, mapInfo.AsUint8Slice())
	buffer.Unmap()

	frame := &video.EncodedFrame{
		Data:     data,
		KeyFrame: !buffer.HasFlags(gst.BufferFlagDeltaUnit),
		Codec:    string(e.cfg.Codec),
		Duration: time.Second / time.Duration(e.fps),
	}
	if pts := buffer.PresentationTimestamp(); pts != gst.ClockTimeNone {
		frame.Timestamp = time.Duration(pts)
	}
	if d := buffer.Duration(); d != gst.ClockTimeNone && d > 0 {
		frame.Duration = time.Duration(d)
	}

	e.framesOut.Add(1)
	if frame.KeyFrame {
		e.keyFrames.Add(1)
	}

	e.outputMu.RLock()
	output := e.output
	e.outputMu.RUnlock()

	if output != nil {
		if err := output(frame); err != nil {
			e.errors.Add(1)
			e.logger.Debugf("Encoded frame output failed: %v", err)
		}
	}
	return gst.FlowOK
}

// EncoderStats is a snapshot of encoder counters.
type EncoderStats struct {
	FramesIn  uint64 `json:"frames_in"`
	FramesOut uint64 `json:"frames_out"`
	KeyFrames uint64 `json:"key_frames"`
	Errors    uint64 `json:"errors"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Stats returns the encoder counters.
func (e *Encoder) Stats() EncoderStats {
	e.mu.Lock()
	w, h := e.width, e.height
	e.mu.Unlock()

	return EncoderStats{
		FramesIn:  e.framesIn.Load(),
		FramesOut: e.framesOut.Load(),
		KeyFrames: e.keyFrames.Load(),
		Errors:    e.errors.Load(),
		Width:     w,
		Height:    h,
	}
}

// Close ends the stream and stops the pipeline.
func (e *Encoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.pipeline == nil {
		return nil
	}
	e.src.EndStream()
	err := stopPipeline(e.pipeline)
	e.pipeline, e.src = nil, nil
	if err != nil {
		return fmt.Errorf("failed to stop encoder pipeline: %w", err)
	}
	e.logger.Infof("Encoder closed after %d frames", e.framesOut.Load())
	return nil
}
