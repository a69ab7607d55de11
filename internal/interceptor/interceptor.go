// Package interceptor connects a video capturer to a video source and lets an
// optional frame processor sit between them.
package interceptor

import (
	"errors"
	"io"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/processor"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// ErrNilVideoSource is returned when an interceptor is built without a source.
var ErrNilVideoSource = errors.New("interceptor: video source must not be nil")

// Drop reasons reported to FrameObserver.
const (
	DropReasonNilFrame = "nil_frame"
)

// VideoSource is the sink captured frames end up in.
type VideoSource interface {
	capture.CapturerDelegate
}

// FrameObserver is told about every frame the interceptor sees.
type FrameObserver interface {
	FrameCaptured()
	FrameForwarded()
	FrameDropped(reason string)
}

// Stats is a snapshot of interceptor counters.
type Stats struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesForwarded uint64 `json:"frames_forwarded"`
	FramesDropped   uint64 `json:"frames_dropped"`
	HasProcessor    bool   `json:"has_processor"`
}

// Option configures a VideoSourceInterceptor.
type Option func(*VideoSourceInterceptor)

// WithProcessor routes frames through p before they reach the source.
func WithProcessor(p processor.VideoProcessor) Option {
	return func(i *VideoSourceInterceptor) {
		i.processor = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(i *VideoSourceInterceptor) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithObserver reports frame counts to o.
func WithObserver(o FrameObserver) Option {
	return func(i *VideoSourceInterceptor) {
		if o != nil {
			i.observer = o
		}
	}
}

// VideoSourceInterceptor is the delegate a capturer delivers frames to. It
// holds the video source for its whole life and forwards every frame to it,
// through the processor when one is attached.
type VideoSourceInterceptor struct {
	source   VideoSource
	logger   *logrus.Entry
	observer FrameObserver

	mu        sync.RWMutex
	processor processor.VideoProcessor

	// capturer that delivered the most recent frame; processed frames are
	// forwarded on its behalf.
	capturer atomic.Value

	received  atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

type capturerRef struct {
	capture.Capturer
}

// NewVideoSourceInterceptor creates an interceptor that feeds source.
func NewVideoSourceInterceptor(source VideoSource, opts ...Option) (*VideoSourceInterceptor, error) {
	if isNil(source) {
		return nil, ErrNilVideoSource
	}

	i := &VideoSourceInterceptor{
		source:   source,
		logger:   config.GetLoggerWithPrefix("interceptor"),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(i)
	}

	if i.processor != nil {
		i.processor.SetSink(i.sinkFor())
	}

	return i, nil
}

// isNil also catches a nil pointer wrapped in a non-nil interface.
func isNil(source VideoSource) bool {
	if source == nil {
		return true
	}
	v := reflect.ValueOf(source)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Func, reflect.Chan, reflect.Interface, reflect.Slice:
		return v.IsNil()
	}
	return false
}

// VideoSource returns the source given to NewVideoSourceInterceptor.
func (i *VideoSourceInterceptor) VideoSource() VideoSource {
	return i.source
}

// Processor returns the attached processor or nil.
func (i *VideoSourceInterceptor) Processor() processor.VideoProcessor {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.processor
}

// SetProcessor attaches p, or detaches the current processor when p is nil.
// The previous processor loses its sink and is closed if it is an io.Closer.
func (i *VideoSourceInterceptor) SetProcessor(p processor.VideoProcessor) {
	if p != nil {
		p.SetSink(i.sinkFor())
	}

	i.mu.Lock()
	old := i.processor
	i.processor = p
	i.mu.Unlock()

	if old == nil || old == p {
		return
	}
	old.SetSink(nil)
	if closer, ok := old.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			i.logger.Warnf("failed to close previous processor: %v", err)
		}
	}
	i.logger.Infof("processor replaced (attached: %v)", p != nil)
}

// DidCaptureVideoFrame receives a frame from capturer.
func (i *VideoSourceInterceptor) DidCaptureVideoFrame(capturer capture.Capturer, frame *video.Frame) {
	if frame == nil {
		i.dropped.Add(1)
		i.observer.FrameDropped(DropReasonNilFrame)
		return
	}

	i.received.Add(1)
	i.observer.FrameCaptured()

	p := i.Processor()
	if p == nil {
		i.forward(capturer, frame)
		return
	}

	i.capturer.Store(capturerRef{capturer})
	p.OnFrameCaptured(frame)
}

func (i *VideoSourceInterceptor) forward(capturer capture.Capturer, frame *video.Frame) {
	i.source.DidCaptureVideoFrame(capturer, frame)
	i.forwarded.Add(1)
	i.observer.FrameForwarded()
}

func (i *VideoSourceInterceptor) sinkFor() processor.Sink {
	return processor.SinkFunc(func(frame *video.Frame) {
		if frame == nil {
			return
		}
		var capturer capture.Capturer
		if ref, ok := i.capturer.Load().(capturerRef); ok {
			capturer = ref.Capturer
		}
		i.forward(capturer, frame)
	})
}

// CapturerStarted passes the capture start notification on to the processor
// and the source.
func (i *VideoSourceInterceptor) CapturerStarted(ok bool) {
	i.logger.Debugf("capturer started: %v", ok)
	if p := i.Processor(); p != nil {
		p.OnCapturerStarted(ok)
	}
	capture.NotifyStarted(i.source, ok)
}

// CapturerStopped passes the capture stop notification on to the processor
// and the source.
func (i *VideoSourceInterceptor) CapturerStopped() {
	i.logger.Debug("capturer stopped")
	if p := i.Processor(); p != nil {
		p.OnCapturerStopped()
	}
	capture.NotifyStopped(i.source)
}

// Stats returns the interceptor counters.
func (i *VideoSourceInterceptor) Stats() Stats {
	return Stats{
		FramesReceived:  i.received.Load(),
		FramesForwarded: i.forwarded.Load(),
		FramesDropped:   i.dropped.Load(),
		HasProcessor:    i.Processor() != nil,
	}
}

// Close detaches and closes the processor. The source is not closed.
func (i *VideoSourceInterceptor) Close() error {
	i.SetProcessor(nil)
	return nil
}

type nopObserver struct{}

func (nopObserver) FrameCaptured()      {}
func (nopObserver) FrameForwarded()     {}
func (nopObserver) FrameDropped(string) {}
