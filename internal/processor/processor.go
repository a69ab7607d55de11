// Package processor transforms captured frames before they reach the video
// source.
package processor

import (
	"errors"
	"time"

	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

var (
	// ErrNoBackgroundImage is returned when image mode has no image to draw.
	ErrNoBackgroundImage = errors.New("processor: background image required")

	// ErrMaskSize is returned when a segmentation mask does not match its frame.
	ErrMaskSize = errors.New("processor: mask size mismatch")
)

// Sink receives frames emitted by a processor.
type Sink interface {
	OnFrame(frame *video.Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame *video.Frame)

// OnFrame calls f.
func (f SinkFunc) OnFrame(frame *video.Frame) {
	f(frame)
}

// VideoProcessor sits between a capturer and a video source. Frames come in
// through OnFrameCaptured and leave through the sink, possibly on another
// goroutine and possibly not one for one.
type VideoProcessor interface {
	// SetSink replaces the output. A nil sink discards output.
	SetSink(sink Sink)
	OnCapturerStarted(ok bool)
	OnCapturerStopped()
	OnFrameCaptured(frame *video.Frame)
}

// Observer is notified about processing outcomes.
type Observer interface {
	FrameProcessed(elapsed time.Duration)
	FrameDropped(reason string)
}

// Drop reasons reported to Observer.
const (
	DropReasonSkipped = "skipped"
	DropReasonBusy    = "processor_busy"
	DropReasonError   = "processing_error"
	DropReasonNoSink  = "no_sink"
)

// Stats is a snapshot of processor counters.
type Stats struct {
	FramesIn        uint64 `json:"frames_in"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesSkipped   uint64 `json:"frames_skipped"`
	FramesDropped   uint64 `json:"frames_dropped"`
	Errors          uint64 `json:"errors"`
}

type nopObserver struct{}

func (nopObserver) FrameProcessed(time.Duration) {}
func (nopObserver) FrameDropped(string)          {}
