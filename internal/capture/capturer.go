// Package capture defines the contract between video capturers and the
// objects that receive their frames.
package capture

import (
	"context"
	"errors"

	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

var (
	// ErrAlreadyStarted is returned by Start on a running capturer.
	ErrAlreadyStarted = errors.New("capture: capturer already started")

	// ErrNoDelegate is returned by Start when no delegate has been set.
	ErrNoDelegate = errors.New("capture: no delegate set")
)

// Capturer produces video frames and hands them to its delegate.
type Capturer interface {
	Start(ctx context.Context) error
	Stop() error
	State() State
	SetDelegate(delegate CapturerDelegate)
}

// CapturerDelegate receives every frame a capturer produces. It is called on
// the capturer's own goroutine.
type CapturerDelegate interface {
	DidCaptureVideoFrame(capturer Capturer, frame *video.Frame)
}

// StateObserver is implemented by delegates that want to know when capture
// starts and stops.
type StateObserver interface {
	CapturerStarted(ok bool)
	CapturerStopped()
}

// DelegateFunc adapts a function to CapturerDelegate.
type DelegateFunc func(capturer Capturer, frame *video.Frame)

// DidCaptureVideoFrame calls f.
func (f DelegateFunc) DidCaptureVideoFrame(capturer Capturer, frame *video.Frame) {
	f(capturer, frame)
}

// State of a capturer.
type State int

const (
	StateClosed State = iota
	StateStarted
	StateStopped
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "closed"
	}
}

// NotifyStarted tells delegate that capture started if it observes state.
func NotifyStarted(delegate CapturerDelegate, ok bool) {
	if o, is := delegate.(StateObserver); is {
		o.CapturerStarted(ok)
	}
}

// NotifyStopped tells delegate that capture stopped if it observes state.
func NotifyStopped(delegate CapturerDelegate) {
	if o, is := delegate.(StateObserver); is {
		o.CapturerStopped()
	}
}
