package webrtc

import "github.com/open-beagle/bdwind-interceptor/internal/video"

// Encoder compresses raw frames for the video track. Encoded output is handed
// to the function given to SetOutput, possibly on another goroutine.
type Encoder interface {
	Encode(frame *video.Frame) error
	SetOutput(output func(*video.EncodedFrame) error)
	MimeType() string
	Close() error
}
