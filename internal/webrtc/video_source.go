package webrtc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

var (
	// ErrSourceClosed is returned by a closed VideoSource.
	ErrSourceClosed = errors.New("webrtc: video source closed")

	// ErrNilEncoder is returned when a VideoSource is built without an encoder.
	ErrNilEncoder = errors.New("webrtc: encoder must not be nil")
)

// VideoSourceStats is a snapshot of VideoSource counters.
type VideoSourceStats struct {
	FramesReceived    uint64    `json:"frames_received"`
	FramesEncoded     uint64    `json:"frames_encoded"`
	DroppedFrameRate  uint64    `json:"dropped_frame_rate"`
	DroppedResolution uint64    `json:"dropped_resolution"`
	EncodeErrors      uint64    `json:"encode_errors"`
	SamplesWritten    uint64    `json:"samples_written"`
	BytesWritten      uint64    `json:"bytes_written"`
	WriteErrors       uint64    `json:"write_errors"`
	KeyFrames         uint64    `json:"key_frames"`
	MaxWidth          int       `json:"max_width"`
	MaxHeight         int       `json:"max_height"`
	MaxFPS            int       `json:"max_fps"`
	LastFrame         time.Time `json:"last_frame"`
}

// sampleWriter is the part of the local track a VideoSource writes to.
type sampleWriter interface {
	WriteSample(sample media.Sample) error
}

// VideoSource is where captured frames end up. It enforces the output format,
// feeds the encoder and writes encoded samples to a local track shared by all
// peer connections.
type VideoSource struct {
	track   *webrtc.TrackLocalStaticSample
	sink    sampleWriter
	encoder Encoder
	logger  *logrus.Entry

	formatMu  sync.Mutex
	maxWidth  int
	maxHeight int
	maxFPS    int
	lastTs    int64
	nextTs    int64 // earliest timestamp the next frame is due at
	hasLast   bool

	// 上一个写出样本的时间戳，用于计算样本时长
	sampleMu     sync.Mutex
	lastSampleTs time.Duration
	hasSample    bool

	closed atomic.Bool

	framesReceived    atomic.Uint64
	framesEncoded     atomic.Uint64
	droppedFrameRate  atomic.Uint64
	droppedResolution atomic.Uint64
	encodeErrors      atomic.Uint64
	samplesWritten    atomic.Uint64
	bytesWritten      atomic.Uint64
	writeErrors       atomic.Uint64
	keyFrames         atomic.Uint64
	lastFrame         atomic.Int64
}

// NewVideoSource creates the track for encoder's codec and starts accepting
// frames.
func NewVideoSource(encoder Encoder, cfg *config.WebRTCConfig) (*VideoSource, error) {
	if encoder == nil {
		return nil, ErrNilEncoder
	}
	if cfg == nil {
		cfg = config.DefaultWebRTCConfig()
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: encoder.MimeType()},
		cfg.TrackID,
		cfg.StreamID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create video track: %w", err)
	}

	s := &VideoSource{
		track:   track,
		sink:    track,
		encoder: encoder,
		logger:  config.GetLoggerWithPrefix("video-source").WithField("track_id", cfg.TrackID),
	}
	s.AdaptOutputFormat(cfg.MaxWidth, cfg.MaxHeight, cfg.MaxFPS)
	encoder.SetOutput(s.writeSample)

	s.logger.Infof("video source created: mime=%s stream=%s", encoder.MimeType(), cfg.StreamID)
	return s, nil
}

// Track returns the local track to add to peer connections.
func (s *VideoSource) Track() *webrtc.TrackLocalStaticSample {
	return s.track
}

// AdaptOutputFormat limits the frames the source accepts. Frames larger than
// width x height are rejected and frames arriving faster than fps are
// dropped, judged by their capture timestamps. Zero disables a limit.
func (s *VideoSource) AdaptOutputFormat(width, height, fps int) {
	s.formatMu.Lock()
	defer s.formatMu.Unlock()

	s.maxWidth = max(width, 0)
	s.maxHeight = max(height, 0)
	s.maxFPS = max(fps, 0)
	s.hasLast = false

	s.logger.Debugf("output format adapted: %dx%d@%d", s.maxWidth, s.maxHeight, s.maxFPS)
}

func (s *VideoSource) admit(frame *video.Frame) bool {
	s.formatMu.Lock()
	defer s.formatMu.Unlock()

	if (s.maxWidth > 0 && frame.Width() > s.maxWidth) || (s.maxHeight > 0 && frame.Height() > s.maxHeight) {
		s.droppedResolution.Add(1)
		return false
	}

	ts := frame.TimestampNs
	if s.maxFPS > 0 {
		// Frames are due on a grid of interval steps. A quarter interval of
		// slack absorbs capture jitter without letting the rate creep up.
		interval := int64(time.Second) / int64(s.maxFPS)
		switch {
		case !s.hasLast || ts < s.lastTs:
			// first frame, or the capturer restarted its clock
			s.nextTs = ts
		case ts < s.nextTs-interval/4:
			s.droppedFrameRate.Add(1)
			return false
		case ts > s.nextTs+interval:
			// fell behind; resync instead of bursting to catch up
			s.nextTs = ts
		}
		s.nextTs += interval
	}

	s.lastTs = ts
	s.hasLast = true
	return true
}

// DidCaptureVideoFrame accepts a frame for encoding.
func (s *VideoSource) DidCaptureVideoFrame(_ capture.Capturer, frame *video.Frame) {
	if frame == nil || s.closed.Load() {
		return
	}

	s.framesReceived.Add(1)
	s.lastFrame.Store(time.Now().UnixNano())

	if !s.admit(frame) {
		return
	}

	if err := s.encoder.Encode(frame); err != nil {
		s.encodeErrors.Add(1)
		s.logger.Warnf("Failed to encode frame at %v: %v", frame.Timestamp(), err)
		return
	}
	s.framesEncoded.Add(1)
}

// CapturerStarted implements capture.StateObserver.
func (s *VideoSource) CapturerStarted(ok bool) {
	s.logger.Debugf("capturer started: %v", ok)
}

// CapturerStopped forgets the last timestamp so a restarted capturer is not
// throttled against the previous run.
func (s *VideoSource) CapturerStopped() {
	s.formatMu.Lock()
	s.hasLast = false
	s.formatMu.Unlock()
}

func (s *VideoSource) writeSample(frame *video.EncodedFrame) error {
	if s.closed.Load() {
		return ErrSourceClosed
	}
	if frame == nil || len(frame.Data) == 0 {
		return nil
	}

	if err := s.sink.WriteSample(s.nextSample(frame)); err != nil {
		s.writeErrors.Add(1)
		s.logger.Warnf("Failed to write video sample to track: %v", err)
		return fmt.Errorf("failed to write video sample: %w", err)
	}

	s.samplesWritten.Add(1)
	s.bytesWritten.Add(uint64(len(frame.Data)))
	if frame.KeyFrame {
		s.keyFrames.Add(1)
	}
	return nil
}

// nextSample wraps an encoded frame. The duration is the gap since the
// previous sample so that skipped or dropped frames do not make the RTP clock
// drift from capture time.
func (s *VideoSource) nextSample(frame *video.EncodedFrame) media.Sample {
	s.sampleMu.Lock()
	duration := frame.Duration
	if s.hasSample && frame.Timestamp > s.lastSampleTs {
		duration = frame.Timestamp - s.lastSampleTs
	}
	s.lastSampleTs = frame.Timestamp
	s.hasSample = true
	s.sampleMu.Unlock()

	if duration <= 0 {
		duration = time.Second / 30
		s.formatMu.Lock()
		if s.maxFPS > 0 {
			duration = time.Second / time.Duration(s.maxFPS)
		}
		s.formatMu.Unlock()
	}

	return media.Sample{
		Data:      frame.Data,
		Duration:  duration,
		Timestamp: time.Unix(0, int64(frame.Timestamp)),
	}
}

// Stats returns the source counters.
func (s *VideoSource) Stats() VideoSourceStats {
	s.formatMu.Lock()
	maxW, maxH, fps := s.maxWidth, s.maxHeight, s.maxFPS
	s.formatMu.Unlock()

	var last time.Time
	if ns := s.lastFrame.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return VideoSourceStats{
		FramesReceived:    s.framesReceived.Load(),
		FramesEncoded:     s.framesEncoded.Load(),
		DroppedFrameRate:  s.droppedFrameRate.Load(),
		DroppedResolution: s.droppedResolution.Load(),
		EncodeErrors:      s.encodeErrors.Load(),
		SamplesWritten:    s.samplesWritten.Load(),
		BytesWritten:      s.bytesWritten.Load(),
		WriteErrors:       s.writeErrors.Load(),
		KeyFrames:         s.keyFrames.Load(),
		MaxWidth:          maxW,
		MaxHeight:         maxH,
		MaxFPS:            fps,
		LastFrame:         last,
	}
}

// Close stops accepting frames and closes the encoder.
func (s *VideoSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := s.encoder.Close(); err != nil {
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	s.logger.Info("video source closed")
	return nil
}
