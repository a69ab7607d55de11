package processor

import (
	"fmt"
	"image"
	"image/draw"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// VirtualBackgroundConfig configures a VirtualBackground processor.
type VirtualBackgroundConfig struct {
	// Mode is ProcessorModeBlur or ProcessorModeImage.
	Mode config.ProcessorMode

	// ProcessEveryN processes one frame out of every N, starting with the
	// first. Defaults to 3.
	ProcessEveryN int

	// ForwardSkipped sends frames that are not processed to the sink as is.
	// By default they are dropped.
	ForwardSkipped bool

	BlurSigma float64

	// Background is drawn behind the person in image mode. It is scaled and
	// cropped to the frame size.
	Background image.Image

	Segmenter Segmenter
	Observer  Observer
	Logger    *logrus.Entry
}

// VirtualBackground replaces or blurs the background of captured frames.
// Frames are processed on a single worker goroutine. When the worker is busy
// the newest frame replaces the one waiting for it.
type VirtualBackground struct {
	mode           config.ProcessorMode
	every          uint64
	forwardSkipped bool
	sigma          float64
	background     image.Image
	segmenter      Segmenter
	observer       Observer
	logger         *logrus.Entry

	sinkMu sync.RWMutex
	sink   Sink

	pending chan *video.Frame
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool

	// worker owned
	nv21        *video.NV21Frame
	fitted      *image.NRGBA
	processedAt atomic.Int64

	framesIn  atomic.Uint64
	processed atomic.Uint64
	skipped   atomic.Uint64
	dropped   atomic.Uint64
	errors    atomic.Uint64
}

// NewVirtualBackground validates cfg and starts the worker.
func NewVirtualBackground(cfg VirtualBackgroundConfig) (*VirtualBackground, error) {
	switch cfg.Mode {
	case config.ProcessorModeBlur:
	case config.ProcessorModeImage:
		if cfg.Background == nil {
			return nil, ErrNoBackgroundImage
		}
	default:
		return nil, fmt.Errorf("processor: unsupported virtual background mode %q", cfg.Mode)
	}

	if cfg.ProcessEveryN <= 0 {
		cfg.ProcessEveryN = 3
	}
	if cfg.BlurSigma <= 0 {
		cfg.BlurSigma = 12.5
	}
	if cfg.Segmenter == nil {
		seg, err := NewBackgroundModelSegmenter(0.05, 30)
		if err != nil {
			return nil, err
		}
		cfg.Segmenter = seg
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.Logger == nil {
		cfg.Logger = config.GetLoggerWithPrefix("virtual-background")
	}

	p := &VirtualBackground{
		mode:           cfg.Mode,
		every:          uint64(cfg.ProcessEveryN),
		forwardSkipped: cfg.ForwardSkipped,
		sigma:          cfg.BlurSigma,
		background:     cfg.Background,
		segmenter:      cfg.Segmenter,
		observer:       cfg.Observer,
		logger:         cfg.Logger.WithField("mode", string(cfg.Mode)),
		pending:        make(chan *video.Frame, 1),
		done:           make(chan struct{}),
		nv21:           video.NewNV21Frame(nil),
	}

	p.wg.Add(1)
	go p.run()

	return p, nil
}

// NewFromConfig builds the processor selected by cfg. Mode none yields a
// nil processor, meaning frames go straight to the source.
func NewFromConfig(cfg *config.ProcessorConfig, observer Observer) (VideoProcessor, error) {
	if cfg == nil || cfg.Mode == config.ProcessorModeNone || cfg.Mode == "" {
		return nil, nil
	}

	seg, err := NewBackgroundModelSegmenter(cfg.LearningRate, cfg.Threshold)
	if err != nil {
		return nil, err
	}

	vbCfg := VirtualBackgroundConfig{
		Mode:           cfg.Mode,
		ProcessEveryN:  cfg.ProcessEveryN,
		ForwardSkipped: cfg.ForwardSkipped,
		BlurSigma:      cfg.BlurSigma,
		Segmenter:      seg,
		Observer:       observer,
	}

	if cfg.Mode == config.ProcessorModeImage {
		img, err := imaging.Open(cfg.BackgroundImage)
		if err != nil {
			return nil, fmt.Errorf("failed to load background image %s: %w", cfg.BackgroundImage, err)
		}
		vbCfg.Background = img
	}

	return NewVirtualBackground(vbCfg)
}

// Mode returns the configured mode.
func (p *VirtualBackground) Mode() config.ProcessorMode {
	return p.mode
}

func (p *VirtualBackground) SetSink(sink Sink) {
	p.sinkMu.Lock()
	p.sink = sink
	p.sinkMu.Unlock()
}

func (p *VirtualBackground) currentSink() Sink {
	p.sinkMu.RLock()
	defer p.sinkMu.RUnlock()
	return p.sink
}

func (p *VirtualBackground) OnCapturerStarted(ok bool) {
	p.logger.Debugf("capturer started: %v", ok)
}

// OnCapturerStopped resets the background model so a restarted camera is
// learned again.
func (p *VirtualBackground) OnCapturerStopped() {
	p.logger.Debug("capturer stopped")
	if r, ok := p.segmenter.(interface{ Reset() }); ok {
		r.Reset()
	}
}

func (p *VirtualBackground) OnFrameCaptured(frame *video.Frame) {
	if frame == nil {
		return
	}

	n := p.framesIn.Add(1) - 1
	if n%p.every != 0 {
		p.skipped.Add(1)
		if p.forwardSkipped {
			p.emit(frame)
			return
		}
		p.observer.FrameDropped(DropReasonSkipped)
		return
	}

	if p.closed.Load() {
		p.drop(DropReasonBusy)
		return
	}

	select {
	case p.pending <- frame:
		return
	default:
	}

	// Worker busy: the newest frame wins.
	select {
	case <-p.pending:
		p.drop(DropReasonBusy)
	default:
	}
	select {
	case p.pending <- frame:
	default:
		p.drop(DropReasonBusy)
	}
}

func (p *VirtualBackground) drop(reason string) {
	p.dropped.Add(1)
	p.observer.FrameDropped(reason)
}

func (p *VirtualBackground) emit(frame *video.Frame) {
	sink := p.currentSink()
	if sink == nil {
		p.drop(DropReasonNoSink)
		return
	}
	sink.OnFrame(frame)
}

func (p *VirtualBackground) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.pending:
			p.handle(frame)
		}
	}
}

func (p *VirtualBackground) handle(frame *video.Frame) {
	defer func() {
		if r := recover(); r != nil {
			p.errors.Add(1)
			p.drop(DropReasonError)
			p.logger.Errorf("panic while processing frame: %v", r)
		}
	}()

	start := time.Now()
	out, err := p.process(frame)
	if err != nil {
		p.errors.Add(1)
		p.drop(DropReasonError)
		p.logger.Warnf("failed to process frame at %v: %v", frame.Timestamp(), err)
		return
	}

	p.processed.Add(1)
	p.processedAt.Store(time.Now().UnixNano())
	p.observer.FrameProcessed(time.Since(start))
	p.emit(out)
}

func (p *VirtualBackground) process(frame *video.Frame) (*video.Frame, error) {
	p.nv21.FromFrame(frame, frame.TimestampNs)
	rgba := p.nv21.RGBA()
	if rgba == nil {
		return nil, fmt.Errorf("processor: frame has no usable buffer")
	}

	mask, err := p.segmenter.Segment(rgba)
	if err != nil {
		return nil, fmt.Errorf("segmentation failed: %w", err)
	}
	bounds := rgba.Bounds()
	if mask.Width != bounds.Dx() || mask.Height != bounds.Dy() || len(mask.Confidence) != mask.Width*mask.Height {
		return nil, fmt.Errorf("%w: %dx%d for %dx%d frame", ErrMaskSize, mask.Width, mask.Height, bounds.Dx(), bounds.Dy())
	}

	composited := Composite(rgba, p.replacement(rgba), mask)
	return video.NewFrame(video.I420FromImage(composited), frame.Rotation, frame.TimestampNs), nil
}

func (p *VirtualBackground) replacement(frame *image.RGBA) image.Image {
	if p.mode == config.ProcessorModeBlur {
		return imaging.Blur(frame, p.sigma)
	}

	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()
	if p.fitted == nil || p.fitted.Bounds().Dx() != w || p.fitted.Bounds().Dy() != h {
		p.fitted = imaging.Fill(p.background, w, h, imaging.Center, imaging.Lanczos)
	}
	return p.fitted
}

// Composite draws replacement over the background of original, weighted by
// the mask alpha, with the original underneath.
func Composite(original *image.RGBA, replacement image.Image, mask *Mask) *image.RGBA {
	bounds := original.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), original, bounds.Min, draw.Src)
	draw.DrawMask(out, out.Bounds(), replacement, replacement.Bounds().Min, mask.AlphaImage(), image.Point{}, draw.Over)
	return out
}

// Snapshot returns the last frame the worker picked up, mirrored and rotated
// upright for preview. It is nil until a frame has been processed.
func (p *VirtualBackground) Snapshot() image.Image {
	img := p.nv21.Oriented()
	if img == nil {
		return nil
	}
	return img
}

// LastProcessed returns when the worker last emitted a frame.
func (p *VirtualBackground) LastProcessed() time.Time {
	ns := p.processedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Stats returns the processor counters.
func (p *VirtualBackground) Stats() Stats {
	return Stats{
		FramesIn:        p.framesIn.Load(),
		FramesProcessed: p.processed.Load(),
		FramesSkipped:   p.skipped.Load(),
		FramesDropped:   p.dropped.Load(),
		Errors:          p.errors.Load(),
	}
}

// Close stops the worker and waits for it. A frame waiting for the worker is
// discarded.
func (p *VirtualBackground) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		close(p.done)
		p.wg.Wait()
		select {
		case <-p.pending:
			p.drop(DropReasonBusy)
		default:
		}
	})
	return nil
}
