package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/config"
	"github.com/open-beagle/bdwind-interceptor/internal/gstreamer"
	"github.com/open-beagle/bdwind-interceptor/internal/interceptor"
	"github.com/open-beagle/bdwind-interceptor/internal/metrics"
	"github.com/open-beagle/bdwind-interceptor/internal/processor"
	"github.com/open-beagle/bdwind-interceptor/internal/webrtc"
	"github.com/open-beagle/bdwind-interceptor/internal/webserver"
)

// BDWindApp 把采集、拦截、处理、编码和 WebRTC 会话串成一条管线
type BDWindApp struct {
	config *config.Config
	logger *logrus.Entry

	capturer    capture.Capturer
	encoder     webrtc.Encoder
	interceptor *interceptor.VideoSourceInterceptor
	source      *webrtc.VideoSource
	peers       *webrtc.PeerManager
	signaling   *webrtc.SignalingHandler
	metrics     metrics.Metrics
	pipeline    *metrics.PipelineMetrics
	webserver   *webserver.WebServer

	// 处理器配置，模式切换时基于它重建处理器
	procMu  sync.Mutex
	procCfg config.ProcessorConfig

	startTime time.Time
}

// component 可启停的组件，按顺序启动，失败时逆序回滚
type component struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewBDWindApp 创建应用，编码器使用 GStreamer
func NewBDWindApp(cfg *config.Config) (*BDWindApp, error) {
	cfg.FillDefaults()
	encoder, err := gstreamer.NewEncoder(cfg.Encoder, cfg.Capture.FrameRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	return newApp(cfg, encoder, nil)
}

// newApp 按配置组装管线，capturer 为 nil 时按 capture.source 创建
func newApp(cfg *config.Config, encoder webrtc.Encoder, capturer capture.Capturer) (*BDWindApp, error) {
	cfg.FillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &BDWindApp{
		config:    cfg,
		logger:    config.GetLoggerWithPrefix("app"),
		encoder:   encoder,
		procCfg:   *cfg.Processor,
		startTime: time.Now(),
	}

	var err error
	if app.metrics, err = metrics.NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	if app.pipeline, err = metrics.NewPipelineMetrics(app.metrics); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}

	if app.source, err = webrtc.NewVideoSource(encoder, cfg.WebRTC); err != nil {
		return nil, fmt.Errorf("failed to create video source: %w", err)
	}

	opts := []interceptor.Option{
		interceptor.WithObserver(app.pipeline),
		interceptor.WithLogger(config.GetLoggerWithPrefix("interceptor")),
	}
	proc, err := processor.NewFromConfig(cfg.Processor, app.pipeline)
	if err != nil {
		app.source.Close()
		return nil, fmt.Errorf("failed to create processor: %w", err)
	}
	if proc != nil {
		opts = append(opts, interceptor.WithProcessor(proc))
	}

	if app.interceptor, err = interceptor.NewVideoSourceInterceptor(app.source, opts...); err != nil {
		app.source.Close()
		return nil, err
	}

	if capturer == nil {
		if capturer, err = newCapturer(cfg.Capture); err != nil {
			app.release()
			return nil, err
		}
	}
	capturer.SetDelegate(app.interceptor)
	app.capturer = capturer

	if app.peers, err = webrtc.NewPeerManager(cfg.WebRTC, app.source.Track(),
		webrtc.WithSessionObserver(app.pipeline)); err != nil {
		app.release()
		return nil, fmt.Errorf("failed to create peer manager: %w", err)
	}
	app.signaling = webrtc.NewSignalingHandler(app.peers)

	if app.webserver, err = webserver.NewWebServer(cfg.WebServer, app,
		webserver.WithSignaling(app.signaling),
		webserver.WithMetricsHandler(app.metrics.Handler()),
		webserver.WithVersion(AppVersion),
	); err != nil {
		app.release()
		return nil, fmt.Errorf("failed to create webserver: %w", err)
	}

	return app, nil
}

func newCapturer(cfg *config.CaptureConfig) (capture.Capturer, error) {
	switch cfg.Source {
	case config.CaptureSourcePattern:
		return capture.NewPatternCapturer(cfg)
	default:
		c, err := gstreamer.NewCapturer(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create capturer: %w", err)
		}
		return c, nil
	}
}

func (app *BDWindApp) components() []component {
	comps := []component{}
	if app.config.Metrics.Enabled {
		comps = append(comps, component{
			name:  "metrics",
			start: func(context.Context) error { return app.metrics.Start() },
			stop:  func(context.Context) error { return app.metrics.Stop() },
		})
	}
	comps = append(comps,
		component{
			name:  "capture",
			start: app.capturer.Start,
			stop:  func(context.Context) error { return app.capturer.Stop() },
		},
		component{
			name:  "webserver",
			start: func(context.Context) error { return app.webserver.Start() },
			stop: func(ctx context.Context) error {
				app.signaling.Close()
				return app.webserver.Stop(ctx)
			},
		},
	)
	return comps
}

// Run 启动所有组件并阻塞到 ctx 结束，随后按超时优雅关闭
func (app *BDWindApp) Run(ctx context.Context) error {
	app.logger.Infof("Starting %s v%s: %s", AppName, AppVersion, app.config)

	started, err := app.start(ctx)
	if err != nil {
		app.release()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.peers.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Lifecycle.ShutdownTimeout)
		defer cancel()
		return app.stop(shutdownCtx, started)
	})

	err = g.Wait()
	app.release()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	app.logger.Info("Application stopped gracefully")
	return nil
}

func (app *BDWindApp) start(ctx context.Context) ([]component, error) {
	comps := app.components()
	for i, c := range comps {
		app.logger.Infof("Starting %s...", c.name)
		if err := c.start(ctx); err != nil {
			app.logger.Errorf("Failed to start %s: %v", c.name, err)
			rollbackCtx, cancel := context.WithTimeout(context.Background(), app.config.Lifecycle.ShutdownTimeout)
			app.stop(rollbackCtx, comps[:i])
			cancel()
			return nil, fmt.Errorf("failed to start %s: %w", c.name, err)
		}
	}
	return comps, nil
}

func (app *BDWindApp) stop(ctx context.Context, comps []component) error {
	var errs []error
	for i := len(comps) - 1; i >= 0; i-- {
		app.logger.Infof("Stopping %s...", comps[i].name)
		if err := comps[i].stop(ctx); err != nil {
			app.logger.Warnf("Failed to stop %s: %v", comps[i].name, err)
			errs = append(errs, fmt.Errorf("%s: %w", comps[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// release 关闭处理器和视频源
func (app *BDWindApp) release() {
	if app.interceptor != nil {
		app.interceptor.Close()
	}
	if err := app.source.Close(); err != nil {
		app.logger.Warnf("Failed to close video source: %v", err)
	}
}

// Status 实现 webserver.Pipeline
func (app *BDWindApp) Status() webserver.PipelineStatus {
	cfg := app.config
	return webserver.PipelineStatus{
		Capturing:     app.capturer.State() == capture.StateStarted,
		Source:        string(cfg.Capture.Source),
		Width:         cfg.Capture.Width,
		Height:        cfg.Capture.Height,
		FrameRate:     cfg.Capture.FrameRate,
		ProcessorMode: string(app.ProcessorMode()),
		Codec:         string(cfg.Encoder.Codec),
		Sessions:      app.peers.Count(),
	}
}

func (app *BDWindApp) Stats() map[string]any {
	stats := map[string]any{
		"uptime":       time.Since(app.startTime).Seconds(),
		"interceptor":  app.interceptor.Stats(),
		"video_source": app.source.Stats(),
		"sessions":     app.peers.Sessions(),
	}
	if s, ok := app.interceptor.Processor().(interface{ Stats() processor.Stats }); ok {
		stats["processor"] = s.Stats()
	}
	if e, ok := app.encoder.(*gstreamer.Encoder); ok {
		stats["encoder"] = e.Stats()
	}
	return stats
}

func (app *BDWindApp) ProcessorMode() config.ProcessorMode {
	app.procMu.Lock()
	defer app.procMu.Unlock()
	return app.procCfg.Mode
}

// SetProcessorMode 用新模式重建处理器并替换到拦截器上
func (app *BDWindApp) SetProcessorMode(mode config.ProcessorMode) error {
	app.procMu.Lock()
	defer app.procMu.Unlock()

	if mode == app.procCfg.Mode {
		return nil
	}

	next := app.procCfg
	next.Mode = mode
	if err := next.Validate(); err != nil {
		return err
	}

	proc, err := processor.NewFromConfig(&next, app.pipeline)
	if err != nil {
		return err
	}
	if proc != nil && app.capturer.State() == capture.StateStarted {
		proc.OnCapturerStarted(true)
	}

	app.interceptor.SetProcessor(proc)
	app.procCfg = next
	app.logger.Infof("Processor mode set to %s", mode)
	return nil
}

func (app *BDWindApp) Snapshot() (image.Image, bool) {
	s, ok := app.interceptor.Processor().(interface{ Snapshot() image.Image })
	if !ok {
		return nil, false
	}
	img := s.Snapshot()
	return img, img != nil
}
