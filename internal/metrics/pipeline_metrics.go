package metrics

import (
	"fmt"
	"time"
)

// PipelineMetrics 视频管线指标
//
// 实现 interceptor.FrameObserver、processor.Observer 和
// webrtc.SessionObserver，由 App 注入到各组件。
type PipelineMetrics struct {
	framesCaptured  Counter
	framesForwarded Counter
	framesDropped   Counter
	processing      Histogram
	sessionsActive  Gauge
}

// processingBuckets 覆盖 1ms 到约 0.5s 的单帧处理耗时
var processingBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.02, 0.035, 0.05, 0.1, 0.2, 0.5}

// NewPipelineMetrics 在给定的 Metrics 上注册管线指标
func NewPipelineMetrics(m Metrics) (*PipelineMetrics, error) {
	pm := &PipelineMetrics{}
	var err error

	if pm.framesCaptured, err = m.RegisterCounter(
		"frames_captured_total",
		"Total number of frames delivered by the capturer",
		nil,
	); err != nil {
		return nil, fmt.Errorf("register frames_captured_total: %w", err)
	}

	if pm.framesForwarded, err = m.RegisterCounter(
		"frames_forwarded_total",
		"Total number of frames forwarded to the video source",
		nil,
	); err != nil {
		return nil, fmt.Errorf("register frames_forwarded_total: %w", err)
	}

	if pm.framesDropped, err = m.RegisterCounter(
		"frames_dropped_total",
		"Total number of frames dropped, by reason",
		[]string{"reason"},
	); err != nil {
		return nil, fmt.Errorf("register frames_dropped_total: %w", err)
	}

	if pm.processing, err = m.RegisterHistogram(
		"frame_processing_seconds",
		"Time spent replacing the background of one frame",
		nil,
		processingBuckets,
	); err != nil {
		return nil, fmt.Errorf("register frame_processing_seconds: %w", err)
	}

	if pm.sessionsActive, err = m.RegisterGauge(
		"webrtc_sessions_active",
		"Number of open WebRTC peer sessions",
		nil,
	); err != nil {
		return nil, fmt.Errorf("register webrtc_sessions_active: %w", err)
	}

	return pm, nil
}

func (pm *PipelineMetrics) FrameCaptured()  { pm.framesCaptured.Inc() }
func (pm *PipelineMetrics) FrameForwarded() { pm.framesForwarded.Inc() }

// FrameDropped 记录丢帧，interceptor 和 processor 共用同一个计数器
func (pm *PipelineMetrics) FrameDropped(reason string) {
	pm.framesDropped.Inc(reason)
}

func (pm *PipelineMetrics) FrameProcessed(elapsed time.Duration) {
	pm.processing.Observe(elapsed.Seconds())
}

func (pm *PipelineMetrics) SessionsActive(n int) {
	pm.sessionsActive.Set(float64(n))
}
