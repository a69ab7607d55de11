package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CaptureSource 采集源类型
type CaptureSource string

const (
	// CaptureSourcePattern 纯Go测试图案，不依赖GStreamer
	CaptureSourcePattern CaptureSource = "pattern"
	// CaptureSourceTestSrc GStreamer videotestsrc
	CaptureSourceTestSrc CaptureSource = "videotestsrc"
	// CaptureSourceV4L2 GStreamer v4l2src 摄像头
	CaptureSourceV4L2 CaptureSource = "v4l2"
)

// CaptureConfig 采集配置
type CaptureConfig struct {
	Source    CaptureSource `yaml:"source" json:"source"`
	Device    string        `yaml:"device" json:"device"`
	Width     int           `yaml:"width" json:"width"`
	Height    int           `yaml:"height" json:"height"`
	FrameRate int           `yaml:"framerate" json:"framerate"`
}

// DefaultCaptureConfig 返回默认采集配置
func DefaultCaptureConfig() *CaptureConfig {
	return &CaptureConfig{
		Source:    CaptureSourcePattern,
		Device:    "/dev/video0",
		Width:     1280,
		Height:    720,
		FrameRate: 30,
	}
}

// Validate 验证采集配置
func (c *CaptureConfig) Validate() error {
	switch c.Source {
	case CaptureSourcePattern, CaptureSourceTestSrc:
	case CaptureSourceV4L2:
		if c.Device == "" {
			return fmt.Errorf("device is required for v4l2 source")
		}
	default:
		return fmt.Errorf("invalid capture source: %s, must be 'pattern', 'videotestsrc' or 'v4l2'", c.Source)
	}

	if c.Width <= 0 || c.Width > 7680 {
		return fmt.Errorf("invalid width: %d (must be between 1 and 7680)", c.Width)
	}
	if c.Height <= 0 || c.Height > 4320 {
		return fmt.Errorf("invalid height: %d (must be between 1 and 4320)", c.Height)
	}
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return fmt.Errorf("width and height must be even for I420, got %dx%d", c.Width, c.Height)
	}
	if c.FrameRate <= 0 || c.FrameRate > 120 {
		return fmt.Errorf("invalid frame rate: %d (must be between 1 and 120)", c.FrameRate)
	}

	return nil
}

// ApplyEnv 从环境变量覆盖采集配置
func (c *CaptureConfig) ApplyEnv() {
	if source := os.Getenv("BDWIND_CAPTURE_SOURCE"); source != "" {
		c.Source = CaptureSource(strings.ToLower(source))
	}
	if device := os.Getenv("BDWIND_CAPTURE_DEVICE"); device != "" {
		c.Device = device
	}
	if width, err := strconv.Atoi(os.Getenv("BDWIND_CAPTURE_WIDTH")); err == nil {
		c.Width = width
	}
	if height, err := strconv.Atoi(os.Getenv("BDWIND_CAPTURE_HEIGHT")); err == nil {
		c.Height = height
	}
	if fps, err := strconv.Atoi(os.Getenv("BDWIND_CAPTURE_FRAMERATE")); err == nil {
		c.FrameRate = fps
	}
}
