package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ProcessorMode 帧处理模式
type ProcessorMode string

const (
	// ProcessorModeNone 直接转发采集帧
	ProcessorModeNone ProcessorMode = "none"
	// ProcessorModeBlur 背景虚化
	ProcessorModeBlur ProcessorMode = "blur"
	// ProcessorModeImage 虚拟背景图片
	ProcessorModeImage ProcessorMode = "image"
)

// ParseProcessorMode 解析帧处理模式
func ParseProcessorMode(s string) (ProcessorMode, error) {
	mode := ProcessorMode(strings.ToLower(strings.TrimSpace(s)))
	switch mode {
	case ProcessorModeNone, ProcessorModeBlur, ProcessorModeImage:
		return mode, nil
	case "":
		return ProcessorModeNone, nil
	}
	return ProcessorModeNone, fmt.Errorf("invalid processor mode: %s, must be 'none', 'blur' or 'image'", s)
}

// ProcessorConfig 虚拟背景处理配置
type ProcessorConfig struct {
	Mode ProcessorMode `yaml:"mode" json:"mode"`

	// ProcessEveryN 每N帧处理一帧
	ProcessEveryN int `yaml:"process_every_n" json:"process_every_n"`

	// ForwardSkipped 是否转发未处理的帧
	ForwardSkipped bool `yaml:"forward_skipped" json:"forward_skipped"`

	// BlurSigma 高斯模糊强度
	BlurSigma float64 `yaml:"blur_sigma" json:"blur_sigma"`

	// BackgroundImage 虚拟背景图片路径 (mode=image)
	BackgroundImage string `yaml:"background_image" json:"background_image"`

	// LearningRate 背景模型更新速率
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`

	// Threshold 前景判定的亮度差阈值
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultProcessorConfig 返回默认处理配置
func DefaultProcessorConfig() *ProcessorConfig {
	return &ProcessorConfig{
		Mode:           ProcessorModeNone,
		ProcessEveryN:  3,
		ForwardSkipped: false,
		BlurSigma:      12.5,
		LearningRate:   0.05,
		Threshold:      30,
	}
}

// Validate 验证处理配置
func (c *ProcessorConfig) Validate() error {
	if _, err := ParseProcessorMode(string(c.Mode)); err != nil {
		return err
	}
	if c.ProcessEveryN < 1 {
		return fmt.Errorf("process_every_n must be at least 1, got: %d", c.ProcessEveryN)
	}
	if c.BlurSigma <= 0 {
		return fmt.Errorf("blur_sigma must be positive, got: %v", c.BlurSigma)
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		return fmt.Errorf("learning_rate must be in (0, 1], got: %v", c.LearningRate)
	}
	if c.Threshold <= 0 || c.Threshold > 255 {
		return fmt.Errorf("threshold must be in (0, 255], got: %v", c.Threshold)
	}
	if c.Mode == ProcessorModeImage && c.BackgroundImage == "" {
		return fmt.Errorf("background_image is required when mode is 'image'")
	}
	return nil
}

// ApplyEnv 从环境变量覆盖处理配置
func (c *ProcessorConfig) ApplyEnv() {
	if mode := os.Getenv("BDWIND_PROCESSOR_MODE"); mode != "" {
		c.Mode = ProcessorMode(strings.ToLower(mode))
	}
	if image := os.Getenv("BDWIND_PROCESSOR_BACKGROUND_IMAGE"); image != "" {
		c.BackgroundImage = image
	}
	if n, err := strconv.Atoi(os.Getenv("BDWIND_PROCESSOR_EVERY_N")); err == nil {
		c.ProcessEveryN = n
	}
}
