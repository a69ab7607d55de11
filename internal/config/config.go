package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 拦截器服务配置聚合器
type Config struct {
	// 采集配置模块
	Capture *CaptureConfig `yaml:"capture" json:"capture"`

	// 帧处理配置模块
	Processor *ProcessorConfig `yaml:"processor" json:"processor"`

	// 编码配置模块
	Encoder *EncoderConfig `yaml:"encoder" json:"encoder"`

	// WebRTC配置模块
	WebRTC *WebRTCConfig `yaml:"webrtc" json:"webrtc"`

	// Web服务器配置模块
	WebServer *WebServerConfig `yaml:"webserver" json:"webserver"`

	// Metrics配置模块
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`

	// 日志配置模块
	Logging *LoggingConfig `yaml:"logging" json:"logging"`

	// 生命周期管理配置
	Lifecycle LifecycleConfig `yaml:"lifecycle" json:"lifecycle"`
}

// LifecycleConfig 生命周期管理配置
type LifecycleConfig struct {
	// 优雅关闭超时时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Capture:   DefaultCaptureConfig(),
		Processor: DefaultProcessorConfig(),
		Encoder:   DefaultEncoderConfig(),
		WebRTC:    DefaultWebRTCConfig(),
		WebServer: DefaultWebServerConfig(),
		Metrics:   DefaultMetricsConfig(),
		Logging:   DefaultLoggingConfig(),
		Lifecycle: LifecycleConfig{
			ShutdownTimeout: 30 * time.Second,
		},
	}
}

// FillDefaults 为缺失的配置段填充默认值
func (c *Config) FillDefaults() {
	if c.Capture == nil {
		c.Capture = DefaultCaptureConfig()
	}
	if c.Processor == nil {
		c.Processor = DefaultProcessorConfig()
	}
	if c.Encoder == nil {
		c.Encoder = DefaultEncoderConfig()
	}
	if c.WebRTC == nil {
		c.WebRTC = DefaultWebRTCConfig()
	}
	if c.WebServer == nil {
		c.WebServer = DefaultWebServerConfig()
	}
	if c.Metrics == nil {
		c.Metrics = DefaultMetricsConfig()
	}
	if c.Logging == nil {
		c.Logging = DefaultLoggingConfig()
	}
	if c.Lifecycle.ShutdownTimeout == 0 {
		c.Lifecycle.ShutdownTimeout = 30 * time.Second
	}
}

// LoadConfigFromFile 从文件加载配置，未出现的字段保持默认值
func LoadConfigFromFile(filename string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	config.FillDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Capture != nil {
		if err := c.Capture.Validate(); err != nil {
			return fmt.Errorf("invalid capture config: %w", err)
		}
	}

	if c.Processor != nil {
		if err := c.Processor.Validate(); err != nil {
			return fmt.Errorf("invalid processor config: %w", err)
		}
	}

	if c.Encoder != nil {
		if err := c.Encoder.Validate(); err != nil {
			return fmt.Errorf("invalid encoder config: %w", err)
		}
	}

	if c.WebRTC != nil {
		if err := c.WebRTC.Validate(); err != nil {
			return fmt.Errorf("invalid webrtc config: %w", err)
		}
	}

	if c.WebServer != nil {
		if err := c.WebServer.Validate(); err != nil {
			return fmt.Errorf("invalid webserver config: %w", err)
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("invalid metrics config: %w", err)
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return fmt.Errorf("invalid logging config: %w", err)
		}
	}

	if c.Lifecycle.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid lifecycle config: shutdown timeout must be positive, got: %v", c.Lifecycle.ShutdownTimeout)
	}

	// 检查端口冲突
	if c.WebServer != nil && c.Metrics != nil && c.Metrics.Enabled && c.Metrics.Port == c.WebServer.Port {
		return fmt.Errorf("port conflict: metrics port %d already used by webserver", c.Metrics.Port)
	}

	return nil
}

// String 返回配置的字符串表示
func (c *Config) String() string {
	captureInfo := "disabled"
	if c.Capture != nil {
		captureInfo = fmt.Sprintf("%s %dx%d@%dfps", c.Capture.Source, c.Capture.Width, c.Capture.Height, c.Capture.FrameRate)
	}

	processorInfo := "disabled"
	if c.Processor != nil {
		processorInfo = string(c.Processor.Mode)
	}

	encoderInfo := "disabled"
	if c.Encoder != nil {
		encoderInfo = fmt.Sprintf("%s@%dkbps", c.Encoder.Codec, c.Encoder.BitrateKbps)
	}

	webInfo := "disabled"
	if c.WebServer != nil {
		webInfo = fmt.Sprintf("%s:%d", c.WebServer.Host, c.WebServer.Port)
	}

	return fmt.Sprintf("Config{Capture: %s, Processor: %s, Encoder: %s, WebServer: %s}",
		captureInfo, processorInfo, encoderInfo, webInfo)
}

// SaveToFile 保存配置到文件
func (c *Config) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadConfigFromEnv 从环境变量加载配置
func LoadConfigFromEnv() *Config {
	config := DefaultConfig()
	config.ApplyEnv()
	return config
}

// ApplyEnv 用环境变量覆盖已有配置
func (c *Config) ApplyEnv() {
	if c.Capture == nil {
		c.Capture = DefaultCaptureConfig()
	}
	c.Capture.ApplyEnv()

	if c.Processor == nil {
		c.Processor = DefaultProcessorConfig()
	}
	c.Processor.ApplyEnv()

	if c.Logging == nil {
		c.Logging = DefaultLoggingConfig()
	}
	c.Logging.ApplyEnv()
}
