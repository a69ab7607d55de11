package config

import (
	"fmt"
	"strings"
	"time"
)

// WebServerConfig Web服务器配置
type WebServerConfig struct {
	Host          string        `yaml:"host" json:"host"`
	Port          int           `yaml:"port" json:"port"`
	SignalingPath string        `yaml:"signaling_path" json:"signaling_path"`
	EnableCORS    bool          `yaml:"enable_cors" json:"enable_cors"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultWebServerConfig 返回默认Web服务器配置
func DefaultWebServerConfig() *WebServerConfig {
	config := &WebServerConfig{}
	config.SetDefaults()
	return config
}

// SetDefaults 设置默认值
func (c *WebServerConfig) SetDefaults() {
	c.Host = "0.0.0.0"
	c.Port = 8080
	c.SignalingPath = "/ws"
	c.EnableCORS = true
	c.ReadTimeout = 15 * time.Second
	c.WriteTimeout = 15 * time.Second
}

// Validate 验证Web服务器配置
func (c *WebServerConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 1 and 65535)", c.Port)
	}
	if !strings.HasPrefix(c.SignalingPath, "/") {
		return fmt.Errorf("signaling path must start with '/', got: %q", c.SignalingPath)
	}
	if strings.HasPrefix(c.SignalingPath, "/api") || c.SignalingPath == "/health" {
		return fmt.Errorf("signaling path %s conflicts with built-in routes", c.SignalingPath)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Address 返回监听地址
func (c *WebServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
