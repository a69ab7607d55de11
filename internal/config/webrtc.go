package config

import (
	"fmt"
	"net/url"
	"strings"
)

// WebRTCConfig WebRTC配置模块
type WebRTCConfig struct {
	ICEServers  []ICEServerConfig `yaml:"ice_servers" json:"ice_servers"`
	TrackID     string            `yaml:"track_id" json:"track_id"`
	StreamID    string            `yaml:"stream_id" json:"stream_id"`
	MaxSessions int               `yaml:"max_sessions" json:"max_sessions"`

	// 输出格式上限，0 表示不限制
	MaxWidth  int `yaml:"max_width" json:"max_width"`
	MaxHeight int `yaml:"max_height" json:"max_height"`
	MaxFPS    int `yaml:"max_fps" json:"max_fps"`
}

// ICEServerConfig ICE服务器配置
type ICEServerConfig struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// DefaultWebRTCConfig 返回默认的WebRTC配置
func DefaultWebRTCConfig() *WebRTCConfig {
	config := &WebRTCConfig{}
	config.SetDefaults()
	return config
}

// SetDefaults 设置默认值
func (c *WebRTCConfig) SetDefaults() {
	// 默认ICE服务器配置（使用Google的公共STUN服务器）
	c.ICEServers = []ICEServerConfig{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
	c.TrackID = "video"
	c.StreamID = "video-stream"
	c.MaxSessions = 8
	c.MaxWidth = 1280
	c.MaxHeight = 720
	c.MaxFPS = 30
}

// Validate 验证配置
func (c *WebRTCConfig) Validate() error {
	for i := range c.ICEServers {
		if err := validateICEServer(&c.ICEServers[i]); err != nil {
			return fmt.Errorf("invalid ICE server %d: %w", i, err)
		}
	}

	if c.TrackID == "" || c.StreamID == "" {
		return fmt.Errorf("track_id and stream_id are required")
	}
	if c.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got: %d", c.MaxSessions)
	}
	if c.MaxWidth < 0 || c.MaxHeight < 0 || c.MaxFPS < 0 {
		return fmt.Errorf("output format limits must not be negative: %dx%d@%d", c.MaxWidth, c.MaxHeight, c.MaxFPS)
	}

	return nil
}

// validateICEServer 验证ICE服务器配置
func validateICEServer(server *ICEServerConfig) error {
	if len(server.URLs) == 0 {
		return fmt.Errorf("ICE server must have at least one URL")
	}

	for j, urlStr := range server.URLs {
		parsedURL, err := url.Parse(urlStr)
		if err != nil {
			return fmt.Errorf("invalid URL %d: %w", j, err)
		}

		switch parsedURL.Scheme {
		case "stun", "stuns":
		case "turn", "turns":
			// TURN服务器需要认证信息
			if server.Username == "" || server.Credential == "" {
				return fmt.Errorf("TURN server %s requires username and credential", urlStr)
			}
		default:
			return fmt.Errorf("invalid scheme: %s (must be one of: %s)",
				parsedURL.Scheme, strings.Join([]string{"stun", "stuns", "turn", "turns"}, ", "))
		}

		// 对于STUN/TURN URL，主机名在Opaque字段中
		if parsedURL.Host == "" && parsedURL.Opaque == "" {
			return fmt.Errorf("URL must have a host: %s", urlStr)
		}
	}

	return nil
}
