package config

import (
	"fmt"
	"strings"
)

// CodecType 编解码器类型
type CodecType string

const (
	CodecH264 CodecType = "h264"
	CodecVP8  CodecType = "vp8"
)

// GetCodecTypeFromString 从字符串获取编解码器类型
func GetCodecTypeFromString(s string) CodecType {
	switch strings.ToLower(s) {
	case "vp8":
		return CodecVP8
	default:
		return CodecH264
	}
}

// EncoderConfig 编码器配置
type EncoderConfig struct {
	Codec            CodecType `yaml:"codec" json:"codec"`
	BitrateKbps      int       `yaml:"bitrate_kbps" json:"bitrate_kbps"`
	KeyframeInterval int       `yaml:"keyframe_interval" json:"keyframe_interval"`
}

// DefaultEncoderConfig 返回默认编码器配置
func DefaultEncoderConfig() *EncoderConfig {
	return &EncoderConfig{
		Codec:            CodecH264,
		BitrateKbps:      2000,
		KeyframeInterval: 30,
	}
}

// Validate 验证编码器配置
func (c *EncoderConfig) Validate() error {
	if c.Codec != CodecH264 && c.Codec != CodecVP8 {
		return fmt.Errorf("invalid codec: %s, must be 'h264' or 'vp8'", c.Codec)
	}
	if c.BitrateKbps < 100 || c.BitrateKbps > 50000 {
		return fmt.Errorf("invalid bitrate: %d kbps (must be between 100 and 50000)", c.BitrateKbps)
	}
	if c.KeyframeInterval < 1 {
		return fmt.Errorf("keyframe interval must be positive, got: %d", c.KeyframeInterval)
	}
	return nil
}
