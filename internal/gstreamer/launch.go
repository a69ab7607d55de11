package gstreamer

import (
	"fmt"
	"strings"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

const (
	appSinkName = "sink"
	appSrcName  = "src"
)

// captureLaunch describes a pipeline that delivers raw I420 frames of the
// configured size and rate to an appsink.
func captureLaunch(cfg *config.CaptureConfig) (string, error) {
	var source string
	switch cfg.Source {
	case config.CaptureSourceTestSrc:
		source = "videotestsrc is-live=true pattern=ball"
	case config.CaptureSourceV4L2:
		source = fmt.Sprintf("v4l2src device=%s", cfg.Device)
	default:
		return "", fmt.Errorf("gstreamer: capture source %q is not a GStreamer source", cfg.Source)
	}

	return strings.Join([]string{
		source,
		"videoconvert",
		"videoscale",
		"videorate",
		fmt.Sprintf("video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1", cfg.Width, cfg.Height, cfg.FrameRate),
		fmt.Sprintf("appsink name=%s emit-signals=true sync=false max-buffers=2 drop=true", appSinkName),
	}, " ! "), nil
}

// encoderLaunch describes appsrc -> encoder -> appsink for raw I420 input of
// the given size.
func encoderLaunch(cfg *config.EncoderConfig, width, height, fps int) (string, error) {
	var encoder []string
	switch cfg.Codec {
	case config.CodecH264:
		encoder = []string{
			fmt.Sprintf("x264enc speed-preset=ultrafast tune=zerolatency bitrate=%d key-int-max=%d bframes=0 byte-stream=true",
				cfg.BitrateKbps, cfg.KeyframeInterval),
			"h264parse config-interval=-1",
			"video/x-h264,stream-format=byte-stream,alignment=au",
		}
	case config.CodecVP8:
		encoder = []string{
			fmt.Sprintf("vp8enc deadline=1 cpu-used=8 target-bitrate=%d keyframe-max-dist=%d",
				cfg.BitrateKbps*1000, cfg.KeyframeInterval),
		}
	default:
		return "", fmt.Errorf("gstreamer: unsupported codec %q", cfg.Codec)
	}

	parts := []string{
		fmt.Sprintf("appsrc name=%s is-live=true format=time do-timestamp=false caps=video/x-raw,format=I420,width=%d,height=%d,framerate=%d/1",
			appSrcName, width, height, fps),
		"videoconvert",
	}
	parts = append(parts, encoder...)
	parts = append(parts, fmt.Sprintf("appsink name=%s emit-signals=true sync=false", appSinkName))
	return strings.Join(parts, " ! "), nil
}

// encoderElements lists the plugins encoderLaunch needs for codec.
func encoderElements(codec config.CodecType) []string {
	if codec == config.CodecVP8 {
		return []string{"appsrc", "videoconvert", "vp8enc", "appsink"}
	}
	return []string{"appsrc", "videoconvert", "x264enc", "h264parse", "appsink"}
}
