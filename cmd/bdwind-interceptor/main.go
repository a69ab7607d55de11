package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

const (
	AppName    = "BDWind-Interceptor"
	AppVersion = "1.0.0"
)

// flagOverrides 命令行参数，空值表示不覆盖配置
type flagOverrides struct {
	port      int
	host      string
	source    string
	device    string
	mode      string
	logLevel  string
	logOutput string
	logFile   string
}

// apply 命令行参数覆盖配置
func (f *flagOverrides) apply(cfg *config.Config) error {
	if f.port != 0 {
		cfg.WebServer.Port = f.port
	}
	if f.host != "" {
		cfg.WebServer.Host = f.host
	}
	if f.source != "" {
		cfg.Capture.Source = config.CaptureSource(f.source)
	}
	if f.device != "" {
		cfg.Capture.Device = f.device
	}
	if f.mode != "" {
		mode, err := config.ParseProcessorMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Processor.Mode = mode
	}

	// 日志配置覆盖
	if f.logLevel != "" {
		level, err := config.ParseLogLevel(f.logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", f.logLevel, err)
		}
		cfg.Logging.Level = level
	}
	if f.logOutput != "" {
		cfg.Logging.Output = f.logOutput
	}
	if f.logFile != "" {
		cfg.Logging.File = f.logFile
		if f.logOutput == "" {
			cfg.Logging.Output = "file"
		}
	}
	return nil
}

// loadConfig 默认值 < 配置文件 < 环境变量 < 命令行参数
func loadConfig(configFile string, overrides *flagOverrides) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadConfigFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	if err := overrides.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	var (
		configFile = flag.String("config", "", "Configuration file path")
		version    = flag.Bool("version", false, "Show version information")
		overrides  flagOverrides
	)
	flag.IntVar(&overrides.port, "port", 0, "Web server port")
	flag.StringVar(&overrides.host, "host", "", "Web server host")
	flag.StringVar(&overrides.source, "source", "", "Capture source (pattern, videotestsrc, v4l2)")
	flag.StringVar(&overrides.device, "device", "", "V4L2 device path")
	flag.StringVar(&overrides.mode, "mode", "", "Background processor mode (none, blur, image)")
	flag.StringVar(&overrides.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	flag.StringVar(&overrides.logOutput, "log-output", "", "Log output (stdout, stderr, file)")
	flag.StringVar(&overrides.logFile, "log-file", "", "Log file path (when log-output is file)")
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", AppName, AppVersion)
		fmt.Println("WebRTC camera streaming with background replacement")
		return
	}

	cfg, err := loadConfig(*configFile, &overrides)
	if err != nil {
		logrus.Fatal(err)
	}

	// 初始化日志系统
	closer, err := config.SetupLogger(cfg.Logging)
	if err != nil {
		logrus.Fatalf("Failed to setup logger: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}

	app, err := NewBDWindApp(cfg)
	if err != nil {
		logrus.Fatalf("Failed to create application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("\n%s v%s\n", AppName, AppVersion)
	fmt.Printf("Web Interface: http://%s\n", cfg.WebServer.Address())
	fmt.Printf("Signaling: ws://%s%s\n", cfg.WebServer.Address(), cfg.WebServer.SignalingPath)
	if cfg.Metrics.Enabled {
		fmt.Printf("Metrics: http://%s%s\n", cfg.Metrics.Address(), cfg.Metrics.Path)
	}
	fmt.Printf("Capture: %s, Processor: %s, Codec: %s\n", cfg.Capture.Source, cfg.Processor.Mode, cfg.Encoder.Codec)
	fmt.Println("\nPress Ctrl+C to stop")

	if err := app.Run(ctx); err != nil {
		logrus.Errorf("Application error: %v", err)
		if closer != nil {
			closer.Close()
		}
		os.Exit(1)
	}
}
