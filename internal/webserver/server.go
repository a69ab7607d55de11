package webserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

// ErrAlreadyRunning 服务器已运行
var ErrAlreadyRunning = errors.New("webserver: already running")

// WebServer Web服务器
type WebServer struct {
	config    *config.WebServerConfig
	pipeline  Pipeline
	signaling http.Handler
	metrics   http.Handler
	version   string
	logger    *logrus.Entry

	server    *http.Server
	router    *mux.Router
	mutex     sync.RWMutex
	listener  net.Listener
	running   bool
	startTime time.Time
}

// Option 配置 WebServer
type Option func(*WebServer)

// WithSignaling 在 signaling_path 上挂载信令 WebSocket 处理器
func WithSignaling(h http.Handler) Option {
	return func(ws *WebServer) { ws.signaling = h }
}

// WithMetricsHandler 在 /metrics 上挂载 Prometheus 处理器
func WithMetricsHandler(h http.Handler) Option {
	return func(ws *WebServer) { ws.metrics = h }
}

func WithVersion(version string) Option {
	return func(ws *WebServer) { ws.version = version }
}

// NewWebServer 创建Web服务器
func NewWebServer(cfg *config.WebServerConfig, pipeline Pipeline, opts ...Option) (*WebServer, error) {
	if cfg == nil {
		cfg = config.DefaultWebServerConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if pipeline == nil {
		return nil, errors.New("webserver: pipeline is required")
	}

	ws := &WebServer{
		config:    cfg,
		pipeline:  pipeline,
		version:   "dev",
		logger:    config.GetLoggerWithPrefix("webserver"),
		router:    mux.NewRouter(),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(ws)
	}

	ws.setupRoutes()

	ws.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      ws.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     config.GetStandardLoggerWithPrefix("webserver-http"),
	}

	return ws, nil
}

func (ws *WebServer) setupRoutes() {
	ws.router.Use(ws.loggingMiddleware)
	if ws.config.EnableCORS {
		ws.router.Use(ws.corsMiddleware)
	}

	api := ws.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", ws.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/version", ws.handleVersion).Methods(http.MethodGet)
	api.HandleFunc("/stats", ws.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/processor", ws.handleGetProcessor).Methods(http.MethodGet)
	if ws.config.EnableCORS {
		api.HandleFunc("/processor", ws.handleSetProcessor).Methods(http.MethodPut, http.MethodOptions)
	} else {
		api.HandleFunc("/processor", ws.handleSetProcessor).Methods(http.MethodPut)
	}
	api.HandleFunc("/snapshot", ws.handleSnapshot).Methods(http.MethodGet)

	ws.router.HandleFunc("/health", ws.handleHealth).Methods(http.MethodGet)

	if ws.signaling != nil {
		ws.router.Handle(ws.config.SignalingPath, ws.signaling)
	}
	if ws.metrics != nil {
		ws.router.Handle("/metrics", ws.metrics).Methods(http.MethodGet)
	}
}

// Handler 获取HTTP处理器
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start 监听端口并在后台提供服务
func (ws *WebServer) Start() error {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()

	if ws.running {
		return ErrAlreadyRunning
	}

	listener, err := net.Listen("tcp", ws.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ws.server.Addr, err)
	}
	ws.listener = listener
	ws.running = true

	ws.logger.Infof("Starting web server on %s", listener.Addr())

	go func() {
		if err := ws.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			ws.logger.Errorf("Web server error: %v", err)
		}
	}()

	return nil
}

// Stop 停止Web服务器
func (ws *WebServer) Stop(ctx context.Context) error {
	ws.mutex.Lock()
	if !ws.running {
		ws.mutex.Unlock()
		return nil
	}
	ws.running = false
	ws.mutex.Unlock()

	ws.logger.Info("Stopping web server...")
	return ws.server.Shutdown(ctx)
}

// Addr 返回实际监听地址
func (ws *WebServer) Addr() string {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	if ws.listener == nil {
		return ""
	}
	return ws.listener.Addr().String()
}

// IsRunning 检查服务器是否运行中
func (ws *WebServer) IsRunning() bool {
	ws.mutex.RLock()
	defer ws.mutex.RUnlock()
	return ws.running
}
