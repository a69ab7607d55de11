package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

type fakePipeline struct {
	mu       sync.Mutex
	mode     config.ProcessorMode
	setErr   error
	snapshot image.Image
	status   PipelineStatus
}

func (p *fakePipeline) Status() PipelineStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.status
	s.ProcessorMode = string(p.mode)
	return s
}

func (p *fakePipeline) Stats() map[string]any {
	return map[string]any{"interceptor": map[string]int{"frames_received": 7}}
}

func (p *fakePipeline) ProcessorMode() config.ProcessorMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

func (p *fakePipeline) SetProcessorMode(mode config.ProcessorMode) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.setErr != nil {
		return p.setErr
	}
	p.mode = mode
	return nil
}

func (p *fakePipeline) Snapshot() (image.Image, bool) {
	return p.snapshot, p.snapshot != nil
}

func newTestServer(t *testing.T, p *fakePipeline, opts ...Option) *WebServer {
	t.Helper()
	cfg := config.DefaultWebServerConfig()
	cfg.Host = "127.0.0.1"
	ws, err := NewWebServer(cfg, p, opts...)
	require.NoError(t, err)
	return ws
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewWebServer_Validation(t *testing.T) {
	cfg := config.DefaultWebServerConfig()
	cfg.Port = 0
	_, err := NewWebServer(cfg, &fakePipeline{})
	assert.Error(t, err)

	_, err = NewWebServer(config.DefaultWebServerConfig(), nil)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	p := &fakePipeline{
		mode:   config.ProcessorModeBlur,
		status: PipelineStatus{Capturing: true, Source: "pattern", Width: 640, Height: 480, FrameRate: 30, Codec: "h264", Sessions: 1},
	}
	ws := newTestServer(t, p, WithVersion("1.2.3"))

	rec := do(t, ws.Handler(), http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "running", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "blur", resp.Pipeline.ProcessorMode)
	assert.Equal(t, 640, resp.Pipeline.Width)
	assert.Equal(t, 1, resp.Pipeline.Sessions)
}

func TestHealth(t *testing.T) {
	p := &fakePipeline{status: PipelineStatus{Capturing: true}}
	ws := newTestServer(t, p)

	rec := do(t, ws.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	p.status.Capturing = false
	rec = do(t, ws.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestStats(t *testing.T) {
	ws := newTestServer(t, &fakePipeline{})

	rec := do(t, ws.Handler(), http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp, "interceptor")
	assert.Contains(t, resp, "server")
}

func TestProcessorMode(t *testing.T) {
	p := &fakePipeline{mode: config.ProcessorModeNone}
	ws := newTestServer(t, p)
	h := ws.Handler()

	rec := do(t, h, http.MethodGet, "/api/processor", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mode":"none"}`, rec.Body.String())

	tests := []struct {
		name     string
		body     string
		wantCode int
		wantMode config.ProcessorMode
	}{
		{"switch to blur", `{"mode":"blur"}`, http.StatusOK, config.ProcessorModeBlur},
		{"case insensitive", `{"mode":" IMAGE "}`, http.StatusOK, config.ProcessorModeImage},
		{"empty means none", `{"mode":""}`, http.StatusOK, config.ProcessorModeNone},
		{"unknown mode", `{"mode":"sepia"}`, http.StatusBadRequest, config.ProcessorModeNone},
		{"bad json", `{mode`, http.StatusBadRequest, config.ProcessorModeNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPut, "/api/processor", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantMode, p.ProcessorMode())
		})
	}
}

func TestProcessorMode_SwitchError(t *testing.T) {
	p := &fakePipeline{mode: config.ProcessorModeNone, setErr: errors.New("background_image is required")}
	ws := newTestServer(t, p)

	rec := do(t, ws.Handler(), http.MethodPut, "/api/processor", `{"mode":"image"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "background_image is required")
	assert.Equal(t, config.ProcessorModeNone, p.ProcessorMode())
}

func TestSnapshot(t *testing.T) {
	p := &fakePipeline{}
	ws := newTestServer(t, p)

	rec := do(t, ws.Handler(), http.MethodGet, "/api/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Set(0, 0, color.NRGBA{R: 255, A: 255})
	p.snapshot = img

	rec = do(t, ws.Handler(), http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	decoded, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 2), decoded.Bounds())
	r, g, b, _ := decoded.At(0, 0).RGBA()
	assert.Equal(t, uint32(0xffff), r)
	assert.Equal(t, uint32(0), g)
	assert.Equal(t, uint32(0), b)
}

func TestCORS(t *testing.T) {
	ws := newTestServer(t, &fakePipeline{})

	rec := do(t, ws.Handler(), http.MethodOptions, "/api/processor", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	cfg := config.DefaultWebServerConfig()
	cfg.EnableCORS = false
	noCORS, err := NewWebServer(cfg, &fakePipeline{})
	require.NoError(t, err)

	rec = do(t, noCORS.Handler(), http.MethodGet, "/api/status", "")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMountedHandlers(t *testing.T) {
	signaling := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("frames_captured_total 1\n"))
	})
	ws := newTestServer(t, &fakePipeline{}, WithSignaling(signaling), WithMetricsHandler(metrics))

	assert.Equal(t, http.StatusTeapot, do(t, ws.Handler(), http.MethodGet, "/ws", "").Code)
	assert.Contains(t, do(t, ws.Handler(), http.MethodGet, "/metrics", "").Body.String(), "frames_captured_total")

	bare := newTestServer(t, &fakePipeline{})
	assert.Equal(t, http.StatusNotFound, do(t, bare.Handler(), http.MethodGet, "/ws", "").Code)
}

func TestStartStop(t *testing.T) {
	cfg := config.DefaultWebServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	ws, err := NewWebServer(cfg, &fakePipeline{status: PipelineStatus{Capturing: true}})
	require.NoError(t, err)

	// 使用随机端口
	ws.server.Addr = "127.0.0.1:0"
	require.NoError(t, ws.Start())
	assert.True(t, ws.IsRunning())
	assert.ErrorIs(t, ws.Start(), ErrAlreadyRunning)

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + ws.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, ws.Stop(ctx))
	assert.False(t, ws.IsRunning())
	require.NoError(t, ws.Stop(ctx))
}
