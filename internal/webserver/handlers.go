package webserver

import (
	"encoding/json"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

// Pipeline 由应用层实现，Web 层通过它读取状态和切换处理模式
type Pipeline interface {
	Status() PipelineStatus
	Stats() map[string]any
	ProcessorMode() config.ProcessorMode
	SetProcessorMode(mode config.ProcessorMode) error
	// Snapshot 返回最近一帧处理前的画面，没有时返回 false
	Snapshot() (image.Image, bool)
}

// PipelineStatus 管线状态
type PipelineStatus struct {
	Capturing     bool   `json:"capturing"`
	Source        string `json:"source"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FrameRate     int    `json:"framerate"`
	ProcessorMode string `json:"processor_mode"`
	Codec         string `json:"codec"`
	Sessions      int    `json:"sessions"`
}

type statusResponse struct {
	Status    string         `json:"status"`
	Timestamp int64          `json:"timestamp"`
	Uptime    float64        `json:"uptime"`
	Version   string         `json:"version"`
	Pipeline  PipelineStatus `json:"pipeline"`
}

type processorRequest struct {
	Mode string `json:"mode"`
}

type processorResponse struct {
	Mode string `json:"mode"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API处理器
func (ws *WebServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, statusResponse{
		Status:    "running",
		Timestamp: time.Now().Unix(),
		Uptime:    time.Since(ws.startTime).Seconds(),
		Version:   ws.version,
		Pipeline:  ws.pipeline.Status(),
	})
}

func (ws *WebServer) handleVersion(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, map[string]string{"version": ws.version})
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	capturing := ws.pipeline.Status().Capturing

	status, code := "healthy", http.StatusOK
	if !capturing {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	ws.writeJSON(w, code, map[string]any{
		"status": status,
		"checks": map[string]bool{
			"webserver": ws.IsRunning(),
			"capture":   capturing,
		},
	})
}

func (ws *WebServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := ws.pipeline.Stats()
	if stats == nil {
		stats = make(map[string]any)
	}
	stats["server"] = map[string]any{
		"uptime":     time.Since(ws.startTime).Seconds(),
		"start_time": ws.startTime.Unix(),
	}
	ws.writeJSON(w, http.StatusOK, stats)
}

func (ws *WebServer) handleGetProcessor(w http.ResponseWriter, r *http.Request) {
	ws.writeJSON(w, http.StatusOK, processorResponse{Mode: string(ws.pipeline.ProcessorMode())})
}

func (ws *WebServer) handleSetProcessor(w http.ResponseWriter, r *http.Request) {
	var req processorRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		ws.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	mode, err := config.ParseProcessorMode(req.Mode)
	if err != nil {
		ws.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := ws.pipeline.SetProcessorMode(mode); err != nil {
		ws.logger.Warnf("Failed to switch processor to %s: %v", mode, err)
		ws.writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	ws.logger.Infof("Processor mode switched to %s", mode)
	ws.writeJSON(w, http.StatusOK, processorResponse{Mode: string(mode)})
}

func (ws *WebServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	img, ok := ws.pipeline.Snapshot()
	if !ok || img == nil {
		ws.writeJSON(w, http.StatusNotFound, errorResponse{Error: "no frame available"})
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		ws.logger.Warnf("Failed to encode snapshot: %v", err)
	}
}

// 工具方法
func (ws *WebServer) writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ws.logger.Warnf("Failed to encode JSON: %v", err)
	}
}
