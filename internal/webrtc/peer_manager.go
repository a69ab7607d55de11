package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

var (
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("webrtc: session not found")

	// ErrSessionExists 会话已存在
	ErrSessionExists = errors.New("webrtc: session already exists")

	// ErrTooManySessions 超过最大会话数
	ErrTooManySessions = errors.New("webrtc: maximum sessions reached")
)

// SessionObserver 会话数量变化通知
type SessionObserver interface {
	SessionsActive(n int)
}

// Session 一个浏览器对等连接
type Session struct {
	ID        string
	PC        *webrtc.PeerConnection
	CreatedAt time.Time

	mu    sync.RWMutex
	state webrtc.PeerConnectionState
}

// State 返回连接状态
func (s *Session) State() webrtc.PeerConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(state webrtc.PeerConnectionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// SessionInfo 会话信息快照
type SessionInfo struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// PeerManager 管理共享同一视频轨道的对等连接
type PeerManager struct {
	api         *webrtc.API
	config      webrtc.Configuration
	track       webrtc.TrackLocal
	maxSessions int
	logger      *logrus.Entry
	observer    SessionObserver

	// 未连接会话的超时时间
	connectTimeout  time.Duration
	cleanupInterval time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

// PeerManagerOption PeerManager 可选配置
type PeerManagerOption func(*PeerManager)

// WithSessionObserver 设置会话数量观察者
func WithSessionObserver(o SessionObserver) PeerManagerOption {
	return func(m *PeerManager) {
		m.observer = o
	}
}

// WithConnectTimeout 设置未连接会话的清理超时
func WithConnectTimeout(timeout time.Duration) PeerManagerOption {
	return func(m *PeerManager) {
		if timeout > 0 {
			m.connectTimeout = timeout
		}
	}
}

// NewPeerManager 创建对等连接管理器
func NewPeerManager(cfg *config.WebRTCConfig, track webrtc.TrackLocal, opts ...PeerManagerOption) (*PeerManager, error) {
	if cfg == nil {
		cfg = config.DefaultWebRTCConfig()
	}
	if track == nil {
		return nil, fmt.Errorf("webrtc: track must not be nil")
	}

	logger := config.GetLoggerWithPrefix("peer-manager")

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	settingEngine := webrtc.SettingEngine{
		LoggerFactory: NewLoggerFactory(config.GetLoggerWithPrefix("pion")),
	}

	iceServers := make([]webrtc.ICEServer, 0, len(cfg.ICEServers))
	for _, server := range cfg.ICEServers {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:       server.URLs,
			Username:   server.Username,
			Credential: server.Credential,
		})
	}

	m := &PeerManager{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(settingEngine),
		),
		config: webrtc.Configuration{
			ICEServers:         iceServers,
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
			BundlePolicy:       webrtc.BundlePolicyMaxBundle,
			RTCPMuxPolicy:      webrtc.RTCPMuxPolicyRequire,
		},
		track:           track,
		maxSessions:     cfg.MaxSessions,
		logger:          logger,
		connectTimeout:  30 * time.Second,
		cleanupInterval: 10 * time.Second,
		sessions:        make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.maxSessions <= 0 {
		m.maxSessions = 1
	}

	return m, nil
}

// CreateSession 为客户端创建对等连接，onCandidate 接收本地ICE候选
func (m *PeerManager) CreateSession(id string, onCandidate func(webrtc.ICECandidateInit)) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, id)
	}
	if len(m.sessions) >= m.maxSessions {
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, m.maxSessions)
	}

	pc, err := m.api.NewPeerConnection(m.config)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sender, err := pc.AddTrack(m.track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("failed to add video track: %w", err)
	}

	// RTCP 必须被读取，拦截器才能处理 NACK 和 PLI
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	session := &Session{
		ID:        id,
		PC:        pc,
		CreatedAt: time.Now(),
		state:     webrtc.PeerConnectionStateNew,
	}

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil || onCandidate == nil {
			return
		}
		onCandidate(candidate.ToJSON())
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Infof("Session %s connection state changed: %s", id, state.String())
		session.setState(state)
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			go m.Close(id)
		}
	})

	m.sessions[id] = session
	m.notify(len(m.sessions))
	m.logger.Infof("Session %s created (active: %d)", id, len(m.sessions))

	return session, nil
}

func (m *PeerManager) notify(n int) {
	if m.observer != nil {
		m.observer.SessionsActive(n)
	}
}

func (m *PeerManager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return session, nil
}

// HandleOffer 应用远端 offer 并返回本地 answer
func (m *PeerManager) HandleOffer(id string, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	session, err := m.get(id)
	if err != nil {
		return nil, err
	}

	if err := session.PC.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := session.PC.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create answer: %w", err)
	}

	if err := session.PC.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("failed to set local description: %w", err)
	}

	return session.PC.LocalDescription(), nil
}

// AddICECandidate 添加远端ICE候选
func (m *PeerManager) AddICECandidate(id string, candidate webrtc.ICECandidateInit) error {
	session, err := m.get(id)
	if err != nil {
		return err
	}
	if err := session.PC.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// Close 关闭并移除会话，会话不存在时返回 nil
func (m *PeerManager) Close(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.notify(len(m.sessions))
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	m.logger.Infof("Session %s closed", id)
	if err := session.PC.Close(); err != nil {
		return fmt.Errorf("failed to close peer connection %s: %w", id, err)
	}
	return nil
}

// CloseAll 关闭所有会话
func (m *PeerManager) CloseAll() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var errs []error
	for _, id := range ids {
		if err := m.Close(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count 返回活跃会话数
func (m *PeerManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sessions 返回会话快照，按创建时间排序
func (m *PeerManager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, SessionInfo{ID: s.ID, State: s.State().String(), CreatedAt: s.CreatedAt})
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Run 定期清理超时未连接的会话，直到 ctx 结束后关闭所有会话
func (m *PeerManager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.CloseAll()
		case <-ticker.C:
			m.cleanupStale(time.Now())
		}
	}
}

func (m *PeerManager) cleanupStale(now time.Time) {
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		state := s.State()
		if state != webrtc.PeerConnectionStateConnected && now.Sub(s.CreatedAt) > m.connectTimeout {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.logger.Warnf("Session %s did not connect within %v, closing", id, m.connectTimeout)
		if err := m.Close(id); err != nil {
			m.logger.Warnf("Failed to close stale session: %v", err)
		}
	}
}
