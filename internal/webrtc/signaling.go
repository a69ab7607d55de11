package webrtc

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

// Signaling message types.
const (
	MessageTypeOffer     = "offer"
	MessageTypeAnswer    = "answer"
	MessageTypeCandidate = "candidate"
	MessageTypeError     = "error"
	MessageTypeBye       = "bye"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// SignalMessage is the JSON envelope exchanged over the signaling socket.
type SignalMessage struct {
	Type      string                   `json:"type"`
	SessionID string                   `json:"session_id,omitempty"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`
}

// SignalingHandler upgrades HTTP requests to WebSocket and negotiates one
// peer session per connection.
type SignalingHandler struct {
	peers    *PeerManager
	upgrader websocket.Upgrader
	logger   *logrus.Entry

	mu      sync.Mutex
	clients map[string]*signalingClient
}

// NewSignalingHandler creates a handler that creates sessions on peers.
func NewSignalingHandler(peers *PeerManager) *SignalingHandler {
	return &SignalingHandler{
		peers: peers,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  config.GetLoggerWithPrefix("signaling"),
		clients: make(map[string]*signalingClient),
	}
}

func (h *SignalingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	id := uuid.NewString()
	c := &signalingClient{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: h.logger.WithField("session_id", id),
	}

	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	c.logger.Infof("Signaling client connected from %s", r.RemoteAddr)

	go c.writePump()
	c.readPump(h.handleMessage)

	if err := h.peers.Close(c.id); err != nil {
		c.logger.Warnf("Failed to close session: %v", err)
	}
	c.close()

	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()

	c.logger.Info("Signaling client disconnected")
}

// Close disconnects every signaling client.
func (h *SignalingHandler) Close() {
	h.mu.Lock()
	clients := make([]*signalingClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// ClientCount returns the number of connected signaling clients.
func (h *SignalingHandler) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *SignalingHandler) handleMessage(c *signalingClient, msg *SignalMessage) {
	switch msg.Type {
	case MessageTypeOffer:
		h.handleOffer(c, msg)

	case MessageTypeCandidate:
		if msg.Candidate == nil {
			c.sendError("candidate message without candidate")
			return
		}
		if err := h.peers.AddICECandidate(c.id, *msg.Candidate); err != nil {
			c.sendError(err.Error())
		}

	case MessageTypeBye:
		if err := h.peers.Close(c.id); err != nil {
			c.logger.Warnf("Failed to close session: %v", err)
		}
		c.resetNegotiation()

	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (h *SignalingHandler) handleOffer(c *signalingClient, msg *SignalMessage) {
	if msg.SDP == "" {
		c.sendError("offer without sdp")
		return
	}

	if _, err := h.peers.get(c.id); errors.Is(err, ErrSessionNotFound) {
		if _, err := h.peers.CreateSession(c.id, c.sendCandidate); err != nil {
			c.sendError(err.Error())
			return
		}
	}

	answer, err := h.peers.HandleOffer(c.id, webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	})
	if err != nil {
		c.logger.Warnf("Failed to handle offer: %v", err)
		c.sendError(err.Error())
		return
	}

	c.sendAnswer(answer.SDP)
}

type signalingClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *logrus.Entry

	// local candidates gathered before the answer went out
	mu       sync.Mutex
	answered bool
	pending  []webrtc.ICECandidateInit
}

func (c *signalingClient) close() {
	c.once.Do(func() {
		close(c.done)
	})
}

func (c *signalingClient) readPump(handle func(*signalingClient, *SignalMessage)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("WebSocket read error: %v", err)
			}
			return
		}

		var msg SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message: " + err.Error())
			continue
		}
		handle(c, &msg)
	}
}

func (c *signalingClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warnf("WebSocket write error: %v", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warnf("WebSocket ping failed: %v", err)
				c.close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *signalingClient) sendMessage(msg SignalMessage) {
	msg.SessionID = c.id
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Errorf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.logger.Warnf("Send buffer full, dropping %s message", msg.Type)
	}
}

func (c *signalingClient) sendError(message string) {
	c.sendMessage(SignalMessage{Type: MessageTypeError, Error: message})
}

func (c *signalingClient) sendAnswer(sdp string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendMessage(SignalMessage{Type: MessageTypeAnswer, SDP: sdp})
	c.answered = true
	for i := range c.pending {
		c.sendMessage(SignalMessage{Type: MessageTypeCandidate, Candidate: &c.pending[i]})
	}
	c.pending = nil
}

func (c *signalingClient) sendCandidate(candidate webrtc.ICECandidateInit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.answered {
		c.pending = append(c.pending, candidate)
		return
	}
	c.sendMessage(SignalMessage{Type: MessageTypeCandidate, Candidate: &candidate})
}

func (c *signalingClient) resetNegotiation() {
	c.mu.Lock()
	c.answered = false
	c.pending = nil
	c.mu.Unlock()
}
