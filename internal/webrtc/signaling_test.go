package webrtc

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialSignaling(t *testing.T, h *SignalingHandler) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of type msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) SignalMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg SignalMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func newTestSignaling(t *testing.T, maxSessions int) (*SignalingHandler, *PeerManager) {
	t.Helper()
	peers, err := NewPeerManager(offlineConfig(maxSessions), newTestTrack(t))
	require.NoError(t, err)
	t.Cleanup(func() { peers.CloseAll() })
	return NewSignalingHandler(peers), peers
}

func TestSignaling_OfferAnswer(t *testing.T) {
	h, peers := newTestSignaling(t, 2)
	conn := dialSignaling(t, h)

	_, offer := browserOffer(t)
	require.NoError(t, conn.WriteJSON(SignalMessage{Type: MessageTypeOffer, SDP: offer.SDP}))

	answer := readUntil(t, conn, MessageTypeAnswer)
	assert.NotEmpty(t, answer.SessionID)
	assert.Contains(t, answer.SDP, "m=video")
	assert.Equal(t, 1, peers.Count())
	assert.Equal(t, 1, h.ClientCount())

	require.NoError(t, conn.WriteJSON(SignalMessage{Type: MessageTypeBye}))
	assert.Eventually(t, func() bool { return peers.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSignaling_DisconnectClosesSession(t *testing.T) {
	h, peers := newTestSignaling(t, 2)
	conn := dialSignaling(t, h)

	_, offer := browserOffer(t)
	require.NoError(t, conn.WriteJSON(SignalMessage{Type: MessageTypeOffer, SDP: offer.SDP}))
	readUntil(t, conn, MessageTypeAnswer)

	conn.Close()
	assert.Eventually(t, func() bool { return peers.Count() == 0 && h.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestSignaling_Errors(t *testing.T) {
	h, _ := newTestSignaling(t, 1)
	conn := dialSignaling(t, h)

	tests := []struct {
		name    string
		payload string
		errMsg  string
	}{
		{"invalid json", `{"type":`, "invalid message"},
		{"unknown type", `{"type":"subscribe"}`, "unknown message type"},
		{"offer without sdp", `{"type":"offer"}`, "offer without sdp"},
		{"candidate without candidate", `{"type":"candidate"}`, "without candidate"},
		{"candidate before offer", `{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host"}}`, "session not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(tt.payload)))
			msg := readUntil(t, conn, MessageTypeError)
			assert.Contains(t, msg.Error, tt.errMsg)
			assert.NotEmpty(t, msg.SessionID)
		})
	}
}

func TestSignaling_MaxSessions(t *testing.T) {
	h, _ := newTestSignaling(t, 1)

	first := dialSignaling(t, h)
	_, offer := browserOffer(t)
	require.NoError(t, first.WriteJSON(SignalMessage{Type: MessageTypeOffer, SDP: offer.SDP}))
	readUntil(t, first, MessageTypeAnswer)

	second := dialSignaling(t, h)
	_, offer2 := browserOffer(t)
	require.NoError(t, second.WriteJSON(SignalMessage{Type: MessageTypeOffer, SDP: offer2.SDP}))
	msg := readUntil(t, second, MessageTypeError)
	assert.Contains(t, msg.Error, "maximum sessions")
}
