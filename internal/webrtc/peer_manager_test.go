package webrtc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/bdwind-interceptor/internal/config"
)

type recordingSessionObserver struct {
	mu     sync.Mutex
	counts []int
}

func (o *recordingSessionObserver) SessionsActive(n int) {
	o.mu.Lock()
	o.counts = append(o.counts, n)
	o.mu.Unlock()
}

func (o *recordingSessionObserver) last() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.counts) == 0 {
		return -1
	}
	return o.counts[len(o.counts)-1]
}

func offlineConfig(maxSessions int) *config.WebRTCConfig {
	cfg := config.DefaultWebRTCConfig()
	cfg.ICEServers = nil
	cfg.MaxSessions = maxSessions
	return cfg
}

func newTestTrack(t *testing.T) *webrtc.TrackLocalStaticSample {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "video-stream")
	require.NoError(t, err)
	return track
}

// browserOffer creates a receive-only video offer the way a viewer would.
func browserOffer(t *testing.T) (*webrtc.PeerConnection, webrtc.SessionDescription) {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	})
	require.NoError(t, err)

	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	require.NoError(t, pc.SetLocalDescription(offer))
	return pc, offer
}

func TestNewPeerManager_RequiresTrack(t *testing.T) {
	_, err := NewPeerManager(offlineConfig(1), nil)
	assert.Error(t, err)
}

func TestPeerManager_SessionLifecycle(t *testing.T) {
	obs := &recordingSessionObserver{}
	m, err := NewPeerManager(offlineConfig(2), newTestTrack(t), WithSessionObserver(obs))
	require.NoError(t, err)
	defer m.CloseAll()

	_, err = m.CreateSession("a", nil)
	require.NoError(t, err)
	_, err = m.CreateSession("a", nil)
	assert.ErrorIs(t, err, ErrSessionExists)

	_, err = m.CreateSession("b", nil)
	require.NoError(t, err)
	_, err = m.CreateSession("c", nil)
	assert.ErrorIs(t, err, ErrTooManySessions)

	assert.Equal(t, 2, m.Count())
	assert.Equal(t, 2, obs.last())

	sessions := m.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].State)

	require.NoError(t, m.Close("a"))
	require.NoError(t, m.Close("a"), "closing twice is a no-op")
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, obs.last())

	require.NoError(t, m.CloseAll())
	assert.Zero(t, m.Count())
	assert.Equal(t, 0, obs.last())
}

func TestPeerManager_HandleOffer(t *testing.T) {
	m, err := NewPeerManager(offlineConfig(1), newTestTrack(t))
	require.NoError(t, err)
	defer m.CloseAll()

	_, offer := browserOffer(t)

	_, err = m.HandleOffer("missing", offer)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.AddICECandidate("missing", webrtc.ICECandidateInit{Candidate: "x"}), ErrSessionNotFound)

	_, err = m.CreateSession("viewer", nil)
	require.NoError(t, err)

	answer, err := m.HandleOffer("viewer", offer)
	require.NoError(t, err)
	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.True(t, strings.Contains(answer.SDP, "m=video"))
	assert.True(t, strings.Contains(answer.SDP, "VP8"))
}

func TestPeerManager_CleanupStale(t *testing.T) {
	m, err := NewPeerManager(offlineConfig(4), newTestTrack(t), WithConnectTimeout(time.Minute))
	require.NoError(t, err)
	defer m.CloseAll()

	_, err = m.CreateSession("old", nil)
	require.NoError(t, err)

	m.cleanupStale(time.Now())
	assert.Equal(t, 1, m.Count())

	m.cleanupStale(time.Now().Add(2 * time.Minute))
	assert.Zero(t, m.Count())
}

func TestPeerManager_RunClosesOnCancel(t *testing.T) {
	m, err := NewPeerManager(offlineConfig(4), newTestTrack(t))
	require.NoError(t, err)

	_, err = m.CreateSession("viewer", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Zero(t, m.Count())
}
