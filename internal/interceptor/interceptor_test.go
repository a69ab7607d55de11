package interceptor

import (
	"context"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-beagle/bdwind-interceptor/internal/capture"
	"github.com/open-beagle/bdwind-interceptor/internal/processor"
	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

type delivery struct {
	capturer capture.Capturer
	frame    *video.Frame
}

type fakeSource struct {
	mu        sync.Mutex
	delivered []delivery
	started   []bool
	stopped   int
}

func (s *fakeSource) DidCaptureVideoFrame(capturer capture.Capturer, frame *video.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delivered = append(s.delivered, delivery{capturer, frame})
}

func (s *fakeSource) CapturerStarted(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, ok)
}

func (s *fakeSource) CapturerStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped++
}

func (s *fakeSource) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

type fakeCapturer struct{ name string }

func (c *fakeCapturer) Start(context.Context) error        { return nil }
func (c *fakeCapturer) Stop() error                        { return nil }
func (c *fakeCapturer) State() capture.State               { return capture.StateStarted }
func (c *fakeCapturer) SetDelegate(capture.CapturerDelegate) {}

// doublingProcessor emits every frame twice, the second time with a new
// timestamp.
type doublingProcessor struct {
	mu      sync.Mutex
	sink    processor.Sink
	started []bool
	stopped int
	closed  bool
}

func (p *doublingProcessor) SetSink(sink processor.Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *doublingProcessor) OnCapturerStarted(ok bool) { p.started = append(p.started, ok) }
func (p *doublingProcessor) OnCapturerStopped()        { p.stopped++ }

func (p *doublingProcessor) OnFrameCaptured(frame *video.Frame) {
	p.mu.Lock()
	sink := p.sink
	p.mu.Unlock()
	if sink == nil {
		return
	}
	sink.OnFrame(frame)
	second := frame.Clone()
	second.TimestampNs++
	sink.OnFrame(second)
}

func (p *doublingProcessor) Close() error {
	p.closed = true
	return nil
}

func (p *doublingProcessor) currentSink() processor.Sink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sink
}

type countingObserver struct {
	mu                  sync.Mutex
	captured, forwarded int
	dropped             map[string]int
}

func (o *countingObserver) FrameCaptured()  { o.mu.Lock(); o.captured++; o.mu.Unlock() }
func (o *countingObserver) FrameForwarded() { o.mu.Lock(); o.forwarded++; o.mu.Unlock() }
func (o *countingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dropped == nil {
		o.dropped = make(map[string]int)
	}
	o.dropped[reason]++
}

func testFrame(ts int64) *video.Frame {
	return video.NewFrame(video.NewI420Buffer(4, 4), video.Rotation0, ts)
}

func TestNewVideoSourceInterceptor_RetainsSource(t *testing.T) {
	sources := []VideoSource{&fakeSource{}, &fakeSource{}}

	for _, source := range sources {
		i, err := NewVideoSourceInterceptor(source)
		require.NoError(t, err)
		assert.Equal(t, source, i.VideoSource())
		// Stable across calls.
		assert.Equal(t, i.VideoSource(), i.VideoSource())
	}

	a, _ := NewVideoSourceInterceptor(sources[0])
	b, _ := NewVideoSourceInterceptor(sources[1])
	assert.Same(t, sources[0], a.VideoSource())
	assert.Same(t, sources[1], b.VideoSource())
	assert.NotSame(t, a.VideoSource(), b.VideoSource())
}

func TestNewVideoSourceInterceptor_NilSource(t *testing.T) {
	i, err := NewVideoSourceInterceptor(nil)
	assert.ErrorIs(t, err, ErrNilVideoSource)
	assert.Nil(t, i)
}

func TestNewVideoSourceInterceptor_TypedNilSource(t *testing.T) {
	var source *fakeSource
	i, err := NewVideoSourceInterceptor(source)
	assert.ErrorIs(t, err, ErrNilVideoSource)
	assert.Nil(t, i)
}

func TestDidCaptureVideoFrame_ForwardsInOrder(t *testing.T) {
	source := &fakeSource{}
	obs := &countingObserver{}
	i, err := NewVideoSourceInterceptor(source, WithObserver(obs))
	require.NoError(t, err)

	capturer := &fakeCapturer{name: "cam"}
	frames := []*video.Frame{testFrame(1), testFrame(2), testFrame(3)}
	for _, f := range frames {
		i.DidCaptureVideoFrame(capturer, f)
	}

	require.Len(t, source.delivered, 3)
	for n, d := range source.delivered {
		assert.Same(t, frames[n], d.frame)
		assert.Same(t, capturer, d.capturer)
	}
	assert.Equal(t, Stats{FramesReceived: 3, FramesForwarded: 3}, i.Stats())
	assert.Equal(t, 3, obs.captured)
	assert.Equal(t, 3, obs.forwarded)
}

func TestDidCaptureVideoFrame_NilFrame(t *testing.T) {
	source := &fakeSource{}
	obs := &countingObserver{}
	i, err := NewVideoSourceInterceptor(source, WithObserver(obs))
	require.NoError(t, err)

	i.DidCaptureVideoFrame(&fakeCapturer{}, nil)

	assert.Zero(t, source.count())
	assert.Equal(t, uint64(1), i.Stats().FramesDropped)
	assert.Equal(t, 1, obs.dropped[DropReasonNilFrame])
}

func TestDidCaptureVideoFrame_ThroughProcessor(t *testing.T) {
	source := &fakeSource{}
	p := &doublingProcessor{}
	i, err := NewVideoSourceInterceptor(source, WithProcessor(p))
	require.NoError(t, err)
	require.NotNil(t, p.currentSink())

	capturer := &fakeCapturer{name: "cam"}
	i.DidCaptureVideoFrame(capturer, testFrame(10))

	require.Len(t, source.delivered, 2)
	assert.Equal(t, int64(10), source.delivered[0].frame.TimestampNs)
	assert.Equal(t, int64(11), source.delivered[1].frame.TimestampNs)
	for _, d := range source.delivered {
		assert.Same(t, capturer, d.capturer)
	}

	stats := i.Stats()
	assert.Equal(t, uint64(1), stats.FramesReceived)
	assert.Equal(t, uint64(2), stats.FramesForwarded)
	assert.True(t, stats.HasProcessor)
}

func TestSetProcessor_ReplacesAndClosesPrevious(t *testing.T) {
	source := &fakeSource{}
	first := &doublingProcessor{}
	i, err := NewVideoSourceInterceptor(source, WithProcessor(first))
	require.NoError(t, err)

	second := processor.NewPassthrough()
	i.SetProcessor(second)

	assert.Same(t, second, i.Processor())
	assert.True(t, first.closed)
	assert.Nil(t, first.currentSink())

	i.DidCaptureVideoFrame(&fakeCapturer{}, testFrame(1))
	assert.Equal(t, 1, source.count())

	i.SetProcessor(nil)
	assert.Nil(t, i.Processor())
	i.DidCaptureVideoFrame(&fakeCapturer{}, testFrame(2))
	assert.Equal(t, 2, source.count())
}

func TestCapturerStateForwarding(t *testing.T) {
	source := &fakeSource{}
	p := &doublingProcessor{}
	i, err := NewVideoSourceInterceptor(source, WithProcessor(p))
	require.NoError(t, err)

	capture.NotifyStarted(i, true)
	capture.NotifyStopped(i)

	assert.Equal(t, []bool{true}, p.started)
	assert.Equal(t, 1, p.stopped)
	assert.Equal(t, []bool{true}, source.started)
	assert.Equal(t, 1, source.stopped)
}

func TestConcurrentFramesAndProcessorSwaps(t *testing.T) {
	source := &fakeSource{}
	i, err := NewVideoSourceInterceptor(source)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			capturer := &fakeCapturer{}
			for n := 0; n < 200; n++ {
				i.DidCaptureVideoFrame(capturer, testFrame(int64(n)))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for n := 0; n < 50; n++ {
			i.SetProcessor(processor.NewPassthrough())
			i.SetProcessor(nil)
		}
	}()
	wg.Wait()

	stats := i.Stats()
	assert.Equal(t, uint64(800), stats.FramesReceived)
	assert.Equal(t, uint64(source.count()), stats.FramesForwarded)
}

func TestWithLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	i, err := NewVideoSourceInterceptor(&fakeSource{}, WithLogger(logger.WithField("component", "interceptor")))
	require.NoError(t, err)

	i.SetProcessor(processor.NewPassthrough())
	i.SetProcessor(nil)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Contains(t, entry.Message, "processor replaced")
}
