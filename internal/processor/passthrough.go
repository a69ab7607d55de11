package processor

import (
	"sync"
	"sync/atomic"

	"github.com/open-beagle/bdwind-interceptor/internal/video"
)

// Passthrough forwards every frame to its sink unchanged.
type Passthrough struct {
	mu   sync.RWMutex
	sink Sink

	framesIn atomic.Uint64
	dropped  atomic.Uint64
}

// NewPassthrough creates a Passthrough with no sink.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (p *Passthrough) SetSink(sink Sink) {
	p.mu.Lock()
	p.sink = sink
	p.mu.Unlock()
}

func (p *Passthrough) OnCapturerStarted(bool) {}

func (p *Passthrough) OnCapturerStopped() {}

func (p *Passthrough) OnFrameCaptured(frame *video.Frame) {
	p.framesIn.Add(1)

	p.mu.RLock()
	sink := p.sink
	p.mu.RUnlock()

	if sink == nil {
		p.dropped.Add(1)
		return
	}
	sink.OnFrame(frame)
}

// Stats returns the processor counters.
func (p *Passthrough) Stats() Stats {
	in := p.framesIn.Load()
	dropped := p.dropped.Load()
	return Stats{
		FramesIn:        in,
		FramesProcessed: in - dropped,
		FramesDropped:   dropped,
	}
}
