package audio

import (
	"context"
	"sync"
)

// DefaultPushBuffer holds about 16 seconds of 1024-sample frames at 16 kHz.
const DefaultPushBuffer = 256

// PushSource is fed by a collaborator (e.g. a websocket ingest) through Push.
type PushSource struct {
	frames  chan []byte
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

// NewPushSource creates a push source buffering up to size frames.
func NewPushSource(size int) *PushSource {
	if size <= 0 {
		size = DefaultPushBuffer
	}
	return &PushSource{
		frames: make(chan []byte, size),
		closed: make(chan struct{}),
	}
}

// Read returns the next pushed frame.
func (s *PushSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrSourceClosed
	case frame := <-s.frames:
		return frame, nil
	}
}

// Push enqueues a frame without blocking.
func (s *PushSource) Push(frame []byte) error {
	select {
	case <-s.closed:
		return ErrSourceClosed
	default:
	}
	select {
	case s.frames <- frame:
		return nil
	default:
		return ErrBufferFull
	}
}

// Close releases the source. Idempotent.
func (s *PushSource) Close() error {
	s.once.Do(func() {
		close(s.closed)
		if s.onClose != nil {
			s.onClose()
		}
	})
	return nil
}

// Broker routes pushed audio to the active push source of each tenant.
type Broker struct {
	mu      sync.Mutex
	sources map[string]*PushSource
	size    int
}

// NewBroker creates a broker whose sources buffer size frames.
func NewBroker(size int) *Broker {
	return &Broker{
		sources: make(map[string]*PushSource),
		size:    size,
	}
}

// Open is an audio.Factory: it registers a fresh push source for the tenant,
// replacing any previous one.
func (b *Broker) Open(ctx context.Context, tenantId string) (Source, error) {
	src := NewPushSource(b.size)
	src.onClose = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.sources[tenantId] == src {
			delete(b.sources, tenantId)
		}
	}

	b.mu.Lock()
	prev := b.sources[tenantId]
	b.sources[tenantId] = src
	b.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	return src, nil
}

// Push forwards a frame to the tenant's active source.
func (b *Broker) Push(tenantId string, frame []byte) error {
	b.mu.Lock()
	src := b.sources[tenantId]
	b.mu.Unlock()
	if src == nil {
		return ErrNoActiveSource
	}
	return src.Push(frame)
}

// Active reports whether the tenant has an open push source.
func (b *Broker) Active(tenantId string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sources[tenantId]
	return ok
}
