package service

import (
	"sync"
	"sync/atomic"

	"pupctl/internal/models"
)

// LogBus fans process output out to every subscriber. A subscriber whose
// channel is full misses packets; publishers never block.
type LogBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan models.LogPacket
	nextID  uint64
	buffer  int
	dropped atomic.Uint64
}

func NewLogBus(buffer int) *LogBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &LogBus{
		subs:   make(map[uint64]chan models.LogPacket),
		buffer: buffer,
	}
}

// Subscribe registers a new subscriber. The returned cancel func closes the
// channel and is safe to call more than once.
func (b *LogBus) Subscribe() (<-chan models.LogPacket, func()) {
	ch := make(chan models.LogPacket, b.buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

func (b *LogBus) Publish(p models.LogPacket) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- p:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *LogBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped counts packets lost to full subscriber channels.
func (b *LogBus) Dropped() uint64 {
	return b.dropped.Load()
}
