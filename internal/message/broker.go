package message

import (
	"log/slog"
	"sync"
)

// Broker fans messages out to subscribed observers.
//
// Publish never blocks: a subscriber whose buffer is full misses the message
// and a warning is logged.
type Broker struct {
	mu      sync.RWMutex
	subs    map[chan Message]struct{}
	closed  bool
	logger  *slog.Logger
	bufSize int
}

// NewBroker creates a broker whose subscriber channels buffer bufSize
// messages (minimum 1).
func NewBroker(bufSize int, logger *slog.Logger) *Broker {
	if bufSize < 1 {
		bufSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:    make(map[chan Message]struct{}),
		logger:  logger,
		bufSize: bufSize,
	}
}

// Subscribe registers a new observer. The returned cancel function
// unregisters it and closes the channel.
func (b *Broker) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, b.bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.logger.Debug("observer subscribed", "observers", len(b.subs))

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers m to every observer without blocking.
func (b *Broker) Publish(m Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for ch := range b.subs {
		select {
		case ch <- m:
			delivered++
		default:
			b.logger.Warn("observer channel full, message dropped", "type", m.Type())
		}
	}
	b.logger.Debug("message published", "type", m.Type(), "observers", delivered)
}

// Len returns the number of observers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unregisters every observer and closes their channels.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}
