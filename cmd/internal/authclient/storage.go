package authclient

import (
	"context"
	"sync"
)

// Persisted keys.
const (
	KeyAccessToken  = "token"
	KeyRefreshToken = "refreshToken"
)

// Change reports a write made through another handle of the same storage area.
type Change struct {
	Key     string
	Value   string
	Removed bool
}

// Storage is a string key/value area shared by several handles.
//
// Subscribe delivers changes made through other handles only; a handle never
// observes its own writes. Writes that do not change the stored value are not
// published. The channel is closed when ctx ends.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Subscribe(ctx context.Context) (<-chan Change, error)
}

// mailbox is an unbounded FIFO drained into a channel by one goroutine, so
// publishers never block on a slow subscriber.
type mailbox struct {
	mu     sync.Mutex
	queue  []Change
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(c Change) {
	m.mu.Lock()
	m.queue = append(m.queue, c)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain(ctx context.Context, out chan<- Change) {
	defer close(out)
	for {
		m.mu.Lock()
		pending := m.queue
		m.queue = nil
		m.mu.Unlock()

		for _, c := range pending {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-m.signal:
		case <-ctx.Done():
			return
		}
	}
}
