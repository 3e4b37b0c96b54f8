package authclient

import (
	"context"
	"sync"
)

// MemoryArea is an in-process storage area. Each Tab is one handle on it.
type MemoryArea struct {
	mu     sync.Mutex
	values map[string]string
	subs   map[*Tab][]*mailbox
}

func NewMemoryArea() *MemoryArea {
	return &MemoryArea{
		values: make(map[string]string),
		subs:   make(map[*Tab][]*mailbox),
	}
}

// NewTab returns a new handle on the area.
func (a *MemoryArea) NewTab() *Tab {
	return &Tab{area: a}
}

// Tab is a Storage handle on a MemoryArea.
type Tab struct {
	area *MemoryArea
}

func (t *Tab) Get(_ context.Context, key string) (string, bool, error) {
	t.area.mu.Lock()
	defer t.area.mu.Unlock()
	v, ok := t.area.values[key]
	return v, ok, nil
}

func (t *Tab) Set(_ context.Context, key, value string) error {
	a := t.area
	a.mu.Lock()
	if old, ok := a.values[key]; ok && old == value {
		a.mu.Unlock()
		return nil
	}
	a.values[key] = value
	a.publishLocked(t, Change{Key: key, Value: value})
	a.mu.Unlock()
	return nil
}

func (t *Tab) Remove(_ context.Context, key string) error {
	a := t.area
	a.mu.Lock()
	if _, ok := a.values[key]; !ok {
		a.mu.Unlock()
		return nil
	}
	delete(a.values, key)
	a.publishLocked(t, Change{Key: key, Removed: true})
	a.mu.Unlock()
	return nil
}

func (t *Tab) Subscribe(ctx context.Context) (<-chan Change, error) {
	a := t.area
	mb := newMailbox()

	a.mu.Lock()
	a.subs[t] = append(a.subs[t], mb)
	a.mu.Unlock()

	out := make(chan Change)
	go func() {
		mb.drain(ctx, out)

		a.mu.Lock()
		defer a.mu.Unlock()
		list := a.subs[t]
		for i, m := range list {
			if m == mb {
				a.subs[t] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(a.subs[t]) == 0 {
			delete(a.subs, t)
		}
	}()
	return out, nil
}

func (a *MemoryArea) publishLocked(from *Tab, c Change) {
	for tab, boxes := range a.subs {
		if tab == from {
			continue
		}
		for _, mb := range boxes {
			mb.push(c)
		}
	}
}
