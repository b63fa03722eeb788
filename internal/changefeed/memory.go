package changefeed

import (
	"context"
	"sync"
)

// Memory is an in-process feed for tests and single-process development.
type Memory struct {
	mu   sync.Mutex
	subs map[string][]*memorySub
}

type memorySub struct {
	filter Filter
	ch     chan Event
	done   <-chan struct{}
}

func NewMemory() *Memory { return &Memory{subs: map[string][]*memorySub{}} }

func (m *Memory) Publish(ctx context.Context, ev Event) error {
	// Held across sends so a subscription cannot be closed mid-send.
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.subs[ev.Table] {
		if !s.filter.Match(ev.Row) {
			continue
		}
		select {
		case s.ch <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Memory) Subscribe(ctx context.Context, table string, filter Filter) (<-chan Event, error) {
	s := &memorySub{filter: filter, ch: make(chan Event, 64), done: ctx.Done()}

	m.mu.Lock()
	m.subs[table] = append(m.subs[table], s)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[table]
		for i, x := range list {
			if x == s {
				m.subs[table] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(s.ch)
	}()
	return s.ch, nil
}
