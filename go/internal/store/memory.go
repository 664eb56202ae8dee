package store

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryStore is a process-local Store. It backs single-replica deployments and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	revision uint64
	watchers map[string]map[chan Entry]struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]Entry),
		watchers: make(map[string]map[chan Entry]struct{}),
	}
}

func (m *MemoryStore) Read(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return copyEntry(e), nil
}

func (m *MemoryStore) Write(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.put(key, value), nil
}

func (m *MemoryStore) CompareAndWrite(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.entries[key]
	switch {
	case revision == 0 && exists:
		return 0, ErrRevisionMismatch
	case revision != 0 && (!exists || current.Revision != revision):
		return 0, ErrRevisionMismatch
	}
	return m.put(key, value), nil
}

func (m *MemoryStore) ReadParticipant(ctx context.Context, key, participantID string) ([]byte, error) {
	e, err := m.Read(ctx, participantKey(key, participantID))
	if err != nil {
		return nil, err
	}
	return e.Value, nil
}

func (m *MemoryStore) WriteParticipant(ctx context.Context, key, participantID string, value []byte) error {
	_, err := m.Write(ctx, participantKey(key, participantID), value)
	return err
}

func (m *MemoryStore) Participants(_ context.Context, key string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := participantPrefix(key)
	out := make(map[string][]byte)
	for k, e := range m.entries {
		if id, ok := strings.CutPrefix(k, prefix); ok {
			out[id] = append([]byte(nil), e.Value...)
		}
	}
	return out, nil
}

func (m *MemoryStore) Watch(ctx context.Context, key string) (<-chan Entry, error) {
	ch := make(chan Entry, 1)

	m.mu.Lock()
	if m.watchers[key] == nil {
		m.watchers[key] = make(map[chan Entry]struct{})
	}
	m.watchers[key][ch] = struct{}{}
	if e, ok := m.entries[key]; ok {
		ch <- copyEntry(e)
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.watchers[key], ch)
		if len(m.watchers[key]) == 0 {
			delete(m.watchers, key)
		}
		close(ch)
		m.mu.Unlock()
	}()

	return ch, nil
}

// put must be called with mu held.
func (m *MemoryStore) put(key string, value []byte) uint64 {
	m.revision++
	e := Entry{Key: key, Value: append([]byte(nil), value...), Revision: m.revision}
	m.entries[key] = e

	for ch := range m.watchers[key] {
		deliverLatest(ch, copyEntry(e))
	}
	return e.Revision
}

// deliverLatest replaces a pending undelivered entry so watchers never block writers.
func deliverLatest(ch chan Entry, e Entry) {
	for {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case stale := <-ch:
			log.Debug().Str("key", stale.Key).Uint64("revision", stale.Revision).Msg("dropping superseded watch entry")
		default:
		}
	}
}

func copyEntry(e Entry) Entry {
	e.Value = append([]byte(nil), e.Value...)
	return e
}
