package registry

import "sync"

// Store persists each source's durable state across restarts: its
// subscriber set and its next fanout sequence (spec §3). This is the
// registry actor's own durable storage — analogous to a Durable Object's
// storage binding — and is distinct from the stream-core (streamcore.Client),
// which persists message bodies. Implementing a production-grade Store is
// out of this core's scope (spec §1); this package ships the interface
// plus an in-memory MemStore for tests and the demo binary.
type Store interface {
	// LoadNextFanoutSeq returns the persisted sequence for key, or 0 if
	// none has ever been saved (spec §4.3 Startup).
	LoadNextFanoutSeq(key string) (int64, error)
	// SaveNextFanoutSeq persists n as the next sequence to allocate. It
	// must return only after n is durable (spec §4.4 step 2, §9).
	SaveNextFanoutSeq(key string, n int64) error

	// LoadSubscribers returns the persisted estuaryId -> subscribedAt map.
	LoadSubscribers(key string) (map[string]int64, error)
	// SaveSubscriber persists a single added subscriber.
	SaveSubscriber(key, estuaryID string, subscribedAt int64) error
	// DeleteSubscribers removes the given subscribers atomically from the
	// caller's perspective (spec §4.3).
	DeleteSubscribers(key string, estuaryIDs []string) error
}

// MemStore is an in-memory Store. State does not survive process
// restart, which is adequate for tests and the demo binary; it still
// honors the same durable-before-return contract the interface promises.
type MemStore struct {
	mu   sync.Mutex
	seq  map[string]int64
	subs map[string]map[string]int64
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		seq:  make(map[string]int64),
		subs: make(map[string]map[string]int64),
	}
}

func (s *MemStore) LoadNextFanoutSeq(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq[key], nil
}

func (s *MemStore) SaveNextFanoutSeq(key string, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[key] = n
	return nil
}

func (s *MemStore) LoadSubscribers(key string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out = make(map[string]int64, len(s.subs[key]))
	for id, ts := range s.subs[key] {
		out[id] = ts
	}
	return out, nil
}

func (s *MemStore) SaveSubscriber(key, estuaryID string, subscribedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[key] == nil {
		s.subs[key] = make(map[string]int64)
	}
	s.subs[key][estuaryID] = subscribedAt
	return nil
}

func (s *MemStore) DeleteSubscribers(key string, estuaryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var set = s.subs[key]
	for _, id := range estuaryIDs {
		delete(set, id)
	}
	return nil
}
