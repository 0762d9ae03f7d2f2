package registry

import (
	"strings"
	"time"

	"github.com/commoncurriculum/estuary-fanout/registry/breaker"
)

// sourceState is the per-source state owned by exactly one actor
// goroutine (spec §3, §5): the subscriber set, the next fanout
// sequence, and the volatile circuit breaker.
type sourceState struct {
	key       string
	projectID string
	streamID  string

	subscribers   map[string]int64 // estuaryId -> subscribedAt (ms epoch)
	nextFanoutSeq int64
	circuit       *breaker.Breaker

	store Store
}

// newSourceState loads durable state for key (spec §4.3 Startup: "Load
// nextFanoutSeq from durable state; if absent, 0"), and always rebuilds
// the circuit breaker as closed/0/0 (spec §3: "volatile, rebuilt on restart").
func newSourceState(key string, store Store, cbThreshold int, cbRecoveryPeriod time.Duration) *sourceState {
	var projectID, streamID, _ = strings.Cut(key, "/")

	var seq, _ = store.LoadNextFanoutSeq(key)
	subs, _ := store.LoadSubscribers(key)
	if subs == nil {
		subs = make(map[string]int64)
	}

	return &sourceState{
		key:           key,
		projectID:     projectID,
		streamID:      streamID,
		subscribers:   subs,
		nextFanoutSeq: seq,
		circuit:       breaker.New(cbThreshold, cbRecoveryPeriod),
		store:         store,
	}
}

// add inserts estuaryId if absent (idempotent, spec §4.3).
func (s *sourceState) add(estuaryID string, now int64) error {
	if _, ok := s.subscribers[estuaryID]; ok {
		return nil
	}
	if err := s.store.SaveSubscriber(s.key, estuaryID, now); err != nil {
		return err
	}
	s.subscribers[estuaryID] = now
	return nil
}

// removeMany deletes estuaryIDs, atomically from the caller's perspective
// (spec §4.3). Idempotent: absent ids are simply no-ops.
func (s *sourceState) removeMany(estuaryIDs []string) error {
	if len(estuaryIDs) == 0 {
		return nil
	}
	if err := s.store.DeleteSubscribers(s.key, estuaryIDs); err != nil {
		return err
	}
	for _, id := range estuaryIDs {
		delete(s.subscribers, id)
	}
	return nil
}

// list returns the current subscriber ids. Iteration order is not
// meaningful (spec §3).
func (s *sourceState) list() []string {
	var ids = make([]string, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// listWithTimestamps returns (estuaryId, subscribedAt) pairs.
func (s *sourceState) listWithTimestamps() []Subscriber {
	var out = make([]Subscriber, 0, len(s.subscribers))
	for id, ts := range s.subscribers {
		out = append(out, Subscriber{EstuaryID: id, SubscribedAt: ts})
	}
	return out
}

// allocateFanoutSeq returns the current nextFanoutSeq and durably
// persists n+1 before returning it, so a crash after return never hands
// out the same value twice (spec §4.3, §9).
func (s *sourceState) allocateFanoutSeq() (int64, error) {
	var n = s.nextFanoutSeq
	if err := s.store.SaveNextFanoutSeq(s.key, n+1); err != nil {
		return 0, err
	}
	s.nextFanoutSeq = n + 1
	return n, nil
}

// Subscriber is one (estuaryId, subscribedAt) pair.
type Subscriber struct {
	EstuaryID    string
	SubscribedAt int64
}
