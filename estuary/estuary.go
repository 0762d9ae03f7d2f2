// Package estuary implements the Estuary Lifecycle Manager (spec §4.7):
// a single-writer actor per estuary, keyed by projectId/estuaryId, that
// owns the estuary's subscribed-source set and its TTL alarm.
package estuary

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/commoncurriculum/estuary-fanout/actor"
	"github.com/commoncurriculum/estuary-fanout/internal/logging"
	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// SourceRemover is the Subscriber Registry operation the alarm handler
// calls per source to drop the expiring estuary (spec §4.7 step 2). Its
// signature matches fanoutqueue.SubscriberRemover and registry.Registry
// satisfies both without adapting.
type SourceRemover interface {
	RemoveMany(ctx context.Context, projectID, streamID string, estuaryIDs []string) error
}

// removeChunkSize bounds how many sources the alarm handler notifies per
// chunk (spec §4.7 step 2: "In chunks of 20").
const removeChunkSize = 20

type estuaryState struct {
	key       string
	projectID string
	estuaryID string

	sources  []string // streamIds this estuary subscribes to
	identity *Identity

	store Store
}

func newEstuaryState(key, projectID, estuaryID string, store Store) *estuaryState {
	var sources, _ = store.LoadSources(key)
	var st = &estuaryState{key: key, projectID: projectID, estuaryID: estuaryID, store: store}
	if sources != nil {
		st.sources = sources
	}
	if id, ok, _ := store.LoadIdentity(key); ok {
		st.identity = &id
	}
	return st
}

func (s *estuaryState) addSubscription(streamID string) error {
	for _, id := range s.sources {
		if id == streamID {
			return nil
		}
	}
	s.sources = append(s.sources, streamID)
	return s.store.SaveSources(s.key, s.sources)
}

func (s *estuaryState) removeSubscription(streamID string) error {
	var out = s.sources[:0]
	for _, id := range s.sources {
		if id != streamID {
			out = append(out, id)
		}
	}
	s.sources = out
	return s.store.SaveSources(s.key, s.sources)
}

func (s *estuaryState) getSubscriptions() []string {
	return append([]string(nil), s.sources...)
}

// Manager hosts the keyed Estuary Lifecycle Manager actors.
type Manager struct {
	keyed     *actor.Keyed[*estuaryState]
	client    streamcore.Client
	remover   SourceRemover
	scheduler AlarmScheduler
}

// NewManager wires a Manager from its collaborators.
func NewManager(store Store, client streamcore.Client, remover SourceRemover, scheduler AlarmScheduler) *Manager {
	var m = &Manager{client: client, remover: remover, scheduler: scheduler}
	m.keyed = actor.NewKeyed(func(key string) *estuaryState {
		var projectID, estuaryID, _ = cutKey(key)
		return newEstuaryState(key, projectID, estuaryID, store)
	})
	return m
}

func cutKey(key string) (projectID, estuaryID string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}

func key(projectID, estuaryID string) string { return projectID + "/" + estuaryID }

// AddSubscription inserts streamID into the estuary's source set
// (idempotent, spec §4.7 addSubscription).
func (m *Manager) AddSubscription(projectID, estuaryID, streamID string) error {
	var outErr error
	m.keyed.Do(key(projectID, estuaryID), func(s *estuaryState) {
		outErr = s.addSubscription(streamID)
	})
	return outErr
}

// RemoveSubscription drops streamID from the estuary's source set
// (spec §4.7 removeSubscription).
func (m *Manager) RemoveSubscription(projectID, estuaryID, streamID string) error {
	var outErr error
	m.keyed.Do(key(projectID, estuaryID), func(s *estuaryState) {
		outErr = s.removeSubscription(streamID)
	})
	return outErr
}

// GetSubscriptions lists the estuary's current source streamIds.
func (m *Manager) GetSubscriptions(projectID, estuaryID string) []string {
	var sources []string
	m.keyed.Do(key(projectID, estuaryID), func(s *estuaryState) {
		sources = s.getSubscriptions()
	})
	return sources
}

// SetExpiry stores the estuary's identity and arms its TTL alarm,
// replacing any prior armed alarm (spec §4.7 setExpiry).
func (m *Manager) SetExpiry(projectID, estuaryID string, ttl time.Duration) error {
	var k = key(projectID, estuaryID)
	var outErr error
	m.keyed.Do(k, func(s *estuaryState) {
		var id = Identity{ProjectID: projectID, EstuaryID: estuaryID}
		if err := s.store.SaveIdentity(k, id); err != nil {
			outErr = err
			return
		}
		s.identity = &id
	})
	if outErr != nil {
		return outErr
	}
	m.scheduler.Arm(k, time.Now().Add(ttl), func() { m.fireAlarm(k) })
	return nil
}

// fireAlarm runs the 4-step alarm handler (spec §4.7).
func (m *Manager) fireAlarm(k string) {
	var ctx = context.Background()

	var hasIdentity bool
	var sourcesList []string
	m.keyed.Do(k, func(s *estuaryState) {
		if s.identity == nil {
			return
		}
		hasIdentity = true
		sourcesList = append([]string(nil), s.sources...)
	})

	// Step 1: no-op if identity absent (idempotent re-fire).
	if !hasIdentity {
		return
	}

	var pID, eID, _ = cutKey(k)
	var fields = logging.EstuaryFields(pID, eID)

	// Step 2: chunked removal of this estuary from each subscribed source.
	for start := 0; start < len(sourcesList); start += removeChunkSize {
		var end = start + removeChunkSize
		if end > len(sourcesList) {
			end = len(sourcesList)
		}
		for _, streamID := range sourcesList[start:end] {
			if err := m.remover.RemoveMany(ctx, pID, streamID, []string{eID}); err != nil {
				log.WithFields(fields).WithField("stream", streamID).WithError(err).
					Warn("estuary: alarm failed to remove subscriber from source")
			}
		}
	}

	// Step 3: delete the estuary stream itself.
	if _, err := m.client.Delete(ctx, streamcore.Key{ProjectID: pID, ID: eID}); err != nil {
		log.WithFields(fields).WithError(err).Warn("estuary: alarm failed to delete estuary stream")
	}

	// Step 4: clear sources and identity; the actor re-initializes on the
	// next subscribe.
	m.keyed.Do(k, func(s *estuaryState) {
		s.sources = nil
		s.identity = nil
		if err := s.store.ClearIdentity(k); err != nil {
			log.WithFields(fields).WithError(err).Warn("estuary: failed to clear identity")
		}
	})
}
