// Package registry implements the Subscriber Registry and the Publish
// Engine it hosts (spec §4.3, §4.4): a single-writer actor per source
// stream, keyed by projectId/streamId, built on actor.Keyed so that
// operations against one source never interleave while distinct sources
// run fully independently (spec §5).
package registry

import (
	"context"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/commoncurriculum/estuary-fanout/actor"
	"github.com/commoncurriculum/estuary-fanout/fanout"
	"github.com/commoncurriculum/estuary-fanout/fanoutqueue"
	"github.com/commoncurriculum/estuary-fanout/internal/estuaryerr"
	"github.com/commoncurriculum/estuary-fanout/internal/logging"
	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// FanoutMode classifies how a Publish call was dispatched (spec §4.4 step 4).
type FanoutMode string

const (
	ModeSkipped     FanoutMode = "skipped"
	ModeInline      FanoutMode = "inline"
	ModeQueued      FanoutMode = "queued"
	ModeCircuitOpen FanoutMode = "circuit-open"
)

// PublishResult is the Publish Engine's response (spec §4.4 step 6).
type PublishResult struct {
	NextOffset      string
	FanoutCount     int
	FanoutSuccesses int
	FanoutFailures  int
	FanoutMode      FanoutMode
}

// Registry owns one actor per source stream, hosting both the
// subscriber set (spec §4.3) and the Publish Engine (spec §4.4).
type Registry struct {
	keyed *actor.Keyed[*sourceState]

	client     streamcore.Client
	dispatcher *fanout.Dispatcher
	queue      fanoutqueue.Queue // nil: no async queue available (spec §4.4 step 4)

	fanoutQueueThreshold int
	fanoutQueueBatchSize int
	fanoutBatchSize      int
	fanoutRPCTimeout     time.Duration

	cbFailureThreshold int
	cbRecoveryPeriod   time.Duration
}

// Options configures a new Registry.
type Options struct {
	Store                Store
	Client               streamcore.Client
	Queue                fanoutqueue.Queue // optional
	FanoutQueueThreshold int
	FanoutQueueBatchSize int
	FanoutBatchSize      int
	FanoutRPCTimeout     time.Duration
	CBFailureThreshold   int
	CBRecoveryPeriod     time.Duration
}

// New wires a Registry from its collaborators.
func New(opts Options) *Registry {
	var r = &Registry{
		client:               opts.Client,
		dispatcher:           fanout.New(opts.Client),
		queue:                opts.Queue,
		fanoutQueueThreshold: opts.FanoutQueueThreshold,
		fanoutQueueBatchSize: opts.FanoutQueueBatchSize,
		fanoutBatchSize:      opts.FanoutBatchSize,
		fanoutRPCTimeout:     opts.FanoutRPCTimeout,
		cbFailureThreshold:   opts.CBFailureThreshold,
		cbRecoveryPeriod:     opts.CBRecoveryPeriod,
	}
	var store = opts.Store
	r.keyed = actor.NewKeyed(func(key string) *sourceState {
		return newSourceState(key, store, r.cbFailureThreshold, r.cbRecoveryPeriod)
	})
	return r
}

func key(projectID, streamID string) string { return projectID + "/" + streamID }

// Add subscribes estuaryID to projectId/streamId (spec §4.3 add).
func (r *Registry) Add(projectID, streamID, estuaryID string, now int64) error {
	var outErr error
	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		outErr = s.add(estuaryID, now)
	})
	return outErr
}

// Remove unsubscribes one estuaryID (spec §4.3 remove).
func (r *Registry) Remove(projectID, streamID, estuaryID string) error {
	return r.RemoveMany(context.Background(), projectID, streamID, []string{estuaryID})
}

// RemoveMany implements fanoutqueue.SubscriberRemover so the Queue
// Consumer can prune stale subscribers it discovers while draining
// batches (spec §4.6 step 3), and is also used directly for single
// unsubscribes and alarm-driven cleanup (spec §4.7 step 2).
func (r *Registry) RemoveMany(ctx context.Context, projectID, streamID string, estuaryIDs []string) error {
	var outErr error
	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		outErr = s.removeMany(estuaryIDs)
	})
	return outErr
}

// List returns the current subscriber ids for a source (spec §4.3 list).
func (r *Registry) List(projectID, streamID string) []string {
	var ids []string
	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		ids = s.list()
	})
	return ids
}

// ListWithTimestamps returns (estuaryId, subscribedAt) pairs (spec §4.3).
func (r *Registry) ListWithTimestamps(projectID, streamID string) []Subscriber {
	var subs []Subscriber
	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		subs = s.listWithTimestamps()
	})
	return subs
}

// SourceSnapshot is a point-in-time view of one source's actor state, for
// operational introspection (not wired to any HTTP surface).
type SourceSnapshot struct {
	ProjectID     string
	StreamID      string
	Subscribers   []Subscriber
	NextFanoutSeq int64
	CircuitState  string
}

// Snapshot returns the current subscriber set, next fanout sequence, and
// circuit breaker state for one source, read inside the owning actor so
// the fields are mutually consistent.
func (r *Registry) Snapshot(projectID, streamID string) SourceSnapshot {
	var snap = SourceSnapshot{ProjectID: projectID, StreamID: streamID}
	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		snap.Subscribers = s.listWithTimestamps()
		snap.NextFanoutSeq = s.nextFanoutSeq
		snap.CircuitState = s.circuit.State().String()
	})
	return snap
}

// Inspect logs Snapshot's view of a source at debug level and returns it,
// as an operational introspection hook. No other package in this
// repository calls it.
func (r *Registry) Inspect(projectID, streamID string) SourceSnapshot {
	var snap = r.Snapshot(projectID, streamID)
	log.WithFields(logging.SourceFields(projectID, streamID)).WithFields(log.Fields{
		"subscriberCount": len(snap.Subscribers),
		"nextFanoutSeq":   snap.NextFanoutSeq,
		"circuitState":    snap.CircuitState,
	}).Debug("registry: source snapshot")
	return snap
}

// Publish runs the Publish Engine's 6-step algorithm against a single
// source, fully serialized by that source's actor (spec §4.4).
func (r *Registry) Publish(ctx context.Context, projectID, streamID string, payload []byte, contentType string, callerHeaders streamcore.ProducerHeaders) (PublishResult, error) {
	// The whole algorithm runs inside one actor Do call: allocating the
	// fanout sequence outside the actor's serialized section would race
	// against a sibling publish to the same source (spec §4.4: "Runs
	// inside the Subscriber Registry actor").
	var result PublishResult
	var outErr error

	r.keyed.Do(key(projectID, streamID), func(s *sourceState) {
		var srcKey = streamcore.Key{ProjectID: projectID, ID: streamID}
		post, err := r.client.Post(ctx, srcKey, payload, contentType, callerHeaders)
		if err != nil {
			outErr = estuaryerr.Wrap(estuaryerr.UpstreamWriteFailed, err, "append to source failed")
			return
		}
		if !post.OK {
			outErr = estuaryerr.New(estuaryerr.UpstreamWriteFailed, "source append rejected, status=%d", post.HTTPStatus)
			return
		}
		result.NextOffset = post.NextOffset

		// Step 2: allocate fanout sequence, durable before dispatch.
		seq, err := s.allocateFanoutSeq()
		if err != nil {
			outErr = estuaryerr.Wrap(estuaryerr.Internal, err, "allocate fanout sequence failed")
			return
		}
		var headers = streamcore.ProducerHeaders{
			ProducerID:    "fanout:" + streamID,
			ProducerEpoch: "1",
			ProducerSeq:   strconv.FormatInt(seq, 10),
		}

		// Step 3: snapshot subscribers.
		var ids = s.list()
		result.FanoutCount = len(ids)
		if len(ids) == 0 {
			result.FanoutMode = ModeSkipped
			return
		}

		var fields = logging.WithFanoutSeq(logging.SourceFields(projectID, streamID), seq)

		// Step 4: dispatch mode decision.
		if r.queue != nil && len(ids) > r.fanoutQueueThreshold {
			if r.enqueueAll(ctx, projectID, streamID, ids, payload, contentType, headers) {
				result.FanoutMode = ModeQueued
				result.FanoutSuccesses = len(ids)
				log.WithFields(fields).WithField("mode", ModeQueued).Debug("registry: publish dispatched")
				return
			}
			log.WithFields(fields).Warn("registry: queue enqueue failed, falling back to inline")
			// fall through to inline below
		} else if !s.circuit.ShouldAttempt() {
			if r.queue != nil && r.enqueueAll(ctx, projectID, streamID, ids, payload, contentType, headers) {
				result.FanoutMode = ModeCircuitOpen
				result.FanoutSuccesses = len(ids)
				log.WithFields(fields).WithField("mode", ModeCircuitOpen).Debug("registry: publish dispatched")
				return
			}
			result.FanoutMode = ModeCircuitOpen
			result.FanoutFailures = len(ids)
			log.WithFields(fields).WithField("mode", ModeCircuitOpen).Debug("registry: publish skipped, circuit open")
			return
		}

		// Inline dispatch.
		var dr = r.dispatcher.Dispatch(ctx, fanout.Input{
			ProjectID:       projectID,
			EstuaryIDs:      ids,
			Payload:         payload,
			ContentType:     contentType,
			ProducerHeaders: headers,
			PerCallTimeout:  r.fanoutRPCTimeout,
			BatchSize:       r.fanoutBatchSize,
		})
		result.FanoutMode = ModeInline
		result.FanoutSuccesses = dr.Successes
		result.FanoutFailures = dr.Failures

		// Step 5: post-dispatch bookkeeping, inline path only.
		s.circuit.Update(dr.Successes, dr.Failures)
		if len(dr.StaleEstuaryIDs) > 0 {
			if err := s.removeMany(dr.StaleEstuaryIDs); err != nil {
				log.WithFields(fields).WithError(err).Warn("registry: failed to prune stale subscribers")
			}
		}
		log.WithFields(fields).WithFields(log.Fields{
			"mode":      ModeInline,
			"successes": dr.Successes,
			"failures":  dr.Failures,
		}).Debug("registry: publish dispatched")
	})

	return result, outErr
}

// enqueueAll chunks ids into FANOUT_QUEUE_BATCH_SIZE groups and enqueues
// one message per chunk (spec §4.4 step 4). Returns false on the first
// enqueue failure so the caller can fall back to inline dispatch; any
// messages already enqueued before the failure are left in place; the
// queue's own at-least-once semantics (spec §4.6) tolerate that overlap.
func (r *Registry) enqueueAll(ctx context.Context, projectID, streamID string, ids []string, payload []byte, contentType string, headers streamcore.ProducerHeaders) bool {
	for _, chunk := range fanoutqueue.Chunk(ids, r.fanoutQueueBatchSize) {
		var msg = fanoutqueue.Message{
			ProjectID:       projectID,
			StreamID:        streamID,
			EstuaryIDs:      chunk,
			Payload:         payload,
			ContentType:     contentType,
			ProducerHeaders: headers,
		}
		if err := r.queue.Enqueue(ctx, msg); err != nil {
			return false
		}
	}
	return true
}
