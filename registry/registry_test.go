package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commoncurriculum/estuary-fanout/fanoutqueue"
	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

func newTestRegistry(client streamcore.Client, queue fanoutqueue.Queue) *Registry {
	return New(Options{
		Store:                NewMemStore(),
		Client:                client,
		Queue:                 queue,
		FanoutQueueThreshold:  200,
		FanoutQueueBatchSize:  50,
		FanoutBatchSize:       50,
		FanoutRPCTimeout:      time.Second,
		CBFailureThreshold:    3,
		CBRecoveryPeriod:      time.Minute,
	})
}

func TestPublishSkippedWithNoSubscribers(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	var r = newTestRegistry(client, nil)

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, ModeSkipped, res.FanoutMode)
	assert.Equal(t, 0, res.FanoutCount)
}

func TestPublishInlineHappyPath(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e2"}, "application/json")
	var r = newTestRegistry(client, nil)

	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))
	assert.NoError(t, r.Add("acme", "orders", "e2", 1000))

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("hello"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, ModeInline, res.FanoutMode)
	assert.Equal(t, 2, res.FanoutCount)
	assert.Equal(t, 2, res.FanoutSuccesses)
	assert.Equal(t, 0, res.FanoutFailures)
	// The Fake records the source append first, then one write per estuary.
	assert.Len(t, client.PostCalls, 3)

	for _, call := range client.PostCalls[1:] {
		assert.Equal(t, "fanout:orders", call.Headers.ProducerID)
		assert.Equal(t, "1", call.Headers.ProducerEpoch)
		assert.Equal(t, "0", call.Headers.ProducerSeq)
	}
}

func TestPublishSequenceIsMonotoneAcrossCalls(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	var r = newTestRegistry(client, nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))

	_, err := r.Publish(context.Background(), "acme", "orders", []byte("1"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	_, err = r.Publish(context.Background(), "acme", "orders", []byte("2"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)

	// PostCalls alternates source append, estuary write for each publish.
	assert.Equal(t, "0", client.PostCalls[1].Headers.ProducerSeq)
	assert.Equal(t, "1", client.PostCalls[3].Headers.ProducerSeq)
}

func TestPublishPrunesStaleSubscribersInline(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	// e2 is never seeded: it is a stale subscriber.
	var r = newTestRegistry(client, nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))
	assert.NoError(t, r.Add("acme", "orders", "e2", 1000))

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, 1, res.FanoutSuccesses)
	assert.Equal(t, 1, res.FanoutFailures)

	assert.ElementsMatch(t, []string{"e1"}, r.List("acme", "orders"))
}

func TestPublishQueuedWhenSubscriberCountExceedsThreshold(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	var queue = fanoutqueue.NewMemQueue()
	var r = New(Options{
		Store:                NewMemStore(),
		Client:               client,
		Queue:                queue,
		FanoutQueueThreshold: 2,
		FanoutQueueBatchSize: 2,
		FanoutBatchSize:      50,
		FanoutRPCTimeout:     time.Second,
		CBFailureThreshold:   3,
		CBRecoveryPeriod:     time.Minute,
	})

	for _, id := range []string{"e1", "e2", "e3"} {
		assert.NoError(t, r.Add("acme", "orders", id, 1000))
	}

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, ModeQueued, res.FanoutMode)
	assert.Equal(t, 3, res.FanoutSuccesses)
	assert.Equal(t, 0, res.FanoutFailures)
	assert.Equal(t, 2, queue.Len()) // 3 ids chunked by 2 => 2 messages
}

func TestPublishFallsBackToInlineWhenEnqueueFails(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	var queue = fanoutqueue.NewMemQueue()
	queue.FailNext = 1
	var r = New(Options{
		Store:                NewMemStore(),
		Client:               client,
		Queue:                queue,
		FanoutQueueThreshold: 0, // always prefer queued so the fallback path is exercised
		FanoutQueueBatchSize: 50,
		FanoutBatchSize:      50,
		FanoutRPCTimeout:     time.Second,
		CBFailureThreshold:   3,
		CBRecoveryPeriod:     time.Minute,
	})
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, ModeInline, res.FanoutMode)
	assert.Equal(t, 1, res.FanoutSuccesses)
}

func TestPublishCircuitOpenSkipsDispatchWithNoQueue(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	// e1 is never seeded, so every inline dispatch to it fails (stale).
	var r = newTestRegistry(client, nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))

	// Drive the breaker open: CBFailureThreshold is 3 in newTestRegistry.
	for i := 0; i < 3; i++ {
		_, err := r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
		assert.NoError(t, err)
		// e1 gets pruned as stale after the first publish, so re-add it to
		// keep driving failures through the breaker.
		assert.NoError(t, r.Add("acme", "orders", "e1", 1000))
	}

	var res, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)
	assert.Equal(t, ModeCircuitOpen, res.FanoutMode)
	assert.Equal(t, 0, res.FanoutSuccesses)
	assert.Equal(t, 1, res.FanoutFailures)
}

func TestPublishFailsWhenSourceAppendFails(t *testing.T) {
	var client = streamcore.NewFake()
	// "orders" is never seeded as an existing stream, so Post on it 404s (stale).
	var r = newTestRegistry(client, nil)

	var _, err = r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.Error(t, err)
}

func TestAddIsIdempotent(t *testing.T) {
	var r = newTestRegistry(streamcore.NewFake(), nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))
	assert.NoError(t, r.Add("acme", "orders", "e1", 2000))
	assert.Equal(t, []string{"e1"}, r.List("acme", "orders"))
}

func TestRemoveManyIsIdempotent(t *testing.T) {
	var r = newTestRegistry(streamcore.NewFake(), nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))
	assert.NoError(t, r.RemoveMany(context.Background(), "acme", "orders", []string{"e1", "never-added"}))
	assert.Empty(t, r.List("acme", "orders"))
	assert.NoError(t, r.RemoveMany(context.Background(), "acme", "orders", []string{"e1"}))
}

func TestSnapshotReflectsSubscribersSequenceAndCircuitState(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "orders"}, "application/json")
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	var r = newTestRegistry(client, nil)
	assert.NoError(t, r.Add("acme", "orders", "e1", 1000))

	_, err := r.Publish(context.Background(), "acme", "orders", []byte("x"), "application/json", streamcore.ProducerHeaders{})
	assert.NoError(t, err)

	var snap = r.Snapshot("acme", "orders")
	assert.Equal(t, "acme", snap.ProjectID)
	assert.Equal(t, "orders", snap.StreamID)
	assert.Equal(t, []Subscriber{{EstuaryID: "e1", SubscribedAt: 1000}}, snap.Subscribers)
	assert.EqualValues(t, 1, snap.NextFanoutSeq)
	assert.Equal(t, "closed", snap.CircuitState)

	assert.Equal(t, snap, r.Inspect("acme", "orders"))
}
