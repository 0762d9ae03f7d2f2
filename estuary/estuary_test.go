package estuary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

type recordingRemover struct {
	calls []struct{ projectID, streamID, estuaryID string }
}

func (r *recordingRemover) RemoveMany(ctx context.Context, projectID, streamID string, estuaryIDs []string) error {
	for _, id := range estuaryIDs {
		r.calls = append(r.calls, struct{ projectID, streamID, estuaryID string }{projectID, streamID, id})
	}
	return nil
}

func TestAddSubscriptionIsIdempotent(t *testing.T) {
	var m = NewManager(NewMemStore(), streamcore.NewFake(), &recordingRemover{}, NewManualScheduler())
	assert.NoError(t, m.AddSubscription("acme", "e1", "orders"))
	assert.NoError(t, m.AddSubscription("acme", "e1", "orders"))
	assert.Equal(t, []string{"orders"}, m.GetSubscriptions("acme", "e1"))
}

func TestRemoveSubscription(t *testing.T) {
	var m = NewManager(NewMemStore(), streamcore.NewFake(), &recordingRemover{}, NewManualScheduler())
	assert.NoError(t, m.AddSubscription("acme", "e1", "orders"))
	assert.NoError(t, m.AddSubscription("acme", "e1", "shipments"))
	assert.NoError(t, m.RemoveSubscription("acme", "e1", "orders"))
	assert.Equal(t, []string{"shipments"}, m.GetSubscriptions("acme", "e1"))
}

func TestAlarmFiresAndCleansUpState(t *testing.T) {
	var client = streamcore.NewFake()
	var estuaryKey = streamcore.Key{ProjectID: "acme", ID: "e1"}
	client.Seed(estuaryKey, "application/json")

	var remover = &recordingRemover{}
	var scheduler = NewManualScheduler()
	var m = NewManager(NewMemStore(), client, remover, scheduler)

	assert.NoError(t, m.AddSubscription("acme", "e1", "orders"))
	assert.NoError(t, m.AddSubscription("acme", "e1", "shipments"))
	assert.NoError(t, m.SetExpiry("acme", "e1", time.Hour))

	var fired = scheduler.Fire("acme/e1")
	assert.True(t, fired)

	assert.Len(t, remover.calls, 2)
	var notified []string
	for _, call := range remover.calls {
		assert.Equal(t, "acme", call.projectID)
		assert.Equal(t, "e1", call.estuaryID)
		notified = append(notified, call.streamID)
	}
	assert.ElementsMatch(t, []string{"orders", "shipments"}, notified)
	assert.False(t, client.Exists(estuaryKey), "alarm must delete the estuary stream")
	assert.Empty(t, m.GetSubscriptions("acme", "e1"))
}

func TestAlarmReFireWithNoIdentityIsNoop(t *testing.T) {
	var client = streamcore.NewFake()
	var remover = &recordingRemover{}
	var scheduler = NewManualScheduler()
	var m = NewManager(NewMemStore(), client, remover, scheduler)

	// No SetExpiry call was ever made, so no identity exists; a stray Fire
	// (e.g. a duplicate timer delivery) must be a no-op.
	m.fireAlarm("acme/e1")
	assert.Empty(t, remover.calls)
}

func TestSetExpiryReplacesPriorArmedAlarm(t *testing.T) {
	var client = streamcore.NewFake()
	client.Seed(streamcore.Key{ProjectID: "acme", ID: "e1"}, "application/json")
	var remover = &recordingRemover{}
	var scheduler = NewManualScheduler()
	var m = NewManager(NewMemStore(), client, remover, scheduler)

	assert.NoError(t, m.SetExpiry("acme", "e1", time.Hour))
	assert.NoError(t, m.SetExpiry("acme", "e1", 2*time.Hour))

	// Only one alarm should be armed; firing it once drains it.
	assert.True(t, scheduler.Fire("acme/e1"))
	assert.False(t, scheduler.Fire("acme/e1"))
}
