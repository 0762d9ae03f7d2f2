package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

func seedEstuaries(f *streamcore.Fake, project string, ids ...string) {
	for _, id := range ids {
		f.Seed(streamcore.Key{ProjectID: project, ID: id}, "application/json")
	}
}

func TestDispatchAllSuccess(t *testing.T) {
	var client = streamcore.NewFake()
	seedEstuaries(client, "acme", "e1", "e2", "e3")

	var d = New(client)
	var res = d.Dispatch(context.Background(), Input{
		ProjectID:  "acme",
		EstuaryIDs: []string{"e1", "e2", "e3"},
		Payload:    []byte("hello"),
	})

	assert.Equal(t, 3, res.Successes)
	assert.Equal(t, 0, res.Failures)
	assert.Empty(t, res.StaleEstuaryIDs)
	assert.Len(t, client.PostCalls, 3)
}

func TestDispatchClassifiesStaleAsFailureAndRecordsIt(t *testing.T) {
	var client = streamcore.NewFake()
	seedEstuaries(client, "acme", "e1")
	// e2 was never seeded/created: Fake.Post treats it as 404/stale.

	var d = New(client)
	var res = d.Dispatch(context.Background(), Input{
		ProjectID:  "acme",
		EstuaryIDs: []string{"e1", "e2"},
		Payload:    []byte("hello"),
	})

	assert.Equal(t, 1, res.Successes)
	assert.Equal(t, 1, res.Failures)
	assert.Equal(t, []string{"e2"}, res.StaleEstuaryIDs)
}

func TestDispatchTransportErrorCountsAsFailureNotStale(t *testing.T) {
	var client = streamcore.NewFake()
	seedEstuaries(client, "acme", "e1")
	client.PostErr[(streamcore.Key{ProjectID: "acme", ID: "e1"}).String()] = assertErr{}

	var d = New(client)
	var res = d.Dispatch(context.Background(), Input{
		ProjectID:  "acme",
		EstuaryIDs: []string{"e1"},
		Payload:    []byte("hello"),
	})

	assert.Equal(t, 0, res.Successes)
	assert.Equal(t, 1, res.Failures)
	assert.Empty(t, res.StaleEstuaryIDs)
}

func TestDispatchOneBadSinkDoesNotCancelPeers(t *testing.T) {
	var client = streamcore.NewFake()
	seedEstuaries(client, "acme", "e1", "e2")
	client.PostErr[(streamcore.Key{ProjectID: "acme", ID: "e1"}).String()] = assertErr{}

	var d = New(client)
	var res = d.Dispatch(context.Background(), Input{
		ProjectID:      "acme",
		EstuaryIDs:     []string{"e1", "e2"},
		Payload:        []byte("hello"),
		PerCallTimeout: time.Second,
	})

	assert.Equal(t, 1, res.Successes, "e2 must still succeed despite e1 erroring")
	assert.Equal(t, 1, res.Failures)
}

func TestDispatchChunksByBatchSize(t *testing.T) {
	var client = streamcore.NewFake()
	seedEstuaries(client, "acme", "e1", "e2", "e3", "e4", "e5")

	var d = New(client)
	var res = d.Dispatch(context.Background(), Input{
		ProjectID:  "acme",
		EstuaryIDs: []string{"e1", "e2", "e3", "e4", "e5"},
		Payload:    []byte("x"),
		BatchSize:  2,
	})

	assert.Equal(t, 5, res.Successes)
}

type assertErr struct{}

func (assertErr) Error() string { return "transport error" }
