// Package streamcore is the narrow facade this core uses to reach the
// append-log storage engine (the "stream core"). The storage engine
// itself — persistence, offset assignment, compaction — is out of scope
// (spec §1); this package only states the four operations the fanout
// core depends on (spec §4.1) and ships one real transport (HTTPClient)
// plus a Fake for tests.
package streamcore

import (
	"context"

	"github.com/commoncurriculum/estuary-fanout/internal/keyvalidate"
)

// Key identifies a stream or estuary by its projectId/streamId pair.
type Key = keyvalidate.StreamKey

// ProducerHeaders are attached to every fanout write so sinks can
// dedup on (ProducerID, ProducerEpoch, ProducerSeq) (spec §6).
type ProducerHeaders struct {
	ProducerID    string
	ProducerEpoch string
	ProducerSeq   string
}

// HeadResult is the outcome of a Head call.
type HeadResult struct {
	Exists      bool
	ContentType string
}

// PutOutcome classifies the domain meaning of a Put response (spec §4.1, §6).
type PutOutcome int

const (
	PutCreated PutOutcome = iota // 201: stream did not exist, now does
	PutTouched                   // 200: stream existed, touched
	PutConflict                  // 409: exists with different metadata
	PutFailed                    // any other 4xx/5xx
)

// PutResult is the outcome of a Put call.
type PutResult struct {
	Outcome    PutOutcome
	HTTPStatus int
}

// PostResult is the outcome of a Post (append) call.
type PostResult struct {
	HTTPStatus int
	NextOffset string
	OK         bool // store reports success
	Stale      bool // store reports 404: the target stream no longer exists
}

// DeleteResult is the outcome of a Delete call. 404 counts as success
// (spec §4.1: delete is idempotent).
type DeleteResult struct {
	OK         bool
	HTTPStatus int
}

// Client is the contract this core consumes from the stream-core storage
// engine (spec §4.1). Implementations may fail any call with a transient
// transport error; callers are responsible for applying a per-call
// deadline via ctx where the spec requires one (Post calls issued from
// the Fanout Dispatcher, spec §4.2).
type Client interface {
	Head(ctx context.Context, key Key) (HeadResult, error)
	Put(ctx context.Context, key Key, contentType string, body []byte) (PutResult, error)
	Post(ctx context.Context, key Key, payload []byte, contentType string, headers ProducerHeaders) (PostResult, error)
	Delete(ctx context.Context, key Key) (DeleteResult, error)
}
