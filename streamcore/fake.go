package streamcore

import (
	"context"
	"sync"
)

// Fake is an in-memory Client used across this repository's package
// tests. It tracks created streams, records every Post call for
// assertions, and lets tests script per-key failures (stale 404s,
// transport errors, slow responses) to exercise the Fanout Dispatcher,
// Publish Engine, and Queue Consumer without a real stream-core.
type Fake struct {
	mu      sync.Mutex
	streams map[string]*fakeStream

	// PostStale marks a key as permanently 404 on Post (simulates a
	// deleted estuary stream).
	PostStale map[string]bool
	// PostErr forces Post to return a transport error for a key.
	PostErr map[string]error
	// PostDelay, if set, is waited on (respecting ctx) before Post replies;
	// used to exercise FANOUT_RPC_TIMEOUT_MS.
	PostDelay map[string]chan struct{}

	// PostCalls records every successful dispatch to Post, in no
	// particular cross-goroutine order.
	PostCalls []PostCall
}

type fakeStream struct {
	exists      bool
	contentType string
}

// PostCall is one recorded invocation of Fake.Post.
type PostCall struct {
	Key     Key
	Payload []byte
	Headers ProducerHeaders
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		streams:   make(map[string]*fakeStream),
		PostStale: make(map[string]bool),
		PostErr:   make(map[string]error),
		PostDelay: make(map[string]chan struct{}),
	}
}

// Seed registers a stream as already existing, as if created out of band.
func (f *Fake) Seed(key Key, contentType string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streams[key.String()] = &fakeStream{exists: true, contentType: contentType}
}

// Exists reports whether key currently exists in the fake.
func (f *Fake) Exists(key Key) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[key.String()]
	return ok && s.exists
}

func (f *Fake) Head(ctx context.Context, key Key) (HeadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.streams[key.String()]
	if !ok || !s.exists {
		return HeadResult{Exists: false}, nil
	}
	return HeadResult{Exists: true, ContentType: s.contentType}, nil
}

func (f *Fake) Put(ctx context.Context, key Key, contentType string, body []byte) (PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.streams[key.String()]
	if !ok || !s.exists {
		f.streams[key.String()] = &fakeStream{exists: true, contentType: contentType}
		return PutResult{Outcome: PutCreated, HTTPStatus: 201}, nil
	}
	if !ContentTypeEqual(s.contentType, contentType) {
		return PutResult{Outcome: PutConflict, HTTPStatus: 409}, nil
	}
	return PutResult{Outcome: PutTouched, HTTPStatus: 200}, nil
}

func (f *Fake) Post(ctx context.Context, key Key, payload []byte, contentType string, headers ProducerHeaders) (PostResult, error) {
	var k = key.String()

	f.mu.Lock()
	if wait, ok := f.PostDelay[k]; ok {
		f.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return PostResult{}, ctx.Err()
		}
		f.mu.Lock()
	}
	if err, ok := f.PostErr[k]; ok {
		f.mu.Unlock()
		return PostResult{}, err
	}
	if f.PostStale[k] {
		f.mu.Unlock()
		return PostResult{HTTPStatus: 404, Stale: true}, nil
	}
	s, ok := f.streams[k]
	if !ok || !s.exists {
		f.mu.Unlock()
		return PostResult{HTTPStatus: 404, Stale: true}, nil
	}
	f.PostCalls = append(f.PostCalls, PostCall{Key: key, Payload: append([]byte(nil), payload...), Headers: headers})
	f.mu.Unlock()

	return PostResult{HTTPStatus: 204, OK: true, NextOffset: "0"}, nil
}

func (f *Fake) Delete(ctx context.Context, key Key) (DeleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.streams, key.String())
	return DeleteResult{OK: true, HTTPStatus: 200}, nil
}

// ContentTypeEqual does a case-insensitive, parameter-stripped comparison,
// mirroring the stream-core's own content-type matching rule.
func ContentTypeEqual(a, b string) bool {
	return mediaType(a) == mediaType(b)
}

func mediaType(ct string) string {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	var b = []byte(ct)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
