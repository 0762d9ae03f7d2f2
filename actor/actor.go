// Package actor generalizes the per-key serialization discipline that
// underlies both the Subscriber Registry and the Estuary Lifecycle
// Manager (spec §5): each key owns exactly one goroutine, which drains a
// private mailbox of closures one at a time, so operations against the
// same key never interleave while distinct keys run fully in parallel.
//
// The shape is lifted from the teacher's consumer/resolver.go, which
// keeps a mutex-guarded map of per-shard Replicas and serializes work
// onto each one; actor.Keyed makes that pattern reusable and generic
// instead of specific to consumer shards.
package actor

import "sync"

// mailbox is a single-goroutine task queue. Closures submitted via Do run
// in submission order and never overlap.
type mailbox struct {
	tasks chan func()
}

func newMailbox() *mailbox {
	var m = &mailbox{tasks: make(chan func(), 64)}
	go m.run()
	return m
}

func (m *mailbox) run() {
	for fn := range m.tasks {
		fn()
	}
}

// do submits fn and blocks until it has run.
func (m *mailbox) do(fn func()) {
	var done = make(chan struct{})
	m.tasks <- func() {
		fn()
		close(done)
	}
	<-done
}

// Keyed owns one state value of type T and one mailbox per distinct key.
// State is created lazily on first use via newState and lives until
// Delete is called.
type Keyed[T any] struct {
	mu       sync.Mutex
	entries  map[string]*entry[T]
	newState func(key string) T
}

type entry[T any] struct {
	box   *mailbox
	state T
}

// NewKeyed returns a Keyed actor registry. newState constructs the zero
// state for a key the first time that key is referenced.
func NewKeyed[T any](newState func(key string) T) *Keyed[T] {
	return &Keyed[T]{
		entries:  make(map[string]*entry[T]),
		newState: newState,
	}
}

func (k *Keyed[T]) entryFor(key string) *entry[T] {
	k.mu.Lock()
	defer k.mu.Unlock()

	if e, ok := k.entries[key]; ok {
		return e
	}
	var e = &entry[T]{box: newMailbox(), state: k.newState(key)}
	k.entries[key] = e
	return e
}

// Do runs fn serialized against key's actor, passing the key's current
// state. It blocks until fn has returned. Concurrent Do calls against
// different keys run concurrently; against the same key, they queue.
func (k *Keyed[T]) Do(key string, fn func(state T)) {
	var e = k.entryFor(key)
	e.box.do(func() { fn(e.state) })
}

// Delete tears down the key's mailbox and drops its state. A subsequent
// Do for the same key re-initializes state from scratch via newState,
// matching the Estuary Lifecycle Manager's re-anchoring behavior (spec
// §4.7 step 4: "the next subscribe will re-initialize it").
func (k *Keyed[T]) Delete(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if e, ok := k.entries[key]; ok {
		close(e.box.tasks)
		delete(k.entries, key)
	}
}

// Len reports the number of currently live keyed actors. Intended for
// tests and operational introspection only.
func (k *Keyed[T]) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
