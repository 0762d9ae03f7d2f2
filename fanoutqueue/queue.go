package fanoutqueue

import "context"

// Queue is the durable, at-least-once work queue the Publish Engine
// enqueues to when it chooses the queued dispatch mode (spec §4.4).
// The real durable broker behind it (e.g. a managed message queue) is
// external infrastructure, out of this core's scope; this interface is
// all the Publish Engine and Queue Consumer depend on.
type Queue interface {
	Enqueue(ctx context.Context, msg Message) error
}

// SubscriberRemover is implemented by the Subscriber Registry and used
// by the Queue Consumer to prune stale subscribers it discovers while
// draining queue batches (spec §4.6 step 3).
type SubscriberRemover interface {
	RemoveMany(ctx context.Context, projectID, streamID string, estuaryIDs []string) error
}
