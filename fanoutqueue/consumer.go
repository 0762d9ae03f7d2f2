package fanoutqueue

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/commoncurriculum/estuary-fanout/fanout"
	"github.com/commoncurriculum/estuary-fanout/internal/logging"
)

// Decision is the Queue Consumer's ack/retry verdict for one message
// (spec §4.6 step 5).
type Decision int

const (
	Ack Decision = iota
	Retry
)

func (d Decision) String() string {
	if d == Ack {
		return "ack"
	}
	return "retry"
}

// Consumer drains Async Fanout Queue batches, invokes the Fanout
// Dispatcher, feeds stale ids back to the Subscriber Registry, and
// decides ack vs. retry per message (spec §4.6).
type Consumer struct {
	Dispatcher     *fanout.Dispatcher
	Remover        SubscriberRemover
	PerCallTimeout time.Duration
	BatchSize      int
}

// NewConsumer wires a Consumer from its collaborators.
func NewConsumer(dispatcher *fanout.Dispatcher, remover SubscriberRemover, perCallTimeout time.Duration, batchSize int) *Consumer {
	return &Consumer{Dispatcher: dispatcher, Remover: remover, PerCallTimeout: perCallTimeout, BatchSize: batchSize}
}

// ProcessRaw decodes one wire-format queue message and processes it
// (spec §4.6 step 1). A decode failure retries the whole message rather
// than panicking the consumer.
func (c *Consumer) ProcessRaw(ctx context.Context, raw []byte) Decision {
	var msg Message
	if err := msg.UnmarshalJSON(raw); err != nil {
		log.WithError(err).Warn("fanoutqueue: malformed message, retrying")
		return Retry
	}
	return c.Process(ctx, msg)
}

// Process dispatches one already-decoded message and returns the ack/retry
// verdict (spec §4.6 steps 2-5).
func (c *Consumer) Process(ctx context.Context, msg Message) Decision {
	var fields = logging.SourceFields(msg.ProjectID, msg.StreamID)

	result := c.Dispatcher.Dispatch(ctx, fanout.Input{
		ProjectID:       msg.ProjectID,
		EstuaryIDs:      msg.EstuaryIDs,
		Payload:         msg.Payload,
		ContentType:     msg.ContentType,
		ProducerHeaders: msg.ProducerHeaders,
		PerCallTimeout:  c.PerCallTimeout,
		BatchSize:       c.BatchSize,
	})

	if len(result.StaleEstuaryIDs) > 0 && c.Remover != nil {
		if err := c.Remover.RemoveMany(ctx, msg.ProjectID, msg.StreamID, result.StaleEstuaryIDs); err != nil {
			log.WithFields(fields).WithError(err).Warn("fanoutqueue: failed to prune stale subscribers")
		}
	}

	log.WithFields(fields).WithFields(log.Fields{
		"successes": result.Successes,
		"failures":  result.Failures,
		"stale":     len(result.StaleEstuaryIDs),
	}).Debug("fanoutqueue: processed batch")

	// retry iff at least one non-404 failure remains (spec §4.6 step 5).
	if result.Failures-len(result.StaleEstuaryIDs) > 0 {
		return Retry
	}
	return Ack
}

// ProcessBatch processes each message in a batch independently and
// returns a parallel slice of verdicts.
func (c *Consumer) ProcessBatch(ctx context.Context, batch []Message) []Decision {
	var decisions = make([]Decision, len(batch))
	for i, msg := range batch {
		decisions[i] = c.Process(ctx, msg)
	}
	return decisions
}
