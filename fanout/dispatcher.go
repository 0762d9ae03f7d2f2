// Package fanout implements the Fanout Dispatcher (spec §4.2): given a
// payload and a set of estuary keys, it writes the payload to each
// estuary stream with bounded concurrency and a per-call deadline, and
// classifies the outcome of each write.
package fanout

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// Input parametrizes a single Dispatch call.
type Input struct {
	ProjectID       string
	EstuaryIDs      []string
	Payload         []byte // treated as shared, read-only across all calls
	ContentType     string
	ProducerHeaders streamcore.ProducerHeaders
	PerCallTimeout  time.Duration
	BatchSize       int // chunk size; falls back to DefaultBatchSize if <= 0
}

// DefaultBatchSize is FANOUT_BATCH_SIZE's documented default (spec §6).
const DefaultBatchSize = 50

// Result aggregates the outcome of dispatching to every estuary id.
type Result struct {
	Successes       int
	Failures        int
	StaleEstuaryIDs []string
}

// Dispatcher writes a payload to a set of estuary streams.
type Dispatcher struct {
	Client streamcore.Client

	// Limiter, if set, bounds the aggregate outbound Post rate across all
	// estuary writes this Dispatcher issues, protecting the stream-core
	// from a single hot source fanning out to a very large estuary set in
	// one burst. Nil means unlimited.
	Limiter *rate.Limiter
}

// New returns a Dispatcher backed by client, with no rate limit.
func New(client streamcore.Client) *Dispatcher {
	return &Dispatcher{Client: client}
}

// WithLimiter attaches an outbound rate limit of n writes/sec with the
// given burst, returning d for chaining.
func (d *Dispatcher) WithLimiter(n rate.Limit, burst int) *Dispatcher {
	d.Limiter = rate.NewLimiter(n, burst)
	return d
}

// Dispatch partitions in.EstuaryIDs into chunks of in.BatchSize, and for
// each chunk issues all Post calls in parallel, awaiting every outcome —
// success, stale, or failure alike — before moving to the next chunk.
// One bad sink never cancels its peers within a chunk (spec §4.2, §9):
// the dispatcher never short-circuits on the first error, so an
// errgroup.Group here is used purely as a wait-group substitute — every
// goroutine it runs always returns a nil error, folding its real outcome
// into the shared result under a mutex instead.
func (d *Dispatcher) Dispatch(ctx context.Context, in Input) Result {
	var batchSize = in.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	var result Result
	for start := 0; start < len(in.EstuaryIDs); start += batchSize {
		var end = start + batchSize
		if end > len(in.EstuaryIDs) {
			end = len(in.EstuaryIDs)
		}
		d.dispatchChunk(ctx, in, in.EstuaryIDs[start:end], &result)
	}
	return result
}

func (d *Dispatcher) dispatchChunk(ctx context.Context, in Input, chunk []string, result *Result) {
	var mu sync.Mutex
	var g, gctx = errgroup.WithContext(ctx)
	_ = gctx // each call gets its own per-call deadline, independent of sibling cancellation

	for _, estuaryID := range chunk {
		var estuaryID = estuaryID // capture
		g.Go(func() error {
			var callCtx = ctx
			var cancel context.CancelFunc
			if in.PerCallTimeout > 0 {
				callCtx, cancel = context.WithTimeout(ctx, in.PerCallTimeout)
				defer cancel()
			}

			if d.Limiter != nil {
				if err := d.Limiter.Wait(callCtx); err != nil {
					mu.Lock()
					result.Failures++
					mu.Unlock()
					return nil
				}
			}

			var key = streamcore.Key{ProjectID: in.ProjectID, ID: estuaryID}
			var payload = clonePayload(in.Payload)

			res, err := d.Client.Post(callCtx, key, payload, in.ContentType, in.ProducerHeaders)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failures++
			case res.Stale:
				result.Failures++
				result.StaleEstuaryIDs = append(result.StaleEstuaryIDs, estuaryID)
			case res.OK:
				result.Successes++
			default:
				result.Failures++
			}
			return nil
		})
	}
	_ = g.Wait()
}

// clonePayload defends against RPC transports that consume or detach the
// buffer they're given (spec §4.2, §5): every call gets its own copy so
// the input payload remains safely shared read-only across the chunk.
func clonePayload(p []byte) []byte {
	var out = make([]byte, len(p))
	copy(out, p)
	return out
}
