// Package orchestrate implements Subscribe/Unsubscribe/Touch/Delete
// (spec §4.8), the request-facing operations that coordinate the
// Subscriber Registry and the Estuary Lifecycle Manager across their two
// independent actor keyspaces.
package orchestrate

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/commoncurriculum/estuary-fanout/estuary"
	"github.com/commoncurriculum/estuary-fanout/internal/estuaryerr"
	"github.com/commoncurriculum/estuary-fanout/internal/keyvalidate"
	"github.com/commoncurriculum/estuary-fanout/internal/logging"
	"github.com/commoncurriculum/estuary-fanout/registry"
	"github.com/commoncurriculum/estuary-fanout/streamcore"
)

// SubscribeResult is returned by Subscribe (spec §4.8 step 5).
type SubscribeResult struct {
	EstuaryID        string
	StreamID         string
	EstuaryStreamKey streamcore.Key
	ExpiresAt        time.Time
	IsNewEstuary     bool
}

// Orchestrator wires the Stream-Core client, Subscriber Registry, and
// Estuary Lifecycle Manager together for the request-facing operations.
type Orchestrator struct {
	Client   streamcore.Client
	Registry *registry.Registry
	Estuary  *estuary.Manager
	TTL      time.Duration
}

// New wires an Orchestrator from its collaborators.
func New(client streamcore.Client, reg *registry.Registry, mgr *estuary.Manager, ttl time.Duration) *Orchestrator {
	return &Orchestrator{Client: client, Registry: reg, Estuary: mgr, TTL: ttl}
}

// Subscribe implements spec §4.8's 5-step algorithm, after rejecting a
// malformed streamId/estuaryId per spec §6's validation rules.
func (o *Orchestrator) Subscribe(ctx context.Context, projectID, streamID, estuaryID string) (SubscribeResult, error) {
	if err := validateStreamKey(projectID, streamID); err != nil {
		return SubscribeResult{}, err
	}
	if err := validateEstuaryID(projectID, estuaryID); err != nil {
		return SubscribeResult{}, err
	}

	var sourceKey = streamcore.Key{ProjectID: projectID, ID: streamID}
	var estuaryKey = streamcore.Key{ProjectID: projectID, ID: estuaryID}

	// Step 1: head the source.
	head, err := o.Client.Head(ctx, sourceKey)
	if err != nil {
		return SubscribeResult{}, estuaryerr.Wrap(estuaryerr.Internal, err, "head source failed")
	}
	if !head.Exists {
		return SubscribeResult{}, estuaryerr.New(estuaryerr.SourceNotFound, "source %s does not exist", sourceKey)
	}

	// Step 2: put-or-touch the estuary.
	var expiresAt = time.Now().Add(o.TTL)
	put, err := o.Client.Put(ctx, estuaryKey, head.ContentType, expiryPayload(expiresAt))
	if err != nil {
		return SubscribeResult{}, estuaryerr.Wrap(estuaryerr.Internal, err, "put estuary failed")
	}
	var isNew = put.Outcome == streamcore.PutCreated
	if put.Outcome == streamcore.PutConflict {
		return SubscribeResult{}, estuaryerr.New(estuaryerr.ContentTypeMismatch,
			"estuary %s exists with a different content-type", estuaryKey)
	}
	if put.Outcome == streamcore.PutFailed {
		return SubscribeResult{}, estuaryerr.New(estuaryerr.UpstreamWriteFailed,
			"put estuary %s failed, status=%d", estuaryKey, put.HTTPStatus)
	}

	// Step 3: register the subscription, rolling back a just-created
	// estuary on failure.
	if err := o.Registry.Add(projectID, streamID, estuaryID, nowMillis()); err != nil {
		if isNew {
			if _, delErr := o.Client.Delete(ctx, estuaryKey); delErr != nil {
				log.WithFields(logging.EstuaryFields(projectID, estuaryID)).WithError(delErr).
					Warn("orchestrate: rollback delete of newly-created estuary failed")
			}
		}
		return SubscribeResult{}, estuaryerr.Wrap(estuaryerr.Internal, err, "registry add failed")
	}

	// Step 4: estuary lifecycle bookkeeping.
	if err := o.Estuary.AddSubscription(projectID, estuaryID, streamID); err != nil {
		return SubscribeResult{}, estuaryerr.Wrap(estuaryerr.Internal, err, "estuary addSubscription failed")
	}
	if err := o.Estuary.SetExpiry(projectID, estuaryID, o.TTL); err != nil {
		return SubscribeResult{}, estuaryerr.Wrap(estuaryerr.Internal, err, "estuary setExpiry failed")
	}

	// Step 5: response.
	return SubscribeResult{
		EstuaryID:        estuaryID,
		StreamID:         streamID,
		EstuaryStreamKey: estuaryKey,
		ExpiresAt:        expiresAt,
		IsNewEstuary:     isNew,
	}, nil
}

// Unsubscribe implements spec §4.8's Unsubscribe: idempotent in both
// collaborators, no rollback needed.
func (o *Orchestrator) Unsubscribe(projectID, streamID, estuaryID string) error {
	if err := validateStreamKey(projectID, streamID); err != nil {
		return err
	}
	if err := validateEstuaryID(projectID, estuaryID); err != nil {
		return err
	}
	if err := o.Registry.Remove(projectID, streamID, estuaryID); err != nil {
		return estuaryerr.Wrap(estuaryerr.Internal, err, "registry remove failed")
	}
	if err := o.Estuary.RemoveSubscription(projectID, estuaryID, streamID); err != nil {
		return estuaryerr.Wrap(estuaryerr.Internal, err, "estuary removeSubscription failed")
	}
	return nil
}

// Touch refreshes an estuary's content-type/expiresAt payload and resets
// its lifecycle alarm, independent of any subscribe (spec §4.8 Touch estuary).
func (o *Orchestrator) Touch(ctx context.Context, projectID, estuaryID, contentType string) error {
	if err := validateEstuaryID(projectID, estuaryID); err != nil {
		return err
	}
	var estuaryKey = streamcore.Key{ProjectID: projectID, ID: estuaryID}
	var expiresAt = time.Now().Add(o.TTL)
	if _, err := o.Client.Put(ctx, estuaryKey, contentType, expiryPayload(expiresAt)); err != nil {
		return estuaryerr.Wrap(estuaryerr.Internal, err, "touch estuary put failed")
	}
	return o.Estuary.SetExpiry(projectID, estuaryID, o.TTL)
}

// expiryPayload renders the {expiresAt} body spec §4.8 attaches to every
// estuary put.
func expiryPayload(expiresAt time.Time) []byte {
	var body, _ = json.Marshal(struct {
		ExpiresAt int64 `json:"expiresAt"`
	}{ExpiresAt: expiresAt.UnixMilli()})
	return body
}

// Delete removes the estuary stream itself. The Estuary Lifecycle
// Manager's own state is left to converge lazily via its alarm or a
// future re-subscribe (spec §4.8 Delete estuary).
func (o *Orchestrator) Delete(ctx context.Context, projectID, estuaryID string) error {
	if err := validateEstuaryID(projectID, estuaryID); err != nil {
		return err
	}
	var estuaryKey = streamcore.Key{ProjectID: projectID, ID: estuaryID}
	if _, err := o.Client.Delete(ctx, estuaryKey); err != nil {
		return estuaryerr.Wrap(estuaryerr.Internal, err, "delete estuary failed")
	}
	return nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// validateStreamKey enforces spec §6's projectId/streamId shape before any
// collaborator is touched.
func validateStreamKey(projectID, streamID string) error {
	if err := (keyvalidate.StreamKey{ProjectID: projectID, ID: streamID}).Validate(false); err != nil {
		return estuaryerr.Wrap(estuaryerr.Validation, err, "invalid source key")
	}
	return nil
}

// validateEstuaryID enforces spec §6's UUID shape required of estuaryId.
func validateEstuaryID(projectID, estuaryID string) error {
	if err := (keyvalidate.StreamKey{ProjectID: projectID, ID: estuaryID}).Validate(true); err != nil {
		return estuaryerr.Wrap(estuaryerr.Validation, err, "invalid estuary id")
	}
	return nil
}
