// Package keyvalidate implements the validation regexps and StreamKey
// parsing rules shared across the fanout core (spec §3, §6).
package keyvalidate

import (
	"fmt"
	"regexp"
)

var (
	// idPattern matches a streamId or estuaryId component: both halves of a
	// StreamKey must satisfy it.
	idPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

	// projectPattern further restricts projectId, which may not contain ':' or '.'.
	projectPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// uuidPattern is the case-insensitive RFC 4122 shape required of estuaryId.
	uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// ValidProjectID reports whether projectId matches the restricted pattern.
func ValidProjectID(projectID string) bool {
	return projectID != "" && projectPattern.MatchString(projectID)
}

// ValidStreamID reports whether streamId matches the general id pattern.
// The same rule applies to estuaryId as a plain StreamKey component.
func ValidStreamID(streamID string) bool {
	return streamID != "" && idPattern.MatchString(streamID)
}

// ValidEstuaryID reports whether estuaryId is a case-insensitive UUID,
// per spec §6.
func ValidEstuaryID(estuaryID string) bool {
	return uuidPattern.MatchString(estuaryID)
}

// StreamKey is the canonical "projectId/streamId" identifier. Keys are
// opaque to the core beyond validation; they route to a per-key actor in
// every subsystem that owns durable state.
type StreamKey struct {
	ProjectID string
	ID        string // streamId or estuaryId, depending on context
}

// String renders the canonical "projectId/streamId" form.
func (k StreamKey) String() string {
	return k.ProjectID + "/" + k.ID
}

// Validate checks both halves of the key against spec §3's patterns.
// requireUUID additionally enforces the estuaryId UUID shape (spec §6),
// and should be set when ID names an estuary rather than a source stream.
func (k StreamKey) Validate(requireUUID bool) error {
	if !ValidProjectID(k.ProjectID) {
		return fmt.Errorf("%w: projectId %q", ErrInvalidKey, k.ProjectID)
	}
	if requireUUID {
		if !ValidEstuaryID(k.ID) {
			return fmt.Errorf("%w: estuaryId %q is not a UUID", ErrInvalidKey, k.ID)
		}
		return nil
	}
	if !ValidStreamID(k.ID) {
		return fmt.Errorf("%w: streamId %q", ErrInvalidKey, k.ID)
	}
	return nil
}

// ErrInvalidKey is wrapped by Validate's returned errors so callers can
// match with errors.Is.
var ErrInvalidKey = fmt.Errorf("invalid key")
