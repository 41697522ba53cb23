// Package checkpoint provides durable, versioned snapshots of workflow
// state keyed by workflow id. A checkpoint is written after every node
// transition and is the sole mechanism for crash recovery and
// human-review suspension.
//
// All stores implement optimistic concurrency: a Save whose revision is
// not exactly one greater than the stored revision fails with a
// stale-checkpoint error, so two concurrent resumes of the same workflow
// can never silently overwrite each other.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coursecraft/coursecraft/types"
)

// SchemaVersion tags every persisted envelope so future state format
// changes can be migrated without breaking in-flight workflows.
const SchemaVersion = 1

// Envelope is the opaque, versioned serialization of workflow state.
type Envelope struct {
	// SchemaVersion is the state format version.
	SchemaVersion int `json:"schema_version"`

	// WorkflowID keys the checkpoint.
	WorkflowID string `json:"workflow_id"`

	// Revision is the monotonic save counter used for optimistic
	// concurrency; the first save of a workflow is revision 1.
	Revision int64 `json:"revision"`

	// SavedAt is when the envelope was written.
	SavedAt time.Time `json:"saved_at"`

	// State is the serialized workflow state.
	State json.RawMessage `json:"state"`
}

// NewEnvelope serializes state into an envelope at the given revision.
func NewEnvelope(workflowID string, revision int64, state any) (*Envelope, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("checkpoint: workflow id is required")
	}
	if revision < 1 {
		return nil, fmt.Errorf("checkpoint: revision must be >= 1, got %d", revision)
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: marshal state: %w", err)
	}
	return &Envelope{
		SchemaVersion: SchemaVersion,
		WorkflowID:    workflowID,
		Revision:      revision,
		SavedAt:       time.Now().UTC(),
		State:         raw,
	}, nil
}

// Decode deserializes the envelope's state into out, rejecting unknown
// schema versions.
func (e *Envelope) Decode(out any) error {
	if e.SchemaVersion != SchemaVersion {
		return types.NewError(types.ErrCheckpointSchema,
			fmt.Sprintf("unsupported checkpoint schema version %d", e.SchemaVersion))
	}
	if err := json.Unmarshal(e.State, out); err != nil {
		return fmt.Errorf("checkpoint: decode state: %w", err)
	}
	return nil
}

// Store is the durable checkpoint backend.
type Store interface {
	// Save persists the envelope. It fails with a stale-checkpoint error
	// when env.Revision is not exactly one greater than the stored
	// revision (or not 1 for a new workflow).
	Save(ctx context.Context, env *Envelope) error

	// Load returns the latest envelope for the workflow, with found
	// false when no checkpoint exists.
	Load(ctx context.Context, workflowID string) (*Envelope, bool, error)
}

// errStale builds the canonical stale-write error.
func errStale(workflowID string, revision int64) error {
	return types.NewError(types.ErrCheckpointStale,
		fmt.Sprintf("stale checkpoint write for %s at revision %d", workflowID, revision))
}
