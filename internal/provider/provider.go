// Package provider defines the contract between the sync orchestrator and a
// remote calendar provider, together with the provider error taxonomy.
package provider

import (
	"context"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
)

// Adapter translates between local events and one provider's wire protocol.
type Adapter interface {
	ID() calendar.ProviderID
	// Pull fetches remote changes. A non-empty SinceToken is used alone; the
	// window only applies to full fetches.
	Pull(ctx context.Context, request PullRequest) (PullResult, error)
	// Push applies intents remotely. Results are correlated by LocalID and
	// may be reordered or fewer than the intents submitted.
	Push(ctx context.Context, intents []PushIntent) ([]PushResult, error)
}

// PullRequest parameterizes one pull.
type PullRequest struct {
	SinceToken string
	Window     calendar.Window
}

// PullResult carries the deltas and the cursor to persist. An empty Token
// means the provider returned none and the prior token is kept.
type PullResult struct {
	Token  string
	Deltas []RemoteDelta
}

// DeltaKind distinguishes upserts from deletes.
type DeltaKind string

const (
	DeltaUpsert DeltaKind = "upsert"
	DeltaDelete DeltaKind = "delete"
)

// RemoteDelta is one remote change.
type RemoteDelta struct {
	Kind       DeltaKind
	Provider   calendar.ProviderID
	CalendarID string
	ExternalID string
	// LocalID is set when the remote item carries the local identifier it was created from.
	LocalID calendar.EventID
	// Patch is set for upserts; its ID is filled in by the orchestrator when LocalID is empty.
	Patch *calendar.EventPatch
	// Binding is the binding an upsert confirms.
	Binding calendar.RemoteBinding
}

// PushIntent asks the adapter to apply one local mutation.
type PushIntent struct {
	Action  journal.Action
	Event   calendar.LocalEvent
	Binding *calendar.RemoteBinding
}

// PushResult reports the outcome for one intent.
type PushResult struct {
	Success bool
	Action  journal.Action
	LocalID calendar.EventID
	// Binding is returned on successful create and update.
	Binding *calendar.RemoteBinding
	Err     error
}
