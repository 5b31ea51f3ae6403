package orchestrator

import (
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
)

// Trigger names what started a run. All triggers are equivalent to the engine.
type Trigger string

const (
	TriggerTimer   Trigger = "timer"
	TriggerVisible Trigger = "visible"
	TriggerManual  Trigger = "manual"
)

// State is the outcome class of a run request.
type State string

const (
	StateCompleted      State = "completed"
	StateDisabled       State = "disabled"
	StateAlreadyRunning State = "already_running"
	StateNothingToDo    State = "nothing_to_do"
)

// ProviderReport summarizes one adapter's part of a run.
type ProviderReport struct {
	Provider     string            `json:"provider"`
	Pulled       int               `json:"pulled"`
	Merged       int               `json:"merged"`
	Deleted      int               `json:"deleted"`
	TokenCleared bool              `json:"tokenCleared,omitempty"`
	Pushed       int               `json:"pushed"`
	Confirmed    int               `json:"confirmed"`
	Failed       int               `json:"failed"`
	PullFailure  *provider.Failure `json:"pullFailure,omitempty"`
	PushFailure  *provider.Failure `json:"pushFailure,omitempty"`
}

// Status is the result of one run request.
type Status struct {
	RunID      string           `json:"runId,omitempty"`
	Trigger    Trigger          `json:"trigger"`
	State      State            `json:"state"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt,omitempty"`
	Batch      int              `json:"batch"`
	Dropped    int              `json:"dropped"`
	Retained   int              `json:"retained"`
	Skipped    int              `json:"skipped"`
	Providers  []ProviderReport `json:"providers,omitempty"`
}

func (s *Status) report(id string) *ProviderReport {
	for index := range s.Providers {
		if s.Providers[index].Provider == id {
			return &s.Providers[index]
		}
	}
	s.Providers = append(s.Providers, ProviderReport{Provider: id})
	return &s.Providers[len(s.Providers)-1]
}
