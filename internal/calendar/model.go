package calendar

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidEventID indicates that an event identifier is empty or exceeds storage bounds.
	ErrInvalidEventID = errors.New("calendar: invalid event id")
	// ErrInvalidProviderID indicates that a provider identifier is empty or exceeds storage bounds.
	ErrInvalidProviderID = errors.New("calendar: invalid provider id")
	// ErrInvalidEventTimes indicates that an event ends before it starts.
	ErrInvalidEventTimes = errors.New("calendar: invalid event times")
)

// EventID represents a validated local event identifier.
type EventID string

// NewEventID validates raw input and returns an EventID.
func NewEventID(rawInput string) (EventID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidEventID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidEventID, maxIdentifierLength)
	}
	return EventID(trimmed), nil
}

// String returns the underlying string identifier.
func (id EventID) String() string {
	return string(id)
}

// ProviderID names a remote calendar provider.
type ProviderID string

// ProviderGoogle identifies the Google Calendar provider.
const ProviderGoogle ProviderID = "google"

// NewProviderID validates raw input and returns a lower-cased ProviderID.
func NewProviderID(rawInput string) (ProviderID, error) {
	trimmed := strings.ToLower(strings.TrimSpace(rawInput))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidProviderID)
	}
	if len(trimmed) > 32 {
		return "", fmt.Errorf("%w: exceeds 32 characters", ErrInvalidProviderID)
	}
	return ProviderID(trimmed), nil
}

// String returns the underlying provider name.
func (id ProviderID) String() string {
	return string(id)
}

// RemoteBinding links a local event to one remote object.
type RemoteBinding struct {
	Provider   ProviderID `json:"provider"`
	CalendarID string     `json:"calendarId"`
	ExternalID string     `json:"externalId"`
	ETag       string     `json:"etag,omitempty"`
}

// LocalEvent is the unit of synchronization.
type LocalEvent struct {
	ID         EventID
	Title      string
	Start      time.Time
	End        time.Time
	AllDay     bool
	Location   string
	Notes      string
	Attendees  []string
	Tags       []string
	Colour     string
	Recurrence string
	Bindings   []RemoteBinding
	UpdatedAt  time.Time
}

// Validate checks the structural invariants of the event.
func (event LocalEvent) Validate() error {
	if _, err := NewEventID(event.ID.String()); err != nil {
		return err
	}
	if !event.End.IsZero() && event.End.Before(event.Start) {
		return fmt.Errorf("%w: end %s before start %s", ErrInvalidEventTimes, event.End.Format(time.RFC3339), event.Start.Format(time.RFC3339))
	}
	seen := make(map[ProviderID]struct{}, len(event.Bindings))
	for _, binding := range event.Bindings {
		if _, dup := seen[binding.Provider]; dup {
			return fmt.Errorf("calendar: event %s carries more than one %s binding", event.ID, binding.Provider)
		}
		seen[binding.Provider] = struct{}{}
	}
	return nil
}

// Binding returns the binding held for the provider, if any.
func (event LocalEvent) Binding(provider ProviderID) (RemoteBinding, bool) {
	for _, binding := range event.Bindings {
		if binding.Provider == provider {
			return binding, true
		}
	}
	return RemoteBinding{}, false
}

// SetBinding attaches the binding, replacing any existing binding for the same provider.
func (event *LocalEvent) SetBinding(binding RemoteBinding) {
	bindings := make([]RemoteBinding, 0, len(event.Bindings)+1)
	for _, existing := range event.Bindings {
		if existing.Provider == binding.Provider {
			continue
		}
		bindings = append(bindings, existing)
	}
	event.Bindings = append(bindings, binding)
}

// Clone returns a deep copy of the event.
func (event LocalEvent) Clone() LocalEvent {
	clone := event
	clone.Attendees = cloneStrings(event.Attendees)
	clone.Tags = cloneStrings(event.Tags)
	if event.Bindings != nil {
		clone.Bindings = append([]RemoteBinding(nil), event.Bindings...)
	}
	return clone
}

// Projection returns the comparable projection used for change detection.
func (event LocalEvent) Projection() EventProjection {
	clone := event.Clone()
	return EventProjection{
		Title:     clone.Title,
		Start:     clone.Start.UTC(),
		End:       clone.End.UTC(),
		AllDay:    clone.AllDay,
		Location:  clone.Location,
		Notes:     clone.Notes,
		Attendees: clone.Attendees,
		Tags:      clone.Tags,
		Colour:    clone.Colour,
		Bindings:  clone.Bindings,
	}
}

// Window bounds pulls and pushes in time. The zero Window is unbounded.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewSyncWindow computes [now - margin, now + weeks].
func NewSyncWindow(now time.Time, margin time.Duration, weeks int) Window {
	if weeks <= 0 {
		weeks = 1
	}
	return Window{
		Start: now.Add(-margin).UTC(),
		End:   now.AddDate(0, 0, 7*weeks).UTC(),
	}
}

// IsZero reports whether the window is unbounded.
func (window Window) IsZero() bool {
	return window.Start.IsZero() && window.End.IsZero()
}

// Overlaps reports whether [start, end] intersects the window, bounds inclusive.
func (window Window) Overlaps(start, end time.Time) bool {
	if window.IsZero() {
		return true
	}
	if end.IsZero() {
		end = start
	}
	if !window.End.IsZero() && start.After(window.End) {
		return false
	}
	if !window.Start.IsZero() && end.Before(window.Start) {
		return false
	}
	return true
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}
