package calendar

import "time"

// EventProjection is the narrower, comparable view of a LocalEvent.
// Journal snapshots and the journalizer shadow are stored in this shape.
type EventProjection struct {
	Title     string          `json:"title"`
	Start     time.Time       `json:"start"`
	End       time.Time       `json:"end"`
	AllDay    bool            `json:"allDay"`
	Location  string          `json:"location,omitempty"`
	Notes     string          `json:"notes,omitempty"`
	Attendees []string        `json:"attendees,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	Colour    string          `json:"colour,omitempty"`
	Bindings  []RemoteBinding `json:"bindings,omitempty"`
}

// Equal reports whether both projections carry the same values, bindings included.
func (projection EventProjection) Equal(other EventProjection) bool {
	return projection.EqualIgnoringBindings(other) && bindingsEqual(projection.Bindings, other.Bindings)
}

// EqualIgnoringBindings compares every projected field except the binding list.
func (projection EventProjection) EqualIgnoringBindings(other EventProjection) bool {
	return projection.Title == other.Title &&
		projection.Start.Equal(other.Start) &&
		projection.End.Equal(other.End) &&
		projection.AllDay == other.AllDay &&
		projection.Location == other.Location &&
		projection.Notes == other.Notes &&
		projection.Colour == other.Colour &&
		stringsEqual(projection.Attendees, other.Attendees) &&
		stringsEqual(projection.Tags, other.Tags)
}

// ToEvent rebuilds a LocalEvent from the projection. Fields outside the projection stay empty.
func (projection EventProjection) ToEvent(id EventID) LocalEvent {
	event := LocalEvent{
		ID:        id,
		Title:     projection.Title,
		Start:     projection.Start,
		End:       projection.End,
		AllDay:    projection.AllDay,
		Location:  projection.Location,
		Notes:     projection.Notes,
		Attendees: cloneStrings(projection.Attendees),
		Tags:      cloneStrings(projection.Tags),
		Colour:    projection.Colour,
	}
	if projection.Bindings != nil {
		event.Bindings = append([]RemoteBinding(nil), projection.Bindings...)
	}
	return event
}

func stringsEqual(left, right []string) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}

// bindingsEqual ignores ordering; at most one binding exists per provider.
func bindingsEqual(left, right []RemoteBinding) bool {
	if len(left) != len(right) {
		return false
	}
	byProvider := make(map[ProviderID]RemoteBinding, len(left))
	for _, binding := range left {
		byProvider[binding.Provider] = binding
	}
	for _, binding := range right {
		existing, ok := byProvider[binding.Provider]
		if !ok || existing != binding {
			return false
		}
	}
	return true
}
