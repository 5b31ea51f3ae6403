package calendar

import "time"

// EventPatch is a partial LocalEvent. Nil fields are absent and leave the
// stored value untouched during a keyed merge.
type EventPatch struct {
	ID         EventID
	Title      *string
	Start      *time.Time
	End        *time.Time
	AllDay     *bool
	Location   *string
	Notes      *string
	Attendees  *[]string
	Tags       *[]string
	Colour     *string
	Recurrence *string
	Binding    *RemoteBinding
}

// Apply merges the patch over existing; incoming fields win.
func (patch EventPatch) Apply(existing LocalEvent) LocalEvent {
	merged := existing.Clone()
	merged.ID = patch.ID
	if patch.Title != nil {
		merged.Title = *patch.Title
	}
	if patch.Start != nil {
		merged.Start = patch.Start.UTC()
	}
	if patch.End != nil {
		merged.End = patch.End.UTC()
	}
	if patch.AllDay != nil {
		merged.AllDay = *patch.AllDay
	}
	if patch.Location != nil {
		merged.Location = *patch.Location
	}
	if patch.Notes != nil {
		merged.Notes = *patch.Notes
	}
	if patch.Attendees != nil {
		merged.Attendees = cloneStrings(*patch.Attendees)
	}
	if patch.Tags != nil {
		merged.Tags = cloneStrings(*patch.Tags)
	}
	if patch.Colour != nil {
		merged.Colour = *patch.Colour
	}
	if patch.Recurrence != nil {
		merged.Recurrence = *patch.Recurrence
	}
	if patch.Binding != nil {
		merged.SetBinding(*patch.Binding)
	}
	return merged
}

// FullPatch returns a patch that carries every field of the event except bindings.
func FullPatch(event LocalEvent) EventPatch {
	start := event.Start
	end := event.End
	attendees := cloneStrings(event.Attendees)
	tags := cloneStrings(event.Tags)
	return EventPatch{
		ID:         event.ID,
		Title:      &event.Title,
		Start:      &start,
		End:        &end,
		AllDay:     &event.AllDay,
		Location:   &event.Location,
		Notes:      &event.Notes,
		Attendees:  &attendees,
		Tags:       &tags,
		Colour:     &event.Colour,
		Recurrence: &event.Recurrence,
	}
}
