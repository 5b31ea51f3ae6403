package google

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	calendarapi "google.golang.org/api/calendar/v3"
)

const (
	propertyLocalID   = "hearthLocalId"
	propertyTags      = "hearthTags"
	propertyAttendees = "hearthAttendees"
	propertyColour    = "hearthColour"
	statusCancelled   = "cancelled"
	dateLayout        = "2006-01-02"
	timeZoneUTC       = "UTC"
	paletteSize       = 11
)

var errMissingStart = errors.New("missing start")

// toDelta maps a remote item. ok is false for items that must not surface
// locally, such as recurring series masters.
func toDelta(item *calendarapi.Event, calendarID string, allDayLocation *time.Location) (provider.RemoteDelta, bool, error) {
	if item == nil || item.Id == "" {
		return provider.RemoteDelta{}, false, nil
	}
	delta := provider.RemoteDelta{
		Provider:   calendar.ProviderGoogle,
		CalendarID: calendarID,
		ExternalID: item.Id,
		LocalID:    localIDOf(item),
		Binding: calendar.RemoteBinding{
			Provider:   calendar.ProviderGoogle,
			CalendarID: calendarID,
			ExternalID: item.Id,
			ETag:       item.Etag,
		},
	}
	if item.Status == statusCancelled {
		delta.Kind = provider.DeltaDelete
		return delta, true, nil
	}
	if len(item.Recurrence) > 0 && item.RecurringEventId == "" {
		return provider.RemoteDelta{}, false, nil
	}

	start, end, allDay, err := parseTimes(item, allDayLocation)
	if err != nil {
		return provider.RemoteDelta{}, false, fmt.Errorf("google: event %s: %w", item.Id, err)
	}
	title := item.Summary
	location := item.Location
	notes := item.Description
	colour := colourOf(item)
	attendees := attendeesOf(item)
	binding := delta.Binding
	patch := calendar.EventPatch{
		ID:        delta.LocalID,
		Title:     &title,
		Start:     &start,
		End:       &end,
		AllDay:    &allDay,
		Location:  &location,
		Notes:     &notes,
		Attendees: &attendees,
		Colour:    &colour,
		Binding:   &binding,
	}
	if tags, ok := tagsOf(item); ok {
		patch.Tags = &tags
	}
	delta.Kind = provider.DeltaUpsert
	delta.Patch = &patch
	return delta, true, nil
}

// parseTimes converts the wire times. All-day items carry an exclusive end
// date; the local model uses an inclusive end one millisecond earlier.
func parseTimes(item *calendarapi.Event, allDayLocation *time.Location) (time.Time, time.Time, bool, error) {
	if item.Start == nil {
		return time.Time{}, time.Time{}, false, errMissingStart
	}
	if item.Start.Date != "" {
		start, err := time.ParseInLocation(dateLayout, item.Start.Date, allDayLocation)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("parse start date: %w", err)
		}
		exclusiveEnd := start.AddDate(0, 0, 1)
		if item.End != nil && item.End.Date != "" {
			exclusiveEnd, err = time.ParseInLocation(dateLayout, item.End.Date, allDayLocation)
			if err != nil {
				return time.Time{}, time.Time{}, false, fmt.Errorf("parse end date: %w", err)
			}
		}
		return start.UTC(), exclusiveEnd.Add(-time.Millisecond).UTC(), true, nil
	}
	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("parse start: %w", err)
	}
	end := start
	if item.End != nil && item.End.DateTime != "" {
		end, err = time.Parse(time.RFC3339, item.End.DateTime)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("parse end: %w", err)
		}
	}
	return start.UTC(), end.UTC(), false, nil
}

// fromEvent builds the wire item for a local event. Recurrence rules are not
// pushed; the local expansion engine owns instances.
func fromEvent(event calendar.LocalEvent, allDayLocation *time.Location) *calendarapi.Event {
	item := &calendarapi.Event{
		Summary:         event.Title,
		Location:        event.Location,
		Description:     event.Notes,
		ForceSendFields: []string{"Summary", "Location", "Description", "ColorId", "Attendees"},
		Attendees:       []*calendarapi.EventAttendee{},
		ExtendedProperties: &calendarapi.EventExtendedProperties{
			// Patch merges private keys, so every key is always written.
			Private: map[string]string{
				propertyLocalID:   event.ID.String(),
				propertyTags:      encodeList(event.Tags),
				propertyAttendees: encodeList(event.Attendees),
				propertyColour:    event.Colour,
			},
		},
	}
	if isPaletteColour(event.Colour) {
		item.ColorId = event.Colour
	}
	for _, attendee := range event.Attendees {
		if isEmail(attendee) {
			item.Attendees = append(item.Attendees, &calendarapi.EventAttendee{Email: attendee})
		}
	}
	if event.AllDay {
		start := event.Start.In(allDayLocation)
		end := event.End
		if end.IsZero() || end.Before(event.Start) {
			end = event.Start
		}
		exclusiveEnd := end.In(allDayLocation).Add(time.Millisecond)
		startDate := start.Format(dateLayout)
		endDate := exclusiveEnd.Format(dateLayout)
		if endDate <= startDate {
			endDate = start.AddDate(0, 0, 1).Format(dateLayout)
		}
		item.Start = &calendarapi.EventDateTime{Date: startDate}
		item.End = &calendarapi.EventDateTime{Date: endDate}
		return item
	}
	end := event.End
	if end.IsZero() {
		end = event.Start
	}
	item.Start = &calendarapi.EventDateTime{DateTime: event.Start.UTC().Format(time.RFC3339), TimeZone: timeZoneUTC}
	item.End = &calendarapi.EventDateTime{DateTime: end.UTC().Format(time.RFC3339), TimeZone: timeZoneUTC}
	return item
}

func localIDOf(item *calendarapi.Event) calendar.EventID {
	if item.ExtendedProperties == nil || item.RecurringEventId != "" {
		return ""
	}
	raw := item.ExtendedProperties.Private[propertyLocalID]
	id, err := calendar.NewEventID(raw)
	if err != nil {
		return ""
	}
	return id
}

func tagsOf(item *calendarapi.Event) ([]string, bool) {
	if item.ExtendedProperties == nil {
		return nil, false
	}
	raw, ok := item.ExtendedProperties.Private[propertyTags]
	if !ok {
		return nil, false
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, false
	}
	return tags, true
}

// attendeesOf restores the local attendee list. The private property keeps
// household members that have no address plus the local order; addresses
// are taken from the remote list so remote additions and removals win.
func attendeesOf(item *calendarapi.Event) []string {
	remote := make([]string, 0, len(item.Attendees))
	present := make(map[string]bool, len(item.Attendees))
	for _, attendee := range item.Attendees {
		if attendee == nil || attendee.Email == "" {
			continue
		}
		remote = append(remote, attendee.Email)
		present[attendee.Email] = true
	}
	var stored []string
	if item.ExtendedProperties != nil {
		if raw, ok := item.ExtendedProperties.Private[propertyAttendees]; ok {
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				stored = nil
			}
		}
	}
	attendees := make([]string, 0, len(stored)+len(remote))
	seen := make(map[string]bool, len(stored))
	for _, attendee := range stored {
		if isEmail(attendee) && !present[attendee] {
			continue
		}
		attendees = append(attendees, attendee)
		seen[attendee] = true
	}
	for _, email := range remote {
		if !seen[email] {
			attendees = append(attendees, email)
		}
	}
	return attendees
}

// colourOf prefers the locally stored colour unless the palette colour was
// changed remotely.
func colourOf(item *calendarapi.Event) string {
	if item.ExtendedProperties == nil {
		return item.ColorId
	}
	stored := item.ExtendedProperties.Private[propertyColour]
	if stored == "" {
		return item.ColorId
	}
	if item.ColorId != "" && item.ColorId != stored {
		return item.ColorId
	}
	return stored
}

func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(encoded)
}

func isPaletteColour(colour string) bool {
	key, err := strconv.Atoi(colour)
	if err != nil || strconv.Itoa(key) != colour {
		return false
	}
	return key >= 1 && key <= paletteSize
}

func isEmail(attendee string) bool {
	return strings.Contains(attendee, "@")
}
