package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
)

const testCalendar = "family"

type fakeCredentials struct {
	mu        sync.Mutex
	refreshes int
}

func (c *fakeCredentials) Token(context.Context) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "access", TokenType: "Bearer"}, nil
}

func (c *fakeCredentials) Refresh(context.Context) (*oauth2.Token, error) {
	c.mu.Lock()
	c.refreshes++
	c.mu.Unlock()
	return &oauth2.Token{AccessToken: "refreshed", TokenType: "Bearer"}, nil
}

type recordedRequest struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   map[string]any
}

type fakeGoogle struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(index int, request recordedRequest) (int, http.Header, any)
}

func (f *fakeGoogle) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	recorded := recordedRequest{Method: request.Method, Path: request.URL.Path, Query: request.URL.Query(), Header: request.Header.Clone()}
	if request.Body != nil {
		_ = json.NewDecoder(request.Body).Decode(&recorded.Body)
	}
	f.mu.Lock()
	index := len(f.requests)
	f.requests = append(f.requests, recorded)
	f.mu.Unlock()

	status, header, body := f.respond(index, recorded)
	for key, values := range header {
		for _, value := range values {
			writer.Header().Add(key, value)
		}
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(writer).Encode(body)
	}
}

func (f *fakeGoogle) recorded() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func apiError(code int, reason string) map[string]any {
	return map[string]any{"error": map[string]any{
		"code":    code,
		"message": reason,
		"errors":  []map[string]any{{"domain": "global", "reason": reason, "message": reason}},
	}}
}

func timedItem(id, etag, title string, start time.Time) map[string]any {
	return map[string]any{
		"id":      id,
		"etag":    etag,
		"status":  "confirmed",
		"summary": title,
		"start":   map[string]any{"dateTime": start.Format(time.RFC3339)},
		"end":     map[string]any{"dateTime": start.Add(time.Hour).Format(time.RFC3339)},
	}
}

func newTestAdapter(testContext *testing.T, fake *fakeGoogle, credentials *fakeCredentials, waits *[]time.Duration) *Adapter {
	testContext.Helper()
	server := httptest.NewServer(fake)
	testContext.Cleanup(server.Close)
	adapter, err := New(Config{
		Account:     "family@example.com",
		Calendars:   []string{testCalendar},
		Credentials: credentials,
		Endpoint:    server.URL + "/",
		MaxRetries:  2,
		Wait: func(_ context.Context, delay time.Duration) error {
			if waits != nil {
				*waits = append(*waits, delay)
			}
			return nil
		},
	})
	if err != nil {
		testContext.Fatalf("failed to build adapter: %v", err)
	}
	return adapter
}

var testWindow = calendar.Window{
	Start: time.Date(2024, 2, 29, 9, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 4, 25, 9, 0, 0, 0, time.UTC),
}

func TestPullWithoutTokenUsesWindowAndPaginates(testContext *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := &fakeGoogle{respond: func(index int, _ recordedRequest) (int, http.Header, any) {
		if index == 0 {
			return http.StatusOK, nil, map[string]any{"items": []any{timedItem("g1", "\"e1\"", "Piano", start)}, "nextPageToken": "p2"}
		}
		return http.StatusOK, nil, map[string]any{"items": []any{timedItem("g2", "\"e2\"", "Swim", start.Add(24*time.Hour))}, "nextSyncToken": "s1"}
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)

	result, err := adapter.Pull(context.Background(), provider.PullRequest{Window: testWindow})
	if err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	if len(result.Deltas) != 2 {
		testContext.Fatalf("expected two deltas, got %d", len(result.Deltas))
	}
	requests := fake.recorded()
	if len(requests) != 2 {
		testContext.Fatalf("expected two page requests, got %d", len(requests))
	}
	first := requests[0].Query
	if first.Get("syncToken") != "" || first.Get("timeMin") == "" || first.Get("timeMax") == "" || first.Get("orderBy") != "startTime" {
		testContext.Fatalf("expected window query, got %v", first)
	}
	if first.Get("singleEvents") != "true" || first.Get("showDeleted") != "true" {
		testContext.Fatalf("expected expanded instances including deleted, got %v", first)
	}
	if requests[1].Query.Get("pageToken") != "p2" {
		testContext.Fatalf("expected second request to follow the page token, got %v", requests[1].Query)
	}
	decoded, err := decodeCursor(result.Token)
	if err != nil {
		testContext.Fatalf("decode cursor failed: %v", err)
	}
	if decoded.SyncTokens[testCalendar] != "s1" {
		testContext.Fatalf("expected final sync token from last page, got %#v", decoded.SyncTokens)
	}
}

func TestPullWithTokenSendsTokenAlone(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusOK, nil, map[string]any{"items": []any{}, "nextSyncToken": "s2"}
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	token := &cursor{Version: cursorVersion, SyncTokens: map[string]string{testCalendar: "s1"}}

	result, err := adapter.Pull(context.Background(), provider.PullRequest{SinceToken: token.encode(), Window: testWindow})
	if err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	query := fake.recorded()[0].Query
	if query.Get("syncToken") != "s1" {
		testContext.Fatalf("expected sync token, got %v", query)
	}
	for _, forbidden := range []string{"timeMin", "timeMax", "orderBy"} {
		if query.Has(forbidden) {
			testContext.Fatalf("expected %s to be omitted alongside a sync token", forbidden)
		}
	}
	if len(result.Deltas) != 0 || result.Token == "" {
		testContext.Fatalf("expected empty delta set with an advanced token, got %+v", result)
	}
}

func TestPullFallsBackToWindowWhenTokenGone(testContext *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := &fakeGoogle{respond: func(index int, _ recordedRequest) (int, http.Header, any) {
		if index == 0 {
			return http.StatusGone, nil, apiError(http.StatusGone, "fullSyncRequired")
		}
		return http.StatusOK, nil, map[string]any{"items": []any{timedItem("g1", "\"e1\"", "Piano", start)}, "nextSyncToken": "fresh"}
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	stale := &cursor{Version: cursorVersion, SyncTokens: map[string]string{testCalendar: "stale"}}

	result, err := adapter.Pull(context.Background(), provider.PullRequest{SinceToken: stale.encode(), Window: testWindow})
	if err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	requests := fake.recorded()
	if len(requests) != 2 {
		testContext.Fatalf("expected one retry, got %d requests", len(requests))
	}
	retry := requests[1].Query
	if retry.Has("syncToken") || retry.Get("timeMin") == "" {
		testContext.Fatalf("expected retry to use the window, got %v", retry)
	}
	decoded, _ := decodeCursor(result.Token)
	if decoded.SyncTokens[testCalendar] != "fresh" || len(result.Deltas) != 1 {
		testContext.Fatalf("unexpected fallback result: %+v", result)
	}
}

func TestPullFailsOnSecondConsecutiveGone(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusGone, nil, apiError(http.StatusGone, "fullSyncRequired")
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	stale := &cursor{Version: cursorVersion, SyncTokens: map[string]string{testCalendar: "stale"}}

	_, err := adapter.Pull(context.Background(), provider.PullRequest{SinceToken: stale.encode(), Window: testWindow})
	if !errors.Is(err, provider.ErrCursorInvalid) {
		testContext.Fatalf("expected ErrCursorInvalid, got %v", err)
	}
	if got := len(fake.recorded()); got != 2 {
		testContext.Fatalf("expected exactly two attempts, got %d", got)
	}
}

func TestPullBoundsRateLimitRetries(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusTooManyRequests, http.Header{"Retry-After": []string{"3"}}, apiError(http.StatusTooManyRequests, "rateLimitExceeded")
	}}
	var waits []time.Duration
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, &waits)

	_, err := adapter.Pull(context.Background(), provider.PullRequest{Window: testWindow})
	if !errors.Is(err, provider.ErrRateLimited) {
		testContext.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := len(fake.recorded()); got != 3 {
		testContext.Fatalf("expected initial attempt plus two retries, got %d", got)
	}
	if len(waits) != 2 || waits[0] != 3*time.Second {
		testContext.Fatalf("expected Retry-After to drive the backoff, got %v", waits)
	}
}

func TestPullRetriesUserRateLimitThenSucceeds(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(index int, _ recordedRequest) (int, http.Header, any) {
		if index == 0 {
			return http.StatusForbidden, nil, apiError(http.StatusForbidden, "userRateLimitExceeded")
		}
		return http.StatusOK, nil, map[string]any{"items": []any{}, "nextSyncToken": "s1"}
	}}
	var waits []time.Duration
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, &waits)
	if _, err := adapter.Pull(context.Background(), provider.PullRequest{Window: testWindow}); err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	if len(waits) != 1 || waits[0] != defaultBaseDelay {
		testContext.Fatalf("expected one base-delay backoff, got %v", waits)
	}
}

func TestPullRefreshesCredentialOnce(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusUnauthorized, nil, apiError(http.StatusUnauthorized, "authError")
	}}
	credentials := &fakeCredentials{}
	adapter := newTestAdapter(testContext, fake, credentials, nil)

	_, err := adapter.Pull(context.Background(), provider.PullRequest{Window: testWindow})
	if !errors.Is(err, provider.ErrUnauthorized) {
		testContext.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if credentials.refreshes != 1 {
		testContext.Fatalf("expected exactly one refresh, got %d", credentials.refreshes)
	}
	requests := fake.recorded()
	if len(requests) != 2 || requests[1].Header.Get("Authorization") != "Bearer access" {
		testContext.Fatalf("expected one retry after refresh, got %d requests", len(requests))
	}
}

func TestPullMapsRemoteItems(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusOK, nil, map[string]any{
			"items": []any{
				map[string]any{"id": "gone", "status": "cancelled", "extendedProperties": map[string]any{"private": map[string]any{propertyLocalID: "evt-gone"}}},
				map[string]any{"id": "master", "status": "confirmed", "summary": "Weekly", "recurrence": []string{"RRULE:FREQ=WEEKLY"},
					"start": map[string]any{"dateTime": "2024-03-01T09:00:00Z"}, "end": map[string]any{"dateTime": "2024-03-01T10:00:00Z"}},
				map[string]any{"id": "master_20240301", "recurringEventId": "master", "status": "confirmed", "summary": "Weekly",
					"start": map[string]any{"dateTime": "2024-03-01T09:00:00Z"}, "end": map[string]any{"dateTime": "2024-03-01T10:00:00Z"}},
				map[string]any{"id": "holiday", "etag": "\"h1\"", "status": "confirmed", "summary": "Holiday", "colorId": "5",
					"start": map[string]any{"date": "2024-03-01"}, "end": map[string]any{"date": "2024-03-02"},
					"attendees":          []any{map[string]any{"email": "kid@example.com"}},
					"extendedProperties": map[string]any{"private": map[string]any{propertyLocalID: "evt-holiday", propertyTags: "[\"school\"]"}}},
			},
			"nextSyncToken": "s1",
		}
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	result, err := adapter.Pull(context.Background(), provider.PullRequest{Window: testWindow})
	if err != nil {
		testContext.Fatalf("pull failed: %v", err)
	}
	if len(result.Deltas) != 3 {
		testContext.Fatalf("expected master to be filtered, got %d deltas", len(result.Deltas))
	}
	deleted := result.Deltas[0]
	if deleted.Kind != provider.DeltaDelete || deleted.ExternalID != "gone" || deleted.LocalID != "evt-gone" || deleted.Patch != nil {
		testContext.Fatalf("unexpected delete delta: %+v", deleted)
	}
	instance := result.Deltas[1]
	if instance.Kind != provider.DeltaUpsert || instance.ExternalID != "master_20240301" || instance.LocalID != "" {
		testContext.Fatalf("unexpected instance delta: %+v", instance)
	}
	holiday := result.Deltas[2]
	if holiday.LocalID != "evt-holiday" || holiday.Binding.ETag != "\"h1\"" {
		testContext.Fatalf("unexpected holiday binding: %+v", holiday)
	}
	patch := holiday.Patch
	wantEnd := time.Date(2024, 3, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	if !*patch.AllDay || !patch.End.Equal(wantEnd) || *patch.Colour != "5" {
		testContext.Fatalf("unexpected all-day mapping: end=%s colour=%s", patch.End, *patch.Colour)
	}
	if patch.Tags == nil || len(*patch.Tags) != 1 || (*patch.Tags)[0] != "school" {
		testContext.Fatalf("expected tags to round-trip, got %v", patch.Tags)
	}
	if len(*patch.Attendees) != 1 || (*patch.Attendees)[0] != "kid@example.com" {
		testContext.Fatalf("unexpected attendees: %v", *patch.Attendees)
	}
}

func TestAllDayBoundaryRoundTrip(testContext *testing.T) {
	inclusiveEnd := time.Date(2024, 3, 1, 23, 59, 59, int(999*time.Millisecond), time.UTC)
	event := calendar.LocalEvent{
		ID:     "evt-1",
		Title:  "Holiday",
		Start:  time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:    inclusiveEnd,
		AllDay: true,
	}
	wire := fromEvent(event, time.UTC)
	if wire.Start.Date != "2024-03-01" || wire.End.Date != "2024-03-02" {
		testContext.Fatalf("unexpected wire dates: %s..%s", wire.Start.Date, wire.End.Date)
	}
	wire.Id = "g1"
	delta, ok, err := toDelta(wire, testCalendar, time.UTC)
	if err != nil || !ok {
		testContext.Fatalf("mapping back failed: ok=%v err=%v", ok, err)
	}
	if !delta.Patch.End.Equal(inclusiveEnd) {
		testContext.Fatalf("expected inclusive end %s, got %s", inclusiveEnd, delta.Patch.End)
	}
	if delta.LocalID != "evt-1" {
		testContext.Fatalf("expected local id to round-trip, got %q", delta.LocalID)
	}
}

func TestEchoMergeKeepsHouseholdAttendees(testContext *testing.T) {
	local := calendar.LocalEvent{
		ID:        "evt-1",
		Title:     "Swimming",
		Start:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:       time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		Attendees: []string{"mum", "coach@example.com", "dad"},
	}
	wire := fromEvent(local, time.UTC)
	if len(wire.Attendees) != 1 || wire.Attendees[0].Email != "coach@example.com" {
		testContext.Fatalf("expected only addresses on the wire, got %+v", wire.Attendees)
	}
	wire.Id = "g1"
	delta, ok, err := toDelta(wire, testCalendar, time.UTC)
	if err != nil || !ok {
		testContext.Fatalf("mapping back failed: ok=%v err=%v", ok, err)
	}
	merged := delta.Patch.Apply(local)
	if strings.Join(merged.Attendees, ",") != "mum,coach@example.com,dad" {
		testContext.Fatalf("expected attendees to survive the echo, got %v", merged.Attendees)
	}

	wire.Attendees = append(wire.Attendees, &calendarapi.EventAttendee{Email: "gran@example.com"})
	wire.Attendees = wire.Attendees[1:]
	delta, _, err = toDelta(wire, testCalendar, time.UTC)
	if err != nil {
		testContext.Fatalf("mapping back failed: %v", err)
	}
	if got := strings.Join(*delta.Patch.Attendees, ","); got != "mum,dad,gran@example.com" {
		testContext.Fatalf("expected remote address edits to apply, got %s", got)
	}

	cleared := fromEvent(calendar.LocalEvent{ID: "evt-1", Start: local.Start, End: local.End}, time.UTC)
	if cleared.ExtendedProperties.Private[propertyAttendees] != "[]" || len(cleared.Attendees) != 0 {
		testContext.Fatalf("expected cleared attendees to be written explicitly, got %+v", cleared.ExtendedProperties.Private)
	}
}

func TestColourOutsidePaletteTravelsAsProperty(testContext *testing.T) {
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	testCases := []struct {
		name        string
		colour      string
		wantColorID string
	}{
		{name: "hex", colour: "#3366ff", wantColorID: ""},
		{name: "palette", colour: "7", wantColorID: "7"},
		{name: "out of range", colour: "12", wantColorID: ""},
		{name: "padded", colour: "07", wantColorID: ""},
	}
	for _, testCase := range testCases {
		testContext.Run(testCase.name, func(t *testing.T) {
			wire := fromEvent(calendar.LocalEvent{ID: "evt-1", Start: start, End: start.Add(time.Hour), Colour: testCase.colour}, time.UTC)
			if wire.ColorId != testCase.wantColorID {
				t.Fatalf("expected colorId %q, got %q", testCase.wantColorID, wire.ColorId)
			}
			wire.Id = "g1"
			delta, _, err := toDelta(wire, testCalendar, time.UTC)
			if err != nil {
				t.Fatalf("mapping back failed: %v", err)
			}
			if *delta.Patch.Colour != testCase.colour {
				t.Fatalf("expected colour %q to round-trip, got %q", testCase.colour, *delta.Patch.Colour)
			}
		})
	}

	wire := fromEvent(calendar.LocalEvent{ID: "evt-1", Start: start, End: start.Add(time.Hour), Colour: "#3366ff"}, time.UTC)
	wire.Id = "g1"
	wire.ColorId = "4"
	delta, _, err := toDelta(wire, testCalendar, time.UTC)
	if err != nil {
		testContext.Fatalf("mapping back failed: %v", err)
	}
	if *delta.Patch.Colour != "4" {
		testContext.Fatalf("expected a remote palette change to win, got %q", *delta.Patch.Colour)
	}
}

func TestPushCreateReturnsBinding(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(_ int, request recordedRequest) (int, http.Header, any) {
		switch request.Method {
		case http.MethodGet:
			return http.StatusOK, nil, map[string]any{"items": []any{}}
		case http.MethodPost:
			return http.StatusOK, nil, map[string]any{"id": "g1", "etag": "\"e1\"", "status": "confirmed"}
		}
		return http.StatusMethodNotAllowed, nil, apiError(http.StatusMethodNotAllowed, "unexpected")
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	event := calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	results, err := adapter.Push(context.Background(), []provider.PushIntent{{Action: journal.ActionCreate, Event: event}})
	if err != nil {
		testContext.Fatalf("push failed: %v", err)
	}
	if len(results) != 1 || !results[0].Success || results[0].LocalID != "evt-a" {
		testContext.Fatalf("unexpected results: %+v", results)
	}
	binding := results[0].Binding
	if binding == nil || binding.ExternalID != "g1" || binding.ETag != "\"e1\"" || binding.CalendarID != testCalendar {
		testContext.Fatalf("expected returned binding, got %+v", binding)
	}
	requests := fake.recorded()
	if len(requests) != 2 || requests[0].Query.Get("privateExtendedProperty") != propertyLocalID+"=evt-a" {
		testContext.Fatalf("expected lookup before insert, got %+v", requests)
	}
	properties, _ := requests[1].Body["extendedProperties"].(map[string]any)
	private, _ := properties["private"].(map[string]any)
	if private[propertyLocalID] != "evt-a" {
		testContext.Fatalf("expected local id stamped on insert, got %v", requests[1].Body)
	}
}

func TestPushCreateAdoptsEarlierRemoteCopy(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(_ int, request recordedRequest) (int, http.Header, any) {
		switch request.Method {
		case http.MethodGet:
			return http.StatusOK, nil, map[string]any{"items": []any{map[string]any{"id": "g9", "etag": "\"e9\"", "status": "confirmed"}}}
		case http.MethodPatch:
			return http.StatusOK, nil, map[string]any{"id": "g9", "etag": "\"e10\"", "status": "confirmed"}
		}
		return http.StatusMethodNotAllowed, nil, apiError(http.StatusMethodNotAllowed, "unexpected")
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	event := calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	results, err := adapter.Push(context.Background(), []provider.PushIntent{{Action: journal.ActionCreate, Event: event}})
	if err != nil {
		testContext.Fatalf("push failed: %v", err)
	}
	if !results[0].Success || results[0].Binding.ExternalID != "g9" {
		testContext.Fatalf("expected existing remote item to be reused, got %+v", results[0])
	}
	for _, request := range fake.recorded() {
		if request.Method == http.MethodPost {
			testContext.Fatalf("expected no insert when a remote copy exists")
		}
	}
}

func TestPushUpdateUsesIfMatchAndReportsConflict(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusPreconditionFailed, nil, apiError(http.StatusPreconditionFailed, "conditionNotMet")
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	binding := calendar.RemoteBinding{Provider: calendar.ProviderGoogle, CalendarID: testCalendar, ExternalID: "g1", ETag: "\"e1\""}
	event := calendar.LocalEvent{ID: "evt-a", Title: "Piano", Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), End: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}

	results, err := adapter.Push(context.Background(), []provider.PushIntent{{Action: journal.ActionUpdate, Event: event, Binding: &binding}})
	if err != nil {
		testContext.Fatalf("push failed: %v", err)
	}
	if results[0].Success || !errors.Is(results[0].Err, provider.ErrRejected) {
		testContext.Fatalf("expected rejected result, got %+v", results[0])
	}
	request := fake.recorded()[0]
	if request.Method != http.MethodPatch || request.Path != fmt.Sprintf("/calendars/%s/events/g1", testCalendar) {
		testContext.Fatalf("expected patch against bound item, got %s %s", request.Method, request.Path)
	}
	if request.Header.Get("If-Match") != "\"e1\"" {
		testContext.Fatalf("expected If-Match header, got %q", request.Header.Get("If-Match"))
	}
}

func TestPushDeleteTreatsMissingRemoteAsSuccess(testContext *testing.T) {
	fake := &fakeGoogle{respond: func(int, recordedRequest) (int, http.Header, any) {
		return http.StatusGone, nil, apiError(http.StatusGone, "deleted")
	}}
	adapter := newTestAdapter(testContext, fake, &fakeCredentials{}, nil)
	binding := calendar.RemoteBinding{Provider: calendar.ProviderGoogle, CalendarID: testCalendar, ExternalID: "g1"}

	results, err := adapter.Push(context.Background(), []provider.PushIntent{
		{Action: journal.ActionDelete, Event: calendar.LocalEvent{ID: "evt-a"}, Binding: &binding},
		{Action: journal.ActionDelete, Event: calendar.LocalEvent{ID: "evt-unbound"}},
	})
	if err != nil {
		testContext.Fatalf("push failed: %v", err)
	}
	for _, result := range results {
		if !result.Success {
			testContext.Fatalf("expected delete success, got %+v", result)
		}
	}
	if got := len(fake.recorded()); got != 1 {
		testContext.Fatalf("expected only the bound event to reach the provider, got %d", got)
	}
}

func TestNewRejectsUnsupportedHost(testContext *testing.T) {
	_, err := New(Config{Calendars: []string{testCalendar}, Credentials: &fakeCredentials{}, Endpoint: "https://calendar.example.com/v3/"})
	if !errors.Is(err, provider.ErrUnsupportedHost) {
		testContext.Fatalf("expected ErrUnsupportedHost, got %v", err)
	}
	if provider.Classify(err).Message() != "this calendar host isn't supported" {
		testContext.Fatalf("unexpected user message for %v", err)
	}
}

func TestCursorRejectsFutureVersions(testContext *testing.T) {
	future := &cursor{Version: cursorVersion + 1, SyncTokens: map[string]string{testCalendar: "s"}}
	if _, err := decodeCursor(future.encode()); err == nil {
		testContext.Fatalf("expected future cursor version to be rejected")
	}
	if _, err := decodeCursor("%%%"); err == nil {
		testContext.Fatalf("expected garbage cursor to be rejected")
	}
	if !strings.HasPrefix(DefaultEndpoint, "https://") {
		testContext.Fatalf("default endpoint must be https")
	}
}
