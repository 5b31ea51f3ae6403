// Package google implements the provider adapter for Google Calendar.
package google

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/calendar"
	"github.com/MarcoPoloResearchLab/hearth/internal/journal"
	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	calendarapi "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	// DefaultEndpoint is the public Google Calendar REST base.
	DefaultEndpoint = "https://www.googleapis.com/calendar/v3/"

	defaultHTTPTimeout = 30 * time.Second
	pageSize           = 250
	orderByStartTime   = "startTime"
	headerIfMatch      = "If-Match"
	fieldProvider      = "provider"
	fieldCalendar      = "calendar"
	fieldEventID       = "event_id"
	fieldExternalID    = "external_id"
)

var (
	errMissingCalendars   = errors.New("google: at least one calendar is required")
	errMissingCredentials = errors.New("google: credential source is required")
	errMissingBinding     = errors.New("google: update without binding")
	errRemoteGone         = errors.New("google: remote item no longer exists")

	supportedHosts = map[string]struct{}{
		"www.googleapis.com":      {},
		"calendar.googleapis.com": {},
	}
)

// CredentialSource yields bearer credentials on demand.
type CredentialSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// Config describes one Google account and the calendars to mirror.
type Config struct {
	Account     string
	Calendars   []string
	Credentials CredentialSource
	// Endpoint overrides DefaultEndpoint. Only Google hosts and loopback test servers are accepted.
	Endpoint string
	// AllDayLocation is the zone in which all-day dates are interpreted. Defaults to UTC.
	AllDayLocation *time.Location
	MaxRetries     int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	// Wait blocks between retries; tests replace it to avoid sleeping.
	Wait      func(ctx context.Context, delay time.Duration) error
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Adapter talks to the Google Calendar v3 API.
type Adapter struct {
	account        string
	calendars      []string
	credentials    CredentialSource
	endpoint       string
	allDayLocation *time.Location
	maxRetries     int
	baseDelay      time.Duration
	maxDelay       time.Duration
	wait           func(ctx context.Context, delay time.Duration) error
	transport      http.RoundTripper
	logger         *zap.Logger
}

var _ provider.Adapter = (*Adapter)(nil)

// New validates cfg and constructs an Adapter.
func New(cfg Config) (*Adapter, error) {
	if len(cfg.Calendars) == 0 {
		return nil, errMissingCalendars
	}
	if cfg.Credentials == nil {
		return nil, errMissingCredentials
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if err := validateEndpoint(endpoint); err != nil {
		return nil, err
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	adapter := &Adapter{
		account:        cfg.Account,
		calendars:      append([]string(nil), cfg.Calendars...),
		credentials:    cfg.Credentials,
		endpoint:       endpoint,
		allDayLocation: cfg.AllDayLocation,
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		maxDelay:       cfg.MaxDelay,
		wait:           cfg.Wait,
		transport:      cfg.Transport,
		logger:         cfg.Logger,
	}
	if adapter.allDayLocation == nil {
		adapter.allDayLocation = time.UTC
	}
	if adapter.maxRetries <= 0 {
		adapter.maxRetries = defaultMaxRetries
	}
	if adapter.baseDelay <= 0 {
		adapter.baseDelay = defaultBaseDelay
	}
	if adapter.maxDelay <= 0 {
		adapter.maxDelay = defaultMaxDelay
	}
	if adapter.wait == nil {
		adapter.wait = waitWithContext
	}
	if adapter.transport == nil {
		adapter.transport = http.DefaultTransport
	}
	if adapter.logger == nil {
		adapter.logger = zap.NewNop()
	}
	adapter.logger = adapter.logger.With(zap.String(fieldProvider, calendar.ProviderGoogle.String()))
	return adapter, nil
}

// ID implements provider.Adapter.
func (a *Adapter) ID() calendar.ProviderID {
	return calendar.ProviderGoogle
}

// Pull implements provider.Adapter.
func (a *Adapter) Pull(ctx context.Context, request provider.PullRequest) (provider.PullResult, error) {
	state, err := decodeCursor(request.SinceToken)
	if err != nil {
		a.logger.Warn("discarding unreadable cursor", zap.Error(err))
		state = newCursor()
	}
	service, err := a.service(ctx)
	if err != nil {
		return provider.PullResult{}, err
	}
	next := newCursor()
	var deltas []provider.RemoteDelta
	for _, calendarID := range a.calendars {
		calendarDeltas, token, err := a.pullCalendar(ctx, service, calendarID, state.SyncTokens[calendarID], request.Window)
		if err != nil {
			return provider.PullResult{}, err
		}
		deltas = append(deltas, calendarDeltas...)
		if token == "" {
			token = state.SyncTokens[calendarID]
		}
		if token != "" {
			next.SyncTokens[calendarID] = token
		}
	}
	return provider.PullResult{Token: next.encode(), Deltas: deltas}, nil
}

// pullCalendar lists one calendar. A rejected sync token is discarded and the
// list retried once with the window; a second rejection fails the pull.
func (a *Adapter) pullCalendar(ctx context.Context, service *calendarapi.Service, calendarID, syncToken string, window calendar.Window) ([]provider.RemoteDelta, string, error) {
	token := syncToken
	for attempt := 0; attempt < 2; attempt++ {
		deltas, next, err := a.listAll(ctx, service, calendarID, token, window)
		if err == nil {
			return deltas, next, nil
		}
		if !hasStatus(err, http.StatusGone) {
			if hasStatus(err, http.StatusNotFound) {
				return nil, "", fmt.Errorf("%w: calendar %s: %v", provider.ErrUnsupportedHost, calendarID, err)
			}
			return nil, "", err
		}
		a.logger.Warn("sync token rejected; falling back to window query",
			zap.String(fieldCalendar, calendarID),
			zap.Int("attempt", attempt+1))
		token = ""
	}
	return nil, "", fmt.Errorf("%w: calendar %s", provider.ErrCursorInvalid, calendarID)
}

func (a *Adapter) listAll(ctx context.Context, service *calendarapi.Service, calendarID, syncToken string, window calendar.Window) ([]provider.RemoteDelta, string, error) {
	var deltas []provider.RemoteDelta
	pageToken := ""
	for {
		listCall := service.Events.List(calendarID).
			SingleEvents(true).
			ShowDeleted(true).
			MaxResults(pageSize).
			Context(ctx)
		if syncToken != "" {
			listCall = listCall.SyncToken(syncToken)
		} else {
			if !window.Start.IsZero() {
				listCall = listCall.TimeMin(window.Start.UTC().Format(time.RFC3339))
			}
			if !window.End.IsZero() {
				listCall = listCall.TimeMax(window.End.UTC().Format(time.RFC3339))
			}
			listCall = listCall.OrderBy(orderByStartTime)
		}
		if pageToken != "" {
			listCall = listCall.PageToken(pageToken)
		}

		var page *calendarapi.Events
		err := a.call(ctx, "events.list", func() error {
			var callErr error
			page, callErr = listCall.Do()
			return callErr
		})
		if err != nil {
			return nil, "", err
		}
		for _, item := range page.Items {
			delta, ok, mapErr := toDelta(item, calendarID, a.allDayLocation)
			if mapErr != nil {
				a.logger.Warn("skipping unmappable event", zap.String(fieldCalendar, calendarID), zap.Error(mapErr))
				continue
			}
			if ok {
				deltas = append(deltas, delta)
			}
		}
		if page.NextPageToken == "" {
			return deltas, page.NextSyncToken, nil
		}
		pageToken = page.NextPageToken
	}
}

// Push implements provider.Adapter. Per-intent failures are reported in the
// results; the returned error is set only when the credential is unusable,
// in which case the remaining intents are not attempted.
func (a *Adapter) Push(ctx context.Context, intents []provider.PushIntent) ([]provider.PushResult, error) {
	if len(intents) == 0 {
		return nil, nil
	}
	service, err := a.service(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]provider.PushResult, 0, len(intents))
	for _, intent := range intents {
		result := a.pushOne(ctx, service, intent)
		if result.Err != nil {
			a.logger.Warn("push failed",
				zap.String(fieldEventID, intent.Event.ID.String()),
				zap.String("action", string(intent.Action)),
				zap.Error(result.Err))
			if errors.Is(result.Err, provider.ErrUnauthorized) {
				return results, result.Err
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (a *Adapter) pushOne(ctx context.Context, service *calendarapi.Service, intent provider.PushIntent) provider.PushResult {
	result := provider.PushResult{Action: intent.Action, LocalID: intent.Event.ID}
	var binding *calendar.RemoteBinding
	var err error
	switch intent.Action {
	case journal.ActionDelete:
		err = a.deleteRemote(ctx, service, intent.Binding)
	case journal.ActionCreate, journal.ActionUpdate:
		if intent.Binding != nil {
			binding, err = a.patchRemote(ctx, service, intent.Event, *intent.Binding)
		} else {
			binding, err = a.insertRemote(ctx, service, intent.Event)
		}
	default:
		err = fmt.Errorf("%w: unknown action %q", provider.ErrRejected, intent.Action)
	}
	if err != nil {
		result.Err = err
		return result
	}
	result.Success = true
	result.Binding = binding
	return result
}

func (a *Adapter) insertRemote(ctx context.Context, service *calendarapi.Service, event calendar.LocalEvent) (*calendar.RemoteBinding, error) {
	calendarID := a.calendars[0]
	existing, err := a.findByLocalID(ctx, service, calendarID, event.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		a.logger.Info("adopting remote item created by an earlier push",
			zap.String(fieldEventID, event.ID.String()),
			zap.String(fieldExternalID, existing.Id))
		return a.patchRemote(ctx, service, event, calendar.RemoteBinding{
			Provider:   calendar.ProviderGoogle,
			CalendarID: calendarID,
			ExternalID: existing.Id,
			ETag:       existing.Etag,
		})
	}
	item := fromEvent(event, a.allDayLocation)
	var created *calendarapi.Event
	err = a.call(ctx, "events.insert", func() error {
		var callErr error
		created, callErr = service.Events.Insert(calendarID, item).Context(ctx).Do()
		return callErr
	})
	if err != nil {
		return nil, a.writeError(err)
	}
	return bindingFor(calendarID, created), nil
}

// findByLocalID locates a remote item that an earlier, unacknowledged push already created.
func (a *Adapter) findByLocalID(ctx context.Context, service *calendarapi.Service, calendarID string, id calendar.EventID) (*calendarapi.Event, error) {
	var page *calendarapi.Events
	err := a.call(ctx, "events.lookup", func() error {
		var callErr error
		page, callErr = service.Events.List(calendarID).
			PrivateExtendedProperty(propertyLocalID + "=" + id.String()).
			MaxResults(1).
			Context(ctx).
			Do()
		return callErr
	})
	if err != nil {
		return nil, a.writeError(err)
	}
	for _, item := range page.Items {
		if item != nil && item.Status != statusCancelled {
			return item, nil
		}
	}
	return nil, nil
}

func (a *Adapter) patchRemote(ctx context.Context, service *calendarapi.Service, event calendar.LocalEvent, binding calendar.RemoteBinding) (*calendar.RemoteBinding, error) {
	if binding.ExternalID == "" {
		return nil, fmt.Errorf("%w: %w", provider.ErrRejected, errMissingBinding)
	}
	calendarID := binding.CalendarID
	if calendarID == "" {
		calendarID = a.calendars[0]
	}
	item := fromEvent(event, a.allDayLocation)
	var patched *calendarapi.Event
	err := a.call(ctx, "events.patch", func() error {
		patchCall := service.Events.Patch(calendarID, binding.ExternalID, item).Context(ctx)
		if binding.ETag != "" {
			patchCall.Header().Set(headerIfMatch, binding.ETag)
		}
		var callErr error
		patched, callErr = patchCall.Do()
		return callErr
	})
	if err != nil {
		return nil, a.writeError(err)
	}
	return bindingFor(calendarID, patched), nil
}

func (a *Adapter) deleteRemote(ctx context.Context, service *calendarapi.Service, binding *calendar.RemoteBinding) error {
	if binding == nil || binding.ExternalID == "" {
		return nil
	}
	calendarID := binding.CalendarID
	if calendarID == "" {
		calendarID = a.calendars[0]
	}
	err := a.call(ctx, "events.delete", func() error {
		return service.Events.Delete(calendarID, binding.ExternalID).Context(ctx).Do()
	})
	if err != nil && hasStatus(err, http.StatusNotFound, http.StatusGone) {
		return nil
	}
	if err != nil {
		return a.writeError(err)
	}
	return nil
}

func (a *Adapter) writeError(err error) error {
	switch {
	case hasStatus(err, http.StatusPreconditionFailed, http.StatusConflict, http.StatusBadRequest):
		return fmt.Errorf("%w: %v", provider.ErrRejected, err)
	case hasStatus(err, http.StatusNotFound, http.StatusGone):
		return fmt.Errorf("%w: %w: %v", provider.ErrRejected, errRemoteGone, err)
	case hasStatus(err, http.StatusForbidden) && !isRateLimited(err):
		return fmt.Errorf("%w: %v", provider.ErrRejected, err)
	default:
		return err
	}
}

func (a *Adapter) service(ctx context.Context) (*calendarapi.Service, error) {
	client := &http.Client{
		Timeout: defaultHTTPTimeout,
		Transport: &oauth2.Transport{
			Source: &credentialTokenSource{ctx: ctx, source: a.credentials},
			Base:   a.transport,
		},
	}
	service, err := calendarapi.NewService(ctx, option.WithHTTPClient(client), option.WithEndpoint(a.endpoint))
	if err != nil {
		return nil, fmt.Errorf("google: build calendar service: %w", err)
	}
	return service, nil
}

func bindingFor(calendarID string, item *calendarapi.Event) *calendar.RemoteBinding {
	if item == nil {
		return nil
	}
	return &calendar.RemoteBinding{
		Provider:   calendar.ProviderGoogle,
		CalendarID: calendarID,
		ExternalID: item.Id,
		ETag:       item.Etag,
	}
}

// credentialTokenSource adapts a CredentialSource to oauth2.TokenSource.
type credentialTokenSource struct {
	ctx    context.Context
	source CredentialSource
}

func (s *credentialTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.source.Token(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrUnauthorized, err)
	}
	return token, nil
}

func validateEndpoint(endpoint string) error {
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %q", provider.ErrUnsupportedHost, endpoint)
	}
	host := parsed.Hostname()
	if _, ok := supportedHosts[host]; ok && parsed.Scheme == "https" {
		return nil
	}
	if ip := net.ParseIP(host); (ip != nil && ip.IsLoopback()) || host == "localhost" {
		return nil
	}
	return fmt.Errorf("%w: %s", provider.ErrUnsupportedHost, host)
}
