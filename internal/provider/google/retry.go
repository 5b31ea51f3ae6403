package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/hearth/internal/provider"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
)

const (
	defaultMaxRetries = 5
	defaultBaseDelay  = 200 * time.Millisecond
	defaultMaxDelay   = 30 * time.Second
	headerRetryAfter  = "Retry-After"
)

var rateLimitReasons = map[string]struct{}{
	"rateLimitExceeded":     {},
	"userRateLimitExceeded": {},
}

// call runs request, retrying transient failures with bounded backoff and
// refreshing the credential once on a 401.
func (a *Adapter) call(ctx context.Context, operation string, request func() error) error {
	refreshed := false
	attempt := 0
	for {
		err := request()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if errors.Is(err, provider.ErrUnauthorized) {
			return err
		}
		code, header := statusOf(err)
		if code == http.StatusUnauthorized {
			if refreshed {
				return fmt.Errorf("%w: %s: %v", provider.ErrUnauthorized, operation, err)
			}
			refreshed = true
			if _, refreshErr := a.credentials.Refresh(ctx); refreshErr != nil {
				return fmt.Errorf("%w: %s: refresh: %v", provider.ErrUnauthorized, operation, refreshErr)
			}
			a.logger.Info("refreshed google credential", zap.String("operation", operation))
			continue
		}
		if !retryable(err) {
			return err
		}
		attempt++
		if attempt > a.maxRetries {
			if isRateLimited(err) {
				return fmt.Errorf("%w: %s: %v", provider.ErrRateLimited, operation, err)
			}
			return fmt.Errorf("google: %s: retries exhausted: %w", operation, err)
		}
		delay := a.retryDelay(attempt, header.Get(headerRetryAfter))
		a.logger.Warn("retrying google request",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if waitErr := a.wait(ctx, delay); waitErr != nil {
			return waitErr
		}
	}
}

func statusOf(err error) (int, http.Header) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code, apiErr.Header
	}
	return 0, http.Header{}
}

func hasStatus(err error, codes ...int) bool {
	code, _ := statusOf(err)
	for _, candidate := range codes {
		if code == candidate {
			return true
		}
	}
	return false
}

func isRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	if apiErr.Code != http.StatusForbidden {
		return false
	}
	for _, item := range apiErr.Errors {
		if _, ok := rateLimitReasons[item.Reason]; ok {
			return true
		}
	}
	return false
}

// retryable covers rate limits, server errors and transport failures.
func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if isRateLimited(err) {
		return true
	}
	return apiErr.Code >= http.StatusInternalServerError
}

func (a *Adapter) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > a.maxDelay {
			return a.maxDelay
		}
		return retryAfter
	}
	delay := a.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= a.maxDelay {
			return a.maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
