// Package fetcher retrieves calendar feeds over HTTP. Each source is
// guarded by its own circuit breaker, transient failures are retried with
// exponential backoff, and conditional requests let a feed answer 304 Not
// Modified, in which case the events from the last successful fetch are
// reused. Sources are fetched concurrently under a bounded pool; one
// source failing never fails the others.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sourcegraph/conc/pool"

	"rostercal/config"
	"rostercal/internal/breaker"
	"rostercal/internal/ics"
	"rostercal/models"
	"rostercal/utils"
)

const (
	// DefaultConcurrency bounds how many sources are fetched at once.
	DefaultConcurrency = 5

	// DefaultTimeout applies to sources without a configured timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRetryAttempts is the total attempt budget for sources
	// without a configured one.
	DefaultRetryAttempts = 3

	// DefaultRetryBaseDelay is the first backoff delay; subsequent
	// delays double up to retryMaxDelay.
	DefaultRetryBaseDelay = 4 * time.Second

	retryMaxDelay = 10 * time.Second

	maxBodyBytes = 10 * 1024 * 1024 // 10MB limit per feed
)

// Failure classes. Authentication failures and malformed content are
// permanent for a given response and are never retried; network errors,
// timeouts, and 5xx statuses are transient and retried.
var (
	ErrAuth           = errors.New("authentication failed")
	ErrInvalidContent = errors.New("invalid calendar content")
	ErrTimeout        = errors.New("request timed out")
)

// StatusError reports a non-success HTTP status from a feed host.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Temporary reports whether the status is worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError
}

// retryable classifies a fetch error as transient or permanent.
func retryable(err error) bool {
	if errors.Is(err, ErrAuth) || errors.Is(err, ErrInvalidContent) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

// Result is the outcome of one source's fetch.
type Result struct {
	Source      string
	Events      []*models.Event
	NotModified bool
	StatusCode  int
	BodySize    int
	Duration    time.Duration
	Err         error
}

// Options configures the fetch coordinator.
type Options struct {
	// Concurrency bounds parallel source fetches. Zero means
	// DefaultConcurrency.
	Concurrency int

	// Breakers supplies per-source circuit breakers. Nil creates a
	// registry with default thresholds that ignores context
	// cancellation.
	Breakers *breaker.Registry

	// Client is used for all requests. Nil uses http.DefaultClient;
	// per-source timeouts apply per request either way.
	Client *http.Client

	// RetryBaseDelay overrides the first backoff delay. Zero means
	// DefaultRetryBaseDelay.
	RetryBaseDelay time.Duration
}

// sourceState carries the conditional-request validators of the last 200
// response together with the events parsed from it. A later 304 replays
// those events unchanged.
type sourceState struct {
	etag         string
	lastModified string
	events       []*models.Event
}

// Service fetches and parses calendar feeds. Safe for concurrent use.
type Service struct {
	client      *http.Client
	breakers    *breaker.Registry
	concurrency int
	retryDelay  time.Duration

	mu    sync.Mutex
	state map[string]*sourceState
}

// New creates a fetch coordinator.
func New(opts Options) *Service {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	breakers := opts.Breakers
	if breakers == nil {
		breakers = breaker.NewRegistry(breaker.Config{
			Classify: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		})
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	retryDelay := opts.RetryBaseDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryBaseDelay
	}
	return &Service{
		client:      client,
		breakers:    breakers,
		concurrency: concurrency,
		retryDelay:  retryDelay,
		state:       make(map[string]*sourceState),
	}
}

// Breakers exposes the per-source breaker registry for observability.
func (s *Service) Breakers() *breaker.Registry {
	return s.breakers
}

// FetchAll retrieves the given sources concurrently, bounded by the
// configured concurrency. Results are keyed by source name; each carries
// its own error, so callers see every outcome.
func (s *Service) FetchAll(ctx context.Context, sources []config.CalendarSource) map[string]*Result {
	results := make(map[string]*Result, len(sources))
	var mu sync.Mutex

	workerPool := pool.New().WithMaxGoroutines(s.concurrency)
	for _, source := range sources {
		source := source // per-iteration copy: module targets go 1.21 loop semantics
		workerPool.Go(func() {
			result := s.Fetch(ctx, source)
			mu.Lock()
			results[source.Name] = result
			mu.Unlock()
		})
	}
	workerPool.Wait()

	succeeded := 0
	for _, result := range results {
		if result.Err == nil {
			succeeded++
		}
	}
	log.Printf("[fetcher] fetched %d/%d sources", succeeded, len(results))
	return results
}

// Fetch retrieves and parses one source. The request runs under the
// source's circuit breaker; transient failures are retried with
// exponential backoff up to the source's attempt budget. The breaker sees
// one outcome per call, not one per attempt.
func (s *Service) Fetch(ctx context.Context, source config.CalendarSource) *Result {
	started := time.Now()
	result := &Result{Source: source.Name}

	feedURL, err := utils.NormalizeFeedURL(source.URL)
	if err != nil {
		result.Err = fmt.Errorf("normalize URL: %w", err)
		result.Duration = time.Since(started)
		return result
	}

	attempts := source.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}

	br := s.breakers.GetOrCreate(source.Name)
	err = br.Execute(ctx, func(ctx context.Context) error {
		return retry.Do(
			func() error {
				return s.fetchOnce(ctx, source, feedURL, result)
			},
			retry.Attempts(uint(attempts)),
			retry.Delay(s.retryDelay),
			retry.MaxDelay(retryMaxDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.RetryIf(retryable),
			retry.LastErrorOnly(true),
			retry.Context(ctx),
			retry.OnRetry(func(attempt uint, err error) {
				log.Printf("[fetcher] %s: attempt %d/%d failed, retrying: %v", source.Name, attempt+1, attempts, err)
			}),
		)
	})
	result.Duration = time.Since(started)
	if err != nil {
		result.Err = err
		log.Printf("[fetcher] %s: fetch failed: %v", source.Name, err)
	}
	return result
}

// fetchOnce performs a single request attempt and fills the result.
func (s *Service) fetchOnce(ctx context.Context, source config.CalendarSource, feedURL string, result *Result) error {
	timeout := time.Duration(source.Timeout) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, feedURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	etag, lastModified, cached := s.conditionalState(source.Name)
	applyHeaders(req, source.Auth, etag, lastModified)

	resp, err := s.client.Do(req)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return fmt.Errorf("%w after %v", ErrTimeout, timeout)
		case errors.As(err, &netErr) && netErr.Timeout():
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return fmt.Errorf("request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	result.StatusCode = resp.StatusCode

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w for %s", ErrAuth, source.Name)
	case resp.StatusCode == http.StatusNotModified:
		result.Events = cached
		result.NotModified = true
		log.Printf("[fetcher] %s: not modified, reusing %d cached events", source.Name, len(cached))
		return nil
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if !validCalendarPayload(body) {
		return fmt.Errorf("%w: payload looks like %s", ErrInvalidContent, mimetype.Detect(body))
	}

	events, err := ics.ParseEvents(body, ics.ParseOptions{
		SourceName:      source.Name,
		SourceURL:       source.URL,
		SourceColor:     source.Color,
		MaxEvents:       source.MaxEvents,
		FilterKeywords:  source.FilterKeywords,
		ExcludeKeywords: source.ExcludeKeywords,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}

	result.Events = events
	result.NotModified = false
	result.BodySize = len(body)

	s.remember(source.Name, resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), events)

	log.Printf("[fetcher] %s: fetched %d events (%d bytes)", source.Name, len(events), len(body))
	return nil
}

// validCalendarPayload checks for the two structural markers every
// iCalendar document carries. Hosts behind auth walls tend to answer 200
// with an HTML login page; the marker check rejects those before parsing.
func validCalendarPayload(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return false
	}
	upper := bytes.ToUpper(body)
	return bytes.Contains(upper, []byte("BEGIN:VCALENDAR")) && bytes.Contains(upper, []byte("END:VCALENDAR"))
}

// conditionalState returns the stored validators and cached events for a
// source, or zero values when none are recorded.
func (s *Service) conditionalState(name string) (etag, lastModified string, cached []*models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[name]
	if !ok {
		return "", "", nil
	}
	return st.etag, st.lastModified, st.events
}

// remember records the validators a 200 response carried together with
// its parsed events so a later 304 can replay them. A response without
// validators clears the stored state.
func (s *Service) remember(name, etag, lastModified string, events []*models.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if etag == "" && lastModified == "" {
		delete(s.state, name)
		return
	}
	s.state[name] = &sourceState{
		etag:         etag,
		lastModified: lastModified,
		events:       events,
	}
}
