// Package aggregator owns the aggregation cycle: fetch every enabled
// source, fold duplicates, decorate titles and colors, resolve
// overlaps, encode the result, and cache it for the feed handler. A
// background loop repeats the cycle on a cron schedule or a fixed
// interval.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/afero"

	"rostercal/config"
	"rostercal/internal/database"
	"rostercal/internal/ics"
	"rostercal/models"
	"rostercal/services/fetcher"
	"rostercal/services/processor"
)

// Default windows for manual-event expansion and pruning.
const (
	DefaultManualWindow   = 365 * 24 * time.Hour
	DefaultEventRetention = 90 * 24 * time.Hour
	DefaultSyncRetention  = 30 * 24 * time.Hour
)

// Fetcher retrieves all configured feeds concurrently and reports one
// result per source.
type Fetcher interface {
	FetchAll(ctx context.Context, sources []config.CalendarSource) map[string]*fetcher.Result
}

// Processor runs one cycle's event set through duplicate folding,
// title formatting, color assignment, and overlap resolution.
type Processor interface {
	Process(newEvents, knownEvents []*models.Event) *processor.Result
}

// EventsStore persists normalized events between cycles. It also backs
// the stale-serving path for sources that fail to fetch.
type EventsStore interface {
	UpsertEvents(sourceName string, events []*models.Event) (added, updated int, err error)
	GetBySource(sourceName string) ([]*models.Event, error)
	Prune(cutoff time.Time) (int64, error)
}

// SyncStore records one row per source per cycle.
type SyncStore interface {
	Add(record *database.SyncRecord) error
	Prune(cutoff time.Time) (int64, error)
}

// Options configures an aggregation service. Events and Syncs may be
// nil to run without persistence; failed sources then drop out of the
// feed until they recover.
type Options struct {
	Settings  config.Settings
	Fetcher   Fetcher
	Processor Processor
	Events    EventsStore
	Syncs     SyncStore

	// Encoder defaults to one built from the calendar settings.
	Encoder *ics.Encoder
	// FS receives the optional file export, default is the OS
	// filesystem.
	FS afero.Fs
	// Now defaults to time.Now.
	Now func() time.Time

	// ManualWindow is how far ahead recurring manual events expand.
	ManualWindow time.Duration
	// EventRetention bounds how long ended events stay stored.
	EventRetention time.Duration
	// SyncRetention bounds how long sync history rows stay stored.
	SyncRetention time.Duration
}

// Service aggregates the configured sources into one published
// calendar.
type Service struct {
	settings  config.Settings
	fetcher   Fetcher
	processor Processor
	events    EventsStore
	syncs     SyncStore
	encoder   *ics.Encoder
	fs        afero.Fs
	now       func() time.Time

	manualWindow   time.Duration
	eventRetention time.Duration
	syncRetention  time.Duration

	cycleMu sync.Mutex // one aggregation cycle at a time

	mu     sync.RWMutex // guards output, status, and lifecycle fields
	output *ics.Output
	status models.AggregationStatus

	cron       *cron.Cron
	cronID     cron.EntryID
	stopCh     chan struct{}
	refreshNow chan struct{}
	wg         sync.WaitGroup
	started    bool
}

// New wires an aggregation service. Unset optional fields fall back to
// defaults.
func New(opts Options) *Service {
	encoder := opts.Encoder
	if encoder == nil {
		cal := opts.Settings.Calendar
		encoder = ics.NewEncoder(cal.Name, cal.Description, cal.Timezone)
	}
	fs := opts.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	manualWindow := opts.ManualWindow
	if manualWindow <= 0 {
		manualWindow = DefaultManualWindow
	}
	eventRetention := opts.EventRetention
	if eventRetention <= 0 {
		eventRetention = DefaultEventRetention
	}
	syncRetention := opts.SyncRetention
	if syncRetention <= 0 {
		syncRetention = DefaultSyncRetention
	}

	return &Service{
		settings:       opts.Settings,
		fetcher:        opts.Fetcher,
		processor:      opts.Processor,
		events:         opts.Events,
		syncs:          opts.Syncs,
		encoder:        encoder,
		fs:             fs,
		now:            now,
		manualWindow:   manualWindow,
		eventRetention: eventRetention,
		syncRetention:  syncRetention,
	}
}

// Start runs the first cycle and keeps cycling in the background, on
// the configured cron expression when one is set, otherwise on the
// calendar refresh interval. Returns an error when the cron expression
// does not parse.
func (s *Service) Start(ctx context.Context) error {
	interval := s.refreshInterval()

	var c *cron.Cron
	var id cron.EntryID
	if sched := s.settings.Schedule; sched.IsEnabled() && sched.Cron != "" {
		c = cron.New()
		var err error
		id, err = c.AddFunc(sched.Cron, s.RefreshNow)
		if err != nil {
			return fmt.Errorf("cron schedule %q: %w", sched.Cron, err)
		}
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("aggregator already started")
	}
	s.started = true
	s.cron = c
	s.cronID = id
	s.stopCh = make(chan struct{})
	s.refreshNow = make(chan struct{}, 1)
	stopCh, refreshCh := s.stopCh, s.refreshNow
	s.mu.Unlock()

	if c != nil {
		c.Start()
		log.Printf("[aggregator] cron schedule %q active", s.settings.Schedule.Cron)
	} else {
		log.Printf("[aggregator] refreshing every %v", interval)
	}

	s.wg.Add(1)
	go s.loop(ctx, interval, stopCh, refreshCh)
	return nil
}

// Stop halts scheduling and waits for the loop to exit. A cycle in
// flight finishes first; ctx bounds how long to wait for it.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopCh := s.stopCh
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		c.Stop()
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Printf("[aggregator] stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshNow asks the loop to run a cycle soon without blocking the
// caller. A trigger already pending is enough.
func (s *Service) RefreshNow() {
	s.mu.RLock()
	ch := s.refreshNow
	s.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Status reports the most recent cycle. Safe for concurrent use.
func (s *Service) Status() models.AggregationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Output returns the last encoded calendar, or nil before the first
// cycle completes. Safe for concurrent use.
func (s *Service) Output() *ics.Output {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.output
}

func (s *Service) loop(ctx context.Context, interval time.Duration, stopCh, refreshCh chan struct{}) {
	defer s.wg.Done()

	s.RunOnce(ctx)

	// With a cron schedule active the ticker channel stays nil and the
	// cron entry drives refreshes through refreshCh.
	var ticker *time.Ticker
	var tick <-chan time.Time
	if s.cron == nil {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		s.publishNextRun(interval)
		select {
		case <-tick:
			s.RunOnce(ctx)
		case <-refreshCh:
			s.RunOnce(ctx)
			if ticker != nil {
				ticker.Reset(interval)
			}
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) publishNextRun(interval time.Duration) {
	var next time.Time
	if s.cron != nil {
		next = s.cron.Entry(s.cronID).Next
	} else {
		next = s.now().Add(interval)
	}

	s.mu.Lock()
	if next.IsZero() {
		s.status.NextRun = nil
	} else {
		s.status.NextRun = &next
	}
	s.mu.Unlock()
}

func (s *Service) refreshInterval() time.Duration {
	seconds := s.settings.Calendar.RefreshInterval
	if seconds <= 0 {
		seconds = 3600
	}
	return time.Duration(seconds) * time.Second
}

// RunOnce runs one aggregation cycle synchronously. Cycles never
// overlap; a second caller waits for the first to finish.
func (s *Service) RunOnce(ctx context.Context) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	started := s.now().UTC()
	s.mu.Lock()
	s.status.Running = true
	s.status.LastStarted = &started
	s.mu.Unlock()

	summary, out := s.aggregate(ctx)

	completed := s.now().UTC()
	s.mu.Lock()
	summary.Running = false
	summary.LastStarted = &started
	summary.LastCompleted = &completed
	summary.LastDurationMS = completed.Sub(started).Milliseconds()
	summary.NextRun = s.status.NextRun
	s.status = summary
	s.output = out
	s.mu.Unlock()
}

// aggregate performs the cycle and returns its status plus the encoded
// calendar. Failed sources fall back to their stored events so the
// published feed degrades instead of shrinking.
func (s *Service) aggregate(ctx context.Context) (models.AggregationStatus, *ics.Output) {
	now := s.now()
	sources := s.settings.EnabledSources()
	var status models.AggregationStatus

	results := s.fetcher.FetchAll(ctx, sources)

	var collected []*models.Event
	var failed int
	for _, src := range sources {
		result := results[src.Name]
		if result == nil {
			continue
		}

		outcome := models.SourceOutcome{
			SourceName:  src.Name,
			NotModified: result.NotModified,
			DurationMS:  result.Duration.Milliseconds(),
		}

		events := result.Events
		switch {
		case result.Err != nil:
			failed++
			outcome.Error = result.Err.Error()
			events = s.storedFallback(src.Name)
			if len(events) > 0 {
				log.Printf("[aggregator] %s failed, serving %d stored events: %v", src.Name, len(events), result.Err)
			}
		case result.NotModified && len(events) == 0:
			// Not modified with nothing cached in memory means the
			// process restarted since the validators were stored.
			events = s.storedFallback(src.Name)
		}
		outcome.EventCount = len(events)
		status.Sources = append(status.Sources, outcome)
		collected = append(collected, events...)

		s.recordSync(src.Name, now, result)
	}

	manualStart := now.Add(-s.eventRetention)
	manualEnd := now.Add(s.manualWindow)
	if manual := ExpandManualEvents(s.settings.ManualEvents, manualStart, manualEnd); len(manual) > 0 {
		status.Sources = append(status.Sources, models.SourceOutcome{
			SourceName: ManualSource,
			EventCount: len(manual),
		})
		collected = append(collected, manual...)
	}

	processed := s.processor.Process(collected, nil)
	events := processed.Events
	sortEvents(events)

	status.TotalEvents = len(events)
	status.UniqueEvents = processed.Stats.UniqueEvents
	status.DuplicatesFound = processed.Stats.DuplicatesFound
	status.ConflictsFound = processed.Stats.OverlapsFound
	if failed > 0 {
		status.LastError = fmt.Sprintf("%d of %d sources failed", failed, len(sources))
	}

	out := s.encoder.Encode(events)
	if ok, violations := ics.ValidateCalendar(out.Content); !ok {
		status.Violations = violations
		log.Printf("[aggregator] encoded calendar has %d violations", len(violations))
		for _, violation := range violations {
			log.Printf("[aggregator] violation: %s", violation)
		}
	}

	s.persist(sources, results, events)
	s.prune(now)
	s.export(out.Content)

	log.Printf("[aggregator] cycle complete: %d events (%d duplicates folded, %d conflicts) from %d sources",
		status.TotalEvents, status.DuplicatesFound, status.ConflictsFound, len(sources))

	return status, &out
}

// storedFallback loads a source's events from the store, or nothing
// when no store is wired.
func (s *Service) storedFallback(name string) []*models.Event {
	if s.events == nil {
		return nil
	}
	events, err := s.events.GetBySource(name)
	if err != nil {
		log.Printf("[aggregator] loading stored events for %s: %v", name, err)
		return nil
	}
	return events
}

func (s *Service) recordSync(name string, startedAt time.Time, result *fetcher.Result) {
	if s.syncs == nil {
		return
	}

	completed := startedAt.Add(result.Duration)
	durationMS := result.Duration.Milliseconds()
	record := &database.SyncRecord{
		SourceName:  name,
		StartedAt:   startedAt,
		CompletedAt: &completed,
		Success:     result.Err == nil,
		NotModified: result.NotModified,
		EventsFound: len(result.Events),
		DurationMS:  &durationMS,
	}
	if result.Err != nil {
		msg := result.Err.Error()
		record.ErrorMessage = &msg
	}
	if result.StatusCode != 0 {
		code := result.StatusCode
		record.HTTPStatus = &code
	}
	if result.BodySize > 0 {
		size := int64(result.BodySize)
		record.ResponseSizeBytes = &size
	}

	if err := s.syncs.Add(record); err != nil {
		log.Printf("[aggregator] recording sync for %s: %v", name, err)
	}
}

// persist stores each configured source's share of the processed
// events. Sources that failed this cycle keep their stored rows
// untouched; manual and synthesized events are never stored.
func (s *Service) persist(sources []config.CalendarSource, results map[string]*fetcher.Result, events []*models.Event) {
	if s.events == nil {
		return
	}

	bySource := make(map[string][]*models.Event)
	for _, event := range events {
		bySource[event.SourceName] = append(bySource[event.SourceName], event)
	}

	for _, src := range sources {
		result := results[src.Name]
		if result == nil || result.Err != nil {
			continue
		}
		group := bySource[src.Name]
		if len(group) == 0 {
			continue
		}
		added, updated, err := s.events.UpsertEvents(src.Name, group)
		if err != nil {
			log.Printf("[aggregator] storing events for %s: %v", src.Name, err)
			continue
		}
		if added > 0 || updated > 0 {
			log.Printf("[aggregator] stored %s: %d added, %d updated", src.Name, added, updated)
		}
	}
}

func (s *Service) prune(now time.Time) {
	if s.events != nil {
		if removed, err := s.events.Prune(now.Add(-s.eventRetention)); err != nil {
			log.Printf("[aggregator] pruning events: %v", err)
		} else if removed > 0 {
			log.Printf("[aggregator] pruned %d events", removed)
		}
	}
	if s.syncs != nil {
		if removed, err := s.syncs.Prune(now.Add(-s.syncRetention)); err != nil {
			log.Printf("[aggregator] pruning sync history: %v", err)
		} else if removed > 0 {
			log.Printf("[aggregator] pruned %d sync records", removed)
		}
	}
}

// export writes the encoded calendar to the configured output file.
func (s *Service) export(content []byte) {
	path := s.settings.Calendar.OutputFile
	if path == "" {
		return
	}
	if err := afero.WriteFile(s.fs, path, content, 0o644); err != nil {
		log.Printf("[aggregator] writing %s: %v", path, err)
		return
	}
	log.Printf("[aggregator] wrote %s (%d bytes)", path, len(content))
}

// sortEvents orders events by start, then title, then source so the
// encoded document is stable for a given event set.
func sortEvents(events []*models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.SourceName < b.SourceName
	})
}
