// Package config defines the settings tree persisted as YAML and the
// manager that loads, validates, and saves it.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// AuthType identifies how requests to a calendar source are authenticated.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthOAuth2 AuthType = "oauth2"
)

// OverlapStrategy selects how overlapping events from different sources
// are resolved after deduplication.
type OverlapStrategy string

const (
	OverlapMarkConflict OverlapStrategy = "mark_conflict"
	OverlapMerge        OverlapStrategy = "merge_overlapping"
	OverlapPreferLonger OverlapStrategy = "prefer_longer"
)

// Frequency is the recurrence frequency for manual events.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Settings is the top-level configuration tree.
type Settings struct {
	Server       ServerSettings     `yaml:"server" json:"server"`
	Logging      LoggingSettings    `yaml:"logging" json:"logging"`
	Database     DatabaseSettings   `yaml:"database" json:"database"`
	Calendar     CalendarSettings   `yaml:"calendar" json:"calendar"`
	Processing   ProcessingSettings `yaml:"processing" json:"processing"`
	Schedule     ScheduleSettings   `yaml:"schedule" json:"schedule"`
	Sources      []CalendarSource   `yaml:"sources" json:"sources"`
	ManualEvents []ManualEvent      `yaml:"manual_events,omitempty" json:"manualEvents,omitempty"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Listen string `yaml:"listen" json:"listen"`

	// AdminTokenHash is the bcrypt hash of the admin API token. The
	// plaintext token is printed once when the hash is first generated
	// and never stored.
	AdminTokenHash string `yaml:"admin_token_hash,omitempty" json:"-"`

	// RateLimitPerMinute throttles the public feed endpoint per client IP.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute" json:"rateLimitPerMinute"`

	// CORSOrigins are allowed in addition to localhost and private ranges.
	CORSOrigins []string `yaml:"cors_origins,omitempty" json:"corsOrigins,omitempty"`
}

// LoggingSettings configures the rotating log file. An empty File logs to
// stdout only.
type LoggingSettings struct {
	File       string `yaml:"file,omitempty" json:"file,omitempty"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"max_backups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"max_age_days" json:"maxAgeDays"`
}

// DatabaseSettings configures the SQLite store.
type DatabaseSettings struct {
	Path string `yaml:"path" json:"path"`
}

// CalendarSettings configures the published calendar.
type CalendarSettings struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
	Timezone    string `yaml:"timezone" json:"timezone"`

	// RefreshInterval is the fallback aggregation interval in seconds,
	// used when no cron expression is configured.
	RefreshInterval int `yaml:"refresh_interval" json:"refreshInterval"`

	// OutputFile, when set, receives a copy of the encoded calendar on
	// every aggregation cycle.
	OutputFile string `yaml:"output_file,omitempty" json:"outputFile,omitempty"`
}

// ProcessingSettings configures deduplication, title formatting, and
// overlap resolution.
type ProcessingSettings struct {
	Dedup                 *bool           `yaml:"dedup_enabled,omitempty" json:"dedupEnabled,omitempty"`
	DedupThreshold        float64         `yaml:"dedup_threshold" json:"dedupThreshold"`
	TimeToleranceMinutes  int             `yaml:"time_tolerance_minutes" json:"timeToleranceMinutes"`
	OverlapDetection      *bool           `yaml:"overlap_detection,omitempty" json:"overlapDetection,omitempty"`
	OverlapMinimumMinutes int             `yaml:"overlap_minimum_minutes" json:"overlapMinimumMinutes"`
	OverlapStrategy       OverlapStrategy `yaml:"overlap_strategy" json:"overlapStrategy"`
	Title                 TitleSettings   `yaml:"title" json:"title"`
}

// DedupEnabled reports whether deduplication runs. Unset means enabled.
func (p ProcessingSettings) DedupEnabled() bool {
	return p.Dedup == nil || *p.Dedup
}

// OverlapEnabled reports whether overlap detection runs. Unset means enabled.
func (p ProcessingSettings) OverlapEnabled() bool {
	return p.OverlapDetection == nil || *p.OverlapDetection
}

// TitleSettings configures event title decoration.
type TitleSettings struct {
	IncludeSourceLabels *bool  `yaml:"include_source_labels,omitempty" json:"includeSourceLabels,omitempty"`
	IncludeEventType    bool   `yaml:"include_event_type" json:"includeEventType"`
	MaxLength           int    `yaml:"max_length" json:"maxLength"`
	SourceLabelFormat   string `yaml:"source_label_format" json:"sourceLabelFormat"`
	TypeLabelFormat     string `yaml:"type_label_format" json:"typeLabelFormat"`
	Separator           string `yaml:"separator" json:"separator"`
	CustomFormat        string `yaml:"custom_format,omitempty" json:"customFormat,omitempty"`
}

// SourceLabelsEnabled reports whether titles carry a source label. Unset
// means enabled.
func (t TitleSettings) SourceLabelsEnabled() bool {
	return t.IncludeSourceLabels == nil || *t.IncludeSourceLabels
}

func (t *TitleSettings) normalize() {
	if t.MaxLength == 0 {
		t.MaxLength = 100
	}
	if t.SourceLabelFormat == "" {
		t.SourceLabelFormat = "[{source}]"
	}
	if t.TypeLabelFormat == "" {
		t.TypeLabelFormat = "({type})"
	}
	if t.Separator == "" {
		t.Separator = " "
	}
}

// ScheduleSettings configures when aggregation cycles run.
type ScheduleSettings struct {
	// Cron is a cron expression. When empty the aggregator falls back to
	// the calendar refresh interval.
	Cron    string `yaml:"cron,omitempty" json:"cron,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// IsEnabled reports whether scheduled aggregation runs. Unset means enabled.
func (s ScheduleSettings) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// AuthConfig describes how to authenticate against one calendar source.
// Secrets are kept out of JSON so API responses never leak them.
type AuthConfig struct {
	Type               AuthType `yaml:"type" json:"type"`
	Username           string   `yaml:"username,omitempty" json:"username,omitempty"`
	Password           string   `yaml:"password,omitempty" json:"-"`
	Token              string   `yaml:"token,omitempty" json:"-"`
	APIKeyHeader       string   `yaml:"api_key_header,omitempty" json:"apiKeyHeader,omitempty"`
	OAuth2ClientID     string   `yaml:"oauth2_client_id,omitempty" json:"oauth2ClientId,omitempty"`
	OAuth2ClientSecret string   `yaml:"oauth2_client_secret,omitempty" json:"-"`
	OAuth2TokenURL     string   `yaml:"oauth2_token_url,omitempty" json:"oauth2TokenUrl,omitempty"`
}

func (a *AuthConfig) normalize() {
	if a.Type == "" {
		a.Type = AuthNone
	}
	if a.Type == AuthAPIKey && a.APIKeyHeader == "" {
		a.APIKeyHeader = "X-API-Key"
	}
}

func (a AuthConfig) validate() error {
	switch a.Type {
	case AuthNone:
	case AuthBasic:
		if a.Username == "" {
			return fmt.Errorf("username is required for basic authentication")
		}
		if a.Password == "" {
			return fmt.Errorf("password is required for basic authentication")
		}
	case AuthBearer, AuthAPIKey:
		if a.Token == "" {
			return fmt.Errorf("token is required for %s authentication", a.Type)
		}
	case AuthOAuth2:
		if a.OAuth2ClientID == "" {
			return fmt.Errorf("oauth2_client_id is required for oauth2 authentication")
		}
		if a.OAuth2TokenURL == "" {
			return fmt.Errorf("oauth2_token_url is required for oauth2 authentication")
		}
		u, err := url.Parse(a.OAuth2TokenURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("oauth2_token_url must be a valid url")
		}
	default:
		return fmt.Errorf("unknown auth type %q", a.Type)
	}
	return nil
}

// CalendarSource describes one subscribed feed.
type CalendarSource struct {
	Name    string     `yaml:"name" json:"name"`
	URL     string     `yaml:"url" json:"url"`
	Color   string     `yaml:"color" json:"color"`
	Enabled *bool      `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Auth    AuthConfig `yaml:"auth,omitempty" json:"auth"`

	// RefreshInterval is in seconds, 300 to 86400.
	RefreshInterval int `yaml:"refresh_interval" json:"refreshInterval"`

	// Timeout is the per-request timeout in seconds, 5 to 300.
	Timeout int `yaml:"timeout" json:"timeout"`

	// RetryAttempts is the total number of fetch attempts, 1 to 10.
	RetryAttempts int `yaml:"retry_attempts" json:"retryAttempts"`

	// MaxEvents caps how many events are taken from this source, 1 to 10000.
	MaxEvents int `yaml:"max_events" json:"maxEvents"`

	// FilterKeywords keeps only matching events; ExcludeKeywords drops
	// matching events and wins when both lists match.
	FilterKeywords  []string `yaml:"filter_keywords,omitempty" json:"filterKeywords,omitempty"`
	ExcludeKeywords []string `yaml:"exclude_keywords,omitempty" json:"excludeKeywords,omitempty"`
}

// IsEnabled reports whether the source participates in aggregation. Unset
// means enabled.
func (c CalendarSource) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func (c *CalendarSource) normalize() {
	// Subscription links are often published as webcal://; they are plain
	// HTTPS underneath.
	if strings.HasPrefix(strings.ToLower(c.URL), "webcal://") {
		c.URL = "https://" + c.URL[len("webcal://"):]
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 3600
	}
	if c.Timeout == 0 {
		c.Timeout = 30
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 3
	}
	if c.MaxEvents == 0 {
		c.MaxEvents = 1000
	}
	c.Auth.normalize()
}

func (c CalendarSource) validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(c.Name) > 100 {
		return fmt.Errorf("name must be at most 100 characters")
	}
	u, err := url.Parse(c.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url must be a valid absolute url")
	}
	switch u.Scheme {
	case "http", "https", "webcal":
	default:
		return fmt.Errorf("url scheme must be http, https, or webcal")
	}
	if !hexColorPattern.MatchString(c.Color) {
		return fmt.Errorf("color must be in hex format (#RRGGBB)")
	}
	if c.RefreshInterval < 300 || c.RefreshInterval > 86400 {
		return fmt.Errorf("refresh_interval must be between 300 and 86400 seconds")
	}
	if c.Timeout < 5 || c.Timeout > 300 {
		return fmt.Errorf("timeout must be between 5 and 300 seconds")
	}
	if c.RetryAttempts < 1 || c.RetryAttempts > 10 {
		return fmt.Errorf("retry_attempts must be between 1 and 10")
	}
	if c.MaxEvents < 1 || c.MaxEvents > 10000 {
		return fmt.Errorf("max_events must be between 1 and 10000")
	}
	if err := c.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return nil
}

// RecurrenceRule describes structured recurrence for a manual event.
type RecurrenceRule struct {
	Frequency  Frequency  `yaml:"frequency" json:"frequency"`
	Interval   int        `yaml:"interval" json:"interval"`
	Count      int        `yaml:"count,omitempty" json:"count,omitempty"`
	Until      *time.Time `yaml:"until,omitempty" json:"until,omitempty"`
	ByWeekday  []int      `yaml:"by_weekday,omitempty" json:"byWeekday,omitempty"`
	ByMonthDay []int      `yaml:"by_month_day,omitempty" json:"byMonthDay,omitempty"`
}

func (r *RecurrenceRule) normalize() {
	if r.Interval == 0 {
		r.Interval = 1
	}
}

func (r RecurrenceRule) validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
	default:
		return fmt.Errorf("frequency must be daily, weekly, monthly, or yearly")
	}
	if r.Interval < 1 || r.Interval > 365 {
		return fmt.Errorf("interval must be between 1 and 365")
	}
	if r.Count != 0 && (r.Count < 1 || r.Count > 1000) {
		return fmt.Errorf("count must be between 1 and 1000")
	}
	if r.Count != 0 && r.Until != nil {
		return fmt.Errorf("cannot specify both count and until")
	}
	for _, day := range r.ByWeekday {
		if day < 0 || day > 6 {
			return fmt.Errorf("weekdays must be between 0 (Monday) and 6 (Sunday)")
		}
	}
	for _, day := range r.ByMonthDay {
		if day < 1 || day > 31 {
			return fmt.Errorf("month days must be between 1 and 31")
		}
	}
	return nil
}

// ManualEvent is an event declared directly in the config file rather than
// fetched from a feed.
type ManualEvent struct {
	Title       string          `yaml:"title" json:"title"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Location    string          `yaml:"location,omitempty" json:"location,omitempty"`
	Start       time.Time       `yaml:"start_date" json:"startDate"`
	End         time.Time       `yaml:"end_date" json:"endDate"`
	AllDay      bool            `yaml:"all_day" json:"allDay"`
	Color       string          `yaml:"color,omitempty" json:"color,omitempty"`
	Recurrence  *RecurrenceRule `yaml:"recurrence,omitempty" json:"recurrence,omitempty"`
}

func (e *ManualEvent) normalize() {
	if e.Recurrence != nil {
		e.Recurrence.normalize()
	}
}

func (e ManualEvent) validate() error {
	if e.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(e.Title) > 255 {
		return fmt.Errorf("title must be at most 255 characters")
	}
	if len(e.Description) > 1000 {
		return fmt.Errorf("description must be at most 1000 characters")
	}
	if len(e.Location) > 255 {
		return fmt.Errorf("location must be at most 255 characters")
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("end date must be after start date")
	}
	if e.Color != "" && !hexColorPattern.MatchString(e.Color) {
		return fmt.Errorf("color must be in hex format (#RRGGBB)")
	}
	if e.Recurrence != nil {
		if err := e.Recurrence.validate(); err != nil {
			return fmt.Errorf("recurrence: %w", err)
		}
	}
	return nil
}

// EnabledSources returns the sources that participate in aggregation.
func (s Settings) EnabledSources() []CalendarSource {
	var out []CalendarSource
	for _, src := range s.Sources {
		if src.IsEnabled() {
			out = append(out, src)
		}
	}
	return out
}

// Normalize fills unset fields with defaults so partially written config
// files behave predictably.
func (s *Settings) Normalize() {
	if s.Server.Listen == "" {
		s.Server.Listen = ":8080"
	}
	if s.Server.RateLimitPerMinute == 0 {
		s.Server.RateLimitPerMinute = 100
	}
	if s.Logging.MaxSizeMB == 0 {
		s.Logging.MaxSizeMB = 10
	}
	if s.Logging.MaxBackups == 0 {
		s.Logging.MaxBackups = 3
	}
	if s.Logging.MaxAgeDays == 0 {
		s.Logging.MaxAgeDays = 28
	}
	if s.Database.Path == "" {
		s.Database.Path = "rostercal.db"
	}
	if s.Calendar.Name == "" {
		s.Calendar.Name = "RosterCal Aggregated Calendar"
	}
	if s.Calendar.Description == "" {
		s.Calendar.Description = "Aggregated sports calendar from multiple sources"
	}
	if s.Calendar.Timezone == "" {
		s.Calendar.Timezone = "UTC"
	}
	if s.Calendar.RefreshInterval == 0 {
		s.Calendar.RefreshInterval = 3600
	}
	if s.Processing.DedupThreshold == 0 {
		s.Processing.DedupThreshold = 0.8
	}
	if s.Processing.TimeToleranceMinutes == 0 {
		s.Processing.TimeToleranceMinutes = 30
	}
	if s.Processing.OverlapMinimumMinutes == 0 {
		s.Processing.OverlapMinimumMinutes = 15
	}
	if s.Processing.OverlapStrategy == "" {
		s.Processing.OverlapStrategy = OverlapMarkConflict
	}
	s.Processing.Title.normalize()
	for i := range s.Sources {
		s.Sources[i].normalize()
	}
	for i := range s.ManualEvents {
		s.ManualEvents[i].normalize()
	}
}

// Validate checks the whole tree and names the offending source or event
// in every error.
func (s Settings) Validate() error {
	if len(s.Sources) == 0 {
		return fmt.Errorf("at least one calendar source must be configured")
	}
	seenNames := make(map[string]bool, len(s.Sources))
	seenURLs := make(map[string]bool, len(s.Sources))
	for i, src := range s.Sources {
		if err := src.validate(); err != nil {
			return fmt.Errorf("source %d (%q): %w", i+1, src.Name, err)
		}
		if seenNames[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seenNames[src.Name] = true
		if seenURLs[src.URL] {
			return fmt.Errorf("duplicate source url %q", src.URL)
		}
		seenURLs[src.URL] = true
	}
	for i, ev := range s.ManualEvents {
		if err := ev.validate(); err != nil {
			return fmt.Errorf("manual event %d (%q): %w", i+1, ev.Title, err)
		}
	}
	if s.Processing.DedupThreshold <= 0 || s.Processing.DedupThreshold > 1 {
		return fmt.Errorf("processing: dedup_threshold must be between 0 and 1")
	}
	if s.Processing.TimeToleranceMinutes < 0 {
		return fmt.Errorf("processing: time_tolerance_minutes must not be negative")
	}
	if s.Processing.OverlapMinimumMinutes < 0 {
		return fmt.Errorf("processing: overlap_minimum_minutes must not be negative")
	}
	switch s.Processing.OverlapStrategy {
	case OverlapMarkConflict, OverlapMerge, OverlapPreferLonger:
	default:
		return fmt.Errorf("processing: unknown overlap strategy %q", s.Processing.OverlapStrategy)
	}
	if s.Calendar.RefreshInterval < 60 || s.Calendar.RefreshInterval > 86400 {
		return fmt.Errorf("calendar: refresh_interval must be between 60 and 86400 seconds")
	}
	if s.Server.RateLimitPerMinute < 0 {
		return fmt.Errorf("server: rate_limit_per_minute must not be negative")
	}
	return nil
}

// DefaultSettings returns the configuration written on first run. The
// example source is disabled so a fresh install starts cleanly.
func DefaultSettings() Settings {
	disabled := false
	s := Settings{
		Sources: []CalendarSource{{
			Name:    "Example Team Calendar",
			URL:     "https://example.com/team-calendar.ics",
			Color:   "#FF0000",
			Enabled: &disabled,
		}},
	}
	s.Normalize()
	return s
}
