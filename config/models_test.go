package config

import (
	"strings"
	"testing"
	"time"
)

func boolPtr(b bool) *bool {
	return &b
}

func validSource() CalendarSource {
	return CalendarSource{
		Name:  "Team A",
		URL:   "https://example.com/a.ics",
		Color: "#00AA00",
	}
}

func settingsWith(sources ...CalendarSource) Settings {
	s := Settings{Sources: sources}
	s.Normalize()
	return s
}

func TestDefaultSettingsValid(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings invalid: %v", err)
	}
	if len(s.Sources) != 1 {
		t.Fatalf("got %d default sources, want 1", len(s.Sources))
	}
	if s.Sources[0].IsEnabled() {
		t.Error("example source should start disabled")
	}
}

func TestNormalizeDefaults(t *testing.T) {
	s := settingsWith(validSource())

	if s.Server.Listen != ":8080" {
		t.Errorf("Listen = %q", s.Server.Listen)
	}
	if s.Server.RateLimitPerMinute != 100 {
		t.Errorf("RateLimitPerMinute = %d", s.Server.RateLimitPerMinute)
	}
	if s.Logging.MaxSizeMB != 10 || s.Logging.MaxBackups != 3 || s.Logging.MaxAgeDays != 28 {
		t.Errorf("logging defaults = %+v", s.Logging)
	}
	if s.Database.Path != "rostercal.db" {
		t.Errorf("Database.Path = %q", s.Database.Path)
	}
	if s.Calendar.Timezone != "UTC" || s.Calendar.RefreshInterval != 3600 {
		t.Errorf("calendar defaults = %+v", s.Calendar)
	}
	if s.Processing.DedupThreshold != 0.8 {
		t.Errorf("DedupThreshold = %v", s.Processing.DedupThreshold)
	}
	if s.Processing.TimeToleranceMinutes != 30 {
		t.Errorf("TimeToleranceMinutes = %d", s.Processing.TimeToleranceMinutes)
	}
	if s.Processing.OverlapMinimumMinutes != 15 {
		t.Errorf("OverlapMinimumMinutes = %d", s.Processing.OverlapMinimumMinutes)
	}
	if s.Processing.OverlapStrategy != OverlapMarkConflict {
		t.Errorf("OverlapStrategy = %q", s.Processing.OverlapStrategy)
	}
	if s.Processing.Title.MaxLength != 100 {
		t.Errorf("Title.MaxLength = %d", s.Processing.Title.MaxLength)
	}
	if s.Processing.Title.SourceLabelFormat != "[{source}]" {
		t.Errorf("Title.SourceLabelFormat = %q", s.Processing.Title.SourceLabelFormat)
	}

	src := s.Sources[0]
	if src.RefreshInterval != 3600 || src.Timeout != 30 || src.RetryAttempts != 3 || src.MaxEvents != 1000 {
		t.Errorf("source defaults = %+v", src)
	}
	if src.Auth.Type != AuthNone {
		t.Errorf("Auth.Type = %q", src.Auth.Type)
	}
}

func TestNormalizeRewritesWebcal(t *testing.T) {
	src := validSource()
	src.URL = "webcal://example.com/team/feed.ics"
	s := settingsWith(src)

	if got := s.Sources[0].URL; got != "https://example.com/team/feed.ics" {
		t.Errorf("URL = %q", got)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("rewritten source invalid: %v", err)
	}
}

func TestNormalizeAPIKeyHeader(t *testing.T) {
	src := validSource()
	src.Auth = AuthConfig{Type: AuthAPIKey, Token: "abc123"}
	s := settingsWith(src)

	if got := s.Sources[0].Auth.APIKeyHeader; got != "X-API-Key" {
		t.Errorf("APIKeyHeader = %q", got)
	}
}

func TestSourceValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CalendarSource)
		wantErr string
	}{
		{
			name:    "missing name",
			mutate:  func(c *CalendarSource) { c.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "name too long",
			mutate:  func(c *CalendarSource) { c.Name = strings.Repeat("x", 101) },
			wantErr: "at most 100",
		},
		{
			name:    "relative url",
			mutate:  func(c *CalendarSource) { c.URL = "not a url" },
			wantErr: "absolute url",
		},
		{
			name:    "url without host",
			mutate:  func(c *CalendarSource) { c.URL = "https://" },
			wantErr: "absolute url",
		},
		{
			name:    "ftp scheme",
			mutate:  func(c *CalendarSource) { c.URL = "ftp://example.com/feed.ics" },
			wantErr: "scheme must be",
		},
		{
			name:    "named color",
			mutate:  func(c *CalendarSource) { c.Color = "red" },
			wantErr: "hex format",
		},
		{
			name:    "invalid hex digits",
			mutate:  func(c *CalendarSource) { c.Color = "#GGHHII" },
			wantErr: "hex format",
		},
		{
			name:    "lowercase hex accepted",
			mutate:  func(c *CalendarSource) { c.Color = "#ff5722" },
			wantErr: "",
		},
		{
			name:    "refresh interval too low",
			mutate:  func(c *CalendarSource) { c.RefreshInterval = 60 },
			wantErr: "refresh_interval",
		},
		{
			name:    "timeout too low",
			mutate:  func(c *CalendarSource) { c.Timeout = 3 },
			wantErr: "timeout",
		},
		{
			name:    "too many retries",
			mutate:  func(c *CalendarSource) { c.RetryAttempts = 11 },
			wantErr: "retry_attempts",
		},
		{
			name:    "too many events",
			mutate:  func(c *CalendarSource) { c.MaxEvents = 20000 },
			wantErr: "max_events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSource()
			tt.mutate(&src)
			s := settingsWith(src)

			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate accepted invalid source")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestAuthValidation(t *testing.T) {
	tests := []struct {
		name    string
		auth    AuthConfig
		wantErr string
	}{
		{
			name: "none",
			auth: AuthConfig{},
		},
		{
			name:    "basic missing username",
			auth:    AuthConfig{Type: AuthBasic, Password: "pw"},
			wantErr: "username is required",
		},
		{
			name:    "basic missing password",
			auth:    AuthConfig{Type: AuthBasic, Username: "coach"},
			wantErr: "password is required",
		},
		{
			name: "basic complete",
			auth: AuthConfig{Type: AuthBasic, Username: "coach", Password: "pw"},
		},
		{
			name:    "bearer missing token",
			auth:    AuthConfig{Type: AuthBearer},
			wantErr: "token is required for bearer",
		},
		{
			name:    "api key missing token",
			auth:    AuthConfig{Type: AuthAPIKey},
			wantErr: "token is required for api_key",
		},
		{
			name: "api key complete",
			auth: AuthConfig{Type: AuthAPIKey, Token: "k"},
		},
		{
			name:    "oauth2 missing client id",
			auth:    AuthConfig{Type: AuthOAuth2, OAuth2TokenURL: "https://auth.example.com/token"},
			wantErr: "oauth2_client_id",
		},
		{
			name:    "oauth2 missing token url",
			auth:    AuthConfig{Type: AuthOAuth2, OAuth2ClientID: "id"},
			wantErr: "oauth2_token_url is required",
		},
		{
			name:    "oauth2 bad token url",
			auth:    AuthConfig{Type: AuthOAuth2, OAuth2ClientID: "id", OAuth2TokenURL: "not a url"},
			wantErr: "valid url",
		},
		{
			name: "oauth2 complete",
			auth: AuthConfig{Type: AuthOAuth2, OAuth2ClientID: "id", OAuth2TokenURL: "https://auth.example.com/token"},
		},
		{
			name:    "unknown type",
			auth:    AuthConfig{Type: "digest"},
			wantErr: "unknown auth type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := validSource()
			src.Auth = tt.auth
			s := settingsWith(src)

			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate accepted invalid auth")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSettingsUniqueness(t *testing.T) {
	t.Run("duplicate names", func(t *testing.T) {
		a := validSource()
		b := validSource()
		b.URL = "https://example.com/b.ics"
		s := settingsWith(a, b)

		err := s.Validate()
		if err == nil || !strings.Contains(err.Error(), "duplicate source name") {
			t.Errorf("err = %v, want duplicate name error", err)
		}
	})

	t.Run("duplicate urls", func(t *testing.T) {
		a := validSource()
		b := validSource()
		b.Name = "Team B"
		s := settingsWith(a, b)

		err := s.Validate()
		if err == nil || !strings.Contains(err.Error(), "duplicate source url") {
			t.Errorf("err = %v, want duplicate url error", err)
		}
	})

	t.Run("no sources", func(t *testing.T) {
		s := settingsWith()
		err := s.Validate()
		if err == nil || !strings.Contains(err.Error(), "at least one calendar source") {
			t.Errorf("err = %v, want missing sources error", err)
		}
	})
}

func TestManualEventValidation(t *testing.T) {
	start := time.Date(2025, 9, 1, 10, 0, 0, 0, time.UTC)
	base := ManualEvent{
		Title: "Team Fundraiser",
		Start: start,
		End:   start.Add(2 * time.Hour),
	}

	tests := []struct {
		name    string
		mutate  func(*ManualEvent)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(e *ManualEvent) {},
		},
		{
			name:    "missing title",
			mutate:  func(e *ManualEvent) { e.Title = "" },
			wantErr: "title is required",
		},
		{
			name:    "end before start",
			mutate:  func(e *ManualEvent) { e.End = e.Start.Add(-time.Hour) },
			wantErr: "end date must be after",
		},
		{
			name:    "end equals start",
			mutate:  func(e *ManualEvent) { e.End = e.Start },
			wantErr: "end date must be after",
		},
		{
			name:    "bad color",
			mutate:  func(e *ManualEvent) { e.Color = "blue" },
			wantErr: "hex format",
		},
		{
			name:    "description too long",
			mutate:  func(e *ManualEvent) { e.Description = strings.Repeat("d", 1001) },
			wantErr: "at most 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := base
			tt.mutate(&ev)
			s := settingsWith(validSource())
			s.ManualEvents = []ManualEvent{ev}

			err := s.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Validate accepted invalid manual event")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestRecurrenceValidation(t *testing.T) {
	until := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		rule    RecurrenceRule
		wantErr string
	}{
		{
			name: "weekly with count",
			rule: RecurrenceRule{Frequency: FrequencyWeekly, Interval: 1, Count: 10, ByWeekday: []int{1, 3}},
		},
		{
			name: "daily with until",
			rule: RecurrenceRule{Frequency: FrequencyDaily, Interval: 1, Until: &until},
		},
		{
			name:    "unknown frequency",
			rule:    RecurrenceRule{Frequency: "hourly", Interval: 1},
			wantErr: "frequency must be",
		},
		{
			name:    "interval too large",
			rule:    RecurrenceRule{Frequency: FrequencyDaily, Interval: 400},
			wantErr: "interval must be",
		},
		{
			name:    "count and until together",
			rule:    RecurrenceRule{Frequency: FrequencyDaily, Interval: 1, Count: 5, Until: &until},
			wantErr: "both count and until",
		},
		{
			name:    "count too large",
			rule:    RecurrenceRule{Frequency: FrequencyDaily, Interval: 1, Count: 2000},
			wantErr: "count must be",
		},
		{
			name:    "weekday out of range",
			rule:    RecurrenceRule{Frequency: FrequencyWeekly, Interval: 1, ByWeekday: []int{7}},
			wantErr: "weekdays must be",
		},
		{
			name:    "month day out of range",
			rule:    RecurrenceRule{Frequency: FrequencyMonthly, Interval: 1, ByMonthDay: []int{0}},
			wantErr: "month days must be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("validate accepted invalid rule")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEnabledDefaults(t *testing.T) {
	src := CalendarSource{}
	if !src.IsEnabled() {
		t.Error("unset source Enabled should report true")
	}
	src.Enabled = boolPtr(false)
	if src.IsEnabled() {
		t.Error("explicitly disabled source reports enabled")
	}

	var p ProcessingSettings
	if !p.DedupEnabled() || !p.OverlapEnabled() {
		t.Error("unset processing flags should report enabled")
	}
	p.Dedup = boolPtr(false)
	p.OverlapDetection = boolPtr(false)
	if p.DedupEnabled() || p.OverlapEnabled() {
		t.Error("disabled processing flags report enabled")
	}

	var sched ScheduleSettings
	if !sched.IsEnabled() {
		t.Error("unset schedule should report enabled")
	}

	var title TitleSettings
	if !title.SourceLabelsEnabled() {
		t.Error("unset source labels should report enabled")
	}
}

func TestEnabledSources(t *testing.T) {
	a := validSource()
	b := validSource()
	b.Name = "Team B"
	b.URL = "https://example.com/b.ics"
	b.Enabled = boolPtr(false)
	c := validSource()
	c.Name = "Team C"
	c.URL = "https://example.com/c.ics"

	s := settingsWith(a, b, c)
	enabled := s.EnabledSources()
	if len(enabled) != 2 {
		t.Fatalf("got %d enabled sources, want 2", len(enabled))
	}
	for _, src := range enabled {
		if src.Name == "Team B" {
			t.Error("disabled source returned as enabled")
		}
	}
}
