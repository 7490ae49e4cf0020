package processor

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"rostercal/config"
	"rostercal/models"
)

var (
	collapseSpaces = regexp.MustCompile(`\s+`)
	repeatedDots   = regexp.MustCompile(`\.{2,}`)
	repeatedBangs  = regexp.MustCompile(`!{2,}`)
	repeatedMarks  = regexp.MustCompile(`\?{2,}`)
)

// Words that already tell the reader what kind of event this is, making
// an appended type label redundant.
var typeIndicators = []string{
	"game", "match", "vs", "v ", "@",
	"practice", "training", "drill",
	"tournament", "championship", "cup",
	"meeting", "scrimmage", "workout",
}

// TitleFormatter builds display titles from configurable parts: an
// optional source label, the cleaned original title, and an optional
// event-type label. A custom format string overrides composition
// entirely.
type TitleFormatter struct {
	includeSourceLabels bool
	includeEventType    bool
	maxLength           int
	sourceLabelFormat   string
	typeLabelFormat     string
	separator           string
	customFormat        string
}

// NewTitleFormatter creates a formatter from title settings. Zero values
// fall back to the configuration defaults.
func NewTitleFormatter(settings config.TitleSettings) *TitleFormatter {
	f := &TitleFormatter{
		includeSourceLabels: settings.SourceLabelsEnabled(),
		includeEventType:    settings.IncludeEventType,
		maxLength:           settings.MaxLength,
		sourceLabelFormat:   settings.SourceLabelFormat,
		typeLabelFormat:     settings.TypeLabelFormat,
		separator:           settings.Separator,
		customFormat:        settings.CustomFormat,
	}
	if f.maxLength <= 0 {
		f.maxLength = 100
	}
	if f.sourceLabelFormat == "" {
		f.sourceLabelFormat = "[{source}]"
	}
	if f.typeLabelFormat == "" {
		f.typeLabelFormat = "({type})"
	}
	if f.separator == "" {
		f.separator = " "
	}
	return f
}

// Format returns the display title for an event. Formatting is
// idempotent: a title that already carries a source label or type word
// does not get another one.
func (f *TitleFormatter) Format(event *models.Event) string {
	if f.customFormat != "" {
		return f.applyCustomFormat(event)
	}

	var parts []string

	if f.includeSourceLabels && event.SourceName != "" && !hasSourceLabel(event.Title, event.SourceName) {
		parts = append(parts, strings.ReplaceAll(f.sourceLabelFormat, "{source}", event.SourceName))
	}

	clean := cleanTitle(event.Title)
	parts = append(parts, clean)

	if f.includeEventType && event.Type != "" && !hasTypeIndicator(clean) {
		parts = append(parts, strings.ReplaceAll(f.typeLabelFormat, "{type}", titleCase(string(event.Type))))
	}

	formatted := strings.Join(parts, f.separator)
	if len(formatted) > f.maxLength {
		formatted = truncateAtWord(formatted, f.maxLength)
	}
	return formatted
}

func (f *TitleFormatter) applyCustomFormat(event *models.Event) string {
	replacer := strings.NewReplacer(
		"{title}", event.Title,
		"{source}", event.SourceName,
		"{type}", titleCase(string(event.Type)),
		"{location}", event.Location,
		"{date}", event.Start.Format("01/02"),
		"{time}", event.Start.Format("15:04"),
		"{day}", event.Start.Format("Mon"),
		"{status}", titleCase(string(event.Status)),
	)
	return collapseSpaces.ReplaceAllString(strings.TrimSpace(replacer.Replace(f.customFormat)), " ")
}

// hasSourceLabel reports whether the title already identifies its source
// in one of the common label shapes: "[Source]", "(Source)", "Source:",
// or the source name leading the title.
func hasSourceLabel(title, sourceName string) bool {
	lowerTitle := strings.ToLower(title)
	lowerSource := strings.ToLower(sourceName)

	return strings.Contains(lowerTitle, "["+lowerSource+"]") ||
		strings.Contains(lowerTitle, "("+lowerSource+")") ||
		strings.Contains(lowerTitle, lowerSource+":") ||
		strings.HasPrefix(lowerTitle, lowerSource+" ")
}

func hasTypeIndicator(title string) bool {
	lower := strings.ToLower(title)
	for _, indicator := range typeIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(collapseSpaces.ReplaceAllString(title, " "))
	title = repeatedDots.ReplaceAllString(title, "...")
	title = repeatedBangs.ReplaceAllString(title, "!")
	title = repeatedMarks.ReplaceAllString(title, "?")
	return title
}

// truncateAtWord shortens a title to at most maxLength bytes, cutting at
// the preceding word boundary when that boundary is not too far back,
// and appends an ellipsis.
func truncateAtWord(title string, maxLength int) string {
	if len(title) <= maxLength {
		return title
	}

	cut := maxLength - 3
	if cut < 0 {
		cut = 0
	}
	// Back off to a rune boundary so the cut never splits a character.
	for cut > 0 && (title[cut]&0xC0) == 0x80 {
		cut--
	}
	truncated := title[:cut]

	if idx := strings.LastIndex(truncated, " "); idx > int(float64(maxLength)*0.7) {
		truncated = truncated[:idx]
	}
	return truncated + "..."
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(s)
}
