package aggregator

import (
	"log"
	"time"

	"github.com/teambition/rrule-go"

	"rostercal/config"
	"rostercal/models"
)

// ManualSource is the source name attached to events declared in the
// config file rather than fetched from a feed.
const ManualSource = "Manual"

// maxOccurrences bounds how many occurrences a single recurrence rule
// may expand to within one window.
const maxOccurrences = 1000

// index position is the config weekday number, 0 is Monday.
var rruleWeekdays = []rrule.Weekday{
	rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU,
}

var rruleFrequencies = map[config.Frequency]rrule.Frequency{
	config.FrequencyDaily:   rrule.DAILY,
	config.FrequencyWeekly:  rrule.WEEKLY,
	config.FrequencyMonthly: rrule.MONTHLY,
	config.FrequencyYearly:  rrule.YEARLY,
}

// ExpandManualEvents turns the configured manual events into concrete
// events inside [windowStart, windowEnd). Non-recurring events are kept
// when their span touches the window; recurring events are expanded
// into one event per occurrence, each carrying the duration and
// metadata of the declaration. Invalid declarations are logged and
// skipped so one bad entry never hides the rest.
func ExpandManualEvents(declared []config.ManualEvent, windowStart, windowEnd time.Time) []*models.Event {
	var out []*models.Event
	for _, decl := range declared {
		if decl.Recurrence == nil {
			if decl.End.Before(windowStart) || !decl.Start.Before(windowEnd) {
				continue
			}
			if event := manualEvent(decl, decl.Start, decl.End); event != nil {
				out = append(out, event)
			}
			continue
		}

		duration := decl.End.Sub(decl.Start)
		for _, occStart := range occurrences(decl, windowStart, windowEnd) {
			if event := manualEvent(decl, occStart, occStart.Add(duration)); event != nil {
				out = append(out, event)
			}
		}
	}
	return out
}

// occurrences expands one recurrence rule into occurrence start times
// within the window. The declaration's own start anchors the rule, so
// an occurrence before the window is simply skipped, not shifted.
func occurrences(decl config.ManualEvent, windowStart, windowEnd time.Time) []time.Time {
	rule := decl.Recurrence

	freq, ok := rruleFrequencies[rule.Frequency]
	if !ok {
		log.Printf("[aggregator] manual event %q: unknown recurrence frequency %q, skipping", decl.Title, rule.Frequency)
		return nil
	}

	opt := rrule.ROption{
		Freq:     freq,
		Dtstart:  decl.Start,
		Interval: rule.Interval,
		Count:    rule.Count,
	}
	if rule.Until != nil {
		opt.Until = *rule.Until
	}
	for _, day := range rule.ByWeekday {
		if day < 0 || day >= len(rruleWeekdays) {
			log.Printf("[aggregator] manual event %q: weekday %d out of range, skipping rule", decl.Title, day)
			return nil
		}
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[day])
	}
	if len(rule.ByMonthDay) > 0 {
		opt.Bymonthday = rule.ByMonthDay
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		log.Printf("[aggregator] manual event %q: invalid recurrence: %v", decl.Title, err)
		return nil
	}

	starts := r.Between(windowStart, windowEnd, true)
	if len(starts) > maxOccurrences {
		log.Printf("[aggregator] manual event %q: truncating recurrence to %d occurrences", decl.Title, maxOccurrences)
		starts = starts[:maxOccurrences]
	}
	return starts
}

// manualEvent builds one concrete event from a declaration. Returns nil
// when the declaration cannot form a valid event.
func manualEvent(decl config.ManualEvent, start, end time.Time) *models.Event {
	event, err := models.NewEvent(decl.Title, start, end, ManualSource)
	if err != nil {
		log.Printf("[aggregator] manual event %q: %v", decl.Title, err)
		return nil
	}
	event.SetDescription(decl.Description)
	event.SetLocation(decl.Location)
	event.AllDay = decl.AllDay
	event.Color = decl.Color
	return event
}
