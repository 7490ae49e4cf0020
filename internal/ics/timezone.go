package ics

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"rostercal/models"
)

// TimeZoneTransition describes one detected DST boundary in a reference
// year. Start holds the local wall-clock instant of the probe that
// first observed the new offset.
type TimeZoneTransition struct {
	Start      time.Time
	IsDST      bool
	OffsetFrom time.Duration
	OffsetTo   time.Duration
	Name       string
}

// probeDays spaces DST probes four times per month, locating any
// transition to within one week.
var probeDays = []int{1, 8, 15, 22}

// DetectTransitions scans a year for offset changes in loc, probing at
// 02:00 local time on fixed days of each month. A transition is
// recorded whenever a probe observes a different offset than the probe
// before it, so the recorded instant is accurate to within one probe
// interval.
func DetectTransitions(loc *time.Location, year int) []TimeZoneTransition {
	std := standardOffset(loc, year)

	_, prevOffset := time.Date(year, time.January, 1, 2, 0, 0, 0, loc).Zone()

	var transitions []TimeZoneTransition
	for month := time.January; month <= time.December; month++ {
		for _, day := range probeDays {
			if month == time.January && day == 1 {
				continue
			}
			dt := time.Date(year, month, day, 2, 0, 0, 0, loc)
			name, offset := dt.Zone()
			if offset != prevOffset {
				transitions = append(transitions, TimeZoneTransition{
					Start:      dt,
					IsDST:      offset > std,
					OffsetFrom: time.Duration(prevOffset) * time.Second,
					OffsetTo:   time.Duration(offset) * time.Second,
					Name:       name,
				})
			}
			prevOffset = offset
		}
	}
	return transitions
}

// standardOffset returns the smaller of the January and July offsets in
// seconds, which is the non-DST offset in both hemispheres.
func standardOffset(loc *time.Location, year int) int {
	_, jan := time.Date(year, time.January, 1, 12, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, time.July, 1, 12, 0, 0, 0, loc).Zone()
	if jul < jan {
		return jul
	}
	return jan
}

// FormatOffset renders a UTC offset in the signed four-digit HHMM form
// required by TZOFFSETFROM and TZOFFSETTO.
func FormatOffset(offset time.Duration) string {
	total := int(offset.Seconds())
	sign := "+"
	if total < 0 {
		sign = "-"
		total = -total
	}
	return fmt.Sprintf("%s%02d%02d", sign, total/3600, (total%3600)/60)
}

// collectTimeZones gathers the distinct IANA zone names referenced by
// event start/end instants plus the calendar default, sorted so the
// encoded output is stable. UTC and fixed-offset zones are excluded;
// their instants are encoded in UTC form directly.
func collectTimeZones(events []*models.Event, defaultTZ string) []string {
	seen := make(map[string]bool)
	for _, e := range events {
		if name := zoneName(e.Start); name != "" {
			seen[name] = true
		}
		if name := zoneName(e.End); name != "" {
			seen[name] = true
		}
	}
	if defaultTZ != "" && defaultTZ != "UTC" {
		seen[defaultTZ] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// zoneName returns the IANA database name of a time's location, or ""
// when the instant should be encoded in UTC form instead of with a
// TZID reference.
func zoneName(t time.Time) string {
	name := t.Location().String()
	if name == "" || name == "UTC" || name == "Local" {
		return ""
	}
	if !strings.Contains(name, "/") {
		// Abbreviations and fixed offsets are not resolvable TZIDs.
		return ""
	}
	return name
}

// writeTimeZone emits one VTIMEZONE block. Zones without transitions in
// the reference year get a single epoch-anchored STANDARD definition;
// zones with DST get a STANDARD/DAYLIGHT pair per transition, each
// repeating yearly. Returns false if the zone cannot be loaded.
func writeTimeZone(w *foldWriter, tzName string, year int) bool {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Printf("[encoder] unknown timezone %s: %v", tzName, err)
		return false
	}

	w.line("BEGIN:VTIMEZONE")
	w.prop("TZID", tzName)

	transitions := DetectTransitions(loc, year)
	if len(transitions) == 0 {
		ref := time.Date(year, time.January, 1, 12, 0, 0, 0, loc)
		name, offset := ref.Zone()
		fixed := time.Duration(offset) * time.Second

		w.line("BEGIN:STANDARD")
		w.prop("DTSTART", "19700101T000000")
		w.prop("TZOFFSETFROM", FormatOffset(fixed))
		w.prop("TZOFFSETTO", FormatOffset(fixed))
		w.prop("TZNAME", escapeText(name))
		w.line("END:STANDARD")
	} else {
		for _, tr := range transitions {
			kind := "STANDARD"
			if tr.IsDST {
				kind = "DAYLIGHT"
			}
			w.line("BEGIN:" + kind)
			w.prop("DTSTART", tr.Start.Format("20060102T150405"))
			w.prop("TZOFFSETFROM", FormatOffset(tr.OffsetFrom))
			w.prop("TZOFFSETTO", FormatOffset(tr.OffsetTo))
			w.prop("TZNAME", escapeText(tr.Name))
			w.prop("RRULE", "FREQ=YEARLY")
			w.line("END:" + kind)
		}
	}

	w.line("END:VTIMEZONE")
	return true
}
