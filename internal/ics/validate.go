package ics

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	ical "github.com/arran4/golang-ical"
)

var offsetPattern = regexp.MustCompile(`^[+-]\d{4}$`)

// ValidateCalendar re-parses an encoded calendar document and checks it
// against the structural rules of RFC 5545. It returns true with an
// empty list when the document is clean, otherwise false plus every
// violation found. The input is never modified.
func ValidateCalendar(content []byte) (bool, []string) {
	var violations []string

	// A reference parser rejecting the document is itself a violation,
	// but the structural checks below still run so one malformed line
	// does not hide every other defect.
	if _, err := ical.ParseCalendar(bytes.NewReader(content)); err != nil {
		violations = append(violations, fmt.Sprintf("failed to parse calendar: %v", err))
	}

	text := string(content)
	root := scanComponents(unfoldLines(text))

	cal := root.firstChild("VCALENDAR")
	if cal == nil {
		violations = append(violations, "no VCALENDAR component found")
		return false, violations
	}

	violations = append(violations, validateCalendarProps(cal)...)
	violations = append(violations, validateEvents(cal)...)
	violations = append(violations, validateTimeZones(cal)...)
	violations = append(violations, validateStructure(text)...)
	violations = append(violations, validateLineLengths(text)...)

	return len(violations) == 0, violations
}

func validateCalendarProps(cal *component) []string {
	var violations []string

	if !cal.has("PRODID") {
		violations = append(violations, "product identifier is required")
	} else {
		prodid := cal.first("PRODID")
		if !strings.HasPrefix(prodid, "-//") || !strings.Contains(prodid[3:], "//") {
			violations = append(violations, fmt.Sprintf("PRODID format invalid: %s", prodid))
		}
	}

	if !cal.has("VERSION") {
		violations = append(violations, "version is required (must be 2.0)")
	} else if v := cal.first("VERSION"); v != "2.0" {
		violations = append(violations, fmt.Sprintf("VERSION must be 2.0, found: %s", v))
	}

	if cal.has("CALSCALE") {
		if cs := cal.first("CALSCALE"); cs != "GREGORIAN" {
			violations = append(violations, fmt.Sprintf("CALSCALE must be GREGORIAN if present, found: %s", cs))
		}
	}

	return violations
}

func validateEvents(cal *component) []string {
	var violations []string
	count := 0

	cal.walk(func(c *component) {
		if c.name != "VEVENT" {
			return
		}
		count++

		if !c.has("UID") {
			violations = append(violations, fmt.Sprintf("event %d: unique identifier is required", count))
		} else if uid := c.first("UID"); uid == "" || !strings.Contains(uid, "@") {
			violations = append(violations, fmt.Sprintf("event %d: UID should contain '@' for uniqueness", count))
		}

		if !c.has("DTSTAMP") {
			violations = append(violations, fmt.Sprintf("event %d: date-time stamp is required", count))
		}

		hasStart := c.has("DTSTART")
		hasEnd := c.has("DTEND")
		hasDuration := c.has("DURATION")

		if !hasStart {
			violations = append(violations, fmt.Sprintf("event %d: DTSTART is required", count))
		}
		if hasStart && !hasEnd && !hasDuration {
			violations = append(violations, fmt.Sprintf("event %d: must have either DTEND or DURATION with DTSTART", count))
		}
		if hasEnd && hasDuration {
			violations = append(violations, fmt.Sprintf("event %d: cannot have both DTEND and DURATION", count))
		}

		if c.has("SUMMARY") {
			summary := unescapeText(c.first("SUMMARY"))
			if utf8.RuneCountInString(summary) > 255 {
				violations = append(violations, fmt.Sprintf("event %d: SUMMARY longer than 255 characters", count))
			}
		}

		if c.has("SEQUENCE") {
			seq, err := strconv.Atoi(strings.TrimSpace(c.first("SEQUENCE")))
			if err != nil {
				violations = append(violations, fmt.Sprintf("event %d: SEQUENCE must be integer", count))
			} else if seq < 0 {
				violations = append(violations, fmt.Sprintf("event %d: SEQUENCE must be non-negative", count))
			}
		}

		if c.has("STATUS") {
			switch status := c.first("STATUS"); status {
			case "TENTATIVE", "CONFIRMED", "CANCELLED":
			default:
				violations = append(violations, fmt.Sprintf("event %d: invalid STATUS %q", count, status))
			}
		}

		if c.has("TRANSP") {
			switch transp := c.first("TRANSP"); transp {
			case "OPAQUE", "TRANSPARENT":
			default:
				violations = append(violations, fmt.Sprintf("event %d: invalid TRANSP %q", count, transp))
			}
		}
	})

	if count == 0 {
		violations = append(violations, "no events found in calendar")
	}
	return violations
}

func validateTimeZones(cal *component) []string {
	var violations []string

	cal.walk(func(c *component) {
		if c.name != "VTIMEZONE" {
			return
		}

		if !c.has("TZID") {
			violations = append(violations, "VTIMEZONE: TZID is required")
		}

		subBlocks := 0
		for _, sub := range c.children {
			if sub.name != "STANDARD" && sub.name != "DAYLIGHT" {
				continue
			}
			subBlocks++

			if !sub.has("DTSTART") {
				violations = append(violations, fmt.Sprintf("%s: DTSTART is required", sub.name))
			}
			for _, prop := range []string{"TZOFFSETFROM", "TZOFFSETTO"} {
				if !sub.has(prop) {
					violations = append(violations, fmt.Sprintf("%s: %s is required", sub.name, prop))
					continue
				}
				if v := sub.first(prop); !offsetPattern.MatchString(v) {
					violations = append(violations, fmt.Sprintf("%s: invalid %s format: %s", sub.name, prop, v))
				}
			}
		}

		if subBlocks == 0 {
			violations = append(violations, "VTIMEZONE: must have at least one STANDARD or DAYLIGHT component")
		}
	})

	return violations
}

// validateStructure checks BEGIN/END balance and nesting over the raw
// physical lines.
func validateStructure(text string) []string {
	var violations []string
	lines := contentLines(text)
	if len(lines) == 0 {
		return []string{"calendar is empty"}
	}

	if !strings.HasPrefix(lines[0].text, "BEGIN:VCALENDAR") {
		violations = append(violations, "calendar must start with BEGIN:VCALENDAR")
	}
	if !strings.HasSuffix(lines[len(lines)-1].text, "END:VCALENDAR") {
		violations = append(violations, "calendar must end with END:VCALENDAR")
	}

	type open struct {
		name string
		line int
	}
	var stack []open

	for _, ln := range lines {
		switch {
		case strings.HasPrefix(ln.text, "BEGIN:"):
			stack = append(stack, open{name: ln.text[len("BEGIN:"):], line: ln.num})
		case strings.HasPrefix(ln.text, "END:"):
			name := ln.text[len("END:"):]
			if len(stack) == 0 {
				violations = append(violations, fmt.Sprintf("line %d: END:%s without matching BEGIN", ln.num, name))
				continue
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if top.name != name {
				violations = append(violations,
					fmt.Sprintf("line %d: END:%s doesn't match BEGIN:%s on line %d", ln.num, name, top.name, top.line))
			}
		}
	}

	for _, o := range stack {
		violations = append(violations, fmt.Sprintf("line %d: BEGIN:%s without matching END", o.line, o.name))
	}
	return violations
}

// validateLineLengths flags physical lines longer than 75 octets,
// excluding the line break.
func validateLineLengths(text string) []string {
	var violations []string
	for i, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSuffix(ln, "\r")
		if len(ln) > maxLineOctets {
			violations = append(violations, fmt.Sprintf("line %d: exceeds 75 octets (%d octets)", i+1, len(ln)))
		}
	}
	return violations
}

type numberedLine struct {
	text string
	num  int
}

func contentLines(text string) []numberedLine {
	var out []numberedLine
	for i, ln := range strings.Split(text, "\n") {
		ln = strings.TrimSpace(ln)
		if ln == "" {
			continue
		}
		out = append(out, numberedLine{text: ln, num: i + 1})
	}
	return out
}

// component is a minimal parsed view of an iCalendar component tree:
// property values keyed by upper-cased name, parameters stripped.
type component struct {
	name     string
	props    map[string][]string
	children []*component
}

func (c *component) has(name string) bool {
	return len(c.props[name]) > 0
}

func (c *component) first(name string) string {
	if vs := c.props[name]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

func (c *component) firstChild(name string) *component {
	for _, child := range c.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

func (c *component) walk(fn func(*component)) {
	fn(c)
	for _, child := range c.children {
		child.walk(fn)
	}
}

func scanComponents(lines []string) *component {
	root := &component{name: "ROOT", props: map[string][]string{}}
	stack := []*component{root}

	for _, ln := range lines {
		name, value := splitContentLine(ln)
		switch name {
		case "BEGIN":
			child := &component{
				name:  strings.ToUpper(strings.TrimSpace(value)),
				props: map[string][]string{},
			}
			parent := stack[len(stack)-1]
			parent.children = append(parent.children, child)
			stack = append(stack, child)
		case "END":
			if len(stack) > 1 {
				stack = stack[:len(stack)-1]
			}
		default:
			cur := stack[len(stack)-1]
			cur.props[name] = append(cur.props[name], value)
		}
	}
	return root
}

// splitContentLine separates a content line into its upper-cased
// property name (parameters stripped) and raw value. The value
// delimiter is the first colon outside a quoted parameter.
func splitContentLine(ln string) (string, string) {
	inQuotes := false
	for i := 0; i < len(ln); i++ {
		switch ln[i] {
		case '"':
			inQuotes = !inQuotes
		case ':':
			if inQuotes {
				continue
			}
			head := ln[:i]
			if semi := strings.IndexByte(head, ';'); semi >= 0 {
				head = head[:semi]
			}
			return strings.ToUpper(strings.TrimSpace(head)), ln[i+1:]
		}
	}
	return strings.ToUpper(strings.TrimSpace(ln)), ""
}

// unfoldLines joins folded continuation lines and drops blanks,
// yielding one logical content line per entry.
func unfoldLines(text string) []string {
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		ln = strings.TrimRight(ln, "\r")
		if ln == "" {
			continue
		}
		if (ln[0] == ' ' || ln[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += ln[1:]
		} else {
			out = append(out, ln)
		}
	}
	return out
}
