package utils

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML reduces HTML markup in feed text to plain text. Some hosted
// calendars put formatted markup in DESCRIPTION; calendar clients render
// it literally, so it is flattened before events enter the pipeline.
// Text without any markup is returned unchanged.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skipDepth := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return collapseBlankLines(b.String())
		case html.TextToken:
			if skipDepth == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skipDepth++
			case "br", "p", "div", "li", "tr":
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skipDepth > 0 {
					skipDepth--
				}
			case "p", "div", "ul", "ol", "table":
				b.WriteByte('\n')
			}
		}
	}
}

// collapseBlankLines trims each line and drops the blank ones, so
// stacked block tags flatten to single line breaks.
func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
