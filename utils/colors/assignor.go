// Package colors assigns deterministic display colors to calendar
// sources and events: keyword tables first, then consistent hashing
// into a fixed palette so the same identifier always gets the same
// color across runs.
package colors

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultPalette is tuned for calendar visibility.
var DefaultPalette = []string{
	"#FF5722", // deep orange
	"#2196F3", // blue
	"#4CAF50", // green
	"#FF9800", // orange
	"#9C27B0", // purple
	"#F44336", // red
	"#009688", // teal
	"#3F51B5", // indigo
	"#8BC34A", // light green
	"#FF5722", // deep orange
	"#795548", // brown
	"#607D8B", // blue grey
	"#E91E63", // pink
	"#CDDC39", // lime
	"#FFC107", // amber
	"#673AB7", // deep purple
	"#00BCD4", // cyan
	"#FFEB3B", // yellow
	"#9E9E9E", // grey
	"#FF6F00", // dark orange
}

type keywordColor struct {
	keyword string
	color   string
}

// Keyword tables are ordered slices, not maps: substring matching walks
// them in declaration order so assignment stays deterministic.

var sportColors = []keywordColor{
	{"soccer", "#00AA00"},
	{"football", "#8B4513"},
	{"basketball", "#FF8800"},
	{"baseball", "#FF0000"},
	{"hockey", "#0066CC"},
	{"tennis", "#FFFF00"},
	{"swimming", "#00CCFF"},
	{"track", "#FF6600"},
	{"volleyball", "#FF69B4"},
	{"lacrosse", "#800080"},
	{"wrestling", "#8B0000"},
	{"golf", "#228B22"},
	{"cross country", "#DC143C"},
	{"softball", "#FFD700"},
}

var teamColors = []keywordColor{
	{"eagles", "#8B4513"},
	{"tigers", "#FF8C00"},
	{"lions", "#DAA520"},
	{"bears", "#654321"},
	{"wolves", "#696969"},
	{"sharks", "#4682B4"},
	{"hawks", "#8B0000"},
	{"falcons", "#2F4F4F"},
	{"panthers", "#000000"},
	{"bulls", "#DC143C"},
	{"rams", "#4169E1"},
	{"saints", "#FFD700"},
	{"giants", "#0000FF"},
	{"jets", "#006400"},
	{"raiders", "#C0C0C0"},
	{"chiefs", "#FF0000"},
	{"broncos", "#FF8C00"},
	{"steelers", "#000000"},
	{"cowboys", "#4169E1"},
	{"patriots", "#002244"},
	{"dolphins", "#008B8B"},
	{"cardinals", "#8B0000"},
	{"vikings", "#4B0082"},
	{"packers", "#006400"},
	{"seahawks", "#005A8B"},
	{"chargers", "#FFD700"},
	{"ravens", "#4B0082"},
	{"titans", "#4169E1"},
}

var hexColorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Context carries known attributes of the thing being colored.
type Context struct {
	Sport string
	Team  string
}

// Options configures an Assignor.
type Options struct {
	// Palette overrides DefaultPalette for hash-based assignment.
	Palette []string
	// DisableSportColors skips the sport keyword table.
	DisableSportColors bool
	// DisableTeamColors skips the team keyword table.
	DisableTeamColors bool
}

// Assignor resolves colors for identifiers. Safe for concurrent use.
type Assignor struct {
	palette     []string
	sportColors bool
	teamColors  bool
}

// NewAssignor validates the palette and builds an Assignor.
func NewAssignor(opts Options) (*Assignor, error) {
	palette := opts.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	validated := make([]string, len(palette))
	for i, c := range palette {
		v, err := ValidateColor(c)
		if err != nil {
			return nil, fmt.Errorf("palette entry %d: %w", i, err)
		}
		validated[i] = v
	}
	return &Assignor{
		palette:     validated,
		sportColors: !opts.DisableSportColors,
		teamColors:  !opts.DisableTeamColors,
	}, nil
}

// Assign resolves a color for the identifier: explicit sport match,
// then team match, then a hash of the identifier into the palette.
func (a *Assignor) Assign(identifier string, ctx Context) string {
	if a.sportColors {
		if c, ok := matchKeyword(sportColors, ctx.Sport, identifier); ok {
			return c
		}
	}
	if a.teamColors {
		if c, ok := matchKeyword(teamColors, ctx.Team, identifier); ok {
			return c
		}
	}
	return a.hashColor(identifier)
}

// matchKeyword checks an explicit context value for an exact table hit,
// then scans the identifier for keyword substrings in table order.
func matchKeyword(table []keywordColor, explicit, identifier string) (string, bool) {
	if explicit != "" {
		want := strings.ToLower(explicit)
		for _, kc := range table {
			if kc.keyword == want {
				return kc.color, true
			}
		}
	}
	lower := strings.ToLower(identifier)
	for _, kc := range table {
		if strings.Contains(lower, kc.keyword) {
			return kc.color, true
		}
	}
	return "", false
}

// hashColor maps an identifier onto the palette via the first four
// bytes of its MD5 digest, so assignment is stable across runs.
func (a *Assignor) hashColor(identifier string) string {
	sum := md5.Sum([]byte(identifier))
	idx := binary.BigEndian.Uint32(sum[:4]) % uint32(len(a.palette))
	return a.palette[idx]
}

// ValidateColor normalizes a color to uppercase #RRGGBB form. A missing
// leading '#' is tolerated; anything else malformed is rejected.
func ValidateColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return "", fmt.Errorf("empty color")
	}
	if !strings.HasPrefix(color, "#") {
		color = "#" + color
	}
	if !hexColorPattern.MatchString(color) {
		return "", fmt.Errorf("invalid color format: %s", color)
	}
	return strings.ToUpper(color), nil
}

// ContrastingTextColor returns black for light backgrounds and white
// for dark ones, using the WCAG relative-luminance formula with a 0.5
// threshold. Malformed input gets white.
func ContrastingTextColor(background string) string {
	r, g, b, err := hexToRGB(background)
	if err != nil {
		return "#FFFFFF"
	}
	luminance := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
	if luminance > 0.5 {
		return "#000000"
	}
	return "#FFFFFF"
}

// SchemeSource names one source to be colored in a bulk assignment.
type SchemeSource struct {
	Name    string
	Context Context
}

// Scheme assigns a distinct color to every source. Sources with sport
// or team keyword matches are colored first so they keep their natural
// colors; collisions are resolved by perturbing lightness, then by
// unused palette entries.
func (a *Assignor) Scheme(sources []SchemeSource) map[string]string {
	ordered := make([]SchemeSource, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return a.schemePriority(ordered[i].Name) > a.schemePriority(ordered[j].Name)
	})

	scheme := make(map[string]string, len(ordered))
	used := make(map[string]bool, len(ordered))

	for _, src := range ordered {
		color := a.Assign(src.Name, src.Context)
		if used[color] {
			color = a.alternativeColor(color, used)
		}
		scheme[src.Name] = color
		used[color] = true
	}
	return scheme
}

func (a *Assignor) schemePriority(name string) int {
	lower := strings.ToLower(name)
	priority := 0
	for _, kc := range sportColors {
		if strings.Contains(lower, kc.keyword) {
			priority += 100
			break
		}
	}
	for _, kc := range teamColors {
		if strings.Contains(lower, kc.keyword) {
			priority += 50
			break
		}
	}
	return priority
}

// alternativeColor perturbs the preferred color's lightness, then falls
// back to unused palette entries, then gives up and reuses it.
func (a *Assignor) alternativeColor(preferred string, used map[string]bool) string {
	h, s, l := hexToHSL(preferred)
	for _, offset := range []float64{0.1, -0.1, 0.2, -0.2} {
		nl := l + offset
		if nl < 0.2 {
			nl = 0.2
		}
		if nl > 0.8 {
			nl = 0.8
		}
		candidate := hslToHex(h, s, nl)
		if !used[candidate] {
			return candidate
		}
	}
	for _, c := range a.palette {
		if !used[c] {
			return c
		}
	}
	return preferred
}

func hexToRGB(color string) (r, g, b uint8, err error) {
	hexPart := strings.TrimPrefix(strings.TrimSpace(color), "#")
	if len(hexPart) != 6 {
		return 0, 0, 0, fmt.Errorf("invalid color %q", color)
	}
	v, err := strconv.ParseUint(hexPart, 16, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid color %q", color)
	}
	return uint8(v >> 16), uint8(v >> 8), uint8(v), nil
}

func hexToHSL(color string) (h, s, l float64) {
	ri, gi, bi, err := hexToRGB(color)
	if err != nil {
		return 0, 0, 0
	}
	r := float64(ri) / 255
	g := float64(gi) / 255
	b := float64(bi) / 255

	maxC := max3(r, g, b)
	minC := min3(r, g, b)
	l = (maxC + minC) / 2

	if maxC == minC {
		return 0, 0, l
	}

	d := maxC - minC
	if l > 0.5 {
		s = d / (2 - maxC - minC)
	} else {
		s = d / (maxC + minC)
	}

	switch maxC {
	case r:
		h = (g - b) / d
		if g < b {
			h += 6
		}
	case g:
		h = (b-r)/d + 2
	default:
		h = (r-g)/d + 4
	}
	h /= 6
	return h, s, l
}

func hslToHex(h, s, l float64) string {
	var r, g, b float64
	if s == 0 {
		r, g, b = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		r = hueToRGB(p, q, h+1.0/3)
		g = hueToRGB(p, q, h)
		b = hueToRGB(p, q, h-1.0/3)
	}
	return fmt.Sprintf("#%02X%02X%02X", int(r*255+0.5), int(g*255+0.5), int(b*255+0.5))
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	default:
		return p
	}
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}
