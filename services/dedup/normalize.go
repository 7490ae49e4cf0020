package dedup

import (
	"math"
	"regexp"
	"strings"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespacePattern  = regexp.MustCompile(`\s+`)
	punctuationPattern = regexp.MustCompile("[.,!?;:()\"'`]")

	// Matchup titles name the two sides around a game separator.
	teamPattern = regexp.MustCompile(`(?i)(.+?)\s+(?:vs?|versus|@|at)\s+(.+)`)

	// A side like "Lincoln High Eagles" reduces to its mascot so the same
	// matchup reported with different school-name prefixes still overlaps.
	mascotPattern = regexp.MustCompile(`(?i)(eagles|tigers|lions|bears|wolves|sharks|hawks|falcons|panthers|bulls|rams|saints|giants|jets|raiders|chiefs|broncos|steelers|cowboys|patriots|dolphins|bills|cardinals|vikings|packers|49ers|seahawks|chargers|browns|ravens|bengals|titans|jaguars|colts|texans)`)

	gamePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bvs?\b`),
		regexp.MustCompile(`\bat\b`),
		regexp.MustCompile(`@`),
	}

	// Ordered: the double dash produced by transliterating an em dash has
	// to be replaced before the single dash rule can see it.
	synonymReplacer = strings.NewReplacer(
		" vs ", " v ",
		" versus ", " v ",
		" @ ", " at ",
		" -- ", " ",
		" - ", " ",
	)
)

const (
	teamOverlapBoost = 0.2
	gamePatternBoost = 0.1
)

// normalizeText folds a title, location, or description down to a form
// where independent sources describing the same event compare equal:
// NFKC compatibility normalization, ASCII transliteration, lowercasing,
// whitespace collapse, punctuation removal, and matchup-word synonyms
// ("vs"/"versus" to "v", "@" to "at").
func normalizeText(text string) string {
	text = norm.NFKC.String(text)
	text = unidecode.Unidecode(text)
	text = strings.ToLower(text)
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	text = punctuationPattern.ReplaceAllString(text, "")
	text = synonymReplacer.Replace(text)
	return text
}

// textSimilarity scores two text fields in [0,1]. Both empty counts as a
// perfect match, one empty as no match. Otherwise the normalized forms are
// compared with a matching-block ratio, boosted for sports matchups.
func textSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	na, nb := normalizeText(a), normalizeText(b)
	if na == nb {
		return 1.0
	}

	sim := sequenceRatio(na, nb)
	return applyMatchupBoosts(a, b, sim)
}

// applyMatchupBoosts raises a base similarity when both texts describe a
// matchup: by the Jaccard overlap of their team tokens (scaled) and by a
// flat amount when both carry a game separator.
func applyMatchupBoosts(a, b string, sim float64) float64 {
	teamsA, teamsB := teamTokens(a), teamTokens(b)
	if len(teamsA) > 0 && len(teamsB) > 0 {
		overlap, union := 0, len(teamsB)
		for token := range teamsA {
			if teamsB[token] {
				overlap++
			} else {
				union++
			}
		}
		if union > 0 {
			sim = math.Min(1.0, sim+float64(overlap)/float64(union)*teamOverlapBoost)
		}
	}

	if hasGamePattern(a) && hasGamePattern(b) {
		sim += gamePatternBoost
	}
	return math.Min(1.0, sim)
}

// teamTokens extracts the two sides of a matchup title, reduced to their
// mascot where one is recognizable. Empty when the text is not a matchup.
func teamTokens(text string) map[string]bool {
	match := teamPattern.FindStringSubmatch(text)
	if match == nil {
		return nil
	}

	tokens := make(map[string]bool, 2)
	for _, side := range match[1:] {
		side = strings.TrimSpace(side)
		if mascot := mascotPattern.FindString(side); mascot != "" {
			side = mascot
		}
		if side != "" {
			tokens[strings.ToLower(side)] = true
		}
	}
	return tokens
}

func hasGamePattern(text string) bool {
	lower := strings.ToLower(text)
	for _, pattern := range gamePatterns {
		if pattern.MatchString(lower) {
			return true
		}
	}
	return false
}

// sequenceRatio is the classic matching-blocks similarity: twice the
// number of runes in common blocks over the combined length.
func sequenceRatio(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchedRunes(ra, rb)) / float64(total)
}

// matchedRunes counts runes covered by recursively taking the longest
// common block and matching what remains on each side of it.
func matchedRunes(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	ai, bi, size := longestCommonBlock(a, b)
	if size == 0 {
		return 0
	}
	return size +
		matchedRunes(a[:ai], b[:bi]) +
		matchedRunes(a[ai+size:], b[bi+size:])
}

func longestCommonBlock(a, b []rune) (bestA, bestB, bestLen int) {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				run := prev[j-1] + 1
				curr[j] = run
				if run > bestLen {
					bestLen = run
					bestA = i - run
					bestB = j - run
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return bestA, bestB, bestLen
}
