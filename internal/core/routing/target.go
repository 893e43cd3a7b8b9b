package routing

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
)

var ordinalWords = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5,
	"sixth": 6, "seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10,
}

// An ordinal only counts when it names a result, not "first quarter".
const ordinalTail = `(?:\s+(?:one|document|file|doc|result|item)\b|\s*[?.!]?$)`

var (
	ordinalWordRe   = regexp.MustCompile(`\b(first|second|third|fourth|fifth|sixth|seventh|eighth|ninth|tenth)` + ordinalTail)
	ordinalSuffixRe = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)` + ordinalTail)
	ordinalNumberRe = regexp.MustCompile(`(?:#\s*|\bnumber\s+|\bno\.\s*|\bitem\s+)(\d{1,2})\b`)
	lastOneRe       = regexp.MustCompile(`\bthe\s+last\s+(?:one|document|file|doc|result|item)\b`)
	focusRe         = regexp.MustCompile(`\b(?:it|its|this one|that one|(?:this|that|the same|the above|the previous)\s+(?:one|document|file|doc|invoice|contract|report|letter))\b|\bthe previous one\b`)
)

// ResolveTarget finds ordinal references ("the second one", "#3") against the
// last listing, and focus references ("it", "that document") against the
// documents discussed most recently. Without either there is no bias.
func ResolveTarget(question string, focus domain.FocusState) domain.Target {
	lower := strings.ToLower(question)

	if n := ordinalOf(lower); n != 0 {
		t := domain.Target{Ordinal: n}
		switch {
		case n > 0 && n <= len(focus.ListedDocIDs):
			t.DocIDs = []string{focus.ListedDocIDs[n-1]}
		case n < 0 && len(focus.ListedDocIDs) > 0:
			t.DocIDs = []string{focus.ListedDocIDs[len(focus.ListedDocIDs)-1]}
		}
		return t
	}

	if focusRe.MatchString(lower) {
		recent := focus.DiscussedDocIDs
		if len(recent) == 0 && len(focus.ListedDocIDs) > 0 {
			recent = focus.ListedDocIDs[:1]
		}
		if len(recent) == 0 {
			return domain.Target{}
		}
		return domain.Target{UseFocus: true, DocIDs: append([]string(nil), recent...)}
	}
	return domain.Target{}
}

// ordinalOf returns the 1-based position referenced in text, -1 for "the last
// one", or 0.
func ordinalOf(lower string) int {
	if m := ordinalWordRe.FindStringSubmatch(lower); m != nil {
		return ordinalWords[m[1]]
	}
	if m := ordinalSuffixRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if m := ordinalNumberRe.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n
		}
	}
	if lastOneRe.MatchString(lower) {
		return -1
	}
	return 0
}
