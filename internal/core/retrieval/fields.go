package retrieval

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
)

type FieldKind string

const (
	FieldCount      FieldKind = "count"
	FieldIdentifier FieldKind = "identifier"
	FieldDate       FieldKind = "date"
	FieldName       FieldKind = "name"
)

// FieldRequest describes a single value a question asks for.
type FieldRequest struct {
	Kind  FieldKind
	Label string
}

// FieldMatch is the first value found for a request and where it was found.
type FieldMatch struct {
	Request FieldRequest
	Value   string
	Chunk   domain.Chunk
}

var spelledNumbers = map[string]int{
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13,
	"fourteen": 14, "fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "hundred": 100,
}

var (
	identifierLabels = `fir|invoice|policy|case|reference|ref|account|order|receipt|po|contract|claim|permit|license|licence|registration|certificate`
	roleLabels       = `inspector|officer|complainant|applicant|sender|recipient|signatory|author|manager|witness|accused|tenant|landlord|candidate|director|auditor|approver|issuer|customer|vendor|supplier`
	monthNames       = `jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|jun(?:e)?|jul(?:y)?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?`

	howManyRe       = regexp.MustCompile(`(?i)\bhow many\s+([a-z]+)`)
	identifierAskRe = regexp.MustCompile(`(?i)\b(` + identifierLabels + `)\s*(?:no\.?|number|num|#|id)\b`)
	dateAskRe       = regexp.MustCompile(`(?i)\b(?:(?:what|which)\s+(?:is|was)\s+the\s+date(?:\s+of\s+(?:the\s+)?([a-z]+))?|when\s+(?:was|is|did)\b|date\s+of\s+(?:the\s+)?([a-z]+))`)
	nameAskRe       = regexp.MustCompile(`(?i)\b(?:who\s+(?:is|was)\s+the|name\s+of\s+the)\s+(` + roleLabels + `)\b`)

	countWords  = `\d+|` + spelledAlternation()
	dateValueRe = regexp.MustCompile(`(?i)\b(\d{4}-\d{2}-\d{2}|\d{1,2}[/.\-]\d{1,2}[/.\-]\d{2,4}|\d{1,2}(?:st|nd|rd|th)?\s+(?:` + monthNames + `)\.?,?\s+\d{4}|(?:` + monthNames + `)\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4})\b`)
)

func spelledAlternation() string {
	words := make([]string, 0, len(spelledNumbers))
	for w := range spelledNumbers {
		words = append(words, w)
	}
	// Longer words first so "fourteen" is not read as "four".
	sort.Slice(words, func(i, j int) bool {
		if len(words[i]) != len(words[j]) {
			return len(words[i]) > len(words[j])
		}
		return words[i] < words[j]
	})
	return strings.Join(words, "|")
}

// DetectFieldRequest recognizes questions asking for one count, labeled
// identifier, date or role name.
func DetectFieldRequest(question string) (FieldRequest, bool) {
	if m := howManyRe.FindStringSubmatch(question); m != nil {
		return FieldRequest{Kind: FieldCount, Label: singular(strings.ToLower(m[1]))}, true
	}
	if m := identifierAskRe.FindStringSubmatch(question); m != nil {
		return FieldRequest{Kind: FieldIdentifier, Label: strings.ToLower(m[1])}, true
	}
	if m := nameAskRe.FindStringSubmatch(question); m != nil {
		return FieldRequest{Kind: FieldName, Label: strings.ToLower(m[1])}, true
	}
	if m := dateAskRe.FindStringSubmatch(question); m != nil {
		label := m[1]
		if label == "" {
			label = m[2]
		}
		return FieldRequest{Kind: FieldDate, Label: strings.ToLower(label)}, true
	}
	return FieldRequest{}, false
}

// ExtractField scans chunks in order and returns the first value matching req.
func ExtractField(req FieldRequest, chunks []domain.Chunk) (FieldMatch, bool) {
	re := fieldPattern(req)
	if re == nil {
		return FieldMatch{}, false
	}

	// A labeled date is looked for near its label before anywhere else.
	if req.Kind == FieldDate && req.Label != "" {
		for _, c := range chunks {
			for _, line := range strings.Split(c.Content, "\n") {
				if !strings.Contains(strings.ToLower(line), req.Label) {
					continue
				}
				if v, ok := matchValue(req, re, line); ok {
					return FieldMatch{Request: req, Value: v, Chunk: c}, true
				}
			}
		}
	}

	for _, c := range chunks {
		if v, ok := matchValue(req, re, c.Content); ok {
			return FieldMatch{Request: req, Value: v, Chunk: c}, true
		}
	}
	return FieldMatch{}, false
}

func fieldPattern(req FieldRequest) *regexp.Regexp {
	label := regexp.QuoteMeta(req.Label)
	switch req.Kind {
	case FieldCount:
		if label == "" {
			return nil
		}
		return regexp.MustCompile(`(?i)\b(` + countWords + `)\s+(?:[a-z\-]+\s+)?` + pluralPattern(req.Label) + `\b`)
	case FieldIdentifier:
		if label == "" {
			return nil
		}
		return regexp.MustCompile(`(?i)\b` + label + `\.?\s*(?:no\.?|number|num|#|id)?\s*[:#\-]?\s*(?:is\s+|was\s+)?([A-Z0-9][A-Z0-9/\-]{1,})`)
	case FieldDate:
		return dateValueRe
	case FieldName:
		// Name words stay on one line so the next labeled line is not absorbed.
		if label == "" {
			return nil
		}
		return regexp.MustCompile(`\b(?i:` + label + `)(?:\s+(?i:name))?\s*[:\-]?\s*([A-Z][\w.'\-]*(?:[ \t]+[A-Z][\w.'\-]*){0,3})`)
	}
	return nil
}

func matchValue(req FieldRequest, re *regexp.Regexp, text string) (string, bool) {
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		v := strings.TrimSpace(m[1])
		switch req.Kind {
		case FieldCount:
			if n, ok := parseCount(v); ok {
				return strconv.Itoa(n), true
			}
		case FieldIdentifier:
			if strings.ContainsAny(v, "0123456789") {
				return strings.TrimRight(v, "-/"), true
			}
		default:
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func pluralPattern(noun string) string {
	if strings.HasSuffix(noun, "y") && len(noun) > 2 {
		return regexp.QuoteMeta(strings.TrimSuffix(noun, "y")) + `(?:y|ies)`
	}
	return regexp.QuoteMeta(noun) + `(?:s|es)?`
}

func parseCount(v string) (int, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		return n, true
	}
	n, ok := spelledNumbers[strings.ToLower(v)]
	return n, ok
}

func singular(noun string) string {
	switch {
	case strings.HasSuffix(noun, "ies") && len(noun) > 4:
		return strings.TrimSuffix(noun, "ies") + "y"
	case strings.HasSuffix(noun, "sses"), strings.HasSuffix(noun, "xes"), strings.HasSuffix(noun, "ches"):
		return strings.TrimSuffix(noun, "es")
	case strings.HasSuffix(noun, "s") && !strings.HasSuffix(noun, "ss"):
		return strings.TrimSuffix(noun, "s")
	}
	return noun
}

// Answer renders the match as a short sentence.
func (m FieldMatch) Answer() string {
	switch m.Request.Kind {
	case FieldCount:
		return "The document lists " + m.Value + " " + m.Request.Label + "(s)."
	case FieldIdentifier:
		return "The " + strings.ToUpper(m.Request.Label) + " number is " + m.Value + "."
	case FieldDate:
		if m.Request.Label != "" {
			return "The date of " + m.Request.Label + " is " + m.Value + "."
		}
		return "The date is " + m.Value + "."
	default:
		return "The " + m.Request.Label + " is " + m.Value + "."
	}
}
