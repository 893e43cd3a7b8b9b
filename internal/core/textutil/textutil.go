// Package textutil holds the lexical heuristics shared by routing, retrieval
// and synthesis.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/kirillkom/docqa/internal/core/domain"
)

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "were": true, "to": true, "of": true, "and": true, "or": true,
	"in": true, "that": true, "have": true, "has": true, "had": true, "it": true,
	"its": true, "for": true, "not": true, "on": true, "with": true, "as": true,
	"you": true, "do": true, "does": true, "did": true, "at": true, "this": true,
	"these": true, "those": true, "but": true, "by": true, "from": true, "what": true,
	"which": true, "who": true, "whom": true, "when": true, "where": true, "why": true,
	"how": true, "my": true, "your": true, "our": true, "i": true, "me": true,
	"we": true, "they": true, "them": true, "there": true, "their": true, "any": true,
	"all": true, "can": true, "could": true, "would": true, "should": true, "will": true,
	"please": true, "about": true, "into": true, "than": true, "then": true, "so": true,
	"if": true, "no": true, "yes": true, "tell": true, "show": true, "give": true,
	"find": true, "get": true, "list": true, "document": true, "documents": true,
	"file": true, "files": true, "doc": true, "docs": true,
}

// IsStopWord reports whether token carries no retrieval signal.
func IsStopWord(token string) bool {
	return stopWords[strings.ToLower(token)]
}

// Tokenize lowercases s and splits it on anything that is not a letter or digit.
func Tokenize(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}

// Keywords are the informative tokens of s, deduplicated in first-seen order.
func Keywords(s string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, 8)
	for _, token := range Tokenize(s) {
		if len([]rune(token)) < 3 || stopWords[token] {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

func TokenSet(tokens []string) map[string]struct{} {
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// HeadTokens returns the token set of the first n tokens of s.
func HeadTokens(s string, n int) map[string]struct{} {
	tokens := Tokenize(s)
	if n > 0 && len(tokens) > n {
		tokens = tokens[:n]
	}
	return TokenSet(tokens)
}

func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for token := range small {
		if _, ok := large[token]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Overlap is the fraction of query tokens present in doc.
func Overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 || len(doc) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := doc[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

// ContainsPhrase is a case-insensitive substring check on token boundaries.
func ContainsPhrase(text, phrase string) bool {
	phrase = strings.TrimSpace(strings.ToLower(phrase))
	if phrase == "" || text == "" {
		return false
	}
	haystack := " " + strings.Join(Tokenize(text), " ") + " "
	needle := " " + strings.Join(Tokenize(phrase), " ") + " "
	return strings.Contains(haystack, needle)
}

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	quotedRe  = regexp.MustCompile(`"([^"]{2,80})"`)
	wordRe    = regexp.MustCompile(`[A-Za-z][A-Za-z'&.\-]*`)
	orgSuffix = map[string]bool{
		"inc": true, "inc.": true, "llc": true, "ltd": true, "ltd.": true, "corp": true,
		"corp.": true, "corporation": true, "company": true, "co": true, "co.": true,
		"gmbh": true, "bank": true, "group": true, "plc": true, "associates": true,
		"partners": true, "agency": true, "department": true, "ministry": true,
	}
	notNames = map[string]bool{
		"january": true, "february": true, "march": true, "april": true, "may": true,
		"june": true, "july": true, "august": true, "september": true, "october": true,
		"november": true, "december": true, "monday": true, "tuesday": true,
		"wednesday": true, "thursday": true, "friday": true, "saturday": true, "sunday": true,
		"i": true, "pdf": true, "fir": true,
	}
)

// ExtractEntities finds emails, quoted phrases and capitalized names in a
// question. Capitalized runs of two or three words become people unless they
// end in an organization suffix; single capitalized words become organizations.
func ExtractEntities(question string) []domain.Entity {
	var out []domain.Entity
	seen := make(map[string]bool)
	add := func(kind domain.EntityKind, value string) {
		value = strings.TrimSpace(strings.Trim(value, ".,;:!?"))
		key := string(kind) + "|" + strings.ToLower(value)
		if value == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, domain.Entity{Kind: kind, Value: value})
	}

	for _, email := range emailRe.FindAllString(question, -1) {
		add(domain.EntityEmail, email)
	}
	withoutEmails := emailRe.ReplaceAllString(question, " ")

	for _, m := range quotedRe.FindAllStringSubmatch(withoutEmails, -1) {
		add(domain.EntityOrganization, m[1])
	}
	withoutQuotes := quotedRe.ReplaceAllString(withoutEmails, " ")

	for _, sentence := range splitSentences(withoutQuotes) {
		words := wordRe.FindAllString(sentence, -1)
		var run []string
		flush := func() {
			defer func() { run = nil }()
			if len(run) == 0 {
				return
			}
			last := strings.ToLower(run[len(run)-1])
			switch {
			case orgSuffix[last]:
				add(domain.EntityOrganization, strings.Join(run, " "))
			case len(run) >= 2 && len(run) <= 3:
				add(domain.EntityPerson, strings.Join(run, " "))
			case len(run) == 1:
				add(domain.EntityOrganization, run[0])
			default:
				add(domain.EntityOrganization, strings.Join(run, " "))
			}
		}
		for i, w := range words {
			lower := strings.ToLower(w)
			capitalized := unicode.IsUpper([]rune(w)[0])
			// Sentence-initial words are capitalized by grammar, not by name.
			if i == 0 || !capitalized || notNames[lower] || stopWords[lower] {
				if len(run) > 0 && capitalized && orgSuffix[lower] {
					run = append(run, w)
					continue
				}
				flush()
				continue
			}
			run = append(run, w)
		}
		flush()
	}
	return out
}

func splitSentences(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '.' || r == '?' || r == '!' || r == '\n' || r == ';'
	})
}
