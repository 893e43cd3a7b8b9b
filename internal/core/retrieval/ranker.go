// Package retrieval scores candidate documents against a query plan and
// selects diverse evidence chunks for synthesis.
package retrieval

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

const (
	titleWeight    = 3.5
	contentWeight  = 1.5
	senderWeight   = 1.2
	receiverWeight = 1.0
	categoryWeight = 1.0
	tagWeight      = 0.8
	boostFactor    = 0.5

	maxRecencyBoost = 1.5
	recencyDecay    = 0.25
)

var entityBoosts = map[domain.EntityKind]float64{
	domain.EntityPerson:       2.0,
	domain.EntityOrganization: 1.8,
	domain.EntityEmail:        2.0,
	domain.EntityCategory:     1.2,
}

type RankerOption func(*Ranker)

func WithNow(now func() time.Time) RankerOption {
	return func(r *Ranker) {
		if now != nil {
			r.now = now
		}
	}
}

// WithTypeCanonicalizer maps document types and type filters onto a shared
// vocabulary before they are compared.
func WithTypeCanonicalizer(canonical func(string) string) RankerOption {
	return func(r *Ranker) {
		if canonical != nil {
			r.canonical = canonical
		}
	}
}

type Ranker struct {
	now       func() time.Time
	canonical func(string) string
}

func NewRanker(opts ...RankerOption) *Ranker {
	r := &Ranker{
		now: time.Now,
		canonical: func(v string) string {
			return strings.ToLower(strings.TrimSpace(v))
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Similarity smooths an accumulated match score into [0, 1).
func Similarity(score float64) float64 {
	if score <= 0 || math.IsNaN(score) {
		return 0
	}
	return 1 - 1/(1+score)
}

// indexedDoc keeps each searchable field as a padded token string so phrase
// lookups are plain substring checks on token boundaries.
type indexedDoc struct {
	title    string
	content  string
	sender   string
	receiver string
	category string
	tags     string
}

func indexDocument(doc domain.Document) indexedDoc {
	return indexedDoc{
		title:    padTokens(doc.Title),
		content:  padTokens(doc.Content),
		sender:   padTokens(doc.Metadata.Sender),
		receiver: padTokens(doc.Metadata.Receiver),
		category: padTokens(doc.Metadata.Category),
		tags:     padTokens(strings.Join(doc.Metadata.Tags, " ")),
	}
}

func padTokens(s string) string {
	tokens := textutil.Tokenize(s)
	if len(tokens) == 0 {
		return ""
	}
	return " " + strings.Join(tokens, " ") + " "
}

func hasPhrase(field, needle string) bool {
	return field != "" && needle != "" && strings.Contains(field, needle)
}

// Score is the weighted lexical, metadata, entity and recency score of doc.
// It never goes below zero.
func (r *Ranker) Score(doc domain.Document, plan domain.QueryPlan) float64 {
	idx := indexDocument(doc)
	score := 0.0

	for _, term := range plan.Terms {
		score += idx.termScore(padTokens(term))
	}
	for _, term := range plan.BoostTerms {
		score += boostFactor * idx.termScore(padTokens(term))
	}

	for _, ent := range plan.Entities {
		boost, ok := entityBoosts[ent.Kind]
		if !ok {
			continue
		}
		needle := padTokens(ent.Value)
		if hasPhrase(idx.title, needle) || hasPhrase(idx.content, needle) ||
			hasPhrase(idx.sender, needle) || hasPhrase(idx.receiver, needle) ||
			(ent.Kind == domain.EntityCategory && hasPhrase(idx.category, needle)) {
			score += boost
		}
	}

	score += r.recency(doc.EffectiveDate())
	return math.Max(0, score)
}

func (idx indexedDoc) termScore(needle string) float64 {
	if needle == "" {
		return 0
	}
	var s float64
	if hasPhrase(idx.title, needle) {
		s += titleWeight
	}
	if hasPhrase(idx.content, needle) {
		s += contentWeight
	}
	if hasPhrase(idx.sender, needle) {
		s += senderWeight
	}
	if hasPhrase(idx.receiver, needle) {
		s += receiverWeight
	}
	if hasPhrase(idx.category, needle) {
		s += categoryWeight
	}
	if hasPhrase(idx.tags, needle) {
		s += tagWeight
	}
	return s
}

func (r *Ranker) recency(date time.Time) float64 {
	if date.IsZero() {
		return 0
	}
	ageDays := r.now().Sub(date).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Max(0, maxRecencyBoost-recencyDecay*math.Log1p(ageDays))
}

// Admit applies the hard filters of plan to doc.
func (r *Ranker) Admit(doc domain.Document, plan domain.QueryPlan) bool {
	if plan.Sender != nil && !textutil.ContainsPhrase(doc.Metadata.Sender, *plan.Sender) {
		return false
	}
	if plan.Receiver != nil && !textutil.ContainsPhrase(doc.Metadata.Receiver, *plan.Receiver) {
		return false
	}
	if len(plan.CategoryFilters) > 0 && !matchesAny(doc.Metadata.Category, plan.CategoryFilters, nil) {
		return false
	}
	if len(plan.TypeFilters) > 0 && !matchesAny(doc.Type, plan.TypeFilters, r.canonical) {
		return false
	}
	if plan.DateRange != nil {
		date := doc.EffectiveDate()
		if date.IsZero() || !plan.DateRange.Contains(date) {
			return false
		}
	}
	return true
}

func matchesAny(value string, filters []string, canonical func(string) string) bool {
	if strings.TrimSpace(value) == "" {
		return false
	}
	for _, f := range filters {
		if strings.EqualFold(strings.TrimSpace(value), f) || textutil.ContainsPhrase(value, f) {
			return true
		}
		if canonical != nil && canonical(value) == canonical(f) {
			return true
		}
	}
	return false
}

// Rank filters, scores and orders docs. The order is total: similarity
// descending, then more recent date, then ID ascending.
func (r *Ranker) Rank(docs []domain.Document, plan domain.QueryPlan, limit int) []domain.CandidateDocument {
	out := make([]domain.CandidateDocument, 0, len(docs))
	for _, doc := range docs {
		if !r.Admit(doc, plan) {
			continue
		}
		score := r.Score(doc, plan)
		out = append(out, domain.CandidateDocument{
			Document:   doc,
			Score:      score,
			Similarity: Similarity(score),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		di, dj := out[i].EffectiveDate(), out[j].EffectiveDate()
		if !di.Equal(dj) {
			return di.After(dj)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
