package domain

import (
	"strings"
	"time"
)

// DateRange is an inclusive range of calendar days.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, r.Start.Location())
	return !day.Before(r.Start) && !day.After(r.End)
}

type EntityKind string

const (
	EntityPerson       EntityKind = "person"
	EntityOrganization EntityKind = "organization"
	EntityEmail        EntityKind = "email"
	EntityCategory     EntityKind = "category"
	EntityType         EntityKind = "type"
)

type Entity struct {
	Kind  EntityKind `json:"kind"`
	Value string     `json:"value"`
}

// QueryPlan constrains and boosts retrieval. Slice fields behave as sets.
type QueryPlan struct {
	Terms           []string   `json:"terms"`
	BoostTerms      []string   `json:"boost_terms"`
	TypeFilters     []string   `json:"type_filters"`
	CategoryFilters []string   `json:"category_filters"`
	DateRange       *DateRange `json:"date_range,omitempty"`
	Sender          *string    `json:"sender,omitempty"`
	Receiver        *string    `json:"receiver,omitempty"`
	Entities        []Entity   `json:"entities"`
}

func (p *QueryPlan) AddTerms(values ...string) {
	p.Terms = appendUnique(p.Terms, values...)
}

func (p *QueryPlan) AddBoostTerms(values ...string) {
	p.BoostTerms = appendUnique(p.BoostTerms, values...)
}

func (p *QueryPlan) AddTypeFilters(values ...string) {
	p.TypeFilters = appendUnique(p.TypeFilters, values...)
}

func (p *QueryPlan) AddCategoryFilters(values ...string) {
	p.CategoryFilters = appendUnique(p.CategoryFilters, values...)
}

func (p *QueryPlan) AddEntity(e Entity) {
	value := strings.TrimSpace(e.Value)
	if value == "" {
		return
	}
	for _, existing := range p.Entities {
		if existing.Kind == e.Kind && strings.EqualFold(existing.Value, value) {
			return
		}
	}
	p.Entities = append(p.Entities, Entity{Kind: e.Kind, Value: value})
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		found := false
		for _, existing := range dst {
			if existing == v {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, v)
		}
	}
	return dst
}

// EvidenceSet is the diversity-selected chunks given to synthesis for one document.
type EvidenceSet struct {
	Document Document `json:"document"`
	Chunks   []Chunk  `json:"chunks"`
}

func (e EvidenceSet) AverageSimilarity() float64 {
	if len(e.Chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range e.Chunks {
		sum += c.Similarity
	}
	return sum / float64(len(e.Chunks))
}

type Citation struct {
	DocID   string `json:"doc_id"`
	DocName string `json:"doc_name"`
	Snippet string `json:"snippet"`
	Page    *int   `json:"page,omitempty"`
}

type Outcome string

const (
	OutcomeAnswered             Outcome = "answered"
	OutcomeInsufficientEvidence Outcome = "insufficient_evidence"
	OutcomeNotFound             Outcome = "not_found"
	OutcomeClarification        Outcome = "clarification"
	OutcomeDegraded             Outcome = "degraded"
)

type SynthesisResult struct {
	DocID      string     `json:"doc_id,omitempty"`
	Answer     string     `json:"answer"`
	Citations  []Citation `json:"citations"`
	Coverage   float64    `json:"coverage"`
	Confidence float64    `json:"confidence"`
	Outcome    Outcome    `json:"outcome"`
}

// Usable reports whether the result carries a grounded answer worth merging.
func (r SynthesisResult) Usable() bool {
	return r.Outcome == OutcomeAnswered || r.Outcome == OutcomeDegraded
}
