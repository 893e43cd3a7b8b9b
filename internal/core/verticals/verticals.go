// Package verticals narrows candidate documents to a business vertical.
package verticals

import (
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

// Vertical keeps the documents relevant to one line of business.
type Vertical interface {
	FilterRelevant(docs []domain.CandidateDocument) []domain.CandidateDocument
	FallbackMessage() string
}

type keywordVertical struct {
	keywords []string
	fallback string
}

func (v keywordVertical) FilterRelevant(docs []domain.CandidateDocument) []domain.CandidateDocument {
	out := make([]domain.CandidateDocument, 0, len(docs))
	for _, d := range docs {
		if v.relevant(d.Document) {
			out = append(out, d)
		}
	}
	return out
}

func (v keywordVertical) FallbackMessage() string {
	return v.fallback
}

func (v keywordVertical) relevant(doc domain.Document) bool {
	fields := []string{doc.Title, doc.Type, doc.Metadata.Category, strings.Join(doc.Metadata.Tags, " "), doc.Content}
	for _, field := range fields {
		for _, kw := range v.keywords {
			if textutil.ContainsPhrase(field, kw) {
				return true
			}
		}
	}
	return false
}

type Registry map[string]Vertical

func DefaultRegistry() Registry {
	return Registry{
		"financial": keywordVertical{
			keywords: []string{"invoice", "receipt", "budget", "balance sheet", "ledger", "tax", "payment", "revenue", "expense", "bank statement", "profit", "loss"},
			fallback: "No financial documents in this scope match the question. Try naming an invoice, statement or period.",
		},
		"legal": keywordVertical{
			keywords: []string{"contract", "agreement", "clause", "nda", "lease", "affidavit", "court", "legal notice", "party", "parties", "liability", "fir"},
			fallback: "No legal documents in this scope match the question. Try naming the contract, party or clause.",
		},
		"resume": keywordVertical{
			keywords: []string{"resume", "cv", "curriculum vitae", "candidate", "experience", "education", "skills", "employment history"},
			fallback: "No resumes in this scope match the question. Try naming the candidate, role or skill.",
		},
		"compliance": keywordVertical{
			keywords: []string{"compliance", "policy", "regulation", "certificate", "certification", "license", "permit", "audit", "inspection", "violation"},
			fallback: "No compliance documents in this scope match the question. Try naming the policy, permit or audit.",
		},
	}
}

// Lookup returns the vertical registered under key, case-insensitively.
func (r Registry) Lookup(key string) (Vertical, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return nil, false
	}
	v, ok := r[key]
	return v, ok
}
