package filters

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docqa/internal/core/textutil"
)

// SynonymTable maps a canonical document type to its surface forms.
type SynonymTable map[string][]string

func DefaultSynonyms() SynonymTable {
	return SynonymTable{
		"inspection":     {"inspection", "inspections", "audit", "survey", "site visit", "assessment", "checklist"},
		"invoice":        {"invoice", "invoices", "bill", "bills", "receipt", "receipts", "billing", "statement of account"},
		"legal":          {"legal", "contract", "contracts", "agreement", "agreements", "nda", "lease", "affidavit", "legal notice", "court order"},
		"financial":      {"financial", "finance", "balance sheet", "budget", "p&l", "profit and loss", "tax", "ledger", "bank statement"},
		"report":         {"report", "reports", "memo", "minutes", "findings"},
		"resume":         {"resume", "resumes", "cv", "curriculum vitae", "candidate", "applicant"},
		"compliance":     {"compliance", "policy", "policies", "certificate", "certification", "license", "permit", "regulation"},
		"correspondence": {"letter", "letters", "correspondence", "cover letter"},
	}
}

// LoadSynonyms merges a YAML file of the same shape over the defaults.
func LoadSynonyms(path string) (SynonymTable, error) {
	table := DefaultSynonyms()
	if strings.TrimSpace(path) == "" {
		return table, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read synonyms file: %w", err)
	}
	var extra map[string][]string
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return nil, fmt.Errorf("parse synonyms file: %w", err)
	}
	for canonical, words := range extra {
		key := strings.ToLower(strings.TrimSpace(canonical))
		if key == "" {
			continue
		}
		merged := append([]string{key}, table[key]...)
		for _, w := range words {
			merged = append(merged, strings.ToLower(strings.TrimSpace(w)))
		}
		table[key] = dedupe(merged)
	}
	return table, nil
}

// Match returns the canonical types whose synonyms occur in text, sorted.
func (t SynonymTable) Match(text string) []string {
	var out []string
	for canonical, words := range t {
		if textutil.ContainsPhrase(text, canonical) {
			out = append(out, canonical)
			continue
		}
		for _, w := range words {
			if textutil.ContainsPhrase(text, w) {
				out = append(out, canonical)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// Canonical maps a document type to its canonical form, or returns the
// lowercased input when no group claims it.
func (t SynonymTable) Canonical(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	if _, ok := t[v]; ok {
		return v
	}
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, canonical := range keys {
		for _, w := range t[canonical] {
			if w == v {
				return canonical
			}
		}
	}
	return v
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
