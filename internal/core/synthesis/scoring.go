package synthesis

import (
	"math"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

// Words the answer prompts themselves put into answers. They say nothing
// about grounding.
var coverageIgnore = map[string]bool{
	"stated": true, "observed": true, "mentioned": true, "provided": true,
	"excerpt": true, "excerpts": true, "according": true, "based": true,
}

// Coverage is the share of the answer's informative keywords that occur in the
// evidence text.
func Coverage(answer string, evidence []string) float64 {
	keywords := make([]string, 0, 16)
	for _, kw := range textutil.Keywords(answer) {
		if !coverageIgnore[kw] {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return 0
	}

	source := textutil.TokenSet(textutil.Tokenize(strings.Join(evidence, "\n")))
	found := 0
	for _, kw := range keywords {
		if _, ok := source[kw]; ok {
			found++
		}
	}
	return float64(found) / float64(len(keywords))
}

// Confidence blends grounding with evidence quality.
func (c Config) Confidence(coverage, avgSimilarity float64) float64 {
	return clamp01(c.CoverageWeight*coverage + c.SimilarityWeight*math.Min(1, avgSimilarity))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// citeChunks returns a citation for every evidence chunk the answer draws on,
// in evidence order.
func citeChunks(answer string, ev domain.EvidenceSet, snippetChars int) []domain.Citation {
	answerTokens := textutil.TokenSet(textutil.Keywords(answer))
	citations := make([]domain.Citation, 0, len(ev.Chunks))
	for _, c := range ev.Chunks {
		chunkTokens := textutil.TokenSet(textutil.Keywords(c.Content))
		if textutil.Overlap(answerTokens, chunkTokens) == 0 {
			continue
		}
		citations = append(citations, citationFor(ev.Document, c, snippetChars))
	}
	return citations
}

func citationFor(doc domain.Document, c domain.Chunk, snippetChars int) domain.Citation {
	return domain.Citation{
		DocID:   doc.ID,
		DocName: doc.Title,
		Snippet: snippet(c.Content, snippetChars),
		Page:    c.Page,
	}
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := strings.LastIndexByte(s[:limit], ' ')
	if cut <= 0 {
		cut = limit
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
