package retrieval

import (
	"math"
	"sort"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

const (
	DefaultEvidenceSize = 6
	DefaultMMRLambda    = 0.7
	diversityWindow     = 60
)

// SelectMMR picks up to k chunks maximizing
// lambda*relevance - (1-lambda)*max similarity to the chunks already picked.
// Relevance is the chunk similarity; inter-chunk similarity is Jaccard over
// the leading tokens of each chunk.
func SelectMMR(chunks []domain.Chunk, k int, lambda float64) []domain.Chunk {
	if k <= 0 {
		k = DefaultEvidenceSize
	}
	if lambda < 0 || lambda > 1 || math.IsNaN(lambda) {
		lambda = DefaultMMRLambda
	}
	if len(chunks) == 0 {
		return nil
	}

	pool := make([]domain.Chunk, len(chunks))
	copy(pool, chunks)
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Similarity != pool[j].Similarity {
			return pool[i].Similarity > pool[j].Similarity
		}
		return pool[i].Index < pool[j].Index
	})

	heads := make([]map[string]struct{}, len(pool))
	for i, c := range pool {
		heads[i] = textutil.HeadTokens(c.Content, diversityWindow)
	}

	picked := make([]bool, len(pool))
	selected := make([]int, 0, k)
	for len(selected) < k && len(selected) < len(pool) {
		best := -1
		bestScore := math.Inf(-1)
		for i := range pool {
			if picked[i] {
				continue
			}
			redundancy := 0.0
			for _, s := range selected {
				if sim := textutil.Jaccard(heads[i], heads[s]); sim > redundancy {
					redundancy = sim
				}
			}
			score := lambda*pool[i].Similarity - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}
		picked[best] = true
		selected = append(selected, best)
	}

	out := make([]domain.Chunk, 0, len(selected))
	for _, i := range selected {
		out = append(out, pool[i])
	}
	return out
}

// EvidenceFor builds the evidence set of doc from the chunks that belong to it.
func EvidenceFor(doc domain.Document, chunks []domain.Chunk, k int, lambda float64) domain.EvidenceSet {
	own := make([]domain.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if c.DocID == doc.ID {
			own = append(own, c)
		}
	}
	return domain.EvidenceSet{Document: doc, Chunks: SelectMMR(own, k, lambda)}
}
