package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

// FusedChunk is a chunk with its reciprocal-rank fusion score.
type FusedChunk struct {
	domain.Chunk
	Score float64
}

// FuseRRF merges semantic and lexical chunk lists by reciprocal rank.
func FuseRRF(semantic, lexical []domain.Chunk, rrfK int) []FusedChunk {
	if rrfK <= 0 {
		rrfK = 60
	}

	acc := make(map[string]FusedChunk, len(semantic)+len(lexical))
	addList := func(chunks []domain.Chunk) {
		for rank, chunk := range chunks {
			key := chunkKey(chunk)
			candidate := acc[key]
			candidate.Chunk = preferRicherChunk(candidate.Chunk, chunk)
			candidate.Score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(semantic)
	addList(lexical)

	out := make([]FusedChunk, 0, len(acc))
	for _, c := range acc {
		out = append(out, c)
	}
	sortFused(out)
	return out
}

// RerankChunks rescores the top N fused chunks by blending normalized fusion
// score, question token overlap and a title hit.
func RerankChunks(question string, fused []FusedChunk, titles map[string]string, topN int) []FusedChunk {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]FusedChunk, topN)
	copy(head, fused[:topN])
	queryTokens := textutil.TokenSet(textutil.Keywords(question))

	minScore := head[0].Score
	maxScore := head[0].Score
	for _, chunk := range head[1:] {
		if chunk.Score < minScore {
			minScore = chunk.Score
		}
		if chunk.Score > maxScore {
			maxScore = chunk.Score
		}
	}

	rangeScore := maxScore - minScore
	normalize := func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}

	for i := range head {
		normalizedFused := normalize(head[i].Score)
		overlap := textutil.Overlap(queryTokens, textutil.TokenSet(textutil.Tokenize(head[i].Content)))
		titleBoost := titleTokenHit(queryTokens, titles[head[i].DocID])
		head[i].Score = 0.60*normalizedFused + 0.30*overlap + 0.10*titleBoost
	}
	sortFused(head)

	if topN == len(fused) {
		return head
	}
	out := make([]FusedChunk, 0, len(fused))
	out = append(out, head...)
	out = append(out, fused[topN:]...)
	return out
}

// Chunks unwraps fused chunks in their current order.
func Chunks(fused []FusedChunk) []domain.Chunk {
	out := make([]domain.Chunk, 0, len(fused))
	for _, f := range fused {
		out = append(out, f.Chunk)
	}
	return out
}

// LexicalSimilarity fills in a similarity for chunks that came from keyword
// search only, as the share of keywords they contain.
func LexicalSimilarity(keywords []string, chunks []domain.Chunk) []domain.Chunk {
	query := textutil.TokenSet(keywords)
	out := make([]domain.Chunk, len(chunks))
	for i, c := range chunks {
		if c.Similarity <= 0 {
			c.Similarity = textutil.Overlap(query, textutil.TokenSet(textutil.Tokenize(c.Content)))
		}
		out[i] = c
	}
	return out
}

func sortFused(chunks []FusedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		if chunks[i].DocID != chunks[j].DocID {
			return chunks[i].DocID < chunks[j].DocID
		}
		return chunks[i].Index < chunks[j].Index
	})
}

func chunkKey(chunk domain.Chunk) string {
	if chunk.DocID != "" && chunk.Index >= 0 {
		return fmt.Sprintf("%s:%d", chunk.DocID, chunk.Index)
	}
	return fmt.Sprintf("%s|%s", chunk.DocID, chunk.Content)
}

func preferRicherChunk(current, candidate domain.Chunk) domain.Chunk {
	if current.DocID == "" && current.Content == "" {
		return candidate
	}
	if current.Content == "" && candidate.Content != "" {
		current.Content = candidate.Content
	}
	if current.Page == nil && candidate.Page != nil {
		current.Page = candidate.Page
	}
	if candidate.Similarity > current.Similarity {
		current.Similarity = candidate.Similarity
	}
	return current
}

func titleTokenHit(query map[string]struct{}, title string) float64 {
	if len(query) == 0 || title == "" {
		return 0
	}
	title = strings.ToLower(title)
	for token := range query {
		if token != "" && strings.Contains(title, token) {
			return 1
		}
	}
	return 0
}
