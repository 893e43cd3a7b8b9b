package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/synthesis"
	"github.com/kirillkom/docqa/internal/core/textutil"
	"github.com/kirillkom/docqa/internal/core/verticals"
)

// Stored content stands in for chunks when a document has none indexed.
const (
	contentWindowRunes   = 1200
	contentWindowOverlap = 200
	contentWindows       = 2
)

type candidateSet struct {
	docs      []domain.CandidateDocument
	truncated bool
	fallback  string
	// plan is the plan the documents were admitted under, after relaxation.
	plan    domain.QueryPlan
	allowed []string
}

func (uc *QueryUseCase) plan(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) domain.QueryPlan {
	return uc.filters.BuildPlan(ctx, req.Question.Text, decision.RequiredEntities, req.Options.Filters)
}

// candidates loads the scope's documents that pass the metadata filter and
// ranks them. With relax set, a type filter that admits nothing is dropped.
func (uc *QueryUseCase) candidates(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision, plan domain.QueryPlan, relax bool) (candidateSet, error) {
	allowed, err := uc.allowedIDs(ctx, req, decision)
	if err != nil {
		return candidateSet{}, err
	}

	docs, err := uc.metadata.Search(ctx, req.Scope.OrgID, metadataFilter(req.Scope, plan, allowed), uc.limits.CandidateLimit)
	if err != nil {
		return candidateSet{}, fmt.Errorf("search metadata: %w", err)
	}

	ranked := uc.ranker.Rank(docs, plan, 0)
	if len(ranked) == 0 && relax && len(plan.TypeFilters) > 0 && len(docs) > 0 {
		relaxed := plan
		relaxed.TypeFilters = nil
		ranked = uc.ranker.Rank(docs, relaxed, 0)
		uc.logger.Info("type_filter_relaxed", "type_filters", plan.TypeFilters, "documents", len(ranked))
		plan = relaxed
	}

	if v, ok := uc.vertical(req); ok {
		ranked = v.FilterRelevant(ranked)
		if len(ranked) == 0 {
			return candidateSet{fallback: v.FallbackMessage()}, nil
		}
	}
	return candidateSet{
		docs:      ranked,
		truncated: len(docs) >= uc.limits.CandidateLimit,
		plan:      plan,
		allowed:   allowed,
	}, nil
}

func (uc *QueryUseCase) vertical(req domain.QueryRequest) (verticals.Vertical, bool) {
	if req.Options.Vertical == "" {
		return nil, false
	}
	return uc.verticals.Lookup(req.Options.Vertical)
}

// allowedIDs pins retrieval to the scoped document (plus its links) or to the
// documents the question points back to.
func (uc *QueryUseCase) allowedIDs(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) ([]string, error) {
	if req.Scope.Scope == domain.ScopeDoc {
		ids := []string{req.Scope.DocID}
		if req.Scope.IncludeLinked {
			linked, err := uc.linkedIDs(ctx, req.Scope.OrgID, ids)
			if err != nil {
				return nil, err
			}
			ids = append(ids, linked...)
		}
		return ids, nil
	}
	if decision.Intent != domain.IntentList && decision.Intent != domain.IntentCount && len(decision.Target.DocIDs) > 0 {
		return decision.Target.DocIDs, nil
	}
	return nil, nil
}

// linkedIDs returns the documents linked to any of base, excluding base, in
// link order.
func (uc *QueryUseCase) linkedIDs(ctx context.Context, orgID string, base []string) ([]string, error) {
	if uc.links == nil || len(base) == 0 {
		return nil, nil
	}
	links, err := uc.links.LinksInvolving(ctx, orgID, base)
	if err != nil {
		return nil, fmt.Errorf("load document links: %w", err)
	}

	seen := make(map[string]struct{}, len(base)+len(links))
	for _, id := range base {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(links))
	for _, link := range links {
		for _, id := range []string{link.DocID, link.LinkedDocID} {
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out, nil
}

func metadataFilter(scope domain.ScopeContext, plan domain.QueryPlan, allowed []string) ports.MetadataFilter {
	filter := ports.MetadataFilter{AllowedIDs: allowed}
	if scope.Scope == domain.ScopeFolder {
		filter.FolderID = scope.FolderID
	}
	if scope.Scope == domain.ScopeDoc && len(allowed) > 0 {
		filter.IncludeVersions = scope.IncludeVersions
	}
	if plan.Sender != nil {
		filter.Sender = *plan.Sender
	}
	if plan.Receiver != nil {
		filter.Receiver = *plan.Receiver
	}
	// Several categories are an OR the ranker applies.
	if len(plan.CategoryFilters) == 1 {
		filter.Category = plan.CategoryFilters[0]
	}
	if plan.DateRange != nil {
		start, end := plan.DateRange.Start, plan.DateRange.End
		filter.DateStart = &start
		filter.DateEnd = &end
	}
	return filter
}

// retrieveChunks fuses vector matches with a keyword sweep over the top
// candidates. Documents reached only through vector matches join the
// candidates when they pass the same filters. The returned documents put
// those with retrieved evidence first.
func (uc *QueryUseCase) retrieveChunks(ctx context.Context, req domain.QueryRequest, set candidateSet) ([]domain.CandidateDocument, []domain.Chunk, error) {
	docs := set.docs
	if len(docs) > uc.limits.ChunkDocuments {
		docs = docs[:uc.limits.ChunkDocuments]
	}

	matched := uc.semanticChunks(ctx, req)
	docs, err := uc.withSemanticDocuments(ctx, req, set, docs, matched)
	if err != nil {
		return nil, nil, err
	}

	ids := candidateIDs(docs)
	allowed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		allowed[id] = struct{}{}
	}
	semantic := make([]domain.Chunk, 0, len(matched))
	for _, c := range matched {
		if _, ok := allowed[c.DocID]; ok {
			semantic = append(semantic, c)
		}
	}

	keywords := searchKeywords(set.plan)
	var lexical []domain.Chunk
	if len(keywords) > 0 {
		found, err := uc.keywords.SearchChunks(ctx, req.Scope.OrgID, ids, keywords, uc.limits.KeywordLimit)
		if err != nil {
			return nil, nil, fmt.Errorf("search chunks: %w", err)
		}
		lexical = retrieval.LexicalSimilarity(keywords, found)
	}

	titles := make(map[string]string, len(docs))
	for _, d := range docs {
		titles[d.ID] = d.Title
	}
	fused := retrieval.FuseRRF(semantic, lexical, uc.limits.RRFK)
	fused = retrieval.RerankChunks(req.Question.Text, fused, titles, uc.limits.RerankTopN)
	chunks := retrieval.Chunks(fused)

	docs = evidenceFirst(docs, chunks)
	if len(keywords) == 0 {
		keywords = textutil.Keywords(req.Question.Text)
	}
	return docs, withContentFallback(docs, chunks, keywords), nil
}

// semanticChunks returns the scope's vector matches, best first. Vector
// search is optional.
func (uc *QueryUseCase) semanticChunks(ctx context.Context, req domain.QueryRequest) []domain.Chunk {
	if uc.embedder == nil || uc.vectors == nil {
		return nil
	}
	vector, err := uc.embedder.EmbedQuery(ctx, req.Question.Text)
	if err != nil || len(vector) == 0 {
		uc.logger.Info("semantic_search_skipped", "error", err)
		return nil
	}
	matched, err := uc.vectors.MatchChunks(ctx, req.Scope.OrgID, vector, uc.limits.MatchCount, uc.limits.MatchThreshold)
	if err != nil {
		uc.logger.Warn("vector_search_failed", "error", err)
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Similarity > matched[j].Similarity
	})
	return matched
}

// withSemanticDocuments appends, in match order, the documents that vector
// matches point to but the lexical ranking left out. They are loaded under
// the candidate filters and admitted by the ranker, so scope, metadata and
// target pins still hold.
func (uc *QueryUseCase) withSemanticDocuments(ctx context.Context, req domain.QueryRequest, set candidateSet, docs []domain.CandidateDocument, matched []domain.Chunk) ([]domain.CandidateDocument, error) {
	if len(matched) == 0 {
		return docs, nil
	}

	present := make(map[string]struct{}, len(docs))
	for _, d := range docs {
		present[d.ID] = struct{}{}
	}
	var pinned map[string]struct{}
	if set.allowed != nil {
		pinned = make(map[string]struct{}, len(set.allowed))
		for _, id := range set.allowed {
			pinned[id] = struct{}{}
		}
	}

	missing := make([]string, 0, len(matched))
	for _, c := range matched {
		if _, ok := present[c.DocID]; ok || c.DocID == "" {
			continue
		}
		if pinned != nil {
			if _, ok := pinned[c.DocID]; !ok {
				continue
			}
		}
		present[c.DocID] = struct{}{}
		missing = append(missing, c.DocID)
		if len(missing) == uc.limits.ChunkDocuments {
			break
		}
	}
	if len(missing) == 0 {
		return docs, nil
	}

	loaded, err := uc.metadata.Search(ctx, req.Scope.OrgID, metadataFilter(req.Scope, set.plan, missing), len(missing))
	if err != nil {
		return nil, fmt.Errorf("search semantic documents: %w", err)
	}
	admitted := uc.ranker.Rank(loaded, set.plan, 0)
	if v, ok := uc.vertical(req); ok {
		admitted = v.FilterRelevant(admitted)
	}
	byID := make(map[string]domain.CandidateDocument, len(admitted))
	for _, d := range admitted {
		byID[d.ID] = d
	}

	out := make([]domain.CandidateDocument, 0, len(docs)+len(byID))
	out = append(out, docs...)
	for _, id := range missing {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	if added := len(out) - len(docs); added > 0 {
		uc.logger.Debug("semantic_documents_added", "documents", added)
	}
	return out, nil
}

// evidenceFirst moves documents with retrieved chunks ahead of the rest,
// keeping rank order within each group.
func evidenceFirst(docs []domain.CandidateDocument, chunks []domain.Chunk) []domain.CandidateDocument {
	has := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		has[c.DocID] = struct{}{}
	}
	out := make([]domain.CandidateDocument, 0, len(docs))
	for _, d := range docs {
		if _, ok := has[d.ID]; ok {
			out = append(out, d)
		}
	}
	for _, d := range docs {
		if _, ok := has[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out
}

// sweep is the broader keyword OR pass used before giving up on a field.
func (uc *QueryUseCase) sweep(ctx context.Context, req domain.QueryRequest, plan domain.QueryPlan, field retrieval.FieldRequest, docs []domain.CandidateDocument) ([]domain.Chunk, error) {
	keywords := searchKeywords(plan)
	keywords = appendKeyword(keywords, field.Label)
	switch field.Kind {
	case retrieval.FieldIdentifier:
		keywords = appendKeyword(keywords, "number")
	case retrieval.FieldDate:
		keywords = appendKeyword(keywords, "date")
	}
	if len(keywords) == 0 {
		return nil, nil
	}

	found, err := uc.keywords.SearchChunks(ctx, req.Scope.OrgID, candidateIDs(docs), keywords, uc.limits.SweepLimit)
	if err != nil {
		return nil, fmt.Errorf("sweep chunks: %w", err)
	}
	return retrieval.LexicalSimilarity(keywords, found), nil
}

func (uc *QueryUseCase) synthesize(ctx context.Context, req domain.QueryRequest, docs []domain.CandidateDocument, chunks []domain.Chunk) *domain.QueryResponse {
	sets := uc.evidenceSets(docs, chunks)
	res := uc.synthesizer.Synthesize(ctx, req.Question.Text, sets, synthesis.Options{StrictCitations: req.Options.StrictCitations})

	used := make([]domain.CandidateDocument, 0, len(sets))
	for _, set := range sets {
		for _, d := range docs {
			if d.ID == set.Document.ID {
				used = append(used, d)
				break
			}
		}
	}
	return fromSynthesis(res, used)
}

// evidenceSets builds one set per document in rank order, skipping documents
// without evidence, up to the synthesizer's document limit.
func (uc *QueryUseCase) evidenceSets(docs []domain.CandidateDocument, chunks []domain.Chunk) []domain.EvidenceSet {
	maxDocs := uc.synthesizer.Config().MaxDocuments
	sets := make([]domain.EvidenceSet, 0, maxDocs)
	for _, d := range docs {
		if len(sets) == maxDocs {
			break
		}
		set := retrieval.EvidenceFor(d.Document, chunks, uc.limits.EvidenceSize, uc.limits.MMRLambda)
		if len(set.Chunks) > 0 {
			sets = append(sets, set)
		}
	}
	return sets
}

func searchKeywords(plan domain.QueryPlan) []string {
	out := make([]string, 0, len(plan.Terms)+len(plan.BoostTerms))
	for _, kw := range plan.Terms {
		out = appendKeyword(out, kw)
	}
	for _, kw := range plan.BoostTerms {
		out = appendKeyword(out, kw)
	}
	return out
}

func appendKeyword(keywords []string, kw string) []string {
	kw = strings.ToLower(strings.TrimSpace(kw))
	if kw == "" {
		return keywords
	}
	for _, existing := range keywords {
		if existing == kw {
			return keywords
		}
	}
	return append(keywords, kw)
}

// withContentFallback adds the best content windows of documents that have
// no retrieved chunk.
func withContentFallback(docs []domain.CandidateDocument, chunks []domain.Chunk, keywords []string) []domain.Chunk {
	covered := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		covered[c.DocID] = struct{}{}
	}
	query := textutil.TokenSet(keywords)
	for _, d := range docs {
		if _, ok := covered[d.ID]; ok {
			continue
		}
		windows := textutil.Windows(d.Content, contentWindowRunes, contentWindowOverlap)
		if len(windows) == 0 {
			continue
		}
		picked := make([]domain.Chunk, 0, len(windows))
		overlap := make(map[int]float64, len(windows))
		for i, w := range windows {
			overlap[i] = textutil.Overlap(query, textutil.TokenSet(textutil.Tokenize(w)))
			picked = append(picked, domain.Chunk{DocID: d.ID, Index: i, Content: w, Similarity: d.Similarity})
		}
		sort.SliceStable(picked, func(i, j int) bool {
			return overlap[picked[i].Index] > overlap[picked[j].Index]
		})
		if len(picked) > contentWindows {
			picked = picked[:contentWindows]
		}
		chunks = append(chunks, picked...)
	}
	return chunks
}
