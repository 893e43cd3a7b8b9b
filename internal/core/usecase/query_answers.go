package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/synthesis"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

const (
	casualFallback   = "Hi! Ask me about the documents in this workspace, for example \"list invoices from last month\"."
	noDocuments      = "No documents in this scope match the request."
	noLinkedDocs     = "No linked documents were found for %s."
	linkClarifyQuery = "Which document should I look up linked documents for?"
)

func (uc *QueryUseCase) answerContent(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	plan := uc.plan(ctx, req, decision)
	set, err := uc.candidates(ctx, req, decision, plan, true)
	if err != nil {
		return nil, err
	}
	if set.fallback != "" {
		return notFoundResponse(set.fallback), nil
	}
	if len(set.docs) == 0 {
		return fromSynthesis(synthesis.NotFound(), nil), nil
	}

	docs, chunks, err := uc.retrieveChunks(ctx, req, set)
	if err != nil {
		return nil, err
	}
	return uc.synthesize(ctx, req, docs, chunks), nil
}

func (uc *QueryUseCase) answerList(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	plan := uc.plan(ctx, req, decision)
	set, err := uc.candidates(ctx, req, decision, plan, false)
	if err != nil {
		return nil, err
	}
	if set.fallback != "" {
		return notFoundResponse(set.fallback), nil
	}

	limit := req.Options.Limit
	if limit <= 0 {
		limit = uc.limits.ListLimit
	}
	docs := set.docs
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return uc.listResponse(docs, len(set.docs), noDocuments), nil
}

func (uc *QueryUseCase) answerCount(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	plan := uc.plan(ctx, req, decision)
	set, err := uc.candidates(ctx, req, decision, plan, false)
	if err != nil {
		return nil, err
	}
	if set.fallback != "" {
		return notFoundResponse(set.fallback), nil
	}

	total := len(set.docs)
	var answer string
	switch {
	case set.truncated:
		answer = fmt.Sprintf("There are at least %d matching documents.", total)
	case total == 0:
		answer = "There are no matching documents."
	case total == 1:
		answer = "There is 1 matching document."
	default:
		answer = fmt.Sprintf("There are %d matching documents.", total)
	}

	shown := set.docs
	if len(shown) > uc.limits.ListLimit {
		shown = shown[:uc.limits.ListLimit]
	}
	resp := uc.listResponse(shown, total, answer)
	resp.Answer = answer
	resp.Outcome = domain.OutcomeAnswered
	resp.Count = &total
	return resp, nil
}

func (uc *QueryUseCase) answerLinked(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	base, label, err := uc.linkBase(ctx, req, decision)
	if err != nil {
		return nil, err
	}
	if len(base) == 0 {
		return clarificationResponse(linkClarifyQuery), nil
	}

	linked, err := uc.linkedIDs(ctx, req.Scope.OrgID, base)
	if err != nil {
		return nil, err
	}
	if len(linked) == 0 {
		return uc.listResponse(nil, 0, fmt.Sprintf(noLinkedDocs, label)), nil
	}

	filter := ports.MetadataFilter{AllowedIDs: linked}
	if req.Scope.Scope == domain.ScopeFolder {
		filter.FolderID = req.Scope.FolderID
	}
	docs, err := uc.metadata.Search(ctx, req.Scope.OrgID, filter, len(linked))
	if err != nil {
		return nil, fmt.Errorf("search linked documents: %w", err)
	}
	ranked := uc.ranker.Rank(docs, domain.QueryPlan{}, uc.limits.ListLimit)
	return uc.listResponse(ranked, len(ranked), fmt.Sprintf(noLinkedDocs, label)), nil
}

// linkBase picks the documents whose links are wanted: the scoped document,
// a referenced one, or the best match for the question.
func (uc *QueryUseCase) linkBase(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) ([]string, string, error) {
	switch {
	case req.Scope.Scope == domain.ScopeDoc:
		return []string{req.Scope.DocID}, "this document", nil
	case len(decision.Target.DocIDs) > 0:
		return decision.Target.DocIDs, "that document", nil
	}

	plan := uc.plan(ctx, req, decision)
	set, err := uc.candidates(ctx, req, decision, plan, true)
	if err != nil {
		return nil, "", err
	}
	if len(set.docs) == 0 {
		return nil, "", nil
	}
	top := set.docs[0]
	return []string{top.ID}, fmt.Sprintf("%q", top.Title), nil
}

// answerExtract looks for the requested value in the retrieved chunks, then
// in a broader keyword sweep, and only then asks for a synthesized answer.
func (uc *QueryUseCase) answerExtract(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	field, ok := retrieval.DetectFieldRequest(req.Question.Text)
	if !ok {
		return uc.answerContent(ctx, req, decision)
	}

	plan := uc.plan(ctx, req, decision)
	set, err := uc.candidates(ctx, req, decision, plan, true)
	if err != nil {
		return nil, err
	}
	if set.fallback != "" {
		return notFoundResponse(set.fallback), nil
	}
	if len(set.docs) == 0 {
		return fromSynthesis(synthesis.NotFound(), nil), nil
	}

	docs, chunks, err := uc.retrieveChunks(ctx, req, set)
	if err != nil {
		return nil, err
	}
	if m, ok := retrieval.ExtractField(field, chunks); ok {
		return uc.fieldResponse(m, docs), nil
	}

	swept, err := uc.sweep(ctx, req, set.plan, field, mergeCandidates(docs, set.docs))
	if err != nil {
		return nil, err
	}
	if m, ok := retrieval.ExtractField(field, swept); ok {
		uc.logger.Debug("field_found_by_sweep", "kind", field.Kind, "label", field.Label)
		return uc.fieldResponse(m, mergeCandidates(docs, set.docs)), nil
	}

	uc.logger.Info("field_extraction_fallback", "kind", field.Kind, "label", field.Label)
	return uc.synthesize(ctx, req, docs, chunks), nil
}

// mergeCandidates appends the documents of rest missing from first.
func mergeCandidates(first, rest []domain.CandidateDocument) []domain.CandidateDocument {
	seen := make(map[string]struct{}, len(first))
	out := make([]domain.CandidateDocument, 0, len(first)+len(rest))
	for _, d := range first {
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	for _, d := range rest {
		if _, ok := seen[d.ID]; !ok {
			out = append(out, d)
		}
	}
	return out
}

func (uc *QueryUseCase) fieldResponse(m retrieval.FieldMatch, docs []domain.CandidateDocument) *domain.QueryResponse {
	doc := domain.CandidateDocument{Document: domain.Document{ID: m.Chunk.DocID}}
	for _, d := range docs {
		if d.ID == m.Chunk.DocID {
			doc = d
			break
		}
	}

	coverage := fieldCoverage(m)
	return &domain.QueryResponse{
		Answer:     m.Answer(),
		Citations:  []domain.Citation{uc.synthesizer.Cite(doc.Document, m.Chunk)},
		Coverage:   coverage,
		Confidence: uc.synthesizer.Config().Confidence(coverage, m.Chunk.Similarity),
		Outcome:    domain.OutcomeAnswered,
		Documents:  []domain.CandidateDocument{doc},
	}
}

// fieldCoverage treats a value lifted verbatim from its chunk as fully
// covered. Short values such as small counts carry no keywords to score.
func fieldCoverage(m retrieval.FieldMatch) float64 {
	if m.Request.Kind == retrieval.FieldCount || textutil.ContainsPhrase(m.Chunk.Content, m.Value) {
		return 1
	}
	return synthesis.Coverage(m.Answer(), []string{m.Chunk.Content})
}

func (uc *QueryUseCase) answerCasual(ctx context.Context, req domain.QueryRequest) *domain.QueryResponse {
	resp := &domain.QueryResponse{
		Answer:    casualFallback,
		Citations: []domain.Citation{},
		Outcome:   domain.OutcomeAnswered,
	}
	if uc.reasoner == nil || uc.reasoner.BackedOff() {
		return resp
	}

	text, err := uc.reasoner.Generate(ctx, buildCasualPrompt(req.Question),
		ports.WithTemperature(0.5),
		ports.WithMaxTokens(120),
	)
	if err != nil {
		uc.logger.Warn("casual_reply_degraded", "error", err)
		return resp
	}
	if text = strings.TrimSpace(text); text != "" {
		resp.Answer = text
	}
	return resp
}

// listResponse renders docs as a numbered list. Every entry is cited by its
// metadata, so a listing is fully covered.
func (uc *QueryUseCase) listResponse(docs []domain.CandidateDocument, total int, empty string) *domain.QueryResponse {
	if len(docs) == 0 {
		return notFoundResponse(empty)
	}

	var b strings.Builder
	if total > len(docs) {
		fmt.Fprintf(&b, "Found %d documents, showing the first %d:", total, len(docs))
	} else if len(docs) == 1 {
		b.WriteString("Found 1 document:")
	} else {
		fmt.Fprintf(&b, "Found %d documents:", len(docs))
	}

	citations := make([]domain.Citation, 0, len(docs))
	var similarity float64
	for i, d := range docs {
		summary := documentSummary(d.Document)
		fmt.Fprintf(&b, "\n%d. %s", i+1, documentTitle(d.Document))
		if summary != "" {
			fmt.Fprintf(&b, " (%s)", summary)
		}
		citations = append(citations, domain.Citation{DocID: d.ID, DocName: d.Title, Snippet: summary})
		similarity += d.Similarity
	}

	return &domain.QueryResponse{
		Answer:     b.String(),
		Citations:  citations,
		Coverage:   1,
		Confidence: uc.synthesizer.Config().Confidence(1, similarity/float64(len(docs))),
		Outcome:    domain.OutcomeAnswered,
		Documents:  docs,
	}
}

func notFoundResponse(message string) *domain.QueryResponse {
	return &domain.QueryResponse{
		Answer:    message,
		Citations: []domain.Citation{},
		Outcome:   domain.OutcomeNotFound,
	}
}

func documentTitle(doc domain.Document) string {
	if strings.TrimSpace(doc.Title) != "" {
		return doc.Title
	}
	return doc.ID
}

func documentSummary(doc domain.Document) string {
	parts := make([]string, 0, 4)
	if doc.Type != "" {
		parts = append(parts, doc.Type)
	}
	if doc.Metadata.Sender != "" {
		parts = append(parts, "from "+doc.Metadata.Sender)
	}
	if doc.Metadata.Receiver != "" {
		parts = append(parts, "to "+doc.Metadata.Receiver)
	}
	if doc.Metadata.Date != nil {
		parts = append(parts, doc.Metadata.Date.Format("2006-01-02"))
	}
	return strings.Join(parts, ", ")
}

func buildCasualPrompt(q domain.Question) string {
	var b strings.Builder
	b.WriteString("You are a document assistant. Reply to the user's message in one or two friendly sentences.\n")
	b.WriteString("Do not state facts about any document. Offer to help find or answer questions about documents.\n")
	history := q.History
	if len(history) > 4 {
		history = history[len(history)-4:]
	}
	for _, turn := range history {
		fmt.Fprintf(&b, "\n%s: %s", turn.Role, strings.TrimSpace(turn.Content))
	}
	fmt.Fprintf(&b, "\nuser: %s\n", q.Text)
	return b.String()
}
