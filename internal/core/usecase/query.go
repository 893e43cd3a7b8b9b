package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/filters"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/routing"
	"github.com/kirillkom/docqa/internal/core/synthesis"
	"github.com/kirillkom/docqa/internal/core/verticals"
)

const defaultClarification = "Could you add more detail, such as the document name, its type or a date?"

// QueryDeps are the collaborators of QueryUseCase. Embedder, Vectors, Links,
// Focus and Observer are optional.
type QueryDeps struct {
	Router      *routing.Router
	Filters     *filters.Extractor
	Ranker      *retrieval.Ranker
	Synthesizer *synthesis.Synthesizer
	Reasoner    ports.Reasoner
	Metadata    ports.MetadataQuery
	Keywords    ports.ChunkKeywordSearch
	Vectors     ports.VectorSearch
	Embedder    ports.Embedder
	Links       ports.LinkStore
	Focus       ports.FocusStore
	Verticals   verticals.Registry
	Observer    ports.QueryObserver
	Logger      *slog.Logger
}

type QueryLimits struct {
	CandidateLimit int
	ListLimit      int
	ChunkDocuments int
	MatchCount     int
	MatchThreshold float64
	KeywordLimit   int
	SweepLimit     int
	RerankTopN     int
	RRFK           int
	EvidenceSize   int
	MMRLambda      float64
}

func DefaultQueryLimits() QueryLimits {
	return QueryLimits{
		CandidateLimit: 200,
		ListLimit:      20,
		ChunkDocuments: 10,
		MatchCount:     40,
		MatchThreshold: 0.2,
		KeywordLimit:   60,
		SweepLimit:     200,
		RerankTopN:     30,
		RRFK:           60,
		EvidenceSize:   retrieval.DefaultEvidenceSize,
		MMRLambda:      retrieval.DefaultMMRLambda,
	}
}

func (l QueryLimits) normalize() QueryLimits {
	d := DefaultQueryLimits()
	if l.CandidateLimit <= 0 {
		l.CandidateLimit = d.CandidateLimit
	}
	if l.ListLimit <= 0 {
		l.ListLimit = d.ListLimit
	}
	if l.ChunkDocuments <= 0 {
		l.ChunkDocuments = d.ChunkDocuments
	}
	if l.MatchCount <= 0 {
		l.MatchCount = d.MatchCount
	}
	if l.MatchThreshold < 0 {
		l.MatchThreshold = d.MatchThreshold
	}
	if l.KeywordLimit <= 0 {
		l.KeywordLimit = d.KeywordLimit
	}
	if l.SweepLimit <= 0 {
		l.SweepLimit = d.SweepLimit
	}
	if l.RerankTopN <= 0 {
		l.RerankTopN = d.RerankTopN
	}
	if l.RRFK <= 0 {
		l.RRFK = d.RRFK
	}
	if l.EvidenceSize <= 0 {
		l.EvidenceSize = d.EvidenceSize
	}
	if l.MMRLambda <= 0 || l.MMRLambda > 1 {
		l.MMRLambda = d.MMRLambda
	}
	return l
}

// QueryUseCase answers one question end to end: route, plan, retrieve, rank,
// synthesize.
type QueryUseCase struct {
	router      *routing.Router
	filters     *filters.Extractor
	ranker      *retrieval.Ranker
	synthesizer *synthesis.Synthesizer
	reasoner    ports.Reasoner
	metadata    ports.MetadataQuery
	keywords    ports.ChunkKeywordSearch
	vectors     ports.VectorSearch
	embedder    ports.Embedder
	links       ports.LinkStore
	focus       ports.FocusStore
	verticals   verticals.Registry
	observer    ports.QueryObserver
	logger      *slog.Logger
	limits      QueryLimits
}

func NewQueryUseCase(deps QueryDeps, limits QueryLimits) (*QueryUseCase, error) {
	switch {
	case deps.Router == nil:
		return nil, fmt.Errorf("query use case: router is required")
	case deps.Filters == nil:
		return nil, fmt.Errorf("query use case: filter extractor is required")
	case deps.Ranker == nil:
		return nil, fmt.Errorf("query use case: ranker is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("query use case: synthesizer is required")
	case deps.Metadata == nil:
		return nil, fmt.Errorf("query use case: metadata query is required")
	case deps.Keywords == nil:
		return nil, fmt.Errorf("query use case: chunk keyword search is required")
	}

	uc := &QueryUseCase{
		router:      deps.Router,
		filters:     deps.Filters,
		ranker:      deps.Ranker,
		synthesizer: deps.Synthesizer,
		reasoner:    deps.Reasoner,
		metadata:    deps.Metadata,
		keywords:    deps.Keywords,
		vectors:     deps.Vectors,
		embedder:    deps.Embedder,
		links:       deps.Links,
		focus:       deps.Focus,
		verticals:   deps.Verticals,
		observer:    deps.Observer,
		logger:      deps.Logger,
		limits:      limits.normalize(),
	}
	if uc.verticals == nil {
		uc.verticals = verticals.DefaultRegistry()
	}
	if uc.observer == nil {
		uc.observer = noopObserver{}
	}
	if uc.logger == nil {
		uc.logger = slog.Default()
	}
	return uc, nil
}

// Answer returns an error only for invalid input or a failing datastore.
// Reasoning failures degrade inside the response.
func (uc *QueryUseCase) Answer(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	started := time.Now()
	req, err := uc.normalizeRequest(req)
	if err != nil {
		return nil, err
	}

	conversationID := req.Question.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	focus := uc.loadFocus(ctx, conversationID)

	decision := uc.router.Route(ctx, req.Question, req.Scope)
	decision.Target = routing.ResolveTarget(req.Question.Text, focus)
	uc.observer.ObserveRoute(decision)

	resp, err := uc.dispatch(ctx, req, decision)
	if err != nil {
		uc.logger.Error("query_failed", "intent", decision.Intent, "error", err)
		return nil, err
	}
	resp.ConversationID = conversationID
	resp.Routing = decision
	if resp.Citations == nil {
		resp.Citations = []domain.Citation{}
	}
	resp.NeedsClarification = resp.Outcome == domain.OutcomeClarification

	uc.saveFocus(ctx, conversationID, focus, decision.Intent, resp)
	elapsed := time.Since(started)
	uc.observer.ObserveQuery(decision.Intent, resp.Outcome, len(resp.Documents), elapsed)
	uc.logger.Info("query_answered",
		"intent", decision.Intent,
		"outcome", resp.Outcome,
		"documents", len(resp.Documents),
		"citations", len(resp.Citations),
		"confidence", resp.Confidence,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

func (uc *QueryUseCase) normalizeRequest(req domain.QueryRequest) (domain.QueryRequest, error) {
	req.Question.Text = strings.TrimSpace(req.Question.Text)
	req.Scope.OrgID = strings.TrimSpace(req.Scope.OrgID)
	if req.Scope.Scope == "" {
		req.Scope.Scope = domain.ScopeOrg
	}

	invalid := func(format string, args ...any) error {
		return domain.WrapError(domain.ErrInvalidInput, "answer query", fmt.Errorf(format, args...))
	}
	switch {
	case req.Question.Text == "":
		return req, invalid("question is required")
	case req.Scope.OrgID == "":
		return req, invalid("org_id is required")
	}
	switch req.Scope.Scope {
	case domain.ScopeOrg:
	case domain.ScopeFolder:
		if strings.TrimSpace(req.Scope.FolderID) == "" {
			return req, invalid("folder_id is required for folder scope")
		}
	case domain.ScopeDoc:
		if strings.TrimSpace(req.Scope.DocID) == "" {
			return req, invalid("doc_id is required for doc scope")
		}
	default:
		return req, invalid("unknown scope %q", req.Scope.Scope)
	}
	if v := req.Options.Vertical; v != "" {
		if _, ok := uc.verticals.Lookup(v); !ok {
			return req, invalid("unknown vertical %q", v)
		}
	}
	if req.Options.Limit < 0 {
		return req, invalid("limit must not be negative")
	}
	return req, nil
}

func (uc *QueryUseCase) dispatch(ctx context.Context, req domain.QueryRequest, decision domain.RoutingDecision) (*domain.QueryResponse, error) {
	if decision.NeedsClarification || decision.Intent == domain.IntentClarify {
		return clarificationResponse(decision.ClarificationQuestion), nil
	}

	switch decision.Intent {
	case domain.IntentCasual:
		return uc.answerCasual(ctx, req), nil
	case domain.IntentList:
		return uc.answerList(ctx, req, decision)
	case domain.IntentCount:
		return uc.answerCount(ctx, req, decision)
	case domain.IntentLinked:
		return uc.answerLinked(ctx, req, decision)
	case domain.IntentExtract:
		return uc.answerExtract(ctx, req, decision)
	default:
		return uc.answerContent(ctx, req, decision)
	}
}

func (uc *QueryUseCase) loadFocus(ctx context.Context, conversationID string) domain.FocusState {
	if uc.focus == nil {
		return domain.FocusState{}
	}
	state, err := uc.focus.Focus(ctx, conversationID)
	if err != nil {
		uc.logger.Warn("focus_load_failed", "conversation_id", conversationID, "error", err)
		return domain.FocusState{}
	}
	return state
}

// saveFocus records the last listing and the documents the answer cited.
func (uc *QueryUseCase) saveFocus(ctx context.Context, conversationID string, prev domain.FocusState, intent domain.Intent, resp *domain.QueryResponse) {
	if uc.focus == nil {
		return
	}
	next := prev
	changed := false
	if intent == domain.IntentList || intent == domain.IntentLinked {
		if ids := candidateIDs(resp.Documents); len(ids) > 0 {
			next.ListedDocIDs = ids
			changed = true
		}
	}
	if ids := citedIDs(resp.Citations); len(ids) > 0 && intent != domain.IntentList && intent != domain.IntentLinked {
		next.DiscussedDocIDs = ids
		changed = true
	}
	if !changed {
		return
	}
	if err := uc.focus.SaveFocus(ctx, conversationID, next); err != nil {
		uc.logger.Warn("focus_save_failed", "conversation_id", conversationID, "error", err)
	}
}

func clarificationResponse(question string) *domain.QueryResponse {
	if strings.TrimSpace(question) == "" {
		question = defaultClarification
	}
	return &domain.QueryResponse{
		Answer:    question,
		Citations: []domain.Citation{},
		Outcome:   domain.OutcomeClarification,
	}
}

func fromSynthesis(res domain.SynthesisResult, docs []domain.CandidateDocument) *domain.QueryResponse {
	return &domain.QueryResponse{
		Answer:     res.Answer,
		Citations:  res.Citations,
		Coverage:   res.Coverage,
		Confidence: res.Confidence,
		Outcome:    res.Outcome,
		Documents:  docs,
	}
}

func candidateIDs(docs []domain.CandidateDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func citedIDs(citations []domain.Citation) []string {
	seen := make(map[string]struct{}, len(citations))
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		if _, ok := seen[c.DocID]; ok || c.DocID == "" {
			continue
		}
		seen[c.DocID] = struct{}{}
		out = append(out, c.DocID)
	}
	return out
}

type noopObserver struct{}

func (noopObserver) ObserveRoute(domain.RoutingDecision) {}

func (noopObserver) ObserveQuery(domain.Intent, domain.Outcome, int, time.Duration) {}
