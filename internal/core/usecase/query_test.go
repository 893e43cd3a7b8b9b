package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/filters"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/routing"
	"github.com/kirillkom/docqa/internal/core/synthesis"
)

type queryReasonerFake struct {
	mu              sync.Mutex
	route           string
	answers         map[string]string
	casual          string
	generateErr     error
	generateCalls   int
	structuredCalls int
}

func (f *queryReasonerFake) Generate(_ context.Context, prompt string, _ ...ports.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalls++
	if f.generateErr != nil {
		return "", f.generateErr
	}
	for title, answer := range f.answers {
		if strings.Contains(prompt, "Document: "+title+"\n") {
			return answer, nil
		}
	}
	if f.casual != "" && strings.Contains(prompt, "document assistant") {
		return f.casual, nil
	}
	return synthesis.InsufficientEvidence, nil
}

func (f *queryReasonerFake) GenerateStructured(context.Context, string, ...ports.GenerateOption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.structuredCalls++
	if f.route == "" {
		return `{"intent":"ContentQA","confidence":0.8}`, nil
	}
	return f.route, nil
}

func (f *queryReasonerFake) BackedOff() bool { return false }

type metadataFake struct {
	docs     []domain.Document
	err      error
	filters  []ports.MetadataFilter
	versions map[string][]string
}

func (f *metadataFake) Search(_ context.Context, _ string, filter ports.MetadataFilter, limit int) ([]domain.Document, error) {
	f.filters = append(f.filters, filter)
	if f.err != nil {
		return nil, f.err
	}
	allowed := make(map[string]bool, len(filter.AllowedIDs))
	for _, id := range filter.AllowedIDs {
		allowed[id] = true
		if filter.IncludeVersions {
			for _, v := range f.versions[id] {
				allowed[v] = true
			}
		}
	}
	out := make([]domain.Document, 0, len(f.docs))
	for _, d := range f.docs {
		if len(allowed) > 0 && !allowed[d.ID] {
			continue
		}
		if filter.FolderID != "" && d.FolderID != filter.FolderID {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *metadataFake) lastFilter() ports.MetadataFilter {
	if len(f.filters) == 0 {
		return ports.MetadataFilter{}
	}
	return f.filters[len(f.filters)-1]
}

type chunkStoreFake struct {
	chunks []domain.Chunk
	calls  int
}

func (f *chunkStoreFake) SearchChunks(_ context.Context, _ string, docIDs []string, keywords []string, limit int) ([]domain.Chunk, error) {
	f.calls++
	ids := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		ids[id] = true
	}
	out := make([]domain.Chunk, 0)
	for _, c := range f.chunks {
		if !ids[c.DocID] {
			continue
		}
		content := strings.ToLower(c.Content)
		for _, kw := range keywords {
			if strings.Contains(content, kw) {
				out = append(out, c)
				break
			}
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type vectorSearchFake struct {
	chunks []domain.Chunk
}

func (f *vectorSearchFake) MatchChunks(_ context.Context, _ string, _ []float32, matchCount int, threshold float64) ([]domain.Chunk, error) {
	out := make([]domain.Chunk, 0, len(f.chunks))
	for _, c := range f.chunks {
		if c.Similarity >= threshold {
			out = append(out, c)
		}
		if len(out) == matchCount {
			break
		}
	}
	return out, nil
}

type embedderFake struct{}

func (embedderFake) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

type linkStoreFake struct {
	links []domain.DocumentLink
}

func (f *linkStoreFake) LinksInvolving(_ context.Context, _ string, docIDs []string) ([]domain.DocumentLink, error) {
	ids := make(map[string]bool, len(docIDs))
	for _, id := range docIDs {
		ids[id] = true
	}
	var out []domain.DocumentLink
	for _, l := range f.links {
		if ids[l.DocID] || ids[l.LinkedDocID] {
			out = append(out, l)
		}
	}
	return out, nil
}

type focusStoreFake struct {
	states map[string]domain.FocusState
}

func (f *focusStoreFake) Focus(_ context.Context, id string) (domain.FocusState, error) {
	return f.states[id], nil
}

func (f *focusStoreFake) SaveFocus(_ context.Context, id string, state domain.FocusState) error {
	f.states[id] = state
	return nil
}

type observerFake struct {
	intents  []domain.Intent
	outcomes []domain.Outcome
}

func (f *observerFake) ObserveRoute(domain.RoutingDecision) {}

func (f *observerFake) ObserveQuery(intent domain.Intent, outcome domain.Outcome, _ int, _ time.Duration) {
	f.intents = append(f.intents, intent)
	f.outcomes = append(f.outcomes, outcome)
}

type queryEnv struct {
	reasoner *queryReasonerFake
	metadata *metadataFake
	chunks   *chunkStoreFake
	vectors  *vectorSearchFake
	links    *linkStoreFake
	focus    *focusStoreFake
	observer *observerFake
	limits   QueryLimits
}

func newQueryEnv() *queryEnv {
	return &queryEnv{
		reasoner: &queryReasonerFake{},
		metadata: &metadataFake{},
		chunks:   &chunkStoreFake{},
		links:    &linkStoreFake{},
		focus:    &focusStoreFake{states: map[string]domain.FocusState{}},
		observer: &observerFake{},
		limits:   DefaultQueryLimits(),
	}
}

func (e *queryEnv) build(t *testing.T) *QueryUseCase {
	t.Helper()
	synonyms := filters.DefaultSynonyms()
	synth, err := synthesis.NewSynthesizer(e.reasoner, synthesis.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSynthesizer() error = %v", err)
	}
	t.Cleanup(synth.Close)

	deps := QueryDeps{
		Router:      routing.NewRouter(e.reasoner, routing.WithTypeMatcher(synonyms.Match)),
		Filters:     filters.NewExtractor(e.reasoner, filters.WithSynonyms(synonyms)),
		Ranker:      retrieval.NewRanker(retrieval.WithTypeCanonicalizer(synonyms.Canonical)),
		Synthesizer: synth,
		Reasoner:    e.reasoner,
		Metadata:    e.metadata,
		Keywords:    e.chunks,
		Links:       e.links,
		Focus:       e.focus,
		Observer:    e.observer,
	}
	if e.vectors != nil {
		deps.Vectors = e.vectors
		deps.Embedder = embedderFake{}
	}

	uc, err := NewQueryUseCase(deps, e.limits)
	if err != nil {
		t.Fatalf("NewQueryUseCase() error = %v", err)
	}
	return uc
}

func orgRequest(text string) domain.QueryRequest {
	return domain.QueryRequest{
		Question: domain.Question{Text: text},
		Scope:    domain.ScopeContext{Scope: domain.ScopeOrg, OrgID: "org-1"},
	}
}

func dated(doc domain.Document, day string) domain.Document {
	ts, err := time.Parse("2006-01-02", day)
	if err != nil {
		panic(err)
	}
	doc.Metadata.Date = &ts
	return doc
}

func invoiceCorpus() []domain.Document {
	return []domain.Document{
		dated(domain.Document{ID: "inv-1", OrgID: "org-1", Title: "Invoice 1001 Acme", Type: "invoice"}, "2026-03-01"),
		dated(domain.Document{ID: "inv-2", OrgID: "org-1", Title: "Electricity bill March", Type: "bill", Content: "Payment terms: net 30 days."}, "2026-01-01"),
		dated(domain.Document{ID: "c-1", OrgID: "org-1", Title: "Office lease", Type: "contract"}, "2026-02-01"),
	}
}

func TestQueryUseCaseRejectsInvalidInput(t *testing.T) {
	uc := newQueryEnv().build(t)

	cases := map[string]domain.QueryRequest{
		"empty question": orgRequest("   "),
		"missing org":    {Question: domain.Question{Text: "what is due"}},
		"folder without id": {
			Question: domain.Question{Text: "what is due"},
			Scope:    domain.ScopeContext{Scope: domain.ScopeFolder, OrgID: "org-1"},
		},
		"doc without id": {
			Question: domain.Question{Text: "what is due"},
			Scope:    domain.ScopeContext{Scope: domain.ScopeDoc, OrgID: "org-1"},
		},
		"unknown scope": {
			Question: domain.Question{Text: "what is due"},
			Scope:    domain.ScopeContext{Scope: "galaxy", OrgID: "org-1"},
		},
	}
	unknownVertical := orgRequest("what is due")
	unknownVertical.Options.Vertical = "astrology"
	cases["unknown vertical"] = unknownVertical

	for name, req := range cases {
		_, err := uc.Answer(context.Background(), req)
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected ErrInvalidInput, got %v", name, err)
		}
	}
}

func TestQueryUseCaseNotFoundWithoutDocuments(t *testing.T) {
	env := newQueryEnv()
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("what is the penalty for late delivery"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Outcome != domain.OutcomeNotFound {
		t.Fatalf("expected not_found, got %s", resp.Outcome)
	}
	if resp.Citations == nil || len(resp.Citations) != 0 {
		t.Fatalf("expected empty non-nil citations, got %#v", resp.Citations)
	}
	if resp.ConversationID == "" {
		t.Fatalf("expected generated conversation id")
	}
	if env.reasoner.generateCalls != 0 {
		t.Fatalf("expected no answer generation, got %d calls", env.reasoner.generateCalls)
	}
	if len(env.observer.outcomes) != 1 || env.observer.outcomes[0] != domain.OutcomeNotFound {
		t.Fatalf("unexpected observed outcomes: %v", env.observer.outcomes)
	}
}

func TestQueryUseCasePropagatesDatastoreFailure(t *testing.T) {
	env := newQueryEnv()
	env.metadata.err = errors.New("connection refused")
	uc := env.build(t)

	_, err := uc.Answer(context.Background(), orgRequest("what is the penalty for late delivery"))
	if err == nil {
		t.Fatalf("expected error")
	}
	if errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("datastore failure must not look like invalid input: %v", err)
	}
}

func TestQueryUseCaseListThenOrdinalFollowUp(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = invoiceCorpus()
	env.chunks.chunks = []domain.Chunk{
		{DocID: "inv-2", Index: 0, Content: "Payment terms: net 30 days from the invoice date."},
	}
	env.reasoner.answers = map[string]string{
		"Electricity bill March": "Payment is due net 30 days from the invoice date.",
	}
	uc := env.build(t)

	req := orgRequest("list all invoices")
	req.Question.ConversationID = "conv-1"
	resp, err := uc.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Routing.Intent != domain.IntentList {
		t.Fatalf("expected list intent, got %s", resp.Routing.Intent)
	}
	if got := candidateIDs(resp.Documents); !reflect.DeepEqual(got, []string{"inv-1", "inv-2"}) {
		t.Fatalf("unexpected listed documents: %v", got)
	}
	if !strings.HasPrefix(resp.Answer, "Found 2 documents:\n1. Invoice 1001 Acme (invoice, 2026-03-01)") {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Citations) != 2 || resp.Coverage != 1 {
		t.Fatalf("expected every listed document cited, got %d citations coverage=%v", len(resp.Citations), resp.Coverage)
	}
	if got := env.focus.states["conv-1"].ListedDocIDs; !reflect.DeepEqual(got, []string{"inv-1", "inv-2"}) {
		t.Fatalf("expected listing remembered, got %v", got)
	}

	follow := orgRequest("what does the second one say about payment terms")
	follow.Question.ConversationID = "conv-1"
	resp, err = uc.Answer(context.Background(), follow)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if got := env.metadata.lastFilter().AllowedIDs; !reflect.DeepEqual(got, []string{"inv-2"}) {
		t.Fatalf("expected retrieval pinned to the second listed document, got %v", got)
	}
	if resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("expected answered, got %s (%s)", resp.Outcome, resp.Answer)
	}
	if len(resp.Citations) == 0 || resp.Citations[0].DocID != "inv-2" {
		t.Fatalf("expected citation of inv-2, got %#v", resp.Citations)
	}
	if got := env.focus.states["conv-1"].DiscussedDocIDs; !reflect.DeepEqual(got, []string{"inv-2"}) {
		t.Fatalf("expected discussed document remembered, got %v", got)
	}
}

func TestQueryUseCaseCountsTypedDocuments(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = invoiceCorpus()
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("how many invoices do we have"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Count == nil || *resp.Count != 2 {
		t.Fatalf("expected count 2, got %v", resp.Count)
	}
	if resp.Answer != "There are 2 matching documents." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
}

func TestQueryUseCaseRelaxesTypeFilterForContentQuestions(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = []domain.Document{
		{ID: "inv-77", OrgID: "org-1", Title: "Invoice 77", Type: "invoice"},
	}
	env.chunks.chunks = []domain.Chunk{
		{DocID: "inv-77", Index: 0, Content: "Late fees of 5 percent apply after 30 days."},
	}
	env.reasoner.answers = map[string]string{"Invoice 77": "Late fees of 5 percent apply after 30 days."}
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("what does the contract say about late fees"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("expected answered after relaxing the type filter, got %s", resp.Outcome)
	}
	if len(resp.Documents) != 1 || resp.Documents[0].ID != "inv-77" {
		t.Fatalf("unexpected documents: %#v", resp.Documents)
	}

	resp, err = uc.Answer(context.Background(), orgRequest("list all contracts"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Outcome != domain.OutcomeNotFound {
		t.Fatalf("listing must keep the type filter, got %s", resp.Outcome)
	}
}

func TestQueryUseCaseExtractsFieldFromBroaderSweep(t *testing.T) {
	env := newQueryEnv()
	env.limits.ChunkDocuments = 1
	env.metadata.docs = []domain.Document{
		{ID: "a", OrgID: "org-1", Title: "Theft complaint", Content: "Complaint about a theft at the warehouse."},
		{ID: "b", OrgID: "org-1", Title: "Police station records", Content: "FIR No. 0042/2025 registered at Central station regarding theft."},
	}
	env.chunks.chunks = []domain.Chunk{
		{DocID: "a", Index: 0, Content: "Complaint about a theft at the warehouse."},
		{DocID: "b", Index: 0, Content: "FIR No. 0042/2025 registered at Central station regarding theft."},
	}
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("what is the FIR number for the theft complaint"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Routing.Intent != domain.IntentExtract {
		t.Fatalf("expected extract intent, got %s", resp.Routing.Intent)
	}
	if resp.Answer != "The FIR number is 0042/2025." {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].DocID != "b" {
		t.Fatalf("expected citation of b, got %#v", resp.Citations)
	}
	if env.chunks.calls != 2 {
		t.Fatalf("expected chunk search plus sweep, got %d calls", env.chunks.calls)
	}
	if env.reasoner.generateCalls != 0 {
		t.Fatalf("field extraction must not call the reasoner, got %d calls", env.reasoner.generateCalls)
	}
	if math.Abs(resp.Confidence-0.75) > 1e-9 {
		t.Fatalf("expected confidence 0.75, got %v", resp.Confidence)
	}
}

func TestQueryUseCaseExtractFallsBackToSynthesis(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = []domain.Document{
		{ID: "a", OrgID: "org-1", Title: "Theft complaint", Content: "Complaint about a theft at the warehouse."},
	}
	env.chunks.chunks = []domain.Chunk{{DocID: "a", Index: 0, Content: "Complaint about a theft at the warehouse."}}
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("what is the FIR number for the theft complaint"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if env.reasoner.generateCalls != 1 {
		t.Fatalf("expected one synthesis call, got %d", env.reasoner.generateCalls)
	}
	if resp.Outcome != domain.OutcomeNotFound {
		t.Fatalf("expected not_found when the document lacks the value, got %s", resp.Outcome)
	}
}

func TestQueryUseCaseLinkedDocumentsInDocScope(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = []domain.Document{
		{ID: "d-1", OrgID: "org-1", Title: "Master lease"},
		{ID: "d-2", OrgID: "org-1", Title: "Lease amendment"},
		{ID: "d-3", OrgID: "org-1", Title: "Parking annex"},
		{ID: "d-4", OrgID: "org-1", Title: "Unrelated memo"},
	}
	env.links.links = []domain.DocumentLink{
		{DocID: "d-1", LinkedDocID: "d-2"},
		{DocID: "d-3", LinkedDocID: "d-1"},
	}
	uc := env.build(t)

	req := domain.QueryRequest{
		Question: domain.Question{Text: "are there related documents for this lease", ConversationID: "conv-2"},
		Scope:    domain.ScopeContext{Scope: domain.ScopeDoc, OrgID: "org-1", DocID: "d-1"},
	}
	resp, err := uc.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Routing.Intent != domain.IntentLinked {
		t.Fatalf("expected linked intent, got %s", resp.Routing.Intent)
	}
	if got := env.metadata.lastFilter().AllowedIDs; !reflect.DeepEqual(got, []string{"d-2", "d-3"}) {
		t.Fatalf("unexpected linked ids: %v", got)
	}
	if len(resp.Documents) != 2 {
		t.Fatalf("expected two linked documents, got %#v", resp.Documents)
	}
	if got := env.focus.states["conv-2"].ListedDocIDs; len(got) != 2 {
		t.Fatalf("expected linked listing remembered, got %v", got)
	}
}

func TestQueryUseCaseVerticalFallback(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = invoiceCorpus()
	uc := env.build(t)

	req := orgRequest("what skills does the strongest person have")
	req.Options.Vertical = "resume"
	resp, err := uc.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Outcome != domain.OutcomeNotFound || !strings.Contains(resp.Answer, "No resumes") {
		t.Fatalf("expected resume fallback, got %s: %q", resp.Outcome, resp.Answer)
	}
}

func TestQueryUseCaseCasualReply(t *testing.T) {
	env := newQueryEnv()
	env.reasoner.route = `{"intent":"Casual","confidence":0.9}`
	env.reasoner.casual = "Hello! How can I help with your documents?"
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("hey there, how are you"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Answer != env.reasoner.casual || resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("unexpected casual reply: %s %q", resp.Outcome, resp.Answer)
	}
	if len(env.metadata.filters) != 0 {
		t.Fatalf("casual questions must not hit the datastore")
	}

	env.reasoner.generateErr = errors.New("provider backed off")
	resp, err = uc.Answer(context.Background(), orgRequest("hey there, how are you"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Answer != casualFallback {
		t.Fatalf("expected canned reply, got %q", resp.Answer)
	}
}

func TestQueryUseCaseShortQuestionAsksForClarification(t *testing.T) {
	env := newQueryEnv()
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("invoices"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !resp.NeedsClarification || resp.Outcome != domain.OutcomeClarification {
		t.Fatalf("expected clarification, got %#v", resp)
	}
	if len(env.metadata.filters) != 0 {
		t.Fatalf("clarification must not hit the datastore")
	}
}

func TestWithContentFallbackPicksMatchingWindows(t *testing.T) {
	filler := strings.Repeat("general background text about the company. ", 60)
	doc := domain.CandidateDocument{
		Document:   domain.Document{ID: "lease", Content: filler + "The security deposit equals three monthly rent payments. " + filler},
		Similarity: 0.4,
	}
	covered := domain.CandidateDocument{Document: domain.Document{ID: "covered", Content: "ignored"}}
	existing := []domain.Chunk{{DocID: "covered", Index: 3, Content: "already retrieved"}}

	chunks := withContentFallback([]domain.CandidateDocument{covered, doc}, existing, []string{"security", "deposit"})

	if len(chunks) != 1+contentWindows {
		t.Fatalf("expected %d chunks, got %d", 1+contentWindows, len(chunks))
	}
	if chunks[0].DocID != "covered" {
		t.Fatalf("expected existing chunk first, got %+v", chunks[0])
	}
	if !strings.Contains(chunks[1].Content, "security deposit") {
		t.Fatalf("expected best window to hold the keywords, got %q", chunks[1].Content)
	}
	if chunks[1].Similarity != 0.4 {
		t.Fatalf("expected document similarity on fallback chunk, got %v", chunks[1].Similarity)
	}
}

func notesAndSupplierTerms(folder string) []domain.Document {
	now := time.Now().UTC()
	docs := make([]domain.Document, 0, 12)
	for i := 1; i <= 11; i++ {
		day := now.AddDate(0, 0, -i)
		docs = append(docs, domain.Document{
			ID:       fmt.Sprintf("note-%02d", i),
			OrgID:    "org-1",
			FolderID: "f1",
			Title:    fmt.Sprintf("Note %d", i),
			Content:  "Weekly status note for the office.",
			Metadata: domain.DocumentMetadata{Date: &day},
		})
	}
	old := now.AddDate(-2, 0, 0)
	docs = append(docs, domain.Document{
		ID:       "sup",
		OrgID:    "org-1",
		FolderID: folder,
		Title:    "Supplier terms",
		Content:  "Goods delivered after the agreed date incur a charge of two percent per week.",
		Metadata: domain.DocumentMetadata{Date: &old},
	})
	return docs
}

func TestQueryUseCaseSurfacesDocumentsFoundOnlyByVectorSearch(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = notesAndSupplierTerms("f1")
	env.vectors = &vectorSearchFake{chunks: []domain.Chunk{
		{DocID: "sup", Index: 0, Content: "Goods delivered after the agreed date incur a charge of two percent per week.", Similarity: 0.92},
	}}
	env.reasoner.answers = map[string]string{
		"Supplier terms": "Goods delivered after the agreed date incur a charge of two percent per week.",
	}
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("what penalty applies when shipments arrive late"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("expected answered, got %s (%q)", resp.Outcome, resp.Answer)
	}
	if len(resp.Citations) == 0 || resp.Citations[0].DocID != "sup" {
		t.Fatalf("expected citation of the supplier terms, got %#v", resp.Citations)
	}
	if len(resp.Documents) == 0 || resp.Documents[0].ID != "sup" {
		t.Fatalf("expected supplier terms first, got %#v", resp.Documents)
	}
	if got := env.metadata.lastFilter().AllowedIDs; !reflect.DeepEqual(got, []string{"sup"}) {
		t.Fatalf("expected vector documents loaded by id, got %v", got)
	}
}

func TestQueryUseCaseVectorDocumentsKeepScopeFilters(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = notesAndSupplierTerms("f2")
	env.vectors = &vectorSearchFake{chunks: []domain.Chunk{
		{DocID: "sup", Index: 0, Content: "Goods delivered after the agreed date incur a charge of two percent per week.", Similarity: 0.92},
	}}
	env.reasoner.answers = map[string]string{
		"Supplier terms": "Goods delivered after the agreed date incur a charge of two percent per week.",
	}
	uc := env.build(t)

	req := orgRequest("what penalty applies when shipments arrive late")
	req.Scope = domain.ScopeContext{Scope: domain.ScopeFolder, OrgID: "org-1", FolderID: "f1"}
	resp, err := uc.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	for _, c := range resp.Citations {
		if c.DocID == "sup" {
			t.Fatalf("document outside the folder must not be cited: %#v", resp.Citations)
		}
	}
	for _, d := range resp.Documents {
		if d.ID == "sup" {
			t.Fatalf("document outside the folder must not be used: %#v", resp.Documents)
		}
	}
}

func TestQueryUseCaseCountAnswerIsFullyCovered(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = []domain.Document{
		{ID: "s", OrgID: "org-1", Title: "Fire safety report", Content: "The site has 3 fire exits."},
	}
	env.chunks.chunks = []domain.Chunk{{DocID: "s", Index: 0, Content: "The site has 3 fire exits."}}
	uc := env.build(t)

	resp, err := uc.Answer(context.Background(), orgRequest("how many fire exits does the site have"))
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Routing.Intent != domain.IntentExtract {
		t.Fatalf("expected extract intent, got %s", resp.Routing.Intent)
	}
	if !strings.Contains(resp.Answer, "3") {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if resp.Coverage != 1 {
		t.Fatalf("expected full coverage for a verbatim count, got %v", resp.Coverage)
	}
	if resp.Confidence <= 0.5 {
		t.Fatalf("expected confidence above 0.5, got %v", resp.Confidence)
	}
}

func TestQueryUseCaseDocScopeIncludesVersions(t *testing.T) {
	env := newQueryEnv()
	env.metadata.docs = []domain.Document{
		{ID: "lease-v1", OrgID: "org-1", Title: "Lease v1", Content: "Monthly rent is 1000 EUR."},
		{ID: "lease-v2", OrgID: "org-1", Title: "Lease v2", Content: "Monthly rent rises to 1200 EUR from June."},
		{ID: "other", OrgID: "org-1", Title: "Parking permit", Content: "Parking rent is 50 EUR."},
	}
	env.metadata.versions = map[string][]string{"lease-v1": {"lease-v2"}}
	env.chunks.chunks = []domain.Chunk{
		{DocID: "lease-v1", Index: 0, Content: "Monthly rent is 1000 EUR."},
		{DocID: "lease-v2", Index: 0, Content: "Monthly rent rises to 1200 EUR from June."},
		{DocID: "other", Index: 0, Content: "Parking rent is 50 EUR."},
	}
	env.reasoner.answers = map[string]string{"Lease v2": "Monthly rent rises to 1200 EUR from June."}
	uc := env.build(t)

	req := orgRequest("what is the monthly rent")
	req.Scope = domain.ScopeContext{Scope: domain.ScopeDoc, OrgID: "org-1", DocID: "lease-v1", IncludeVersions: true}
	resp, err := uc.Answer(context.Background(), req)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !env.metadata.filters[0].IncludeVersions {
		t.Fatalf("expected versions requested from metadata search, got %+v", env.metadata.filters[0])
	}
	citedNewer := false
	for _, c := range resp.Citations {
		citedNewer = citedNewer || c.DocID == "lease-v2"
	}
	if !citedNewer {
		t.Fatalf("expected the newer version cited, got %#v", resp.Citations)
	}
	for _, d := range resp.Documents {
		if d.ID == "other" {
			t.Fatalf("document outside the version chain must not be used: %#v", resp.Documents)
		}
	}

	req.Scope.IncludeVersions = false
	if _, err := uc.Answer(context.Background(), req); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if env.metadata.lastFilter().IncludeVersions {
		t.Fatalf("versions must not be requested unless asked for")
	}
}
