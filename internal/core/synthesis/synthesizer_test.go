package synthesis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
)

type docReasoner struct {
	mu              sync.Mutex
	answers         map[string]string
	delays          map[string]time.Duration
	err             error
	structured      string
	structuredCalls int
	prompts         []string
}

func (r *docReasoner) Generate(_ context.Context, prompt string, _ ...ports.GenerateOption) (string, error) {
	r.mu.Lock()
	r.prompts = append(r.prompts, prompt)
	r.mu.Unlock()

	if r.err != nil {
		return "", r.err
	}
	for title, answer := range r.answers {
		if strings.Contains(prompt, "Document: "+title+"\n") {
			if d := r.delays[title]; d > 0 {
				time.Sleep(d)
			}
			return answer, nil
		}
	}
	return InsufficientEvidence, nil
}

func (r *docReasoner) GenerateStructured(context.Context, string, ...ports.GenerateOption) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.structuredCalls++
	return r.structured, nil
}

func (r *docReasoner) BackedOff() bool { return false }

func newTestSynthesizer(t *testing.T, r ports.Reasoner) *Synthesizer {
	t.Helper()
	s, err := NewSynthesizer(r, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func evidence(id, title string, sim float64, contents ...string) domain.EvidenceSet {
	set := domain.EvidenceSet{Document: domain.Document{ID: id, Title: title}}
	for i, c := range contents {
		set.Chunks = append(set.Chunks, domain.Chunk{DocID: id, Index: i, Content: c, Similarity: sim})
	}
	return set
}

func TestSynthesizeWithoutDocumentsIsNotFound(t *testing.T) {
	s := newTestSynthesizer(t, &docReasoner{})

	got := s.Synthesize(context.Background(), "what is the penalty clause", nil, Options{})
	assert.Equal(t, domain.OutcomeNotFound, got.Outcome)
	assert.Equal(t, notFoundMessage, got.Answer)
	assert.Empty(t, got.Citations)
	assert.NotNil(t, got.Citations)
	assert.Zero(t, got.Coverage)
	assert.Zero(t, got.Confidence)
}

func TestSynthesizeSingleUsableAnswerPassesThrough(t *testing.T) {
	r := &docReasoner{answers: map[string]string{"Lease B": "Pets are allowed with a deposit of 300 dollars."}}
	s := newTestSynthesizer(t, r)

	a := evidence("a", "Lease A", 0.6, "Parking is available on site.")
	b := evidence("b", "Lease B", 0.8, "Pets are allowed with a deposit of 300 dollars per animal.")
	c := evidence("c", "Lease C", 0.5, "Rent is due monthly.")

	got := s.Synthesize(context.Background(), "are pets allowed", []domain.EvidenceSet{a, b, c}, Options{})
	want := s.AnswerDocument(context.Background(), "are pets allowed", b, ModePlainQA)

	assert.Equal(t, want, got)
	assert.Equal(t, domain.OutcomeAnswered, got.Outcome)
	assert.False(t, strings.HasPrefix(got.Answer, "- "))
	require.Len(t, got.Citations, 1)
	assert.Equal(t, "b", got.Citations[0].DocID)
}

func TestSynthesizeMergesInRankOrder(t *testing.T) {
	r := &docReasoner{
		answers: map[string]string{
			"Lease A": "Parking is available on site.",
			"Lease B": "Pets are allowed with a deposit.",
		},
		delays: map[string]time.Duration{"Lease A": 30 * time.Millisecond},
	}
	s := newTestSynthesizer(t, r)

	a := evidence("a", "Lease A", 0.6, "Parking is available on site for tenants.")
	b := evidence("b", "Lease B", 0.8, "Pets are allowed with a deposit.")
	c := evidence("c", "Lease C", 0.9, "Nothing relevant here.")
	d := evidence("d", "Lease D", 0.9, "Parking is available on site for tenants.")

	got := s.Synthesize(context.Background(), "what do the leases say", []domain.EvidenceSet{a, b, c, d}, Options{})
	assert.Equal(t, "- **Lease A**: Parking is available on site.\n- **Lease B**: Pets are allowed with a deposit.", got.Answer)
	require.Len(t, got.Citations, 2)
	assert.Equal(t, "a", got.Citations[0].DocID)
	assert.Equal(t, "b", got.Citations[1].DocID)

	first := s.AnswerDocument(context.Background(), "q", a, ModePlainQA)
	second := s.AnswerDocument(context.Background(), "q", b, ModePlainQA)
	assert.InDelta(t, (first.Coverage+second.Coverage)/2, got.Coverage, 1e-9)
	assert.InDelta(t, (first.Confidence+second.Confidence)/2, got.Confidence, 1e-9)

	for _, p := range r.prompts {
		assert.NotContains(t, p, "Document: Lease D\n", "only the top documents are answered")
	}
}

func TestStrictCitationsTurnsWeakAnswerIntoClarification(t *testing.T) {
	answer := "alpha bravo charlie delta echo foxtrot golf hotel india juliet"
	r := &docReasoner{answers: map[string]string{"Memo": answer}}
	s := newTestSynthesizer(t, r)
	ev := evidence("m", "Memo", 0.4, "alpha bravo charlie and some unrelated words")

	loose := s.Synthesize(context.Background(), "what happened", []domain.EvidenceSet{ev}, Options{})
	require.Equal(t, domain.OutcomeAnswered, loose.Outcome)
	assert.InDelta(t, 0.3, loose.Coverage, 1e-9)
	assert.NotEmpty(t, loose.Citations)

	strict := s.Synthesize(context.Background(), "what happened", []domain.EvidenceSet{ev}, Options{StrictCitations: true})
	assert.Equal(t, domain.OutcomeClarification, strict.Outcome)
	assert.Empty(t, strict.Citations)
	assert.Contains(t, strict.Answer, "date range")
	assert.Contains(t, strict.Answer, "document type")
	assert.Contains(t, strict.Answer, "sender or receiver")
}

func TestAnswerDocumentDegradesToExcerpts(t *testing.T) {
	s := newTestSynthesizer(t, &docReasoner{err: errors.New("provider backed off")})
	ev := evidence("r", "Report", 0.7, "first excerpt text", "second excerpt text", "third excerpt text", "fourth excerpt text")

	got := s.AnswerDocument(context.Background(), "summarize", ev, ModePlainQA)
	assert.Equal(t, domain.OutcomeDegraded, got.Outcome)
	assert.Contains(t, got.Answer, "temporarily unavailable")
	assert.Contains(t, got.Answer, "> first excerpt text")
	assert.Contains(t, got.Answer, "> third excerpt text")
	assert.NotContains(t, got.Answer, "fourth excerpt text")
	assert.Len(t, got.Citations, 3)
	assert.True(t, got.Usable())
}

func TestAnswerDocumentWithoutCitationsHasZeroCoverage(t *testing.T) {
	r := &docReasoner{answers: map[string]string{"Report": "Completely unrelated statement."}}
	s := newTestSynthesizer(t, r)

	got := s.AnswerDocument(context.Background(), "q", evidence("r", "Report", 0.8, "budget figures for march"), ModePlainQA)
	assert.Empty(t, got.Citations)
	assert.Zero(t, got.Coverage)
	assert.InDelta(t, 0.4, got.Confidence, 1e-9)
}

func TestAnswerDocumentSentinelIsInsufficientEvidence(t *testing.T) {
	r := &docReasoner{answers: map[string]string{"Report": "insufficient_evidence"}}
	s := newTestSynthesizer(t, r)

	got := s.AnswerDocument(context.Background(), "q", evidence("r", "Report", 0.8, "text"), ModePlainQA)
	assert.Equal(t, domain.OutcomeInsufficientEvidence, got.Outcome)
	assert.False(t, got.Usable())
	assert.Empty(t, got.Citations)
}

func TestConfidenceBlendsAndClamps(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 0.9, cfg.Confidence(1, 0.8), 1e-9)
	assert.InDelta(t, 1.0, cfg.Confidence(1, 5), 1e-9)
	assert.Equal(t, 0.0, cfg.Confidence(-1, -1))

	custom := Config{CoverageWeight: 0.8, SimilarityWeight: 0.2}
	assert.InDelta(t, 0.5, custom.Confidence(0.5, 0.5), 1e-9)
}

func TestCoverage(t *testing.T) {
	assert.Equal(t, 1.0, Coverage("Total due is 500 dollars", []string{"The total due: 500 dollars"}))
	assert.Equal(t, 0.0, Coverage("", []string{"x"}))
	assert.InDelta(t, 0.5, Coverage("invoice paid", []string{"invoice pending"}), 1e-9)
}

func TestTableQuestionsUseTablePrompt(t *testing.T) {
	r := &docReasoner{
		answers:    map[string]string{"Invoice 7": "| item | amount |\n|---|---|\n| bolts | 40 |"},
		structured: `{"mode":"TableExtract"}`,
	}
	s := newTestSynthesizer(t, r)
	ev := evidence("i", "Invoice 7", 0.7, "bolts 40 nuts 25")

	got := s.Synthesize(context.Background(), "put the line items in a table", []domain.EvidenceSet{ev}, Options{})
	assert.Equal(t, domain.OutcomeAnswered, got.Outcome)
	assert.Equal(t, 1, r.structuredCalls)
	require.NotEmpty(t, r.prompts)
	assert.Contains(t, r.prompts[0], "Markdown table")
	assert.Contains(t, r.prompts[0], "not stated")
}

func TestClassifyModeSkipsReasonerWithoutTabularCue(t *testing.T) {
	r := &docReasoner{structured: `{"mode":"VerifySum"}`}
	s := newTestSynthesizer(t, r)

	assert.Equal(t, ModePlainQA, s.ClassifyMode(context.Background(), "who signed the lease"))
	assert.Zero(t, r.structuredCalls)
	assert.Equal(t, ModeVerifySum, s.ClassifyMode(context.Background(), "do the line items add up to the total?"))
}
