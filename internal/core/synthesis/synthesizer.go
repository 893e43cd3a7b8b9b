// Package synthesis turns evidence sets into grounded answers with computed
// coverage and confidence.
package synthesis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/prompting"
)

const (
	notFoundMessage      = "I could not find an answer to that in the documents in this scope."
	degradedPreamble     = "The answering service is temporarily unavailable. These are the most relevant excerpts from %s:"
	clarificationMessage = "I could not find well-supported evidence for that. Could you narrow it down by date range (for example \"last month\"), by document type (for example invoice or contract), or by sender or receiver?"
)

type Config struct {
	CoverageWeight   float64
	SimilarityWeight float64
	StrictThreshold  float64
	MaxDocuments     int
	Workers          int
	SnippetChars     int
	DegradedExcerpts int
	MaxTokens        int
}

func DefaultConfig() Config {
	return Config{
		CoverageWeight:   0.5,
		SimilarityWeight: 0.5,
		StrictThreshold:  0.5,
		MaxDocuments:     3,
		Workers:          4,
		SnippetChars:     240,
		DegradedExcerpts: 3,
		MaxTokens:        700,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.CoverageWeight <= 0 && c.SimilarityWeight <= 0 {
		c.CoverageWeight, c.SimilarityWeight = d.CoverageWeight, d.SimilarityWeight
	}
	if c.StrictThreshold <= 0 || c.StrictThreshold > 1 {
		c.StrictThreshold = d.StrictThreshold
	}
	if c.MaxDocuments <= 0 {
		c.MaxDocuments = d.MaxDocuments
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.SnippetChars <= 0 {
		c.SnippetChars = d.SnippetChars
	}
	if c.DegradedExcerpts <= 0 {
		c.DegradedExcerpts = d.DegradedExcerpts
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Options are per-request synthesis switches.
type Options struct {
	StrictCitations bool
	// Mode skips answer-mode classification when set.
	Mode AnswerMode
}

type Option func(*Synthesizer)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Synthesizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type modeOutput struct {
	Mode AnswerMode `json:"mode"`
}

type Synthesizer struct {
	reasoner     ports.Reasoner
	cfg          Config
	pool         *ants.Pool
	classifyMode prompting.Func[string, modeOutput]
	logger       *slog.Logger
}

func NewSynthesizer(reasoner ports.Reasoner, cfg Config, opts ...Option) (*Synthesizer, error) {
	cfg = cfg.normalize()
	pool, err := ants.NewPool(cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("create synthesis pool: %w", err)
	}

	s := &Synthesizer{
		reasoner: reasoner,
		cfg:      cfg,
		pool:     pool,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if reasoner != nil {
		s.classifyMode = prompting.Define(reasoner, prompting.Config[string, modeOutput]{
			Name:     "classify_answer_mode",
			Render:   buildModePrompt,
			Validate: validateModeOutput,
			Options:  []ports.GenerateOption{ports.WithTemperature(0), ports.WithMaxTokens(40)},
		})
	}
	return s, nil
}

// Close releases the worker pool.
func (s *Synthesizer) Close() {
	s.pool.Release()
}

func (s *Synthesizer) Config() Config {
	return s.cfg
}

// Cite builds the citation for one chunk of doc.
func (s *Synthesizer) Cite(doc domain.Document, c domain.Chunk) domain.Citation {
	return citationFor(doc, c, s.cfg.SnippetChars)
}

// AnswerDocument answers question from one evidence set. It never fails: a
// reasoning failure yields the top excerpts verbatim as a degraded answer.
func (s *Synthesizer) AnswerDocument(ctx context.Context, question string, ev domain.EvidenceSet, mode AnswerMode) domain.SynthesisResult {
	if len(ev.Chunks) == 0 {
		return insufficient(ev.Document)
	}
	if mode == "" {
		mode = ModePlainQA
	}

	prompt := buildAnswerPrompt(answerPrompt{Question: question, Document: ev.Document, Chunks: ev.Chunks, Mode: mode})
	var (
		text string
		err  error
	)
	if s.reasoner == nil {
		err = fmt.Errorf("reasoner is not configured")
	} else {
		text, err = s.reasoner.Generate(ctx, prompt, ports.WithTemperature(0.1), ports.WithMaxTokens(s.cfg.MaxTokens))
	}
	if err != nil {
		s.logger.Warn("synthesis_degraded", "doc_id", ev.Document.ID, "error", err)
		return s.degraded(ev)
	}

	text = strings.TrimSpace(text)
	if text == "" || strings.Contains(strings.ToUpper(text), InsufficientEvidence) {
		return insufficient(ev.Document)
	}

	citations := citeChunks(text, ev, s.cfg.SnippetChars)
	coverage := 0.0
	if len(citations) > 0 {
		coverage = Coverage(text, evidenceTexts(ev))
	}
	return domain.SynthesisResult{
		DocID:      ev.Document.ID,
		Answer:     text,
		Citations:  citations,
		Coverage:   coverage,
		Confidence: s.cfg.Confidence(coverage, ev.AverageSimilarity()),
		Outcome:    domain.OutcomeAnswered,
	}
}

func (s *Synthesizer) degraded(ev domain.EvidenceSet) domain.SynthesisResult {
	top := ev.Chunks
	if len(top) > s.cfg.DegradedExcerpts {
		top = top[:s.cfg.DegradedExcerpts]
	}

	var b strings.Builder
	fmt.Fprintf(&b, degradedPreamble, documentLabel(ev.Document))
	citations := make([]domain.Citation, 0, len(top))
	excerpts := make([]string, 0, len(top))
	for _, c := range top {
		content := strings.TrimSpace(c.Content)
		fmt.Fprintf(&b, "\n\n> %s", strings.ReplaceAll(content, "\n", "\n> "))
		citations = append(citations, citationFor(ev.Document, c, s.cfg.SnippetChars))
		excerpts = append(excerpts, content)
	}

	coverage := Coverage(strings.Join(excerpts, "\n"), evidenceTexts(ev))
	return domain.SynthesisResult{
		DocID:      ev.Document.ID,
		Answer:     b.String(),
		Citations:  citations,
		Coverage:   coverage,
		Confidence: s.cfg.Confidence(coverage, ev.AverageSimilarity()),
		Outcome:    domain.OutcomeDegraded,
	}
}

// Synthesize answers over up to MaxDocuments evidence sets concurrently and
// merges the usable answers in the order the sets were given.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, sets []domain.EvidenceSet, opts Options) domain.SynthesisResult {
	if len(sets) > s.cfg.MaxDocuments {
		sets = sets[:s.cfg.MaxDocuments]
	}
	if len(sets) == 0 {
		return NotFound()
	}

	mode := opts.Mode
	if mode == "" {
		mode = s.ClassifyMode(ctx, question)
	}

	results := make([]domain.SynthesisResult, len(sets))
	var wg sync.WaitGroup
	for i := range sets {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			results[i] = s.AnswerDocument(ctx, question, sets[i], mode)
		}
		if err := s.pool.Submit(task); err != nil {
			s.logger.Debug("synthesis_pool_submit_failed", "error", err)
			task()
		}
	}
	wg.Wait()

	usable := make([]domain.SynthesisResult, 0, len(results))
	titles := make([]string, 0, len(results))
	for i, r := range results {
		if r.Usable() {
			usable = append(usable, r)
			titles = append(titles, documentLabel(sets[i].Document))
		}
	}

	var merged domain.SynthesisResult
	switch len(usable) {
	case 0:
		return NotFound()
	case 1:
		merged = usable[0]
	default:
		merged = mergeResults(usable, titles)
	}

	if opts.StrictCitations && (len(merged.Citations) == 0 || merged.Coverage < s.cfg.StrictThreshold) {
		return Clarification(merged.Coverage, merged.Confidence)
	}
	return merged
}

// ClassifyMode picks the answer prompt. Questions without any tabular or
// arithmetic cue are plain QA without a reasoning call.
func (s *Synthesizer) ClassifyMode(ctx context.Context, question string) AnswerMode {
	if s.classifyMode == nil || !tabularCueRe.MatchString(question) || s.reasoner.BackedOff() {
		return ModePlainQA
	}
	out, err := s.classifyMode(ctx, question)
	if err != nil {
		s.logger.Debug("answer_mode_degraded", "error", err)
		return ModePlainQA
	}
	return out.Mode
}

func mergeResults(usable []domain.SynthesisResult, titles []string) domain.SynthesisResult {
	var b strings.Builder
	citations := make([]domain.Citation, 0)
	coverages := make([]float64, 0, len(usable))
	confidences := make([]float64, 0, len(usable))
	outcome := domain.OutcomeDegraded

	for i, r := range usable {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- **%s**: %s", titles[i], strings.TrimSpace(r.Answer))
		citations = append(citations, r.Citations...)
		coverages = append(coverages, r.Coverage)
		confidences = append(confidences, r.Confidence)
		if r.Outcome == domain.OutcomeAnswered {
			outcome = domain.OutcomeAnswered
		}
	}

	return domain.SynthesisResult{
		Answer:     b.String(),
		Citations:  citations,
		Coverage:   mean(coverages),
		Confidence: mean(confidences),
		Outcome:    outcome,
	}
}

// NotFound is the explicit empty result for a scope with no usable answer.
func NotFound() domain.SynthesisResult {
	return domain.SynthesisResult{
		Answer:    notFoundMessage,
		Citations: []domain.Citation{},
		Outcome:   domain.OutcomeNotFound,
	}
}

// Clarification replaces a weakly grounded answer with a request to narrow
// the question.
func Clarification(coverage, confidence float64) domain.SynthesisResult {
	return domain.SynthesisResult{
		Answer:     clarificationMessage,
		Citations:  []domain.Citation{},
		Coverage:   coverage,
		Confidence: confidence,
		Outcome:    domain.OutcomeClarification,
	}
}

func insufficient(doc domain.Document) domain.SynthesisResult {
	return domain.SynthesisResult{
		DocID:     doc.ID,
		Answer:    fmt.Sprintf("%s does not contain enough information to answer this.", documentLabel(doc)),
		Citations: []domain.Citation{},
		Outcome:   domain.OutcomeInsufficientEvidence,
	}
}

func evidenceTexts(ev domain.EvidenceSet) []string {
	out := make([]string, 0, len(ev.Chunks)+1)
	out = append(out, ev.Document.Title)
	for _, c := range ev.Chunks {
		out = append(out, c.Content)
	}
	return out
}

func validateModeOutput(out *modeOutput) error {
	switch strings.ToLower(strings.TrimSpace(string(out.Mode))) {
	case "tableextract", "table_extract", "table":
		out.Mode = ModeTableExtract
	case "verifysum", "verify_sum", "sum":
		out.Mode = ModeVerifySum
	default:
		out.Mode = ModePlainQA
	}
	return nil
}
