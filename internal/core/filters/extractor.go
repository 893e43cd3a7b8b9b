package filters

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/prompting"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

// Filters are the structured constraints found in a question. Nil means
// unconstrained.
type Filters struct {
	Sender    *string           `json:"sender"`
	Receiver  *string           `json:"receiver"`
	DateRange *domain.DateRange `json:"date_range"`
}

const nameStop = `(?:\s+(?:to|on|in|during|last|this|today|yesterday|about|regarding|with|for|before|after|since|between|from|and)\b|[,;?!\n]|\.(?:\s|$)|$)`

var (
	senderMarkerRe   = regexp.MustCompile(`(?i)\b(?:sent by|sender\s*(?:is|:)|from\s*:)\s*([^,;?!\n]+?)` + nameStop)
	receiverMarkerRe = regexp.MustCompile(`(?i)\b(?:sent to|addressed to|(?:receiver|recipient)\s*(?:is|:)|to\s*:)\s*([^,;?!\n]+?)` + nameStop)
	temporalCueRe    = regexp.MustCompile(`(?i)\b(?:today|yesterday|week|month|year|days|quarter|\d{4}|january|february|march|april|may|june|july|august|september|october|november|december)\b`)
)

var planNoise = map[string]bool{
	"today": true, "yesterday": true, "last": true, "this": true, "week": true,
	"month": true, "year": true, "past": true, "days": true, "sent": true,
	"sender": true, "receiver": true, "recipient": true, "addressed": true,
}

type filterSchema struct {
	Sender     *string `json:"sender"`
	Receiver   *string `json:"receiver"`
	DatePhrase *string `json:"date_phrase"`
	StartDate  *string `json:"start_date"`
	EndDate    *string `json:"end_date"`
}

type Option func(*Extractor)

func WithSynonyms(table SynonymTable) Option {
	return func(e *Extractor) {
		if table != nil {
			e.synonyms = table
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Extractor turns free text into filters and query plans.
type Extractor struct {
	reasoner   ports.Reasoner
	structured prompting.Func[string, filterSchema]
	synonyms   SynonymTable
	now        func() time.Time
	logger     *slog.Logger
}

func NewExtractor(reasoner ports.Reasoner, opts ...Option) *Extractor {
	e := &Extractor{
		reasoner: reasoner,
		synonyms: DefaultSynonyms(),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if reasoner != nil {
		e.structured = prompting.Define(reasoner, prompting.Config[string, filterSchema]{
			Name:     "extract_filters",
			Render:   buildFilterPrompt,
			Validate: validateFilterSchema,
			Options:  []ports.GenerateOption{ports.WithTemperature(0), ports.WithMaxTokens(200)},
		})
	}
	return e
}

func (e *Extractor) Synonyms() SynonymTable {
	return e.synonyms
}

// ExtractFilters never fails: explicit markers are parsed deterministically,
// the reasoning call only fills gaps, and any failure leaves fields nil. A bare
// "from X" is not a sender; it is as likely an organization or a document type.
func (e *Extractor) ExtractFilters(ctx context.Context, question string) Filters {
	ref := e.now()
	var out Filters

	if name := captureName(senderMarkerRe, question); name != "" {
		out.Sender = &name
	}
	if name := captureName(receiverMarkerRe, question); name != "" {
		out.Receiver = &name
	}
	out.DateRange, _ = FindDateRange(question, ref)

	hasSenderMarker := senderMarkerRe.MatchString(question)
	hasReceiverMarker := receiverMarkerRe.MatchString(question)
	hasTemporalCue := temporalCueRe.MatchString(question)

	needsModel := (hasSenderMarker && out.Sender == nil) ||
		(hasReceiverMarker && out.Receiver == nil) ||
		(hasTemporalCue && out.DateRange == nil)
	if !needsModel || e.structured == nil || e.reasoner.BackedOff() {
		return out
	}

	res, err := e.structured(ctx, question)
	if err != nil {
		e.logger.Debug("filter_extraction_degraded", "error", err)
		return out
	}
	if out.Sender == nil && hasSenderMarker && res.Sender != nil {
		out.Sender = res.Sender
	}
	if out.Receiver == nil && hasReceiverMarker && res.Receiver != nil {
		out.Receiver = res.Receiver
	}
	if out.DateRange == nil && hasTemporalCue {
		out.DateRange = resolveModelDates(res, ref)
	}
	return out
}

// BuildPlan derives the query plan from the question, routed entities and
// caller filters. Caller filters take precedence over extracted ones.
func (e *Extractor) BuildPlan(ctx context.Context, question string, routed []domain.Entity, caller domain.QueryFilters) domain.QueryPlan {
	var plan domain.QueryPlan

	for _, kw := range textutil.Keywords(question) {
		if !planNoise[kw] {
			plan.AddTerms(kw)
		}
	}

	entities := append(append([]domain.Entity{}, routed...), textutil.ExtractEntities(question)...)
	for _, ent := range entities {
		plan.AddEntity(ent)
	}

	e.expandTypes(&plan, question)
	for _, ent := range plan.Entities {
		switch ent.Kind {
		case domain.EntityType:
			if !e.expandTypes(&plan, ent.Value) {
				plan.AddTypeFilters(ent.Value)
			}
		case domain.EntityCategory:
			plan.AddCategoryFilters(ent.Value)
		}
	}

	extracted := e.ExtractFilters(ctx, question)
	plan.Sender = extracted.Sender
	plan.Receiver = extracted.Receiver
	plan.DateRange = extracted.DateRange

	if v := strings.TrimSpace(caller.Sender); v != "" {
		plan.Sender = &v
	}
	if v := strings.TrimSpace(caller.Receiver); v != "" {
		plan.Receiver = &v
	}
	if v := strings.TrimSpace(caller.Category); v != "" {
		plan.AddCategoryFilters(v)
	}
	if v := strings.TrimSpace(caller.Type); v != "" {
		if !e.expandTypes(&plan, v) {
			plan.AddTypeFilters(v)
		}
	}
	if caller.DateStart != nil || caller.DateEnd != nil {
		plan.DateRange = callerDateRange(caller, plan.DateRange)
	}
	return plan
}

func (e *Extractor) expandTypes(plan *domain.QueryPlan, text string) bool {
	matched := e.synonyms.Match(text)
	for _, canonical := range matched {
		plan.AddTypeFilters(canonical)
		plan.AddBoostTerms(e.synonyms[canonical]...)
	}
	return len(matched) > 0
}

func captureName(re *regexp.Regexp, question string) string {
	m := re.FindStringSubmatch(question)
	if len(m) < 2 {
		return ""
	}
	name := strings.TrimSpace(strings.Trim(m[1], `"'`))
	if name == "" || len(name) > 120 || textutil.IsStopWord(name) {
		return ""
	}
	return name
}

func resolveModelDates(res filterSchema, ref time.Time) *domain.DateRange {
	if res.DatePhrase != nil {
		if r := ParseRelativeDateRange(*res.DatePhrase, ref); r != nil {
			return r
		}
	}
	if res.StartDate == nil || res.EndDate == nil {
		return nil
	}
	start, err := time.ParseInLocation("2006-01-02", *res.StartDate, ref.Location())
	if err != nil {
		return nil
	}
	end, err := time.ParseInLocation("2006-01-02", *res.EndDate, ref.Location())
	if err != nil || end.Before(start) {
		return nil
	}
	return &domain.DateRange{Start: start, End: end}
}

func callerDateRange(caller domain.QueryFilters, fallback *domain.DateRange) *domain.DateRange {
	out := domain.DateRange{}
	if fallback != nil {
		out = *fallback
	}
	if caller.DateStart != nil {
		out.Start = startOfDay(*caller.DateStart)
	}
	if caller.DateEnd != nil {
		out.End = startOfDay(*caller.DateEnd)
	}
	if out.End.IsZero() {
		out.End = startOfDay(time.Date(9999, 12, 31, 0, 0, 0, 0, out.Start.Location()))
	}
	return &out
}

func validateFilterSchema(out *filterSchema) error {
	out.Sender = cleanOptional(out.Sender)
	out.Receiver = cleanOptional(out.Receiver)
	out.DatePhrase = cleanOptional(out.DatePhrase)
	out.StartDate = cleanOptional(out.StartDate)
	out.EndDate = cleanOptional(out.EndDate)
	return nil
}

func cleanOptional(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	switch strings.ToLower(s) {
	case "", "null", "none", "n/a", "unknown":
		return nil
	}
	if len(s) > 120 {
		return nil
	}
	return &s
}

func buildFilterPrompt(question string) string {
	return fmt.Sprintf(`Extract search filters from the user question.
Return strict JSON object with keys:
sender (string or null), receiver (string or null), date_phrase (string or null), start_date (YYYY-MM-DD or null), end_date (YYYY-MM-DD or null).
Only set sender or receiver when the question names them explicitly. No markdown, no extra keys.

Question:
%s
`, question)
}
