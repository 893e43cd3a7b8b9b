// Package routing decides how a question is answered: which intent, which
// tools, and how confident the decision is.
package routing

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/core/prompting"
	"github.com/kirillkom/docqa/internal/core/retrieval"
	"github.com/kirillkom/docqa/internal/core/textutil"
)

const (
	toolMetadataSearch = "metadata_search"
	toolCountDocuments = "count_documents"
	toolCompare        = "compare_documents"
	toolLinked         = "linked_documents"
	toolExtractField   = "extract_field"
	toolContentSearch  = "content_search"
	toolChat           = "chat"

	folderDefaultConfidence  = 0.6
	contentDefaultConfidence = 0.55
	historyTurns             = 4
)

const docNouns = `documents?|files?|docs?|records?|invoices?|bills?|receipts?|contracts?|agreements?|reports?|letters?|resumes?|cvs?|inspections?|policies|policy|certificates?|statements?|memos?|notices?`

var (
	listVerbRe    = regexp.MustCompile(`^(?:(?:can|could|would) you\s+|please\s+)?(?:list|show(?:\s+me)?|find|search(?:\s+for)?|get(?:\s+me)?|give\s+me|pull\s+up|fetch)\b`)
	listWhichRe   = regexp.MustCompile(`^(?:which|what)\s+(?:` + docNouns + `)\b`)
	docNounRe     = regexp.MustCompile(`\b(?:` + docNouns + `)\b`)
	folderCountRe = regexp.MustCompile(`\bhow many\s+(?:documents|files|docs)\b|\bcount\s+(?:the\s+|all\s+)?(?:documents|files|docs)\b|\bnumber of\s+(?:documents|files|docs)\b`)
	entityCountRe = regexp.MustCompile(`\b(?:how many|number of|count of|count)\s+(?:the\s+|all\s+)?([a-z]+)`)
	compareRe     = regexp.MustCompile(`\b(?:compare|comparison|contrast|differences? between|versus|vs\.?)(?:\s|$)`)
	linkedRe      = regexp.MustCompile(`\b(?:linked|related|connected|attached|referenced)\s+(?:` + docNouns + `)\b|\b(?:` + docNouns + `)\s+(?:linked|related|connected|attached)\s+to\b|\blinks?\s+(?:to|between)\b`)
	firRe         = regexp.MustCompile(`\bfir\b`)
)

type Option func(*Router)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTypeMatcher lets list and count matchers recognize document type words
// beyond the built-in nouns.
func WithTypeMatcher(match func(string) []string) Option {
	return func(r *Router) {
		if match != nil {
			r.matchTypes = match
		}
	}
}

type Router struct {
	reasoner   ports.Reasoner
	classify   prompting.Func[routeInput, routeOutput]
	matchTypes func(string) []string
	logger     *slog.Logger
}

func NewRouter(reasoner ports.Reasoner, opts ...Option) *Router {
	r := &Router{
		reasoner:   reasoner,
		matchTypes: func(string) []string { return nil },
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if reasoner != nil {
		r.classify = prompting.Define(reasoner, prompting.Config[routeInput, routeOutput]{
			Name:     "route_question",
			Render:   buildRoutePrompt,
			Validate: validateRouteOutput,
			Options:  []ports.GenerateOption{ports.WithTemperature(0), ports.WithMaxTokens(300)},
		})
	}
	return r
}

// Route always returns a decision: deterministic matchers first, then the
// classifier, then a scope default.
func (r *Router) Route(ctx context.Context, q domain.Question, scope domain.ScopeContext) domain.RoutingDecision {
	decision := r.route(ctx, q, scope)
	decision.Scope = scope.Scope
	if decision.Scope == "" {
		decision.Scope = domain.ScopeOrg
	}
	r.logger.Debug("route_decision",
		"intent", decision.Intent,
		"source", decision.Source,
		"confidence", decision.Confidence,
		"scope", decision.Scope,
	)
	return decision
}

func (r *Router) route(ctx context.Context, q domain.Question, scope domain.ScopeContext) domain.RoutingDecision {
	text := strings.TrimSpace(q.Text)
	if len(textutil.Tokenize(text)) < 2 {
		return domain.RoutingDecision{
			Intent:                domain.IntentClarify,
			Action:                "ask_clarification",
			Confidence:            1,
			NeedsClarification:    true,
			ClarificationQuestion: "Could you describe what you are looking for in a bit more detail?",
			AgentType:             domain.AgentContent,
			Source:                domain.RouteDeterministic,
		}
	}

	if d, ok := r.matchDeterministic(text, scope); ok {
		d.Source = domain.RouteDeterministic
		d.RequiredEntities = textutil.ExtractEntities(text)
		return d
	}

	if r.classify != nil && !r.reasoner.BackedOff() {
		out, err := r.classify(ctx, routeInput{Question: text, History: q.History, Scope: scope.Scope})
		if err == nil {
			return fromClassifier(out, scope)
		}
		r.logger.Debug("route_classifier_failed", "error", err)
	}

	return scopeDefault(scope)
}

func (r *Router) matchDeterministic(text string, scope domain.ScopeContext) (domain.RoutingDecision, bool) {
	lower := strings.ToLower(text)
	_, asksField := retrieval.DetectFieldRequest(text)
	mentionsDocs := docNounRe.MatchString(lower) || len(r.matchTypes(lower)) > 0

	if !asksField && (listWhichRe.MatchString(lower) || (listVerbRe.MatchString(lower) && mentionsDocs)) {
		return domain.RoutingDecision{
			Intent:           domain.IntentList,
			Action:           "list_documents",
			PrimaryTool:      toolMetadataSearch,
			Confidence:       0.9,
			AgentType:        domain.AgentMetadata,
			ClassifiedIntent: domain.ClassifiedFindFiles,
		}, true
	}

	if folderCountRe.MatchString(lower) && (scope.Scope == domain.ScopeFolder || strings.Contains(lower, "folder")) {
		return domain.RoutingDecision{
			Intent:           domain.IntentCount,
			Action:           "count_folder_documents",
			PrimaryTool:      toolCountDocuments,
			Confidence:       0.95,
			AgentType:        domain.AgentMetadata,
			ClassifiedIntent: domain.ClassifiedMetadata,
		}, true
	}

	if m := entityCountRe.FindStringSubmatch(lower); m != nil && r.isDocumentNoun(m[1]) {
		return domain.RoutingDecision{
			Intent:           domain.IntentCount,
			Action:           "count_documents",
			PrimaryTool:      toolCountDocuments,
			SupportingTools:  []string{toolMetadataSearch},
			Confidence:       0.85,
			AgentType:        domain.AgentMetadata,
			ClassifiedIntent: domain.ClassifiedMetadata,
		}, true
	}

	if compareRe.MatchString(lower) {
		return domain.RoutingDecision{
			Intent:           domain.IntentCompare,
			Action:           "compare_documents",
			PrimaryTool:      toolCompare,
			SupportingTools:  []string{toolContentSearch},
			Confidence:       0.85,
			AgentType:        domain.AgentContent,
			ClassifiedIntent: domain.ClassifiedCompare,
		}, true
	}

	if linkedRe.MatchString(lower) {
		return domain.RoutingDecision{
			Intent:           domain.IntentLinked,
			Action:           "list_linked_documents",
			PrimaryTool:      toolLinked,
			Confidence:       0.85,
			AgentType:        domain.AgentMetadata,
			ClassifiedIntent: domain.ClassifiedLinked,
		}, true
	}

	if asksField || firRe.MatchString(lower) {
		// Field extraction over a whole folder narrows too aggressively.
		if scope.Scope == domain.ScopeFolder {
			return domain.RoutingDecision{
				Intent:           domain.IntentContentQA,
				Action:           "answer_from_content",
				PrimaryTool:      toolContentSearch,
				Confidence:       0.75,
				AgentType:        domain.AgentContent,
				ClassifiedIntent: domain.ClassifiedContentQA,
			}, true
		}
		return domain.RoutingDecision{
			Intent:           domain.IntentExtract,
			Action:           "extract_field",
			PrimaryTool:      toolExtractField,
			SupportingTools:  []string{toolContentSearch},
			Confidence:       0.8,
			AgentType:        domain.AgentContent,
			ClassifiedIntent: domain.ClassifiedExtract,
		}, true
	}

	return domain.RoutingDecision{}, false
}

func (r *Router) isDocumentNoun(word string) bool {
	return docNounRe.MatchString(word) || len(r.matchTypes(word)) > 0
}

func scopeDefault(scope domain.ScopeContext) domain.RoutingDecision {
	if scope.Scope == domain.ScopeFolder {
		return domain.RoutingDecision{
			Intent:           domain.IntentFolderQA,
			Action:           "answer_across_folder",
			PrimaryTool:      toolContentSearch,
			Confidence:       folderDefaultConfidence,
			AgentType:        domain.AgentContent,
			ClassifiedIntent: domain.ClassifiedContentQA,
			Source:           domain.RouteDefault,
		}
	}
	return domain.RoutingDecision{
		Intent:           domain.IntentContentQA,
		Action:           "answer_from_content",
		PrimaryTool:      toolContentSearch,
		Confidence:       contentDefaultConfidence,
		AgentType:        domain.AgentContent,
		ClassifiedIntent: domain.ClassifiedContentQA,
		Source:           domain.RouteDefault,
	}
}

func fromClassifier(out routeOutput, scope domain.ScopeContext) domain.RoutingDecision {
	d := domain.RoutingDecision{
		ClassifiedIntent: out.Intent,
		Confidence:       out.Confidence,
		Source:           domain.RouteClassifier,
		RequiredEntities: out.entities(),
	}
	if out.NeedsClarification {
		d.Intent = domain.IntentClarify
		d.Action = "ask_clarification"
		d.NeedsClarification = true
		d.ClarificationQuestion = out.ClarificationQuestion
		d.AgentType = domain.AgentContent
		return d
	}

	switch out.Intent {
	case domain.ClassifiedFindFiles, domain.ClassifiedMetadata, domain.ClassifiedTimeline:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentList, "list_documents", toolMetadataSearch, domain.AgentMetadata
	case domain.ClassifiedLinked:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentLinked, "list_linked_documents", toolLinked, domain.AgentMetadata
	case domain.ClassifiedCompare:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentCompare, "compare_documents", toolCompare, domain.AgentContent
	case domain.ClassifiedExtract:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentExtract, "extract_field", toolExtractField, domain.AgentContent
		d.SupportingTools = []string{toolContentSearch}
	case domain.ClassifiedCasual:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentCasual, "chat", toolChat, domain.AgentCasual
	default:
		d.Intent, d.Action, d.PrimaryTool, d.AgentType = domain.IntentContentQA, "answer_from_content", toolContentSearch, domain.AgentContent
		if scope.Scope == domain.ScopeFolder {
			d.Intent, d.Action = domain.IntentFolderQA, "answer_across_folder"
		}
	}
	return d
}

type routeInput struct {
	Question string
	History  []domain.Turn
	Scope    domain.Scope
}

type routeEntity struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type routeOutput struct {
	Intent                domain.ClassifiedIntent `json:"intent"`
	Confidence            float64                 `json:"confidence"`
	NeedsClarification    bool                    `json:"needs_clarification"`
	ClarificationQuestion string                  `json:"clarification_question"`
	Entities              []routeEntity           `json:"entities"`
}

func (o routeOutput) entities() []domain.Entity {
	out := make([]domain.Entity, 0, len(o.Entities))
	for _, e := range o.Entities {
		out = append(out, domain.Entity{Kind: domain.EntityKind(e.Kind), Value: e.Value})
	}
	return out
}

func validateRouteOutput(out *routeOutput) error {
	intent, ok := normalizeIntent(string(out.Intent))
	if !ok {
		return fmt.Errorf("unknown intent %q", out.Intent)
	}
	out.Intent = intent

	if out.Confidence <= 0 || out.Confidence > 1 {
		out.Confidence = 0.7
	}
	out.ClarificationQuestion = strings.TrimSpace(out.ClarificationQuestion)
	if out.NeedsClarification && out.ClarificationQuestion == "" {
		out.ClarificationQuestion = "Could you narrow the question down, for example by document, date or sender?"
	}

	kept := out.Entities[:0]
	for _, e := range out.Entities {
		e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
		e.Value = strings.TrimSpace(e.Value)
		if e.Value == "" {
			continue
		}
		switch domain.EntityKind(e.Kind) {
		case domain.EntityPerson, domain.EntityOrganization, domain.EntityEmail, domain.EntityCategory, domain.EntityType:
			kept = append(kept, e)
		}
	}
	out.Entities = kept
	return nil
}

func normalizeIntent(raw string) (domain.ClassifiedIntent, bool) {
	key := strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(raw))
	for _, intent := range domain.ClassifiedIntents {
		if strings.ToLower(string(intent)) == key {
			return intent, true
		}
	}
	return "", false
}

func buildRoutePrompt(in routeInput) string {
	var b strings.Builder
	b.WriteString("Classify the user's question about their documents.\n")
	b.WriteString("Return strict JSON object with keys:\n")
	b.WriteString("intent (one of: ")
	for i, intent := range domain.ClassifiedIntents {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(intent))
	}
	b.WriteString("), confidence (0..1), needs_clarification (bool), clarification_question (string), ")
	b.WriteString("entities (array of {kind: person|organization|email|category|type, value}).\n")
	b.WriteString("Set needs_clarification only when the question cannot be answered without more detail. No markdown.\n\n")

	fmt.Fprintf(&b, "Scope: %s\n", in.Scope)
	history := in.History
	if len(history) > historyTurns {
		history = history[len(history)-historyTurns:]
	}
	if len(history) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "%s: %s\n", turn.Role, strings.TrimSpace(turn.Content))
		}
	}
	fmt.Fprintf(&b, "\nQuestion:\n%s\n", in.Question)
	return b.String()
}
