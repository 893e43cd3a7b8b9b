package domain

type Intent string

const (
	IntentList      Intent = "list"
	IntentCount     Intent = "count"
	IntentCompare   Intent = "compare"
	IntentLinked    Intent = "linked"
	IntentExtract   Intent = "extract"
	IntentContentQA Intent = "content_qa"
	IntentFolderQA  Intent = "folder_qa"
	IntentClarify   Intent = "clarify"
	IntentCasual    Intent = "casual"
)

// ClassifiedIntent is the closed label set of the reasoning-based classifier.
type ClassifiedIntent string

const (
	ClassifiedFindFiles ClassifiedIntent = "FindFiles"
	ClassifiedMetadata  ClassifiedIntent = "Metadata"
	ClassifiedContentQA ClassifiedIntent = "ContentQA"
	ClassifiedLinked    ClassifiedIntent = "Linked"
	ClassifiedPreview   ClassifiedIntent = "Preview"
	ClassifiedTimeline  ClassifiedIntent = "Timeline"
	ClassifiedExtract   ClassifiedIntent = "Extract"
	ClassifiedAnalysis  ClassifiedIntent = "Analysis"
	ClassifiedSummarize ClassifiedIntent = "Summarize"
	ClassifiedCompare   ClassifiedIntent = "Compare"
	ClassifiedSentiment ClassifiedIntent = "Sentiment"
	ClassifiedCasual    ClassifiedIntent = "Casual"
	ClassifiedCustom    ClassifiedIntent = "Custom"
)

var ClassifiedIntents = []ClassifiedIntent{
	ClassifiedFindFiles, ClassifiedMetadata, ClassifiedContentQA, ClassifiedLinked,
	ClassifiedPreview, ClassifiedTimeline, ClassifiedExtract, ClassifiedAnalysis,
	ClassifiedSummarize, ClassifiedCompare, ClassifiedSentiment, ClassifiedCasual,
	ClassifiedCustom,
}

type AgentType string

const (
	AgentMetadata AgentType = "metadata"
	AgentContent  AgentType = "content"
	AgentCasual   AgentType = "casual"
)

type RouteSource string

const (
	RouteDeterministic RouteSource = "deterministic"
	RouteClassifier    RouteSource = "classifier"
	RouteDefault       RouteSource = "default"
)

// Target biases list display or retrieval towards specific documents.
type Target struct {
	Ordinal  int      `json:"ordinal,omitempty"`
	UseFocus bool     `json:"use_focus,omitempty"`
	DocIDs   []string `json:"doc_ids,omitempty"`
}

func (t Target) Empty() bool {
	return t.Ordinal == 0 && !t.UseFocus && len(t.DocIDs) == 0
}

// RoutingDecision is computed once per question.
type RoutingDecision struct {
	Intent                Intent           `json:"intent"`
	Scope                 Scope            `json:"scope"`
	Action                string           `json:"action"`
	PrimaryTool           string           `json:"primary_tool"`
	SupportingTools       []string         `json:"supporting_tools,omitempty"`
	Target                Target           `json:"target"`
	RequiredEntities      []Entity         `json:"required_entities,omitempty"`
	Confidence            float64          `json:"confidence"`
	NeedsClarification    bool             `json:"needs_clarification"`
	ClarificationQuestion string           `json:"clarification_question,omitempty"`
	AgentType             AgentType        `json:"agent_type"`
	ClassifiedIntent      ClassifiedIntent `json:"classified_intent,omitempty"`
	Source                RouteSource      `json:"source"`
}
