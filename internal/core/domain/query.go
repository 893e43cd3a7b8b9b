package domain

import "time"

// QueryFilters are explicit caller constraints merged into the query plan.
type QueryFilters struct {
	Sender    string     `json:"sender,omitempty"`
	Receiver  string     `json:"receiver,omitempty"`
	Category  string     `json:"category,omitempty"`
	Type      string     `json:"type,omitempty"`
	DateStart *time.Time `json:"date_start,omitempty"`
	DateEnd   *time.Time `json:"date_end,omitempty"`
}

type QueryOptions struct {
	StrictCitations bool         `json:"strict_citations"`
	Filters         QueryFilters `json:"filters"`
	Vertical        string       `json:"vertical,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

type QueryRequest struct {
	Question Question     `json:"question"`
	Scope    ScopeContext `json:"scope"`
	Options  QueryOptions `json:"options"`
}

type QueryResponse struct {
	ConversationID     string              `json:"conversation_id"`
	Answer             string              `json:"answer"`
	Citations          []Citation          `json:"citations"`
	Coverage           float64             `json:"coverage"`
	Confidence         float64             `json:"confidence"`
	Outcome            Outcome             `json:"outcome"`
	NeedsClarification bool                `json:"needs_clarification"`
	Documents          []CandidateDocument `json:"documents,omitempty"`
	Count              *int                `json:"count,omitempty"`
	Routing            RoutingDecision     `json:"routing"`
}
