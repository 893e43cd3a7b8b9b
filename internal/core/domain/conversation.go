package domain

type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Question is immutable for the lifetime of a request.
type Question struct {
	Text           string `json:"text"`
	History        []Turn `json:"history,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type Scope string

const (
	ScopeOrg    Scope = "org"
	ScopeFolder Scope = "folder"
	ScopeDoc    Scope = "doc"
)

// ScopeContext bounds the eligible documents. IncludeLinked and
// IncludeVersions only apply to doc scope.
type ScopeContext struct {
	Scope           Scope  `json:"scope"`
	OrgID           string `json:"org_id"`
	DocID           string `json:"doc_id,omitempty"`
	FolderID        string `json:"folder_id,omitempty"`
	IncludeLinked   bool   `json:"include_linked,omitempty"`
	IncludeVersions bool   `json:"include_versions,omitempty"`
}

// FocusState is what a conversation most recently listed and discussed.
type FocusState struct {
	ListedDocIDs    []string `json:"listed_doc_ids,omitempty"`
	DiscussedDocIDs []string `json:"discussed_doc_ids,omitempty"`
}
