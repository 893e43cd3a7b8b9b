package domain

import "time"

type Document struct {
	ID        string           `json:"id"`
	OrgID     string           `json:"org_id"`
	FolderID  string           `json:"folder_id,omitempty"`
	Title     string           `json:"title"`
	Content   string           `json:"content,omitempty"`
	Type      string           `json:"type,omitempty"`
	Metadata  DocumentMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"created_at"`
}

type DocumentMetadata struct {
	Sender   string     `json:"sender,omitempty"`
	Receiver string     `json:"receiver,omitempty"`
	Category string     `json:"category,omitempty"`
	Date     *time.Time `json:"date,omitempty"`
	Tags     []string   `json:"tags,omitempty"`
}

// EffectiveDate is the metadata date when present, otherwise the creation time.
func (d Document) EffectiveDate() time.Time {
	if d.Metadata.Date != nil {
		return *d.Metadata.Date
	}
	return d.CreatedAt
}

// CandidateDocument is a ranked document for a single request.
type CandidateDocument struct {
	Document
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

type Chunk struct {
	DocID      string  `json:"doc_id"`
	Index      int     `json:"index"`
	Content    string  `json:"content"`
	Page       *int    `json:"page,omitempty"`
	Similarity float64 `json:"similarity"`
}

type DocumentLink struct {
	DocID       string `json:"doc_id"`
	LinkedDocID string `json:"linked_doc_id"`
}
