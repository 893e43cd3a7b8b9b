package synthesis

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// InsufficientEvidence is the phrase the model is told to answer with when the
// excerpts do not contain the answer.
const InsufficientEvidence = "INSUFFICIENT_EVIDENCE"

type AnswerMode string

const (
	ModePlainQA      AnswerMode = "PlainQA"
	ModeTableExtract AnswerMode = "TableExtract"
	ModeVerifySum    AnswerMode = "VerifySum"
)

var tabularCueRe = regexp.MustCompile(`(?i)\b(?:table|tabulate|line items?|itemi[sz]e|breakdown|columns?|rows?|sum|total|add up|adds up|subtotal|amounts?|each item|per item)\b`)

type answerPrompt struct {
	Question string
	Document domain.Document
	Chunks   []domain.Chunk
	Mode     AnswerMode
}

func buildAnswerPrompt(p answerPrompt) string {
	var b strings.Builder
	b.WriteString("You answer questions strictly from the document excerpts below.\n")
	b.WriteString("Do not use outside knowledge. Do not guess.\n")
	fmt.Fprintf(&b, "If the excerpts do not contain the answer, reply with exactly %s and nothing else.\n", InsufficientEvidence)

	switch p.Mode {
	case ModeTableExtract:
		b.WriteString("Present the requested data only as a Markdown table, one row per item.\n")
		b.WriteString("If a field is not present in the excerpts, write \"not stated\" in that cell. Never infer missing values.\n")
	case ModeVerifySum:
		b.WriteString("List every line item with its amount in a Markdown table, then add a final row with the computed sum.\n")
		b.WriteString("State the total printed in the document and whether it matches the computed sum.\n")
		b.WriteString("If an amount or the printed total is not present in the excerpts, write \"not stated\". Never infer missing values.\n")
	default:
		b.WriteString("Answer concisely in plain text.\n")
	}

	fmt.Fprintf(&b, "\nDocument: %s\n", documentLabel(p.Document))
	if p.Document.Type != "" {
		fmt.Fprintf(&b, "Type: %s\n", p.Document.Type)
	}
	b.WriteString("\nExcerpts:\n")
	for i, c := range p.Chunks {
		fmt.Fprintf(&b, "[%d]", i+1)
		if c.Page != nil {
			fmt.Fprintf(&b, " (page %d)", *c.Page)
		}
		fmt.Fprintf(&b, " %s\n", strings.TrimSpace(c.Content))
	}
	fmt.Fprintf(&b, "\nQuestion:\n%s\n", p.Question)
	return b.String()
}

func buildModePrompt(question string) string {
	return fmt.Sprintf(`Classify how the question should be answered.
Return strict JSON object with key mode, one of:
PlainQA (a normal answer), TableExtract (the user wants tabular data extracted), VerifySum (the user wants line items checked against a stated total).
No markdown, no extra keys.

Question:
%s
`, question)
}

func documentLabel(doc domain.Document) string {
	if strings.TrimSpace(doc.Title) != "" {
		return doc.Title
	}
	return doc.ID
}
