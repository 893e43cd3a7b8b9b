package nats

import (
	"errors"
	"fmt"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/docqa/internal/core/domain"
)

func TestDecodeReplyRestoresErrorKinds(t *testing.T) {
	_, err := decodeReply([]byte(`{"error":{"kind":"invalid_input","message":"question is required"}}`))
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	_, err = decodeReply([]byte(`{"error":{"kind":"temporary","message":"search metadata: timeout"}}`))
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}

	_, err = decodeReply([]byte(`{}`))
	if !domain.IsKind(err, domain.ErrMalformedOutput) {
		t.Fatalf("expected ErrMalformedOutput for empty reply, got %v", err)
	}

	resp, err := decodeReply([]byte(`{"response":{"conversation_id":"c-1","answer":"ok","citations":[],"outcome":"answered"}}`))
	if err != nil {
		t.Fatalf("decodeReply() error = %v", err)
	}
	if resp.ConversationID != "c-1" || resp.Outcome != domain.OutcomeAnswered {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestReplyErrorFromKeepsInputErrorsDistinct(t *testing.T) {
	invalid := domain.WrapError(domain.ErrInvalidInput, "answer query", errors.New("org_id is required"))
	if got := replyErrorFrom(invalid); got.Kind != kindInvalidInput {
		t.Fatalf("expected invalid_input, got %q", got.Kind)
	}
	if got := replyErrorFrom(errors.New("db down")); got.Kind != kindTemporary {
		t.Fatalf("expected temporary, got %q", got.Kind)
	}
}

func TestClassifyNATSErrorRetriesTransportFailures(t *testing.T) {
	if class := classifyNATSError(fmt.Errorf("nats request: %w", nats.ErrTimeout)); !class.Retryable {
		t.Fatalf("expected timeout to be retryable")
	}
	if class := classifyNATSError(nats.ErrNoResponders); !class.Retryable || class.RecordFailure {
		t.Fatalf("expected no-responders to retry without tripping the breaker, got %+v", class)
	}
	if class := classifyNATSError(nats.ErrBadSubject); class.Retryable {
		t.Fatalf("expected bad subject to be permanent")
	}
	if err := wrapTemporaryIfNeeded(nats.ErrTimeout); !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected ErrTemporary, got %v", err)
	}
}
