package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// ConversationRepository keeps per-conversation focus in conversation_focus:
// conversation_id, listed_doc_ids (JSONB), discussed_doc_ids (JSONB), updated_at.
type ConversationRepository struct {
	db *sql.DB
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

func (r *ConversationRepository) Focus(ctx context.Context, conversationID string) (domain.FocusState, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT listed_doc_ids, discussed_doc_ids
FROM conversation_focus
WHERE conversation_id = $1
`, conversationID)

	var listedRaw, discussedRaw []byte
	if err := row.Scan(&listedRaw, &discussedRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FocusState{}, nil
		}
		return domain.FocusState{}, fmt.Errorf("load conversation focus: %w", err)
	}

	var state domain.FocusState
	if err := json.Unmarshal(listedRaw, &state.ListedDocIDs); err != nil {
		return domain.FocusState{}, fmt.Errorf("unmarshal listed ids: %w", err)
	}
	if err := json.Unmarshal(discussedRaw, &state.DiscussedDocIDs); err != nil {
		return domain.FocusState{}, fmt.Errorf("unmarshal discussed ids: %w", err)
	}
	return state, nil
}

func (r *ConversationRepository) SaveFocus(ctx context.Context, conversationID string, state domain.FocusState) error {
	listed, err := json.Marshal(nonNil(state.ListedDocIDs))
	if err != nil {
		return fmt.Errorf("marshal listed ids: %w", err)
	}
	discussed, err := json.Marshal(nonNil(state.DiscussedDocIDs))
	if err != nil {
		return fmt.Errorf("marshal discussed ids: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversation_focus (conversation_id, listed_doc_ids, discussed_doc_ids, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (conversation_id) DO UPDATE
SET listed_doc_ids = EXCLUDED.listed_doc_ids,
    discussed_doc_ids = EXCLUDED.discussed_doc_ids,
    updated_at = EXCLUDED.updated_at
`, conversationID, listed, discussed, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save conversation focus: %w", err)
	}
	return nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
