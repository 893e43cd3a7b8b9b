package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/core/domain"
)

// Client searches a Qdrant collection whose points carry org_id, doc_id,
// chunk_index, page and text payload fields.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type searchRequest struct {
	Vector         []float32      `json:"vector"`
	Limit          int            `json:"limit"`
	ScoreThreshold float64        `json:"score_threshold"`
	WithPayload    bool           `json:"with_payload"`
	Filter         map[string]any `json:"filter"`
}

type searchResponse struct {
	Result []struct {
		Score   float64        `json:"score"`
		Payload map[string]any `json:"payload"`
	} `json:"result"`
}

// MatchChunks runs a cosine search restricted to orgID.
func (c *Client) MatchChunks(ctx context.Context, orgID string, embedding []float32, matchCount int, threshold float64) ([]domain.Chunk, error) {
	if len(embedding) == 0 || matchCount <= 0 {
		return nil, nil
	}
	body, err := json.Marshal(searchRequest{
		Vector:         embedding,
		Limit:          matchCount,
		ScoreThreshold: threshold,
		WithPayload:    true,
		Filter: map[string]any{
			"must": []map[string]any{
				{"key": "org_id", "match": map[string]any{"value": orgID}},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal search body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s/points/search", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("qdrant search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if msg := strings.TrimSpace(string(raw)); msg != "" {
			return nil, fmt.Errorf("qdrant search status: %s: %s", resp.Status, msg)
		}
		return nil, fmt.Errorf("qdrant search status: %s", resp.Status)
	}

	var decoded searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := make([]domain.Chunk, 0, len(decoded.Result))
	for _, r := range decoded.Result {
		chunk := domain.Chunk{
			DocID:      getStringPayload(r.Payload, "doc_id"),
			Index:      getIntPayload(r.Payload, "chunk_index"),
			Content:    getStringPayload(r.Payload, "text"),
			Similarity: r.Score,
		}
		if _, ok := r.Payload["page"]; ok {
			page := getIntPayload(r.Payload, "page")
			chunk.Page = &page
		}
		if chunk.DocID == "" {
			continue
		}
		out = append(out, chunk)
	}
	return out, nil
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func getIntPayload(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
