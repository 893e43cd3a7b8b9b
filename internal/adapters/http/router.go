package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docqa/internal/config"
	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/core/ports"
	"github.com/kirillkom/docqa/internal/observability/logging"
	"github.com/kirillkom/docqa/internal/observability/metrics"
)

const (
	serviceName     = "docqa-api"
	orgIDHeader     = "X-Org-Id"
	maxRequestBytes = 1 << 20
)

type Router struct {
	cfg     config.Config
	query   ports.QueryService
	metrics *metrics.HTTPServerMetrics
	logger  *slog.Logger
}

type RouterOption func(*Router)

func WithMetrics(m *metrics.HTTPServerMetrics) RouterOption {
	return func(rt *Router) { rt.metrics = m }
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

func NewRouter(cfg config.Config, query ports.QueryService, opts ...RouterOption) *Router {
	rt := &Router{
		cfg:    cfg,
		query:  query,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/query", rt.answerQuery)
	if rt.metrics != nil {
		mux.Handle("/metrics", rt.metrics.Handler())
	}

	var h http.Handler = mux
	h = backpressureMiddleware(h, rt.cfg.APIBackpressureMaxInFlight, rt.cfg.APIBackpressureWait, rt.onReject("backpressure"))
	h = rateLimitMiddleware(h, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst, rt.onReject("rate_limit"))
	if rt.metrics != nil {
		h = rt.metrics.Middleware(serviceName, h)
	}
	h = accessLogMiddleware(h)
	return requestIDMiddleware(rt.logger, h)
}

func (rt *Router) onReject(reason string) func() {
	if rt.metrics == nil {
		return nil
	}
	return func() { rt.metrics.RecordRejection(serviceName, reason) }
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type queryFilters struct {
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Category  string `json:"category"`
	Type      string `json:"type"`
	DateStart string `json:"date_start"`
	DateEnd   string `json:"date_end"`
}

type queryRequest struct {
	Question        string        `json:"question"`
	ConversationID  string        `json:"conversation_id"`
	History         []domain.Turn `json:"history"`
	OrgID           string        `json:"org_id"`
	Scope           string        `json:"scope"`
	FolderID        string        `json:"folder_id"`
	DocID           string        `json:"doc_id"`
	IncludeLinked   bool          `json:"include_linked"`
	IncludeVersions bool          `json:"include_versions"`
	StrictCitations bool          `json:"strict_citations"`
	Vertical        string        `json:"vertical"`
	Limit           int           `json:"limit"`
	Filters         queryFilters  `json:"filters"`
}

func (rt *Router) answerQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var body queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if body.OrgID == "" {
		body.OrgID = strings.TrimSpace(r.Header.Get(orgIDHeader))
	}

	req, err := body.toDomain()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	if rt.cfg.APIRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.APIRequestTimeout)
		defer cancel()
	}

	resp, err := rt.query.Answer(ctx, req)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		logging.FromContext(r.Context()).Warn("query_rejected", "status", status, "error", err)
		message := err.Error()
		if status >= 500 {
			message = http.StatusText(status)
		}
		writeJSON(w, status, map[string]string{"error": message})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b queryRequest) toDomain() (domain.QueryRequest, error) {
	start, err := parseDay(b.Filters.DateStart)
	if err != nil {
		return domain.QueryRequest{}, fmt.Errorf("filters.date_start: %w", err)
	}
	end, err := parseDay(b.Filters.DateEnd)
	if err != nil {
		return domain.QueryRequest{}, fmt.Errorf("filters.date_end: %w", err)
	}
	if start != nil && end != nil && end.Before(*start) {
		return domain.QueryRequest{}, errors.New("filters.date_end is before filters.date_start")
	}

	scope := domain.Scope(strings.ToLower(strings.TrimSpace(b.Scope)))
	if scope == "" {
		switch {
		case b.DocID != "":
			scope = domain.ScopeDoc
		case b.FolderID != "":
			scope = domain.ScopeFolder
		default:
			scope = domain.ScopeOrg
		}
	}

	return domain.QueryRequest{
		Question: domain.Question{
			Text:           b.Question,
			History:        b.History,
			ConversationID: strings.TrimSpace(b.ConversationID),
		},
		Scope: domain.ScopeContext{
			Scope:           scope,
			OrgID:           b.OrgID,
			DocID:           strings.TrimSpace(b.DocID),
			FolderID:        strings.TrimSpace(b.FolderID),
			IncludeLinked:   b.IncludeLinked,
			IncludeVersions: b.IncludeVersions,
		},
		Options: domain.QueryOptions{
			StrictCitations: b.StrictCitations,
			Vertical:        strings.TrimSpace(b.Vertical),
			Limit:           b.Limit,
			Filters: domain.QueryFilters{
				Sender:    strings.TrimSpace(b.Filters.Sender),
				Receiver:  strings.TrimSpace(b.Filters.Receiver),
				Category:  strings.TrimSpace(b.Filters.Category),
				Type:      strings.TrimSpace(b.Filters.Type),
				DateStart: start,
				DateEnd:   end,
			},
		},
	}, nil
}

// parseDay accepts YYYY-MM-DD or RFC 3339.
func parseDay(v string) (*time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD, got %q", v)
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
