package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/panjf2000/ants/v2"

	"github.com/kirillkom/docqa/internal/core/domain"
	"github.com/kirillkom/docqa/internal/infrastructure/resilience"
)

// QueryHandler answers one decoded request.
type QueryHandler func(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error)

// Queue carries QueryRequest/QueryResponse JSON over NATS request/reply.
type Queue struct {
	conn     *nats.Conn
	subject  string
	group    string
	executor *resilience.Executor
	workers  int
	timeout  time.Duration
	logger   *slog.Logger
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
	// QueueGroup load-balances subscribers; defaults to "query-workers".
	QueueGroup string
	// Workers bounds concurrent handlers per subscriber.
	Workers        int
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("docqa"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newQueue(conn, subject, options, logger), nil
}

func newQueue(conn *nats.Conn, subject string, options Options, logger *slog.Logger) *Queue {
	group := options.QueueGroup
	if group == "" {
		group = "query-workers"
	}
	workers := options.Workers
	if workers <= 0 {
		workers = 8
	}
	timeout := options.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Queue{
		conn:     conn,
		subject:  subject,
		group:    group,
		executor: options.ResilienceExecutor,
		workers:  workers,
		timeout:  timeout,
		logger:   logger,
	}
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ask sends req to a worker and waits for its answer. Worker-side input
// errors come back as ErrInvalidInput, everything else as ErrTemporary.
func (q *Queue) Ask(ctx context.Context, req domain.QueryRequest) (*domain.QueryResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal query request: %w", err)
	}

	var reply *nats.Msg
	call := func(callCtx context.Context) error {
		reqCtx, cancel := context.WithTimeout(callCtx, q.timeout)
		defer cancel()
		msg, err := q.conn.RequestWithContext(reqCtx, q.subject, payload)
		if err != nil {
			return fmt.Errorf("nats request: %w", err)
		}
		reply = msg
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.request", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, wrapTemporaryIfNeeded(err)
	}
	return decodeReply(reply.Data)
}

// ServeQueries subscribes to the query subject until ctx is done, then
// drains in-flight requests.
func (q *Queue) ServeQueries(ctx context.Context, handler QueryHandler) error {
	pool, err := ants.NewPool(q.workers)
	if err != nil {
		return fmt.Errorf("create query worker pool: %w", err)
	}
	defer pool.Release()

	var inflight sync.WaitGroup
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		inflight.Add(1)
		task := func() {
			defer inflight.Done()
			q.handle(ctx, msg, handler)
		}
		if err := pool.Submit(task); err != nil {
			inflight.Done()
			q.logger.Warn("query_rejected", "error", err)
			q.respond(msg, reply{Error: &replyError{Kind: kindTemporary, Message: "worker overloaded"}})
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	q.logger.Info("query_worker_subscribed", "subject", q.subject, "group", q.group, "workers", q.workers)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	inflight.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func (q *Queue) handle(ctx context.Context, msg *nats.Msg, handler QueryHandler) {
	var req domain.QueryRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		q.respond(msg, reply{Error: &replyError{Kind: kindInvalidInput, Message: "malformed query request: " + err.Error()}})
		return
	}

	handlerCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()
	resp, err := handler(handlerCtx, req)
	if err != nil {
		q.logger.Error("query_handler_failed", "conversation_id", req.Question.ConversationID, "error", err)
		q.respond(msg, reply{Error: replyErrorFrom(err)})
		return
	}
	q.respond(msg, reply{Response: resp})
}

func (q *Queue) respond(msg *nats.Msg, r reply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		q.logger.Error("query_reply_marshal_failed", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		q.logger.Warn("query_reply_failed", "error", err)
	}
}

const (
	kindInvalidInput = "invalid_input"
	kindTemporary    = "temporary"
)

type reply struct {
	Response *domain.QueryResponse `json:"response,omitempty"`
	Error    *replyError           `json:"error,omitempty"`
}

type replyError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func replyErrorFrom(err error) *replyError {
	if domain.IsKind(err, domain.ErrInvalidInput) {
		return &replyError{Kind: kindInvalidInput, Message: err.Error()}
	}
	return &replyError{Kind: kindTemporary, Message: err.Error()}
}

func decodeReply(data []byte) (*domain.QueryResponse, error) {
	var r reply
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedOutput, "decode query reply", err)
	}
	if r.Error != nil {
		kind := domain.ErrTemporary
		if r.Error.Kind == kindInvalidInput {
			kind = domain.ErrInvalidInput
		}
		return nil, domain.WrapError(kind, "query worker", errors.New(r.Error.Message))
	}
	if r.Response == nil {
		return nil, domain.WrapError(domain.ErrMalformedOutput, "decode query reply", errors.New("empty reply"))
	}
	return r.Response, nil
}
