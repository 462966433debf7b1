package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/verified-rag/internal/core/domain"
	"github.com/kirillkom/verified-rag/internal/core/ports"
	"github.com/kirillkom/verified-rag/internal/infrastructure/resilience"
)

const (
	DefaultVerdictSubject  = "answers.verdicts"
	DefaultQuestionSubject = "answers.ask"
	DefaultQueueGroup      = "answer-workers"
)

type Queue struct {
	conn            *nats.Conn
	verdictSubject  string
	questionSubject string
	queueGroup      string
	executor        *resilience.Executor
}

type Options struct {
	VerdictSubject       string
	QuestionSubject      string
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string, options Options) (*Queue, error) {
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

	conn, err := nats.Connect(
		url,
		nats.Name("verified-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Queue{
		conn:            conn,
		verdictSubject:  withDefault(options.VerdictSubject, DefaultVerdictSubject),
		questionSubject: withDefault(options.QuestionSubject, DefaultQuestionSubject),
		queueGroup:      withDefault(options.QueueGroup, DefaultQueueGroup),
		executor:        options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Ping fails while the connection is not established.
func (q *Queue) Ping(_ context.Context) error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.WrapError(domain.ErrUpstreamUnavailable, "nats ping", nats.ErrConnectionClosed)
	}
	return nil
}

// PublishVerdict emits the audit record of one pipeline run as JSON.
func (q *Queue) PublishVerdict(ctx context.Context, audit domain.AnswerAudit) error {
	payload, err := json.Marshal(audit)
	if err != nil {
		return fmt.Errorf("marshal verdict: %w", err)
	}
	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.verdictSubject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return mapPublishError(err)
	}
	return nil
}

// ServeQuestions answers AnswerRequest messages on the question subject until ctx is done.
// At most concurrency requests run at once; further messages wait in the subscription.
func (q *Queue) ServeQuestions(ctx context.Context, svc ports.AnswerService, concurrency int, timeout time.Duration) error {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	var g errgroup.Group
	g.SetLimit(concurrency)
	// In-flight answers finish after shutdown starts; timeout still bounds them.
	base := context.WithoutCancel(ctx)

	sub, err := q.conn.QueueSubscribe(q.questionSubject, q.queueGroup, questionHandler(base, &g, svc, timeout))
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}
	slog.Info("nats_questions_subscribed", "subject", q.questionSubject, "queue_group", q.queueGroup)

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	waitDrained(sub, timeout)
	_ = g.Wait()
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// questionHandler answers every delivered message, including those delivered
// while the subscription drains after shutdown.
func questionHandler(base context.Context, g *errgroup.Group, svc ports.AnswerService, timeout time.Duration) nats.MsgHandler {
	return func(msg *nats.Msg) {
		g.Go(func() error {
			reply := handleQuestion(base, svc, msg.Data, timeout)
			if msg.Reply == "" {
				return nil
			}
			if err := msg.Respond(reply); err != nil {
				slog.Warn("nats_reply_failed", "subject", msg.Subject, "error", err)
			}
			return nil
		})
	}
}

// waitDrained blocks until sub has handed over its pending messages, or limit passes.
func waitDrained(sub *nats.Subscription, limit time.Duration) {
	deadline := time.Now().Add(limit)
	for sub.IsValid() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

// AnswerReply is the request/reply payload on the question subject.
type AnswerReply struct {
	Result *domain.PipelineResult `json:"result,omitempty"`
	Error  *ReplyError            `json:"error,omitempty"`
}

type ReplyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func handleQuestion(ctx context.Context, svc ports.AnswerService, data []byte, timeout time.Duration) []byte {
	var req domain.AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return mustMarshal(AnswerReply{Error: &ReplyError{Code: "invalid_request", Message: "request body must be a JSON AnswerRequest"}})
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := svc.Answer(ctx, req)
	if err != nil {
		slog.Warn("nats_question_failed", "tenant_id", req.TenantID, "error", err)
		return mustMarshal(AnswerReply{Error: &ReplyError{Code: errorCode(err), Message: domain.UserMessage(err)}})
	}
	return mustMarshal(AnswerReply{Result: result})
}

func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_request"
	case domain.IsFatalBackend(err):
		return "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "internal_error"
	}
}

func mustMarshal(reply AnswerReply) []byte {
	raw, err := json.Marshal(reply)
	if err != nil {
		return []byte(`{"error":{"code":"internal_error","message":"internal error"}}`)
	}
	return raw
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
