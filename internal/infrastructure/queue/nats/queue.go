package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/resilience"
)

const (
	DefaultIngestSubject = "documents.ingest"
	DefaultTriggerPrefix = "documents.triggers"
	workerQueueGroup     = "workers"
	drainFlushTimeout    = 5 * time.Second
)

// Queue carries document ids to workers and trigger events to downstream
// consumers over core NATS.
type Queue struct {
	conn          *nats.Conn
	subject       string
	triggerPrefix string
	executor      *resilience.Executor
	logger        *slog.Logger
}

func New(url, subject string) (*Queue, error) {
	return NewWithOptions(url, subject, Options{})
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	TriggerPrefix        string
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
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
	if subject == "" {
		subject = DefaultIngestSubject
	}
	triggerPrefix := strings.TrimSuffix(options.TriggerPrefix, ".")
	if triggerPrefix == "" {
		triggerPrefix = DefaultTriggerPrefix
	}

	conn, err := nats.Connect(
		url,
		nats.Name("document-pipeline"),
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
	return &Queue{
		conn:          conn,
		subject:       subject,
		triggerPrefix: triggerPrefix,
		executor:      options.ResilienceExecutor,
		logger:        logger,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

// Dispatch hands an accepted document to the worker pool.
func (q *Queue) Dispatch(ctx context.Context, doc *domain.Document) error {
	return q.PublishDocumentIngested(ctx, doc.ID)
}

func (q *Queue) PublishDocumentIngested(ctx context.Context, documentID string) error {
	return q.publish(ctx, "nats.publish", &nats.Msg{Subject: q.subject, Data: []byte(documentID)})
}

// PublishTrigger sends the event to <prefix>.<trigger>. The idempotency key
// travels in the Nats-Msg-Id header so JetStream-backed consumers dedupe
// redeliveries.
func (q *Queue) PublishTrigger(ctx context.Context, event domain.TriggerEvent) error {
	msg, err := triggerMessage(q.triggerPrefix, event)
	if err != nil {
		return err
	}
	return q.publish(ctx, "nats.publish_trigger", msg)
}

func (q *Queue) publish(ctx context.Context, operation string, msg *nats.Msg) error {
	call := func(_ context.Context) error {
		if err := q.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
		return nil
	}

	var err error
	if q.executor != nil {
		err = q.executor.Execute(ctx, operation, call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

func (q *Queue) SubscribeDocumentIngested(ctx context.Context, handler func(context.Context, string) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, workerQueueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		documentID := strings.TrimSpace(string(msg.Data))
		if err := handler(handlerCtx, documentID); err != nil {
			q.logger.Error("worker_handler_failed", "document_id", documentID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(drainFlushTimeout); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

func triggerMessage(prefix string, event domain.TriggerEvent) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal trigger event: %w", err)
	}
	msg := nats.NewMsg(prefix + "." + event.Trigger)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, event.IdempotencyKey())
	return msg, nil
}
