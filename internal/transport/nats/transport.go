package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Name labels this transport in logs and metrics.
const Name = "nats"

const (
	reconnectWait = 2 * time.Second
	pingInterval  = 20 * time.Second
	drainTimeout  = 5 * time.Second
)

// Options configures a Transport.
type Options struct {
	Config   config.NATSConfig
	Instance string
	Logger   transport.Logger
	Metrics  *metrics.Metrics
}

// Transport implements transport.Transport over NATS core messaging.
//
// Messages are JSON bus envelopes published on one subject. Requests use
// a fresh inbox per call as the native reply subject.
type Transport struct {
	cfg      config.NATSConfig
	instance string
	log      transport.Logger
	metrics  *metrics.Metrics

	mu     sync.RWMutex
	conn   *nats.Conn
	shared *nats.Subscription

	active       atomic.Bool
	shuttingDown atomic.Bool
	closing      chan struct{}
	closeOnce    sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unstarted NATS transport.
func New(opts Options) *Transport {
	return &Transport{
		cfg:      opts.Config,
		instance: opts.Instance,
		log:      transport.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		closing:  make(chan struct{}),
	}
}

func (t *Transport) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.Name("graylogic-" + t.instance),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(reconnectWait),
		nats.PingInterval(pingInterval),
		nats.DrainTimeout(drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				t.log.Warn("NATS connection lost", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			t.log.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			t.log.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if t.cfg.ConnectTimeout > 0 {
		opts = append(opts, nats.Timeout(t.cfg.ConnectTimeout))
	}
	if t.cfg.Username != "" {
		opts = append(opts, nats.UserInfo(t.cfg.Username, t.cfg.Password))
	}
	return opts
}

// Start connects and subscribes to the shared subject.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrStartFailed, err)
	}

	t.log.Info("connecting to NATS", "url", t.cfg.URL)
	conn, err := nats.Connect(t.cfg.URL, t.connectionOptions()...)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrStartFailed, err)
	}

	shared, err := conn.SubscribeSync(t.cfg.Subject)
	if err != nil {
		conn.Close()
		return fmt.Errorf("%w: subscribing to %s: %w", transport.ErrStartFailed, t.cfg.Subject, err)
	}
	// Make sure the server has registered interest before reporting ready.
	if err := conn.FlushWithContext(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("%w: flushing subscription: %w", transport.ErrStartFailed, err)
	}

	t.mu.Lock()
	t.conn, t.shared = conn, shared
	t.mu.Unlock()
	t.active.Store(true)

	t.log.Info("NATS transport ready", "subject", t.cfg.Subject)
	return nil
}

// PrepareShutdown unsubscribes from the shared subject and wakes blocked callers.
func (t *Transport) PrepareShutdown() {
	if t.shuttingDown.Swap(true) {
		return
	}
	t.active.Store(false)
	t.closeOnce.Do(func() { close(t.closing) })

	t.mu.RLock()
	shared := t.shared
	t.mu.RUnlock()
	if shared != nil {
		_ = shared.Unsubscribe()
	}
}

// Shutdown drains and closes the connection. It is idempotent.
func (t *Transport) Shutdown() {
	t.PrepareShutdown()

	t.mu.Lock()
	conn := t.conn
	t.conn, t.shared = nil, nil
	t.mu.Unlock()

	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
		}
	}
}

// IsActive reports whether the transport is started and not shutting down.
func (t *Transport) IsActive() bool {
	return t.active.Load()
}

func (t *Transport) getConn() *nats.Conn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn
}

// SendMessage publishes msg on the shared subject.
func (t *Transport) SendMessage(_ context.Context, msg envelope.Message) error {
	conn := t.getConn()
	if !t.active.Load() || conn == nil {
		return transport.ErrNotActive
	}
	if err := t.publish(conn, msg, ""); err != nil {
		return err
	}
	t.metrics.MessageSent(Name)
	return nil
}

func (t *Transport) publish(conn *nats.Conn, msg envelope.Message, reply string) error {
	msg.ReplyTo = ""
	if msg.Instance == "" {
		msg.Instance = t.instance
	}
	if msg.Content == nil {
		msg.Content = envelope.Map{}
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding message: %w", transport.ErrSendFailed, err)
	}
	if err := conn.PublishMsg(&nats.Msg{Subject: t.cfg.Subject, Reply: reply, Data: data}); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	return nil
}

// SendRequest publishes msg with a fresh inbox as reply subject and waits
// up to timeout for the reply.
func (t *Transport) SendRequest(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	start := time.Now()
	resp := t.request(ctx, msg, timeout)
	t.metrics.ObserveRequest(Name, transport.Outcome(resp), time.Since(start))
	return resp
}

func (t *Transport) request(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	conn := t.getConn()
	if !t.active.Load() || conn == nil {
		return envelope.NewErrorResponse(envelope.IDNoReply, "transport is shutting down")
	}

	inbox := nats.NewInbox()
	sub, err := conn.SubscribeSync(inbox)
	if err != nil {
		return envelope.NewErrorResponse(envelope.IDReceiverError, err.Error())
	}
	defer func() { _ = sub.Unsubscribe() }()

	if err := t.publish(conn, msg, inbox); err != nil {
		t.log.Warn("failed to publish request", "error", err)
		return envelope.NewErrorResponse(envelope.IDSendError, err.Error())
	}

	waitCtx, cancel := t.waitContext(ctx, timeout)
	defer cancel()

	reply, err := sub.NextMsgWithContext(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil || errors.Is(err, nats.ErrTimeout) {
			t.log.Warn("timeout waiting for reply", "command", msg.Command())
			return envelope.NewErrorResponse(envelope.IDNoReply, "timeout")
		}
		t.log.Error("error receiving reply", "error", err)
		return envelope.NewErrorResponse(envelope.IDReceiverError, err.Error())
	}
	return transport.DecodeReply(reply.Data)
}

// FetchMessage returns the next message on the shared subject, waiting up
// to timeout.
func (t *Transport) FetchMessage(ctx context.Context, timeout time.Duration) *transport.Message {
	t.mu.RLock()
	shared := t.shared
	t.mu.RUnlock()
	if shared == nil || t.shuttingDown.Load() {
		return nil
	}

	waitCtx, cancel := t.waitContext(ctx, timeout)
	defer cancel()

	in, err := shared.NextMsgWithContext(waitCtx)
	if err != nil {
		if waitCtx.Err() == nil && !t.shuttingDown.Load() {
			t.log.Error("error receiving message", "error", err)
		}
		return nil
	}

	msg, err := envelope.DecodeMessage(in.Data)
	if err != nil {
		t.log.Warn("dropping undecodable message", "error", err)
		return nil
	}
	t.metrics.MessageFetched(Name)

	var reply transport.ReplyFunc
	if replyTo := in.Reply; replyTo != "" {
		reply = func(_ context.Context, content envelope.Map) error {
			return t.sendReply(replyTo, content)
		}
	}
	return transport.NewMessage(msg, reply, nil)
}

func (t *Transport) sendReply(replyTo string, content envelope.Map) error {
	conn := t.getConn()
	if conn == nil {
		return transport.ErrNotActive
	}
	data, err := transport.EncodeContent(content)
	if err != nil {
		return err
	}
	if err := conn.Publish(replyTo, data); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	return nil
}

// waitContext bounds a wait by timeout, the parent context and shutdown.
func (t *Transport) waitContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, timeout)
	go func() {
		select {
		case <-t.closing:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
