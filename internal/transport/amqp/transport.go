package amqp

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	goamqp "github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Name labels this transport in logs and metrics.
const Name = "amqp"

const (
	// sharedCredit is the link credit granted on the shared receiver.
	sharedCredit = 100

	// closeTimeout bounds link and session teardown.
	closeTimeout = 2 * time.Second
)

// Options configures a Transport.
type Options struct {
	Config   config.AMQPConfig
	Instance string
	Logger   transport.Logger
	Metrics  *metrics.Metrics

	dial dialFunc
}

// Transport implements transport.Transport over AMQP 1.0, as spoken by
// qpidd and compatible brokers.
//
// All participants share one node. Each request opens a dynamic receiver,
// whose broker-assigned address is sent as reply-to, and closes it again
// whatever the outcome.
type Transport struct {
	cfg      config.AMQPConfig
	instance string
	log      transport.Logger
	metrics  *metrics.Metrics
	dial     dialFunc

	mu      sync.RWMutex
	conn    connection
	session session
	inbox   receiver
	outbox  sender

	active       atomic.Bool
	shuttingDown atomic.Bool
	closing      chan struct{}
	closeOnce    sync.Once
	shutdownOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unstarted AMQP transport.
func New(opts Options) *Transport {
	dial := opts.dial
	if dial == nil {
		dial = dialBroker
	}
	return &Transport{
		cfg:      opts.Config,
		instance: opts.Instance,
		log:      transport.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		dial:     dial,
		closing:  make(chan struct{}),
	}
}

func (t *Transport) url() string {
	return fmt.Sprintf("amqp://%s:%d", t.cfg.Host, t.cfg.Port)
}

func (t *Transport) connOptions() *goamqp.ConnOptions {
	opts := &goamqp.ConnOptions{
		ContainerID: fmt.Sprintf("graylogic-%s-%s", t.instance, uuid.NewString()[:8]),
		SASLType:    goamqp.SASLTypeAnonymous(),
	}
	if t.cfg.Username != "" {
		opts.SASLType = goamqp.SASLTypePlain(t.cfg.Username, t.cfg.Password)
	}
	return opts
}

// Start connects with bounded retries, then opens a session, a receiver
// and a sender on the shared node.
func (t *Transport) Start(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}

	sess, err := conn.newSession(ctx)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: opening session: %w", transport.ErrStartFailed, err)
	}

	inbox, err := sess.newReceiver(ctx, t.cfg.Address, &goamqp.ReceiverOptions{Credit: sharedCredit})
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: opening receiver on %s: %w", transport.ErrStartFailed, t.cfg.Address, err)
	}

	outbox, err := sess.newSender(ctx, t.cfg.Address)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: opening sender on %s: %w", transport.ErrStartFailed, t.cfg.Address, err)
	}

	t.mu.Lock()
	t.conn, t.session, t.inbox, t.outbox = conn, sess, inbox, outbox
	t.mu.Unlock()
	t.active.Store(true)

	t.log.Info("AMQP transport ready", "url", t.url(), "address", t.cfg.Address)
	return nil
}

func (t *Transport) connect(ctx context.Context) (connection, error) {
	attempts := max(t.cfg.ConnectRetries, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		t.log.Info("connecting to AMQP broker", "url", t.url(), "attempt", attempt)

		conn, err := t.dial(ctx, t.url(), t.connOptions())
		if err == nil {
			return conn, nil
		}
		lastErr = err
		t.log.Warn("AMQP connection failed", "attempt", attempt, "error", err)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", transport.ErrStartFailed, ctx.Err())
		case <-time.After(t.cfg.RetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: after %d attempts: %w", transport.ErrStartFailed, attempts, lastErr)
}

// PrepareShutdown closes the shared receiver and wakes blocked callers.
// The sender and session stay open so in-flight replies can still go out.
func (t *Transport) PrepareShutdown() {
	if t.shuttingDown.Swap(true) {
		return
	}
	t.active.Store(false)
	t.closeOnce.Do(func() { close(t.closing) })

	t.mu.RLock()
	inbox := t.inbox
	t.mu.RUnlock()
	if inbox != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := inbox.Close(ctx); err != nil {
			t.log.Debug("closing shared receiver", "error", err)
		}
	}
}

// Shutdown closes the sender, session and connection. It is idempotent.
func (t *Transport) Shutdown() {
	t.PrepareShutdown()

	t.shutdownOnce.Do(func() {
		t.mu.Lock()
		conn, sess, outbox := t.conn, t.session, t.outbox
		t.conn, t.session, t.inbox, t.outbox = nil, nil, nil, nil
		t.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()

		if outbox != nil {
			_ = outbox.Close(ctx)
		}
		if sess != nil {
			_ = sess.Close(ctx)
		}
		if conn != nil {
			if err := conn.Close(); err != nil {
				t.log.Debug("closing AMQP connection", "error", err)
			}
		}
		t.log.Debug("AMQP transport shut down")
	})
}

// IsActive reports whether the transport is started and not shutting down.
func (t *Transport) IsActive() bool {
	return t.active.Load()
}

// SendMessage sends msg to the shared node.
func (t *Transport) SendMessage(ctx context.Context, msg envelope.Message) error {
	if !t.active.Load() {
		return transport.ErrNotActive
	}
	if err := t.send(ctx, msg); err != nil {
		return err
	}
	t.metrics.MessageSent(Name)
	return nil
}

func (t *Transport) send(ctx context.Context, msg envelope.Message) error {
	t.mu.RLock()
	outbox := t.outbox
	t.mu.RUnlock()
	if outbox == nil {
		return transport.ErrNotActive
	}

	if msg.Instance == "" {
		msg.Instance = t.instance
	}
	out, err := encodeMessage(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	if err := outbox.Send(ctx, out, nil); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	return nil
}

// SendRequest sends msg with a dynamic reply address and waits up to
// timeout for the reply.
func (t *Transport) SendRequest(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	start := time.Now()
	resp := t.request(ctx, msg, timeout)
	t.metrics.ObserveRequest(Name, transport.Outcome(resp), time.Since(start))
	return resp
}

func (t *Transport) request(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	if !t.active.Load() {
		return envelope.NewErrorResponse(envelope.IDNoReply, "transport is shutting down")
	}

	t.mu.RLock()
	sess := t.session
	t.mu.RUnlock()
	if sess == nil {
		return envelope.NewErrorResponse(envelope.IDNoReply, "transport is shutting down")
	}

	waitCtx, cancel := t.waitContext(ctx, timeout)
	defer cancel()

	replies, err := sess.newReceiver(waitCtx, "", &goamqp.ReceiverOptions{DynamicAddress: true})
	if err != nil {
		if resp := t.expired(waitCtx, msg); resp != nil {
			return resp
		}
		t.log.Warn("failed to open reply receiver", "error", err)
		return envelope.NewErrorResponse(envelope.IDReceiverError, err.Error())
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), closeTimeout)
		defer closeCancel()
		_ = replies.Close(closeCtx)
	}()

	msg.ReplyTo = replies.Address()
	if err := t.send(waitCtx, msg); err != nil {
		if resp := t.expired(waitCtx, msg); resp != nil {
			return resp
		}
		t.log.Warn("failed to send request", "error", err)
		return envelope.NewErrorResponse(envelope.IDSendError, err.Error())
	}

	reply, err := replies.Receive(waitCtx, nil)
	if err != nil {
		if resp := t.expired(waitCtx, msg); resp != nil {
			return resp
		}
		t.log.Error("error receiving reply", "error", err)
		return envelope.NewErrorResponse(envelope.IDReceiverError, err.Error())
	}
	if err := replies.AcceptMessage(waitCtx, reply); err != nil {
		t.log.Debug("accepting reply", "error", err)
	}

	body, err := decodeBody(reply)
	if err != nil {
		return envelope.NewErrorResponse(envelope.IDInternal, fmt.Sprintf("invalid reply: %v", err))
	}
	return transport.ReplyFromMap(body)
}

// expired returns the no.reply response once waitCtx is done, whichever
// request step it interrupted, and nil while it is still live.
func (t *Transport) expired(waitCtx context.Context, msg envelope.Message) *envelope.Response {
	if waitCtx.Err() == nil {
		return nil
	}
	if t.shuttingDown.Load() {
		return envelope.NewErrorResponse(envelope.IDNoReply, "transport is shutting down")
	}
	t.log.Warn("timeout waiting for reply", "command", msg.Command())
	return envelope.NewErrorResponse(envelope.IDNoReply, "timeout")
}

// FetchMessage receives the next message from the shared node, waiting up
// to timeout.
func (t *Transport) FetchMessage(ctx context.Context, timeout time.Duration) *transport.Message {
	t.mu.RLock()
	inbox := t.inbox
	t.mu.RUnlock()
	if inbox == nil || t.shuttingDown.Load() {
		return nil
	}

	waitCtx, cancel := t.waitContext(ctx, timeout)
	defer cancel()

	in, err := inbox.Receive(waitCtx, nil)
	if err != nil {
		if waitCtx.Err() == nil && !t.shuttingDown.Load() {
			t.log.Error("error receiving message", "error", err)
		}
		return nil
	}

	msg, err := decodeMessage(in)
	if err != nil {
		t.log.Warn("dropping undecodable message", "error", err)
		_ = inbox.AcceptMessage(ctx, in)
		return nil
	}

	t.metrics.MessageFetched(Name)

	var reply transport.ReplyFunc
	if replyTo := msg.ReplyTo; replyTo != "" {
		reply = func(ctx context.Context, content envelope.Map) error {
			return t.sendReply(ctx, replyTo, content)
		}
	}
	ack := func(ctx context.Context) error {
		return inbox.AcceptMessage(ctx, in)
	}
	return transport.NewMessage(msg, reply, ack)
}

// sendReply opens a short-lived sender on the reply address.
func (t *Transport) sendReply(ctx context.Context, replyTo string, content envelope.Map) error {
	t.mu.RLock()
	sess := t.session
	t.mu.RUnlock()
	if sess == nil {
		return transport.ErrNotActive
	}

	snd, err := sess.newSender(ctx, replyTo)
	if err != nil {
		return fmt.Errorf("%w: opening reply sender: %w", transport.ErrSendFailed, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = snd.Close(closeCtx)
	}()

	out, err := encodeMessage(envelope.Message{Content: content})
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	if err := snd.Send(ctx, out, nil); err != nil {
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
