package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	infmqtt "github.com/nerrad567/gray-logic-bus/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Name labels this transport in logs and metrics.
const Name = "mqtt"

// Client is the subset of the broker client the transport needs.
// *infmqtt.Client satisfies it; tests substitute an in-memory broker.
type Client interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler infmqtt.MessageHandler) error
	Unsubscribe(topic string) error
	IsConnected() bool
	Close() error
}

// DialFunc connects a Client.
type DialFunc func(cfg config.MQTTConfig) (Client, error)

// Options configures a Transport.
type Options struct {
	Config   config.MQTTConfig
	Instance string
	Logger   transport.Logger
	Metrics  *metrics.Metrics

	// Dial defaults to infmqtt.Connect.
	Dial DialFunc
}

// pendingReply is the correlation record of one outstanding request.
// payload is written under Transport.mu before done is closed.
type pendingReply struct {
	done    chan struct{}
	payload []byte
}

// Transport implements transport.Transport over MQTT.
//
// Requests are correlated by reply topic: each connection owns the
// namespace com.agocontrol/<uuid>/ and every request gets the next
// sequence number under it. One mutex guards both the inbound queue and
// the pending-reply table.
type Transport struct {
	cfg      config.MQTTConfig
	instance string
	log      transport.Logger
	metrics  *metrics.Metrics
	dial     DialFunc
	topics   infmqtt.Topics
	connID   string

	clientMu sync.RWMutex
	client   Client

	active       atomic.Bool
	shuttingDown atomic.Bool
	seq          atomic.Uint64

	mu      sync.Mutex
	queue   []envelope.Message
	pending map[string]*pendingReply

	notify    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
}

var _ transport.Transport = (*Transport)(nil)

// New creates an unstarted MQTT transport with a fresh connection namespace.
func New(opts Options) *Transport {
	dial := opts.Dial
	if dial == nil {
		dial = func(cfg config.MQTTConfig) (Client, error) {
			c, err := infmqtt.Connect(cfg)
			if err != nil {
				return nil, err
			}
			if opts.Logger != nil {
				c.SetLogger(opts.Logger)
				log := opts.Logger
				c.SetOnConnect(func() {
					log.Info("MQTT connected", "client_id", cfg.Broker.ClientID)
				})
			}
			return c, nil
		}
	}

	return &Transport{
		cfg:      opts.Config,
		instance: opts.Instance,
		log:      transport.OrNop(opts.Logger),
		metrics:  opts.Metrics,
		dial:     dial,
		connID:   uuid.NewString(),
		pending:  make(map[string]*pendingReply),
		notify:   make(chan struct{}, 1),
		closing:  make(chan struct{}),
	}
}

// ConnectionID returns the namespace identifier of this connection.
func (t *Transport) ConnectionID() string {
	return t.connID
}

// Start connects and subscribes to the reply namespace and the shared
// topic, waiting for the broker to acknowledge both subscriptions.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrStartFailed, err)
	}

	cfg := t.cfg
	base := cfg.Broker.ClientID
	if base == "" {
		base = "graylogic-" + t.instance
	}
	// The client id must be unique per connection or the broker will
	// kick the older session.
	cfg.Broker.ClientID = base + "-" + t.connID[:8]

	t.log.Info("connecting to MQTT broker",
		"host", cfg.Broker.Host,
		"port", cfg.Broker.Port,
		"connection_id", t.connID,
	)

	client, err := t.dial(cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrStartFailed, err)
	}

	qos := t.qos()
	subs := []string{t.topics.ReplyWildcard(t.connID), t.topics.Shared()}
	for _, topic := range subs {
		if err := client.Subscribe(topic, qos, t.onMessage); err != nil {
			_ = client.Close()
			return fmt.Errorf("%w: subscribing to %s: %w", transport.ErrStartFailed, topic, err)
		}
		t.log.Debug("subscribed", "topic", topic)
	}

	t.clientMu.Lock()
	t.client = client
	t.clientMu.Unlock()
	t.active.Store(true)

	t.log.Info("MQTT transport ready", "connection_id", t.connID)
	return nil
}

// PrepareShutdown leaves the shared topic, disconnects from the broker and
// wakes every blocked SendRequest and FetchMessage caller.
func (t *Transport) PrepareShutdown() {
	if t.shuttingDown.Swap(true) {
		return
	}
	t.active.Store(false)
	t.log.Debug("preparing MQTT shutdown")

	if c := t.getClient(); c != nil {
		if err := c.Unsubscribe(t.topics.Shared()); err != nil {
			t.log.Debug("leaving shared topic failed", "error", err)
		}
		_ = c.Close()
	}
	t.closeOnce.Do(func() { close(t.closing) })
}

// Shutdown releases the client. It is idempotent.
func (t *Transport) Shutdown() {
	t.PrepareShutdown()

	t.clientMu.Lock()
	t.client = nil
	t.clientMu.Unlock()

	t.mu.Lock()
	t.queue = nil
	t.mu.Unlock()
}

// IsActive reports whether the transport is started and not shutting down.
func (t *Transport) IsActive() bool {
	return t.active.Load() && t.getClient() != nil
}

// SendMessage publishes msg on the shared topic.
func (t *Transport) SendMessage(_ context.Context, msg envelope.Message) error {
	client := t.activeClient()
	if client == nil {
		return transport.ErrNotActive
	}

	payload, err := t.encode(msg)
	if err != nil {
		return err
	}
	if err := client.Publish(t.topics.Shared(), payload, t.qos(), false); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}

	t.metrics.MessageSent(Name)
	return nil
}

// SendRequest publishes msg with a fresh reply topic and waits up to
// timeout for the reply.
func (t *Transport) SendRequest(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	start := time.Now()
	resp := t.request(ctx, msg, timeout)
	t.metrics.ObserveRequest(Name, transport.Outcome(resp), time.Since(start))
	return resp
}

func (t *Transport) request(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	client := t.activeClient()
	if client == nil {
		return envelope.NewErrorResponse(envelope.IDNoReply, "transport is shutting down")
	}

	replyTopic := t.topics.ReplyTopic(t.connID, t.seq.Add(1))
	p := &pendingReply{done: make(chan struct{})}

	t.mu.Lock()
	t.pending[replyTopic] = p
	t.mu.Unlock()
	defer t.forget(replyTopic)

	msg.ReplyTo = replyTopic
	payload, err := t.encode(msg)
	if err != nil {
		return envelope.NewErrorResponse(envelope.IDSendError, err.Error())
	}
	if err := client.Publish(t.topics.Shared(), payload, t.qos(), false); err != nil {
		t.log.Warn("failed to publish request", "error", err)
		return envelope.NewErrorResponse(envelope.IDSendError, err.Error())
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
	case <-ctx.Done():
	case <-t.closing:
	}

	t.mu.Lock()
	_, waiting := t.pending[replyTopic]
	delete(t.pending, replyTopic)
	reply := p.payload
	t.mu.Unlock()

	if waiting {
		t.log.Warn("timeout waiting for reply", "reply_to", replyTopic, "command", msg.Command())
		return envelope.NewErrorResponse(envelope.IDNoReply, "timeout")
	}
	return transport.DecodeReply(reply)
}

// forget removes a pending record if it is still registered.
func (t *Transport) forget(replyTopic string) {
	t.mu.Lock()
	delete(t.pending, replyTopic)
	t.mu.Unlock()
}

// FetchMessage pops the oldest shared-topic message, waiting up to timeout.
func (t *Transport) FetchMessage(ctx context.Context, timeout time.Duration) *transport.Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if t.shuttingDown.Load() {
			return nil
		}

		t.mu.Lock()
		if len(t.queue) > 0 {
			msg := t.queue[0]
			t.queue[0] = envelope.Message{}
			t.queue = t.queue[1:]
			t.mu.Unlock()

			t.metrics.MessageFetched(Name)
			return t.inbound(msg)
		}
		t.mu.Unlock()

		select {
		case <-t.notify:
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return nil
		case <-t.closing:
			return nil
		}
	}
}

// inbound strips the reply topic from msg and turns it into a reply capability.
func (t *Transport) inbound(msg envelope.Message) *transport.Message {
	replyTo := msg.ReplyTo
	var reply transport.ReplyFunc
	if replyTo != "" {
		reply = func(_ context.Context, content envelope.Map) error {
			return t.sendReply(replyTo, content)
		}
	}
	return transport.NewMessage(msg, reply, nil)
}

func (t *Transport) sendReply(replyTo string, content envelope.Map) error {
	client := t.getClient()
	if client == nil {
		return transport.ErrNotActive
	}
	payload, err := transport.EncodeContent(content)
	if err != nil {
		return err
	}
	if err := client.Publish(replyTo, payload, t.qos(), false); err != nil {
		return fmt.Errorf("%w: %w", transport.ErrSendFailed, err)
	}
	return nil
}

// onMessage runs on the MQTT client's delivery goroutine.
func (t *Transport) onMessage(topic string, payload []byte) error {
	if t.topics.InNamespace(t.connID, topic) {
		t.mu.Lock()
		p, ok := t.pending[topic]
		if ok {
			delete(t.pending, topic)
			p.payload = payload
			close(p.done)
		}
		t.mu.Unlock()

		if !ok {
			t.log.Warn("dropping late reply", "topic", topic)
			t.metrics.LateReply(Name)
		}
		return nil
	}

	if topic != t.topics.Shared() {
		t.log.Warn("message on unexpected topic", "topic", topic)
		return nil
	}

	msg, err := envelope.DecodeMessage(payload)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.queue = append(t.queue, msg)
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return nil
}

func (t *Transport) encode(msg envelope.Message) ([]byte, error) {
	if msg.Instance == "" {
		msg.Instance = t.instance
	}
	if msg.Content == nil {
		msg.Content = envelope.Map{}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding message: %w", transport.ErrSendFailed, err)
	}
	return payload, nil
}

func (t *Transport) qos() byte {
	return byte(t.cfg.QoS)
}

func (t *Transport) getClient() Client {
	t.clientMu.RLock()
	defer t.clientMu.RUnlock()
	return t.client
}

func (t *Transport) activeClient() Client {
	if !t.active.Load() {
		return nil
	}
	return t.getClient()
}
