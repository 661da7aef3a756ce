package amqp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	goamqp "github.com/Azure/go-amqp"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// fakeBroker routes messages between in-memory links by address.
type fakeBroker struct {
	mu         sync.Mutex
	nodes      map[string]chan *goamqp.Message
	dynamic    int
	receivers  []*fakeReceiver
	dialErrs   []error
	dials      int
	sendErr    error
	attachErr  error
	receiveErr error
	// stallAttach and stallSend block dynamic attaches and sends until
	// the caller's context ends.
	stallAttach bool
	stallSend   bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{nodes: make(map[string]chan *goamqp.Message)}
}

func (b *fakeBroker) node(addr string) chan *goamqp.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.nodes[addr]
	if !ok {
		ch = make(chan *goamqp.Message, 64)
		b.nodes[addr] = ch
	}
	return ch
}

func (b *fakeBroker) dial(_ context.Context, _ string, _ *goamqp.ConnOptions) (connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dials++
	if len(b.dialErrs) > 0 {
		err := b.dialErrs[0]
		b.dialErrs = b.dialErrs[1:]
		return nil, err
	}
	return &fakeConn{broker: b}, nil
}

// dynamicReceivers returns receivers created with a dynamic address.
func (b *fakeBroker) dynamicReceivers() []*fakeReceiver {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*fakeReceiver
	for _, r := range b.receivers {
		if r.dynamic {
			out = append(out, r)
		}
	}
	return out
}

type fakeConn struct {
	broker *fakeBroker
}

func (c *fakeConn) newSession(context.Context) (session, error) {
	return &fakeSession{broker: c.broker}, nil
}

func (c *fakeConn) Close() error { return nil }

type fakeSession struct {
	broker *fakeBroker
}

func (s *fakeSession) newReceiver(ctx context.Context, source string, opts *goamqp.ReceiverOptions) (receiver, error) {
	b := s.broker
	b.mu.Lock()
	if b.stallAttach && opts != nil && opts.DynamicAddress {
		b.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.attachErr != nil && opts != nil && opts.DynamicAddress {
		err := b.attachErr
		b.mu.Unlock()
		return nil, err
	}
	dynamic := opts != nil && opts.DynamicAddress
	if dynamic {
		b.dynamic++
		source = fmt.Sprintf("dyn-%d", b.dynamic)
	}
	receiveErr := b.receiveErr
	b.mu.Unlock()

	r := &fakeReceiver{
		addr:       source,
		node:       b.node(source),
		closed:     make(chan struct{}),
		dynamic:    dynamic,
		receiveErr: receiveErr,
	}
	if !dynamic {
		r.receiveErr = nil
	}

	b.mu.Lock()
	b.receivers = append(b.receivers, r)
	b.mu.Unlock()
	return r, nil
}

func (s *fakeSession) newSender(_ context.Context, target string) (sender, error) {
	return &fakeSender{broker: s.broker, target: target}, nil
}

func (s *fakeSession) Close(context.Context) error { return nil }

type fakeReceiver struct {
	addr       string
	node       chan *goamqp.Message
	dynamic    bool
	receiveErr error

	mu       sync.Mutex
	closed   chan struct{}
	isClosed bool
	accepted int
}

func (r *fakeReceiver) Receive(ctx context.Context, _ *goamqp.ReceiveOptions) (*goamqp.Message, error) {
	if r.receiveErr != nil {
		return nil, r.receiveErr
	}
	select {
	case msg := <-r.node:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.closed:
		return nil, errors.New("link detached")
	}
}

func (r *fakeReceiver) AcceptMessage(context.Context, *goamqp.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted++
	return nil
}

func (r *fakeReceiver) Address() string { return r.addr }

func (r *fakeReceiver) Close(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isClosed {
		r.isClosed = true
		close(r.closed)
	}
	return nil
}

func (r *fakeReceiver) wasClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isClosed
}

type fakeSender struct {
	broker *fakeBroker
	target string
}

func (s *fakeSender) Send(ctx context.Context, msg *goamqp.Message, _ *goamqp.SendOptions) error {
	s.broker.mu.Lock()
	err := s.broker.sendErr
	stall := s.broker.stallSend
	s.broker.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	s.broker.node(s.target) <- msg
	return nil
}

func (s *fakeSender) Close(context.Context) error { return nil }

func testConfig() config.AMQPConfig {
	return config.AMQPConfig{
		Host:           "localhost",
		Port:           5672,
		Address:        "agocontrol",
		ConnectRetries: 3,
		RetryDelay:     time.Millisecond,
	}
}

func startTransport(t *testing.T, broker *fakeBroker) *Transport {
	t.Helper()
	tr := New(Options{Config: testConfig(), Instance: "unit", dial: broker.dial})
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(tr.Shutdown)
	return tr
}

// respond serves one request from the shared node.
func respond(tr *Transport, reply envelope.Map) {
	go func() {
		msg := tr.FetchMessage(context.Background(), 2*time.Second)
		if msg == nil {
			return
		}
		_ = msg.Acknowledge(context.Background())
		if msg.CanReply() {
			_ = msg.Reply(context.Background(), reply)
		}
	}()
}

func TestStartRetries(t *testing.T) {
	broker := newFakeBroker()
	broker.dialErrs = []error{errors.New("refused"), errors.New("refused")}

	tr := startTransport(t, broker)
	if !tr.IsActive() {
		t.Error("IsActive() = false after Start")
	}
	if broker.dials != 3 {
		t.Errorf("dials = %d, want 3", broker.dials)
	}
}

func TestStartGivesUp(t *testing.T) {
	broker := newFakeBroker()
	broker.dialErrs = []error{errors.New("a"), errors.New("b"), errors.New("c"), errors.New("d")}

	tr := New(Options{Config: testConfig(), dial: broker.dial})
	err := tr.Start(context.Background())
	if !errors.Is(err, transport.ErrStartFailed) {
		t.Fatalf("Start() error = %v, want ErrStartFailed", err)
	}
	if broker.dials != 3 {
		t.Errorf("dials = %d, want 3", broker.dials)
	}
	if tr.IsActive() {
		t.Error("IsActive() = true after failed start")
	}
}

func TestRequestReply(t *testing.T) {
	broker := newFakeBroker()
	tr := startTransport(t, broker)
	respond(tr, envelope.Success("", envelope.Map{"devices": envelope.Map{}}))

	resp := tr.SendRequest(context.Background(), envelope.Message{Content: envelope.Map{"command": "inventory"}}, 2*time.Second)
	if !resp.IsOK() {
		t.Fatalf("SendRequest() = %v, want success", resp.Raw())
	}
	if resp.DataMap()["devices"] == nil {
		t.Error("reply data missing devices")
	}

	dyn := broker.dynamicReceivers()
	if len(dyn) != 1 || !dyn[0].wasClosed() {
		t.Errorf("dynamic reply receiver not closed: %+v", dyn)
	}
}

func TestRequestTimeoutClosesReceiver(t *testing.T) {
	broker := newFakeBroker()
	tr := startTransport(t, broker)

	const timeout = 50 * time.Millisecond
	start := time.Now()
	resp := tr.SendRequest(context.Background(), envelope.Message{}, timeout)
	if resp.Identifier() != envelope.IDNoReply {
		t.Errorf("identifier = %q, want no.reply", resp.Identifier())
	}
	if elapsed := time.Since(start); elapsed < timeout {
		t.Errorf("returned after %v, before timeout %v", elapsed, timeout)
	}
	if dyn := broker.dynamicReceivers(); len(dyn) != 1 || !dyn[0].wasClosed() {
		t.Error("dynamic reply receiver not closed after timeout")
	}
}

func TestRequestFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*fakeBroker)
		wantID string
	}{
		{"send failure", func(b *fakeBroker) { b.sendErr = errors.New("link credit exhausted") }, envelope.IDSendError},
		{"attach failure", func(b *fakeBroker) { b.attachErr = errors.New("not allowed") }, envelope.IDReceiverError},
		{"receive failure", func(b *fakeBroker) { b.receiveErr = errors.New("link detached") }, envelope.IDReceiverError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			tr := startTransport(t, broker)

			broker.mu.Lock()
			tt.setup(broker)
			broker.mu.Unlock()

			resp := tr.SendRequest(context.Background(), envelope.Message{}, time.Second)
			if resp.Identifier() != tt.wantID {
				t.Errorf("identifier = %q, want %q", resp.Identifier(), tt.wantID)
			}
			for _, r := range broker.dynamicReceivers() {
				if !r.wasClosed() {
					t.Error("dynamic reply receiver left open")
				}
			}
		})
	}
}

func TestRequestDeadlineBeforeReceive(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeBroker)
	}{
		{"during attach", func(b *fakeBroker) { b.stallAttach = true }},
		{"during send", func(b *fakeBroker) { b.stallSend = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			tr := startTransport(t, broker)

			broker.mu.Lock()
			tt.setup(broker)
			broker.mu.Unlock()

			start := time.Now()
			resp := tr.SendRequest(context.Background(), envelope.Message{}, 50*time.Millisecond)
			if resp.Identifier() != envelope.IDNoReply {
				t.Errorf("identifier = %q, want %q", resp.Identifier(), envelope.IDNoReply)
			}
			if elapsed := time.Since(start); elapsed > time.Second {
				t.Errorf("SendRequest took %v, want bounded by timeout", elapsed)
			}
			for _, r := range broker.dynamicReceivers() {
				if !r.wasClosed() {
					t.Error("dynamic reply receiver left open")
				}
			}
		})
	}
}

func TestMalformedReply(t *testing.T) {
	broker := newFakeBroker()
	tr := startTransport(t, broker)
	respond(tr, envelope.Map{"status": "ok"})

	resp := tr.SendRequest(context.Background(), envelope.Message{}, 2*time.Second)
	if resp.Identifier() != envelope.IDInternal {
		t.Errorf("identifier = %q, want %q", resp.Identifier(), envelope.IDInternal)
	}
}

func TestFetchCarriesProperties(t *testing.T) {
	broker := newFakeBroker()
	tr := startTransport(t, broker)

	err := tr.SendMessage(context.Background(), envelope.Message{
		Subject: "event.device.stale",
		Content: envelope.Map{"uuid": "u-1", "stale": 1.0},
	})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}

	msg := tr.FetchMessage(context.Background(), time.Second)
	if msg == nil {
		t.Fatal("FetchMessage() = nil")
	}
	if msg.Subject != "event.device.stale" || msg.Instance != "unit" || msg.UUID() != "u-1" {
		t.Errorf("unexpected message %+v", msg.Message)
	}
	if msg.CanReply() {
		t.Error("message without reply-to should not be repliable")
	}
	if err := msg.Acknowledge(context.Background()); err != nil {
		t.Errorf("Acknowledge() error = %v", err)
	}
}

func TestFetchTimeout(t *testing.T) {
	tr := startTransport(t, newFakeBroker())
	if msg := tr.FetchMessage(context.Background(), 20*time.Millisecond); msg != nil {
		t.Errorf("FetchMessage() = %+v, want nil", msg.Message)
	}
}

func TestPrepareShutdownWakesFetch(t *testing.T) {
	tr := startTransport(t, newFakeBroker())

	done := make(chan *transport.Message, 1)
	go func() {
		done <- tr.FetchMessage(context.Background(), 10*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	tr.PrepareShutdown()

	select {
	case msg := <-done:
		if msg != nil {
			t.Errorf("FetchMessage() = %+v, want nil", msg.Message)
		}
	case <-time.After(time.Second):
		t.Fatal("FetchMessage not woken by PrepareShutdown")
	}

	if err := tr.SendMessage(context.Background(), envelope.Message{}); !errors.Is(err, transport.ErrNotActive) {
		t.Errorf("SendMessage() after shutdown error = %v, want ErrNotActive", err)
	}
	tr.Shutdown()
	tr.Shutdown()
}

func TestDecodeValueBody(t *testing.T) {
	in := &goamqp.Message{
		Value: map[any]any{
			"command": "on",
			"params":  map[any]any{"level": int32(40)},
		},
	}
	msg, err := decodeMessage(in)
	if err != nil {
		t.Fatalf("decodeMessage() error = %v", err)
	}
	if msg.Command() != "on" {
		t.Errorf("Command() = %q, want on", msg.Command())
	}
	params, ok := msg.Content["params"].(map[string]any)
	if !ok || params["level"] != int32(40) {
		t.Errorf("params = %#v", msg.Content["params"])
	}
	if level, err := envelope.RequireNumber(params, "level"); err != nil || level != 40 {
		t.Errorf("RequireNumber(level) = %v, %v, want 40", level, err)
	}
}

func TestEncodeMessage(t *testing.T) {
	out, err := encodeMessage(envelope.Message{
		Subject:  "event.environment.temperaturechanged",
		Instance: "zwave",
		ReplyTo:  "dyn-7",
	})
	if err != nil {
		t.Fatalf("encodeMessage() error = %v", err)
	}
	if string(out.GetData()) != "{}" {
		t.Errorf("body = %s, want {}", out.GetData())
	}
	if *out.Properties.ContentType != contentTypeJSON || *out.Properties.ReplyTo != "dyn-7" {
		t.Errorf("properties = %+v", out.Properties)
	}
	if out.ApplicationProperties[propInstance] != "zwave" {
		t.Errorf("instance property = %v", out.ApplicationProperties[propInstance])
	}
}
