package connection

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// fakeTransport records sent messages, answers requests from respond and
// feeds FetchMessage from inbox.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []envelope.Message
	requests []envelope.Message
	respond  func(envelope.Message) *envelope.Response
	sendErr  error

	inbox    chan *transport.Message
	active   bool
	prepared bool
	shutdown bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbox:  make(chan *transport.Message, 16),
		active: true,
		respond: func(envelope.Message) *envelope.Response {
			return envelope.NewErrorResponse(envelope.IDNoReply, "timeout")
		},
	}
}

func (f *fakeTransport) Start(context.Context) error { return nil }

func (f *fakeTransport) PrepareShutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prepared = true
	f.active = false
}

func (f *fakeTransport) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	f.active = false
}

func (f *fakeTransport) IsActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeTransport) SendMessage(_ context.Context, msg envelope.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) SendRequest(_ context.Context, msg envelope.Message, _ time.Duration) *envelope.Response {
	f.mu.Lock()
	f.requests = append(f.requests, msg)
	respond := f.respond
	f.mu.Unlock()
	return respond(msg)
}

func (f *fakeTransport) FetchMessage(ctx context.Context, timeout time.Duration) *transport.Message {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m := <-f.inbox:
		return m
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func (f *fakeTransport) sentMessages() []envelope.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]envelope.Message(nil), f.sent...)
}

func (f *fakeTransport) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) setRespond(fn func(envelope.Message) *envelope.Response) {
	f.mu.Lock()
	f.respond = fn
	f.mu.Unlock()
}

// memStore is an in-memory uuidmap.Store.
type memStore struct {
	mu      sync.Mutex
	uuids   map[string]string
	saves   int
	loadErr error
}

func (s *memStore) Load(context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]string, len(s.uuids))
	for k, v := range s.uuids {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) Save(_ context.Context, uuids map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uuids = uuids
	s.saves++
	return nil
}

// replyRecorder captures the reply of one inbound message.
type replyRecorder struct {
	mu      sync.Mutex
	replies []envelope.Map
	done    chan struct{}
}

func newReplyRecorder() *replyRecorder {
	return &replyRecorder{done: make(chan struct{}, 16)}
}

func (r *replyRecorder) reply(_ context.Context, content envelope.Map) error {
	r.mu.Lock()
	r.replies = append(r.replies, content)
	r.mu.Unlock()
	r.done <- struct{}{}
	return nil
}

func (r *replyRecorder) wait(timeout time.Duration) (envelope.Map, bool) {
	select {
	case <-r.done:
	case <-time.After(timeout):
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.replies[len(r.replies)-1], true
}
