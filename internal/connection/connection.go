package connection

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/metrics"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
	"github.com/nerrad567/gray-logic-bus/internal/uuidmap"
)

// Default timings, used for zero Options fields.
const (
	DefaultRequestTimeout       = 3 * time.Second
	DefaultPollInterval         = 10 * time.Second
	DefaultInventoryMaxAge      = 60 * time.Second
	DefaultControllerRetries    = 10
	DefaultControllerRetryDelay = time.Second
)

// Options configures a Connection.
type Options struct {
	// Instance is sent with every message and announced as "handled-by".
	Instance  string
	Transport transport.Transport
	// Store persists the uuid map. Nil keeps the map in memory only.
	Store   uuidmap.Store
	Logger  transport.Logger
	Metrics *metrics.Metrics

	RequestTimeout       time.Duration
	PollInterval         time.Duration
	InventoryMaxAge      time.Duration
	ControllerRetries    int
	ControllerRetryDelay time.Duration
}

func (o *Options) applyDefaults() {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.InventoryMaxAge <= 0 {
		o.InventoryMaxAge = DefaultInventoryMaxAge
	}
	if o.ControllerRetries <= 0 {
		o.ControllerRetries = DefaultControllerRetries
	}
	if o.ControllerRetryDelay <= 0 {
		o.ControllerRetryDelay = DefaultControllerRetryDelay
	}
}

// Connection registers devices on the bus and dispatches their commands.
//
// Device and uuid state is guarded by a mutex, so registry methods may be
// called while Run is looping.
type Connection struct {
	opts      Options
	transport transport.Transport
	store     uuidmap.Store
	log       transport.Logger
	metrics   *metrics.Metrics

	mu         sync.Mutex
	devices    map[string]*device // by uuid
	uuids      map[string]string  // uuid -> internal id
	byInternal map[string]string  // internal id -> uuid

	handler      CommandHandler
	eventHandler EventHandler

	inventoryMu sync.Mutex
	inventory   envelope.Map
	inventoryAt time.Time
	controller  string

	shuttingDown atomic.Bool
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	now func() time.Time
}

// New builds a Connection and loads the persisted uuid map.
//
// A missing map is normal on first start. Any other load error is logged
// and the connection starts with an empty map.
func New(ctx context.Context, opts Options) (*Connection, error) {
	if opts.Transport == nil {
		return nil, ErrNoTransport
	}
	opts.applyDefaults()

	c := &Connection{
		opts:       opts,
		transport:  opts.Transport,
		store:      opts.Store,
		log:        transport.OrNop(opts.Logger),
		metrics:    opts.Metrics,
		devices:    make(map[string]*device),
		uuids:      make(map[string]string),
		byInternal: make(map[string]string),
		shutdownCh: make(chan struct{}),
		now:        time.Now,
	}
	c.loadUUIDMap(ctx)
	return c, nil
}

// Instance returns the instance name.
func (c *Connection) Instance() string {
	return c.opts.Instance
}

// SetCommandHandler registers the handler for commands addressed to this
// instance's devices, replacing any previous one.
func (c *Connection) SetCommandHandler(h CommandHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// SetEventHandler registers the handler for event messages, replacing any
// previous one.
func (c *Connection) SetEventHandler(h EventHandler) {
	c.mu.Lock()
	c.eventHandler = h
	c.mu.Unlock()
}

// Start starts the transport.
func (c *Connection) Start(ctx context.Context) error {
	return c.transport.Start(ctx)
}

// PrepareShutdown stops the dispatch loop and controller retries and
// wakes any blocked transport call.
func (c *Connection) PrepareShutdown() {
	c.shuttingDown.Store(true)
	c.shutdownOnce.Do(func() { close(c.shutdownCh) })
	c.transport.PrepareShutdown()
}

// Shutdown tears the transport down. It is idempotent.
func (c *Connection) Shutdown() {
	c.PrepareShutdown()
	c.transport.Shutdown()
}

// ShuttingDown reports whether PrepareShutdown has been called.
func (c *Connection) ShuttingDown() bool {
	return c.shuttingDown.Load()
}

// SendMessage publishes content with an optional subject. No reply is expected.
func (c *Connection) SendMessage(ctx context.Context, subject string, content envelope.Map) error {
	return c.transport.SendMessage(ctx, envelope.Message{
		Content:  content,
		Subject:  subject,
		Instance: c.opts.Instance,
	})
}

// SendRequest publishes content and waits for the reply. A timeout of zero
// uses Options.RequestTimeout. Delivery failures are reported as error
// responses, never as a nil Response.
func (c *Connection) SendRequest(ctx context.Context, content envelope.Map, timeout time.Duration) *envelope.Response {
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}
	return c.transport.SendRequest(ctx, envelope.Message{
		Content:  content,
		Instance: c.opts.Instance,
	}, timeout)
}

// EmitEvent publishes an event for a device with the given level and unit.
// The level's type must match what the event's schema expects.
func (c *Connection) EmitEvent(ctx context.Context, internalID, eventType string, level any, unit string) error {
	return c.EmitEventRaw(ctx, internalID, eventType, envelope.Map{
		"level": level,
		"unit":  unit,
	})
}

// EmitEventRaw publishes content as an event for a device, adding its uuid.
func (c *Connection) EmitEventRaw(ctx context.Context, internalID, eventType string, content envelope.Map) error {
	uuid, ok := c.InternalIDToUUID(internalID)
	if !ok {
		return ErrUnknownDevice
	}
	out := make(envelope.Map, len(content)+1)
	for k, v := range content {
		out[k] = v
	}
	out["uuid"] = uuid
	return c.SendMessage(ctx, eventType, out)
}
