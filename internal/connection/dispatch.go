package connection

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

// Run is the dispatch loop. It fetches messages until the transport stops,
// PrepareShutdown is called, or ctx is cancelled, in which case it returns
// ctx.Err(). A message that fails to process is logged and skipped.
func (c *Connection) Run(ctx context.Context) error {
	c.log.Debug("startup complete, waiting for messages")
	for c.transport.IsActive() && !c.ShuttingDown() {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg := c.transport.FetchMessage(ctx, c.opts.PollInterval)
		if msg == nil {
			continue
		}
		if err := msg.Acknowledge(ctx); err != nil {
			c.log.Warn("failed to acknowledge message", "error", err)
		}
		c.dispatch(ctx, msg)
	}
	return ctx.Err()
}

// dispatch processes one message. Panics are contained so one bad message
// never stops the loop.
func (c *Connection) dispatch(ctx context.Context, msg *transport.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.DispatchError()
			c.log.Error("failed to handle incoming message",
				"panic", r,
				"subject", msg.Subject,
				"content", msg.Content,
				"stack", string(debug.Stack()),
			)
		}
	}()

	content := msg.Content
	if _, isCommand := content["command"]; isCommand {
		if msg.Command() == "discover" {
			c.reportDevices(ctx)
		} else if internalID, owned := c.ownedTarget(msg.UUID()); owned {
			c.handleCommand(ctx, msg, internalID)
		}
	}

	// Any subject containing "event" counts, matching other bus clients.
	if strings.Contains(msg.Subject, "event") {
		c.mu.Lock()
		h := c.eventHandler
		c.mu.Unlock()
		if h != nil {
			h(ctx, msg.Subject, content)
		}
	}
}

// ownedTarget resolves a command's uuid to the internal id of a registered device.
func (c *Connection) ownedTarget(u string) (string, bool) {
	if u == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[u]
	if !ok {
		return "", false
	}
	return d.internalID, true
}

func (c *Connection) handleCommand(ctx context.Context, msg *transport.Message, internalID string) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()

	var payload envelope.Map
	if h == nil {
		c.log.Warn("command for owned device but no handler registered", "internal_id", internalID)
		payload = envelope.UnknownCommand()
	} else {
		payload = c.invoke(ctx, h, internalID, msg.Content)
	}
	c.metrics.CommandHandled(outcome(payload))

	if !msg.CanReply() {
		return
	}
	if err := msg.Reply(ctx, payload); err != nil {
		c.log.Error("failed to send reply", "internal_id", internalID, "error", err)
	}
}

// invoke runs the handler and normalizes its result into a reply payload.
func (c *Connection) invoke(ctx context.Context, h CommandHandler, internalID string, content envelope.Map) (payload envelope.Map) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("command handler panicked",
				"internal_id", internalID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			payload = envelope.Map{"error": envelope.Map{
				"identifier": envelope.IDInternal,
				"message":    fmt.Sprintf("handler failed: %v", r),
			}}
		}
	}()

	reply, err := h(ctx, internalID, content)
	if err != nil {
		var cmdErr *envelope.CommandError
		if errors.As(err, &cmdErr) {
			return cmdErr.Response()
		}
		return envelope.Failed(err.Error(), nil)
	}

	if reply.IsNone() {
		c.log.Error("no reply from command handler", "internal_id", internalID, "content", content)
	}
	return reply.Payload(fmt.Sprintf("component %q returned no reply, please report this with logs", c.opts.Instance))
}

// outcome labels a reply payload for metrics.
func outcome(payload envelope.Map) string {
	resp, err := envelope.Parse(payload)
	if err != nil {
		return "raw"
	}
	return resp.Identifier()
}
