package main

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-bus/internal/connection"
	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
)

const (
	levelOn  = 255
	levelOff = 0

	subjectStateChanged = "event.device.statechanged"
)

// eventEmitter is the part of the connection virtualDevices publishes through.
type eventEmitter interface {
	EmitEvent(ctx context.Context, internalID, eventType string, level any, unit string) error
}

// virtualDevices keeps a level per configured device and answers the
// basic switch and dimmer commands, publishing a state change for each.
type virtualDevices struct {
	events eventEmitter
	log    *logging.Logger

	mu     sync.Mutex
	levels map[string]float64
}

var _ eventEmitter = (*connection.Connection)(nil)

func newVirtualDevices(events eventEmitter, log *logging.Logger) *virtualDevices {
	return &virtualDevices{
		events: events,
		log:    log,
		levels: make(map[string]float64),
	}
}

func (v *virtualDevices) handle(ctx context.Context, internalID string, content envelope.Map) (connection.Reply, error) {
	cmd, _ := content["command"].(string)

	var level float64
	switch cmd {
	case "on":
		level = levelOn
	case "off":
		level = levelOff
	case "setlevel":
		n, err := envelope.RequireNumber(content, "level")
		if err != nil {
			return connection.Reply{}, err
		}
		if n < 0 || n > 100 {
			return connection.Reply{}, envelope.NewCommandError(envelope.IDBadParameters, "level must be between 0 and 100")
		}
		level = n
	case "status":
		v.mu.Lock()
		current := v.levels[internalID]
		v.mu.Unlock()
		return connection.EnvelopeReply(envelope.Success("", envelope.Map{"level": current})), nil
	default:
		return connection.EnvelopeReply(envelope.UnknownCommand()), nil
	}

	v.mu.Lock()
	v.levels[internalID] = level
	v.mu.Unlock()

	if err := v.events.EmitEvent(ctx, internalID, subjectStateChanged, level, ""); err != nil {
		v.log.Warn("failed to publish state change", "internal_id", internalID, "error", err)
	}
	return connection.EnvelopeReply(envelope.Success("", nil)), nil
}
