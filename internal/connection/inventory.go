package connection

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
)

// ControllerType is the device type of the bus controller.
const ControllerType = "agocontroller"

// Inventory returns the bus inventory. With allowCached, an inventory
// fetched less than InventoryMaxAge ago is returned without a request.
// A failed request clears the cache and yields an empty map; the error is
// logged, not returned. Callers must not modify the result.
func (c *Connection) Inventory(ctx context.Context, allowCached bool) envelope.Map {
	if allowCached {
		c.inventoryMu.Lock()
		inv, at := c.inventory, c.inventoryAt
		c.inventoryMu.Unlock()
		if inv != nil && c.now().Sub(at) < c.opts.InventoryMaxAge {
			return inv
		}
	}

	resp := c.SendRequest(ctx, envelope.Map{"command": "inventory"}, 0)

	c.inventoryMu.Lock()
	defer c.inventoryMu.Unlock()
	if resp.IsError() {
		c.log.Warn("inventory request failed", "identifier", resp.Identifier(), "message", resp.Message())
		c.inventory, c.inventoryAt = nil, time.Time{}
		return envelope.Map{}
	}

	inv := resp.DataMap()
	if inv == nil {
		inv = envelope.Map{}
	}
	c.inventory, c.inventoryAt = inv, c.now()
	return inv
}

// inventoryDevice returns the inventory entry for uuid, or nil.
func inventoryDevice(inv envelope.Map, uuid string) envelope.Map {
	devices, _ := inv["devices"].(map[string]any)
	d, _ := devices[uuid].(map[string]any)
	return d
}

// Controller returns the uuid of the controller device, or "" when it
// cannot be resolved. A resolved uuid is cached for the life of the
// connection.
//
// Resolution makes up to ControllerRetries inventory attempts spaced by
// ControllerRetryDelay. Only the first attempt may use the cached
// inventory, and only when allowCache is set. Shutdown or ctx
// cancellation abort the retries.
func (c *Connection) Controller(ctx context.Context, allowCache bool) string {
	c.inventoryMu.Lock()
	cached := c.controller
	c.inventoryMu.Unlock()
	if cached != "" {
		return cached
	}

	for attempt := 0; attempt < c.opts.ControllerRetries && !c.ShuttingDown(); attempt++ {
		if attempt > 0 {
			if !c.pause(ctx, c.opts.ControllerRetryDelay) {
				break
			}
		}

		inv := c.Inventory(ctx, allowCache)
		allowCache = false

		devices, _ := inv["devices"].(map[string]any)
		for u, raw := range devices {
			d, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if d["devicetype"] == ControllerType {
				c.log.Debug("controller found", "uuid", u)
				c.inventoryMu.Lock()
				c.controller = u
				c.inventoryMu.Unlock()
				return u
			}
		}
		c.log.Warn("unable to resolve controller, retrying", "attempt", attempt+1)
	}

	c.log.Warn("failed to resolve controller, giving up")
	return ""
}

// pause waits for d and reports false if shutdown or ctx ended it early.
func (c *Connection) pause(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.shutdownCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// SetDeviceName asks the controller to name a device. It returns
// ErrNoController when no controller can be resolved.
func (c *Connection) SetDeviceName(ctx context.Context, internalID, name string) error {
	u, ok := c.InternalIDToUUID(internalID)
	if !ok {
		return ErrUnknownDevice
	}
	controller := c.Controller(ctx, true)
	if controller == "" {
		return fmt.Errorf("%w: cannot set name of %s", ErrNoController, internalID)
	}

	err := c.SendMessage(ctx, "", envelope.Map{
		"command": "setdevicename",
		"uuid":    controller,
		"device":  u,
		"name":    name,
	})
	if err != nil {
		return err
	}
	c.log.Debug("setdevicename sent", "internal_id", internalID, "name", name)
	return nil
}

// MaybeSetDeviceName names a device unless the inventory already has a
// name for it. An empty name does nothing.
func (c *Connection) MaybeSetDeviceName(ctx context.Context, internalID, name string) error {
	if name == "" {
		return nil
	}
	u, ok := c.InternalIDToUUID(internalID)
	if !ok {
		return ErrUnknownDevice
	}

	dev := inventoryDevice(c.Inventory(ctx, true), u)
	if current, _ := dev["name"].(string); dev != nil && current != "" {
		c.log.Debug("device already named", "internal_id", internalID, "name", current)
		return nil
	}
	return c.SetDeviceName(ctx, internalID, name)
}

// SetGlobalVariable asks the controller to set a global variable.
func (c *Connection) SetGlobalVariable(ctx context.Context, variable string, value any) error {
	controller := c.Controller(ctx, true)
	if controller == "" {
		return fmt.Errorf("%w: cannot set variable %s", ErrNoController, variable)
	}
	return c.SendMessage(ctx, "", envelope.Map{
		"command":  "setvariable",
		"uuid":     controller,
		"variable": variable,
		"value":    value,
	})
}
