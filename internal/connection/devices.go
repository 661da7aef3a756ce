package connection

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/uuidmap"
)

// Lifecycle event subjects published for owned devices.
const (
	SubjectAnnounce = "event.device.announce"
	SubjectDiscover = "event.device.discover"
	SubjectRemove   = "event.device.remove"
	SubjectStale    = "event.device.stale"
)

type device struct {
	internalID string
	deviceType string
	stale      bool
}

// Device is a snapshot of an owned device.
type Device struct {
	UUID       string
	InternalID string
	DeviceType string
	Stale      bool
}

func (c *Connection) loadUUIDMap(ctx context.Context) {
	if c.store == nil {
		return
	}
	uuids, err := c.store.Load(ctx)
	switch {
	case uuidmap.IsNotExist(err):
		c.log.Debug("no uuid map stored yet", "instance", c.opts.Instance)
		return
	case err != nil:
		c.log.Error("cannot load uuid map, starting empty", "instance", c.opts.Instance, "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for u, internalID := range uuids {
		c.uuids[u] = internalID
		c.byInternal[internalID] = u
	}
	c.log.Info("uuid map loaded", "instance", c.opts.Instance, "count", len(uuids))
}

// saveUUIDMap persists a snapshot. Errors are logged only.
func (c *Connection) saveUUIDMap(ctx context.Context, snapshot map[string]string) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(ctx, snapshot); err != nil {
		c.log.Error("cannot store uuid map", "instance", c.opts.Instance, "error", err)
	}
}

// InternalIDToUUID returns the uuid minted for internalID.
func (c *Connection) InternalIDToUUID(internalID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	u, ok := c.byInternal[internalID]
	return u, ok
}

// UUIDToInternalID returns the internal id a uuid was minted for.
func (c *Connection) UUIDToInternalID(u string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.uuids[u]
	if !ok {
		c.log.Warn("cannot translate uuid to internal id", "uuid", u)
	}
	return id, ok
}

// AddDevice registers a device and announces it. A uuid is minted and
// persisted the first time internalID is seen; afterwards the same uuid is
// reused. initialName, when set, is the name the device is given on first
// sight. The returned error reports a failed announce only; the device is
// registered either way.
func (c *Connection) AddDevice(ctx context.Context, internalID, deviceType, initialName string) (string, error) {
	c.mu.Lock()
	u, known := c.byInternal[internalID]
	var snapshot map[string]string
	if !known {
		u = uuid.NewString()
		c.uuids[u] = internalID
		c.byInternal[internalID] = u
		snapshot = c.copyUUIDsLocked()
	}
	c.devices[u] = &device{internalID: internalID, deviceType: deviceType}
	count := len(c.devices)
	c.mu.Unlock()

	if snapshot != nil {
		c.saveUUIDMap(ctx, snapshot)
	}
	c.metrics.SetDevices(count)

	content := c.announcement(u, internalID, deviceType)
	if initialName != "" {
		content["initial_name"] = initialName
	}
	c.log.Debug("device added", "internal_id", internalID, "uuid", u, "type", deviceType)
	return u, c.SendMessage(ctx, SubjectAnnounce, content)
}

func (c *Connection) copyUUIDsLocked() map[string]string {
	out := make(map[string]string, len(c.uuids))
	for k, v := range c.uuids {
		out[k] = v
	}
	return out
}

func (c *Connection) announcement(u, internalID, deviceType string) envelope.Map {
	return envelope.Map{
		"devicetype": deviceType,
		"uuid":       u,
		"internalid": internalID,
		"handled-by": c.opts.Instance,
	}
}

// RemoveDevice announces the removal and drops the device. Its uuid stays
// in the map so a later AddDevice reuses it.
func (c *Connection) RemoveDevice(ctx context.Context, internalID string) error {
	c.mu.Lock()
	u, ok := c.byInternal[internalID]
	if ok {
		_, ok = c.devices[u]
	}
	if !ok {
		c.mu.Unlock()
		return ErrUnknownDevice
	}
	delete(c.devices, u)
	count := len(c.devices)
	c.mu.Unlock()

	c.metrics.SetDevices(count)
	return c.SendMessage(ctx, SubjectRemove, envelope.Map{"uuid": u})
}

// SuspendDevice marks a device stale and announces it.
func (c *Connection) SuspendDevice(ctx context.Context, internalID string) error {
	return c.setStale(ctx, internalID, true)
}

// ResumeDevice clears a device's stale flag and announces it.
func (c *Connection) ResumeDevice(ctx context.Context, internalID string) error {
	return c.setStale(ctx, internalID, false)
}

func (c *Connection) setStale(ctx context.Context, internalID string, stale bool) error {
	c.mu.Lock()
	u := c.byInternal[internalID]
	d, ok := c.devices[u]
	if !ok {
		c.mu.Unlock()
		return ErrUnknownDevice
	}
	d.stale = stale
	c.mu.Unlock()

	flag := 0
	if stale {
		flag = 1
	}
	return c.SendMessage(ctx, SubjectStale, envelope.Map{"uuid": u, "stale": flag})
}

// IsDeviceStale reports whether a registered device is suspended.
// Unknown devices are not stale.
func (c *Connection) IsDeviceStale(internalID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[c.byInternal[internalID]]
	return ok && d.stale
}

// DeviceType returns the type a registered device was added with.
func (c *Connection) DeviceType(internalID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.devices[c.byInternal[internalID]]
	if !ok {
		return "", false
	}
	return d.deviceType, true
}

// Devices returns the registered devices ordered by internal id.
func (c *Connection) Devices() []Device {
	c.mu.Lock()
	out := make([]Device, 0, len(c.devices))
	for u, d := range c.devices {
		out = append(out, Device{UUID: u, InternalID: d.internalID, DeviceType: d.deviceType, Stale: d.stale})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InternalID < out[j].InternalID })
	return out
}

// reportDevices re-announces every registered device, stale ones included.
func (c *Connection) reportDevices(ctx context.Context) {
	devices := c.Devices()
	c.log.Debug("reporting devices", "count", len(devices))
	for _, d := range devices {
		if err := c.SendMessage(ctx, SubjectDiscover, c.announcement(d.UUID, d.InternalID, d.DeviceType)); err != nil {
			c.log.Warn("failed to report device", "uuid", d.UUID, "error", err)
		}
	}
}
