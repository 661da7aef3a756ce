package connection

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/transport"
)

func newTestConnection(t *testing.T, opts Options) (*Connection, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	if opts.Instance == "" {
		opts.Instance = "test"
	}
	opts.Transport = ft
	c, err := New(context.Background(), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, ft
}

func TestNew_RequiresTransport(t *testing.T) {
	if _, err := New(context.Background(), Options{}); !errors.Is(err, ErrNoTransport) {
		t.Fatalf("New() error = %v, want ErrNoTransport", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	if c.opts.RequestTimeout != DefaultRequestTimeout ||
		c.opts.PollInterval != DefaultPollInterval ||
		c.opts.InventoryMaxAge != DefaultInventoryMaxAge ||
		c.opts.ControllerRetries != DefaultControllerRetries ||
		c.opts.ControllerRetryDelay != DefaultControllerRetryDelay {
		t.Errorf("defaults not applied: %+v", c.opts)
	}
}

func TestAddDevice_Bijection(t *testing.T) {
	store := &memStore{}
	c, _ := newTestConnection(t, Options{Store: store})
	ctx := context.Background()

	ids := []string{"node-1", "node-2", "node-3"}
	for _, id := range ids {
		if _, err := c.AddDevice(ctx, id, "switch", ""); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", id, err)
		}
	}

	seen := map[string]bool{}
	for _, id := range ids {
		u, ok := c.InternalIDToUUID(id)
		if !ok {
			t.Fatalf("InternalIDToUUID(%s) not found", id)
		}
		if seen[u] {
			t.Errorf("uuid %s assigned twice", u)
		}
		seen[u] = true

		back, ok := c.UUIDToInternalID(u)
		if !ok || back != id {
			t.Errorf("UUIDToInternalID(%s) = %q, want %q", u, back, id)
		}
	}

	if store.saves != len(ids) {
		t.Errorf("saves = %d, want one per new device", store.saves)
	}
}

func TestAddDevice_ReusesUUID(t *testing.T) {
	store := &memStore{}
	c, _ := newTestConnection(t, Options{Store: store})
	ctx := context.Background()

	first, _ := c.AddDevice(ctx, "node-1", "switch", "")
	again, _ := c.AddDevice(ctx, "node-1", "dimmer", "")
	if first != again {
		t.Errorf("re-adding changed uuid %s -> %s", first, again)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
	if typ, _ := c.DeviceType("node-1"); typ != "dimmer" {
		t.Errorf("DeviceType() = %q, want dimmer", typ)
	}
}

func TestAddDevice_StableAcrossReload(t *testing.T) {
	store := &memStore{}
	ctx := context.Background()

	c1, _ := newTestConnection(t, Options{Store: store})
	want, _ := c1.AddDevice(ctx, "node-1", "switch", "")

	c2, _ := newTestConnection(t, Options{Store: store})
	got, _ := c2.AddDevice(ctx, "node-1", "switch", "")
	if got != want {
		t.Errorf("uuid after reload = %s, want %s", got, want)
	}
}

func TestNew_LoadErrorsStartEmpty(t *testing.T) {
	for _, loadErr := range []error{fs.ErrNotExist, errors.New("corrupt")} {
		t.Run(loadErr.Error(), func(t *testing.T) {
			c, _ := newTestConnection(t, Options{Store: &memStore{loadErr: loadErr}})
			if _, ok := c.InternalIDToUUID("anything"); ok {
				t.Error("expected empty map")
			}
		})
	}
}

func TestAddDevice_Announce(t *testing.T) {
	c, ft := newTestConnection(t, Options{Instance: "zwave"})
	u, err := c.AddDevice(context.Background(), "node-1", "switch", "Kitchen")
	if err != nil {
		t.Fatal(err)
	}

	sent := ft.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(sent))
	}
	want := envelope.Map{
		"devicetype":   "switch",
		"uuid":         u,
		"internalid":   "node-1",
		"handled-by":   "zwave",
		"initial_name": "Kitchen",
	}
	if sent[0].Subject != SubjectAnnounce || !reflect.DeepEqual(sent[0].Content, want) {
		t.Errorf("announce = %s %v, want %v", sent[0].Subject, sent[0].Content, want)
	}
	if sent[0].Instance != "zwave" {
		t.Errorf("instance = %q", sent[0].Instance)
	}
}

func TestAddDevice_AnnounceFailureStillRegisters(t *testing.T) {
	c, ft := newTestConnection(t, Options{})
	ft.sendErr = transport.ErrNotActive

	if _, err := c.AddDevice(context.Background(), "node-1", "switch", ""); !errors.Is(err, transport.ErrNotActive) {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if _, ok := c.DeviceType("node-1"); !ok {
		t.Error("device not registered")
	}
}

func TestRemoveDevice(t *testing.T) {
	c, ft := newTestConnection(t, Options{})
	ctx := context.Background()
	u, _ := c.AddDevice(ctx, "node-1", "switch", "")

	if err := c.RemoveDevice(ctx, "node-1"); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	sent := ft.sentMessages()
	last := sent[len(sent)-1]
	if last.Subject != SubjectRemove || last.Content["uuid"] != u {
		t.Errorf("remove event = %s %v", last.Subject, last.Content)
	}
	if _, ok := c.DeviceType("node-1"); ok {
		t.Error("device still registered")
	}
	if got, _ := c.InternalIDToUUID("node-1"); got != u {
		t.Error("uuid mapping dropped on remove")
	}

	if err := c.RemoveDevice(ctx, "node-1"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("second RemoveDevice() error = %v, want ErrUnknownDevice", err)
	}
}

func TestSuspendResume(t *testing.T) {
	c, ft := newTestConnection(t, Options{})
	ctx := context.Background()
	u, _ := c.AddDevice(ctx, "node-1", "switch", "")

	if c.IsDeviceStale("node-1") {
		t.Fatal("new device is stale")
	}

	if err := c.SuspendDevice(ctx, "node-1"); err != nil {
		t.Fatal(err)
	}
	if !c.IsDeviceStale("node-1") {
		t.Error("suspended device not stale")
	}
	sent := ft.sentMessages()
	if got := sent[len(sent)-1]; got.Subject != SubjectStale || got.Content["stale"] != 1 || got.Content["uuid"] != u {
		t.Errorf("stale event = %s %v", got.Subject, got.Content)
	}

	if err := c.ResumeDevice(ctx, "node-1"); err != nil {
		t.Fatal(err)
	}
	if c.IsDeviceStale("node-1") {
		t.Error("resumed device still stale")
	}
	sent = ft.sentMessages()
	if got := sent[len(sent)-1]; got.Content["stale"] != 0 {
		t.Errorf("resume event stale = %v, want 0", got.Content["stale"])
	}

	if err := c.SuspendDevice(ctx, "ghost"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("SuspendDevice(ghost) error = %v", err)
	}
	if c.IsDeviceStale("ghost") {
		t.Error("unknown device reported stale")
	}
}

func TestEmitEvent(t *testing.T) {
	c, ft := newTestConnection(t, Options{})
	ctx := context.Background()
	u, _ := c.AddDevice(ctx, "sensor", "temperaturesensor", "")

	if err := c.EmitEvent(ctx, "sensor", "event.environment.temperaturechanged", 21.5, "degC"); err != nil {
		t.Fatal(err)
	}
	sent := ft.sentMessages()
	got := sent[len(sent)-1]
	want := envelope.Map{"uuid": u, "level": 21.5, "unit": "degC"}
	if got.Subject != "event.environment.temperaturechanged" || !reflect.DeepEqual(got.Content, want) {
		t.Errorf("event = %s %v", got.Subject, got.Content)
	}

	raw := envelope.Map{"state": 255}
	if err := c.EmitEventRaw(ctx, "sensor", "event.device.statechanged", raw); err != nil {
		t.Fatal(err)
	}
	if _, mutated := raw["uuid"]; mutated {
		t.Error("EmitEventRaw modified the caller's map")
	}

	if err := c.EmitEvent(ctx, "ghost", "event.x", 1, ""); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("EmitEvent(ghost) error = %v", err)
	}
}

func TestSendRequest_DefaultTimeout(t *testing.T) {
	c, ft := newTestConnection(t, Options{Instance: "zwave"})
	resp := c.SendRequest(context.Background(), envelope.Map{"command": "ping"}, 0)
	if resp.Identifier() != envelope.IDNoReply {
		t.Errorf("identifier = %q", resp.Identifier())
	}
	if ft.requests[0].Instance != "zwave" || ft.requests[0].Subject != "" {
		t.Errorf("request = %+v", ft.requests[0])
	}
}

func TestShutdown(t *testing.T) {
	c, ft := newTestConnection(t, Options{})
	c.Shutdown()
	c.Shutdown()
	if !c.ShuttingDown() || !ft.prepared || !ft.shutdown {
		t.Errorf("shutdown state: conn=%v prepared=%v shutdown=%v", c.ShuttingDown(), ft.prepared, ft.shutdown)
	}
}

func TestDevices_Sorted(t *testing.T) {
	c, _ := newTestConnection(t, Options{})
	ctx := context.Background()
	for i := 3; i > 0; i-- {
		_, _ = c.AddDevice(ctx, fmt.Sprintf("node-%d", i), "switch", "")
	}
	devices := c.Devices()
	if len(devices) != 3 || devices[0].InternalID != "node-1" || devices[2].InternalID != "node-3" {
		t.Errorf("Devices() = %+v", devices)
	}
}

func TestNoReplyTimeoutBound(t *testing.T) {
	// The transport enforces the timeout; the connection must pass it through.
	var gotTimeout time.Duration
	ft := newFakeTransport()
	c, err := New(context.Background(), Options{Transport: &timeoutRecorder{fakeTransport: ft, got: &gotTimeout}})
	if err != nil {
		t.Fatal(err)
	}
	c.SendRequest(context.Background(), envelope.Map{"command": "x"}, 500*time.Millisecond)
	if gotTimeout != 500*time.Millisecond {
		t.Errorf("timeout passed = %v", gotTimeout)
	}
}

type timeoutRecorder struct {
	*fakeTransport
	got *time.Duration
}

func (r *timeoutRecorder) SendRequest(ctx context.Context, msg envelope.Message, timeout time.Duration) *envelope.Response {
	*r.got = timeout
	return r.fakeTransport.SendRequest(ctx, msg, timeout)
}
