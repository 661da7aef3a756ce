package main

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-bus/internal/envelope"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-bus/internal/infrastructure/logging"
)

type emitted struct {
	internalID string
	eventType  string
	level      any
}

type fakeEmitter struct {
	events []emitted
}

func (f *fakeEmitter) EmitEvent(_ context.Context, internalID, eventType string, level any, _ string) error {
	f.events = append(f.events, emitted{internalID, eventType, level})
	return nil
}

func testLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Output: "stderr"}, "test")
}

func TestVirtualDevices(t *testing.T) {
	tests := []struct {
		name      string
		content   envelope.Map
		wantID    string
		wantLevel any
	}{
		{"on", envelope.Map{"command": "on"}, envelope.IDSuccess, float64(levelOn)},
		{"off", envelope.Map{"command": "off"}, envelope.IDSuccess, float64(levelOff)},
		{"setlevel", envelope.Map{"command": "setlevel", "level": float64(40)}, envelope.IDSuccess, float64(40)},
		{"unknown", envelope.Map{"command": "explode"}, envelope.IDUnknownCommand, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := &fakeEmitter{}
			v := newVirtualDevices(events, testLogger())

			reply, err := v.handle(context.Background(), "lamp", tt.content)
			if err != nil {
				t.Fatalf("handle() error = %v", err)
			}
			resp, err := envelope.Parse(reply.Payload(""))
			if err != nil {
				t.Fatalf("reply is not an envelope: %v", err)
			}
			if resp.Identifier() != tt.wantID {
				t.Errorf("identifier = %q, want %q", resp.Identifier(), tt.wantID)
			}

			if tt.wantLevel == nil {
				if len(events.events) != 0 {
					t.Errorf("events = %v, want none", events.events)
				}
				return
			}
			if len(events.events) != 1 || events.events[0].level != tt.wantLevel || events.events[0].eventType != subjectStateChanged {
				t.Errorf("events = %v", events.events)
			}
		})
	}
}

func TestVirtualDevices_BadLevel(t *testing.T) {
	v := newVirtualDevices(&fakeEmitter{}, testLogger())

	for _, content := range []envelope.Map{
		{"command": "setlevel"},
		{"command": "setlevel", "level": "high"},
		{"command": "setlevel", "level": float64(101)},
	} {
		_, err := v.handle(context.Background(), "lamp", content)
		var cmdErr *envelope.CommandError
		if !errors.As(err, &cmdErr) {
			t.Errorf("handle(%v) error = %v, want a CommandError", content, err)
		}
	}
}

func TestVirtualDevices_Status(t *testing.T) {
	v := newVirtualDevices(&fakeEmitter{}, testLogger())
	ctx := context.Background()

	if _, err := v.handle(ctx, "lamp", envelope.Map{"command": "setlevel", "level": float64(70)}); err != nil {
		t.Fatal(err)
	}
	reply, err := v.handle(ctx, "lamp", envelope.Map{"command": "status"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := envelope.Parse(reply.Payload(""))
	if err != nil {
		t.Fatal(err)
	}
	if resp.DataMap()["level"] != float64(70) {
		t.Errorf("status data = %v", resp.Data())
	}
}
