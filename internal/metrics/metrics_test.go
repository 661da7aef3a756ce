package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("mqtt", "success", time.Millisecond)
	m.MessageSent("mqtt")
	m.MessageFetched("mqtt")
	m.LateReply("mqtt")
	m.CommandHandled("failed")
	m.DispatchError()
	m.SetDevices(3)
	if m.Registry() != nil {
		t.Error("nil Metrics should have nil registry")
	}
}

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveRequest("mqtt", "no.reply", 3*time.Second)
	m.ObserveRequest("mqtt", "no.reply", 3*time.Second)
	m.LateReply("mqtt")
	m.CommandHandled("success")
	m.SetDevices(2)

	if got := testutil.ToFloat64(m.requests.WithLabelValues("mqtt", "no.reply")); got != 2 {
		t.Errorf("requests{mqtt,no.reply} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.lateReplies.WithLabelValues("mqtt")); got != 1 {
		t.Errorf("late replies = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.devices); got != 2 {
		t.Errorf("devices = %v, want 2", got)
	}
}

func TestServerServesMetrics(t *testing.T) {
	m := New()
	m.MessageSent("nats")

	srv := NewServer("127.0.0.1:0", "", m)
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	if err := srv.Start(); err != ErrServerRunning {
		t.Errorf("second Start() error = %v, want ErrServerRunning", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "graylogic_bus_transport_messages_sent_total") {
		t.Error("metrics output missing messages_sent_total")
	}
}
