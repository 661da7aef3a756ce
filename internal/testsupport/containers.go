// Package testsupport starts throwaway brokers in containers for
// integration tests.
//
// It is only imported from files built with the integration tag:
//
//	go test -tags=integration ./...
package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const startTimeout = 60 * time.Second

// Endpoint is a reachable broker address.
type Endpoint struct {
	Host string
	Port int
}

// URL formats the endpoint with the given scheme.
func (e Endpoint) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%d", scheme, e.Host, e.Port)
}

// StartMosquitto starts an anonymous-access Mosquitto broker and stops it
// when the test finishes.
func StartMosquitto(t *testing.T) Endpoint {
	t.Helper()
	return start(t, testcontainers.ContainerRequest{
		Image:        "eclipse-mosquitto:2.0",
		ExposedPorts: []string{"1883/tcp"},
		Cmd:          []string{"mosquitto", "-c", "/mosquitto-no-auth.conf"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(startTimeout),
	}, "1883/tcp")
}

// StartNATS starts a NATS server and stops it when the test finishes.
func StartNATS(t *testing.T) Endpoint {
	t.Helper()
	return start(t, testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(startTimeout),
		),
	}, "4222/tcp")
}

// StartAMQPBroker starts an ActiveMQ Artemis broker with anonymous AMQP 1.0
// access, standing in for qpidd.
func StartAMQPBroker(t *testing.T) Endpoint {
	t.Helper()
	return start(t, testcontainers.ContainerRequest{
		Image:        "apache/activemq-artemis:2.37.0",
		ExposedPorts: []string{"5672/tcp"},
		Env: map[string]string{
			"ANONYMOUS_LOGIN": "true",
		},
		WaitingFor: wait.ForListeningPort("5672/tcp").WithStartupTimeout(startTimeout),
	}, "5672/tcp")
}

func start(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) Endpoint {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "starting %s", req.Image)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return Endpoint{Host: host, Port: mapped.Int()}
}
