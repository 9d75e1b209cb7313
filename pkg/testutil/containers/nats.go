//go:build integration

package containers

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NATSContainer wraps a NATS server with JetStream enabled.
type NATSContainer struct {
	Container testcontainers.Container
	URL       string
}

// NewNATSContainer starts a new NATS container.
func NewNATSContainer(t *testing.T) *NATSContainer {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"-js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start nats container: %v", err)
	}

	url, err := container.PortEndpoint(ctx, "4222/tcp", "nats")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get nats url: %v", err)
	}

	return &NATSContainer{Container: container, URL: url}
}
