//go:build integration

// Package containers starts the backing services used by integration tests.
// Containers are shared across suites within one test binary; Ryuk reaps them
// when the process exits.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out lazily started, process-wide containers.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	mysql    *MySQLContainer
	redis    *RedisContainer
	redpanda *RedpandaContainer
	nats     *NATSContainer
}

var (
	manager     *Manager
	managerOnce sync.Once
)

// GetManager returns the process-wide container manager.
func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetPostgres starts Postgres on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postgres == nil {
		m.postgres = NewPostgresContainer(t)
	}
	return m.postgres
}

// GetMySQL starts MySQL on first use.
func (m *Manager) GetMySQL(t *testing.T) *MySQLContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mysql == nil {
		m.mysql = NewMySQLContainer(t)
	}
	return m.mysql
}

// GetRedis starts Redis on first use.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redis == nil {
		m.redis = NewRedisContainer(t)
	}
	return m.redis
}

// GetRedpanda starts a single-node Redpanda broker on first use.
func (m *Manager) GetRedpanda(t *testing.T) *RedpandaContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redpanda == nil {
		m.redpanda = NewRedpandaContainer(t)
	}
	return m.redpanda
}

// GetNATS starts a JetStream-enabled NATS server on first use.
func (m *Manager) GetNATS(t *testing.T) *NATSContainer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nats == nil {
		m.nats = NewNATSContainer(t)
	}
	return m.nats
}
