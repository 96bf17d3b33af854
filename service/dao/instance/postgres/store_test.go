package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/viant/gatekeeper/service/dao/instance"
	"github.com/viant/gatekeeper/service/dao/instance/storetest"
)

func TestStore_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "gatekeeper",
			"POSTGRES_PASSWORD": "gatekeeper",
			"POSTGRES_DB":       "gatekeeper",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://gatekeeper:gatekeeper@%s:%s/gatekeeper?sslmode=disable", host, port.Port())

	db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer db.Close()

	tables := 0
	storetest.Run(t, func(t *testing.T) instance.Store {
		tables++
		store := New(db, WithTable(fmt.Sprintf("approval_instances_%d", tables)))
		require.NoError(t, store.EnsureSchema(ctx))
		return store
	})
}
