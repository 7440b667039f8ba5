package storage

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"

	"marketcollector/internal/eodhd"
)

// startMongo runs a throwaway MongoDB container. Docker tests are opt-in.
func startMongo(t *testing.T) string {
	t.Helper()

	if os.Getenv("MARKETCOLLECTOR_TEST_DOCKER") != "true" {
		t.Skip("Docker tests disabled (set MARKETCOLLECTOR_TEST_DOCKER=true to enable)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("mongodb://%s:%s/", host, port.Port())
}

func TestMongo_UpsertIsIdempotent(t *testing.T) {
	uri := startMongo(t)
	ctx := context.Background()

	backend, err := NewMongo(ctx, MongoConfig{URI: uri})
	require.NoError(t, err)
	defer backend.Close(ctx)
	require.NoError(t, backend.Ping(ctx))

	store := New(backend, Options{Logger: quietLogger(), Namespaces: Namespaces{
		Market: "test_market", Calendar: "test_calendar", Macro: "test_macro",
	}})

	records := []eodhd.Document{
		{"date": "2024-01-02", "close": 185.64},
		{"date": "2024-01-03", "close": 184.25},
	}

	first, err := store.SaveHistorical(ctx, "AAPL", records)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Upserted)

	second, err := store.SaveHistorical(ctx, "AAPL", records)
	require.NoError(t, err)
	assert.EqualValues(t, 0, second.Upserted)
	assert.EqualValues(t, 2, second.Matched)

	ref := store.categories[CategoryHistorical].Ref
	count, err := backend.collection(ref).CountDocuments(ctx, bson.M{"symbol": "AAPL"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	// A second unique index request on the same keys is a no-op
	require.NoError(t, backend.EnsureUniqueIndex(ctx, ref, []string{"symbol", "date"}))
}

func TestNewMongo_RequiresURI(t *testing.T) {
	_, err := NewMongo(context.Background(), MongoConfig{})
	require.Error(t, err)
}
