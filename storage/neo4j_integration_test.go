//go:build integration

package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

// Neo4j test container configuration
const (
	neo4jImage            = "neo4j:5-community"
	neo4jBoltPort         = "7687/tcp"
	neo4jHTTPPort         = "7474/tcp"
	neo4jPassword         = "integration-password"
	containerStartTimeout = 120 * time.Second
)

// setupNeo4jTestContainer starts a Neo4j container and returns its bolt URI.
func setupNeo4jTestContainer(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        neo4jImage,
		ExposedPorts: []string{neo4jBoltPort, neo4jHTTPPort},
		Env: map[string]string{
			"NEO4J_AUTH": "neo4j/" + neo4jPassword,
		},
		WaitingFor: wait.ForAll(
			wait.ForLog("Started."),
			wait.ForListeningPort(neo4jBoltPort),
		).WithDeadline(containerStartTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "Failed to start Neo4j container")

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate Neo4j container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err, "Failed to get container host")

	mappedPort, err := container.MappedPort(ctx, "7687")
	require.NoError(t, err, "Failed to get mapped port")

	uri := fmt.Sprintf("bolt://%s:%s", host, mappedPort.Port())
	t.Logf("Neo4j container started at %s", uri)
	return uri
}

func TestNeo4jStore_Integration(t *testing.T) {
	uri := setupNeo4jTestContainer(t)
	logger := zap.NewNop().Sugar()

	runGraphStoreSuite(t, func(t *testing.T) GraphStore {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := OpenNeo4jStore(ctx, Neo4jOptions{
			URI:            uri,
			Username:       "neo4j",
			Password:       neo4jPassword,
			ConnectTimeout: 10 * time.Second,
		}, logger)
		require.NoError(t, err)

		// every subtest starts from an empty graph
		_, err = store.query(ctx, "reset", "MATCH (n) DETACH DELETE n", nil, true)
		require.NoError(t, err)

		t.Cleanup(func() { _ = store.Close(context.Background()) })
		return store
	})
}
