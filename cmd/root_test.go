package cmd

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"explorviz/bootstrap"
	"explorviz/storage"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

func init() {
	color.NoColor = true
}

// writeConfig marshals settings into a config file inside t's temp dir.
func writeConfig(t *testing.T, settings map[string]any) string {
	t.Helper()
	data, err := yaml.Marshal(settings)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func localSettings(uri string) map[string]any {
	return map[string]any{
		"rest": map[string]any{"enabled": true, "host": "127.0.0.1", "port": 0},
		"grpc": map[string]any{"enabled": true, "host": "127.0.0.1", "port": 0},
		"persistence": map[string]any{
			"uri":             uri,
			"connect_timeout": "500ms",
		},
		"logging": map[string]any{"level": "error", "format": "json"},
	}
}

func TestExecute_MissingRequiredField(t *testing.T) {
	path := writeConfig(t, localSettings(""))

	var stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--config", path}, &stderr)

	assert.Equal(t, bootstrap.ExitConfigInvalid, code)
	assert.Contains(t, stderr.String(), "FATAL")
	assert.Contains(t, stderr.String(), "persistence.uri is required")
}

func TestExecute_ConfigFileMissing(t *testing.T) {
	var stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}, &stderr)

	assert.Equal(t, bootstrap.ExitConfigInvalid, code)
	assert.Contains(t, stderr.String(), "unable to read config")
}

func TestExecute_UnreachableGraph(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	path := writeConfig(t, localSettings("bolt://"+addr))

	var stderr bytes.Buffer
	code := Execute(context.Background(), []string{"--config", path}, &stderr)

	assert.Equal(t, bootstrap.ExitDependencyUnreachable, code)
	assert.Contains(t, stderr.String(), "dependency unreachable")
}

func TestExecute_RejectsArguments(t *testing.T) {
	var stderr bytes.Buffer
	code := Execute(context.Background(), []string{"serve"}, &stderr)

	assert.Equal(t, bootstrap.ExitFailure, code)
	assert.Contains(t, stderr.String(), "FATAL")
}

func TestExecute_CleanShutdownOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	restPort := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	settings := localSettings("neo4j://localhost:7687")
	settings["rest"] = map[string]any{"enabled": true, "host": "127.0.0.1", "port": restPort}
	path := writeConfig(t, settings)

	connector := func(ctx context.Context, opts storage.Neo4jOptions, logger *zap.SugaredLogger) (storage.GraphStore, error) {
		return storage.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exit := make(chan int, 1)
	var stderr bytes.Buffer
	go func() {
		exit <- Execute(ctx, []string{"--config", path}, &stderr, bootstrap.WithGraphConnector(connector))
	}()

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: time.Second}
	healthURL := "http://" + net.JoinHostPort("127.0.0.1", strconv.Itoa(restPort)) + "/health"
	require.Eventually(t, func() bool {
		resp, err := client.Get(healthURL)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case code := <-exit:
		assert.Equal(t, bootstrap.ExitOK, code)
		assert.Empty(t, stderr.String())
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down")
	}
}

func TestNewRootCmd_Flags(t *testing.T) {
	rootCmd := NewRootCmd()

	assert.Equal(t, "explorviz", rootCmd.Use)
	assert.NotNil(t, rootCmd.Flags().Lookup("config"))
	assert.NotNil(t, rootCmd.Flags().Lookup("no-color"))
	assert.Empty(t, rootCmd.Commands())
}
