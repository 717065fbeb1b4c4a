package telemetry

import (
	"context"
	"errors"
	"testing"

	"explorviz/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var testService = config.ServiceConfig{Name: "explorviz-test", Environment: "test"}

func TestSetup_NoopWhenDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Endpoint: "http://localhost:4318"}, testService)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{Enabled: true}, testService)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_NoopShutdownIgnoresCancelledContext(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TracingConfig{}, testService)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, shutdown(ctx))
}

func TestSetup_CreatesProviderWhenEnabled(t *testing.T) {
	// Non-routable address, so nothing is exported.
	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:     true,
		Endpoint:    "http://192.0.2.1:4318",
		SampleRatio: 0.5,
	}, testService)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

type recordingExporter struct {
	shutdowns int
}

func (e *recordingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (e *recordingExporter) Shutdown(ctx context.Context) error {
	e.shutdowns++
	return nil
}

func TestSetup_ResourceErrorShutsDownExporter(t *testing.T) {
	exporter := &recordingExporter{}
	origExporter, origResource := newExporter, newResource
	t.Cleanup(func() { newExporter, newResource = origExporter, origResource })

	newExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		return exporter, nil
	}
	newResource = func(ctx context.Context, opts ...resource.Option) (*resource.Resource, error) {
		return nil, errors.New("conflicting schema URL")
	}

	shutdown, err := Setup(context.Background(), config.TracingConfig{
		Enabled:  true,
		Endpoint: "http://192.0.2.1:4318",
	}, testService)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conflicting schema URL")
	assert.Equal(t, 1, exporter.shutdowns)
	assert.NoError(t, shutdown(context.Background()))
}
