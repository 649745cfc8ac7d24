package trace

import (
	"context"
	"testing"

	"github.com/amoylab/gameroom/internal/common/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

func TestInitTracing_Disabled(t *testing.T) {
	prev := otel.GetTracerProvider()
	shutdown, err := InitTracing(context.Background(), &config.TracingConfig{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, prev, otel.GetTracerProvider())
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_HTTP(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	// the http exporter connects lazily, so no collector is needed
	cfg := &config.TracingConfig{
		Enabled:     true,
		ServiceName: "gameroom-test",
		Protocol:    "http",
		Insecure:    true,
		SamplerRate: 2.5,
		Environment: "test",
		Headers:     map[string]string{"x-test": "1"},
	}
	shutdown, err := InitTracing(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	assert.NotEqual(t, prev, otel.GetTracerProvider())
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracing_UnsupportedProtocol(t *testing.T) {
	_, err := InitTracing(context.Background(), &config.TracingConfig{Enabled: true, Protocol: "udp"}, zap.NewNop())
	assert.ErrorContains(t, err, "unsupported tracing protocol")
}

func TestClampRate(t *testing.T) {
	assert.Equal(t, 0.0, clampRate(-1))
	assert.Equal(t, 0.25, clampRate(0.25))
	assert.Equal(t, 1.0, clampRate(3))
}
