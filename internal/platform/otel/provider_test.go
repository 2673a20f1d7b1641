package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verigate/internal/platform/config"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{ServiceName: "verigate"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.Telemetry{
		ServiceName:  "verigate",
		OTLPEndpoint: "http://127.0.0.1:4318",
	})
	require.NoError(t, err)
	// Nothing was exported, so shutdown does not need the collector.
	assert.NoError(t, shutdown(context.Background()))
}
