package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetup_DisabledIsNoop(t *testing.T) {
	for _, cfg := range []Config{
		{Enabled: false, Endpoint: "http://collector:4318"},
		{Enabled: true},
	} {
		shutdown, err := Setup(context.Background(), cfg)
		require.NoError(t, err)
		require.NoError(t, shutdown(context.Background()))
	}
}
