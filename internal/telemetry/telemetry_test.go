package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ReturnsReadyProvider(t *testing.T) {
	p, err := New("soar-engine-test")
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, end := p.StepSpan(context.Background(), "step-1", "action")
	require.NotNil(t, ctx)
	end("completed")

	p.RecordSecurityRejection(context.Background(), "rate_limited")

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNilProvider_MethodsAreNoOps(t *testing.T) {
	var p *Provider

	ctx, end := p.StepSpan(context.Background(), "step-1", "action")
	assert.NotNil(t, ctx)
	assert.NotPanics(t, func() { end("completed") })

	assert.NotPanics(t, func() { p.RecordSecurityRejection(context.Background(), "rate_limited") })
	assert.NoError(t, p.Shutdown(context.Background()))
}
