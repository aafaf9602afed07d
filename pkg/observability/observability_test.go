package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewDisabledByDefault(t *testing.T) {
	p, err := New(context.Background(), nil, nil)
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Logger())
}

func TestTrackOpCompletesWithoutProvider(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig(), nil)
	require.NoError(t, err)

	_, done := p.TrackOp(context.Background(), "ucg.op")
	require.NotPanics(t, func() { done(nil) })
}
