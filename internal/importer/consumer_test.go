package importer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeongwoohan/grantcat/internal/coordinator"
	"github.com/jeongwoohan/grantcat/pkg/config"
)

func TestBatchHandlerAppliesPublishedBatch(t *testing.T) {
	p, coord := newTestPipeline(t)
	handler := BatchHandler(p)
	ctx := context.Background()

	// The message value is the envelope exactly as the producer serialises it.
	value, err := json.Marshal(feedBatch())
	require.NoError(t, err)

	require.NoError(t, handler(ctx, []byte("2025-06-01T06:00:00Z"), value))

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Announcements)
	assert.Equal(t, 2, stats.Organizations)
}

func TestBatchHandlerAcceptsBareRecordArray(t *testing.T) {
	p, coord := newTestPipeline(t)
	handler := BatchHandler(p)
	ctx := context.Background()

	value, err := json.Marshal(feedBatch().Records)
	require.NoError(t, err)

	require.NoError(t, handler(ctx, nil, value))

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Announcements)
}

func TestBatchHandlerDropsUndecodableMessage(t *testing.T) {
	p, coord := newTestPipeline(t)
	handler := BatchHandler(p)
	ctx := context.Background()

	// A drop returns nil so the consumer commits and moves on.
	require.NoError(t, handler(ctx, []byte("bad"), []byte(`{"records": "nope"}`)))
	require.NoError(t, handler(ctx, nil, []byte("not json at all")))

	stats, err := coord.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Announcements)
}

func TestBatchHandlerPropagatesApplyFailure(t *testing.T) {
	coord := coordinator.New(nil)
	p := NewPipeline(coord, config.ImportConfig{MaxBatchRecords: 1}, nil)
	handler := BatchHandler(p)

	value, err := json.Marshal(feedBatch())
	require.NoError(t, err)

	// An apply failure must surface so the message is retried, not committed.
	require.Error(t, handler(context.Background(), nil, value))
}
