package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_JSONSchemaAndRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")

	logger.Debug("bot starting", "telegram_token", "123:abc", "chat_id", 42)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	for _, key := range []string{"timestamp", "level", "msg", "component"} {
		assert.Contains(t, entry, key)
	}
	assert.Equal(t, "[REDACTED]", entry["telegram_token"])
	assert.EqualValues(t, 42, entry["chat_id"])
}

func TestNewLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn", "text")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.True(t, strings.Contains(out, "shown"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestProvider_CollectCounters(t *testing.T) {
	ctx := context.Background()
	p := NewProvider(true)
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	m, err := NewMetrics(p.Meter)
	require.NoError(t, err)

	m.Add(ctx, m.CacheLookups, "result", "hit")
	m.Add(ctx, m.CacheLookups, "result", "hit")
	m.Add(ctx, m.CacheLookups, "result", "miss")
	m.Add(ctx, m.Backups, "outcome", "success")

	got, err := p.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got["planner.cache.lookups{result=hit}"])
	assert.Equal(t, int64(1), got["planner.cache.lookups{result=miss}"])
	assert.Equal(t, int64(1), got["planner.backups{outcome=success}"])
}

func TestProvider_Disabled(t *testing.T) {
	p := NewProvider(false)
	m, err := NewMetrics(p.Meter)
	require.NoError(t, err)
	m.Add(context.Background(), m.StoreWrites, "outcome", "committed")

	got, err := p.Collect(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.Add(context.Background(), nil, "k", "v") })
}
