package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMaskEmail(t *testing.T) {
	require.Equal(t, "jo***@example.com", MaskEmail("john@example.com"))
	require.Equal(t, "***", MaskEmail("ab"))
	require.Equal(t, "ab***", MaskEmail("abc"))
	require.Equal(t, "a@***", MaskEmail("a@b.com"))
}

func TestFromFallsBackToGlobal(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	Replace(zap.New(core))
	t.Cleanup(func() { Replace(zap.NewNop()) })

	From(context.Background()).Info("hello")
	require.Equal(t, 1, logs.Len())
}

func TestWithFlowAddsFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ctx := ToContext(context.Background(), zap.New(core))

	From(WithFlow(ctx, "google", "a-1")).Info("step")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "google", fields["provider"])
	require.Equal(t, "a-1", fields["attempt_id"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, zap.DebugLevel, parseLevel(" DEBUG "))
	require.Equal(t, zap.WarnLevel, parseLevel("warning"))
	require.Equal(t, zap.InfoLevel, parseLevel("nope"))
}
