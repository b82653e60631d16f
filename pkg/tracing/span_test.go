package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/forum-search/pkg/logger"
)

func captureDebug(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestSpanTree(t *testing.T) {
	buf := captureDebug(t)
	ctx := logger.WithRequestID(context.Background(), "req-1")

	ctx, root := Start(ctx, "search")
	_, parse := Start(ctx, "parse")
	parse.SetAttr("words", 2)
	parse.End()
	_, exec := Start(ctx, "execute")
	exec.End()
	assert.Empty(t, buf.String(), "nothing is logged before the root ends")
	root.End()

	require.Len(t, root.Children, 2)
	assert.Equal(t, "req-1", root.Children[1].TraceID)
	assert.Same(t, root, FromContext(ctx))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "span=search")
	assert.Contains(t, lines[0], "request_id=req-1")
	assert.Contains(t, lines[1], "span=parse")
	assert.Contains(t, lines[1], "words=2")
	assert.Contains(t, lines[1], "depth=1")
}

func TestSpanSilentAboveDebug(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	defer slog.SetDefault(prev)

	_, span := Start(context.Background(), "search")
	span.End()
	assert.Empty(t, buf.String())
	assert.Nil(t, FromContext(context.Background()))
}
