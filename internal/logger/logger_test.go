package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWritersFromDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir}
	outW, errW, err := c.Writers("blog")
	require.NoError(t, err)
	require.NotNil(t, outW)
	require.NotNil(t, errW)

	_, err = outW.Write([]byte("hello stdout\n"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	require.NoError(t, errW.Close())

	b, err := os.ReadFile(filepath.Join(dir, "blog.stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello stdout")
}

func TestWritersExplicitPathsOverrideDir(t *testing.T) {
	dir := t.TempDir()
	c := Config{Dir: dir, StdoutPath: filepath.Join(dir, "custom.out")}
	outW, _, err := c.Writers("blog")
	require.NoError(t, err)
	_, err = outW.Write([]byte("x"))
	require.NoError(t, err)
	require.NoError(t, outW.Close())
	_, err = os.Stat(filepath.Join(dir, "custom.out"))
	assert.NoError(t, err)
}

func TestWritersUnconfigured(t *testing.T) {
	outW, errW, err := Config{}.Writers("blog")
	require.NoError(t, err)
	assert.Nil(t, outW)
	assert.Nil(t, errW)
}

func TestTintHandlerLevels(t *testing.T) {
	var buf bytes.Buffer
	h := NewTintHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h)
	log.Warn("port probe failed")
	out := buf.String()
	assert.Contains(t, out, "\033[33m")
	assert.Contains(t, out, "port probe failed")

	var rec slog.Record
	rec.Message = "plain"
	require.NoError(t, h.Handle(context.Background(), rec))
}

func TestTintHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := NewTintHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("site", "blog")}))
	log.Info("started")
	out := buf.String()
	assert.Contains(t, out, "site=blog")
	assert.Contains(t, out, "\033[32m")
}
