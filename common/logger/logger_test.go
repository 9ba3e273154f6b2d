package logger

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func capturedLogger(buf *bytes.Buffer) *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(buf, nil))}
}

func TestError_AttachesStackTrace(t *testing.T) {
	var buf bytes.Buffer
	l := capturedLogger(&buf)

	l.Error("write failed", "path", "/tmp/out")

	out := buf.String()
	assert.Contains(t, out, "write failed")
	assert.Contains(t, out, "path=/tmp/out")
	assert.Contains(t, out, "stack=")
	assert.Contains(t, out, "goroutine")
}

func TestErrorContext_AttachesStackTrace(t *testing.T) {
	var buf bytes.Buffer
	l := capturedLogger(&buf)

	l.ErrorContext(context.Background(), "write failed")

	out := buf.String()
	assert.Contains(t, out, "stack=")
	assert.Contains(t, out, "goroutine")
}
