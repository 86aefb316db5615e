package logger

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Setup creates a configured zerolog logger writing to w (stderr when
// nil) at the given level.
func Setup(level string, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	var l zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = zerolog.DebugLevel
	case "info":
		l = zerolog.InfoLevel
	case "warn":
		l = zerolog.WarnLevel
	case "error":
		l = zerolog.ErrorLevel
	default:
		l = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(l).With().Timestamp().Logger()
}

// ExecutionLogCapture buffers everything logged during one inference
// execution so it can be attached to the execution row afterwards. It is
// installed as an extra writer for the duration of one execution and
// removed on completion or failure, so output never bleeds across
// executions.
type ExecutionLogCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewExecutionLogCapture creates an empty capture buffer.
func NewExecutionLogCapture() *ExecutionLogCapture {
	return &ExecutionLogCapture{}
}

// Write implements io.Writer.
func (c *ExecutionLogCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

// Content returns the captured output.
func (c *ExecutionLogCapture) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Clear empties the buffer for reuse.
func (c *ExecutionLogCapture) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
}
