package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSetup_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := Setup("debug", &buf)
	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())

	l = Setup("warn", &buf)
	l.Info().Msg("dropped")
	l.Warn().Msg("kept")
	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), "kept")

	assert.Equal(t, zerolog.InfoLevel, Setup("nonsense", &buf).GetLevel())
}

func TestExecutionLogCapture(t *testing.T) {
	capture := NewExecutionLogCapture()
	var main bytes.Buffer

	l := zerolog.New(zerolog.MultiLevelWriter(&main, capture))
	l.Info().Str("flow_index", "1.1").Msg("inside execution")

	assert.Contains(t, capture.Content(), "inside execution")
	assert.Contains(t, main.String(), "inside execution")

	capture.Clear()
	assert.Empty(t, capture.Content())

	// A fresh capture never sees earlier output.
	l.Info().Msg("later")
	next := NewExecutionLogCapture()
	assert.Empty(t, next.Content())
}
