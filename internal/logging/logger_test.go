package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for s, want := range map[string]Level{
		"e": Error, "WARN": Warn, "info": Info, "D": Debug, "trace": MaxLevel, "3": Level(3),
	} {
		got, err := parseLevel(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseLevel("loud")
	assert.Error(t, err)
	_, err = parseLevel("12")
	assert.Error(t, err)
}

func TestTagDirectives(t *testing.T) {
	require.NoError(t, ApplyDirectives("testtag=debug"))
	l := DefaultLogger.WithTag("testtag")
	assert.Equal(t, Debug, l.Level)
	assert.True(t, l.Enabled(Debug))

	other := DefaultLogger.WithTag("othertag")
	assert.Equal(t, DefaultLogger.Level, other.Level)

	assert.Error(t, ApplyDirectives("x=nope"))
}

func TestLogWritesTagAndMessage(t *testing.T) {
	color.NoColor = true

	var out bytes.Buffer
	l := &Logger{Info, "gpu", &out, DefaultLogger.mu}
	l.Info("frame %d", 7)
	l.Debug("hidden")

	s := out.String()
	assert.Contains(t, s, "I/gpu[logger_test.go:")
	assert.Contains(t, s, "frame 7\n")
	assert.False(t, strings.Contains(s, "hidden"))
}
