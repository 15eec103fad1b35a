package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevels(t *testing.T) {
	var quiet bytes.Buffer
	l := New(&quiet, false)
	l.Debug().Msg("hidden")
	l.Warn().Str("index", "3").Msg("dropped delta")
	assert.NotContains(t, quiet.String(), "hidden")
	assert.Contains(t, quiet.String(), "dropped delta")
	assert.Contains(t, quiet.String(), "index=3")

	var loud bytes.Buffer
	l = New(&loud, true)
	l.Debug().Msg("visible")
	assert.Contains(t, loud.String(), "visible")
}

func TestIsTerminal(t *testing.T) {
	assert.False(t, isTerminal(&bytes.Buffer{}))

	f, err := os.Create(filepath.Join(t.TempDir(), "out.log"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, isTerminal(f), "regular files are not terminals")

	l := New(f, false)
	l.Warn().Msg("plain")
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\x1b[", "no colour escapes when not a terminal")
}

func TestOpenTrace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "ponder.trace")
	f, err := OpenTrace(path)
	require.NoError(t, err)
	l := New(f, true)
	l.Info().Msg("hello trace")
	require.NoError(t, f.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello trace")
}
