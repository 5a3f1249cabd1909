package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, min: warnLevel}

	l.logf(infoLevel, "event=test action=skip")
	l.logf(errorLevel, "event=test action=%s", "keep")

	out := buf.String()
	assert.NotContains(t, out, "action=skip")
	assert.Contains(t, out, ":ERROR:")
	assert.Contains(t, out, "event=test action=keep")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := &logger{out: &buf, json: true, min: debugLevel}

	l.logf(debugLevel, "event=test status=ok")

	var line map[string]string
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "DEBUG", line["level"])
	assert.Equal(t, "event=test status=ok", line["message"])
}

func TestFileSinkRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "messaging.log")
	l := &logger{out: &bytes.Buffer{}, filePath: path, maxSizeBytes: 64}

	for i := 0; i < 4; i++ {
		l.logf(infoLevel, "event=test %s", strings.Repeat("x", 40))
	}
	require.NoError(t, l.file.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Greater(t, len(entries), 1)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, debugLevel, parseLevel("DEBUG"))
	assert.Equal(t, warnLevel, parseLevel("warning"))
	assert.Equal(t, infoLevel, parseLevel(""))
}
