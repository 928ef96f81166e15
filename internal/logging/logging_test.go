package logging

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

func Test_NewLogger_WritesBothSinks(t *testing.T) {
	var stdout bytes.Buffer
	file := filepath.Join(t.TempDir(), "logs", "svc.log")

	logger, closer, err := newLogger(&stdout, "request-service", file, "info")
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Created request", "requestID", "RR-ABCDE")
	require.NoError(t, closer.Close())

	assert.Contains(t, stdout.String(), "Created request")
	assert.Contains(t, stdout.String(), "app=request-service")
	assert.NotContains(t, stdout.String(), "hidden")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &record))
	assert.Equal(t, "RR-ABCDE", record["requestID"])
	assert.Equal(t, "request-service", record["app"])
}

func Test_NewLogger_StdoutOnly(t *testing.T) {
	var stdout bytes.Buffer
	logger, closer, err := newLogger(&stdout, "gateway", "", "debug")
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("visible")
	assert.Contains(t, stdout.String(), "visible")
}

func Test_NewLogger_BadLevel(t *testing.T) {
	_, _, err := newLogger(&bytes.Buffer{}, "x", "", "loud")
	assert.Error(t, err)
}
