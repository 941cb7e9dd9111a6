package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for dec.More() {
		var m map[string]interface{}
		require.NoError(t, dec.Decode(&m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestCaseLogLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json", Component: "evaluation"}, &buf, slog.LevelInfo)

	l.CaseLog("run-1", "c1", 1, "success", 10*time.Millisecond, nil)
	l.WithRunID("run-1").CaseLog("run-1", "c2", 2, "failed", time.Second, errors.New("query agent: timeout"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1, "成功用例只在 debug 级别输出")
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "evaluation", lines[0]["component"])
	assert.Equal(t, "c2", lines[0]["corpus_id"])
	assert.Equal(t, float64(2), lines[0]["execution_order"])
	assert.Equal(t, "query agent: timeout", lines[0]["error"])
	assert.Equal(t, "evaluation", l.Component())
}

func TestHTTPRequestLog(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Format: "json"}, &buf, slog.LevelInfo)

	l.HTTPRequestLog("GET", "/api/v1/evaluations/run-1/status", 200, 1500*time.Millisecond, "10.0.0.1")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "GET", lines[0]["method"])
	assert.Equal(t, float64(200), lines[0]["status"])
	assert.Equal(t, float64(1500), lines[0]["duration_ms"])
	assert.Equal(t, "10.0.0.1", lines[0]["client_ip"])
}

func TestWithErrorNil(t *testing.T) {
	l := Discard()
	assert.Same(t, l, l.WithError(nil))
}
