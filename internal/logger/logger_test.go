package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	return out
}

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		level LogLevel
		want  []string
	}{
		{"trace_sees_all", LogLevelTrace, []string{"t", "d", "i", "w", "e"}},
		{"info_default", LogLevelInfo, []string{"i", "w", "e"}},
		{"error_only", LogLevelError, []string{"e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			log := NewSlogLogger(&buf, tt.level, time.UTC)

			log.Trace("t")
			log.Debug("d")
			log.Info("i")
			log.Warn("w")
			log.Error("e")

			var got []string
			for _, line := range decodeLines(t, buf.Bytes()) {
				got = append(got, line["msg"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModuleAndFields(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	root := NewSlogLogger(&buf, LogLevelDebug, time.UTC)

	log := root.Module("notification").Module("admission").With(String("bundle", "com.example.mail"))
	log.Info("request dropped",
		Int("quota", 10),
		Duration("window", 1500*time.Millisecond),
		Bool("reject", false),
		Float64("ratio", 0.123456))

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 1)
	line := lines[0]
	assert.Equal(t, "notification.admission", line["module"])
	assert.Equal(t, "com.example.mail", line["bundle"])
	assert.InDelta(t, 10, line["quota"], 0)
	assert.Equal(t, "1.5s", line["window"])
	assert.Equal(t, false, line["reject"])
	assert.InDelta(t, 0.123, line["ratio"], 0.0001)
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewSlogLogger(&buf, LogLevelInfo, time.UTC)

	ctx := WithTraceID(context.Background(), "req-42")
	log.WithContext(ctx).Info("handled")
	log.WithContext(context.Background()).Info("untraced")

	lines := decodeLines(t, buf.Bytes())
	require.Len(t, lines, 2)
	assert.Equal(t, "req-42", lines[0]["trace_id"])
	assert.NotContains(t, lines[1], "trace_id")
}

func TestErrorFieldNil(t *testing.T) {
	t.Parallel()

	f := Error(nil)
	assert.Equal(t, "error", f.Key)
	assert.Nil(t, f.Value)
}

func TestCentralLoggerFileOutput(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "ansd.log")
	cfg := &LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		FileOutput:   &FileOutput{Enabled: true, Path: path, Level: "debug"},
		ModuleLevels: map[string]string{"datastore": "debug"},
	}

	cl, err := NewCentralLogger(cfg)
	require.NoError(t, err)

	cl.Module("datastore").Debug("migrated")
	cl.Module("api").Debug("hidden by default level")
	cl.Module("api").Info("listening", String("addr", ":8080"))

	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())
	require.NoError(t, cl.Close(), "second close is a no-op")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := decodeLines(t, data)
	require.Len(t, lines, 2)
	assert.Equal(t, "datastore", lines[0]["module"])
	assert.Equal(t, "migrated", lines[0]["msg"])
	assert.Equal(t, "listening", lines[1]["msg"])

	ts, ok := lines[1]["time"].(string)
	require.True(t, ok)
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestCentralLoggerInvalidTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)

	_, err = NewCentralLogger(nil)
	require.Error(t, err)
}

func TestApplyConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := &LoggingConfig{}
	applyConfigDefaults(cfg)

	assert.Equal(t, DefaultLogLevel, cfg.DefaultLevel)
	require.NotNil(t, cfg.Console)
	assert.True(t, cfg.Console.Enabled)
	require.NotNil(t, cfg.FileOutput)
	assert.False(t, cfg.FileOutput.Enabled)
	assert.Equal(t, DefaultLogPath, cfg.FileOutput.Path)
	assert.NotNil(t, cfg.ModuleLevels)
}
