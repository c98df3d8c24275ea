package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type captureLogger struct {
	infos []*PassInfo
}

func (c *captureLogger) Log(info *PassInfo) {
	c.infos = append(c.infos, info)
}

func TestMetricsCollectorLog(test *testing.T) {
	capture := &captureLogger{}
	collector := NewMetricsCollector(capture)
	collector.Info.Added = 3
	collector.Log()

	require.Len(test, capture.infos, 1)
	assert.Equal(test, 3, capture.infos[0].Added)
	assert.NotEmpty(test, capture.infos[0].StartTime)
	assert.True(test, capture.infos[0].Duration >= 0)

	// no logger is fine
	NewMetricsCollector(nil).Log()
}

func TestFileLogger(test *testing.T) {
	dir := test.TempDir()
	logger := NewFileLogger(dir, 0, 0, nil)
	defer logger.Close()

	MultiLogger{logger, NewStdoutLogger(zap.NewNop().Sugar())}.Log(&PassInfo{SourceDir: "/data", Added: 2})
	logger.Log(&PassInfo{SourceDir: "/data", Removed: 1})

	data, err := os.ReadFile(filepath.Join(dir, "passes.log"))
	require.NoError(test, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(test, lines, 2)

	var first PassInfo
	require.NoError(test, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(test, "/data", first.SourceDir)
	assert.Equal(test, 2, first.Added)
}

func TestStdoutLoggerFields(test *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	NewStdoutLogger(zap.New(core).Sugar()).Log(&PassInfo{SourceDir: "/data", ForceAll: true, Added: 4})

	entries := logs.All()
	require.Len(test, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(test, true, fields["force_all"])
	assert.Equal(test, int64(4), fields["added"])
	assert.Equal(test, "/data", fields["source_dir"])
}
