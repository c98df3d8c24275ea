package metrics

import (
	"bytes"
	"encoding/json"
	"time"
)

// PassInfo describes one sync pass.
type PassInfo struct {
	StartTime    string        `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	SourceDir    string        `json:"source_dir"`
	ForceAll     bool          `json:"force_all"`
	NumSources   int           `json:"num_sources"`
	NumCataloged int           `json:"num_cataloged"`
	Added        int           `json:"added"`
	Removed      int           `json:"removed"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Writes       int           `json:"writes"`
}

type MetricsCollector struct {
	Info   *PassInfo
	logger Logger
	start  time.Time
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	now := time.Now()
	return &MetricsCollector{
		Info:   &PassInfo{StartTime: now.UTC().Format(time.RFC3339)},
		logger: logger,
		start:  now,
	}
}

// Log stamps the pass duration and hands the record to the logger.
func (m *MetricsCollector) Log() {
	m.Info.Duration = time.Since(m.start)
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *PassInfo) ToJSON() (string, error) {
	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err == nil {
		return buf.String(), nil
	} else {
		return "", err
	}
}
