package metrics

import (
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Logger interface {
	Log(info *PassInfo)
}

type StdoutLogger struct {
	log *zap.SugaredLogger
}

func NewStdoutLogger(log *zap.SugaredLogger) *StdoutLogger {
	return &StdoutLogger{log: log}
}

func (l *StdoutLogger) Log(info *PassInfo) {
	l.log.Infow("sync pass",
		"source_dir", info.SourceDir,
		"force_all", info.ForceAll,
		"duration", info.Duration,
		"sources", info.NumSources,
		"cataloged", info.NumCataloged,
		"added", info.Added,
		"removed", info.Removed,
		"skipped", info.Skipped,
		"failed", info.Failed,
		"writes", info.Writes,
	)
}

const defaultMaxLogFileSizeMB = 1024
const defaultMaxLogFiles = 10

// FileLogger appends one JSON line per pass to LogDir/passes.log, rotated by
// size.
type FileLogger struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	log    *zap.SugaredLogger
}

func NewFileLogger(logDir string, maxLogFileSizeMB int, maxLogFiles int, log *zap.SugaredLogger) *FileLogger {
	if maxLogFileSizeMB <= 0 {
		maxLogFileSizeMB = defaultMaxLogFileSizeMB
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &FileLogger{
		writer: &lumberjack.Logger{
			Filename:   filepath.Join(logDir, "passes.log"),
			MaxSize:    maxLogFileSizeMB,
			MaxBackups: maxLogFiles,
		},
		log: log,
	}
}

func (l *FileLogger) Log(info *PassInfo) {
	infoStr, err := info.ToJSON()
	if err != nil {
		l.log.Errorw("FileLogger: info.ToJSON() error", zap.Error(err))
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write([]byte(infoStr)); err != nil {
		l.log.Errorw("FileLogger: write error", zap.Error(err))
	}
}

func (l *FileLogger) Close() error {
	return l.writer.Close()
}

// MultiLogger fans a record out to several loggers.
type MultiLogger []Logger

func (m MultiLogger) Log(info *PassInfo) {
	for _, l := range m {
		l.Log(info)
	}
}
