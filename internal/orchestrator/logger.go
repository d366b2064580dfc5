package orchestrator

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/ShayCichocki/foundry/pkg/models"
)

// DebugLogFile is the trace file name under <state-dir>/logs.
const DebugLogFile = "pipeline.log"

var (
	pkgLoggerMu sync.RWMutex
	pkgLogger   *DebugLogger
)

func setPackageLogger(l *DebugLogger) {
	pkgLoggerMu.Lock()
	defer pkgLoggerMu.Unlock()
	pkgLogger = l
}

// debugLog is handed to the scheduler, mutation engine and graph through
// SetDebugLog so their traces share the pipeline log.
func debugLog(format string, args ...interface{}) {
	pkgLoggerMu.RLock()
	l := pkgLogger
	pkgLoggerMu.RUnlock()
	l.Log(format, args...)
}

// DebugLogger appends pipeline traces to a file. A nil logger, or one without
// a file, discards everything.
type DebugLogger struct {
	mu  sync.Mutex
	f   *os.File
	out *log.Logger
}

// NewDebugLogger opens path for appending. An empty path gives a discarding logger.
func NewDebugLogger(path string) (*DebugLogger, error) {
	if path == "" {
		return &DebugLogger{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	l := &DebugLogger{f: f, out: log.New(f, "", log.Ldate|log.Lmicroseconds)}
	l.Log("--- pipeline opened (pid %d) ---", os.Getpid())
	return l, nil
}

// NewDebugLoggerForState opens <stateDir>/logs/pipeline.log, falling back to a
// discarding logger when the file cannot be opened.
func NewDebugLoggerForState(stateDir string) *DebugLogger {
	l, err := NewDebugLogger(filepath.Join(stateDir, "logs", DebugLogFile))
	if err != nil {
		log.Printf("[orchestrator] warning: pipeline log disabled: %v", err)
		return &DebugLogger{}
	}
	return l
}

// NopLogger discards everything.
func NopLogger() *DebugLogger {
	return &DebugLogger{}
}

// Log writes one pipeline-level line.
func (l *DebugLogger) Log(format string, args ...interface{}) {
	l.write(fmt.Sprintf(format, args...))
}

// Task writes one line scoped to a task and the stage it is in, as
// "[task <id> <stage>] ...", so a task's history can be grepped out of a
// batched run.
func (l *DebugLogger) Task(id string, stage models.Stage, format string, args ...interface{}) {
	l.write(fmt.Sprintf("[task %s %s] ", id, stage) + fmt.Sprintf(format, args...))
}

func (l *DebugLogger) write(line string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.out != nil {
		l.out.Println(line)
	}
}

// Close closes the log file. Safe on a nil or discarding logger.
func (l *DebugLogger) Close() error {
	if l == nil || l.f == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = nil
	return l.f.Close()
}
