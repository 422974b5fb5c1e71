// Package logging provides categorized file-based logging for graphchat.
// Each category writes to its own file under <workspace>/.graphchat/logs/,
// backed by zap cores. When debug mode is off the loggers are no-ops.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system.
type Category string

const (
	CategoryBoot         Category = "boot"         // Startup and wiring
	CategorySession      Category = "session"      // Conversation/session management
	CategoryStore        Category = "store"        // History store operations
	CategoryGraph        Category = "graph"        // Knowledge-graph store and kernel
	CategoryPrompts      Category = "prompts"      // Prompt resolution and caching
	CategoryPerception   Category = "perception"   // LLM API calls
	CategoryClassifier   Category = "classifier"   // Query classification
	CategoryAgent        Category = "agent"        // Tool-agent runner
	CategoryStream       Category = "stream"       // Transcript extraction and chunk streaming
	CategoryOrchestrator Category = "orchestrator" // Request flow state machine
	CategoryPerformance  Category = "performance"  // Slow-operation timers
)

// Logger wraps a zap sugared logger bound to one category.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu          sync.RWMutex
	loggers     = make(map[Category]*Logger)
	logsDir     string
	debugMode   bool
	initialized bool
	nopSugar    = zap.NewNop().Sugar()
)

// Initialize sets up the logging directory. Should be called once at startup.
// With debug=false all loggers are silent no-ops.
func Initialize(workspace string, debug bool) error {
	mu.Lock()
	defer mu.Unlock()

	debugMode = debug
	initialized = true
	loggers = make(map[Category]*Logger)

	if !debug {
		return nil
	}

	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	logsDir = filepath.Join(workspace, ".graphchat", "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	mu.RLock()
	defer mu.RUnlock()
	return debugMode
}

// Get returns the logger for a category, creating it on first use.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	l := &Logger{category: category, sugar: nopSugar}
	if debugMode && logsDir != "" {
		if sugar, err := newFileSugar(category); err == nil {
			l.sugar = sugar
		}
	}
	loggers[category] = l
	return l
}

// newFileSugar builds a zap sugared logger writing to the category's file.
func newFileSugar(category Category) (*zap.SugaredLogger, error) {
	path := filepath.Join(logsDir, string(category)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.AddSync(f),
		zapcore.DebugLevel,
	)
	return zap.New(core).Named(string(category)).Sugar(), nil
}

// Debug logs a debug-level message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info-level message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning-level message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error-level message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Convenience wrappers for the hottest categories, matching call sites like
// logging.Orchestrator("state %s -> %s", from, to).

func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

func Agent(format string, args ...interface{}) {
	Get(CategoryAgent).Info(format, args...)
}

func AgentDebug(format string, args ...interface{}) {
	Get(CategoryAgent).Debug(format, args...)
}

func Stream(format string, args ...interface{}) {
	Get(CategoryStream).Info(format, args...)
}

func Perception(format string, args ...interface{}) {
	Get(CategoryPerception).Info(format, args...)
}

func PerceptionDebug(format string, args ...interface{}) {
	Get(CategoryPerception).Debug(format, args...)
}

func PerceptionError(format string, args ...interface{}) {
	Get(CategoryPerception).Error(format, args...)
}

func Classifier(format string, args ...interface{}) {
	Get(CategoryClassifier).Info(format, args...)
}

func Prompts(format string, args ...interface{}) {
	Get(CategoryPrompts).Info(format, args...)
}

func Graph(format string, args ...interface{}) {
	Get(CategoryGraph).Info(format, args...)
}
