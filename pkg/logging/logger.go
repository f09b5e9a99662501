// Package logging writes diagnostic logs for stockpilot components.
//
// Every component of one process shares a log file under
// ~/.stockpilot/logs/<session-id>-stockpilot.log. Lines are JSON written by
// zerolog and carry the component name and session id. Operator-facing
// progress does not go here; see package events.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is a component-scoped diagnostic logger.
type Logger struct {
	zl        zerolog.Logger
	sessionID string
	component string
	file      *os.File
	logPath   string
	closeOnce sync.Once
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	initOnce sync.Once
	initErr  error

	levelMu sync.RWMutex
	level   = zerolog.DebugLevel
)

// SetDirectory overrides the log directory. Must be called before the first NewLogger.
func SetDirectory(dir string) {
	logDir = dir
}

// SetLevel sets the minimum level for loggers created afterwards.
// Unknown names leave the level unchanged and return an error.
func SetLevel(name string) error {
	parsed, err := zerolog.ParseLevel(name)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", name, err)
	}
	levelMu.Lock()
	level = parsed
	levelMu.Unlock()
	return nil
}

func currentLevel() zerolog.Level {
	levelMu.RLock()
	defer levelMu.RUnlock()
	return level
}

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				initErr = fmt.Errorf("failed to get home directory: %w", err)
				return
			}
			logDir = filepath.Join(homeDir, ".stockpilot", "logs")
		}
		if err := os.MkdirAll(logDir, 0o750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a logger for a component writing to the session log file.
//
// If the log directory or file cannot be opened it returns a logger writing
// to stderr together with the error, so callers can warn and carry on.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-stockpilot.log", sessID))

	// several components append to the same file
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		err = fmt.Errorf("failed to open log file: %w", err)
		return newFallbackLogger(component, err), err
	}

	return &Logger{
		zl:        newZerolog(file, component, sessID),
		sessionID: sessID,
		component: component,
		file:      file,
		logPath:   logPath,
	}, nil
}

// MustLogger is NewLogger for callers that accept the stderr fallback silently.
func MustLogger(component string) *Logger {
	l, _ := NewLogger(component)
	return l
}

func newFallbackLogger(component string, err error) *Logger {
	zl := newZerolog(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}, component, getSessionID())
	zl.Warn().Err(err).Msg("file logging unavailable, falling back to stderr")

	return &Logger{
		zl:        zl,
		sessionID: getSessionID(),
		component: component,
	}
}

func newZerolog(w io.Writer, component, sessID string) zerolog.Logger {
	return zerolog.New(w).
		Level(currentLevel()).
		With().
		Timestamp().
		Str("component", component).
		Str("session", sessID).
		Logger()
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), component: "nop"}
}

// With returns a child logger carrying an extra string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str(key, value).Logger(),
		sessionID: l.sessionID,
		component: l.component,
		logPath:   l.logPath,
		// file stays owned by the parent
	}
}

// Zerolog exposes the underlying logger for structured fields.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Debugf(format string, v ...interface{}) { l.zl.Debug().Msgf(format, v...) }
func (l *Logger) Infof(format string, v ...interface{})  { l.zl.Info().Msgf(format, v...) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.zl.Warn().Msgf(format, v...) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.zl.Error().Msgf(format, v...) }

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, empty in fallback mode.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}
