package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Category represents the subsystem generating the log
type Category string

const (
	CategoryProtocol Category = "protocol"
	CategoryStorage  Category = "storage"
	CategoryServer   Category = "server"
	CategoryConfig   Category = "config"
)

// File names written under the logger's base directory.
const (
	RequestLogFile = "requests.jsonl"
	ErrorLogFile   = "errors.jsonl"
)

const redactedValue = "[REDACTED]"

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event represents a structured log event
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Category  Category       `json:"category"`
	EventType string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Logger appends structured events to JSONL files and an optional mirror
// writer. It is safe for concurrent use.
type Logger struct {
	baseDir     string
	requestFile *os.File
	errorFile   *os.File
	mirror      io.Writer
	mu          sync.Mutex
	minLevel    Level
}

// NewLogger creates a logger writing under baseDir.
func NewLogger(baseDir string) (*Logger, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	requestFile, err := os.OpenFile(
		filepath.Join(baseDir, RequestLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open request log: %w", err)
	}

	errorFile, err := os.OpenFile(
		filepath.Join(baseDir, ErrorLogFile),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND,
		0o644,
	)
	if err != nil {
		requestFile.Close()
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}

	return &Logger{
		baseDir:     baseDir,
		requestFile: requestFile,
		errorFile:   errorFile,
		minLevel:    LevelInfo,
	}, nil
}

// NewWriterLogger creates a logger that writes every event to w only.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{
		mirror:   w,
		minLevel: LevelInfo,
	}
}

// ParseLevel converts a config string into a Level.
func ParseLevel(raw string) (Level, bool) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := levelRank[level]
	return level, ok
}

// BaseDir returns the directory holding the JSONL files, if any.
func (l *Logger) BaseDir() string {
	return l.baseDir
}

// SetMinLevel sets the minimum log level
func (l *Logger) SetMinLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.minLevel = level
}

// SetMirror copies every written event to w as well. Nil disables mirroring.
func (l *Logger) SetMirror(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mirror = w
}

// Log writes an event to appropriate destinations
func (l *Logger) Log(event Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	if !l.shouldLog(event.Level) {
		return nil
	}

	event.Details = redactDetails(event.Details)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	data = append(data, '\n')

	if l.requestFile != nil {
		if _, err := l.requestFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to request log: %w", err)
		}
	}

	if event.Level == LevelError && l.errorFile != nil {
		if _, err := l.errorFile.Write(data); err != nil {
			return fmt.Errorf("failed to write to error log: %w", err)
		}
	}

	if l.mirror != nil {
		if _, err := l.mirror.Write(data); err != nil {
			return fmt.Errorf("failed to write to mirror: %w", err)
		}
	}

	return nil
}

func (l *Logger) shouldLog(level Level) bool {
	return levelRank[level] >= levelRank[l.minLevel]
}

// redactDetails returns a copy of details with secret-bearing keys masked.
func redactDetails(details map[string]any) map[string]any {
	if len(details) == 0 {
		return details
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if strings.EqualFold(k, "password") {
			out[k] = redactedValue
			continue
		}
		out[k] = v
	}
	return out
}

// Debug logs a debug event
func (l *Logger) Debug(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelDebug,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Info logs an info event
func (l *Logger) Info(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelInfo,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Warn logs a warning event
func (l *Logger) Warn(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelWarn,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Error logs an error event
func (l *Logger) Error(category Category, eventType string, message string, details map[string]any) error {
	return l.Log(Event{
		Level:     LevelError,
		Category:  category,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// Close closes all log files
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var errs []error
	if l.requestFile != nil {
		if err := l.requestFile.Close(); err != nil {
			errs = append(errs, err)
		}
		l.requestFile = nil
	}
	if l.errorFile != nil {
		if err := l.errorFile.Close(); err != nil {
			errs = append(errs, err)
		}
		l.errorFile = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing log files: %v", errs)
	}
	return nil
}

// ReadRecentEvents reads the last count events from a JSONL log. A malformed
// line stops decoding; the events read before it are returned with the error.
func ReadRecentEvents(logPath string, count int) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}
	defer file.Close()

	if count <= 0 {
		return []Event{}, nil
	}

	ring := make([]Event, 0, count)
	decoder := json.NewDecoder(file)
	for {
		var event Event
		if err := decoder.Decode(&event); err != nil {
			if err == io.EOF {
				break
			}
			return ring, fmt.Errorf("failed to decode log: %w", err)
		}
		if len(ring) == count {
			ring = append(ring[:0], ring[1:]...)
		}
		ring = append(ring, event)
	}

	return ring, nil
}
