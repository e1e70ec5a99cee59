// Package convlog writes human-readable NDJSON transcripts of tutoring conversations.
package convlog

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Event types.
const (
	EventSessionOpen      = "session_open"
	EventSessionClose     = "session_close"
	EventUserMessage      = "user_message"
	EventAssistantMessage = "assistant_message"
	EventFeedback         = "feedback"
	EventError            = "error"
)

// Directions.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Config controls conversation logging.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Event is one transcript line.
type Event struct {
	Timestamp  time.Time      `json:"ts"`
	ScenarioID string         `json:"scenario_id"`
	StudentID  string         `json:"student_id"`
	ConnID     string         `json:"conn_id,omitempty"`
	Room       string         `json:"room,omitempty"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Recorder accepts transcript events.
type Recorder interface {
	Log(ev Event)
	Close() error
}

// Logger is an asynchronous Recorder. Events are queued and written by a
// single goroutine; when the queue is full the event is dropped.
type Logger struct {
	cfg    Config
	logger *slog.Logger
	queue  chan Event
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewLogger creates a Logger. A disabled logger accepts and discards events.
func NewLogger(cfg Config, logger *slog.Logger) (*Logger, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{cfg: cfg, logger: logger, done: make(chan struct{})}
	if !cfg.Enabled {
		close(l.done)
		return l, nil
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
		l.cfg.QueueSize = cfg.QueueSize
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global conversation log dir: %w", err)
		}
	}

	l.queue = make(chan Event, cfg.QueueSize)
	go l.run()
	logger.Info("Conversation logging enabled", "dir", cfg.Dir, "global", cfg.GlobalEnabled)
	return l, nil
}

// Log queues ev. It never blocks.
func (l *Logger) Log(ev Event) {
	if !l.cfg.Enabled {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	if ev.Content == "" && ev.ContentRaw != "" {
		ev.Content = cleanForReadability(ev.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.logger.Warn("Conversation log queue full, dropping event",
			"scenario_id", ev.ScenarioID, "student_id", ev.StudentID, "event_type", ev.EventType)
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		if !l.cfg.Enabled {
			return
		}
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		line, err := json.Marshal(ev)
		if err != nil {
			l.logger.Warn("Failed to encode conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		path := filepath.Join(l.cfg.Dir, safeName(ev.ScenarioID), safeName(ev.StudentID)+".ndjson")
		if err := appendLine(path, line); err != nil {
			l.logger.Warn("Failed to write conversation log", "path", path, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("Failed to write global conversation log", "path", l.cfg.GlobalPath, "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var (
	ansiPattern      = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07]*\x07`)
	unsafeName       = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	spacePattern     = regexp.MustCompile(`[ \t]+`)
	blankLinePattern = regexp.MustCompile(`\n{3,}`)
)

func cleanForReadability(raw string) string {
	s := ansiPattern.ReplaceAllString(raw, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	s = spacePattern.ReplaceAllString(s, " ")
	s = blankLinePattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func safeName(id string) string {
	if id == "" {
		return "_"
	}
	return unsafeName.ReplaceAllString(id, "_")
}

type discard struct{}

func (discard) Log(Event)    {}
func (discard) Close() error { return nil }

// Discard is a Recorder that drops every event.
var Discard Recorder = discard{}

var _ Recorder = (*Logger)(nil)
