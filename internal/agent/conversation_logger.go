package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/fsagent/internal/domain"
)

// ConversationLogConfig controls NDJSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ConversationLogEvent is one NDJSON line.
type ConversationLogEvent struct {
	Timestamp  string         `json:"ts"`
	RunID      string         `json:"run_id"`
	Seq        int            `json:"seq"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Role       string         `json:"role,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// ConversationLogger persists conversation events for later inspection.
type ConversationLogger interface {
	Log(event ConversationLogEvent)
	Close() error
}

// NewConversationLogger creates an asynchronous NDJSON logger. Events are
// written to Dir/<run_id>.ndjson and, when enabled, to GlobalPath. A
// disabled config yields a logger that drops everything.
func NewConversationLogger(cfg ConversationLogConfig, logger *slog.Logger) (ConversationLogger, error) {
	if !cfg.Enabled {
		return noopConversationLogger{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("conversation log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create conversation log dir: %w", err)
	}
	if cfg.GlobalEnabled {
		if cfg.GlobalPath == "" {
			return nil, fmt.Errorf("conversation log global path is required")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create conversation log global dir: %w", err)
		}
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	l := &fileConversationLogger{
		cfg:    cfg,
		logger: logger,
		queue:  make(chan ConversationLogEvent, queueSize),
		done:   make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

type noopConversationLogger struct{}

func (noopConversationLogger) Log(ConversationLogEvent) {}
func (noopConversationLogger) Close() error             { return nil }

type fileConversationLogger struct {
	cfg    ConversationLogConfig
	logger *slog.Logger
	queue  chan ConversationLogEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

func (l *fileConversationLogger) Log(event ConversationLogEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Warn("conversation log queue full, dropping event", "run_id", event.RunID, "event_type", event.EventType)
	}
}

func (l *fileConversationLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	<-l.done
	return nil
}

func (l *fileConversationLogger) loop() {
	defer close(l.done)
	for event := range l.queue {
		line, err := json.Marshal(event)
		if err != nil {
			l.logger.Warn("failed to encode conversation log event", "error", err)
			continue
		}
		line = append(line, '\n')

		if err := appendLine(filepath.Join(l.cfg.Dir, safeFileName(event.RunID)+".ndjson"), line); err != nil {
			l.logger.Warn("failed to write conversation log", "run_id", event.RunID, "error", err)
		}
		if l.cfg.GlobalEnabled {
			if err := appendLine(l.cfg.GlobalPath, line); err != nil {
				l.logger.Warn("failed to write global conversation log", "error", err)
			}
		}
	}
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func safeFileName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
	if name == "" {
		return "unknown"
	}
	return name
}

var (
	ansiPattern    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)`)
	controlPattern = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// cleanForReadability strips terminal escape sequences and control
// characters so the log stays readable in a pager.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = controlPattern.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// NewConversationLogSink turns run events into conversation log lines.
func NewConversationLogSink(log ConversationLogger) EventSink {
	return SinkFunc(func(_ context.Context, event Event) error {
		entry := ConversationLogEvent{
			Timestamp: event.Timestamp.Format(time.RFC3339Nano),
			RunID:     event.RunID,
			Seq:       event.Seq,
			EventType: string(event.Type),
			Meta: map[string]any{
				"iteration": event.Iteration,
			},
		}
		switch event.Type {
		case EventMessage:
			if event.Message == nil {
				return nil
			}
			entry.Role = string(event.Message.Role)
			entry.ContentRaw = event.Message.Content
			entry.Direction = "outbound"
			if event.Message.Role == domain.RoleAssistant {
				entry.Direction = "inbound"
			}
			entry.Meta["index"] = event.Index
		case EventFinalAnswer:
			entry.Direction = "inbound"
			entry.ContentRaw = event.Content
		case EventToolCall, EventToolResult:
			entry.Direction = "internal"
			entry.Meta["tool"] = event.Tool
			if event.Status != "" {
				entry.Meta["status"] = event.Status
			}
			entry.ContentRaw = event.Content
		default:
			entry.Direction = "internal"
			entry.ContentRaw = event.Content
		}
		log.Log(entry)
		return nil
	})
}
