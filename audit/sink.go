package audit

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"spendgate/core/events"
	"spendgate/core/types"
)

// recordCarrier is satisfied by events that can render themselves as a
// structured record.
type recordCarrier interface {
	Event() *types.Event
}

// FileSink appends one JSON line per event to a rotating audit log. Emission
// is fire-and-forget: write failures are logged and swallowed so the
// enclosing execution always completes; the off-process pipeline reconciles
// gaps from its own retries.
type FileSink struct {
	mu     sync.Mutex
	writer *lumberjack.Logger
	nowFn  func() time.Time
}

// FileSinkConfig bounds the rotating audit log.
type FileSinkConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// NewFileSink opens a rotating sink at the configured path.
func NewFileSink(cfg FileSinkConfig) *FileSink {
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 50
	}
	return &FileSink{
		writer: &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		},
		nowFn: time.Now,
	}
}

type auditLine struct {
	EmittedAt  int64             `json:"emittedAt"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Emit implements the events.Emitter interface.
func (s *FileSink) Emit(evt events.Event) {
	if s == nil || s.writer == nil || evt == nil {
		return
	}
	line := auditLine{EmittedAt: s.nowFn().Unix(), Type: evt.EventType()}
	if carrier, ok := evt.(recordCarrier); ok {
		if record := carrier.Event(); record != nil {
			line.Type = record.Type
			line.Attributes = record.Attributes
		}
	}
	encoded, err := json.Marshal(line)
	if err != nil {
		slog.Warn("audit: encode event", "type", line.Type, "error", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.writer.Write(append(encoded, '\n')); err != nil {
		slog.Warn("audit: write event", "type", line.Type, "error", err)
	}
}

// Close flushes and closes the underlying log file.
func (s *FileSink) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.Close()
}

// Tee fans an event out to multiple emitters.
type Tee []events.Emitter

// Emit implements the events.Emitter interface.
func (t Tee) Emit(evt events.Event) {
	for _, emitter := range t {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
