package events

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonlEnvelope struct {
	Event     string      `json:"event"`
	Fields    interface{} `json:"fields"`
	WrittenAt string      `json:"written_at"`
}

// JSONLSink appends audit events to a JSONL file, one envelope per line.
// Write failures are logged as well as returned; engines drop the error, so
// the log line is what surfaces a full disk.
type JSONLSink struct {
	path   string
	logger *zap.Logger
	mu     sync.Mutex
}

func NewJSONLSink(path string, logger *zap.Logger) *JSONLSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLSink{path: path, logger: logger}
}

func (s *JSONLSink) Emit(event Event) error {
	if err := s.write(event); err != nil {
		s.logger.Error("write audit event",
			zap.String("event", event.Name()),
			zap.String("path", s.path),
			zap.Error(err))
		return err
	}
	return nil
}

func (s *JSONLSink) write(event Event) error {
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create events dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer file.Close()

	envelope := jsonlEnvelope{
		Event:     event.Name(),
		Fields:    event,
		WrittenAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	line, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush events: %w", err)
	}
	return nil
}
