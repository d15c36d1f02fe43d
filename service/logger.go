package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
)

// TranscriptLogger appends finished turns of one conversation to a file.
type TranscriptLogger struct {
	mu   sync.Mutex
	path string
}

func NewTranscriptLogger(baseDir, chatID string) (*TranscriptLogger, error) {
	logsDir := filepath.Join(baseDir, "chats")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, err
	}
	p := filepath.Join(logsDir, fmt.Sprintf("%s.log", chatID))
	return &TranscriptLogger{path: p}, nil
}

// Log writes the messages of one turn, oldest first.
func (l *TranscriptLogger) Log(msgs ...chat.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	ts := time.Now().Format("2006-01-02 15:04:05")
	for _, m := range msgs {
		if _, err := fmt.Fprintf(f, "[%s] %s: %s\n", ts, m.Role, m.Text); err != nil {
			return err
		}
	}
	return nil
}

// Mark records a lifecycle event such as a reset.
func (l *TranscriptLogger) Mark(event string) error {
	return l.Log(chat.Message{Role: chat.RoleSystem, Text: event})
}

func (l *TranscriptLogger) Path() string { return l.path }
