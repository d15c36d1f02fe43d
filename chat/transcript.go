package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

var (
	ErrBusy         = errors.New("chat: a response is still in progress")
	ErrEmptyMessage = errors.New("chat: message is empty")
)

// Transcript is the visible message list of a conversation. Only the last
// model message changes after it is appended, and only while busy.
type Transcript struct {
	mu          sync.Mutex
	greeting    string
	messages    []Message
	busy        bool
	retryStatus string
}

func NewTranscript(greeting string) *Transcript {
	t := &Transcript{greeting: greeting}
	t.messages = t.seed()
	return t
}

func (t *Transcript) seed() []Message {
	if t.greeting == "" {
		return nil
	}
	return []Message{{Role: RoleModel, Text: t.greeting}}
}

// Begin records the user message and an empty model placeholder.
func (t *Transcript) Begin(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.busy {
		return ErrBusy
	}
	t.busy = true
	t.retryStatus = ""
	t.messages = append(t.messages,
		Message{Role: RoleUser, Text: text},
		Message{Role: RoleModel})
	return nil
}

// Append grows the in-progress model message.
func (t *Transcript) Append(chunk string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.busy {
		return
	}
	if last := &t.messages[len(t.messages)-1]; last.Role == RoleModel {
		last.Text += chunk
	}
}

// Fail records a broken response. An empty placeholder becomes a connection
// notice; partial text is kept and followed by a partial-response notice.
func (t *Transcript) Fail(error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return
	}
	last := &t.messages[len(t.messages)-1]
	if last.Role != RoleModel {
		return
	}
	switch {
	case last.Text == "":
		last.Text = ConnectionErrorNotice
	case !strings.Contains(last.Text, noticeMarker):
		t.messages = append(t.messages, Message{Role: RoleModel, Text: PartialResponseNotice})
	}
}

func (t *Transcript) Finish() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.busy = false
	t.retryStatus = ""
}

func (t *Transcript) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

func (t *Transcript) SetRetryStatus(s string) {
	t.mu.Lock()
	t.retryStatus = s
	t.mu.Unlock()
}

func (t *Transcript) RetryStatus() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retryStatus
}

// Messages returns a copy of the message list.
func (t *Transcript) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Last returns the newest message.
func (t *Transcript) Last() Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return Message{}
	}
	return t.messages[len(t.messages)-1]
}

// Reset restores the seeded greeting.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = t.seed()
	t.busy = false
	t.retryStatus = ""
}

// RetryBanner is the status line shown while a request backs off.
func RetryBanner(attempt, maxRetries int, delay time.Duration) string {
	return fmt.Sprintf("Retrying (attempt %d of %d) in %s...", attempt+2, maxRetries+1, delay.Round(time.Millisecond))
}

// RunTurn streams the answer to text into t. onChunk, when set, sees every
// fragment after it is appended; returning false abandons the response.
// Only ErrBusy and ErrEmptyMessage are returned; endpoint failures end up
// in the transcript.
func RunTurn(ctx context.Context, s *Session, t *Transcript, text string, onChunk func(string) bool) error {
	if err := t.Begin(text); err != nil {
		return err
	}
	defer t.Finish()

	for chunk, err := range s.Stream(ctx, text) {
		if err != nil {
			t.Fail(err)
			return nil
		}
		t.Append(chunk)
		if onChunk != nil && !onChunk(chunk) {
			return nil
		}
	}
	return nil
}

// RunSend is RunTurn for the whole-response mode.
func RunSend(ctx context.Context, s *Session, t *Transcript, text string) (Reply, error) {
	if err := t.Begin(text); err != nil {
		return Reply{}, err
	}
	defer t.Finish()

	r := s.Send(ctx, text)
	t.Append(r.Text)
	return r, nil
}
