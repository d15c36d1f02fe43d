package chat

import (
	"context"
	"io"
	"strings"
	"sync"
)

// Step scripts one call to a ScriptedEndpoint chat.
type Step struct {
	// Err fails the call (Send or OpenStream) outright.
	Err error
	// Text is the whole reply; streams split it into words unless Chunks is set.
	Text   string
	Chunks []string
	// BreakErr is returned by Recv after the chunks instead of io.EOF.
	BreakErr error
}

// ScriptedEndpoint is an offline Endpoint that plays back scripted steps in
// order and records every payload it receives. Once the script runs out it
// answers with Responder, or a canned reply when Responder is nil.
type ScriptedEndpoint struct {
	Responder func(message string) string

	mu       sync.Mutex
	steps    []Step
	payloads []string
	chats    int
	opened   int
	closed   int
}

func NewScriptedEndpoint(steps ...Step) *ScriptedEndpoint {
	return &ScriptedEndpoint{steps: steps}
}

// Push appends steps to the script.
func (e *ScriptedEndpoint) Push(steps ...Step) {
	e.mu.Lock()
	e.steps = append(e.steps, steps...)
	e.mu.Unlock()
}

func (e *ScriptedEndpoint) NewChat(context.Context) (RemoteChat, error) {
	e.mu.Lock()
	e.chats++
	e.mu.Unlock()
	return &scriptedChat{e: e}, nil
}

// Payloads returns every message received, failed attempts included.
func (e *ScriptedEndpoint) Payloads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.payloads...)
}

// Calls is the number of Send and OpenStream calls.
func (e *ScriptedEndpoint) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.payloads)
}

// Chats is the number of remote conversations created.
func (e *ScriptedEndpoint) Chats() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.chats
}

// OpenStreams is the number of streams opened and not yet closed.
func (e *ScriptedEndpoint) OpenStreams() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.opened - e.closed
}

func (e *ScriptedEndpoint) next(message string) Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payloads = append(e.payloads, message)
	if len(e.steps) > 0 {
		s := e.steps[0]
		e.steps = e.steps[1:]
		return s
	}
	if e.Responder != nil {
		return Step{Text: e.Responder(message)}
	}
	return Step{Text: cannedReply}
}

const cannedReply = "This is an **offline** reply. Configure a real provider to talk to the model."

type scriptedChat struct {
	e *ScriptedEndpoint
}

func (c *scriptedChat) Send(_ context.Context, message string) (string, error) {
	s := c.e.next(message)
	if s.Err != nil {
		return "", s.Err
	}
	if s.Text == "" && len(s.Chunks) > 0 {
		return strings.Join(s.Chunks, ""), nil
	}
	return s.Text, nil
}

func (c *scriptedChat) OpenStream(_ context.Context, message string) (Stream, error) {
	s := c.e.next(message)
	if s.Err != nil {
		return nil, s.Err
	}
	chunks := s.Chunks
	if chunks == nil {
		chunks = splitWords(s.Text)
	}
	c.e.mu.Lock()
	c.e.opened++
	c.e.mu.Unlock()
	return &scriptedStream{e: c.e, chunks: chunks, breakErr: s.BreakErr}, nil
}

type scriptedStream struct {
	e        *ScriptedEndpoint
	chunks   []string
	breakErr error
	closed   bool
}

func (s *scriptedStream) Recv() (string, error) {
	if len(s.chunks) == 0 {
		if s.breakErr != nil {
			return "", s.breakErr
		}
		return "", io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *scriptedStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.e.mu.Lock()
	s.e.closed++
	s.e.mu.Unlock()
	return nil
}

// splitWords keeps the separating spaces so the chunks concatenate back to s.
func splitWords(s string) []string {
	var out []string
	for len(s) > 0 {
		i := strings.IndexByte(s[1:], ' ')
		if i < 0 {
			out = append(out, s)
			break
		}
		out = append(out, s[:i+1])
		s = s[i+1:]
	}
	return out
}
