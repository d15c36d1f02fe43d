// Package chat holds the portfolio assistant's conversation logic: a
// Session talks to a remote generation endpoint and a Transcript keeps the
// visible message list in sync with it.
package chat

import (
	"context"
	"fmt"
)

// Endpoint creates remote conversations.
type Endpoint interface {
	NewChat(ctx context.Context) (RemoteChat, error)
}

// RemoteChat is one conversation on the remote side. It keeps its own turn
// history; callers only send the newest user message.
type RemoteChat interface {
	Send(ctx context.Context, message string) (string, error)
	// OpenStream returns once the first response or error is known, so a
	// stream that never starts is reported here rather than from Recv.
	OpenStream(ctx context.Context, message string) (Stream, error)
}

// Stream yields text fragments in arrival order. Recv returns io.EOF after
// the last fragment. Fragments may be empty.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// APIError is the provider-neutral shape endpoint adapters convert their
// SDK errors into, so retry classification does not depend on one vendor.
type APIError struct {
	Code    int
	Status  string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	switch {
	case e.Code != 0 && e.Status != "":
		return fmt.Sprintf("api error %d %s: %s", e.Code, e.Status, e.Message)
	case e.Code != 0:
		return fmt.Sprintf("api error %d: %s", e.Code, e.Message)
	case e.Status != "":
		return fmt.Sprintf("api error %s: %s", e.Status, e.Message)
	}
	return "api error: " + e.Message
}

func (e *APIError) Unwrap() error      { return e.Err }
func (e *APIError) StatusCode() int    { return e.Code }
func (e *APIError) StatusName() string { return e.Status }
