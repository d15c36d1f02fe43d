package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"go.uber.org/zap"
)

// ErrInterrupted is yielded by Stream when an already started stream breaks.
var ErrInterrupted = errors.New("chat: stream interrupted")

// Reply is the whole-response result of Send.
type Reply struct {
	Text string `json:"text"`
}

// Session is one conversation with a remote endpoint. The system context is
// sent once, in front of the first message after Initialize.
//
// A Session is not safe for concurrent use; callers serialize sends.
type Session struct {
	endpoint      Endpoint
	systemContext string
	policy        retry.Policy
	log           *zap.Logger
	onRetry       func(attempt, maxRetries int, delay time.Duration)

	remote RemoteChat
	first  bool
}

type Option func(*Session)

func WithPolicy(p retry.Policy) Option {
	return func(s *Session) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRetryNotifier reports each backoff wait, e.g. to drive a "retrying" banner.
func WithRetryNotifier(fn func(attempt, maxRetries int, delay time.Duration)) Option {
	return func(s *Session) { s.onRetry = fn }
}

func NewSession(ep Endpoint, systemContext string, opts ...Option) *Session {
	s := &Session{
		endpoint:      ep,
		systemContext: systemContext,
		policy:        retry.DefaultPolicy(),
		log:           zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Initialize discards any previous remote conversation and starts a new one.
// The next message carries the system context again.
func (s *Session) Initialize(ctx context.Context) error {
	s.remote = nil
	s.first = true
	rc, err := s.endpoint.NewChat(ctx)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	s.remote = rc
	s.log.Debug("chat session initialized")
	return nil
}

// Initialized reports whether a remote conversation exists.
func (s *Session) Initialized() bool { return s.remote != nil }

func (s *Session) ensure(ctx context.Context) error {
	if s.remote != nil {
		return nil
	}
	return s.Initialize(ctx)
}

// payload builds the outgoing text and clears the first-message flag; the
// context is attempted once whether or not the dispatch succeeds.
func (s *Session) payload(message string) string {
	if !s.first {
		return message
	}
	s.first = false
	return s.systemContext + "\n\nUser question: " + message
}

func (s *Session) retryPolicy() retry.Policy {
	p := s.policy
	if p.Logger == nil {
		p.Logger = s.log
	}
	if s.onRetry != nil {
		notify := s.onRetry
		maxRetries := p.MaxRetries
		inner := p.OnRetry
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			if inner != nil {
				inner(attempt, delay, err)
			}
			notify(attempt, maxRetries, delay)
		}
	}
	return p
}

// Send returns the whole response. It never fails: when the endpoint cannot
// be reached the reply is FallbackReply.
func (s *Session) Send(ctx context.Context, message string) Reply {
	if err := s.ensure(ctx); err != nil {
		s.log.Error("chat unavailable", zap.Error(err))
		return Reply{Text: FallbackReply}
	}
	msg := s.payload(message)
	remote := s.remote
	text, err := retry.Do(ctx, s.retryPolicy(), func(ctx context.Context) (string, error) {
		return remote.Send(ctx, msg)
	})
	if err != nil {
		s.log.Error("send failed", zap.Error(err))
		return Reply{Text: FallbackReply}
	}
	return Reply{Text: text}
}

// Stream returns the response as it is generated. Opening the stream is
// retried; a break after the first fragment is not, and ends the sequence
// with an error wrapping ErrInterrupted. When the stream cannot be opened
// the sequence yields one diagnostic chunk and ends. Stopping the range
// closes the remote stream.
func (s *Session) Stream(ctx context.Context, message string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if err := s.ensure(ctx); err != nil {
			s.log.Error("chat unavailable", zap.Error(err))
			yield(diagnostic(err, s.policy), nil)
			return
		}
		msg := s.payload(message)
		remote := s.remote
		stream, err := retry.Do(ctx, s.retryPolicy(), func(ctx context.Context) (Stream, error) {
			return remote.OpenStream(ctx, msg)
		})
		if err != nil {
			s.log.Error("stream open failed", zap.Error(err))
			yield(diagnostic(err, s.policy), nil)
			return
		}
		defer stream.Close()

		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				s.log.Warn("stream interrupted", zap.Error(err))
				yield("", fmt.Errorf("%w: %w", ErrInterrupted, err))
				return
			}
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
