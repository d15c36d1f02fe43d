// Package gemini adapts Google's Gen AI SDK to chat.Endpoint.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"sync"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"google.golang.org/genai"
)

// DefaultModel is a Gemma model; Gemma takes no system instruction, which is
// why the session injects its context into the first message instead.
const DefaultModel = "gemma-3-27b-it"

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// Client creates the SDK client on first use, so a missing API key shows up
// as a failed conversation rather than a startup error.
type Client struct {
	cfg Config

	mu  sync.Mutex
	cli *genai.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	return &Client{cfg: cfg}
}

func (c *Client) client(ctx context.Context) (*genai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli != nil {
		return c.cli, nil
	}
	cc := &genai.ClientConfig{
		APIKey:  c.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = c.cfg.BaseURL
	}
	if c.cfg.Timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: c.cfg.Timeout}
	}
	cli, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.cli = cli
	return cli, nil
}

func (c *Client) NewChat(ctx context.Context) (chat.RemoteChat, error) {
	cli, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	ch, err := cli.Chats.Create(ctx, c.cfg.Model, nil, nil)
	if err != nil {
		return nil, convertError(err)
	}
	return &remoteChat{ch: ch}, nil
}

type remoteChat struct {
	ch *genai.Chat
}

func (r *remoteChat) Send(ctx context.Context, message string) (string, error) {
	resp, err := r.ch.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", convertError(err)
	}
	return responseText(resp), nil
}

func (r *remoteChat) OpenStream(ctx context.Context, message string) (chat.Stream, error) {
	next, stop := iter.Pull2(r.ch.SendMessageStream(ctx, genai.Part{Text: message}))
	resp, err, ok := next()
	if !ok {
		stop()
		return &responseStream{done: true}, nil
	}
	if err != nil {
		stop()
		return nil, convertError(err)
	}
	return &responseStream{
		next:       next,
		stop:       stop,
		pending:    responseText(resp),
		hasPending: true,
	}, nil
}

type responseStream struct {
	next       func() (*genai.GenerateContentResponse, error, bool)
	stop       func()
	pending    string
	hasPending bool
	done       bool
}

func (s *responseStream) Recv() (string, error) {
	if s.hasPending {
		s.hasPending = false
		return s.pending, nil
	}
	if s.done {
		return "", io.EOF
	}
	resp, err, ok := s.next()
	if !ok {
		s.done = true
		return "", io.EOF
	}
	if err != nil {
		s.done = true
		return "", convertError(err)
	}
	return responseText(resp), nil
}

func (s *responseStream) Close() error {
	s.done = true
	if s.stop != nil {
		s.stop()
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Text()
}

func convertError(err error) error {
	var v genai.APIError
	if errors.As(err, &v) {
		return &chat.APIError{Code: v.Code, Status: v.Status, Message: v.Message, Err: err}
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return &chat.APIError{Code: p.Code, Status: p.Status, Message: p.Message, Err: err}
	}
	return err
}
