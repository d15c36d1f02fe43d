package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	openai "github.com/openai/openai-go/v3" // imported as openai
	"github.com/openai/openai-go/v3/option"
)

// Client is a chat.Endpoint backed by any OpenAI-compatible API.
type Client struct {
	cli   openai.Client
	model string
}

// NewClient disables the SDK's own retries; chat sessions retry with backoff.
func NewClient(apiKey string, baseURL string, model string, timeout time.Duration) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{
		cli:   openai.NewClient(opts...),
		model: model,
	}
}

func (c *Client) NewChat(context.Context) (chat.RemoteChat, error) {
	return &conversation{c: c}, nil
}

// conversation keeps the completed turns; the API itself is stateless.
type conversation struct {
	c       *Client
	history []openai.ChatCompletionMessageParamUnion
}

func (v *conversation) params(message string) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(v.history)+1)
	msgs = append(msgs, v.history...)
	msgs = append(msgs, openai.UserMessage(message))
	return openai.ChatCompletionNewParams{
		Model:    v.c.model,
		Messages: msgs,
	}
}

func (v *conversation) Send(ctx context.Context, message string) (string, error) {
	p := v.params(message)
	res, err := v.c.cli.Chat.Completions.New(ctx, p)
	if err != nil {
		return "", convertError(err)
	}
	text := ""
	if len(res.Choices) > 0 {
		text = res.Choices[0].Message.Content
	}
	v.history = append(p.Messages, openai.AssistantMessage(text))
	return text, nil
}

// chunkSource is the part of the SDK's SSE stream used here.
type chunkSource interface {
	Next() bool
	Current() openai.ChatCompletionChunk
	Err() error
	Close() error
}

func (v *conversation) OpenStream(ctx context.Context, message string) (chat.Stream, error) {
	p := v.params(message)
	src := v.c.cli.Chat.Completions.NewStreaming(ctx, p)
	s := &chunkStream{src: src, conv: v, msgs: p.Messages}
	// Pull the first event so a failed request surfaces as an open error.
	if !src.Next() {
		err := src.Err()
		if err != nil {
			_ = src.Close()
			return nil, convertError(err)
		}
		s.done = true
		return s, nil
	}
	s.pending, s.hasPending = deltaText(src.Current()), true
	return s, nil
}

type chunkStream struct {
	src        chunkSource
	conv       *conversation
	msgs       []openai.ChatCompletionMessageParamUnion
	text       strings.Builder
	pending    string
	hasPending bool
	done       bool
}

func (s *chunkStream) Recv() (string, error) {
	if s.hasPending {
		s.hasPending = false
		s.text.WriteString(s.pending)
		return s.pending, nil
	}
	if s.done {
		return "", io.EOF
	}
	if s.src.Next() {
		t := deltaText(s.src.Current())
		s.text.WriteString(t)
		return t, nil
	}
	if err := s.src.Err(); err != nil {
		return "", convertError(err)
	}
	s.done = true
	s.conv.history = append(s.msgs, openai.AssistantMessage(s.text.String()))
	return "", io.EOF
}

func (s *chunkStream) Close() error {
	return s.src.Close()
}

func deltaText(c openai.ChatCompletionChunk) string {
	if len(c.Choices) == 0 {
		return ""
	}
	return c.Choices[0].Delta.Content
}

func convertError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(apiErr.StatusCode)
	}
	return &chat.APIError{Code: apiErr.StatusCode, Message: msg, Err: err}
}
