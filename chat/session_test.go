package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testContext = "You are the portfolio assistant for Test Person."

// instantPolicy keeps the default delays for reporting but never sleeps.
func instantPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Wait = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestSession(ep Endpoint, opts ...Option) *Session {
	return NewSession(ep, testContext, append([]Option{WithPolicy(instantPolicy())}, opts...)...)
}

func collect(t *testing.T, seq func(func(string, error) bool)) ([]string, error) {
	t.Helper()
	var chunks []string
	var last error
	for c, err := range seq {
		if err != nil {
			last = err
			continue
		}
		chunks = append(chunks, c)
	}
	return chunks, last
}

func TestSendRetriesOverloadThenSucceeds(t *testing.T) {
	ep := NewScriptedEndpoint(
		Step{Err: &APIError{Code: 503, Message: "overloaded"}},
		Step{Err: &APIError{Code: 503, Message: "overloaded"}},
		Step{Text: "Project A, Project B"},
	)
	s := newTestSession(ep)
	require.NoError(t, s.Initialize(context.Background()))

	r := s.Send(context.Background(), "What projects have you built?")

	assert.Equal(t, "Project A, Project B", r.Text)
	assert.Equal(t, 3, ep.Calls())
}

func TestSecondMessageIsSentRaw(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Text: "first"}, Step{Text: "second"})
	s := newTestSession(ep)
	require.NoError(t, s.Initialize(context.Background()))

	s.Send(context.Background(), "What projects have you built?")
	s.Send(context.Background(), "Tell me more")

	payloads := ep.Payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, testContext+"\n\nUser question: What projects have you built?", payloads[0])
	assert.Equal(t, "Tell me more", payloads[1])
	assert.NotContains(t, payloads[1], testContext)
}

func TestContextSentOnceAcrossSendAndStream(t *testing.T) {
	ep := NewScriptedEndpoint()
	s := newTestSession(ep)
	require.NoError(t, s.Initialize(context.Background()))

	_, _ = collect(t, s.Stream(context.Background(), "one"))
	s.Send(context.Background(), "two")
	_, _ = collect(t, s.Stream(context.Background(), "three"))

	count := 0
	for _, p := range ep.Payloads() {
		count += strings.Count(p, testContext)
	}
	assert.Equal(t, 1, count)
	assert.True(t, strings.HasPrefix(ep.Payloads()[0], testContext))
}

func TestFirstMessageFlagClearedEvenOnFailure(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Err: errors.New("bad request")}, Step{Text: "ok"})
	s := newTestSession(ep)

	assert.Equal(t, FallbackReply, s.Send(context.Background(), "hi").Text)
	assert.Equal(t, "ok", s.Send(context.Background(), "again").Text)

	payloads := ep.Payloads()
	require.Len(t, payloads, 2)
	assert.Contains(t, payloads[0], testContext)
	assert.Equal(t, "again", payloads[1])
}

func TestInitializeResetsContextInjection(t *testing.T) {
	ep := NewScriptedEndpoint()
	s := newTestSession(ep)
	require.NoError(t, s.Initialize(context.Background()))
	s.Send(context.Background(), "a")
	s.Send(context.Background(), "b")

	require.NoError(t, s.Initialize(context.Background()))
	s.Send(context.Background(), "c")

	payloads := ep.Payloads()
	require.Len(t, payloads, 3)
	assert.Contains(t, payloads[0], testContext)
	assert.Equal(t, "b", payloads[1])
	assert.Equal(t, testContext+"\n\nUser question: c", payloads[2])
	assert.Equal(t, 2, ep.Chats())
}

func TestSendAutoInitializes(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Text: "hello"})
	s := newTestSession(ep)
	assert.False(t, s.Initialized())

	assert.Equal(t, "hello", s.Send(context.Background(), "hi").Text)
	assert.True(t, s.Initialized())
	assert.Equal(t, 1, ep.Chats())
	assert.Contains(t, ep.Payloads()[0], testContext)
}

func TestSendEmptyTextIsSuccess(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Text: ""})
	s := newTestSession(ep)
	assert.Equal(t, "", s.Send(context.Background(), "hi").Text)
	assert.Equal(t, 1, ep.Calls())
}

func TestSendExhaustedReturnsFallback(t *testing.T) {
	overloaded := &APIError{Code: 503}
	ep := NewScriptedEndpoint(Step{Err: overloaded}, Step{Err: overloaded}, Step{Err: overloaded}, Step{Err: overloaded})
	s := newTestSession(ep)

	r := s.Send(context.Background(), "hi")
	assert.Equal(t, FallbackReply, r.Text)
	assert.Equal(t, 4, ep.Calls())
}

func TestStreamYieldsChunksInOrderSkippingEmpty(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Chunks: []string{"Hel", "", "lo", " world"}})
	s := newTestSession(ep)

	chunks, err := collect(t, s.Stream(context.Background(), "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo", " world"}, chunks)
	assert.Equal(t, 0, ep.OpenStreams())
}

func TestStreamPermanentFailureYieldsUnexpectedNotice(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Err: &APIError{Code: 400, Message: "invalid argument"}})
	s := newTestSession(ep)

	chunks, err := collect(t, s.Stream(context.Background(), "hi"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Unexpected Error")
	assert.Equal(t, 1, ep.Calls())
}

func TestStreamOverloadExhaustedYieldsOverloadNotice(t *testing.T) {
	var steps []Step
	for i := 0; i < 4; i++ {
		steps = append(steps, Step{Err: &APIError{Code: 503, Status: "UNAVAILABLE"}})
	}
	ep := NewScriptedEndpoint(steps...)
	s := newTestSession(ep)

	chunks, err := collect(t, s.Stream(context.Background(), "hi"))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "Service Overloaded")
	assert.Contains(t, chunks[0], "4 times")
	assert.Contains(t, chunks[0], "7s")
	assert.Equal(t, 4, ep.Calls())
}

func TestStreamRateLimitedAndConnectionNotices(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"rate limited", &APIError{Code: 429}, "Rate Limit Reached"},
		{"internal", &APIError{Code: 500}, "Connection Failed"},
		{"network", errors.New("network is unreachable"), "Connection Failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := NewScriptedEndpoint()
			for i := 0; i < 4; i++ {
				ep.Push(Step{Err: tt.err})
			}
			s := newTestSession(ep)

			chunks, err := collect(t, s.Stream(context.Background(), "hi"))
			require.NoError(t, err)
			require.Len(t, chunks, 1)
			assert.Contains(t, chunks[0], tt.want)
		})
	}
}

func TestStreamOpenRetriedThenStreams(t *testing.T) {
	ep := NewScriptedEndpoint(
		Step{Err: &APIError{Code: 429}},
		Step{Chunks: []string{"a", "b"}},
	)
	var banners []string
	s := newTestSession(ep, WithRetryNotifier(func(attempt, maxRetries int, delay time.Duration) {
		banners = append(banners, RetryBanner(attempt, maxRetries, delay))
	}))

	chunks, err := collect(t, s.Stream(context.Background(), "hi"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, chunks)
	assert.Equal(t, []string{"Retrying (attempt 2 of 4) in 1s..."}, banners)
}

func TestStreamInterruptedIsNotRetried(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Chunks: []string{"partial"}, BreakErr: &APIError{Code: 503}})
	s := newTestSession(ep)

	chunks, err := collect(t, s.Stream(context.Background(), "hi"))
	assert.Equal(t, []string{"partial"}, chunks)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 1, ep.Calls())
	assert.Equal(t, 0, ep.OpenStreams())
}

func TestStreamConsumerStopClosesRemote(t *testing.T) {
	ep := NewScriptedEndpoint(Step{Chunks: []string{"a", "b", "c"}})
	s := newTestSession(ep)

	var got []string
	for c, err := range s.Stream(context.Background(), "hi") {
		require.NoError(t, err)
		got = append(got, c)
		break
	}
	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 0, ep.OpenStreams())
}

func TestAPIErrorMessage(t *testing.T) {
	assert.Equal(t, "api error 503 UNAVAILABLE: busy", (&APIError{Code: 503, Status: "UNAVAILABLE", Message: "busy"}).Error())
	assert.Equal(t, "api error 429: slow down", (&APIError{Code: 429, Message: "slow down"}).Error())
	assert.Equal(t, "api error RESOURCE_EXHAUSTED: quota", (&APIError{Status: "RESOURCE_EXHAUSTED", Message: "quota"}).Error())
	assert.Equal(t, "api error: boom", (&APIError{Message: "boom"}).Error())
}
