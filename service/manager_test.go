package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func instantPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Wait = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestManager(ep chat.Endpoint) *Manager {
	return NewManager(ep, profile.Default()).WithPolicy(instantPolicy())
}

// blockingEndpoint holds every Send until release is closed.
type blockingEndpoint struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingEndpoint() *blockingEndpoint {
	return &blockingEndpoint{started: make(chan struct{}, 1), release: make(chan struct{})}
}

func (e *blockingEndpoint) NewChat(context.Context) (chat.RemoteChat, error) { return e, nil }

func (e *blockingEndpoint) Send(ctx context.Context, _ string) (string, error) {
	select {
	case e.started <- struct{}{}:
	default:
	}
	select {
	case <-e.release:
		return "done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *blockingEndpoint) OpenStream(context.Context, string) (chat.Stream, error) {
	return nil, &chat.APIError{Code: 400, Message: "not supported"}
}

func TestStartSeedsGreeting(t *testing.T) {
	ep := chat.NewScriptedEndpoint()
	m := newTestManager(ep)

	c, err := m.Start(context.Background())
	require.NoError(t, err)
	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.RoleModel, msgs[0].Role)
	assert.Equal(t, profile.Default().Greeting, msgs[0].Text)
	assert.Equal(t, 1, ep.Chats())
	assert.Equal(t, 1, m.Len())

	got, err := m.Get(c.ID)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestSessionLimit(t *testing.T) {
	m := newTestManager(chat.NewScriptedEndpoint()).WithLimit(1)
	_, err := m.Start(context.Background())
	require.NoError(t, err)
	_, err = m.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionLimit)
}

func TestGetAndDeleteUnknown(t *testing.T) {
	m := newTestManager(chat.NewScriptedEndpoint())
	_, err := m.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Delete("nope"), ErrNotFound)
}

func TestStreamReportsRetriesAndAddedMessages(t *testing.T) {
	ep := chat.NewScriptedEndpoint(
		chat.Step{Err: &chat.APIError{Code: 503, Message: "overloaded"}},
		chat.Step{Err: &chat.APIError{Code: 503, Message: "overloaded"}},
		chat.Step{Chunks: []string{"Project A", ", ", "Project B"}},
	)
	m := newTestManager(ep)
	c, err := m.Start(context.Background())
	require.NoError(t, err)

	var banners, chunks []string
	added, err := c.Stream(context.Background(), "What projects have you built?",
		func(s string) bool { chunks = append(chunks, s); return true },
		func(b string) { banners = append(banners, b) })
	require.NoError(t, err)

	assert.Equal(t, []string{"Project A", ", ", "Project B"}, chunks)
	assert.Equal(t, []string{
		"Retrying (attempt 2 of 4) in 1s...",
		"Retrying (attempt 3 of 4) in 2s...",
	}, banners)
	require.Len(t, added, 2)
	assert.Equal(t, chat.Message{Role: chat.RoleUser, Text: "What projects have you built?"}, added[0])
	assert.Equal(t, "Project A, Project B", added[1].Text)
	assert.Empty(t, c.RetryStatus())
	assert.False(t, c.Busy())
}

func TestResetStartsNewRemoteChat(t *testing.T) {
	ep := chat.NewScriptedEndpoint()
	m := newTestManager(ep)
	c, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, c.Messages(), 3)

	require.NoError(t, c.Reset(context.Background()))
	assert.Len(t, c.Messages(), 1)
	assert.Equal(t, 2, ep.Chats())

	_, err = c.Send(context.Background(), "again")
	require.NoError(t, err)
	payloads := ep.Payloads()
	require.Len(t, payloads, 2)
	assert.True(t, strings.HasSuffix(payloads[1], "User question: again"))
}

func TestBusyConversationRejectsTurnsAndReset(t *testing.T) {
	ep := newBlockingEndpoint()
	m := newTestManager(ep)
	c, err := m.Start(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), "slow question")
		done <- err
	}()
	<-ep.started

	_, err = c.Send(context.Background(), "second")
	assert.ErrorIs(t, err, chat.ErrBusy)
	assert.ErrorIs(t, c.Reset(context.Background()), chat.ErrBusy)
	assert.Equal(t, 0, m.Prune(0, time.Now().Add(time.Hour)))

	close(ep.release)
	require.NoError(t, <-done)
	assert.Equal(t, "done", c.Messages()[2].Text)
}

func TestTurnTimeoutFallsBack(t *testing.T) {
	ep := newBlockingEndpoint()
	m := newTestManager(ep).WithTurnTimeout(10 * time.Millisecond)
	c, err := m.Start(context.Background())
	require.NoError(t, err)

	r, err := c.Send(context.Background(), "slow question")
	require.NoError(t, err)
	assert.Equal(t, chat.FallbackReply, r.Text)
}

func TestPruneDropsIdleConversations(t *testing.T) {
	m := newTestManager(chat.NewScriptedEndpoint())
	old, err := m.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, m.Prune(time.Hour, time.Now()))
	assert.Equal(t, 1, m.Prune(time.Hour, old.UpdatedAt().Add(2*time.Hour)))
	_, err = m.Get(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRunPrunerStopsWithContext(t *testing.T) {
	m := newTestManager(chat.NewScriptedEndpoint())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.RunPruner(ctx, time.Millisecond, time.Hour) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestTranscriptDirRecordsTurns(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(chat.NewScriptedEndpoint(chat.Step{Text: "Hi there"})).WithTranscriptDir(dir)
	c, err := m.Start(context.Background())
	require.NoError(t, err)

	_, err = c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NoError(t, c.Reset(context.Background()))

	b, err := os.ReadFile(c.tlog.Path())
	require.NoError(t, err)
	log := string(b)
	assert.Contains(t, log, "user: hello")
	assert.Contains(t, log, "model: Hi there")
	assert.Contains(t, log, "system: conversation reset")
}

// slowEndpoint delays chat creation so concurrent starts overlap.
type slowEndpoint struct {
	*chat.ScriptedEndpoint
	delay time.Duration
}

func (e slowEndpoint) NewChat(ctx context.Context) (chat.RemoteChat, error) {
	time.Sleep(e.delay)
	return e.ScriptedEndpoint.NewChat(ctx)
}

func TestConcurrentStartsRespectLimit(t *testing.T) {
	ep := slowEndpoint{ScriptedEndpoint: chat.NewScriptedEndpoint(), delay: 50 * time.Millisecond}
	m := newTestManager(ep).WithLimit(2)

	var started, refused atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Start(context.Background())
			switch {
			case err == nil:
				started.Add(1)
			case errors.Is(err, ErrSessionLimit):
				refused.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, int32(8), refused.Load())
	assert.Equal(t, 2, m.Len())

	_, err := m.Start(context.Background())
	assert.ErrorIs(t, err, ErrSessionLimit)
}
