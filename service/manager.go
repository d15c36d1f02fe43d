package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/dylangamachefl/portfolio-website-v3/profile"
	"github.com/dylangamachefl/portfolio-website-v3/retry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("conversation not found")
	ErrSessionLimit = errors.New("too many open conversations")
)

// Conversation pairs a chat session with its visible transcript.
type Conversation struct {
	ID        string
	CreatedAt time.Time

	session    *chat.Session
	transcript *chat.Transcript
	tlog       *TranscriptLogger
	log        *zap.Logger

	turnTimeout time.Duration
	// turn serializes session use between turns and resets.
	turn sync.Mutex

	mu        sync.Mutex
	updatedAt time.Time
	onRetry   func(banner string)
}

func (c *Conversation) Messages() []chat.Message { return c.transcript.Messages() }
func (c *Conversation) Busy() bool               { return c.transcript.Busy() }
func (c *Conversation) RetryStatus() string      { return c.transcript.RetryStatus() }

func (c *Conversation) UpdatedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updatedAt
}

func (c *Conversation) touch(now time.Time) {
	c.mu.Lock()
	c.updatedAt = now
	c.mu.Unlock()
}

func (c *Conversation) notifyRetry(attempt, maxRetries int, delay time.Duration) {
	banner := chat.RetryBanner(attempt, maxRetries, delay)
	c.transcript.SetRetryStatus(banner)
	c.mu.Lock()
	fn := c.onRetry
	c.mu.Unlock()
	if fn != nil {
		fn(banner)
	}
}

func (c *Conversation) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.turnTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.turnTimeout)
}

// Send answers text as a whole response.
func (c *Conversation) Send(ctx context.Context, text string) (chat.Reply, error) {
	if !c.turn.TryLock() {
		return chat.Reply{}, chat.ErrBusy
	}
	defer c.turn.Unlock()
	ctx, cancel := c.turnContext(ctx)
	defer cancel()
	before := len(c.transcript.Messages())
	r, err := chat.RunSend(ctx, c.session, c.transcript, text)
	if err != nil {
		return r, err
	}
	c.record(before)
	return r, nil
}

// Stream answers text incrementally; see chat.RunTurn for onChunk. onRetry,
// when set, receives the retry banner each time the request backs off.
// The returned messages are the ones this turn added to the transcript.
func (c *Conversation) Stream(ctx context.Context, text string, onChunk func(string) bool, onRetry func(string)) ([]chat.Message, error) {
	if !c.turn.TryLock() {
		return nil, chat.ErrBusy
	}
	defer c.turn.Unlock()
	ctx, cancel := c.turnContext(ctx)
	defer cancel()
	c.mu.Lock()
	c.onRetry = onRetry
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.onRetry = nil
		c.mu.Unlock()
	}()

	before := len(c.transcript.Messages())
	if err := chat.RunTurn(ctx, c.session, c.transcript, text, onChunk); err != nil {
		return nil, err
	}
	c.record(before)
	msgs := c.transcript.Messages()
	if before > len(msgs) {
		return nil, nil
	}
	return msgs[before:], nil
}

// Reset starts a new remote conversation and restores the greeting.
func (c *Conversation) Reset(ctx context.Context) error {
	if !c.turn.TryLock() {
		return chat.ErrBusy
	}
	defer c.turn.Unlock()
	if err := c.session.Initialize(ctx); err != nil {
		c.log.Warn("reset could not reach endpoint", zap.Error(err))
	}
	c.transcript.Reset()
	c.touch(time.Now())
	if c.tlog != nil {
		_ = c.tlog.Mark("conversation reset")
	}
	return nil
}

func (c *Conversation) record(from int) {
	c.touch(time.Now())
	if c.tlog == nil {
		return
	}
	msgs := c.transcript.Messages()
	if from > len(msgs) {
		return
	}
	if err := c.tlog.Log(msgs[from:]...); err != nil {
		c.log.Warn("transcript log failed", zap.Error(err))
	}
}

// Manager owns the open conversations.
type Manager struct {
	mu    sync.Mutex
	chats map[string]*Conversation
	// starting counts conversations being set up; they hold a slot under limit.
	starting int

	endpoint      chat.Endpoint
	profile       profile.Profile
	systemContext string
	greeting      string
	policy        retry.Policy
	limit         int
	turnTimeout   time.Duration
	transcriptDir string
	log           *zap.Logger
}

func NewManager(ep chat.Endpoint, p profile.Profile) *Manager {
	return &Manager{
		chats:         map[string]*Conversation{},
		endpoint:      ep,
		profile:       p,
		systemContext: p.SystemContext(),
		greeting:      p.Greeting,
		policy:        retry.DefaultPolicy(),
		log:           zap.NewNop(),
	}
}

func (m *Manager) Profile() profile.Profile { return m.profile }

func (m *Manager) WithPolicy(p retry.Policy) *Manager {
	m.policy = p
	return m
}

func (m *Manager) WithLogger(l *zap.Logger) *Manager {
	if l != nil {
		m.log = l
	}
	return m
}

// WithLimit caps open conversations; zero means unlimited.
func (m *Manager) WithLimit(n int) *Manager {
	m.limit = n
	return m
}

// WithTurnTimeout bounds each turn, retries included; zero disables it.
func (m *Manager) WithTurnTimeout(d time.Duration) *Manager {
	m.turnTimeout = d
	return m
}

// WithTranscriptDir enables per-conversation transcript logs under dir.
func (m *Manager) WithTranscriptDir(dir string) *Manager {
	m.transcriptDir = dir
	return m
}

func (m *Manager) Start(ctx context.Context) (*Conversation, error) {
	m.mu.Lock()
	if m.limit > 0 && len(m.chats)+m.starting >= m.limit {
		m.mu.Unlock()
		return nil, ErrSessionLimit
	}
	m.starting++
	m.mu.Unlock()
	inserted := false
	defer func() {
		if !inserted {
			m.mu.Lock()
			m.starting--
			m.mu.Unlock()
		}
	}()

	id := uuid.NewString()
	log := m.log.With(zap.String("chat", id))
	now := time.Now()
	c := &Conversation{
		ID:          id,
		CreatedAt:   now,
		transcript:  chat.NewTranscript(m.greeting),
		log:         log,
		turnTimeout: m.turnTimeout,
		updatedAt:   now,
	}
	c.session = chat.NewSession(m.endpoint, m.systemContext,
		chat.WithPolicy(m.policy),
		chat.WithLogger(log),
		chat.WithRetryNotifier(c.notifyRetry))
	if err := c.session.Initialize(ctx); err != nil {
		// The session initializes itself again on the first message.
		log.Warn("initial chat creation failed", zap.Error(err))
	}
	if m.transcriptDir != "" {
		tl, err := NewTranscriptLogger(m.transcriptDir, id)
		if err != nil {
			log.Warn("transcript log disabled", zap.Error(err))
		} else {
			c.tlog = tl
		}
	}

	m.mu.Lock()
	m.starting--
	m.chats[id] = c
	inserted = true
	m.mu.Unlock()
	log.Info("conversation started")
	return c, nil
}

func (m *Manager) Get(id string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return ErrNotFound
	}
	delete(m.chats, id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

// Prune drops idle conversations that are not mid-response and returns how many went.
func (m *Manager) Prune(maxIdle time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, c := range m.chats {
		if c.Busy() || now.Sub(c.UpdatedAt()) < maxIdle {
			continue
		}
		delete(m.chats, id)
		n++
	}
	if n > 0 {
		m.log.Info("pruned idle conversations", zap.Int("count", n))
	}
	return n
}

// RunPruner prunes every interval until ctx is done.
func (m *Manager) RunPruner(ctx context.Context, interval, maxIdle time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			m.Prune(maxIdle, now)
		}
	}
}
