package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// runner is the sidecar surface the pool needs; *Client satisfies it.
type runner interface {
	OpenSession(ctx domain.Context, userID string) (string, error)
	CloseSession(ctx domain.Context, sessionID string) error
	KeepAlive(ctx domain.Context, sessionID string) error
}

// PoolConfig tunes the session pool.
type PoolConfig struct {
	MaxConcurrent   int64         // global cap on leased sessions, default 4
	IdleTTL         time.Duration // discard sessions idle this long, default 15m
	KeepAliveEvery  time.Duration // ping cadence for idle sessions, default 2m
	MaintenanceTick time.Duration // reaper/keep-alive loop cadence, default 30s
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.IdleTTL <= 0 {
		c.IdleTTL = 15 * time.Minute
	}
	if c.KeepAliveEvery <= 0 {
		c.KeepAliveEvery = 2 * time.Minute
	}
	if c.MaintenanceTick <= 0 {
		c.MaintenanceTick = 30 * time.Second
	}
	return c
}

type session struct {
	id       string
	leased   bool // a lease is outstanding between Acquire and Release
	busy     bool // MarkInUse/MarkIdle hint while leased
	lastUsed time.Time
	lastPing time.Time
}

// lease implements domain.BrowserContext.
type lease struct {
	sessionID string
	userID    string
}

func (l lease) SessionID() string { return l.sessionID }
func (l lease) UserID() string    { return l.userID }

// Pool keeps one authenticated ERP session per agent and reuses it across
// jobs. Exclusivity per agent is guaranteed upstream by the agent lock; the
// pool adds a global concurrency cap, collapses concurrent logins, discards
// poisoned sessions and keeps idle ones authenticated.
type Pool struct {
	runner runner
	sem    *semaphore.Weighted
	sf     singleflight.Group
	cfg    PoolConfig

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// NewPool builds a Pool over the given runner client.
func NewPool(r runner, cfg PoolConfig) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		runner:   r,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		cfg:      cfg,
		sessions: make(map[string]*session),
	}
}

// Acquire leases the agent's session, logging in through the runner when no
// live session exists. Concurrent logins for one agent are collapsed.
func (p *Pool) Acquire(ctx domain.Context, userID string, opts domain.AcquireOptions) (domain.BrowserContext, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("op=browser.acquire: pool closed: %w", domain.ErrInternal)
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("op=browser.acquire: %w", err)
	}

	// Two passes: the reaper can close an idle session between the
	// singleflight returning it and the lease being marked.
	for attempt := 0; attempt < 2; attempt++ {
		id, err := p.sessionFor(ctx, userID)
		if err != nil {
			p.sem.Release(1)
			return nil, fmt.Errorf("op=browser.acquire: %w", err)
		}
		p.mu.Lock()
		s, ok := p.sessions[userID]
		if ok && s.id == id {
			s.leased = true
			s.busy = true
			s.lastUsed = time.Now()
			p.mu.Unlock()
			slog.Debug("browser session leased",
				slog.String("user_id", userID),
				slog.String("session_id", id),
				slog.Bool("from_queue", opts.FromQueue))
			return lease{sessionID: id, userID: userID}, nil
		}
		p.mu.Unlock()
	}
	p.sem.Release(1)
	return nil, fmt.Errorf("op=browser.acquire: session churned during acquire: %w", domain.ErrInternal)
}

func (p *Pool) sessionFor(ctx domain.Context, userID string) (string, error) {
	v, err, _ := p.sf.Do(userID, func() (any, error) {
		p.mu.Lock()
		if s, ok := p.sessions[userID]; ok {
			id := s.id
			p.mu.Unlock()
			return id, nil
		}
		p.mu.Unlock()

		id, err := p.runner.OpenSession(ctx, userID)
		if err != nil {
			return nil, err
		}
		now := time.Now()
		p.mu.Lock()
		p.sessions[userID] = &session{id: id, lastUsed: now, lastPing: now}
		p.mu.Unlock()
		observability.OpenBrowserSession()
		slog.Info("browser session opened", slog.String("user_id", userID), slog.String("session_id", id))
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Release returns the lease. success=false marks the session poisoned: it
// is closed and discarded instead of reused.
func (p *Pool) Release(userID string, h domain.BrowserContext, success bool) {
	if h == nil {
		return
	}
	defer p.sem.Release(1)
	p.mu.Lock()
	s, ok := p.sessions[userID]
	if !ok || s.id != h.SessionID() {
		p.mu.Unlock()
		return
	}
	if success {
		s.leased = false
		s.busy = false
		s.lastUsed = time.Now()
		p.mu.Unlock()
		return
	}
	delete(p.sessions, userID)
	p.mu.Unlock()
	p.discard(userID, h.SessionID(), "poisoned")
}

// MarkInUse flags the session as actively driving the browser.
func (p *Pool) MarkInUse(userID string) { p.setBusy(userID, true) }

// MarkIdle flags the session as parked (e.g. while a sync handler writes
// fetched pages to the database) so keep-alive pings cover it.
func (p *Pool) MarkIdle(userID string) { p.setBusy(userID, false) }

func (p *Pool) setBusy(userID string, busy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[userID]; ok {
		s.busy = busy
		s.lastUsed = time.Now()
	}
}

func (p *Pool) discard(userID, sessionID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.runner.CloseSession(ctx, sessionID); err != nil {
		slog.Warn("browser session close failed",
			slog.String("user_id", userID),
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
	observability.CloseBrowserSession()
	slog.Info("browser session discarded",
		slog.String("user_id", userID),
		slog.String("session_id", sessionID),
		slog.String("reason", reason))
}

// Maintain reaps idle sessions and keeps parked ones authenticated. It
// blocks until ctx ends; run it in its own goroutine.
func (p *Pool) Maintain(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.MaintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	now := time.Now()
	type target struct {
		userID string
		id     string
	}
	var reap, ping []target

	p.mu.Lock()
	for userID, s := range p.sessions {
		switch {
		case !s.leased && now.Sub(s.lastUsed) > p.cfg.IdleTTL:
			delete(p.sessions, userID)
			reap = append(reap, target{userID, s.id})
		case !s.busy && now.Sub(s.lastPing) >= p.cfg.KeepAliveEvery:
			s.lastPing = now
			ping = append(ping, target{userID, s.id})
		}
	}
	p.mu.Unlock()

	for _, t := range reap {
		p.discard(t.userID, t.id, "idle")
	}
	for _, t := range ping {
		if err := p.runner.KeepAlive(ctx, t.id); err != nil {
			slog.Warn("browser keep-alive failed",
				slog.String("user_id", t.userID),
				slog.String("session_id", t.id),
				slog.Any("error", err))
			p.dropIfIdle(t.userID, t.id)
		}
	}
}

// dropIfIdle discards a session that failed its keep-alive, unless a job
// leased it in the meantime.
func (p *Pool) dropIfIdle(userID, sessionID string) {
	p.mu.Lock()
	s, ok := p.sessions[userID]
	if !ok || s.id != sessionID || s.leased {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, userID)
	p.mu.Unlock()
	p.discard(userID, sessionID, "keepalive failed")
}

// Close discards every session. Outstanding leases become stale handles;
// their Release is a no-op on the session table.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	remaining := p.sessions
	p.sessions = make(map[string]*session)
	p.mu.Unlock()

	for userID, s := range remaining {
		p.discard(userID, s.id, "shutdown")
	}
}

// Sessions reports the number of live sessions, for tests and readiness.
func (p *Pool) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}
