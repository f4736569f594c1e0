// Package session hosts the per-restaurant back-office view. A session
// wires the push subscription and the fixed-interval poll into one live
// reconciler, so both delivery channels share a single identity deduper
// and the console sees each new order exactly once.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sae-pos/api/internal/lifecycle"
	"github.com/sae-pos/api/internal/livefeed"
	"github.com/sae-pos/api/internal/model"
	"github.com/sae-pos/api/internal/stream"
)

// DefaultPollInterval is the poll backstop cadence.
const DefaultPollInterval = 10 * time.Second

// ErrClosed is returned by operations on a torn-down session.
var ErrClosed = errors.New("session closed")

// Session is one restaurant's live view: reconciler, lifecycle manager,
// push subscription and poll loop.
type Session struct {
	scope    uuid.UUID
	manager  *lifecycle.Manager
	rec      *livefeed.Reconciler
	store    lifecycle.Store
	interval time.Duration

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// Config collects the collaborators a session needs.
type Config struct {
	Scope        uuid.UUID
	Store        lifecycle.Store
	Printer      lifecycle.Printer
	Bus          *stream.Bus
	Notify       livefeed.NotifyFunc
	PollInterval time.Duration
}

// Open bootstraps a session and starts its push and poll loops. The
// returned session keeps running until Close.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	rec := livefeed.New(cfg.Scope, cfg.Notify)
	mgr := lifecycle.New(cfg.Scope, cfg.Store, cfg.Printer, rec)
	if err := mgr.Bootstrap(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		scope:    cfg.Scope,
		manager:  mgr,
		rec:      rec,
		store:    cfg.Store,
		interval: cfg.PollInterval,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	events, unsubscribe := cfg.Bus.Subscribe(cfg.Scope)
	go s.run(runCtx, events, unsubscribe)
	return s, nil
}

// Scope returns the restaurant this session serves.
func (s *Session) Scope() uuid.UUID { return s.scope }

// Manager exposes the lifecycle operations for this session.
func (s *Session) Manager() *lifecycle.Manager {
	return s.manager
}

// Live returns the current live set, or ErrClosed after teardown.
func (s *Session) Live() ([]model.Order, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.manager.Live(), nil
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close stops the push and poll loops. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.cancel()
		<-s.done
	})
}

func (s *Session) run(ctx context.Context, events <-chan model.Order, unsubscribe func()) {
	defer close(s.done)
	defer unsubscribe()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-events:
			if !ok {
				return
			}
			s.rec.OnPush(o)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll runs one backstop cycle. A failed fetch is logged and dropped;
// the next tick retries, so a transient store outage only delays
// convergence by one interval.
func (s *Session) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	orders, err := s.store.FetchLive(fetchCtx, s.scope)
	if err != nil {
		log.Printf("ERROR: session %s poll: %v", s.scope, err)
		return
	}
	s.rec.OnPollResult(orders)
}

// PrinterFunc builds the document printer for one restaurant, so each
// session prints with its own receipt header.
type PrinterFunc func(scope uuid.UUID) lifecycle.Printer

// Manager tracks one session per restaurant, opened lazily on first use.
type Manager struct {
	store      lifecycle.Store
	printerFor PrinterFunc
	bus        *stream.Bus
	notify     func(scope uuid.UUID, o model.Order)
	poll       time.Duration

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a session registry. notify is invoked once per
// newly admitted order, tagged with the owning restaurant.
func NewManager(st lifecycle.Store, printerFor PrinterFunc, bus *stream.Bus, notify func(scope uuid.UUID, o model.Order), poll time.Duration) *Manager {
	return &Manager{
		store:      st,
		printerFor: printerFor,
		bus:        bus,
		notify:     notify,
		poll:       poll,
		sessions:   make(map[uuid.UUID]*Session),
	}
}

// Get returns the session for a restaurant, opening one on first use.
func (m *Manager) Get(ctx context.Context, scope uuid.UUID) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[scope]; ok && !s.Closed() {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := Open(ctx, Config{
		Scope:   scope,
		Store:   m.store,
		Printer: m.printerFor(scope),
		Bus:     m.bus,
		Notify: func(o model.Order) {
			if m.notify != nil {
				m.notify(scope, o)
			}
		},
		PollInterval: m.poll,
	})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[scope]; ok && !existing.Closed() {
		// Lost the race; keep the first one.
		go s.Close()
		return existing, nil
	}
	m.sessions[scope] = s
	return s, nil
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
