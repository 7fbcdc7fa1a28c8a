// Package registry owns the process-wide table of sessions and drives each
// session's connection lifecycle.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/lock"
	"github.com/matheus3301/wppgw/internal/logging"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	wsync "github.com/matheus3301/wppgw/internal/sync"
	"go.uber.org/zap"
)

const (
	// DefaultReconnectDelay is the fixed wait before a transient reconnect.
	DefaultReconnectDelay = 3 * time.Second
	// DefaultSnapshotInterval is how often changed contacts are persisted.
	DefaultSnapshotInterval = 10 * time.Second

	logoutTimeout = 10 * time.Second
)

// Options tune timing. Zero values take the defaults.
type Options struct {
	ReconnectDelay   time.Duration
	SnapshotInterval time.Duration
}

// Registry maps session names to sessions. Create and Remove for one name
// are serialized by that name's slot; different names proceed in parallel.
type Registry struct {
	layout    session.Layout
	connector Connector
	bus       *bus.Bus
	logger    *zap.Logger
	opts      Options

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*Session
	slots    map[string]*sync.Mutex
}

// New creates a registry storing sessions under layout.
func New(layout session.Layout, connector Connector, b *bus.Bus, logger *zap.Logger, opts Options) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = DefaultSnapshotInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		layout:    layout,
		connector: connector,
		bus:       b,
		logger:    logger,
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*Session),
		slots:     make(map[string]*sync.Mutex),
	}
}

// Layout returns the on-disk layout sessions live under.
func (r *Registry) Layout() session.Layout {
	return r.layout
}

// Get returns the live session for name.
func (r *Registry) Get(name string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[name]
	return s, ok
}

// Names returns the live session names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sessions))
	for n := range r.sessions {
		out = append(out, n)
	}
	return out
}

func (r *Registry) slot(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.slots[name]
	if !ok {
		m = &sync.Mutex{}
		r.slots[name] = m
	}
	return m
}

// Create returns the session for name, building and connecting it when
// absent. With force, any existing session is torn down and everything
// persisted for name is deleted before a fresh session is built.
func (r *Registry) Create(ctx context.Context, name string, force bool) (*Session, error) {
	if err := session.ValidateName(name); err != nil {
		return nil, err
	}
	slot := r.slot(name)
	slot.Lock()
	defer slot.Unlock()

	if s, ok := r.Get(name); ok {
		if !force {
			r.ensureStarted(s)
			return s, nil
		}
		r.teardown(ctx, s, false, true)
	} else if force {
		if err := r.purgeOffline(name); err != nil {
			return nil, err
		}
	}

	s, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.sessions[name] = s
	r.mu.Unlock()

	s.Logger.Info("session created", zap.Bool("force", force), zap.Bool("has_credentials", r.layout.HasCredentials(name)))
	r.connect(s)
	return s, nil
}

// Remove tears down the session for name and deletes its persisted state.
// With logout the credentials are first invalidated on the network side.
// A session that is not loaded but left state on disk is purged offline.
func (r *Registry) Remove(ctx context.Context, name string, logout bool) error {
	if err := session.ValidateName(name); err != nil {
		return err
	}
	slot := r.slot(name)
	slot.Lock()
	defer slot.Unlock()

	s, ok := r.Get(name)
	if !ok {
		if files, err := r.layout.Files(name); err != nil || len(files) == 0 {
			return ErrSessionNotFound
		}
		return r.purgeOffline(name)
	}
	r.teardown(ctx, s, logout, true)
	return nil
}

// Shutdown closes every session without logging out or purging. Pending
// reconnects are cancelled and contact snapshots flushed.
func (r *Registry) Shutdown(ctx context.Context) {
	r.cancel()
	for _, name := range r.Names() {
		slot := r.slot(name)
		slot.Lock()
		if s, ok := r.Get(name); ok {
			r.teardown(ctx, s, false, false)
		}
		slot.Unlock()
	}
}

func (r *Registry) build(name string) (*Session, error) {
	if err := r.layout.EnsureDir(name); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	lk, err := lock.Acquire(r.layout.LockPath(name), name)
	if err != nil {
		return nil, err
	}
	db, err := store.OpenMigrated(r.layout.AppDBPath(name))
	if err != nil {
		_ = lk.Release()
		return nil, fmt.Errorf("open app db: %w", err)
	}

	logger := logging.ForSession(r.logger, name)
	s := &Session{
		Name:         name,
		Ledger:       cache.NewLedger(cache.DefaultLedgerCap),
		Chats:        cache.NewDirectory(),
		Contacts:     cache.NewContacts(),
		Machine:      status.NewMachine(name, r.bus),
		DB:           db,
		Logger:       logger,
		lock:         lk,
		stopSnapshot: make(chan struct{}),
		snapshotDone: make(chan struct{}),
	}
	s.Engine = wsync.NewEngine(name, s.Ledger, s.Chats, s.Contacts, r.bus, logger)
	s.Reconciler = wsync.NewReconciler(s.Contacts, dbResolver{db: db, logger: logger})

	if saved, err := db.LoadContacts(); err != nil {
		logger.Warn("failed to load contact snapshot", zap.Error(err))
	} else {
		for _, c := range saved {
			s.Contacts.Upsert(cache.Contact{JID: c.JID, Name: c.Name, Phone: c.Phone})
		}
		s.savedVersion = s.Contacts.Version()
	}

	go r.snapshotLoop(s)
	return s, nil
}

// purgeOffline deletes persisted state of a session that is not loaded.
func (r *Registry) purgeOffline(name string) error {
	lk, err := lock.Acquire(r.layout.LockPath(name), name)
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()
	return r.layout.Purge(name)
}

// connect builds a fresh handle and starts its handshake in the background.
func (r *Registry) connect(s *Session) {
	if s.Closing() || r.ctx.Err() != nil {
		return
	}
	conn, err := r.connector.New(s, r)
	if err != nil {
		s.Logger.Error("failed to build connection", zap.Error(err))
		r.scheduleReconnect(s)
		return
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.mu.Unlock()
	if err := s.Machine.TransitionAny(status.Connecting); err != nil {
		s.Logger.Warn("unexpected state on connect", zap.Error(err))
	}
	go func() {
		if err := conn.Connect(r.ctx); err != nil {
			s.Logger.Warn("connect failed", zap.Error(err))
			r.HandleClosed(s.Name, conn, CloseReason{Detail: err.Error()})
		}
	}()
}

// ensureStarted reconnects an idle session that has neither a handle nor a
// scheduled retry.
func (r *Registry) ensureStarted(s *Session) {
	if s.Conn() == nil && !s.ReconnectPending() && !s.Closing() {
		r.connect(s)
	}
}

// HandleQR stores a freshly issued pairing artifact, replacing any prior one.
func (r *Registry) HandleQR(name string, conn Conn, qr QR) {
	s, ok := r.Get(name)
	if !ok || !s.IsCurrent(conn) || s.Closing() || s.Machine.Current() == status.Connected {
		return
	}
	if qr.IssuedAt.IsZero() {
		qr.IssuedAt = time.Now()
	}
	s.setQR(&qr)
	if err := s.Machine.TransitionAny(status.AwaitingScan); err != nil {
		s.Logger.Warn("unexpected state on qr", zap.Error(err))
	}
	r.publish(bus.KindQRGenerated, name, name)
}

// HandleOpened marks the handshake of conn complete.
func (r *Registry) HandleOpened(name string, conn Conn) {
	s, ok := r.Get(name)
	if !ok || !s.IsCurrent(conn) || s.Closing() {
		return
	}
	s.setQR(nil)
	if err := s.Machine.TransitionAny(status.Connecting, status.Connected); err != nil {
		s.Logger.Warn("unexpected state on open", zap.Error(err))
	}
	s.Logger.Info("session connected")
	r.publish(bus.KindSessionOpened, name, nil)
}

// HandleClosed applies the close policy for conn. Events from handles that
// are no longer current are ignored. A logged-out close removes the session
// for good; any other close clears the handle-bound caches and schedules one
// reconnect.
func (r *Registry) HandleClosed(name string, conn Conn, reason CloseReason) {
	s, ok := r.Get(name)
	if !ok || s.Closing() {
		return
	}

	s.mu.Lock()
	if s.conn == nil || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.qr = nil
	s.mu.Unlock()

	conn.Close()
	r.publish(bus.KindSessionClosed, name, reason)

	if reason.LoggedOut {
		s.Logger.Info("session logged out, removing", zap.String("detail", reason.Detail))
		if err := r.Remove(context.Background(), name, false); err != nil && !errors.Is(err, ErrSessionNotFound) {
			s.Logger.Error("failed to remove logged out session", zap.Error(err))
		}
		return
	}

	s.Chats.Clear()
	if err := s.Machine.TransitionAny(status.Closing, status.Disconnected); err != nil {
		s.Logger.Warn("unexpected state on close", zap.Error(err))
	}
	s.Logger.Info("connection closed, will reconnect",
		zap.String("detail", reason.Detail),
		zap.Duration("delay", r.opts.ReconnectDelay))
	r.scheduleReconnect(s)
}

// scheduleReconnect arms at most one pending reconnect for s.
func (r *Registry) scheduleReconnect(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnect != nil || s.closing || r.ctx.Err() != nil {
		return
	}
	s.reconnect = time.AfterFunc(r.opts.ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		idle := s.conn == nil && !s.closing
		s.mu.Unlock()
		if !idle {
			return
		}
		if cur, ok := r.Get(s.Name); !ok || cur != s {
			return
		}
		s.Logger.Info("reconnecting")
		r.connect(s)
	})
}

// teardown closes s and drops it from the table. The caller holds the slot.
func (r *Registry) teardown(ctx context.Context, s *Session, logout, purge bool) {
	s.mu.Lock()
	s.closing = true
	conn := s.conn
	s.conn = nil
	s.qr = nil
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.mu.Unlock()

	_ = s.Machine.TransitionAny(status.Closing)

	if conn != nil {
		if logout && conn.IsLoggedIn() {
			lctx, cancel := context.WithTimeout(ctx, logoutTimeout)
			if err := conn.Logout(lctx); err != nil {
				s.Logger.Warn("logout failed", zap.Error(err))
			}
			cancel()
		}
		conn.Close()
	}

	close(s.stopSnapshot)
	<-s.snapshotDone
	if !purge {
		r.saveContacts(s)
	}
	if err := s.DB.Close(); err != nil {
		s.Logger.Warn("failed to close app db", zap.Error(err))
	}
	if purge {
		if err := r.layout.Purge(s.Name); err != nil {
			s.Logger.Error("failed to purge session", zap.Error(err))
		}
	}
	if err := s.lock.Release(); err != nil {
		s.Logger.Warn("failed to release lock", zap.Error(err))
	}

	r.mu.Lock()
	if r.sessions[s.Name] == s {
		delete(r.sessions, s.Name)
	}
	r.mu.Unlock()

	_ = s.Machine.TransitionAny(status.Disconnected)
	if purge {
		r.publish(bus.KindSessionRemove, s.Name, nil)
	}
	s.Logger.Info("session closed", zap.Bool("logout", logout), zap.Bool("purged", purge))
}

func (r *Registry) snapshotLoop(s *Session) {
	defer close(s.snapshotDone)
	ticker := time.NewTicker(r.opts.SnapshotInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.saveContacts(s)
		case <-s.stopSnapshot:
			return
		}
	}
}

// saveContacts writes the contact table when it changed since the last save.
func (r *Registry) saveContacts(s *Session) {
	contacts, version := s.Contacts.Snapshot()
	s.mu.RLock()
	saved := s.savedVersion
	s.mu.RUnlock()
	if version == saved {
		return
	}
	rows := make([]store.Contact, 0, len(contacts))
	for _, c := range contacts {
		rows = append(rows, store.Contact{JID: c.JID, Name: c.Name, Phone: c.Phone})
	}
	if err := s.DB.SaveContacts(rows); err != nil {
		s.Logger.Warn("contact snapshot failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.savedVersion = version
	s.mu.Unlock()
	s.Logger.Debug("contact snapshot saved", zap.Int("contacts", len(rows)))
}

func (r *Registry) publish(kind, name string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(bus.Event{Kind: kind, Session: name, Payload: payload})
}
