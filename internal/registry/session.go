package registry

import (
	"sync"
	"time"

	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/history"
	"github.com/matheus3301/wppgw/internal/lock"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	wsync "github.com/matheus3301/wppgw/internal/sync"
	"go.uber.org/zap"
)

// Session is one tenant: its connection handle and the caches fed by it.
// The ledger, directory and contact table outlive connection handles.
type Session struct {
	Name       string
	Ledger     *cache.Ledger
	Chats      *cache.Directory
	Contacts   *cache.Contacts
	Machine    *status.Machine
	Engine     *wsync.Engine
	Reconciler *wsync.Reconciler
	DB         *store.DB
	Logger     *zap.Logger

	mu           sync.RWMutex
	conn         Conn
	qr           *QR
	lock         *lock.Lock
	closing      bool
	reconnect    *time.Timer
	stopSnapshot chan struct{}
	snapshotDone chan struct{}
	savedVersion uint64
}

// Conn returns the current connection handle, or nil.
func (s *Session) Conn() Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// IsCurrent reports whether c is the session's current handle.
func (s *Session) IsCurrent(c Conn) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil && s.conn == c
}

// Connected returns the handle if the handshake has completed.
func (s *Session) Connected() (Conn, error) {
	c := s.Conn()
	if c == nil || s.Machine.Current() != status.Connected || !c.IsConnected() {
		return nil, ErrNotConnected
	}
	return c, nil
}

// QR returns the pending pairing artifact, if any.
func (s *Session) QR() (QR, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.qr == nil {
		return QR{}, false
	}
	return *s.qr, true
}

// Closing reports whether an explicit close is in progress.
func (s *Session) Closing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closing
}

// ReconnectPending reports whether a reconnect is scheduled.
func (s *Session) ReconnectPending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reconnect != nil
}

// ChatList returns the reconciled canonical chat list.
func (s *Session) ChatList() []wsync.Chat {
	return s.Reconciler.Reconcile(s.Chats.Snapshot())
}

// HistorySource bundles the session's stores for message retrieval.
func (s *Session) HistorySource() history.Source {
	src := history.Source{
		Ledger: s.Ledger,
		Chats:  s.Chats,
		Writer: s.Engine,
		Aliases: func(id string) []string {
			return s.Reconciler.Aliases(id, s.knownChatIDs())
		},
	}
	if c, err := s.Connected(); err == nil {
		src.Fetcher = c
	}
	return src
}

func (s *Session) knownChatIDs() []string {
	ids := s.Ledger.ChatIDs()
	for _, e := range s.Chats.Snapshot() {
		ids = append(ids, e.ID)
	}
	return ids
}

func (s *Session) setQR(qr *QR) {
	s.mu.Lock()
	s.qr = qr
	s.mu.Unlock()
}

// dbResolver resolves anonymous ids through the persisted LID map.
type dbResolver struct {
	db     *store.DB
	logger *zap.Logger
}

func (r dbResolver) PhoneForLID(lid string) (string, bool) {
	if r.db == nil {
		return "", false
	}
	pn, ok, err := r.db.LookupPN(lid)
	if err != nil {
		r.logger.Debug("lid lookup failed", zap.String("lid", lid), zap.Error(err))
		return "", false
	}
	return pn, ok
}
