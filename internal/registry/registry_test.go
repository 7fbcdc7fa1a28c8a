package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/status"
	"go.uber.org/zap"
)

type fakeConn struct {
	mu         sync.Mutex
	loggedIn   bool
	connected  bool
	closed     int
	logouts    int
	connectErr error
	sent       []string
	sendErr    error
	history    []cache.Message
}

func (c *fakeConn) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connected = true
	}
	return c.connectErr
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed++
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeConn) counts() (closed, logouts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.logouts
}

func (c *fakeConn) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.logouts++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeConn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) SendText(ctx context.Context, chatID, text string) (SentMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return SentMessage{}, c.sendErr
	}
	c.sent = append(c.sent, chatID+":"+text)
	return SentMessage{ID: "srv-" + text, Timestamp: time.Unix(1000, 0)}, nil
}

func (c *fakeConn) GroupInfo(ctx context.Context, groupID string) (*GroupInfo, error) {
	return &GroupInfo{ID: groupID, Name: "Group"}, nil
}

func (c *fakeConn) JoinedGroups(ctx context.Context) ([]GroupInfo, error) {
	return []GroupInfo{{ID: "g@g.us", Name: "Group"}}, nil
}

func (c *fakeConn) OnWhatsApp(ctx context.Context, phone string) (string, bool, error) {
	return phone + cache.PhoneSuffix, true, nil
}

func (c *fakeConn) FetchHistory(ctx context.Context, chatID string, count int) ([]cache.Message, error) {
	return c.history, nil
}

type fakeConnector struct {
	mu    sync.Mutex
	conns []*fakeConn
	// template applied to every new handle
	loggedIn   bool
	connectErr error
}

func (f *fakeConnector) New(s *Session, hooks Hooks) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{loggedIn: f.loggedIn, connectErr: f.connectErr}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeConnector) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func newTestRegistry(t *testing.T, fc *fakeConnector) *Registry {
	t.Helper()
	r := New(session.NewLayout(t.TempDir()), fc, bus.New(), zap.NewNop(), Options{
		ReconnectDelay:   20 * time.Millisecond,
		SnapshotInterval: 20 * time.Millisecond,
	})
	t.Cleanup(func() { r.Shutdown(context.Background()) })
	return r
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

func TestCreateIdempotent(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)

	s1, err := r.Create(context.Background(), "main", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	s2, err := r.Create(context.Background(), "main", false)
	if err != nil {
		t.Fatal(err)
	}
	if s1 != s2 {
		t.Error("second Create() returned a different session")
	}
	if fc.count() != 1 {
		t.Errorf("connector built %d handles, want 1", fc.count())
	}
	if got, ok := r.Get("main"); !ok || got != s1 {
		t.Error("Get() does not return the created session")
	}
	if s1.Machine.Current() != status.Connecting {
		t.Errorf("state = %s, want connecting", s1.Machine.Current())
	}
}

func TestCreateRejectsBadName(t *testing.T) {
	r := newTestRegistry(t, &fakeConnector{})
	var nameErr *session.NameError
	if _, err := r.Create(context.Background(), "../etc", false); !errors.As(err, &nameErr) {
		t.Errorf("Create() error = %v, want *session.NameError", err)
	}
}

func TestCreateForcePurges(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)

	s1, err := r.Create(context.Background(), "main", false)
	if err != nil {
		t.Fatal(err)
	}
	s1.Ledger.Append("c@g.us", cache.Message{ID: "m1"})
	marker := filepath.Join(r.Layout().Dir("main"), "session.db")
	if err := os.WriteFile(marker, []byte("creds"), 0600); err != nil {
		t.Fatal(err)
	}

	s2, err := r.Create(context.Background(), "main", true)
	if err != nil {
		t.Fatalf("Create(force) error = %v", err)
	}
	if s2 == s1 {
		t.Fatal("forced Create() reused the old session")
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("credentials survived a forced create")
	}
	if s2.Ledger.Len("c@g.us") != 0 {
		t.Error("ledger survived a forced create")
	}
	if closed, _ := fc.conns[0].counts(); closed == 0 {
		t.Error("old handle was not closed")
	}
}

func TestCreateForceWithoutLiveSession(t *testing.T) {
	r := newTestRegistry(t, &fakeConnector{})
	dir := r.Layout().Dir("main")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(dir, "session.db")
	if err := os.WriteFile(stale, []byte("old"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(context.Background(), "main", true); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale credentials not purged")
	}
}

func TestQRThenOpen(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)
	s, _ := r.Create(context.Background(), "main", false)
	conn := fc.last()

	r.HandleQR("main", conn, QR{Code: "2@abc", PNG: "base64"})
	qr, ok := s.QR()
	if !ok || qr.Code != "2@abc" {
		t.Fatalf("QR() = %+v, %v", qr, ok)
	}
	if s.Machine.Current() != status.AwaitingScan {
		t.Errorf("state = %s, want awaiting-scan", s.Machine.Current())
	}

	r.HandleQR("main", conn, QR{Code: "2@def"})
	if qr, _ := s.QR(); qr.Code != "2@def" {
		t.Errorf("QR not replaced: %q", qr.Code)
	}

	r.HandleOpened("main", conn)
	if _, ok := s.QR(); ok {
		t.Error("QR should be cleared once connected")
	}
	if s.Machine.Current() != status.Connected {
		t.Errorf("state = %s, want connected", s.Machine.Current())
	}
	eventually(t, func() bool { _, err := s.Connected(); return err == nil }, "session reports connected")
}

func TestLoggedOutRemovesWithoutRetry(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)
	s, _ := r.Create(context.Background(), "main", false)
	conn := fc.last()
	r.HandleOpened("main", conn)

	r.HandleClosed("main", conn, CloseReason{LoggedOut: true, Detail: "401"})

	if _, ok := r.Get("main"); ok {
		t.Fatal("logged out session still registered")
	}
	if _, err := os.Stat(r.Layout().Dir("main")); !os.IsNotExist(err) {
		t.Error("logged out session state not purged")
	}
	time.Sleep(80 * time.Millisecond)
	if fc.count() != 1 {
		t.Errorf("connector built %d handles, want 1 (no retry)", fc.count())
	}
	if s.Machine.Current() != status.Disconnected {
		t.Errorf("state = %s, want disconnected", s.Machine.Current())
	}
}

func TestTransientCloseReconnectsOnce(t *testing.T) {
	fc := &fakeConnector{loggedIn: true}
	r := newTestRegistry(t, fc)
	s, _ := r.Create(context.Background(), "main", false)
	conn := fc.last()
	r.HandleOpened("main", conn)
	r.HandleQR("main", conn, QR{Code: "ignored once connected"})

	s.Engine.IngestMessage(cache.Message{ID: "m1", ChatID: "c@g.us", Timestamp: 10})
	if s.Chats.Len() != 1 {
		t.Fatal("directory not populated")
	}

	r.HandleClosed("main", conn, CloseReason{Detail: "stream error"})

	if s.Chats.Len() != 0 {
		t.Error("directory must be cleared on transient close")
	}
	if s.Ledger.Len("c@g.us") != 1 {
		t.Error("ledger must survive a transient close")
	}
	if _, ok := s.QR(); ok {
		t.Error("pending QR must be cleared on transient close")
	}

	eventually(t, func() bool { return fc.count() == 2 }, "one reconnect")
	time.Sleep(80 * time.Millisecond)
	if fc.count() != 2 {
		t.Errorf("connector built %d handles, want exactly 2", fc.count())
	}
	if s.Conn() != fc.last() {
		t.Error("session does not hold the new handle")
	}
	if got, _ := r.Get("main"); got != s {
		t.Error("reconnect must reuse the same session entry")
	}
}

func TestFlappingCloseSchedulesSingleReconnect(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)
	_, _ = r.Create(context.Background(), "main", false)
	conn := fc.last()

	r.HandleClosed("main", conn, CloseReason{Detail: "first"})
	r.HandleClosed("main", conn, CloseReason{Detail: "duplicate"})
	r.HandleClosed("main", &fakeConn{}, CloseReason{Detail: "stranger"})

	eventually(t, func() bool { return fc.count() == 2 }, "reconnect")
	time.Sleep(80 * time.Millisecond)
	if fc.count() != 2 {
		t.Errorf("connector built %d handles, want 2", fc.count())
	}
}

func TestStaleHandleEventsIgnored(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)
	s, _ := r.Create(context.Background(), "main", false)
	old := fc.last()

	r.HandleClosed("main", old, CloseReason{Detail: "drop"})
	eventually(t, func() bool { return fc.count() == 2 }, "reconnect")

	r.HandleOpened("main", old)
	if s.Machine.Current() == status.Connected {
		t.Error("open from a stale handle must be ignored")
	}
	r.HandleClosed("main", old, CloseReason{LoggedOut: true})
	if _, ok := r.Get("main"); !ok {
		t.Error("logout from a stale handle must be ignored")
	}
}

func TestConnectFailureIsTransient(t *testing.T) {
	fc := &fakeConnector{connectErr: errors.New("dial failed")}
	r := newTestRegistry(t, fc)
	if _, err := r.Create(context.Background(), "main", false); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return fc.count() >= 3 }, "retries keep coming")
}

func TestRemoveWithLogout(t *testing.T) {
	fc := &fakeConnector{loggedIn: true}
	r := newTestRegistry(t, fc)
	_, _ = r.Create(context.Background(), "main", false)
	conn := fc.last()

	if err := r.Remove(context.Background(), "main", true); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if closed, logouts := conn.counts(); logouts != 1 || closed == 0 {
		t.Errorf("logouts = %d, closed = %d", logouts, closed)
	}
	if _, ok := r.Get("main"); ok {
		t.Error("session still registered")
	}
	if err := r.Remove(context.Background(), "main", true); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Remove() error = %v, want ErrSessionNotFound", err)
	}
}

func TestContactSnapshotRoundTrip(t *testing.T) {
	fc := &fakeConnector{}
	layout := session.NewLayout(t.TempDir())
	opts := Options{ReconnectDelay: time.Hour, SnapshotInterval: 20 * time.Millisecond}

	r1 := New(layout, fc, nil, zap.NewNop(), opts)
	s, err := r1.Create(context.Background(), "main", false)
	if err != nil {
		t.Fatal(err)
	}
	s.Engine.IngestContacts([]cache.Contact{{JID: "1@lid", Name: "Ana", Phone: "5511000000001"}})
	eventually(t, func() bool {
		n, _ := s.DB.ContactCount()
		return n == 1
	}, "periodic snapshot")
	r1.Shutdown(context.Background())

	r2 := New(layout, fc, nil, zap.NewNop(), opts)
	defer r2.Shutdown(context.Background())
	s2, err := r2.Create(context.Background(), "main", false)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := s2.Contacts.Get("1@lid")
	if !ok || c.Name != "Ana" || c.Phone != "5511000000001" {
		t.Errorf("warm-start contact = %+v, %v", c, ok)
	}
}

func TestSecondRegistryCannotTakeLockedSession(t *testing.T) {
	layout := session.NewLayout(t.TempDir())
	r1 := New(layout, &fakeConnector{}, nil, zap.NewNop(), Options{})
	defer r1.Shutdown(context.Background())
	if _, err := r1.Create(context.Background(), "main", false); err != nil {
		t.Fatal(err)
	}

	r2 := New(layout, &fakeConnector{}, nil, zap.NewNop(), Options{})
	defer r2.Shutdown(context.Background())
	if _, err := r2.Create(context.Background(), "main", false); err == nil {
		t.Error("second registry acquired a locked session")
	}
}

func TestChatListAndHistorySource(t *testing.T) {
	fc := &fakeConnector{}
	r := newTestRegistry(t, fc)
	s, _ := r.Create(context.Background(), "main", false)

	s.Engine.IngestMessage(cache.Message{ID: "m1", ChatID: "42@lid", Timestamp: 10})
	s.Contacts.Upsert(cache.Contact{JID: "42@lid", Phone: "5511000000001"})

	chats := s.ChatList()
	if len(chats) != 1 || chats[0].ID != "5511000000001@s.whatsapp.net" {
		t.Fatalf("ChatList() = %+v", chats)
	}

	src := s.HistorySource()
	if src.Fetcher != nil {
		t.Error("unconnected session must not expose a fetcher")
	}
	if got := src.Aliases("5511000000001@s.whatsapp.net"); len(got) != 1 || got[0] != "42@lid" {
		t.Errorf("Aliases() = %v", got)
	}
}
