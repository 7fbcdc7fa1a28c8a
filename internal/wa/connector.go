package wa

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/logging"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/session"
	"go.mau.fi/whatsmeow"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
)

// Connector builds whatsmeow-backed handles for registry sessions.
type Connector struct {
	layout session.Layout
	bus    *bus.Bus
}

var _ registry.Connector = (*Connector)(nil)

// NewConnector sets the device name shown on the phone's linked devices
// list and returns a connector storing credentials under layout.
func NewConnector(layout session.Layout, b *bus.Bus, deviceName string) *Connector {
	wastore.SetOSInfo(deviceName, [3]uint32{0, 1, 0})
	return &Connector{layout: layout, bus: b}
}

// New opens the session's credential store and wires a fresh client.
func (c *Connector) New(s *registry.Session, hooks registry.Hooks) (registry.Conn, error) {
	ctx := context.Background()
	dbPath := c.layout.CredentialsPath(s.Name)

	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=on", dbPath),
		logging.WhatsApp(s.Logger, "Database"),
	)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("get device store: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, logging.WhatsApp(s.Logger, "Client"))
	client.EnableAutoReconnect = false

	a := &Adapter{
		client:    client,
		container: container,
		session:   s,
		hooks:     hooks,
		bus:       c.bus,
		logger:    s.Logger,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	h := NewEventHandler(s.Name, a, hooks, s.Engine, s.Logger)
	h.onOpen = a.onOpen
	h.onHistory = func() { go a.RefreshContacts(a.ctx) }
	a.handlerID = client.AddEventHandler(h.Handle)
	return a, nil
}
