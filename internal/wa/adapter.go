package wa

import (
	"context"
	"fmt"
	"sync"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/cache"
	"github.com/matheus3301/wppgw/internal/registry"
	"github.com/matheus3301/wppgw/internal/store"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	_ "github.com/mattn/go-sqlite3"
)

// Adapter is one connection handle: a whatsmeow client bound to a
// session's credential store. It is used for a single connection attempt.
type Adapter struct {
	client    *whatsmeow.Client
	container *sqlstore.Container
	session   *registry.Session
	hooks     registry.Hooks
	bus       *bus.Bus
	logger    *zap.Logger
	handlerID uint32

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ registry.Conn = (*Adapter)(nil)

// Client returns the underlying whatsmeow client.
func (a *Adapter) Client() *whatsmeow.Client {
	return a.client
}

// IsLoggedIn returns whether the adapter has valid credentials.
func (a *Adapter) IsLoggedIn() bool {
	return a.client.Store.ID != nil
}

// IsConnected reports whether the socket is up.
func (a *Adapter) IsConnected() bool {
	return a.client.IsConnected()
}

// Connect starts the handshake. Unpaired sessions get a pairing channel
// first, which must be requested before connecting.
func (a *Adapter) Connect(ctx context.Context) error {
	context.AfterFunc(ctx, a.cancel)
	if !a.IsLoggedIn() {
		ch, err := a.client.GetQRChannel(a.ctx)
		if err != nil {
			return fmt.Errorf("get QR channel: %w", err)
		}
		go a.pair(ch)
	}
	a.logger.Info("connecting to WhatsApp", zap.Bool("paired", a.IsLoggedIn()))
	if err := a.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Close drops the connection and releases the credential store.
func (a *Adapter) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.client.RemoveEventHandler(a.handlerID)
		a.client.Disconnect()
		if err := a.container.Close(); err != nil {
			a.logger.Warn("close credential store", zap.Error(err))
		}
		a.logger.Info("disconnected from WhatsApp")
	})
}

// Logout invalidates the session and removes credentials.
func (a *Adapter) Logout(ctx context.Context) error {
	return a.client.Logout(ctx)
}

// SendText sends a text message to the given chat.
func (a *Adapter) SendText(ctx context.Context, chatID, text string) (registry.SentMessage, error) {
	to, err := types.ParseJID(chatID)
	if err != nil {
		return registry.SentMessage{}, fmt.Errorf("parse JID: %w", err)
	}
	resp, err := a.client.SendMessage(ctx, to, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return registry.SentMessage{}, fmt.Errorf("send message: %w", err)
	}
	return registry.SentMessage{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// GroupInfo fetches metadata for one group.
func (a *Adapter) GroupInfo(ctx context.Context, groupID string) (*registry.GroupInfo, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return nil, fmt.Errorf("parse JID: %w", err)
	}
	info, err := a.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("get group info: %w", err)
	}
	g := convertGroup(info)
	a.session.Engine.RenameChat(g.ID, g.Name)
	return &g, nil
}

// JoinedGroups lists the groups the account belongs to.
func (a *Adapter) JoinedGroups(ctx context.Context) ([]registry.GroupInfo, error) {
	infos, err := a.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("get joined groups: %w", err)
	}
	out := make([]registry.GroupInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, convertGroup(info))
	}
	return out, nil
}

// OnWhatsApp resolves a bare phone number to its registered chat id.
func (a *Adapter) OnWhatsApp(ctx context.Context, phone string) (string, bool, error) {
	infos, err := a.client.IsOnWhatsApp(ctx, []string{"+" + phone})
	if err != nil {
		return "", false, fmt.Errorf("check number: %w", err)
	}
	if len(infos) == 0 || !infos[0].IsIn {
		return "", false, nil
	}
	return infos[0].JID.ToNonAD().String(), true, nil
}

// RefreshContacts copies the device contact store into the session's
// contact table, resolving anonymous ids to phones where the device
// knows the mapping. The mappings are persisted for later restarts.
func (a *Adapter) RefreshContacts(ctx context.Context) {
	all, err := a.client.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		a.logger.Warn("failed to get contacts from device store", zap.Error(err))
		return
	}

	var (
		contacts []cache.Contact
		mappings []store.LIDMapping
	)
	for jid, info := range all {
		jid = jid.ToNonAD()
		c := cache.Contact{
			JID:  jid.String(),
			Name: cache.FirstName(info.FullName, info.FirstName, info.BusinessName, info.PushName),
		}
		switch jid.Server {
		case types.HiddenUserServer:
			if pn, err := a.client.Store.LIDs.GetPNForLID(ctx, jid); err == nil && !pn.IsEmpty() {
				c.Phone = pn.User
				mappings = append(mappings, store.LIDMapping{LID: jid.User, PN: pn.User})
			}
		case types.DefaultUserServer:
			if lid, err := a.client.Store.LIDs.GetLIDForPN(ctx, jid); err == nil && !lid.IsEmpty() {
				mappings = append(mappings, store.LIDMapping{LID: lid.User, PN: jid.User})
			}
		}
		contacts = append(contacts, c)
	}

	changed := a.session.Engine.IngestContacts(contacts)
	if len(mappings) > 0 {
		if err := a.session.DB.MergeLIDMap(mappings); err != nil {
			a.logger.Warn("persist lid map", zap.Error(err))
		}
	}
	a.logger.Debug("contacts refreshed",
		zap.Int("contacts", len(contacts)),
		zap.Int("changed", changed),
		zap.Int("lid_mappings", len(mappings)))
}

func (a *Adapter) onOpen() {
	if a.client.Store.ID != nil {
		a.logger.Info("account", zap.String("jid", a.client.Store.ID.ToNonAD().String()))
	}
	go a.RefreshContacts(context.Background())
}

func convertGroup(info *types.GroupInfo) registry.GroupInfo {
	g := registry.GroupInfo{
		ID:           info.JID.String(),
		Name:         info.Name,
		Topic:        info.Topic,
		CreatedAt:    unixSeconds(info.GroupCreated),
		Participants: make([]registry.Participant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		g.Owner = info.OwnerJID.ToNonAD().String()
	}
	for _, p := range info.Participants {
		rp := registry.Participant{
			ID:           p.JID.ToNonAD().String(),
			Name:         p.DisplayName,
			IsAdmin:      p.IsAdmin,
			IsSuperAdmin: p.IsSuperAdmin,
		}
		if !p.PhoneNumber.IsEmpty() {
			rp.Phone = p.PhoneNumber.User
		} else if p.JID.Server == types.DefaultUserServer {
			rp.Phone = p.JID.User
		}
		if !p.LID.IsEmpty() {
			rp.LID = p.LID.ToNonAD().String()
		}
		g.Participants = append(g.Participants, rp)
	}
	return g
}
