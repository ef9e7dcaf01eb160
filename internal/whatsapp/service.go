package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/asaskevich/EventBus"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/talkincode/wabot/internal/credentials"
	"github.com/talkincode/wabot/internal/transport"
)

// DefaultPairingClientName is shown on the phone when linking with a pairing code.
const DefaultPairingClientName = "Chrome (Linux)"

// Factory builds whatsmeow clients from sqlstore credential bundles.
type Factory struct {
	log               waLog.Logger
	pairingClientName string
}

var _ transport.Factory = (*Factory)(nil)

func NewFactory(log waLog.Logger, pairingClientName string) *Factory {
	if pairingClientName == "" {
		pairingClientName = DefaultPairingClientName
	}
	return &Factory{log: log, pairingClientName: pairingClientName}
}

type deviceBundle interface {
	Device() *store.Device
}

// NewClient fetches the latest supported web client version and builds a
// client over the bundle's device. The client is not connected yet.
func (f *Factory) NewClient(ctx context.Context, bundle credentials.Bundle, opts transport.Options) (transport.Client, error) {
	db, ok := bundle.(deviceBundle)
	if !ok || db.Device() == nil {
		return nil, fmt.Errorf("whatsapp: bundle %s carries no device store", bundle.SessionID())
	}

	if ver, err := whatsmeow.GetLatestVersion(ctx, nil); err != nil {
		zap.L().Warn("whatsapp: unable to fetch latest client version, using built-in",
			zap.String("namespace", "whatsapp"), zap.Error(err))
	} else {
		store.SetWAVersion(*ver)
		zap.L().Info("whatsapp: using client version",
			zap.String("namespace", "whatsapp"), zap.String("version", ver.String()))
	}

	c := &Client{
		cli:        whatsmeow.NewClient(db.Device(), f.log.Sub("Client")),
		bus:        EventBus.New(),
		opts:       opts,
		clientName: f.pairingClientName,
		qrReady:    make(chan struct{}),
	}
	c.cli.AddEventHandler(c.handleEvent)
	return c, nil
}

// Client wraps a whatsmeow client and republishes its events on the three
// transport topics.
type Client struct {
	cli        *whatsmeow.Client
	bus        EventBus.Bus
	opts       transport.Options
	clientName string

	// QR code captured from the QR channel. The raw code string can be
	// returned to the frontend to render a QR image there.
	qr      string
	qrLock  sync.RWMutex
	qrReady chan struct{}
	qrOnce  sync.Once
}

var _ transport.Client = (*Client)(nil)

func (c *Client) Subscribe(h transport.Handlers) {
	if h.ConnectionUpdate != nil {
		_ = c.bus.Subscribe(transport.TopicConnectionUpdate, h.ConnectionUpdate)
	}
	if h.CredsUpdate != nil {
		_ = c.bus.Subscribe(transport.TopicCredsUpdate, h.CredsUpdate)
	}
	if h.MessagesUpsert != nil {
		_ = c.bus.Subscribe(transport.TopicMessagesUpsert, h.MessagesUpsert)
	}
}

// Connect opens the websocket. Unregistered devices get a QR channel first,
// which both feeds terminal QR output and gates pairing-code requests.
func (c *Client) Connect(ctx context.Context) error {
	if c.cli.Store.ID == nil {
		qrChan, err := c.cli.GetQRChannel(context.Background())
		if err != nil {
			return fmt.Errorf("whatsapp: get qr channel: %w", err)
		}
		go c.watchQR(qrChan)
	}
	c.bus.Publish(transport.TopicConnectionUpdate, transport.ConnectionUpdate{State: transport.StateConnecting})
	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	return nil
}

func (c *Client) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		if item.Event != whatsmeow.QRChannelEventCode {
			zap.L().Info("whatsapp: qr channel event",
				zap.String("namespace", "whatsapp"), zap.String("event", item.Event))
			continue
		}
		c.qrLock.Lock()
		c.qr = item.Code
		c.qrLock.Unlock()
		c.qrOnce.Do(func() { close(c.qrReady) })
		if c.opts.PrintQR {
			fmt.Println("QR code received - scan with WhatsApp:")
			qrterminal.GenerateHalfBlock(item.Code, qrterminal.L, os.Stdout)
		}
	}
}

// QRCode returns the latest login QR code string, empty once logged in.
func (c *Client) QRCode() string {
	c.qrLock.RLock()
	defer c.qrLock.RUnlock()
	return c.qr
}

// RequestPairingCode waits until the server is ready to pair (first QR
// event) and asks for a phone-number pairing code.
func (c *Client) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	select {
	case <-c.qrReady:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	code, err := c.cli.PairPhone(ctx, phoneNumber, true, whatsmeow.PairClientChrome, c.clientName)
	if err != nil {
		return "", fmt.Errorf("whatsapp: pair phone: %w", err)
	}
	return code, nil
}

func (c *Client) SendMessage(ctx context.Context, chatID string, out transport.OutgoingText) (transport.SendResult, error) {
	jid, err := waTypes.ParseJID(chatID)
	if err != nil {
		zap.L().Warn("whatsapp: invalid jid", zap.String("namespace", "whatsapp"), zap.Error(err), zap.String("jid", chatID))
		return transport.SendResult{}, err
	}

	msg := &waE2E.Message{Conversation: proto.String(out.Text)}
	if q := out.Quoted; q != nil {
		msg = &waE2E.Message{
			ExtendedTextMessage: &waE2E.ExtendedTextMessage{
				Text: proto.String(out.Text),
				ContextInfo: &waE2E.ContextInfo{
					StanzaID:      proto.String(q.ID),
					Participant:   proto.String(q.Participant),
					RemoteJID:     proto.String(q.RemoteJID),
					QuotedMessage: &waE2E.Message{Conversation: proto.String(q.Conversation)},
				},
			},
		}
	}

	resp, err := c.cli.SendMessage(ctx, jid, msg)
	if err != nil {
		zap.L().Warn("whatsapp: send message failed", zap.String("namespace", "whatsapp"), zap.Error(err), zap.String("jid", chatID))
		return transport.SendResult{}, err
	}
	return transport.SendResult{ID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// Logout unlinks the device. An unpaired client has nothing to unlink and
// is only disconnected.
func (c *Client) Logout(ctx context.Context) error {
	err := c.cli.Logout(ctx)
	if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
		c.cli.Disconnect()
		return nil
	}
	return err
}

func (c *Client) Close() {
	c.cli.Disconnect()
}

func (c *Client) Identity() string {
	if c.cli.Store.ID == nil {
		return ""
	}
	return c.cli.Store.ID.String()
}

func (c *Client) Registered() bool {
	return c.cli.Store.ID != nil
}

// handleEvent runs on whatsmeow's event goroutine; EventBus.Publish calls the
// subscribers synchronously, so per-client delivery order is preserved.
func (c *Client) handleEvent(evt interface{}) {
	switch e := evt.(type) {
	case *events.Connected:
		c.qrLock.Lock()
		c.qr = ""
		c.qrLock.Unlock()
		c.bus.Publish(transport.TopicConnectionUpdate, transport.ConnectionUpdate{State: transport.StateOpen})
	case *events.Disconnected:
		c.bus.Publish(transport.TopicConnectionUpdate, transport.ConnectionUpdate{State: transport.StateClose})
	case *events.StreamReplaced:
		c.publishClose(&transport.CloseReason{StatusCode: 440, Error: "Stream Replaced"})
	case *events.LoggedOut:
		c.publishClose(&transport.CloseReason{
			StatusCode: transport.StatusUnauthorized,
			Error:      "Unauthorized",
			Message:    e.Reason.String(),
		})
	case *events.ConnectFailure:
		reason := &transport.CloseReason{StatusCode: int(e.Reason), Error: e.Reason.String(), Message: e.Message}
		if e.Reason.IsLoggedOut() {
			reason.StatusCode = transport.StatusUnauthorized
			reason.Error = "Unauthorized"
		}
		c.publishClose(reason)
	case *events.TemporaryBan:
		c.publishClose(&transport.CloseReason{StatusCode: 402, Error: "Temporary Ban", Message: e.String()})
	case *events.PairSuccess:
		c.bus.Publish(transport.TopicCredsUpdate, transport.CredsUpdate{ID: e.ID.String()})
	case *events.Message:
		if c.opts.IgnoreNewsletters && e.Info.Chat.Server == waTypes.NewsletterServer {
			return
		}
		c.bus.Publish(transport.TopicMessagesUpsert, transport.MessagesUpsert{
			Messages: []transport.RawMessage{rawMessage(e)},
		})
	default:
		zap.L().Debug("whatsapp event", zap.String("namespace", "whatsapp"), zap.String("type", fmt.Sprintf("%T", evt)))
	}
}

func (c *Client) publishClose(reason *transport.CloseReason) {
	c.bus.Publish(transport.TopicConnectionUpdate, transport.ConnectionUpdate{State: transport.StateClose, Reason: reason})
}
