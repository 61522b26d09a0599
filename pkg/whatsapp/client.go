// Package whatsapp implements the session backend on top of whatsmeow. Device
// keys live in whatsmeow's sqlite store; the credentials blob handed to the
// session only records which device to load.
package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"mcq_bot/internal/model"
	"mcq_bot/internal/util"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

// DeviceCredentials is the JSON form of model.Credentials for this backend.
type DeviceCredentials struct {
	JID          string    `json:"jid"`
	Platform     string    `json:"platform,omitempty"`
	BusinessName string    `json:"businessName,omitempty"`
	PairedAt     time.Time `json:"pairedAt"`
}

func EncodeCredentials(c DeviceCredentials) (model.Credentials, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return model.Credentials(data), nil
}

// DecodeCredentials returns the zero value for empty input.
func DecodeCredentials(creds model.Credentials) (DeviceCredentials, error) {
	var c DeviceCredentials
	if len(creds) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(creds, &c); err != nil {
		return c, fmt.Errorf("decode credentials: %w", err)
	}
	return c, nil
}

// ParseDestination accepts a full JID (group@g.us, channel@newsletter,
// number@s.whatsapp.net) or a bare phone number.
func ParseDestination(dest string) (types.JID, error) {
	dest = strings.TrimSpace(dest)
	if dest == "" {
		return types.JID{}, errors.New("empty destination")
	}
	if !strings.Contains(dest, "@") {
		return types.NewJID(strings.TrimPrefix(dest, "+"), types.DefaultUserServer), nil
	}
	return types.ParseJID(dest)
}

type Options struct {
	DeviceName string
}

// Client owns at most one whatsmeow connection at a time.
type Client struct {
	container *sqlstore.Container
	log       waLog.Logger

	mu  sync.Mutex
	cli *whatsmeow.Client
}

func NewClient(container *sqlstore.Container, log waLog.Logger, opts Options) *Client {
	if opts.DeviceName != "" {
		store.DeviceProps.Os = proto.String(opts.DeviceName)
	}
	return &Client{container: container, log: log}
}

// Connect drops the previous connection, loads (or creates) the device, and
// starts a new connection. Reconnects are left to the caller.
func (c *Client) Connect(ctx context.Context, creds model.Credentials, emit func(model.SessionEvent)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dropLocked()

	device, err := c.loadDevice(ctx, creds)
	if err != nil {
		return err
	}

	cli := whatsmeow.NewClient(device, c.log.Sub("Client"))
	cli.EnableAutoReconnect = false
	cli.AddEventHandler(func(evt interface{}) {
		if ev, ok := translateEvent(evt); ok {
			emit(ev)
		}
	})

	if cli.Store.ID == nil {
		qrChan, err := cli.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("open qr channel: %w", err)
		}
		go func() {
			for item := range qrChan {
				if item.Event == whatsmeow.QRChannelScannedWithoutMultidevice.Event {
					c.log.Warnf("QR scanned by a phone without multi-device enabled, scan again after enabling it")
				}
				if ev, ok := translateQR(item); ok {
					emit(ev)
				}
			}
		}()
	}

	if err := cli.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	c.cli = cli
	return nil
}

func (c *Client) loadDevice(ctx context.Context, creds model.Credentials) (*store.Device, error) {
	dc, err := DecodeCredentials(creds)
	if err != nil {
		c.log.Warnf("Ignoring unreadable credentials: %v", err)
	}
	if dc.JID != "" {
		jid, err := types.ParseJID(dc.JID)
		if err == nil {
			device, err := c.container.GetDevice(ctx, jid)
			if err != nil {
				return nil, fmt.Errorf("load device %s: %w", dc.JID, err)
			}
			if device != nil {
				return device, nil
			}
		}
		c.log.Warnf("Device %s not found in store, pairing again", dc.JID)
	}
	device, err := c.container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}
	return device, nil
}

func (c *Client) Send(ctx context.Context, destination, text string) (model.DeliveryReceipt, error) {
	c.mu.Lock()
	cli := c.cli
	c.mu.Unlock()
	if cli == nil || !cli.IsConnected() {
		return model.DeliveryReceipt{}, util.ErrNotConnected
	}

	jid, err := ParseDestination(destination)
	if err != nil {
		return model.DeliveryReceipt{}, fmt.Errorf("destination %q: %w", destination, err)
	}

	resp, err := cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return model.DeliveryReceipt{}, err
	}
	return model.DeliveryReceipt{
		MessageID:   resp.ID,
		Destination: destination,
		Timestamp:   resp.Timestamp,
	}, nil
}

// Logout unlinks the device on the server and deletes it from the store.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return util.ErrNotConnected
	}
	err := c.cli.Logout(ctx)
	c.dropLocked()
	return err
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

func (c *Client) dropLocked() {
	if c.cli == nil {
		return
	}
	c.cli.RemoveEventHandlers()
	c.cli.Disconnect()
	c.cli = nil
}

// translateEvent maps whatsmeow events onto session events. Events the
// session does not care about are dropped.
func translateEvent(evt interface{}) (model.SessionEvent, bool) {
	switch e := evt.(type) {
	case *events.Connected:
		return model.OpenEvent(), true
	case *events.PairSuccess:
		creds, err := EncodeCredentials(DeviceCredentials{
			JID:          e.ID.String(),
			Platform:     e.Platform,
			BusinessName: e.BusinessName,
			PairedAt:     time.Now().UTC(),
		})
		if err != nil {
			return model.SessionEvent{}, false
		}
		return model.CredentialsEvent(creds), true
	case *events.LoggedOut:
		return model.ClosedEvent(model.ReasonLoggedOut, fmt.Errorf("logged out: %s", e.Reason)), true
	case *events.StreamReplaced:
		return model.ClosedEvent(model.ReasonConnectionReplaced, errors.New("stream replaced by another connection")), true
	case *events.Disconnected:
		return model.ClosedEvent(model.ReasonConnectionClosed, nil), true
	case *events.ConnectFailure:
		if e.Reason.IsLoggedOut() {
			return model.ClosedEvent(model.ReasonLoggedOut, fmt.Errorf("connect failure: %s", e.Reason)), true
		}
		return model.ClosedEvent(model.ReasonBadSession, fmt.Errorf("connect failure %d: %s", int(e.Reason), e.Message)), true
	case *events.TemporaryBan:
		return model.ClosedEvent(model.ReasonBadSession, fmt.Errorf("temporary ban: %s", e.String())), true
	case *events.ClientOutdated:
		return model.ClosedEvent(model.ReasonBadSession, errors.New("client outdated")), true
	}
	return model.SessionEvent{}, false
}

// translateQR maps pairing channel items. Success is not mapped; the
// Connected event that follows opens the session.
func translateQR(item whatsmeow.QRChannelItem) (model.SessionEvent, bool) {
	switch item.Event {
	case whatsmeow.QRChannelEventCode:
		return model.PairingCodeEvent(item.Code), true
	case whatsmeow.QRChannelTimeout.Event:
		return model.ClosedEvent(model.ReasonTimedOut, util.ErrPairingExpired), true
	case whatsmeow.QRChannelSuccess.Event:
		return model.SessionEvent{}, false
	case whatsmeow.QRChannelEventError:
		return model.ClosedEvent(model.ReasonConnectionClosed, item.Error), true
	case whatsmeow.QRChannelScannedWithoutMultidevice.Event:
		// 手机端未开启多设备，同一个码仍可再扫
		return model.SessionEvent{}, false
	}
	// 其他都是配对失败
	return model.ClosedEvent(model.ReasonBadSession, fmt.Errorf("pairing failed: %s", item.Event)), true
}
