// Package whatsapp adapts whatsmeow to the domain Transport capability.
//
// The credential blob handed to Open is the device JID rendered as a
// string; the actual key material lives in the whatsmeow sqlite store.
// Nothing outside this package ever interprets the blob.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/nazuninha/wabot/internal/domain"
)

const eventBuffer = 64

// Transport opens whatsmeow connections backed by a shared sqlite
// device store.
type Transport struct {
	container *sqlstore.Container
}

// NewTransport opens (and migrates) the device store at dsn.
func NewTransport(ctx context.Context, dsn string) (*Transport, error) {
	container, err := sqlstore.New(ctx, "sqlite3", dsn, waLog.Noop)
	if err != nil {
		return nil, fmt.Errorf("failed to open device store: %w", err)
	}
	return &Transport{container: container}, nil
}

// Open implements domain.Transport. A nil or unknown credential starts a
// fresh pairing flow and the handle emits QR events until the user scans.
func (t *Transport) Open(ctx context.Context, sessionID string, credential []byte) (domain.TransportHandle, error) {
	device, err := t.device(ctx, credential)
	if err != nil {
		return nil, err
	}

	client := whatsmeow.NewClient(device, waLog.Noop)
	h := &handle{
		sessionID: sessionID,
		client:    client,
		events:    make(chan domain.TransportEvent, eventBuffer),
		done:      make(chan struct{}),
	}
	h.handlerID = client.AddEventHandler(h.onEvent)

	if client.Store.ID == nil {
		// GetQRChannel must be requested before Connect.
		qrCh, err := client.GetQRChannel(ctx)
		if err != nil {
			client.RemoveEventHandler(h.handlerID)
			return nil, fmt.Errorf("failed to request QR channel: %w", err)
		}
		go h.pumpQR(qrCh)
	}

	if err := client.Connect(); err != nil {
		_ = h.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return h, nil
}

func (t *Transport) device(ctx context.Context, credential []byte) (*store.Device, error) {
	if len(credential) == 0 {
		return t.container.NewDevice(), nil
	}
	jid, err := types.ParseJID(string(credential))
	if err != nil {
		slog.Warn("stored credential is not a valid JID, starting fresh pairing", "error", err)
		return t.container.NewDevice(), nil
	}
	device, err := t.container.GetDevice(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to load device: %w", err)
	}
	if device == nil {
		slog.Warn("no device for stored credential, starting fresh pairing", "jid", jid.String())
		return t.container.NewDevice(), nil
	}
	return device, nil
}

// handle is one live whatsmeow connection. Event delivery stops the
// moment Close runs; the channel close is guarded so late callbacks
// from the whatsmeow dispatcher never panic.
type handle struct {
	sessionID string
	client    *whatsmeow.Client
	handlerID uint32

	events chan domain.TransportEvent
	done   chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func (h *handle) Events() <-chan domain.TransportEvent { return h.events }

func (h *handle) Send(ctx context.Context, target, content string) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}
	_, err = h.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(content)})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (h *handle) MarkRead(ctx context.Context, target, messageID string) error {
	jid, err := types.ParseJID(target)
	if err != nil {
		return fmt.Errorf("invalid target %q: %w", target, err)
	}
	if err := h.client.MarkRead([]types.MessageID{types.MessageID(messageID)}, time.Now(), jid, jid); err != nil {
		return fmt.Errorf("failed to mark read: %w", err)
	}
	return nil
}

func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.done)
		h.client.RemoveEventHandler(h.handlerID)
		h.client.Disconnect()
		h.mu.Lock()
		h.closed = true
		h.mu.Unlock()
		close(h.events)
	})
	return nil
}

// emit delivers an event unless the handle is closed. The read lock
// keeps the channel open for the duration of the send; Close takes the
// write lock before closing it.
func (h *handle) emit(evt domain.TransportEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	select {
	case h.events <- evt:
	case <-h.done:
	}
}

func (h *handle) pumpQR(qrCh <-chan whatsmeow.QRChannelItem) {
	for item := range qrCh {
		if item.Event == whatsmeow.QRChannelEventCode {
			h.emit(domain.EventQR{Code: item.Code})
		}
	}
}

func (h *handle) onEvent(raw interface{}) {
	switch evt := raw.(type) {
	case *events.PairSuccess:
		h.emit(domain.EventCredentials{Credential: []byte(evt.ID.String())})

	case *events.Connected:
		phone := ""
		if id := h.client.Store.ID; id != nil {
			phone = id.User
			h.emit(domain.EventCredentials{Credential: []byte(id.String())})
		}
		h.emit(domain.EventOpened{PhoneNumber: phone})

	case *events.Message:
		h.emit(domain.EventMessage{
			ID:        string(evt.Info.ID),
			From:      evt.Info.Chat.String(),
			Body:      textBody(evt.Message),
			FromSelf:  evt.Info.IsFromMe,
			Timestamp: evt.Info.Timestamp,
		})

	case *events.LoggedOut:
		h.emit(domain.EventClosed{Reason: domain.CloseLoggedOut})

	case *events.StreamReplaced:
		h.emit(domain.EventClosed{Reason: domain.CloseConnectionError, Err: fmt.Errorf("stream replaced by another client")})

	case *events.Disconnected:
		h.emit(domain.EventClosed{Reason: domain.CloseConnectionError})
	}
}

func textBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	return ""
}
