package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaultcore/vault/internal/vaulterrors"
)

// SIEMBackend streams audit entries to an external SIEM collector over a
// persistent websocket connection, reconnecting lazily on the next Write
// after a failure rather than blocking the caller on a retry loop.
type SIEMBackend struct {
	url    string
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewSIEMBackend constructs a backend targeting url (e.g.
// "wss://siem.internal/ingest"). The first Write call establishes the
// connection.
func NewSIEMBackend(url string) *SIEMBackend {
	return &SIEMBackend{url: url, dialer: websocket.DefaultDialer}
}

// Name implements Backend.
func (b *SIEMBackend) Name() string { return "siem" }

// Write implements Backend.
func (b *SIEMBackend) Write(ctx context.Context, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return vaulterrors.Internal("audit: encode entry", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		if err := b.connectLocked(); err != nil {
			return err
		}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	_ = b.conn.SetWriteDeadline(deadline)

	if err := b.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		_ = b.conn.Close()
		b.conn = nil
		return vaulterrors.Internal("audit: siem write", err)
	}
	return nil
}

func (b *SIEMBackend) connectLocked() error {
	conn, _, err := b.dialer.Dial(b.url, nil)
	if err != nil {
		return vaulterrors.Internal("audit: siem dial", err)
	}
	b.conn = conn
	return nil
}

// Close tears down the websocket connection, if open.
func (b *SIEMBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
