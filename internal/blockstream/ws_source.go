package blockstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"solana-trade-indexer/internal/domain"
)

// WSConfig configures the websocket block source.
type WSConfig struct {
	// HandshakeTimeout bounds the initial dial.
	HandshakeTimeout time.Duration
	// PingInterval is the keepalive ping cadence.
	PingInterval time.Duration
	// ReadTimeout is the per-message read deadline.
	ReadTimeout time.Duration
	// WriteTimeout is the per-message write deadline.
	WriteTimeout time.Duration
	// Logger defaults to log.Default().
	Logger *log.Logger
}

// DefaultWSConfig returns default websocket settings.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		ReadTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
	}
}

// WSSource subscribes to the stream service's block subscription over a
// websocket. Each Open dials a fresh connection; the channel closes on
// read error, and the wrapping Client handles backoff and resume.
type WSSource struct {
	endpoint  string
	cfg       WSConfig
	logger    *log.Logger
	requestID atomic.Uint64
}

// NewWSSource creates a websocket source for the given ws:// endpoint.
func NewWSSource(endpoint string, cfg *WSConfig) *WSSource {
	c := DefaultWSConfig()
	if cfg != nil {
		c = *cfg
	}
	logger := c.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &WSSource{endpoint: endpoint, cfg: c, logger: logger}
}

type wsRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

type wsBlockNotification struct {
	Method string `json:"method"`
	Params *struct {
		Result wireBlock `json:"result"`
	} `json:"params"`
}

// Open implements Source.
func (s *WSSource) Open(ctx context.Context, fromSlot int64) (<-chan domain.Block, error) {
	dialer := websocket.Dialer{HandshakeTimeout: s.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      s.requestID.Add(1),
		Method:  "blockSubscribe",
		Params: []interface{}{
			map[string]int64{"fromSlot": fromSlot},
			map[string]string{"commitment": "confirmed"},
		},
	}
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write subscribe: %w", err)
	}

	out := make(chan domain.Block)
	done := make(chan struct{})

	go s.pingLoop(conn, done)
	go func() {
		// Unblock the read loop on cancellation.
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go s.readLoop(ctx, conn, out, done)

	return out, nil
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- domain.Block, done chan<- struct{}) {
	defer close(out)
	defer close(done)
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Printf("blockstream: websocket read: %v", err)
			}
			return
		}

		var notif wsBlockNotification
		if err := json.Unmarshal(message, &notif); err != nil || notif.Method != "blockNotification" || notif.Params == nil {
			// Subscription confirmations and unrelated messages.
			continue
		}

		select {
		case out <- decodeBlock(notif.Params.Result):
		case <-ctx.Done():
			return
		}
	}
}

func (s *WSSource) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// Dead connection; the read loop will exit on its own.
				return
			}
		}
	}
}
