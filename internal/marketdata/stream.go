package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/internal/bus"
	"tradecore/pkg/types"
)

const (
	readTimeout       = 90 * time.Second
	writeTimeout      = 10 * time.Second
	pingInterval      = 50 * time.Second
	initialBackoff    = time.Second
	maxReconnectDelay = 30 * time.Second
)

// barMessage is the wire shape documented in spec §6: a vendor-agnostic
// streamed bar.
type barMessage struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Credentials authenticate a StreamProvider connection.
type Credentials struct {
	APIKeyID     string
	APISecretKey string
}

// StreamProvider is the default, vendor-agnostic websocket Provider
// implementation. Reconnection uses exponential backoff from
// initialBackoff up to maxReconnectDelay, bounded by maxReconnectAttempts;
// every previously subscribed symbol is re-subscribed before the provider
// reports connected again.
type StreamProvider struct {
	url   string
	creds Credentials
	bus   *bus.Bus

	maxReconnectAttempts int

	connMu sync.Mutex
	conn   *websocket.Conn

	subMu      sync.RWMutex
	subscribed map[string]bool

	connected bool
	logger    *slog.Logger

	historical HistoricalSource
}

// NewStreamProvider constructs a websocket-based streaming provider.
func NewStreamProvider(url string, creds Credentials, maxReconnectAttempts int, b *bus.Bus, logger *slog.Logger) *StreamProvider {
	return &StreamProvider{
		url:                   url,
		creds:                 creds,
		bus:                   b,
		maxReconnectAttempts:  maxReconnectAttempts,
		subscribed:            make(map[string]bool),
		logger:                logger.With("component", "marketdata_stream"),
	}
}

// Connect dials once, synchronously, then hands the connection off to a
// reconnecting read loop for the remainder of ctx's lifetime.
func (p *StreamProvider) Connect(ctx context.Context) error {
	if err := p.dial(ctx); err != nil {
		return err
	}
	go p.runLoop(ctx)
	return nil
}

func (p *StreamProvider) dial(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == 401 {
			return ErrAuthFailed
		}
		return fmt.Errorf("marketdata: dial: %w", err)
	}

	p.connMu.Lock()
	p.conn = conn
	p.connMu.Unlock()

	if err := p.resubscribeAll(); err != nil {
		return err
	}
	p.connected = true
	return nil
}

func (p *StreamProvider) resubscribeAll() error {
	p.subMu.RLock()
	symbols := make([]string, 0, len(p.subscribed))
	for s := range p.subscribed {
		symbols = append(symbols, s)
	}
	p.subMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return p.sendSubscription("subscribe", symbols)
}

// runLoop keeps the connection alive across disconnects with exponential
// backoff, re-subscribing on every successful reconnect before resuming
// reads. Publishes a SystemStatus event with status ERROR on each
// disconnect and STOPPED (carrying ErrFatal's message) once
// maxReconnectAttempts is exhausted, after which the loop returns.
func (p *StreamProvider) runLoop(ctx context.Context) {
	backoff := initialBackoff
	attempts := 0

	for {
		err := p.readLoop(ctx)
		p.connected = false

		if ctx.Err() != nil {
			return
		}

		attempts++
		if p.maxReconnectAttempts > 0 && attempts > p.maxReconnectAttempts {
			p.logger.Error("reconnect attempts exhausted, stopping", "attempts", attempts)
			if p.bus != nil {
				p.bus.PublishBlocking(ctx, types.SystemStatusEvent{Component: "marketdata", Status: types.StatusStopped, Message: ErrFatal.Error(), EventTime: time.Now()})
			}
			return
		}

		p.logger.Warn("disconnected, reconnecting", "error", err, "backoff", backoff, "attempt", attempts)
		if p.bus != nil {
			p.bus.PublishBlocking(ctx, types.SystemStatusEvent{Component: "marketdata", Status: types.StatusError, Message: fmt.Sprint(err), EventTime: time.Now()})
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectDelay {
			backoff = maxReconnectDelay
		}

		if err := p.dial(ctx); err != nil {
			p.logger.Warn("reconnect dial failed", "error", err)
			continue
		}
		backoff = initialBackoff
		attempts = 0
	}
}

func (p *StreamProvider) readLoop(ctx context.Context) error {
	p.connMu.Lock()
	conn := p.conn
	p.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("marketdata: no connection")
	}
	defer conn.Close()

	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go p.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("marketdata: read: %w", err)
		}
		p.dispatch(data)
	}
}

func (p *StreamProvider) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *StreamProvider) dispatch(data []byte) {
	var msg barMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Debug("ignoring malformed bar message", "error", err)
		return
	}

	now := time.Now()
	p.bus.Publish(context.Background(), types.MarketDataEvent{
		Symbol:        msg.Symbol,
		Open:          msg.Open,
		High:          msg.High,
		Low:           msg.Low,
		Close:         msg.Close,
		Volume:        msg.Volume,
		DataTimestamp: msg.TS,
		EventTime:     now,
	})
}

// Subscribe adds symbols to the tracked set and sends a live subscribe
// message if connected.
func (p *StreamProvider) Subscribe(symbols []string) error {
	if !p.IsConnected() {
		return ErrNotConnected
	}
	p.subMu.Lock()
	for _, s := range symbols {
		p.subscribed[s] = true
	}
	p.subMu.Unlock()
	return p.sendSubscription("subscribe", symbols)
}

// Unsubscribe removes symbols from the tracked set.
func (p *StreamProvider) Unsubscribe(symbols []string) error {
	p.subMu.Lock()
	for _, s := range symbols {
		delete(p.subscribed, s)
	}
	p.subMu.Unlock()
	return p.sendSubscription("unsubscribe", symbols)
}

func (p *StreamProvider) sendSubscription(op string, symbols []string) error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return ErrNotConnected
	}
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteJSON(map[string]any{
		"op":      op,
		"symbols": symbols,
	})
}

// Disconnect closes the underlying connection.
func (p *StreamProvider) Disconnect() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	p.connected = false
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// IsConnected reports the provider's current connection state.
func (p *StreamProvider) IsConnected() bool { return p.connected }
