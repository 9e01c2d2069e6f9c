// Package ws implements a realtime bar feed over WebSocket. The server
// streams bar updates as JSON: provisional revisions repeat an index
// with an increasing update sequence until one final message closes it.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"barlab/internal/domain"
	"barlab/internal/feed"
	"barlab/internal/storage"
)

// Config configures WebSocket feed behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns default WebSocket configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// barMessage is the wire format of one bar update.
type barMessage struct {
	Symbol      string  `json:"symbol"`
	Timeframe   string  `json:"timeframe"`
	Index       int64   `json:"index"`
	TimestampMs int64   `json:"timestamp_ms"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	Final       bool    `json:"final"`
	UpdateSeq   int     `json:"update_seq"`
}

// subscribeRequest asks the server for one series' updates.
type subscribeRequest struct {
	Op        string `json:"op"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
}

// Feed streams live bar updates for one series, with the historical
// prefix served from a bar store. Reconnects transparently with
// exponential backoff and resubscribes.
type Feed struct {
	endpoint  string
	symbol    string
	timeframe string
	config    Config
	bars      storage.BarStore
	logger    *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool

	out     chan *domain.TimePoint
	outOnce sync.Once
	done    chan struct{}
	wg      sync.WaitGroup

	// onReconnect is an optional hook, used for metrics.
	onReconnect func()
}

var _ feed.Feed = (*Feed)(nil)

// New creates a feed and connects to the endpoint. bars supplies the
// historical prefix; it may be nil when the caller replays from
// elsewhere and only needs the live tail.
func New(ctx context.Context, endpoint, symbol, timeframe string, bars storage.BarStore, config *Config) (*Feed, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}

	f := &Feed{
		endpoint:  endpoint,
		symbol:    symbol,
		timeframe: timeframe,
		config:    cfg,
		bars:      bars,
		logger:    log.New(log.Writer(), "[ws-feed] ", log.LstdFlags),
		out:       make(chan *domain.TimePoint, 1024),
		done:      make(chan struct{}),
	}

	if err := f.connect(ctx); err != nil {
		return nil, err
	}
	if err := f.subscribe(); err != nil {
		f.closeConn()
		return nil, err
	}

	f.wg.Add(1)
	go f.readLoop()

	f.wg.Add(1)
	go f.pingLoop()

	return f, nil
}

// SetReconnectHook registers a callback fired on every reconnect
// attempt. Must be called before the first read error can occur.
func (f *Feed) SetReconnectHook(fn func()) {
	f.onReconnect = fn
}

// Historical returns the stored prefix for the series, or nothing when
// no bar store was supplied.
func (f *Feed) Historical(ctx context.Context) ([]*domain.TimePoint, error) {
	if f.bars == nil {
		return nil, nil
	}
	return f.bars.GetAll(ctx, f.symbol, f.timeframe)
}

// Updates returns the live delivery channel. The channel closes when
// the feed is closed; ctx only bounds this call, not the stream.
func (f *Feed) Updates(_ context.Context) (<-chan *domain.TimePoint, error) {
	if f.closed.Load() {
		return nil, fmt.Errorf("feed closed")
	}
	return f.out, nil
}

// Close shuts the feed down and closes the update channel.
func (f *Feed) Close() error {
	if f.closed.Swap(true) {
		return nil // Already closed
	}

	close(f.done)
	f.closeConn()
	f.wg.Wait()
	f.outOnce.Do(func() { close(f.out) })
	return nil
}

// connect establishes the WebSocket connection.
func (f *Feed) connect(ctx context.Context) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	f.conn = conn
	return nil
}

// subscribe sends the subscription request for the configured series.
func (f *Feed) subscribe() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		return fmt.Errorf("not connected")
	}

	req := subscribeRequest{Op: "subscribe", Symbol: f.symbol, Timeframe: f.timeframe}
	f.conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
	if err := f.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}
	return nil
}

// readLoop reads bar messages and delivers them in order, reconnecting
// with exponential backoff on connection errors.
func (f *Feed) readLoop() {
	defer f.wg.Done()

	reconnectDelay := f.config.ReconnectDelay

	for !f.closed.Load() {
		f.connMu.Lock()
		conn := f.conn
		f.connMu.Unlock()

		if conn == nil {
			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(f.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if f.closed.Load() {
				return
			}

			if !f.reconnecting.Swap(true) {
				go f.reconnect(reconnectDelay)
			}

			reconnectDelay *= 2
			if reconnectDelay > f.config.MaxReconnectDelay {
				reconnectDelay = f.config.MaxReconnectDelay
			}

			select {
			case <-f.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset delay on successful read
		reconnectDelay = f.config.ReconnectDelay

		f.handleMessage(message)
	}
}

// handleMessage parses one bar update and forwards it. Messages for
// other series or malformed payloads are dropped with a log line.
func (f *Feed) handleMessage(message []byte) {
	var msg barMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		f.logger.Printf("drop malformed message: %v", err)
		return
	}
	if msg.Symbol != f.symbol || msg.Timeframe != f.timeframe {
		return
	}

	tp := &domain.TimePoint{
		Index:       msg.Index,
		IsFinalized: msg.Final,
		UpdateSeq:   msg.UpdateSeq,
		Bar: domain.Bar{
			TimestampMs: msg.TimestampMs,
			Open:        msg.Open,
			High:        msg.High,
			Low:         msg.Low,
			Close:       msg.Close,
			Volume:      msg.Volume,
			Symbol:      msg.Symbol,
		},
	}

	select {
	case f.out <- tp:
	case <-f.done:
	}
}

// reconnect re-dials and resubscribes after a connection error.
func (f *Feed) reconnect(delay time.Duration) {
	defer f.reconnecting.Store(false)

	if f.closed.Load() {
		return
	}
	if f.onReconnect != nil {
		f.onReconnect()
	}

	select {
	case <-f.done:
		return
	case <-time.After(delay):
	}

	f.closeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := f.connect(ctx); err != nil {
		f.logger.Printf("reconnect failed: %v", err)
		return
	}
	if err := f.subscribe(); err != nil {
		f.logger.Printf("resubscribe failed: %v", err)
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (f *Feed) pingLoop() {
	defer f.wg.Done()

	ticker := time.NewTicker(f.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.done:
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(f.config.WriteTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Printf("ping failed: %v", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		f.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		f.conn.Close()
		f.conn = nil
	}
}
