package feed

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"projectx-bracket-bot/internal/models"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 75 * time.Second

	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Tick is one market data update from the price stream.
type Tick struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Volume float64   `json:"volume"`
	Ts     time.Time `json:"ts"`
}

// Handler receives every tick from the stream, on the feed's read goroutine.
type Handler func(Tick)

// Feed maintains a websocket connection to the market data stream, with
// keepalive pings and automatic reconnect.
type Feed struct {
	cfg     models.FeedConfig
	handler Handler
	logger  *zap.SugaredLogger

	mu       sync.Mutex
	conn     *websocket.Conn
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewFeed creates a feed for the configured stream URL. handler must not be
// nil.
func NewFeed(cfg models.FeedConfig, handler Handler, logger *zap.SugaredLogger) *Feed {
	return &Feed{
		cfg:      cfg,
		handler:  handler,
		logger:   logger,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// Start launches the connection loop.
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return fmt.Errorf("feed already started")
	}
	if f.cfg.URL == "" {
		return fmt.Errorf("feed url not configured")
	}
	f.started = true
	go f.connectLoop()
	return nil
}

// Stop closes the connection and waits for the loops to exit.
func (f *Feed) Stop() {
	f.mu.Lock()
	if !f.started {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	close(f.stopChan)
	f.closeConn()
	<-f.doneChan
}

func (f *Feed) pingInterval() time.Duration {
	if f.cfg.PingIntervalSec > 0 {
		return time.Duration(f.cfg.PingIntervalSec) * time.Second
	}
	return defaultPingInterval
}

func (f *Feed) pongTimeout() time.Duration {
	if f.cfg.PongTimeoutSec > 0 {
		return time.Duration(f.cfg.PongTimeoutSec) * time.Second
	}
	return defaultPongTimeout
}

// connectLoop dials, runs the read loop and reconnects with exponential
// backoff until Stop is called.
func (f *Feed) connectLoop() {
	defer close(f.doneChan)

	delay := reconnectBaseDelay
	for {
		select {
		case <-f.stopChan:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.cfg.URL, nil)
		if err != nil {
			f.logger.Warnw("Feed dial failed, retrying", "url", f.cfg.URL, "delay", delay, "error", err)
			select {
			case <-f.stopChan:
				return
			case <-time.After(delay):
			}
			if delay *= 2; delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		f.logger.Infow("Feed connected", "url", f.cfg.URL)
		delay = reconnectBaseDelay

		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		f.readLoop(conn)
		f.closeConn()

		select {
		case <-f.stopChan:
			return
		default:
			f.logger.Warn("Feed connection lost, reconnecting")
		}
	}
}

// readLoop consumes ticks until the connection drops. A ping goroutine keeps
// the connection alive; reads extend the deadline on every pong.
func (f *Feed) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(f.pongTimeout()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.pongTimeout()))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(f.pingInterval())
		defer ticker.Stop()
		for {
			select {
			case <-pingDone:
				return
			case <-f.stopChan:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-f.stopChan:
			default:
				f.logger.Warnw("Feed read failed", "error", err)
			}
			return
		}

		var tick Tick
		if err := json.Unmarshal(message, &tick); err != nil {
			f.logger.Debugw("Skipping unparseable feed message", "error", err)
			continue
		}
		if tick.Ts.IsZero() {
			tick.Ts = time.Now()
		}
		if tick.Price > 0 {
			f.handler(tick)
		}
	}
}

func (f *Feed) closeConn() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
}
