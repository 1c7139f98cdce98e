package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HCTech2/GOLD-HFT/config"
	"github.com/HCTech2/GOLD-HFT/logging"
	"github.com/HCTech2/GOLD-HFT/models"
)

// Feed streams ticks from the MT5 bridge over a websocket, an optional
// low-latency alternative to polling GET /tick. When the stream is down
// the strategy falls back to REST polling, so Feed only has to keep the
// channel warm, never to guarantee delivery.
type Feed struct {
	cfg    *config.Config
	logger logging.LoggerInterface

	connMu sync.Mutex
	conn   *websocket.Conn

	ticks chan models.Tick
}

// NewFeed creates a tick feed for the configured bridge.
func NewFeed(cfg *config.Config, logger logging.LoggerInterface) *Feed {
	return &Feed{
		cfg:    cfg,
		logger: logger,
		ticks:  make(chan models.Tick, 64),
	}
}

// Ticks is the stream of incoming ticks. The channel is never closed;
// consumers select against their own cancellation.
func (f *Feed) Ticks() <-chan models.Tick { return f.ticks }

// Run connects and pumps ticks until ctx is cancelled, reconnecting
// with a flat backoff on any failure.
func (f *Feed) Run(ctx context.Context) {
	const backoff = 3 * time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.connect(); err != nil {
			f.logger.Warning("Flux bridge indisponible: %v (nouvel essai dans %s)", err, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}
		stopPing := f.startPingTicker()
		f.readLoop(ctx)
		close(stopPing)
		f.closeConn()
	}
}

func (f *Feed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.cfg.BridgeWSURL, nil)
	if err != nil {
		return err
	}
	pongWait := time.Duration(f.cfg.PongWaitSec) * time.Second
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub := map[string]interface{}{
		"op":   "subscribe",
		"args": []string{"ticks." + f.cfg.Symbol},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	f.logger.Info("Flux de ticks connecté: %s", f.cfg.BridgeWSURL)
	return nil
}

// startPingTicker keeps the bridge connection alive: the read deadline
// is only extended by pongs, so the feed must ping at a period shorter
// than the pong wait.
func (f *Feed) startPingTicker() chan struct{} {
	stop := make(chan struct{})
	ticker := time.NewTicker(time.Duration(f.cfg.PingPeriodSec) * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.connMu.Lock()
				if f.conn != nil {
					_ = f.conn.WriteMessage(websocket.PingMessage, nil)
				}
				f.connMu.Unlock()
			}
		}
	}()
	return stop
}

func (f *Feed) readLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, raw, err := f.conn.ReadMessage()
		if err != nil {
			f.logger.Warning("Lecture du flux interrompue: %v", err)
			return
		}

		var msg struct {
			Topic string      `json:"topic"`
			Data  models.Tick `json:"data"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			f.logger.Debug("Message de flux ignoré: %v", err)
			continue
		}
		if msg.Topic == "" {
			// subscription ack
			continue
		}
		msg.Data.Fresh = true
		select {
		case f.ticks <- msg.Data:
		default:
			// consumer behind, drop the oldest to stay current
			select {
			case <-f.ticks:
			default:
			}
			select {
			case f.ticks <- msg.Data:
			default:
			}
		}
	}
}

func (f *Feed) closeConn() {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}
