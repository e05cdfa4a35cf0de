// internal/venue/hyperliquid/ws.go
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsDialTimeout   = 10 * time.Second
	wsPingInterval  = 30 * time.Second
	wsReconnectWait = 5 * time.Second
)

// FillWatcher maintains a websocket subscription to an account's user events
// and remembers the time of the latest observed fill. The sync loop reads
// that timestamp to skip polling cycles for quiet traders between fills.
type FillWatcher struct {
	wsURL   string
	address string
	logger  *zap.Logger

	mu       sync.RWMutex
	lastFill time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewFillWatcher creates a watcher for one account. Call Start to connect.
func NewFillWatcher(wsURL, address string, logger *zap.Logger) *FillWatcher {
	return &FillWatcher{
		wsURL:   wsURL,
		address: address,
		logger:  logger.Named("fills").With(zap.String("address", address)),
		done:    make(chan struct{}),
	}
}

// Start connects and runs the read loop in a goroutine, reconnecting on
// failure until Stop is called.
func (w *FillWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.run(ctx)
}

// Stop disconnects and waits for the read loop to exit.
func (w *FillWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

// LastFillTime returns the latest fill time observed over the socket, or
// zero when nothing has arrived yet.
func (w *FillWatcher) LastFillTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastFill
}

func (w *FillWatcher) run(ctx context.Context) {
	defer close(w.done)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := w.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("Fill stream disconnected, reconnecting",
				zap.Error(err),
				zap.Duration("wait", wsReconnectWait))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wsReconnectWait):
		}
	}
}

func (w *FillWatcher) connectAndRead(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, wsDialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial fill stream: %w", err)
	}
	defer conn.Close()

	sub := map[string]any{
		"method": "subscribe",
		"subscription": map[string]string{
			"type": "userEvents",
			"user": w.address,
		},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe to user events: %w", err)
	}
	w.logger.Debug("Subscribed to fill stream")

	// Close the socket when the context ends so ReadMessage unblocks.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	pingTicker := time.NewTicker(wsPingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingTicker.C:
				_ = conn.WriteJSON(map[string]string{"method": "ping"})
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read fill stream: %w", err)
		}
		w.handleMessage(message)
	}
}

func (w *FillWatcher) handleMessage(message []byte) {
	var envelope struct {
		Channel string `json:"channel"`
		Data    struct {
			Fills []userFill `json:"fills"`
		} `json:"data"`
	}
	if err := json.Unmarshal(message, &envelope); err != nil {
		w.logger.Debug("Skipping malformed fill message", zap.Error(err))
		return
	}
	if envelope.Channel != "user" || len(envelope.Data.Fills) == 0 {
		return
	}

	var latest int64
	for _, f := range envelope.Data.Fills {
		if f.Time > latest {
			latest = f.Time
		}
	}

	w.mu.Lock()
	if t := time.UnixMilli(latest); t.After(w.lastFill) {
		w.lastFill = t
	}
	w.mu.Unlock()

	w.logger.Debug("Fills observed",
		zap.Int("count", len(envelope.Data.Fills)),
		zap.Time("latest", time.UnixMilli(latest)))
}
