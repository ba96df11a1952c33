package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"trader_go/internal/domain"
	"trader_go/internal/event"
	"trader_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	maxRetries   = 10
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
)

// tickMessage is the wire format of one feed update.
type tickMessage struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    int64   `json:"volume"`
	Timestamp int64   `json:"timestamp"` // unix milliseconds
}

// subscribeRequest is sent once per connection.
type subscribeRequest struct {
	Op      string   `json:"op"`
	Symbols []string `json:"symbols"`
}

// Worker maintains a WebSocket subscription and enqueues TickEvents into the
// live engine's inbox. It reconnects with bounded exponential backoff and
// never touches engine state directly.
type Worker struct {
	url     string
	symbols []string
	inbox   chan<- event.Event

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorker creates a feed worker for the given endpoint and symbols.
func NewWorker(url string, symbols []string, inbox chan<- event.Event) *Worker {
	return &Worker{
		url:     url,
		symbols: symbols,
		inbox:   inbox,
	}
}

// Connect starts the connection loop in the background.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

// Disconnect stops the worker and waits for its goroutines.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.mu.Unlock()
	w.wg.Wait()
}

// IsConnected reports the current connection state.
func (w *Worker) IsConnected() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("feed connection failed",
				slog.Any("error", domain.NewNetworkError("connect", err)),
				slog.Int("retry", retryCount))
			delay := infra.CalculateBackoff(retryCount)
			retryCount++
			if retryCount > maxRetries {
				retryCount = 0
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		} else {
			retryCount = 0
			w.readLoop(ctx)
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	sub := subscribeRequest{Op: "subscribe", Symbols: w.symbols}
	w.writeMu.Lock()
	err = conn.WriteJSON(sub)
	w.writeMu.Unlock()
	if err != nil {
		w.closeConn()
		return err
	}

	slog.Info("feed connected", slog.String("url", w.url), slog.Int("symbols", len(w.symbols)))

	w.wg.Add(1)
	go w.pingLoop(ctx, conn)
	return nil
}

func (w *Worker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (w *Worker) readLoop(ctx context.Context) {
	defer w.closeConn()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			slog.Warn("feed read failed", slog.Any("error", err))
			return
		}

		var msg tickMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("feed message skipped", slog.Any("error", err))
			continue
		}
		if msg.Symbol == "" || msg.Price <= 0 {
			continue
		}

		ev := event.AcquireTickEvent()
		ev.Tick = domain.Tick{
			Symbol:    msg.Symbol,
			Price:     msg.Price,
			Volume:    msg.Volume,
			Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
		}

		select {
		case w.inbox <- ev:
		case <-ctx.Done():
			event.ReleaseTickEvent(ev)
			return
		}
	}
}

func (w *Worker) closeConn() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.connected = false
}
