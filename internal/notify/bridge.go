// Package notify relays run notifications to WebSocket clients as JSON
// messages. Each message carries an "event" field naming the notification.
package notify

import (
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/teralab/teractl/internal/data"
	"codeberg.org/teralab/teractl/internal/errors"
	"codeberg.org/teralab/teractl/internal/logger"
	"codeberg.org/teralab/teractl/internal/runner"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	Path = "/websocket"

	sendBuffer   = 64
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	writeTimeout = 10 * time.Second
	maxMessage   = 4 * 1024
)

const (
	ErrListenFailed errors.ErrorCode = "notify_listen_failed"
)

func init() {
	errors.Register(map[errors.ErrorCode]string{
		ErrListenFailed: "Failed to start notification server",
	})
}

// Bridge is a runner.Listener that broadcasts every notification to the
// connected clients. Slow clients lose messages rather than stall the run.
type Bridge struct {
	upgrader websocket.Upgrader
	clients  *xsync.MapOf[int64, *client]
	nextID   atomic.Int64
	log      logger.Logger

	mu     sync.Mutex
	server *http.Server
}

func New() *Bridge {
	return &Bridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: xsync.NewMapOf[int64, *client](),
		log:     logger.Component("notify"),
	}
}

// Handler returns a mux serving the WebSocket endpoint at Path.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(Path, b.handleWebSocket)
	return mux
}

// Start listens on addr and serves clients in the background. It returns
// the bound address.
func (b *Bridge) Start(addr string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", errors.New().Wrap(ErrListenFailed, err)
	}
	b.server = &http.Server{
		Handler:           b.Handler(),
		ReadHeaderTimeout: writeTimeout,
	}

	go func() {
		if err := b.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			b.log.Error().Err(err).Msg("Notification server stopped")
		}
	}()

	b.log.Info().Str("addr", ln.Addr().String()).Msg("Notification server listening")
	return ln.Addr().String(), nil
}

// Stop disconnects every client and closes the server.
func (b *Bridge) Stop() error {
	b.clients.Range(func(id int64, c *client) bool {
		c.close()
		b.clients.Delete(id)
		return true
	})

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.server == nil {
		return nil
	}
	err := b.server.Close()
	b.server = nil
	return err
}

func (b *Bridge) ClientCount() int {
	return b.clients.Size()
}

func (b *Bridge) broadcast(msg map[string]any) {
	b.clients.Range(func(_ int64, c *client) bool {
		c.send(msg)
		return true
	})
}

func (b *Bridge) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &client{
		id:     b.nextID.Add(1),
		conn:   conn,
		sendCh: make(chan any, sendBuffer),
		done:   make(chan struct{}),
		log:    b.log,
	}
	b.clients.Store(c.id, c)
	b.log.Debug().Int64("client", c.id).Msg("Client connected")

	go c.writePump()
	c.readPump()

	b.clients.Delete(c.id)
	b.log.Debug().Int64("client", c.id).Msg("Client disconnected")
}

func (b *Bridge) RunStarted(sweep map[string]any) {
	b.broadcast(map[string]any{"event": runner.EventRunStarted, "sweep": data.JSONSafe(sweep)})
}

func (b *Bridge) RunProgress(current, total int) {
	b.broadcast(map[string]any{"event": runner.EventRunProgress, "current": current, "total": total})
}

func (b *Bridge) StepStarted(meta map[string]any) {
	b.broadcast(map[string]any{"event": runner.EventStepStarted, "meta": data.JSONSafe(meta)})
}

func (b *Bridge) StepProgress(elapsed, estimate time.Duration, message string) {
	b.broadcast(map[string]any{
		"event":      runner.EventStepProgress,
		"elapsed_s":  elapsed.Seconds(),
		"estimate_s": estimate.Seconds(),
		"message":    message,
	})
}

// DataReady announces the atom without its payload arrays.
func (b *Bridge) DataReady(atom *data.Atom, meta map[string]any) {
	b.broadcast(map[string]any{
		"event":     runner.EventDataReady,
		"index":     atom.Index,
		"timestamp": atom.Timestamp.Local().Format(time.RFC3339Nano),
		"meta":      data.JSONSafe(meta),
	})
}

func (b *Bridge) StepFinished(index, total int) {
	b.broadcast(map[string]any{"event": runner.EventStepFinished, "index": index, "total": total})
}

func (b *Bridge) Aborted() {
	b.broadcast(map[string]any{"event": runner.EventAborted})
}

func (b *Bridge) Finished(run *data.Run) {
	msg := map[string]any{
		"event":  runner.EventFinished,
		"run":    run.ID.String(),
		"status": string(run.Status()),
		"atoms":  len(run.Atoms()),
	}
	if err := run.Err(); err != nil {
		msg["error"] = err.Error()
	}
	b.broadcast(msg)
}

type client struct {
	id     int64
	conn   *websocket.Conn
	sendCh chan any
	done   chan struct{}
	once   sync.Once
	log    logger.Logger
}

func (c *client) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.log.Warn().Int64("client", c.id).Msg("Dropping message, client too slow")
	}
}

// close sends a close frame and drops the connection. WriteControl may run
// concurrently with writePump.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeTimeout))
		c.conn.Close()
	})
}

// readPump discards client messages; it exists to process control frames
// and notice disconnects.
func (c *client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessage)
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Int64("client", c.id).Msg("WebSocket read error")
			}
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Debug().Err(err).Int64("client", c.id).Msg("WebSocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
