package realtime

import (
	"context"
	"time"

	"github.com/cosmicduel/duel-server/internal/config"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Conn is the part of a websocket connection a client uses
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

var _ Conn = (*websocket.Conn)(nil)

// Client is one connection in a game's broadcast group. Player is the seat
// the connection speaks for; empty for spectators.
type Client struct {
	id     uuid.UUID
	gameID string
	player string
	conn   Conn
	send   chan []byte
}

// NewClient creates a client with a send queue of queueSize messages
func NewClient(gameID, player string, conn Conn, queueSize int) *Client {
	return &Client{
		id:     uuid.New(),
		gameID: gameID,
		player: player,
		conn:   conn,
		send:   make(chan []byte, queueSize),
	}
}

func (c *Client) ID() uuid.UUID { return c.id }
func (c *Client) GameID() string { return c.gameID }
func (c *Client) Player() string { return c.player }

// Serve runs the client until its connection closes. Reads are dispatched to
// the gateway in order; writes happen on a separate goroutine.
func (c *Client) Serve(ctx context.Context, g *Gateway, cfg config.WebSocketConfig) {
	if err := g.Connect(ctx, c); err != nil {
		g.logger.Warn("connect failed", zap.String("game_id", c.gameID), zap.Error(err))
		_ = c.conn.Close()
		return
	}
	go c.writePump(cfg)
	c.readPump(ctx, g, cfg)
}

func (c *Client) readPump(ctx context.Context, g *Gateway, cfg config.WebSocketConfig) {
	defer func() {
		g.Disconnect(ctx, c)
		_ = c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PongTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		c.conn.SetPongHandler(func(string) error {
			return c.conn.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
		})
	}

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug("websocket read failed", zap.String("client_id", c.id.String()), zap.Error(err))
			}
			return
		}
		g.Receive(ctx, c, message)
	}
}

func (c *Client) writePump(cfg config.WebSocketConfig) {
	pingPeriod := cfg.PongTimeout * 9 / 10
	if pingPeriod <= 0 {
		pingPeriod = time.Minute
	}
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.setWriteDeadline(cfg.WriteTimeout)
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.setWriteDeadline(cfg.WriteTimeout)
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) setWriteDeadline(timeout time.Duration) {
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
}
