package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	sendBuffer     = 64
)

const (
	FrameJoin  = "join"
	FrameLeave = "leave"
)

// Conn is the part of a websocket connection the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Frame is one inbound client event.
type Frame struct {
	Type string          `json:"type"`
	Room string          `json:"room,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Router handles every inbound frame other than join and leave.
type Router interface {
	Route(ctx context.Context, client *Client, frame Frame) error
}

type Client struct {
	UserID string
	Role   string

	hub     *Hub
	conn    Conn
	send    chan []byte
	rooms   map[string]struct{}
	limiter *rate.Limiter
	logger  *log.Logger
}

type RateLimit struct {
	PerSecond float64
	Burst     int
}

func NewClient(hub *Hub, conn Conn, userID, role string, limit RateLimit) *Client {
	return &Client{
		UserID:  userID,
		Role:    role,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		rooms:   make(map[string]struct{}),
		limiter: rate.NewLimiter(rate.Limit(limit.PerSecond), limit.Burst),
		logger:  hub.logger.With("user_id", userID),
	}
}

func (c *Client) Identity() Identity {
	return Identity{UserID: c.UserID, Role: c.Role}
}

// ReadPump reads frames until the connection fails. Handler errors become
// error events; they never end the connection.
func (c *Client) ReadPump(ctx context.Context, router Router) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("realtime connection closed", "err", err)
			}
			return
		}
		c.handle(ctx, router, payload)
	}
}

func (c *Client) handle(ctx context.Context, router Router, payload []byte) {
	if !c.limiter.Allow() {
		c.SendError("rate limit exceeded")
		return
	}

	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Type == "" {
		c.SendError("invalid event payload")
		return
	}

	switch frame.Type {
	case FrameJoin:
		c.join(ctx, frame.Room)
	case FrameLeave:
		c.hub.Leave(c, frame.Room)
		c.Send(models.Event{Type: models.EventLeft, Room: frame.Room, Timestamp: time.Now().UTC()})
	default:
		if err := router.Route(ctx, c, frame); err != nil {
			c.SendError(err.Error())
		}
	}
}

func (c *Client) join(ctx context.Context, room string) {
	if c.hub.authorizer == nil {
		c.SendError("room subscriptions are disabled")
		return
	}
	if err := c.hub.authorizer.CanJoin(ctx, c.Identity(), room); err != nil {
		if !errors.Is(err, ErrRoomForbidden) && !errors.Is(err, ErrUnknownRoom) {
			c.logger.Warn("room authorization failed", "room", room, "err", err)
			c.SendError("failed to join room")
			return
		}
		c.SendError(err.Error())
		return
	}
	c.hub.Join(c, room)
	c.Send(models.Event{Type: models.EventJoined, Room: room, Timestamp: time.Now().UTC()})
}

// Send queues an event for this client only. It gives up when the buffer
// is full.
func (c *Client) Send(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("encode client event", "event", event.Type, "err", err)
		return
	}
	c.hub.query(func() {
		if _, registered := c.hub.clients[c.UserID][c]; !registered {
			return
		}
		select {
		case c.send <- payload:
		default:
		}
	})
}

func (c *Client) SendError(message string) {
	c.Send(models.Event{
		Type:      models.EventError,
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().UTC(),
	})
}

// WritePump is the only writer to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
