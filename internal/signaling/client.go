package signaling

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skillbridge/liveroom/internal/protocol"
)

// ClientOptions tunes one connection's pumps.
type ClientOptions struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound queue length. A participant that falls this far behind is
	// disconnected.
	SendBuffer int
}

// DefaultClientOptions match the relay's production settings.
var DefaultClientOptions = ClientOptions{
	WriteWait:      10 * time.Second,
	PongWait:       60 * time.Second,
	MaxMessageSize: 64 * 1024, // enough for SDP with many candidates
	SendBuffer:     256,
}

func (o ClientOptions) withDefaults() ClientOptions {
	d := DefaultClientOptions
	if o.WriteWait <= 0 {
		o.WriteWait = d.WriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = d.PongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = d.SendBuffer
	}
	return o
}

// Client is a wrapper for a single websocket connection (a participant).
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	codec protocol.Codec
	opts  ClientOptions

	id     string
	userID string
	name   string

	// send is a buffered channel for all outbound messages. writePump is
	// its only reader.
	send chan *protocol.Message

	mu     sync.Mutex
	closed bool
	roomID string
}

// NewClient wraps an upgraded connection. userID is the identity supplied
// by the authenticator and is never taken from message content.
func NewClient(hub *Hub, conn *websocket.Conn, codec protocol.Codec, userID, name string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	if name == "" {
		name = userID
	}
	return &Client{
		hub:    hub,
		conn:   conn,
		codec:  codec,
		opts:   opts,
		id:     uuid.NewString(),
		userID: userID,
		name:   name,
		send:   make(chan *protocol.Message, opts.SendBuffer),
	}
}

func (c *Client) ID() string     { return c.id }
func (c *Client) UserID() string { return c.userID }
func (c *Client) Name() string   { return c.name }

// RoomID is the room this connection joined, or "".
func (c *Client) RoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *Client) setRoom(id string) {
	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()
}

// Deliver queues msg without blocking. A full queue closes the client:
// what is already queued is still written, then the connection goes away.
func (c *Client) Deliver(msg *protocol.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		c.hub.log.Warn("send buffer full, disconnecting", "conn", c.id, "user", c.userID, "room", c.roomID)
		c.closed = true
		close(c.send)
		return false
	}
}

// Close stops the write pump after it drains the queue.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Info("connection read failed", "conn", c.id, "user", c.userID, "error", err)
			}
			return
		}

		var msg protocol.Message
		if err := c.codec.Unmarshal(data, &msg); err != nil {
			c.hub.log.Debug("undecodable message", "conn", c.id, "error", err)
			c.Deliver(protocol.NewError(protocol.CodeInvalidMessage, "message could not be decoded"))
			continue
		}
		c.hub.Dispatch(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	pingPeriod := (c.opts.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// Queue closed and drained.
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			data, err := c.codec.Marshal(msg)
			if err != nil {
				c.hub.log.Error("failed to encode message", "conn", c.id, "type", msg.Type, "error", err)
				continue
			}
			if err := c.conn.WriteMessage(frame, data); err != nil {
				c.hub.log.Debug("write failed", "conn", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
