package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"coursehub/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxFrameSize   = 64 << 10
	sendBufferSize = 256

	invocationRate  = 20
	invocationBurst = 40
)

// Client 是一条实时连接。同一用户可以同时持有多个 Client。
type Client struct {
	ID       string
	UserID   uint
	Name     string
	CanTeach bool
	CanStudy bool

	hub     *Hub
	conn    *websocket.Conn
	ctx     context.Context
	send    chan []byte
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool

	// departed 由 Membership.mu 保护
	departed bool
}

func NewClient(h *Hub, id auth.Identity, conn *websocket.Conn) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   id.UserID,
		Name:     id.DisplayName,
		CanTeach: id.CanTeach,
		CanStudy: id.CanStudy,
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		limiter:  rate.NewLimiter(invocationRate, invocationBurst),
	}
}

func (c *Client) context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

func (c *Client) trySend(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// close 关闭发送队列，只有第一次调用返回 true。
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Serve 在升级前完成认证：浏览器握手无法带自定义头，token 可以放在 access_token 查询参数里。
func Serve(h *Hub, secret string, resolver auth.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := auth.Authenticate(c.Request.Context(), c.Request, secret, resolver)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Debug().Err(err).Msg("websocket upgrade failed")
			return
		}
		client := NewClient(h, id, conn)
		client.ctx = context.WithoutCancel(c.Request.Context())

		ctx, cancel := context.WithTimeout(client.ctx, h.timeout)
		h.Connect(ctx, client)
		cancel()

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("conn", c.ID).Msg("websocket read")
			}
			return
		}
		var inv Invocation
		if err := json.Unmarshal(data, &inv); err != nil || inv.Target == "" {
			c.hub.deliver(c, Error{Code: "validation_failed", Message: "malformed invocation"})
			continue
		}
		if !c.limiter.Allow() {
			c.hub.complete(c, inv, nil, errRateLimited)
			continue
		}
		c.hub.Dispatch(c, inv)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
