// Package client 是 hub 协议的 Go 客户端：显式状态机、指数退避重连、重连后重新加入最后的房间、
// 最近通知缓冲以及输入状态的收发两端计时。
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"coursehub/internal/service"
	"coursehub/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrConnectionLost = errors.New("client: connection lost")
	ErrClosed         = errors.New("client: closed")
)

// InvocationError 是服务端对一次调用返回的错误。
type InvocationError struct {
	Target  string
	Message string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Target, e.Message)
}

type Options struct {
	// URL 形如 ws://host:8080/hub。
	URL    string
	Token  string
	Dialer *websocket.Dialer

	Backoff Backoff
	// MaxAttempts 为 0 时无限重连。
	MaxAttempts int

	NotificationBuffer int
	TypingIdle         time.Duration
	IndicatorTTL       time.Duration

	OnEvent         func(ws.Frame)
	OnStateChange   func(from, to State)
	OnTypingChanged func(roomID, userID uint, typing bool)
}

type Client struct {
	opts Options

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	lastRoom uint
	seq      uint64
	pending  map[string]chan ws.Frame

	writeMu sync.Mutex

	notifications *NotificationBuffer
	typing        *TypingSender
	indicators    *TypingIndicators

	closeOnce sync.Once
	closed    chan struct{}
}

func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.Backoff == (Backoff{}) {
		opts.Backoff = DefaultBackoff()
	}
	c := &Client{
		opts:          opts,
		state:         Disconnected,
		pending:       make(map[string]chan ws.Frame),
		notifications: NewNotificationBuffer(opts.NotificationBuffer),
		closed:        make(chan struct{}),
	}
	c.typing = NewTypingSender(opts.TypingIdle, c.sendTyping)
	c.indicators = NewTypingIndicators(opts.IndicatorTTL, opts.OnTypingChanged)
	return c
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastRoom 返回最近一次成功加入的房间，重连后会自动重新加入。
func (c *Client) LastRoom() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRoom
}

func (c *Client) Notifications() []ws.Frame { return c.notifications.Recent() }

func (c *Client) TypingIn(roomID uint) []uint { return c.indicators.Typing(roomID) }

func (c *Client) fire(t Trigger) (State, error) {
	c.mu.Lock()
	from := c.state
	to, err := Next(from, t)
	if err == nil {
		c.state = to
	}
	c.mu.Unlock()
	if err == nil && c.opts.OnStateChange != nil {
		c.opts.OnStateChange(from, to)
	}
	return to, err
}

// Connect 建立首次连接并在后台维持读循环与重连。
func (c *Client) Connect(ctx context.Context) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if _, err := c.fire(TriggerDial); err != nil {
		return err
	}
	conn, err := c.dial(ctx)
	if err != nil {
		_, _ = c.fire(TriggerDialFailed)
		return err
	}
	c.attach(conn)
	if _, err := c.fire(TriggerDialOK); err != nil {
		_ = conn.Close()
		return err
	}
	go c.run(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	conn, resp, err := c.opts.Dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) run(conn *websocket.Conn) {
	for {
		err := c.readLoop(conn)
		c.failPending()
		select {
		case <-c.closed:
			_, _ = c.fire(TriggerClose)
			return
		default:
		}
		log.Warn().Err(err).Msg("hub connection lost, reconnecting")
		if _, ferr := c.fire(TriggerConnLost); ferr != nil {
			return
		}
		next, ok := c.reconnect()
		if !ok {
			return
		}
		conn = next
	}
}

// reconnect 按退避策略重拨，成功后为最后加入的房间重新发送 JoinRoom。
func (c *Client) reconnect() (*websocket.Conn, bool) {
	for attempt := 1; c.opts.MaxAttempts == 0 || attempt <= c.opts.MaxAttempts; attempt++ {
		select {
		case <-c.closed:
			_, _ = c.fire(TriggerClose)
			return nil, false
		case <-time.After(c.opts.Backoff.Delay(attempt)):
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		conn, err := c.dial(ctx)
		cancel()
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}
		c.attach(conn)
		if _, err := c.fire(TriggerDialOK); err != nil {
			_ = conn.Close()
			return nil, false
		}
		if room := c.LastRoom(); room != 0 {
			go c.rejoin(room)
		}
		return conn, true
	}
	_, _ = c.fire(TriggerGiveUp)
	return nil, false
}

func (c *Client) rejoin(roomID uint) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.JoinRoom(ctx, roomID); err != nil {
		log.Warn().Err(err).Uint("room_id", roomID).Msg("rejoin after reconnect failed")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var fr ws.Frame
		if err := json.Unmarshal(data, &fr); err != nil {
			log.Debug().Err(err).Msg("skip malformed frame")
			continue
		}
		switch fr.Type {
		case ws.FrameCompletion:
			c.complete(fr)
		case ws.FrameEvent:
			c.handleEvent(fr)
		}
	}
}

func (c *Client) complete(fr ws.Frame) {
	c.mu.Lock()
	ch, ok := c.pending[fr.InvocationID]
	delete(c.pending, fr.InvocationID)
	c.mu.Unlock()
	if ok {
		ch <- fr
	}
}

func (c *Client) handleEvent(fr ws.Frame) {
	switch {
	case isNotification(fr.Event):
		c.notifications.Add(fr)
	case fr.Event == "UserTyping":
		var e ws.UserTyping
		if json.Unmarshal(fr.Data, &e) == nil {
			c.indicators.Show(e.RoomID, e.UserID)
		}
	case fr.Event == "UserStoppedTyping":
		var e ws.UserStoppedTyping
		if json.Unmarshal(fr.Data, &e) == nil {
			c.indicators.Hide(e.RoomID, e.UserID)
		}
	}
	if c.opts.OnEvent != nil {
		c.opts.OnEvent(fr)
	}
}

func (c *Client) failPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan ws.Frame)
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) write(inv ws.Invocation) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != Connected || conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(inv)
}

// Invoke 发送调用并等待 completion。
func (c *Client) Invoke(ctx context.Context, target string, args interface{}) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.seq++
	id := strconv.FormatUint(c.seq, 10)
	ch := make(chan ws.Frame, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(ws.Invocation{InvocationID: id, Target: target, Arguments: raw}); err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, err
	}
	select {
	case fr, ok := <-ch:
		if !ok {
			return nil, ErrConnectionLost
		}
		if fr.Error != "" {
			return nil, &InvocationError{Target: target, Message: fr.Error}
		}
		return fr.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrClosed
	}
}

// send 发送不需要 completion 的调用。
func (c *Client) send(target string, args interface{}) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return err
	}
	return c.write(ws.Invocation{Target: target, Arguments: raw})
}

func (c *Client) JoinRoom(ctx context.Context, roomID uint) error {
	if _, err := c.Invoke(ctx, ws.TargetJoinRoom, ws.RoomArgs{RoomID: roomID}); err != nil {
		return err
	}
	c.mu.Lock()
	c.lastRoom = roomID
	c.mu.Unlock()
	return nil
}

func (c *Client) LeaveRoom(ctx context.Context, roomID uint) error {
	if _, err := c.Invoke(ctx, ws.TargetLeaveRoom, ws.RoomArgs{RoomID: roomID}); err != nil {
		return err
	}
	c.mu.Lock()
	if c.lastRoom == roomID {
		c.lastRoom = 0
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) SendMessage(ctx context.Context, args ws.SendMessageArgs) (*service.MessageDTO, error) {
	c.typing.Stop(args.RoomID)
	raw, err := c.Invoke(ctx, ws.TargetSendMessage, args)
	if err != nil {
		return nil, err
	}
	var m service.MessageDTO
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) UpdateMessage(ctx context.Context, messageID uint, content string) (*service.MessageDTO, error) {
	raw, err := c.Invoke(ctx, ws.TargetUpdateMessage, ws.UpdateMessageArgs{MessageID: messageID, Content: content})
	if err != nil {
		return nil, err
	}
	var m service.MessageDTO
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) DeleteMessage(ctx context.Context, messageID uint) error {
	_, err := c.Invoke(ctx, ws.TargetDeleteMessage, ws.DeleteMessageArgs{MessageID: messageID})
	return err
}

func (c *Client) GetOnlineUsers(ctx context.Context, roomID uint) ([]ws.OnlineUser, error) {
	raw, err := c.Invoke(ctx, ws.TargetGetOnlineUsers, ws.RoomArgs{RoomID: roomID})
	if err != nil {
		return nil, err
	}
	var snapshot ws.OnlineUsers
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return nil, err
	}
	return snapshot.Users, nil
}

// Typing 在每次按键时调用。
func (c *Client) Typing(roomID uint) { c.typing.Keystroke(roomID) }

func (c *Client) StopTyping(roomID uint) { c.typing.Stop(roomID) }

func (c *Client) sendTyping(target string, roomID uint) {
	if err := c.send(target, ws.RoomArgs{RoomID: roomID}); err != nil {
		log.Debug().Err(err).Str("target", target).Msg("typing signal not sent")
	}
}

// Close 主动断开，不再重连；最近通知缓冲随之清空。
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.typing.Reset()
		c.notifications.Clear()
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			c.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			c.writeMu.Unlock()
			err = conn.Close()
		}
	})
	return err
}
