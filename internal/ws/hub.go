package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"coursehub/internal/metrics"
	"coursehub/internal/models"
	"coursehub/internal/service"

	"github.com/rs/zerolog/log"
)

var (
	errUnknownTarget = errors.New("unknown target")
	errRateLimited   = errors.New("too many requests")
)

type Options struct {
	// Workers 限制同时执行的调用数，所有连接共享。
	Workers        int
	HandlerTimeout time.Duration
	TypingTTL      time.Duration
}

// Hub 是实时层的入口：连接登记、房间成员、消息流水线与输入状态都经由它协调。
// Registry 与 Membership 的锁只保护 map 更新，发送总在锁外进行。
type Hub struct {
	registry *Registry
	members  *Membership
	typing   *TypingTracker

	policy   *service.AccessPolicy
	rooms    *service.RoomService
	messages *service.MessageService

	timeout time.Duration
	workers chan struct{}

	// closeMu 保证 Close 之后不再有 wg.Add
	closeMu sync.Mutex
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(policy *service.AccessPolicy, rooms *service.RoomService, messages *service.MessageService, opts Options) *Hub {
	if opts.Workers <= 0 {
		opts.Workers = 64
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	h := &Hub{
		registry: NewRegistry(),
		members:  NewMembership(),
		policy:   policy,
		rooms:    rooms,
		messages: messages,
		timeout:  opts.HandlerTimeout,
		workers:  make(chan struct{}, opts.Workers),
	}
	h.typing = NewTypingTracker(opts.TypingTTL, h.typingExpired)
	return h
}

func (h *Hub) Registry() *Registry { return h.registry }

// Connect 登记连接并自动加入用户有权访问的全部房间，返回加入的房间数。
func (h *Hub) Connect(ctx context.Context, c *Client) int {
	h.registry.Register(c)
	metrics.WsConnections.Inc()
	metrics.OnlineUsers.Set(float64(h.registry.OnlineUsers()))
	n := h.AutoJoin(ctx, c)
	log.Info().Str("conn", c.ID).Uint("user_id", c.UserID).Int("rooms", n).Msg("hub client connected")
	return n
}

// AutoJoin 按访问策略订阅每门课程的聊天室与通知频道以及个人频道。
// 存储不可用时连接保留但不加入任何房间。
func (h *Hub) AutoJoin(ctx context.Context, c *Client) int {
	var rooms []models.ChatRoom
	courses, err := h.policy.AuthorizedCourses(ctx, c.UserID)
	if err == nil {
		rooms, err = h.rooms.ChatRoomsFor(ctx, courses)
	}
	if err != nil {
		log.Warn().Err(err).Str("conn", c.ID).Uint("user_id", c.UserID).Msg("auto-join failed, connection kept without rooms")
		return 0
	}
	keys := make([]RoomKey, 0, 2*len(rooms)+1)
	for _, r := range rooms {
		keys = append(keys, ChatRoomKey(r.ID), CourseKey(r.CourseID))
	}
	keys = append(keys, PersonalKey(c.UserID))
	n := 0
	for _, k := range keys {
		if h.members.Join(k, c) {
			n++
		}
	}
	return n
}

// Disconnect 把连接移出所有房间，不逐个房间广播离开事件。可重复调用。
func (h *Hub) Disconnect(c *Client) {
	removed, _ := h.registry.Unregister(c)
	keys := h.members.RemoveConn(c)
	c.close()
	if !removed {
		return
	}
	metrics.WsConnections.Dec()
	metrics.OnlineUsers.Set(float64(h.registry.OnlineUsers()))
	for _, k := range keys {
		if roomID, ok := chatRoomID(k); ok {
			h.clearTyping(k, roomID, c.UserID)
		}
	}
	log.Info().Str("conn", c.ID).Uint("user_id", c.UserID).Msg("hub client disconnected")
}

// JoinRoom 同步重新校验权限。被拒绝时只给调用方返回错误，并移除可能残留的聊天室与课程频道成员关系。
func (h *Hub) JoinRoom(ctx context.Context, c *Client, roomID uint) error {
	key := ChatRoomKey(roomID)
	g, room, err := h.policy.RoomGrant(ctx, c.UserID, roomID)
	if err == nil && !g.CanRead() {
		err = service.ErrAccessDenied
	}
	if err != nil {
		if errors.Is(err, service.ErrAccessDenied) || errors.Is(err, service.ErrNotFound) {
			h.evict(c, roomID, room)
		}
		return err
	}
	h.members.Join(CourseKey(room.CourseID), c)
	if h.members.Join(key, c) {
		h.broadcast(key, UserJoined{RoomID: roomID, UserID: c.UserID, UserName: c.Name}, exceptConn(c))
	}
	return nil
}

// evict 移除被拒绝连接的聊天室成员关系；聊天室可查到时一并退出课程通知频道。
func (h *Hub) evict(c *Client, roomID uint, room *models.ChatRoom) {
	key := ChatRoomKey(roomID)
	if h.members.Leave(key, c) {
		h.clearTyping(key, roomID, c.UserID)
	}
	if room != nil {
		h.members.Leave(CourseKey(room.CourseID), c)
	}
}

func (h *Hub) LeaveRoom(c *Client, roomID uint) error {
	key := ChatRoomKey(roomID)
	if !h.members.Leave(key, c) {
		return nil
	}
	h.clearTyping(key, roomID, c.UserID)
	h.broadcast(key, UserLeft{RoomID: roomID, UserID: c.UserID, UserName: c.Name}, nil)
	return nil
}

func (h *Hub) SendMessage(ctx context.Context, c *Client, args SendMessageArgs) (*service.MessageDTO, error) {
	in := service.SendInput{RoomID: args.RoomID, Content: args.Content, ReplyToID: args.ReplyToID}
	dto, err := h.messages.Send(ctx, c.UserID, in, func(m service.MessageDTO) {
		h.fanout(ChatRoomKey(m.RoomID), func(to *Client) Event { return ReceiveMessage{m.For(to.UserID)} })
	})
	if err != nil {
		return nil, err
	}
	// 发出消息即结束输入状态
	if h.typing.Stop(dto.RoomID, c.UserID) {
		h.broadcast(ChatRoomKey(dto.RoomID), UserStoppedTyping{RoomID: dto.RoomID, UserID: c.UserID}, exceptUser(c.UserID))
	}
	return dto, nil
}

func (h *Hub) UpdateMessage(ctx context.Context, c *Client, args UpdateMessageArgs) (*service.MessageDTO, error) {
	in := service.EditInput{MessageID: args.MessageID, Content: args.Content}
	return h.messages.Edit(ctx, c.UserID, in, func(m service.MessageDTO) {
		h.fanout(ChatRoomKey(m.RoomID), func(to *Client) Event { return MessageUpdated{m.For(to.UserID)} })
	})
}

func (h *Hub) DeleteMessage(ctx context.Context, c *Client, args DeleteMessageArgs) (*service.Deletion, error) {
	return h.messages.Delete(ctx, c.UserID, args.MessageID, func(d service.Deletion) {
		h.broadcast(ChatRoomKey(d.RoomID), MessageDeleted{MessageID: d.MessageID, RoomID: d.RoomID}, nil)
	})
}

// StartTyping 转发给房间内的其他用户并刷新服务端到期计时器；调用方必须已在房间内。
func (h *Hub) StartTyping(c *Client, roomID uint) error {
	key := ChatRoomKey(roomID)
	if !h.members.IsMember(key, c) {
		return service.ErrAccessDenied
	}
	h.typing.Touch(roomID, c.UserID)
	h.broadcast(key, UserTyping{RoomID: roomID, UserID: c.UserID, UserName: c.Name}, exceptUser(c.UserID))
	return nil
}

func (h *Hub) StopTyping(c *Client, roomID uint) error {
	key := ChatRoomKey(roomID)
	if !h.members.IsMember(key, c) {
		return service.ErrAccessDenied
	}
	h.typing.Stop(roomID, c.UserID)
	h.broadcast(key, UserStoppedTyping{RoomID: roomID, UserID: c.UserID}, exceptUser(c.UserID))
	return nil
}

func (h *Hub) typingExpired(roomID, userID uint) {
	h.broadcast(ChatRoomKey(roomID), UserStoppedTyping{RoomID: roomID, UserID: userID}, exceptUser(userID))
}

// clearTyping 在用户最后一个连接离开房间时清除其输入状态并通知其他人。
func (h *Hub) clearTyping(key RoomKey, roomID, userID uint) {
	if h.members.UserInRoom(key, userID) {
		return
	}
	if h.typing.Stop(roomID, userID) {
		h.broadcast(key, UserStoppedTyping{RoomID: roomID, UserID: userID}, exceptUser(userID))
	}
}

// OnlineSnapshot 用课程成员（老师与已批准学生）与在线登记求交集，每次调用重新计算。
func (h *Hub) OnlineSnapshot(ctx context.Context, roomID uint) ([]OnlineUser, error) {
	_, m, err := h.policy.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	users := make([]OnlineUser, 0, len(m.Students)+1)
	if h.registry.IsOnline(m.Teacher.ID) {
		users = append(users, onlineUser(m.Teacher, true))
	}
	for _, s := range m.Students {
		if s.ID != m.Teacher.ID && h.registry.IsOnline(s.ID) {
			users = append(users, onlineUser(s, false))
		}
	}
	return users, nil
}

func onlineUser(u models.User, teacher bool) OnlineUser {
	return OnlineUser{UserID: u.ID, DisplayName: u.DisplayName, Initials: service.Initials(u.DisplayName), IsTeacher: teacher}
}

// GetOnlineUsers 校验读权限后把在线快照推送给调用方。
func (h *Hub) GetOnlineUsers(ctx context.Context, c *Client, roomID uint) (*OnlineUsers, error) {
	g, _, err := h.policy.RoomGrant(ctx, c.UserID, roomID)
	if err != nil {
		return nil, err
	}
	if !g.CanRead() {
		return nil, service.ErrAccessDenied
	}
	users, err := h.OnlineSnapshot(ctx, roomID)
	if err != nil {
		return nil, err
	}
	evt := OnlineUsers{RoomID: roomID, Users: users}
	h.deliver(c, evt)
	return &evt, nil
}

// PublishToCourse 推送到课程通知频道，返回投递到的连接数。
func (h *Hub) PublishToCourse(courseID uint, e Event) int {
	return h.broadcast(CourseKey(courseID), e, nil)
}

// PublishToUser 推送到用户的个人频道，即该用户完成自动加入的全部连接。
func (h *Hub) PublishToUser(userID uint, e Event) int {
	return h.broadcast(PersonalKey(userID), e, nil)
}

// Online 返回聊天室当前订阅的连接数，实现 service.OnlineCounter。
func (h *Hub) Online(roomID uint) int {
	return h.members.Size(ChatRoomKey(roomID))
}

// Close 停止输入计时器，关闭所有连接的发送队列并等待执行中的调用结束。
// 之后到达的调用直接丢弃。可重复调用。
func (h *Hub) Close() {
	h.closeMu.Lock()
	h.closed = true
	h.closeMu.Unlock()
	h.typing.Close()
	for _, c := range h.registry.all() {
		c.close()
	}
	h.wg.Wait()
}

type recipientFilter func(*Client) bool

func exceptConn(skip *Client) recipientFilter {
	return func(c *Client) bool { return c != skip }
}

func exceptUser(userID uint) recipientFilter {
	return func(c *Client) bool { return c.UserID != userID }
}

// broadcast 对成员快照编码一次并逐个入队。
func (h *Hub) broadcast(key RoomKey, e Event, filter recipientFilter) int {
	members := h.members.Members(key)
	if len(members) == 0 {
		return 0
	}
	b, err := EncodeEvent(e)
	if err != nil {
		log.Error().Err(err).Str("event", e.EventName()).Msg("encode event")
		return 0
	}
	n := 0
	for _, c := range members {
		if filter != nil && !filter(c) {
			continue
		}
		if h.sendRaw(c, b) {
			n++
		}
	}
	return n
}

// fanout 为每个接收者单独构造事件，用于 isOwnMessage 这类按接收者计算的字段。
func (h *Hub) fanout(key RoomKey, build func(*Client) Event) int {
	n := 0
	for _, c := range h.members.Members(key) {
		if h.deliver(c, build(c)) {
			n++
		}
	}
	return n
}

func (h *Hub) deliver(c *Client, e Event) bool {
	b, err := EncodeEvent(e)
	if err != nil {
		log.Error().Err(err).Str("event", e.EventName()).Msg("encode event")
		return false
	}
	return h.sendRaw(c, b)
}

// sendRaw 非阻塞入队；发送缓冲已满的慢消费者直接断开，由读循环完成清理。
func (h *Hub) sendRaw(c *Client, b []byte) bool {
	if c.trySend(b) {
		return true
	}
	if c.close() {
		metrics.SlowConsumersDropped.Inc()
		log.Warn().Str("conn", c.ID).Uint("user_id", c.UserID).Msg("dropping slow consumer")
	}
	return false
}

// Dispatch 在共享 worker 池上执行调用，池满时阻塞调用方（即该连接的读循环）。
func (h *Hub) Dispatch(c *Client, inv Invocation) {
	h.closeMu.Lock()
	if h.closed {
		h.closeMu.Unlock()
		return
	}
	h.wg.Add(1)
	h.closeMu.Unlock()
	h.workers <- struct{}{}
	go func() {
		defer func() {
			<-h.workers
			h.wg.Done()
		}()
		h.handle(c, inv)
	}()
}

// handle 是调用的错误边界：任何错误都只转换为发给调用方的 Error 事件，不会关闭连接。
// 上下文与连接解耦，连接断开不会取消进行中的写入。
func (h *Hub) handle(c *Client, inv Invocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.context()), h.timeout)
	defer cancel()

	var (
		result interface{}
		err    error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("target", inv.Target).Str("conn", c.ID).Msg("hub handler panic")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		result, err = h.invoke(ctx, c, inv)
	}()
	h.complete(c, inv, result, err)
}

func (h *Hub) complete(c *Client, inv Invocation, result interface{}, err error) {
	target := inv.Target
	if !knownTarget(target) {
		target = "unknown"
	}
	outcome := "ok"
	var errMsg string
	if err != nil {
		code, msg := classify(err)
		outcome, errMsg = code, msg
		h.deliver(c, Error{Target: inv.Target, Code: code, Message: msg})
		ev := log.Debug()
		if code == "store_unavailable" || code == "internal" {
			ev = log.Warn()
		}
		ev.Err(err).Str("target", inv.Target).Str("conn", c.ID).Uint("user_id", c.UserID).Msg("hub invocation failed")
	}
	metrics.HubInvocationsTotal.WithLabelValues(target, outcome).Inc()
	if inv.InvocationID == "" {
		return
	}
	if err != nil {
		result = nil
	}
	b, encErr := encodeCompletion(inv.InvocationID, result, errMsg)
	if encErr != nil {
		log.Error().Err(encErr).Str("target", inv.Target).Msg("encode completion")
		return
	}
	h.sendRaw(c, b)
}

func (h *Hub) invoke(ctx context.Context, c *Client, inv Invocation) (interface{}, error) {
	switch inv.Target {
	case TargetJoinRoom, TargetLeaveRoom, TargetStartTyping, TargetStopTyping, TargetGetOnlineUsers:
		var args RoomArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		if args.RoomID == 0 {
			return nil, fmt.Errorf("%w: roomId is required", service.ErrValidation)
		}
		switch inv.Target {
		case TargetJoinRoom:
			return nil, h.JoinRoom(ctx, c, args.RoomID)
		case TargetLeaveRoom:
			return nil, h.LeaveRoom(c, args.RoomID)
		case TargetStartTyping:
			return nil, h.StartTyping(c, args.RoomID)
		case TargetStopTyping:
			return nil, h.StopTyping(c, args.RoomID)
		default:
			return h.GetOnlineUsers(ctx, c, args.RoomID)
		}
	case TargetSendMessage:
		var args SendMessageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		return h.SendMessage(ctx, c, args)
	case TargetUpdateMessage:
		var args UpdateMessageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		return h.UpdateMessage(ctx, c, args)
	case TargetDeleteMessage:
		var args DeleteMessageArgs
		if err := decodeArgs(inv.Arguments, &args); err != nil {
			return nil, err
		}
		return h.DeleteMessage(ctx, c, args)
	}
	return nil, fmt.Errorf("%w: %q", errUnknownTarget, inv.Target)
}

func decodeArgs(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: arguments are required", service.ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: malformed arguments", service.ErrValidation)
	}
	return nil
}

func knownTarget(t string) bool {
	switch t {
	case TargetJoinRoom, TargetLeaveRoom, TargetSendMessage, TargetUpdateMessage, TargetDeleteMessage,
		TargetStartTyping, TargetStopTyping, TargetGetOnlineUsers:
		return true
	}
	return false
}

// classify 把错误映射为对外的错误码与消息；存储与内部错误不暴露细节。
func classify(err error) (code, msg string) {
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		return "access_denied", err.Error()
	case errors.Is(err, service.ErrValidation):
		return "validation_failed", err.Error()
	case errors.Is(err, service.ErrNotFound):
		return "not_found", err.Error()
	case errors.Is(err, service.ErrStoreUnavailable):
		return "store_unavailable", "service temporarily unavailable"
	case errors.Is(err, errUnknownTarget):
		return "unknown_target", err.Error()
	case errors.Is(err, errRateLimited):
		return "rate_limited", err.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout", "request timed out"
	}
	return "internal", "internal error"
}

func chatRoomID(k RoomKey) (uint, bool) {
	rest, ok := strings.CutPrefix(string(k), "chat:")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id), true
}
