package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"coursehub/internal/metrics"
	"coursehub/internal/models"
	"coursehub/internal/store"

	"github.com/go-playground/validator/v10"
)

const (
	MaxContentRunes = 4000
	DefaultPageSize = 50
	MaxPageSize     = 100
	// Tombstone 替换被删除消息的正文，删除后不可恢复也不可再编辑。
	Tombstone = "This message was deleted"

	replyPreviewRunes = 100
)

// MessageDTO 是对外输出的消息数据，发送者与被回复消息均已反范式化，客户端无需再查询。
type MessageDTO struct {
	ID               uint          `json:"id"`
	RoomID           uint          `json:"roomId"`
	SenderID         uint          `json:"senderId"`
	SenderName       string        `json:"senderName"`
	SenderInitials   string        `json:"senderInitials"`
	Content          string        `json:"content"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	IsEdited         bool          `json:"isEdited"`
	IsDeleted        bool          `json:"isDeleted"`
	ReplyToMessageID *uint         `json:"replyToMessageId,omitempty"`
	ReplyTo          *ReplyPreview `json:"replyTo,omitempty"`
	IsOwnMessage     bool          `json:"isOwnMessage"`
}

// For 按接收者计算 isOwnMessage。
func (m MessageDTO) For(userID uint) MessageDTO {
	m.IsOwnMessage = m.SenderID == userID
	return m
}

type ReplyPreview struct {
	ID         uint   `json:"id"`
	SenderID   uint   `json:"senderId"`
	SenderName string `json:"senderName"`
	Content    string `json:"content"`
	IsDeleted  bool   `json:"isDeleted"`
}

// Deletion 是删除广播的全部内容，不携带正文。
type Deletion struct {
	MessageID uint `json:"messageId"`
	RoomID    uint `json:"roomId"`
}

type Page struct {
	Messages []MessageDTO `json:"messages"`
	HasMore  bool         `json:"hasMore"`
}

type SendInput struct {
	RoomID    uint   `json:"roomId" validate:"required"`
	Content   string `json:"content" validate:"notblank,max=4000"`
	ReplyToID *uint  `json:"replyToId,omitempty" validate:"omitempty,gt=0"`
}

type EditInput struct {
	MessageID uint   `json:"messageId" validate:"required"`
	Content   string `json:"content" validate:"notblank,max=4000"`
}

// MessageService 实现消息流水线：校验、持久化、扇出、编辑、软删除与游标分页。
type MessageService struct {
	store    store.Store
	policy   *AccessPolicy
	validate *validator.Validate
	seq      *sequencer
}

func NewMessageService(s store.Store, policy *AccessPolicy) *MessageService {
	return &MessageService{store: s, policy: policy, validate: newValidator(), seq: newSequencer()}
}

// Send 校验并写入一条消息；deliver 在房间顺序锁内、提交成功之后调用，保证广播顺序与 id 顺序一致。
func (s *MessageService) Send(ctx context.Context, userID uint, in SendInput, deliver func(MessageDTO)) (*MessageDTO, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	g, room, err := s.policy.RoomGrant(ctx, userID, in.RoomID)
	if err != nil {
		return nil, err
	}
	if !g.CanWrite() {
		return nil, ErrAccessDenied
	}
	sender, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err)
	}

	unlock := s.seq.lock(room.ID)
	defer unlock()
	// 被回复消息在锁内读取，Delete 持有同一把锁，两者不会交错
	var preview *ReplyPreview
	if in.ReplyToID != nil {
		if preview, err = s.replyPreview(ctx, room.ID, *in.ReplyToID); err != nil {
			return nil, err
		}
	}
	msg := models.ChatMessage{RoomID: room.ID, SenderID: userID, Content: in.Content, ReplyToMessageID: in.ReplyToID}
	if err := s.store.InsertMessage(ctx, &msg); err != nil {
		return nil, err
	}
	dto := toDTO(msg, *sender, preview).For(userID)
	metrics.ChatMessagesTotal.WithLabelValues("send").Inc()
	if deliver != nil {
		deliver(dto)
	}
	return &dto, nil
}

// replyPreview 要求被回复消息存在、属于同一房间且未被删除。
func (s *MessageService) replyPreview(ctx context.Context, roomID, parentID uint) (*ReplyPreview, error) {
	parent, err := s.store.GetMessage(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: reply target does not exist", ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if parent.RoomID != roomID || parent.IsDeleted {
		return nil, fmt.Errorf("%w: reply target does not exist", ErrValidation)
	}
	author, err := s.store.GetUser(ctx, parent.SenderID)
	if err != nil {
		return nil, notFound(err)
	}
	return newReplyPreview(*parent, *author), nil
}

// Edit 仅允许原发送者编辑未删除的消息。
func (s *MessageService) Edit(ctx context.Context, userID uint, in EditInput, deliver func(MessageDTO)) (*MessageDTO, error) {
	if err := s.check(in); err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, notFound(err)
	}
	if msg.SenderID != userID {
		return nil, ErrAccessDenied
	}
	g, _, err := s.policy.RoomGrant(ctx, userID, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if !g.CanWrite() {
		return nil, ErrAccessDenied
	}

	unlock := s.seq.lock(msg.RoomID)
	defer unlock()
	// 重新读取，避免与同房间的并发删除交错。
	msg, err = s.store.GetMessage(ctx, in.MessageID)
	if err != nil {
		return nil, notFound(err)
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("%w: message was deleted", ErrNotFound)
	}
	msg.Content = in.Content
	msg.IsEdited = true
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	dtos, err := s.present(ctx, []models.ChatMessage{*msg}, userID)
	if err != nil {
		return nil, err
	}
	dto := dtos[0]
	metrics.ChatMessagesTotal.WithLabelValues("edit").Inc()
	if deliver != nil {
		deliver(dto)
	}
	return &dto, nil
}

// Delete 允许发送者或课程老师软删除消息：正文在服务端替换为墓碑，行本身保留以维持回复链。
func (s *MessageService) Delete(ctx context.Context, userID, messageID uint, deliver func(Deletion)) (*Deletion, error) {
	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err)
	}
	g, _, err := s.policy.RoomGrant(ctx, userID, msg.RoomID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != userID && !g.CanModerate() {
		return nil, ErrAccessDenied
	}

	unlock := s.seq.lock(msg.RoomID)
	defer unlock()
	msg, err = s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err)
	}
	if msg.IsDeleted {
		return nil, fmt.Errorf("%w: message was already deleted", ErrNotFound)
	}
	msg.IsDeleted = true
	msg.Content = Tombstone
	if err := s.store.UpdateMessage(ctx, msg); err != nil {
		return nil, err
	}
	d := Deletion{MessageID: msg.ID, RoomID: msg.RoomID}
	metrics.ChatMessagesTotal.WithLabelValues("delete").Inc()
	if deliver != nil {
		deliver(d)
	}
	return &d, nil
}

// FetchPage 返回严格早于 beforeID 的一页消息（旧在前），按 id 游标分页，不受并发写入影响。
func (s *MessageService) FetchPage(ctx context.Context, userID, roomID uint, pageSize int, beforeID uint) (*Page, error) {
	g, _, err := s.policy.RoomGrant(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if !g.CanRead() {
		return nil, ErrAccessDenied
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	msgs, err := s.store.MessagesBefore(ctx, roomID, beforeID, pageSize+1)
	if err != nil {
		return nil, err
	}
	hasMore := len(msgs) > pageSize
	if hasMore {
		msgs = msgs[:pageSize]
	}
	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	dtos, err := s.present(ctx, msgs, userID)
	if err != nil {
		return nil, err
	}
	return &Page{Messages: dtos, HasMore: hasMore}, nil
}

// present 批量获取发送者与被回复消息，组装对 viewer 可见的 DTO。
func (s *MessageService) present(ctx context.Context, msgs []models.ChatMessage, viewer uint) ([]MessageDTO, error) {
	var parentIDs []uint
	for _, m := range msgs {
		if m.ReplyToMessageID != nil {
			parentIDs = append(parentIDs, *m.ReplyToMessageID)
		}
	}
	parents, err := s.store.GetMessages(ctx, parentIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	addUser := func(id uint) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		userIDs = append(userIDs, id)
	}
	for _, m := range msgs {
		addUser(m.SenderID)
	}
	for _, p := range parents {
		addUser(p.SenderID)
	}
	users, err := s.store.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		var preview *ReplyPreview
		if m.ReplyToMessageID != nil {
			if p, ok := parents[*m.ReplyToMessageID]; ok {
				preview = newReplyPreview(p, users[p.SenderID])
			}
		}
		out = append(out, toDTO(m, users[m.SenderID], preview).For(viewer))
	}
	return out, nil
}

func toDTO(m models.ChatMessage, sender models.User, reply *ReplyPreview) MessageDTO {
	content := m.Content
	if m.IsDeleted {
		content = Tombstone
	}
	return MessageDTO{
		ID:               m.ID,
		RoomID:           m.RoomID,
		SenderID:         m.SenderID,
		SenderName:       sender.DisplayName,
		SenderInitials:   Initials(sender.DisplayName),
		Content:          content,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		IsEdited:         m.IsEdited,
		IsDeleted:        m.IsDeleted,
		ReplyToMessageID: m.ReplyToMessageID,
		ReplyTo:          reply,
	}
}

func newReplyPreview(p models.ChatMessage, author models.User) *ReplyPreview {
	content := p.Content
	if p.IsDeleted {
		content = Tombstone
	} else if utf8.RuneCountInString(content) > replyPreviewRunes {
		content = string([]rune(content)[:replyPreviewRunes]) + "…"
	}
	return &ReplyPreview{ID: p.ID, SenderID: p.SenderID, SenderName: author.DisplayName, Content: content, IsDeleted: p.IsDeleted}
}

// check 运行结构体校验并把第一条字段错误转换为 ErrValidation。
func (s *MessageService) check(v interface{}) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fes validator.ValidationErrors
	if !errors.As(err, &fes) || len(fes) == 0 {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fe := fes[0]
	switch fe.Tag() {
	case "notblank":
		return fmt.Errorf("%w: %s must not be blank", ErrValidation, fe.Field())
	case "max":
		return fmt.Errorf("%w: %s must be at most %s characters", ErrValidation, fe.Field(), fe.Param())
	case "required", "gt":
		return fmt.Errorf("%w: %s is required", ErrValidation, fe.Field())
	}
	return fmt.Errorf("%w: %s is invalid", ErrValidation, fe.Field())
}

func newValidator() *validator.Validate {
	v := validator.New()
	// 错误信息中使用 JSON 字段名而不是 Go 结构体字段名。
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// sequencer 为每个房间提供一把顺序锁，只串行化同房间的“持久化 + 扇出”，不同房间互不影响。
type sequencer struct {
	mu    sync.Mutex
	rooms map[uint]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{rooms: make(map[uint]*roomLock)}
}

func (s *sequencer) lock(roomID uint) func() {
	s.mu.Lock()
	rl, ok := s.rooms[roomID]
	if !ok {
		rl = &roomLock{}
		s.rooms[roomID] = rl
	}
	rl.refs++
	s.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		s.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(s.rooms, roomID)
		}
		s.mu.Unlock()
	}
}
