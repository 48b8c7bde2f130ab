package service

import (
	"context"
	"time"

	"coursehub/internal/models"
	"coursehub/internal/store"
)

// RoomService 封装课程聊天室相关的业务逻辑。
type RoomService struct {
	store  store.Store
	policy *AccessPolicy
}

func NewRoomService(s store.Store, policy *AccessPolicy) *RoomService {
	return &RoomService{store: s, policy: policy}
}

// OnlineCounter 返回聊天室当前订阅的连接数，由 ws.Hub 实现。
type OnlineCounter interface {
	Online(roomID uint) int
}

// RoomDTO 是对外输出的房间数据。
type RoomDTO struct {
	ID                 uint       `json:"id"`
	CourseID           uint       `json:"courseId"`
	Name               string     `json:"name"`
	Online             int        `json:"online"`
	IsTeacher          bool       `json:"isTeacher"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
}

// ChatRoomsFor 返回每门课程对应的聊天室，不存在时按课程创建。
func (s *RoomService) ChatRoomsFor(ctx context.Context, courses []models.Course) ([]models.ChatRoom, error) {
	rooms := make([]models.ChatRoom, 0, len(courses))
	for _, c := range courses {
		r, err := s.store.EnsureChatRoom(ctx, c)
		if err != nil {
			return nil, err
		}
		if !r.IsActive {
			continue
		}
		rooms = append(rooms, *r)
	}
	return rooms, nil
}

// ListForUser 返回用户有权访问的聊天室，附带在线连接数与最后一条消息摘要。
func (s *RoomService) ListForUser(ctx context.Context, userID uint, online OnlineCounter) ([]RoomDTO, error) {
	courses, err := s.policy.AuthorizedCourses(ctx, userID)
	if err != nil {
		return nil, err
	}
	rooms, err := s.ChatRoomsFor(ctx, courses)
	if err != nil {
		return nil, err
	}
	teaching := make(map[uint]bool, len(courses))
	for _, c := range courses {
		teaching[c.ID] = c.TeacherID == userID
	}
	out := make([]RoomDTO, 0, len(rooms))
	for _, r := range rooms {
		dto := RoomDTO{
			ID:                 r.ID,
			CourseID:           r.CourseID,
			Name:               r.Name,
			IsTeacher:          teaching[r.CourseID],
			LastMessageAt:      r.LastMessageAt,
			LastMessagePreview: r.LastMessagePreview,
		}
		if online != nil {
			dto.Online = online.Online(r.ID)
		}
		out = append(out, dto)
	}
	return out, nil
}
