package store

import (
	"context"

	"coursehub/internal/models"

	"github.com/pkg/errors"
)

// 存储层错误：ErrNotFound 表示记录不存在，ErrUnavailable 包装所有底层故障。
var (
	ErrNotFound    = errors.New("store: record not found")
	ErrUnavailable = errors.New("store: unavailable")
)

// Store 是实时子系统对持久化层的全部依赖，课程、选课等 CRUD 由外部系统负责。
type Store interface {
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetUsers(ctx context.Context, ids []uint) (map[uint]models.User, error)

	GetCourse(ctx context.Context, id uint) (*models.Course, error)
	CoursesTaughtBy(ctx context.Context, teacherID uint) ([]models.Course, error)
	ApprovedCourses(ctx context.Context, studentID uint) ([]models.Course, error)
	IsApprovedEnrollee(ctx context.Context, studentID, courseID uint) (bool, error)
	ApprovedStudents(ctx context.Context, courseID uint) ([]models.User, error)

	GetChatRoom(ctx context.Context, id uint) (*models.ChatRoom, error)
	ChatRoomForCourse(ctx context.Context, courseID uint) (*models.ChatRoom, error)
	EnsureChatRoom(ctx context.Context, course models.Course) (*models.ChatRoom, error)

	GetMessage(ctx context.Context, id uint) (*models.ChatMessage, error)
	GetMessages(ctx context.Context, ids []uint) (map[uint]models.ChatMessage, error)
	InsertMessage(ctx context.Context, msg *models.ChatMessage) error
	UpdateMessage(ctx context.Context, msg *models.ChatMessage) error
	MessagesBefore(ctx context.Context, roomID, beforeID uint, limit int) ([]models.ChatMessage, error)
}
