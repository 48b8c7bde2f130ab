package store

import (
	"context"
	"unicode/utf8"

	"coursehub/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const previewRunes = 120

// GormStore 基于 gorm 实现 Store，Postgres 与 SQLite 共用同一套查询。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// wrap 把 gorm 错误映射为存储层错误，保留原始错误信息便于日志排查。
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return errors.Wrapf(ErrUnavailable, "%s: %v", op, err)
}

func (s *GormStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, wrap("get user", err)
	}
	return &u, nil
}

func (s *GormStore) GetUsers(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	out := make(map[uint]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, wrap("get users", err)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (s *GormStore) GetCourse(ctx context.Context, id uint) (*models.Course, error) {
	var c models.Course
	if err := s.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, wrap("get course", err)
	}
	return &c, nil
}

func (s *GormStore) CoursesTaughtBy(ctx context.Context, teacherID uint) ([]models.Course, error) {
	var courses []models.Course
	err := s.db.WithContext(ctx).
		Where("teacher_id = ? AND is_active = ?", teacherID, true).
		Order("id").Find(&courses).Error
	if err != nil {
		return nil, wrap("courses taught by", err)
	}
	return courses, nil
}

func (s *GormStore) ApprovedCourses(ctx context.Context, studentID uint) ([]models.Course, error) {
	var courses []models.Course
	err := s.db.WithContext(ctx).
		Joins("JOIN enrollments ON enrollments.course_id = courses.id").
		Where("enrollments.student_id = ? AND enrollments.status = ? AND courses.is_active = ?", studentID, models.EnrollmentApproved, true).
		Order("courses.id").Find(&courses).Error
	if err != nil {
		return nil, wrap("approved courses", err)
	}
	return courses, nil
}

func (s *GormStore) IsApprovedEnrollee(ctx context.Context, studentID, courseID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("student_id = ? AND course_id = ? AND status = ?", studentID, courseID, models.EnrollmentApproved).
		Count(&count).Error
	if err != nil {
		return false, wrap("is approved enrollee", err)
	}
	return count > 0, nil
}

func (s *GormStore) ApprovedStudents(ctx context.Context, courseID uint) ([]models.User, error) {
	var users []models.User
	err := s.db.WithContext(ctx).
		Joins("JOIN enrollments ON enrollments.student_id = users.id").
		Where("enrollments.course_id = ? AND enrollments.status = ?", courseID, models.EnrollmentApproved).
		Order("users.id").Find(&users).Error
	if err != nil {
		return nil, wrap("approved students", err)
	}
	return users, nil
}

func (s *GormStore) GetChatRoom(ctx context.Context, id uint) (*models.ChatRoom, error) {
	var r models.ChatRoom
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, wrap("get chat room", err)
	}
	return &r, nil
}

func (s *GormStore) ChatRoomForCourse(ctx context.Context, courseID uint) (*models.ChatRoom, error) {
	var r models.ChatRoom
	if err := s.db.WithContext(ctx).Where("course_id = ?", courseID).First(&r).Error; err != nil {
		return nil, wrap("chat room for course", err)
	}
	return &r, nil
}

// EnsureChatRoom 按课程懒创建聊天室，并发创建时依赖 course_id 唯一索引去重。
func (s *GormStore) EnsureChatRoom(ctx context.Context, course models.Course) (*models.ChatRoom, error) {
	room := models.ChatRoom{CourseID: course.ID, Name: course.Title, IsActive: true}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "course_id"}}, DoNothing: true}).
		Create(&room).Error
	if err != nil {
		return nil, wrap("ensure chat room", err)
	}
	return s.ChatRoomForCourse(ctx, course.ID)
}

func (s *GormStore) GetMessage(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var m models.ChatMessage
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return nil, wrap("get message", err)
	}
	return &m, nil
}

func (s *GormStore) GetMessages(ctx context.Context, ids []uint) (map[uint]models.ChatMessage, error) {
	out := make(map[uint]models.ChatMessage, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var msgs []models.ChatMessage
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&msgs).Error; err != nil {
		return nil, wrap("get messages", err)
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// InsertMessage 在同一事务内写入消息并刷新聊天室的最后一条消息摘要。
func (s *GormStore) InsertMessage(ctx context.Context, msg *models.ChatMessage) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&models.ChatRoom{}).Where("id = ?", msg.RoomID).Updates(map[string]interface{}{
			"last_message_id":      msg.ID,
			"last_message_at":      msg.CreatedAt,
			"last_message_preview": truncate(msg.Content, previewRunes),
		}).Error
	})
	return wrap("insert message", err)
}

func (s *GormStore) UpdateMessage(ctx context.Context, msg *models.ChatMessage) error {
	err := s.db.WithContext(ctx).Model(msg).Select("content", "is_edited", "is_deleted", "updated_at").Updates(msg).Error
	return wrap("update message", err)
}

// MessagesBefore 以 id 为游标倒序取消息；beforeID 为 0 表示从最新一条开始。
func (s *GormStore) MessagesBefore(ctx context.Context, roomID, beforeID uint, limit int) ([]models.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", roomID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.ChatMessage
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, wrap("messages before", err)
	}
	return msgs, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
