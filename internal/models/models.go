package models

import "time"

type User struct {
	ID          uint   `gorm:"primaryKey"`
	DisplayName string `gorm:"size:128;not null"`
	Email       string `gorm:"uniqueIndex;size:255;not null"`
	CanTeach    bool   `gorm:"not null"`
	CanStudy    bool   `gorm:"not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Course struct {
	ID        uint   `gorm:"primaryKey"`
	Title     string `gorm:"size:255;not null"`
	TeacherID uint   `gorm:"index;not null"`
	IsActive  bool   `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EnrollmentStatus 对应选课审批流程的三个状态，只有 Approved 会授予课程访问权限。
type EnrollmentStatus string

const (
	EnrollmentPending  EnrollmentStatus = "pending"
	EnrollmentApproved EnrollmentStatus = "approved"
	EnrollmentRejected EnrollmentStatus = "rejected"
)

type Enrollment struct {
	ID        uint             `gorm:"primaryKey"`
	StudentID uint             `gorm:"uniqueIndex:idx_enrollment_student_course;not null"`
	CourseID  uint             `gorm:"uniqueIndex:idx_enrollment_student_course;index;not null"`
	Status    EnrollmentStatus `gorm:"size:16;index;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatRoom 与课程一一对应，LastMessage* 字段是每次发送成功后刷新的摘要。
type ChatRoom struct {
	ID                 uint   `gorm:"primaryKey"`
	CourseID           uint   `gorm:"uniqueIndex;not null"`
	Name               string `gorm:"size:255;not null"`
	IsActive           bool   `gorm:"not null"`
	LastMessageID      *uint
	LastMessageAt      *time.Time
	LastMessagePreview string `gorm:"size:255"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ChatMessage struct {
	ID               uint   `gorm:"primaryKey"`
	RoomID           uint   `gorm:"index:idx_chat_msg_room_id;not null"`
	SenderID         uint   `gorm:"index;not null"`
	Content          string `gorm:"type:text;not null"`
	IsEdited         bool   `gorm:"not null"`
	IsDeleted        bool   `gorm:"not null"`
	ReplyToMessageID *uint  `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
