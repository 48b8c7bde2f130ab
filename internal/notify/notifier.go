// Package notify 负责服务端主动发起的通知扇出：课程资料发布、测验发布与成绩发布。
package notify

import (
	"context"
	"time"

	"coursehub/internal/metrics"
	"coursehub/internal/models"
	"coursehub/internal/ws"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

// Publisher 由 ws.Hub 实现。
type Publisher interface {
	PublishToCourse(courseID uint, e ws.Event) int
	PublishToUser(userID uint, e ws.Event) int
}

// CourseLookup 用于补全课程标题，store.Store 满足该接口。
type CourseLookup interface {
	GetCourse(ctx context.Context, id uint) (*models.Course, error)
}

type MaterialPublishedInput struct {
	CourseID     uint      `json:"courseId" validate:"required"`
	MaterialID   uint      `json:"materialId" validate:"required"`
	Title        string    `json:"title" validate:"required"`
	Type         string    `json:"type"`
	UploaderName string    `json:"uploaderName"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type TestPublishedInput struct {
	CourseID    uint       `json:"courseId" validate:"required"`
	TestID      uint       `json:"testId" validate:"required"`
	Title       string     `json:"title" validate:"required"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
}

type TestGradedInput struct {
	StudentID  uint     `json:"studentId" validate:"required"`
	TestID     uint     `json:"testId" validate:"required"`
	TestTitle  string   `json:"testTitle" validate:"required"`
	AttemptID  uint     `json:"attemptId" validate:"required"`
	Score      *float64 `json:"score,omitempty"`
	MaxScore   *float64 `json:"maxScore,omitempty" validate:"omitempty,gt=0"`
	Percentage *float64 `json:"percentage,omitempty" validate:"omitempty,gte=0,lte=100"`
	Passed     *bool    `json:"passed,omitempty"`
}

// Notifier 的投递是即发即弃的：调用方的领域写入必须已经提交，投递失败或无人在线都不会回滚或重试。
// 返回值只用于日志与指标。
type Notifier struct {
	pub      Publisher
	courses  CourseLookup
	validate *validator.Validate
	now      func() time.Time
}

func NewNotifier(pub Publisher, courses CourseLookup) *Notifier {
	return &Notifier{pub: pub, courses: courses, validate: validator.New(), now: time.Now}
}

func (n *Notifier) NotifyMaterialPublished(ctx context.Context, in MaterialPublishedInput) (int, error) {
	if err := n.validate.Struct(in); err != nil {
		return 0, err
	}
	if in.PublishedAt.IsZero() {
		in.PublishedAt = n.now()
	}
	evt := ws.MaterialPublished{
		CourseID:     in.CourseID,
		CourseTitle:  n.courseTitle(ctx, in.CourseID),
		MaterialID:   in.MaterialID,
		Title:        in.Title,
		Type:         in.Type,
		UploaderName: in.UploaderName,
		PublishedAt:  in.PublishedAt,
	}
	return n.record(evt, n.pub.PublishToCourse(in.CourseID, evt)), nil
}

func (n *Notifier) NotifyTestPublished(ctx context.Context, in TestPublishedInput) (int, error) {
	if err := n.validate.Struct(in); err != nil {
		return 0, err
	}
	if in.PublishedAt.IsZero() {
		in.PublishedAt = n.now()
	}
	evt := ws.TestPublished{
		CourseID:    in.CourseID,
		CourseTitle: n.courseTitle(ctx, in.CourseID),
		TestID:      in.TestID,
		Title:       in.Title,
		DueDate:     in.DueDate,
		PublishedAt: in.PublishedAt,
	}
	return n.record(evt, n.pub.PublishToCourse(in.CourseID, evt)), nil
}

// NotifyTestGraded 只投递到学生本人的连接。
func (n *Notifier) NotifyTestGraded(ctx context.Context, in TestGradedInput) (int, error) {
	if err := n.validate.Struct(in); err != nil {
		return 0, err
	}
	pct := in.Percentage
	if pct == nil && in.Score != nil && in.MaxScore != nil && *in.MaxScore > 0 {
		v := *in.Score / *in.MaxScore * 100
		pct = &v
	}
	evt := ws.TestGraded{
		StudentID:  in.StudentID,
		TestID:     in.TestID,
		TestTitle:  in.TestTitle,
		AttemptID:  in.AttemptID,
		Score:      in.Score,
		MaxScore:   in.MaxScore,
		Percentage: pct,
		Passed:     in.Passed,
		GradedAt:   n.now(),
	}
	return n.record(evt, n.pub.PublishToUser(in.StudentID, evt)), nil
}

func (n *Notifier) courseTitle(ctx context.Context, courseID uint) string {
	if n.courses == nil {
		return ""
	}
	c, err := n.courses.GetCourse(ctx, courseID)
	if err != nil {
		log.Warn().Err(err).Uint("course_id", courseID).Msg("notification without course title")
		return ""
	}
	return c.Title
}

func (n *Notifier) record(e ws.Event, delivered int) int {
	metrics.NotificationsTotal.WithLabelValues(e.EventName()).Inc()
	metrics.NotificationDeliveries.WithLabelValues(e.EventName()).Add(float64(delivered))
	log.Debug().Str("event", e.EventName()).Int("delivered", delivered).Msg("notification fanned out")
	return delivered
}
