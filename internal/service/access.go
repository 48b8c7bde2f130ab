package service

import (
	"context"

	"coursehub/internal/models"
	"coursehub/internal/store"
)

// Grant 描述用户对某门课程的访问能力，每次调用都从存储重新计算，不跨请求缓存。
type Grant struct {
	CourseID   uint
	IsTeacher  bool
	IsEnrollee bool
}

func (g Grant) CanRead() bool     { return g.IsTeacher || g.IsEnrollee }
func (g Grant) CanWrite() bool    { return g.IsTeacher || g.IsEnrollee }
func (g Grant) CanModerate() bool { return g.IsTeacher }

// CourseMembers 是课程的授课老师与已批准的学生。
type CourseMembers struct {
	Teacher  models.User
	Students []models.User
}

// AccessPolicy 根据授课关系与已批准的选课记录判定房间访问权限。
type AccessPolicy struct {
	store store.Store
}

func NewAccessPolicy(s store.Store) *AccessPolicy {
	return &AccessPolicy{store: s}
}

// AuthorizedCourses 返回用户任教或已获批选修的全部启用课程，按 id 去重。
func (p *AccessPolicy) AuthorizedCourses(ctx context.Context, userID uint) ([]models.Course, error) {
	taught, err := p.store.CoursesTaughtBy(ctx, userID)
	if err != nil {
		return nil, err
	}
	enrolled, err := p.store.ApprovedCourses(ctx, userID)
	if err != nil {
		return nil, err
	}
	seen := make(map[uint]struct{}, len(taught)+len(enrolled))
	out := make([]models.Course, 0, len(taught)+len(enrolled))
	for _, c := range append(taught, enrolled...) {
		if _, ok := seen[c.ID]; ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out, nil
}

func (p *AccessPolicy) CourseGrant(ctx context.Context, userID, courseID uint) (Grant, error) {
	course, err := p.store.GetCourse(ctx, courseID)
	if err != nil {
		return Grant{}, notFound(err)
	}
	return p.grantFor(ctx, userID, course)
}

// RoomGrant 校验聊天室存在且启用，再按所属课程计算访问能力。
// 聊天室一旦读到就随错误一起返回，调用方据此清理该课程的订阅。
func (p *AccessPolicy) RoomGrant(ctx context.Context, userID, roomID uint) (Grant, *models.ChatRoom, error) {
	room, err := p.store.GetChatRoom(ctx, roomID)
	if err != nil {
		return Grant{}, nil, notFound(err)
	}
	if !room.IsActive {
		return Grant{}, room, ErrNotFound
	}
	course, err := p.store.GetCourse(ctx, room.CourseID)
	if err != nil {
		return Grant{}, room, notFound(err)
	}
	g, err := p.grantFor(ctx, userID, course)
	if err != nil {
		return Grant{}, room, err
	}
	return g, room, nil
}

func (p *AccessPolicy) grantFor(ctx context.Context, userID uint, course *models.Course) (Grant, error) {
	if !course.IsActive {
		return Grant{}, ErrAccessDenied
	}
	if course.TeacherID == userID {
		return Grant{CourseID: course.ID, IsTeacher: true}, nil
	}
	ok, err := p.store.IsApprovedEnrollee(ctx, userID, course.ID)
	if err != nil {
		return Grant{}, err
	}
	if !ok {
		return Grant{}, ErrAccessDenied
	}
	return Grant{CourseID: course.ID, IsEnrollee: true}, nil
}

func (p *AccessPolicy) CourseMembers(ctx context.Context, courseID uint) (CourseMembers, error) {
	course, err := p.store.GetCourse(ctx, courseID)
	if err != nil {
		return CourseMembers{}, notFound(err)
	}
	teacher, err := p.store.GetUser(ctx, course.TeacherID)
	if err != nil {
		return CourseMembers{}, notFound(err)
	}
	students, err := p.store.ApprovedStudents(ctx, courseID)
	if err != nil {
		return CourseMembers{}, err
	}
	return CourseMembers{Teacher: *teacher, Students: students}, nil
}

// RoomMembers 返回聊天室所属课程的老师与已批准学生，用于计算在线快照。
func (p *AccessPolicy) RoomMembers(ctx context.Context, roomID uint) (*models.ChatRoom, CourseMembers, error) {
	room, err := p.store.GetChatRoom(ctx, roomID)
	if err != nil {
		return nil, CourseMembers{}, notFound(err)
	}
	m, err := p.CourseMembers(ctx, room.CourseID)
	if err != nil {
		return nil, CourseMembers{}, err
	}
	return room, m, nil
}
