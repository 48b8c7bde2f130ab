// Package testutil 为各包测试提供内存 SQLite 数据库与种子数据。
package testutil

import (
	"fmt"
	"testing"

	"coursehub/internal/db"
	"coursehub/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// OpenDB 打开一个测试独占的内存数据库并完成迁移。
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	gdb, err := db.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return gdb
}

func CreateTeacher(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	return createUser(t, gdb, name, true, false)
}

func CreateStudent(t *testing.T, gdb *gorm.DB, name string) models.User {
	t.Helper()
	return createUser(t, gdb, name, false, true)
}

func createUser(t *testing.T, gdb *gorm.DB, name string, teach, study bool) models.User {
	t.Helper()
	u := models.User{DisplayName: name, Email: uuid.NewString() + "@example.test", CanTeach: teach, CanStudy: study}
	if err := gdb.Create(&u).Error; err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return u
}

// CreateCourse 创建一门启用中的课程，并像业务侧一样同步创建其聊天室。
func CreateCourse(t *testing.T, gdb *gorm.DB, teacher models.User, title string) (models.Course, models.ChatRoom) {
	t.Helper()
	c := models.Course{Title: title, TeacherID: teacher.ID, IsActive: true}
	if err := gdb.Create(&c).Error; err != nil {
		t.Fatalf("create course %s: %v", title, err)
	}
	r := models.ChatRoom{CourseID: c.ID, Name: title, IsActive: true}
	if err := gdb.Create(&r).Error; err != nil {
		t.Fatalf("create chat room %s: %v", title, err)
	}
	return c, r
}

func Enroll(t *testing.T, gdb *gorm.DB, student models.User, course models.Course, status models.EnrollmentStatus) models.Enrollment {
	t.Helper()
	e := models.Enrollment{StudentID: student.ID, CourseID: course.ID, Status: status}
	if err := gdb.Create(&e).Error; err != nil {
		t.Fatalf("enroll %d in %d: %v", student.ID, course.ID, err)
	}
	return e
}

// SetEnrollmentStatus 模拟老师在外部系统中变更选课状态（例如移除学生）。
func SetEnrollmentStatus(t *testing.T, gdb *gorm.DB, e models.Enrollment, status models.EnrollmentStatus) {
	t.Helper()
	if err := gdb.Model(&e).Update("status", status).Error; err != nil {
		t.Fatalf("update enrollment: %v", err)
	}
}
