package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"coursehub/internal/models"
	"coursehub/internal/testutil"
)

func TestGormStore_AccessQueries(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()

	teacher := testutil.CreateTeacher(t, gdb, "Ada Teacher")
	alice := testutil.CreateStudent(t, gdb, "Alice")
	bob := testutil.CreateStudent(t, gdb, "Bob")
	math, _ := testutil.CreateCourse(t, gdb, teacher, "Math")
	art, _ := testutil.CreateCourse(t, gdb, teacher, "Art")
	testutil.Enroll(t, gdb, alice, math, models.EnrollmentApproved)
	testutil.Enroll(t, gdb, alice, art, models.EnrollmentPending)
	testutil.Enroll(t, gdb, bob, art, models.EnrollmentApproved)

	taught, err := s.CoursesTaughtBy(ctx, teacher.ID)
	if err != nil {
		t.Fatalf("CoursesTaughtBy() error = %v", err)
	}
	if len(taught) != 2 {
		t.Errorf("CoursesTaughtBy() len = %d, want 2", len(taught))
	}

	approved, err := s.ApprovedCourses(ctx, alice.ID)
	if err != nil {
		t.Fatalf("ApprovedCourses() error = %v", err)
	}
	if len(approved) != 1 || approved[0].ID != math.ID {
		t.Errorf("ApprovedCourses() = %+v, want only Math", approved)
	}

	ok, err := s.IsApprovedEnrollee(ctx, alice.ID, art.ID)
	if err != nil || ok {
		t.Errorf("IsApprovedEnrollee(pending) = %v, %v; want false, nil", ok, err)
	}

	students, err := s.ApprovedStudents(ctx, art.ID)
	if err != nil {
		t.Fatalf("ApprovedStudents() error = %v", err)
	}
	if len(students) != 1 || students[0].ID != bob.ID {
		t.Errorf("ApprovedStudents() = %+v, want only Bob", students)
	}
}

func TestGormStore_InactiveCourseExcluded(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	teacher := testutil.CreateTeacher(t, gdb, "T")
	c, _ := testutil.CreateCourse(t, gdb, teacher, "Old")
	if err := gdb.Model(&c).Update("is_active", false).Error; err != nil {
		t.Fatal(err)
	}
	taught, err := s.CoursesTaughtBy(context.Background(), teacher.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(taught) != 0 {
		t.Errorf("CoursesTaughtBy() returned inactive course: %+v", taught)
	}
}

func TestGormStore_EnsureChatRoomIdempotent(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	teacher := testutil.CreateTeacher(t, gdb, "T")
	c := models.Course{Title: "Physics", TeacherID: teacher.ID, IsActive: true}
	if err := gdb.Create(&c).Error; err != nil {
		t.Fatal(err)
	}

	first, err := s.EnsureChatRoom(ctx, c)
	if err != nil {
		t.Fatalf("EnsureChatRoom() error = %v", err)
	}
	second, err := s.EnsureChatRoom(ctx, c)
	if err != nil {
		t.Fatalf("EnsureChatRoom() second error = %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("EnsureChatRoom() created two rooms: %d and %d", first.ID, second.ID)
	}
	if first.Name != "Physics" || !first.IsActive {
		t.Errorf("EnsureChatRoom() = %+v", first)
	}
}

func TestGormStore_InsertAndPage(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	ctx := context.Background()
	teacher := testutil.CreateTeacher(t, gdb, "T")
	_, room := testutil.CreateCourse(t, gdb, teacher, "Math")

	var ids []uint
	for i := 0; i < 5; i++ {
		m := models.ChatMessage{RoomID: room.ID, SenderID: teacher.ID, Content: fmt.Sprintf("m%d", i)}
		if err := s.InsertMessage(ctx, &m); err != nil {
			t.Fatalf("InsertMessage() error = %v", err)
		}
		if len(ids) > 0 && m.ID <= ids[len(ids)-1] {
			t.Fatalf("ids not increasing: %v then %d", ids, m.ID)
		}
		ids = append(ids, m.ID)
	}

	r, err := s.GetChatRoom(ctx, room.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.LastMessageID == nil || *r.LastMessageID != ids[4] || r.LastMessagePreview != "m4" {
		t.Errorf("room summary = %+v, want last message %d", r, ids[4])
	}

	page, err := s.MessagesBefore(ctx, room.ID, ids[3], 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Errorf("MessagesBefore() = %+v, want ids %d,%d", page, ids[2], ids[1])
	}
}

func TestGormStore_NotFound(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	_, err := s.GetMessage(context.Background(), 9999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMessage() error = %v, want ErrNotFound", err)
	}
}

func TestGormStore_UnavailableWrapsCause(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := NewGormStore(gdb)
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	_ = sqlDB.Close()

	_, err = s.GetUser(context.Background(), 1)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("GetUser() on closed db error = %v, want ErrUnavailable", err)
	}
	if err.Error() == ErrUnavailable.Error() {
		t.Errorf("error lost its cause: %v", err)
	}
}
