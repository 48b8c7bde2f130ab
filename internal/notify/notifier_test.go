package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"coursehub/internal/auth"
	"coursehub/internal/models"
	"coursehub/internal/service"
	"coursehub/internal/store"
	"coursehub/internal/testutil"
	"coursehub/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	courseID uint
	userID   uint
	event    ws.Event
}

type recordingPublisher struct {
	calls []published
}

func (p *recordingPublisher) PublishToCourse(courseID uint, e ws.Event) int {
	p.calls = append(p.calls, published{courseID: courseID, event: e})
	return 3
}

func (p *recordingPublisher) PublishToUser(userID uint, e ws.Event) int {
	p.calls = append(p.calls, published{userID: userID, event: e})
	return 1
}

type courseTitles map[uint]string

func (c courseTitles) GetCourse(_ context.Context, id uint) (*models.Course, error) {
	title, ok := c[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &models.Course{ID: id, Title: title}, nil
}

func TestNotifier_MaterialPublished(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub, courseTitles{4: "Algebra"})
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	got, err := n.NotifyMaterialPublished(context.Background(), MaterialPublishedInput{
		CourseID: 4, MaterialID: 11, Title: "Week 1 slides", Type: "pdf", UploaderName: "Tina Teacher", PublishedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, got)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, uint(4), pub.calls[0].courseID)
	assert.Equal(t, ws.MaterialPublished{
		CourseID: 4, CourseTitle: "Algebra", MaterialID: 11, Title: "Week 1 slides", Type: "pdf", UploaderName: "Tina Teacher", PublishedAt: at,
	}, pub.calls[0].event)
}

func TestNotifier_TestPublishedWithoutTitleLookup(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub, courseTitles{})
	fixed := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	_, err := n.NotifyTestPublished(context.Background(), TestPublishedInput{CourseID: 9, TestID: 5, Title: "Quiz 1"})
	require.NoError(t, err)
	evt := pub.calls[0].event.(ws.TestPublished)
	assert.Empty(t, evt.CourseTitle, "lookup failure does not block the notification")
	assert.Equal(t, fixed, evt.PublishedAt)
	assert.Nil(t, evt.DueDate)
}

func TestNotifier_TestGradedIsPersonal(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub, nil)
	score, maxScore := 18.0, 20.0
	passed := true

	_, err := n.NotifyTestGraded(context.Background(), TestGradedInput{
		StudentID: 7, TestID: 5, TestTitle: "Quiz 1", AttemptID: 3, Score: &score, MaxScore: &maxScore, Passed: &passed,
	})
	require.NoError(t, err)
	require.Len(t, pub.calls, 1)
	assert.Equal(t, uint(7), pub.calls[0].userID)
	assert.Zero(t, pub.calls[0].courseID, "grades never go to a course channel")
	evt := pub.calls[0].event.(ws.TestGraded)
	require.NotNil(t, evt.Percentage)
	assert.InDelta(t, 90.0, *evt.Percentage, 1e-9)
}

func TestNotifier_RejectsIncompleteInput(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewNotifier(pub, nil)
	tests := []struct {
		name string
		call func() error
	}{
		{"material without course", func() error {
			_, err := n.NotifyMaterialPublished(context.Background(), MaterialPublishedInput{MaterialID: 1, Title: "x"})
			return err
		}},
		{"test without title", func() error {
			_, err := n.NotifyTestPublished(context.Background(), TestPublishedInput{CourseID: 1, TestID: 1})
			return err
		}},
		{"grade with zero max score", func() error {
			zero := 0.0
			_, err := n.NotifyTestGraded(context.Background(), TestGradedInput{StudentID: 1, TestID: 1, TestTitle: "q", AttemptID: 1, MaxScore: &zero})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.call())
		})
	}
	assert.Empty(t, pub.calls)
}

func TestNotifier_OnlyCourseSubscribersReceive(t *testing.T) {
	gdb := testutil.OpenDB(t)
	s := store.NewGormStore(gdb)
	policy := service.NewAccessPolicy(s)
	hub := ws.NewHub(policy, service.NewRoomService(s, policy), service.NewMessageService(s, policy), ws.Options{})
	t.Cleanup(hub.Close)

	teacher := testutil.CreateTeacher(t, gdb, "Tina Teacher")
	algebra, _ := testutil.CreateCourse(t, gdb, teacher, "Algebra")
	geometry, _ := testutil.CreateCourse(t, gdb, teacher, "Geometry")
	inC := testutil.CreateStudent(t, gdb, "Ann In")
	elsewhere := testutil.CreateStudent(t, gdb, "Ed Elsewhere")
	testutil.Enroll(t, gdb, inC, algebra, models.EnrollmentApproved)
	testutil.Enroll(t, gdb, elsewhere, geometry, models.EnrollmentApproved)

	for _, u := range []models.User{inC, elsewhere} {
		hub.Connect(context.Background(), ws.NewClient(hub, auth.Identity{UserID: u.ID, DisplayName: u.DisplayName, CanStudy: true}, nil))
	}

	n := NewNotifier(hub, s)
	delivered, err := n.NotifyTestPublished(context.Background(), TestPublishedInput{CourseID: algebra.ID, TestID: 99, Title: "Midterm"})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)

	delivered, err = n.NotifyTestGraded(context.Background(), TestGradedInput{StudentID: elsewhere.ID, TestID: 7, TestTitle: "Proofs", AttemptID: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, delivered)
}

func TestBridge_Dispatch(t *testing.T) {
	pub := &recordingPublisher{}
	b := NewBridge(nil, "", NewNotifier(pub, nil))
	assert.Equal(t, DefaultChannel, b.channel)

	env := func(kind string, payload interface{}) []byte {
		body, err := json.Marshal(payload)
		require.NoError(t, err)
		out, err := json.Marshal(Envelope{Kind: kind, Payload: body})
		require.NoError(t, err)
		return out
	}

	_, err := b.Dispatch(context.Background(), env(KindMaterialPublished, MaterialPublishedInput{CourseID: 1, MaterialID: 2, Title: "Notes"}))
	require.NoError(t, err)
	_, err = b.Dispatch(context.Background(), env(KindTestPublished, TestPublishedInput{CourseID: 1, TestID: 3, Title: "Quiz"}))
	require.NoError(t, err)
	n, err := b.Dispatch(context.Background(), env(KindTestGraded, TestGradedInput{StudentID: 8, TestID: 3, TestTitle: "Quiz", AttemptID: 4}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, pub.calls, 3)
	assert.Equal(t, "MaterialPublished", pub.calls[0].event.EventName())
	assert.Equal(t, "TestPublished", pub.calls[1].event.EventName())
	assert.Equal(t, uint(8), pub.calls[2].userID)

	_, err = b.Dispatch(context.Background(), []byte(`not json`))
	assert.Error(t, err)
	_, err = b.Dispatch(context.Background(), env("course_archived", map[string]int{"courseId": 1}))
	assert.ErrorContains(t, err, "unknown notification kind")
	_, err = b.Dispatch(context.Background(), []byte(`{"kind":"test_graded","payload":"oops"}`))
	assert.Error(t, err)
	assert.Len(t, pub.calls, 3)
}
