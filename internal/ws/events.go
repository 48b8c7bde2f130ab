package ws

import (
	"encoding/json"
	"time"

	"coursehub/internal/service"
)

// Event 是服务端推送事件的封闭集合，每个事件名对应一个具体类型。
type Event interface {
	EventName() string
	event()
}

type ReceiveMessage struct {
	service.MessageDTO
}

type MessageUpdated struct {
	service.MessageDTO
}

type MessageDeleted struct {
	MessageID uint `json:"messageId"`
	RoomID    uint `json:"roomId"`
}

type UserTyping struct {
	RoomID   uint   `json:"roomId"`
	UserID   uint   `json:"userId"`
	UserName string `json:"userName"`
}

type UserStoppedTyping struct {
	RoomID uint `json:"roomId"`
	UserID uint `json:"userId"`
}

type OnlineUser struct {
	UserID      uint   `json:"userId"`
	DisplayName string `json:"displayName"`
	Initials    string `json:"initials"`
	IsTeacher   bool   `json:"isTeacher"`
}

type OnlineUsers struct {
	RoomID uint         `json:"roomId"`
	Users  []OnlineUser `json:"users"`
}

type UserJoined struct {
	RoomID   uint   `json:"roomId"`
	UserID   uint   `json:"userId"`
	UserName string `json:"userName"`
}

type UserLeft struct {
	RoomID   uint   `json:"roomId"`
	UserID   uint   `json:"userId"`
	UserName string `json:"userName"`
}

// Error 只发给触发错误的连接，不会广播。
type Error struct {
	Target  string `json:"target,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type MaterialPublished struct {
	CourseID     uint      `json:"courseId"`
	CourseTitle  string    `json:"courseTitle"`
	MaterialID   uint      `json:"materialId"`
	Title        string    `json:"title"`
	Type         string    `json:"type"`
	UploaderName string    `json:"uploaderName"`
	PublishedAt  time.Time `json:"publishedAt"`
}

type TestPublished struct {
	CourseID    uint       `json:"courseId"`
	CourseTitle string     `json:"courseTitle"`
	TestID      uint       `json:"testId"`
	Title       string     `json:"title"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	PublishedAt time.Time  `json:"publishedAt"`
}

// TestGraded 只投递到学生个人的连接，成绩不在课程频道公开。
type TestGraded struct {
	StudentID  uint      `json:"studentId"`
	TestID     uint      `json:"testId"`
	TestTitle  string    `json:"testTitle"`
	AttemptID  uint      `json:"attemptId"`
	Score      *float64  `json:"score,omitempty"`
	MaxScore   *float64  `json:"maxScore,omitempty"`
	Percentage *float64  `json:"percentage,omitempty"`
	Passed     *bool     `json:"passed,omitempty"`
	GradedAt   time.Time `json:"gradedAt"`
}

func (ReceiveMessage) EventName() string    { return "ReceiveMessage" }
func (MessageUpdated) EventName() string    { return "MessageUpdated" }
func (MessageDeleted) EventName() string    { return "MessageDeleted" }
func (UserTyping) EventName() string        { return "UserTyping" }
func (UserStoppedTyping) EventName() string { return "UserStoppedTyping" }
func (OnlineUsers) EventName() string       { return "OnlineUsers" }
func (UserJoined) EventName() string        { return "UserJoined" }
func (UserLeft) EventName() string          { return "UserLeft" }
func (Error) EventName() string             { return "Error" }
func (MaterialPublished) EventName() string { return "MaterialPublished" }
func (TestPublished) EventName() string     { return "TestPublished" }
func (TestGraded) EventName() string        { return "TestGraded" }

func (ReceiveMessage) event()    {}
func (MessageUpdated) event()    {}
func (MessageDeleted) event()    {}
func (UserTyping) event()        {}
func (UserStoppedTyping) event() {}
func (OnlineUsers) event()       {}
func (UserJoined) event()        {}
func (UserLeft) event()          {}
func (Error) event()             {}
func (MaterialPublished) event() {}
func (TestPublished) event()     {}
func (TestGraded) event()        {}

const (
	FrameEvent      = "event"
	FrameCompletion = "completion"
)

type eventFrame struct {
	Type  string `json:"type"`
	Event string `json:"event"`
	Data  Event  `json:"data"`
}

type completionFrame struct {
	Type         string      `json:"type"`
	InvocationID string      `json:"invocationId"`
	Result       interface{} `json:"result,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// EncodeEvent 把事件序列化为推送帧。
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(eventFrame{Type: FrameEvent, Event: e.EventName(), Data: e})
}

func encodeCompletion(invocationID string, result interface{}, errMsg string) ([]byte, error) {
	return json.Marshal(completionFrame{Type: FrameCompletion, InvocationID: invocationID, Result: result, Error: errMsg})
}

// Frame 是客户端解码服务端帧时使用的通用结构。
type Frame struct {
	Type         string          `json:"type"`
	Event        string          `json:"event,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	InvocationID string          `json:"invocationId,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
}
