package ws

import "encoding/json"

// 客户端可调用的方法名。
const (
	TargetJoinRoom       = "JoinRoom"
	TargetLeaveRoom      = "LeaveRoom"
	TargetSendMessage    = "SendMessage"
	TargetUpdateMessage  = "UpdateMessage"
	TargetDeleteMessage  = "DeleteMessage"
	TargetStartTyping    = "StartTyping"
	TargetStopTyping     = "StopTyping"
	TargetGetOnlineUsers = "GetOnlineUsers"
)

// Invocation 是客户端发来的一次方法调用；InvocationID 为空时服务端不回 completion。
type Invocation struct {
	InvocationID string          `json:"invocationId,omitempty"`
	Target       string          `json:"target"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
}

type RoomArgs struct {
	RoomID uint `json:"roomId"`
}

type SendMessageArgs struct {
	RoomID    uint   `json:"roomId"`
	Content   string `json:"content"`
	ReplyToID *uint  `json:"replyToId,omitempty"`
}

type UpdateMessageArgs struct {
	MessageID uint   `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageArgs struct {
	MessageID uint `json:"messageId"`
}
