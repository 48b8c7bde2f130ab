package client

import "fmt"

// State 是客户端连接的状态。
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Trigger 是驱动状态迁移的事件。
type Trigger int

const (
	TriggerDial Trigger = iota
	TriggerDialOK
	TriggerDialFailed
	TriggerConnLost
	TriggerGiveUp
	TriggerClose
)

func (t Trigger) String() string {
	return [...]string{"Dial", "DialOK", "DialFailed", "ConnLost", "GiveUp", "Close"}[t]
}

// transitions 是完整的迁移表，表外的组合都是非法迁移。
// 进入 Connected 时如果之前处于 Reconnecting，客户端会为最后加入的房间重新发送 JoinRoom。
var transitions = map[State]map[Trigger]State{
	Disconnected: {
		TriggerDial: Connecting,
	},
	Connecting: {
		TriggerDialOK:     Connected,
		TriggerDialFailed: Disconnected,
		TriggerClose:      Disconnected,
	},
	Connected: {
		TriggerConnLost: Reconnecting,
		TriggerClose:    Disconnected,
	},
	Reconnecting: {
		TriggerDialOK: Connected,
		TriggerGiveUp: Disconnected,
		TriggerClose:  Disconnected,
	},
}

// Next 返回迁移后的状态。
func Next(from State, t Trigger) (State, error) {
	to, ok := transitions[from][t]
	if !ok {
		return from, fmt.Errorf("client: invalid transition %s --%s-->", from, t)
	}
	return to, nil
}
