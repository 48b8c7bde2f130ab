package client

import (
	"sync"
	"time"
)

const (
	DefaultTypingIdle   = 3 * time.Second
	DefaultIndicatorTTL = 5 * time.Second
)

// TypingSender 管理本端的输入状态：首个按键发送 StartTyping，持续输入时按 idle/2 刷新，
// 静默 idle 之后自动发送 StopTyping。
type TypingSender struct {
	idle time.Duration
	send func(target string, roomID uint)

	mu    sync.Mutex
	rooms map[uint]*typingRoom
}

type typingRoom struct {
	timer    *time.Timer
	lastSent time.Time
}

func NewTypingSender(idle time.Duration, send func(target string, roomID uint)) *TypingSender {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	return &TypingSender{idle: idle, send: send, rooms: make(map[uint]*typingRoom)}
}

// Keystroke 记录一次输入。
func (t *TypingSender) Keystroke(roomID uint) {
	t.mu.Lock()
	r, ok := t.rooms[roomID]
	if !ok {
		r = &typingRoom{}
		t.rooms[roomID] = r
	} else {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(t.idle, func() { t.expire(roomID, r) })
	refresh := !ok || time.Since(r.lastSent) >= t.idle/2
	if refresh {
		r.lastSent = time.Now()
	}
	t.mu.Unlock()

	if refresh {
		t.send("StartTyping", roomID)
	}
}

// Stop 立即结束输入状态，例如消息已发送。
func (t *TypingSender) Stop(roomID uint) {
	t.mu.Lock()
	r, ok := t.rooms[roomID]
	if ok {
		r.timer.Stop()
		delete(t.rooms, roomID)
	}
	t.mu.Unlock()
	if ok {
		t.send("StopTyping", roomID)
	}
}

func (t *TypingSender) expire(roomID uint, r *typingRoom) {
	t.mu.Lock()
	if t.rooms[roomID] != r {
		t.mu.Unlock()
		return
	}
	delete(t.rooms, roomID)
	t.mu.Unlock()
	t.send("StopTyping", roomID)
}

// Reset 丢弃全部本地输入状态，不发送任何信号。
func (t *TypingSender) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, r := range t.rooms {
		r.timer.Stop()
		delete(t.rooms, id)
	}
}

// TypingIndicators 是接收端看到的“某人正在输入”。没有收到刷新或停止信号时到期自动消失，
// 覆盖对方异常断开、停止信号丢失的情况。
type TypingIndicators struct {
	ttl      time.Duration
	onChange func(roomID, userID uint, typing bool)

	mu     sync.Mutex
	active map[[2]uint]*time.Timer
}

func NewTypingIndicators(ttl time.Duration, onChange func(roomID, userID uint, typing bool)) *TypingIndicators {
	if ttl <= 0 {
		ttl = DefaultIndicatorTTL
	}
	return &TypingIndicators{ttl: ttl, onChange: onChange, active: make(map[[2]uint]*time.Timer)}
}

func (ti *TypingIndicators) Show(roomID, userID uint) {
	key := [2]uint{roomID, userID}
	ti.mu.Lock()
	old, existed := ti.active[key]
	if existed {
		old.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(ti.ttl, func() {
		ti.mu.Lock()
		if ti.active[key] != timer {
			ti.mu.Unlock()
			return
		}
		delete(ti.active, key)
		ti.mu.Unlock()
		ti.changed(roomID, userID, false)
	})
	ti.active[key] = timer
	ti.mu.Unlock()
	if !existed {
		ti.changed(roomID, userID, true)
	}
}

func (ti *TypingIndicators) Hide(roomID, userID uint) {
	key := [2]uint{roomID, userID}
	ti.mu.Lock()
	timer, ok := ti.active[key]
	if ok {
		timer.Stop()
		delete(ti.active, key)
	}
	ti.mu.Unlock()
	if ok {
		ti.changed(roomID, userID, false)
	}
}

// Typing 返回房间内正在输入的用户。
func (ti *TypingIndicators) Typing(roomID uint) []uint {
	ti.mu.Lock()
	defer ti.mu.Unlock()
	var out []uint
	for key := range ti.active {
		if key[0] == roomID {
			out = append(out, key[1])
		}
	}
	return out
}

func (ti *TypingIndicators) changed(roomID, userID uint, typing bool) {
	if ti.onChange != nil {
		ti.onChange(roomID, userID, typing)
	}
}
