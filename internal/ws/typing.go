package ws

import (
	"sync"
	"time"
)

const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	roomID uint
	userID uint
}

type typingEntry struct {
	timer *time.Timer
	gen   uint64
}

// TypingTracker 保存 (房间, 用户) 的输入状态。每次 Touch 重置到期计时器，到期后回调 onExpire，
// 客户端异常断开没有发送 StopTyping 时由服务端补发停止事件。
type TypingTracker struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[typingKey]*typingEntry
	gen      uint64
	sealed   bool
	onExpire func(roomID, userID uint)
}

func NewTypingTracker(ttl time.Duration, onExpire func(roomID, userID uint)) *TypingTracker {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingTracker{ttl: ttl, entries: make(map[typingKey]*typingEntry), onExpire: onExpire}
}

// Touch 开始或刷新输入状态，返回是否为新开始的输入。
func (t *TypingTracker) Touch(roomID, userID uint) bool {
	key := typingKey{roomID: roomID, userID: userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sealed {
		return false
	}
	e, existed := t.entries[key]
	if existed {
		e.timer.Stop()
	} else {
		e = &typingEntry{}
		t.entries[key] = e
	}
	t.gen++
	gen := t.gen
	e.gen = gen
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(key, gen) })
	return !existed
}

// Stop 清除输入状态，返回此前是否处于输入中。
func (t *TypingTracker) Stop(roomID, userID uint) bool {
	key := typingKey{roomID: roomID, userID: userID}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(t.entries, key)
	return true
}

func (t *TypingTracker) IsTyping(roomID, userID uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{roomID: roomID, userID: userID}]
	return ok
}

// expire 只处理仍是当前代的计时器，被 Touch 或 Stop 取代的回调直接丢弃。
func (t *TypingTracker) expire(key typingKey, gen uint64) {
	t.mu.Lock()
	e, ok := t.entries[key]
	if !ok || e.gen != gen || t.sealed {
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()
	if t.onExpire != nil {
		t.onExpire(key.roomID, key.userID)
	}
}

// Close 停止所有计时器，之后的 Touch 不再生效。
func (t *TypingTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sealed = true
	for key, e := range t.entries {
		e.timer.Stop()
		delete(t.entries, key)
	}
}
