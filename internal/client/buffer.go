package client

import (
	"sync"

	"coursehub/internal/ws"
)

const DefaultNotificationBuffer = 50

// NotificationBuffer 只保留最近 N 条通知，断线或重新加载后丢弃，服务端没有通知收件箱。
type NotificationBuffer struct {
	mu    sync.Mutex
	items []ws.Frame
	next  int
	full  bool
}

func NewNotificationBuffer(size int) *NotificationBuffer {
	if size <= 0 {
		size = DefaultNotificationBuffer
	}
	return &NotificationBuffer{items: make([]ws.Frame, size)}
}

func (b *NotificationBuffer) Add(f ws.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = f
	b.next = (b.next + 1) % len(b.items)
	if b.next == 0 {
		b.full = true
	}
}

// Recent 返回按时间倒序（最新在前）的通知。
func (b *NotificationBuffer) Recent() []ws.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.next
	if b.full {
		n = len(b.items)
	}
	out := make([]ws.Frame, 0, n)
	for i := 1; i <= n; i++ {
		idx := (b.next - i + len(b.items)) % len(b.items)
		out = append(out, b.items[idx])
	}
	return out
}

func (b *NotificationBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.items {
		b.items[i] = ws.Frame{}
	}
	b.next, b.full = 0, false
}

func isNotification(event string) bool {
	switch event {
	case "MaterialPublished", "TestPublished", "TestGraded":
		return true
	}
	return false
}
