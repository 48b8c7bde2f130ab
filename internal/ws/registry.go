package ws

import "sync"

// Registry 维护用户到其全部在线连接的索引。一个用户可以同时持有多个连接（多标签页/多设备）。
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]map[*Client]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint]map[*Client]struct{})}
}

// Register 记录连接，返回该连接是否是用户的第一个连接。
func (r *Registry) Register(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.conns[c.UserID] = set
	}
	set[c] = struct{}{}
	return !ok
}

// Unregister 移除连接；集合为空时删除整个用户条目，IsOnline 因此只需判断 key 是否存在。
// removed 表示连接此前确实已登记，last 表示这是用户的最后一个连接。
func (r *Registry) Unregister(c *Client) (removed, last bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.UserID]
	if !ok {
		return false, false
	}
	if _, ok := set[c]; !ok {
		return false, false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.UserID)
		return true, true
	}
	return true, false
}

func (r *Registry) IsOnline(userID uint) bool {
	r.mu.RLock()
	_, ok := r.conns[userID]
	r.mu.RUnlock()
	return ok
}

// ConnectionsFor 返回用户全部连接的快照，调用方可以在锁外发送。
func (r *Registry) ConnectionsFor(userID uint) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[userID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// OnlineUsers 返回至少有一个连接的用户数。
func (r *Registry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) all() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Client
	for _, set := range r.conns {
		for c := range set {
			out = append(out, c)
		}
	}
	return out
}
