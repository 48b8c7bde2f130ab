package ws

import (
	"fmt"
	"sync"
)

// RoomKey 是逻辑广播组的标识：聊天室、课程通知频道或个人频道。
type RoomKey string

func ChatRoomKey(roomID uint) RoomKey { return RoomKey(fmt.Sprintf("chat:%d", roomID)) }
func CourseKey(courseID uint) RoomKey { return RoomKey(fmt.Sprintf("course:%d", courseID)) }
func PersonalKey(userID uint) RoomKey { return RoomKey(fmt.Sprintf("user:%d", userID)) }

// Membership 记录连接订阅了哪些房间。成员关系不落库，每次连接或显式加入时按访问策略重建。
type Membership struct {
	mu     sync.RWMutex
	rooms  map[RoomKey]map[*Client]struct{}
	byConn map[*Client]map[RoomKey]struct{}
}

func NewMembership() *Membership {
	return &Membership{
		rooms:  make(map[RoomKey]map[*Client]struct{}),
		byConn: make(map[*Client]map[RoomKey]struct{}),
	}
}

// Join 返回连接是否为新加入。已经 RemoveConn 的连接不会被重新加入，
// 这样在断开之后才执行完的 JoinRoom 不会留下悬挂成员。
func (m *Membership) Join(key RoomKey, c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.departed {
		return false
	}
	members, ok := m.rooms[key]
	if !ok {
		members = make(map[*Client]struct{})
		m.rooms[key] = members
	}
	if _, ok := members[c]; ok {
		return false
	}
	members[c] = struct{}{}
	joined, ok := m.byConn[c]
	if !ok {
		joined = make(map[RoomKey]struct{})
		m.byConn[c] = joined
	}
	joined[key] = struct{}{}
	return true
}

// Leave 返回连接此前是否在房间内。
func (m *Membership) Leave(key RoomKey, c *Client) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaveLocked(key, c)
}

func (m *Membership) leaveLocked(key RoomKey, c *Client) bool {
	members, ok := m.rooms[key]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(m.rooms, key)
	}
	if joined, ok := m.byConn[c]; ok {
		delete(joined, key)
		if len(joined) == 0 {
			delete(m.byConn, c)
		}
	}
	return true
}

// RemoveConn 把连接从所有房间移除并标记为已离开，返回它之前所在的房间。
func (m *Membership) RemoveConn(c *Client) []RoomKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.departed = true
	joined := m.byConn[c]
	out := make([]RoomKey, 0, len(joined))
	for key := range joined {
		out = append(out, key)
	}
	for _, key := range out {
		m.leaveLocked(key, c)
	}
	return out
}

// Members 返回房间成员的副本。
func (m *Membership) Members(key RoomKey) []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[key]
	out := make([]*Client, 0, len(members))
	for c := range members {
		out = append(out, c)
	}
	return out
}

func (m *Membership) IsMember(key RoomKey, c *Client) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rooms[key][c]
	return ok
}

// UserInRoom 判断用户是否还有任一连接留在房间内。
func (m *Membership) UserInRoom(key RoomKey, userID uint) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.rooms[key] {
		if c.UserID == userID {
			return true
		}
	}
	return false
}

func (m *Membership) RoomsOf(c *Client) []RoomKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RoomKey, 0, len(m.byConn[c]))
	for key := range m.byConn[c] {
		out = append(out, key)
	}
	return out
}

func (m *Membership) Size(key RoomKey) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[key])
}
