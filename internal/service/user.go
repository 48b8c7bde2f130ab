package service

import (
	"context"
	"strings"
	"unicode"

	"coursehub/internal/auth"
	"coursehub/internal/store"
)

// UserService 负责把 token 中的用户 id 解析为身份与展示信息。
type UserService struct {
	store store.Store
}

func NewUserService(s store.Store) *UserService {
	return &UserService{store: s}
}

// Resolve 实现 auth.Resolver。
func (s *UserService) Resolve(ctx context.Context, userID uint) (auth.Identity, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return auth.Identity{}, notFound(err)
	}
	return auth.Identity{UserID: u.ID, DisplayName: u.DisplayName, CanTeach: u.CanTeach, CanStudy: u.CanStudy}, nil
}

// Initials 取展示名前两个单词的首字母，例如 "Ada Lovelace" -> "AL"。
func Initials(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 {
		return "?"
	}
	var b strings.Builder
	for i, f := range fields {
		if i == 2 {
			break
		}
		r := []rune(f)
		b.WriteRune(unicode.ToUpper(r[0]))
	}
	return b.String()
}
