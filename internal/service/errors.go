package service

import (
	"errors"

	"coursehub/internal/store"
)

// 业务层通用错误，handler 与 hub 根据错误类型映射到 HTTP 状态码或 Error 事件。
var (
	ErrAccessDenied     = errors.New("access denied")
	ErrValidation       = errors.New("validation failed")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = store.ErrUnavailable
)

// notFound 把存储层的 ErrNotFound 翻译为业务层错误，其余错误原样返回。
func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
