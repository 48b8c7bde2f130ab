package server

import (
	"errors"
	"net/http"
	"strconv"

	"coursehub/internal/auth"
	"coursehub/internal/service"
	"coursehub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合 REST handler，实时路径之外只提供首屏加载与历史分页。
type Handler struct {
	rooms    *service.RoomService
	messages *service.MessageService
	hub      *ws.Hub
}

func NewHandler(rooms *service.RoomService, messages *service.MessageService, hub *ws.Hub) *Handler {
	return &Handler{rooms: rooms, messages: messages, hub: hub}
}

// ListRooms 返回调用者有权访问的聊天室。
func (h *Handler) ListRooms(c *gin.Context) {
	rooms, err := h.rooms.ListForUser(c.Request.Context(), auth.GetUserID(c), h.hub)
	if err != nil {
		writeError(c, err, "list rooms")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

type pageQuery struct {
	PageSize        int  `form:"pageSize"`
	BeforeMessageID uint `form:"beforeMessageId"`
}

// ListMessages 按 id 游标向前分页，返回 {messages, hasMore}。
func (h *Handler) ListMessages(c *gin.Context) {
	roomID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || roomID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	var q pageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid paging parameters"})
		return
	}
	page, err := h.messages.FetchPage(c.Request.Context(), auth.GetUserID(c), uint(roomID), q.PageSize, q.BeforeMessageID)
	if err != nil {
		writeError(c, err, "list messages")
		return
	}
	c.JSON(http.StatusOK, page)
}

// writeError 把业务错误映射为 HTTP 状态码，存储故障与未知错误不向客户端暴露细节。
func writeError(c *gin.Context, err error, op string) {
	switch {
	case errors.Is(err, service.ErrAccessDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrStoreUnavailable):
		log.Warn().Err(err).Str("op", op).Msg("store unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
