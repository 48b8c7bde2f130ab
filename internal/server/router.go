package server

import (
	"net/http"
	"time"

	"coursehub/internal/auth"
	"coursehub/internal/config"
	"coursehub/internal/metrics"
	"coursehub/internal/mw"
	"coursehub/internal/service"
	"coursehub/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Services 是路由依赖的业务组件。
type Services struct {
	Users    *service.UserService
	Rooms    *service.RoomService
	Messages *service.MessageService
	Hub      *ws.Hub
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及实时 hub 端点。
// 返回的 stop 用于停服时结束限速器的回收协程。
func SetupRouter(cfg config.Config, s Services) (*gin.Engine, func()) {
	limiter := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	// 控制单个 IP+路由的速率。
	r.Use(limiter.Middleware())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := NewHandler(s.Rooms, s.Messages, s.Hub)
	authed := r.Group("/api/v1")
	authed.Use(auth.AuthMiddleware(cfg.JWTSecret, s.Users))
	authed.GET("/rooms", h.ListRooms)
	authed.GET("/rooms/:id/messages", h.ListMessages)

	r.GET("/hub", ws.Serve(s.Hub, cfg.JWTSecret, s.Users))
	return r, limiter.Stop
}
