package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/parlorhq/parlor/internal/chat"
	"github.com/parlorhq/parlor/internal/common"
	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/internal/httpapi/handlers"
	"github.com/parlorhq/parlor/internal/httpapi/middleware"
	"github.com/parlorhq/parlor/internal/logger"
	"github.com/parlorhq/parlor/internal/service"
	"github.com/parlorhq/parlor/internal/store/redisstore"
	"github.com/parlorhq/parlor/internal/ws"
)

func NewRouter(store *chat.Store, cfg config.Config, rds *redisstore.Store, hub *ws.Hub, svc *service.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(store, cfg, rds)

	r.GET("/ping", h.Ping)
	r.GET("/images/:id", h.GetImage)
	r.GET("/ws", ws.Serve(hub, svc, logger.L))

	return r
}
