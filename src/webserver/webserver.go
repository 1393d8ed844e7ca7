package webserver

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/raidikalu/raidikalu/src/config"
	"github.com/raidikalu/raidikalu/src/messages"
	"github.com/raidikalu/raidikalu/src/raids"
)

func New(cfg config.Config, db *gorm.DB, rdb *redis.Client, svc *raids.Service, pub *messages.Publisher, hub *Hub) *gin.Engine {
	g := gin.New()
	g.Use(gin.Logger(), gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	g.Use(cors.New(corsCfg))

	attachRoutes(g, cfg, db, rdb, svc, pub, hub)
	return g
}

func attachRoutes(g *gin.Engine, cfg config.Config, db *gorm.DB, rdb *redis.Client, svc *raids.Service, pub *messages.Publisher, hub *Hub) {
	raidsH := NewRaids(db, rdb, svc, pub, cfg.BaseImageURL)
	receiver := NewReceiver(db, svc)

	g.GET("/raids", raidsH.List)
	g.POST("/raids", raidsH.Create)
	g.POST("/attendance", raidsH.SetAttendance)
	g.GET("/gyms/coordinates", receiver.GymCoordinates)

	api := g.Group("/api/:api_key", sourceAuth(db))
	api.POST("/raids", receiver.ReceiveRaid)
	api.GET("/raids/export", receiver.Export)
	api.POST("/gyms", receiver.ReceiveGym)
	api.GET("/gyms/uuids", receiver.GymUUIDs)

	if hub != nil {
		g.GET("/ws", hub.Serve)
	}
}
