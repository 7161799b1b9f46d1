package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	apirest "github.com/peerly-app/peerly/server/api/rest"
	"github.com/peerly-app/peerly/server/api/sse"
	apows "github.com/peerly-app/peerly/server/api/ws"
	"github.com/peerly-app/peerly/server/audit"
	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/config"
	dbadapter "github.com/peerly-app/peerly/server/db"
	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/model"
	"github.com/peerly-app/peerly/server/scheduler"
	"github.com/peerly-app/peerly/server/social/chat"
	"github.com/peerly-app/peerly/server/social/presence"
	"github.com/peerly-app/peerly/server/social/relationship"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	// Warn loudly if admin endpoints will be disabled.
	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	logger.Info("DB initialized")

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized")

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	// ---- Services ----
	pm := presence.NewManager(logger)
	rel := relationship.NewService(relationship.NewStore(db), logger)
	ch := chat.NewChannel(db, c, pubsub, rel, cfg.Social, logger)

	// ---- Periodic Scheduler Tasks ----
	if cfg.Social.ReconcileInterval > 0 {
		sched.AddTicker("relation_reconcile", cfg.Social.ReconcileInterval, func() {
			report, err := rel.Reconcile(context.Background(), c)
			if err != nil {
				logger.Warn("relation reconcile failed", zap.Error(err))
				return
			}
			if report.AsymmetricConnections+report.StalePending+report.DanglingRows > 0 {
				logger.Info("relation reconcile repaired rows",
					zap.Int("asymmetric_connections", report.AsymmetricConnections),
					zap.Int("stale_pending", report.StalePending),
					zap.Int("dangling_rows", report.DanglingRows),
				)
			}
		})
	}

	// ---- WS Router ----
	wsRouter := apows.NewRouter(logger)
	chatWS := apows.NewChatHandlers(ch, pm, logger)
	chatWS.RegisterAll(wsRouter)

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	// Health check
	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	profileH := apirest.NewProfileHandler(db, c, rel, pm, cfg.Social)
	relationsH := apirest.NewRelationsHandler(rel, pm, auditSvc, c)
	messagesH := apirest.NewMessagesHandler(ch)
	adminH := apirest.NewAdminHandler(db, pm, sched, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/register", authH.Register)
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		authed := api.Group("")
		authed.Use(mw.Auth(cfg.Security, c))

		authed.GET("/profile", profileH.GetOwn)
		authed.PUT("/profile", profileH.UpdateOwn)
		authed.GET("/profiles/:id", profileH.Get)
		authed.GET("/discover", profileH.Discover)

		authed.GET("/relations", relationsH.List)
		authed.GET("/relations/state/:id", relationsH.State)
		authed.POST("/relations/request/:id", relationsH.SendRequest)
		authed.DELETE("/relations/request/:id", relationsH.CancelRequest)
		authed.POST("/relations/accept/:id", relationsH.AcceptRequest)
		authed.POST("/relations/reject/:id", relationsH.RejectRequest)
		authed.DELETE("/relations/:id", relationsH.Disconnect)
		authed.POST("/relations/block/:id", relationsH.Block)
		authed.DELETE("/relations/block/:id", relationsH.Unblock)

		authed.POST("/reports/:id", relationsH.Report)
		authed.DELETE("/reports/:id", relationsH.Unreport)
		authed.DELETE("/account", relationsH.DeleteAccount)

		authed.GET("/messages/unread", messagesH.Unread)
		authed.GET("/messages/:id", messagesH.History)
		authed.POST("/messages/:id", messagesH.Send)
		authed.POST("/messages/:id/seen", messagesH.MarkSeen)
		authed.DELETE("/messages/:id", messagesH.ClearHistory)
		authed.PUT("/messages/msg/:msgID", messagesH.Edit)
		authed.DELETE("/messages/msg/:msgID", messagesH.Delete)
		authed.POST("/messages/msg/:msgID/react", messagesH.React)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Server.AdminIPs))
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/metrics", adminH.Metrics)
		adminG.GET("/users", adminH.ListUsers)
		adminG.GET("/reports", adminH.ListReports)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.POST("/kick/:id", adminH.KickUser)
		adminG.POST("/broadcast", adminH.Broadcast)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- WebSocket ----
	wsH := apows.NewHandler(c, cfg.Security, pm, wsRouter, logger)
	r.GET("/ws", wsH.ServeWS)

	// ---- SSE ----
	sseH := sse.NewHandler(ch, c, cfg.Security, logger)
	r.GET("/sse/conversation/:id", sseH.ServeConversation)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
