package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	apirest "questlog/api/rest"
	"questlog/api/sse"
	"questlog/audit"
	"questlog/cache"
	"questlog/config"
	dbadapter "questlog/db"
	"questlog/hook"
	mw "questlog/middleware"
	"questlog/migration"
	"questlog/model"
	"questlog/notify"
	"questlog/ownership"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/reconcile"
	"questlog/scheduler"
	"questlog/store"
	"questlog/tracker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// completionBroadcaster pushes a quest completion notification to every
// known user. Delivery goes through the per-user coalescers so a burst
// of status churn still produces one toast per transition.
type completionBroadcaster struct {
	dir      ownership.Directory
	coalesce *notify.Coalescer
	sessions *notify.Registry
	logger   *zap.Logger
}

func (b *completionBroadcaster) QuestCompleted(ctx context.Context, q *quest.Quest) {
	users, err := b.dir.Users(ctx)
	if err != nil {
		b.logger.Warn("completion broadcast skipped", zap.Error(err))
		return
	}
	for _, u := range users {
		b.coalesce.Notify(b.sessions.Get(u.ID), u.ID, notify.Notification{
			Kind:  notify.KindQuestCompleted,
			Title: q.Name,
			Body:  "Quest complete",
			Data:  map[string]interface{}{"questId": q.ID},
		})
	}
}

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

	// ---- Stores ----
	hooks := hook.NewCenter()
	docs := store.NewGormDocumentStore(db, logger)
	pins := store.NewGormPinStore(db, hooks, c, logger)
	dir := store.NewGormDirectory(db)

	capability := store.ProbeCapability(context.Background(), pins, logger)

	// ---- Notifications ----
	channel := notify.NewPubSubChannel(pubsub)
	coalesce := notify.NewCoalescer(channel, cfg.Journal.NotifyDebounce, logger)
	sessions := notify.NewRegistry()

	// ---- Services ----
	questSvc := quest.NewService(docs, logger)
	broadcaster := &completionBroadcaster{dir: dir, coalesce: coalesce, sessions: sessions, logger: logger}
	machine := quest.NewStatusMachine(questSvc, docs, broadcaster, logger)
	syncSvc := pinsync.NewService(docs, questSvc, capability, dir, cfg.Journal.OwnerTag, logger)
	recSvc := reconcile.NewService(docs, capability, cfg.Journal.OwnerTag, logger)
	migSvc := migration.NewService(docs, questSvc, capability, dir, cfg.Journal.OwnerTag, logger)
	tr := tracker.New(c)

	recSvc.RegisterTriggers(hooks)

	if cfg.Journal.MigrateOnStartup {
		res, err := migSvc.MigrateAll(context.Background())
		if err != nil {
			logger.Error("startup migration failed", zap.Error(err))
		} else if res.Migrated+res.Skipped+res.Errors > 0 {
			logger.Info("startup migration finished",
				zap.Int("migrated", res.Migrated),
				zap.Int("skipped", res.Skipped),
				zap.Int("errors", res.Errors))
		}
	}

	if res, err := recSvc.Reconcile(context.Background(), ""); err != nil {
		logger.Warn("startup reconcile failed", zap.Error(err))
	} else if res.Repaired > 0 {
		logger.Info("startup reconcile repaired drift",
			zap.Int("quests", res.Quests), zap.Int("repaired", res.Repaired))
	}

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	defer sched.Stop()

	if cfg.Journal.ReconcileIntervalS > 0 {
		interval := time.Duration(cfg.Journal.ReconcileIntervalS) * time.Second
		sched.AddTicker("reconcile", interval, func() {
			res, err := recSvc.Reconcile(context.Background(), "")
			if err != nil {
				logger.Warn("periodic reconcile failed", zap.Error(err))
				return
			}
			if res.Repaired > 0 || res.Errors > 0 {
				logger.Info("periodic reconcile repaired drift",
					zap.Int("quests", res.Quests),
					zap.Int("repaired", res.Repaired),
					zap.Int("errors", res.Errors))
			}
		})
	}

	sched.AddTicker("notify_gc", 10*time.Minute, func() {
		if n := sessions.Prune(time.Hour); n > 0 {
			logger.Debug("pruned idle notification states", zap.Int("count", n))
		}
	})

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	authH := apirest.NewAuthHandler(db, c, cfg.Security, logger)
	questH := apirest.NewQuestHandler(docs, questSvc, machine, syncSvc, tr, coalesce, sessions, logger)
	pinH := apirest.NewPinHandler(syncSvc, auditSvc, coalesce, sessions, logger)
	adminH := apirest.NewAdminHandler(recSvc, migSvc, auditSvc, logger)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", mw.Auth(cfg.Security, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(cfg.Security, c), authH.Refresh)

		questsG := api.Group("/quests")
		questsG.Use(mw.Auth(cfg.Security, c))
		questsG.GET("", questH.List)
		questsG.GET("/:id", questH.Get)
		questsG.POST("", mw.RequireGM(), questH.Create)
		questsG.PUT("/:id/objectives/:index", mw.RequireGM(), questH.SetObjectiveState)
		questsG.PUT("/:id/status", mw.RequireGM(), questH.ApplyStatus)
		questsG.PUT("/:id/visible", mw.RequireGM(), questH.SetVisible)
		questsG.POST("/:id/pin", mw.RequireGM(), pinH.CreateQuestPin)
		questsG.POST("/:id/objectives/:index/pin", mw.RequireGM(), pinH.CreateObjectivePin)
		questsG.POST("/:id/unplace", mw.RequireGM(), pinH.Unplace)
		questsG.DELETE("/:id/pins", mw.RequireGM(), pinH.DeletePins)

		activeG := api.Group("/active")
		activeG.Use(mw.Auth(cfg.Security, c))
		activeG.GET("", questH.GetActive)
		activeG.PUT("", questH.SetActive)
		activeG.DELETE("", questH.ClearActive)

		pinsG := api.Group("/pins")
		pinsG.Use(mw.Auth(cfg.Security, c))
		pinsG.GET("/visibility", pinH.GetModuleVisibility)
		pinsG.PUT("/visibility", pinH.SetModuleVisibility)

		adminG := api.Group("/admin")
		adminG.Use(
			mw.IPAllowlist(cfg.Security.AdminIPAllowlist, logger),
			mw.Auth(cfg.Security, c),
			apirest.AdminAuth(cfg.Server.AdminKey),
		)
		adminG.POST("/reconcile", adminH.Reconcile)
		adminG.POST("/migrate", adminH.Migrate)
		adminG.GET("/migration", adminH.MigrationStatus)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("Server listening", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
