package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"questlog/api/rest"
	"questlog/audit"
	"questlog/cache"
	"questlog/config"
	"questlog/hook"
	mw "questlog/middleware"
	"questlog/migration"
	"questlog/model"
	"questlog/notify"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/reconcile"
	"questlog/store"
	"questlog/testutil"
	"questlog/tracker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router *gin.Engine
	db     *gorm.DB
	cache  cache.Cache
	docs   store.DocumentStore
	pins   store.PinStore
	sec    config.SecurityConfig
}

// noopNotifier satisfies quest.Notifier for handler tests that do not
// assert on completion broadcasts.
type noopNotifier struct{}

func (noopNotifier) QuestCompleted(context.Context, *quest.Quest) {}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: time.Hour}

	hooks := hook.NewCenter()
	docs := store.NewGormDocumentStore(db, logger)
	pins := store.NewGormPinStore(db, hooks, c, logger)
	dir := store.NewGormDirectory(db)
	capability := store.ProbeCapability(context.Background(), pins, logger)

	coalesce := notify.NewCoalescer(notify.NewPubSubChannel(ps), 0, logger)
	sessions := notify.NewRegistry()

	questSvc := quest.NewService(docs, logger)
	machine := quest.NewStatusMachine(questSvc, docs, noopNotifier{}, logger)
	syncSvc := pinsync.NewService(docs, questSvc, capability, dir, "questlog", logger)
	recSvc := reconcile.NewService(docs, capability, "questlog", logger)
	migSvc := migration.NewService(docs, questSvc, capability, dir, "questlog", logger)
	tr := tracker.New(c)

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	authH := rest.NewAuthHandler(db, c, sec, logger)
	questH := rest.NewQuestHandler(docs, questSvc, machine, syncSvc, tr, coalesce, sessions, logger)
	pinH := rest.NewPinHandler(syncSvc, auditSvc, coalesce, sessions, logger)
	adminH := rest.NewAdminHandler(recSvc, migSvc, auditSvc, logger)

	r := gin.New()
	api := r.Group("/api")

	api.POST("/auth/login", authH.Login)
	api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
	api.POST("/auth/refresh", mw.Auth(sec, c), authH.Refresh)

	questsG := api.Group("/quests")
	questsG.Use(mw.Auth(sec, c))
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
	activeG.Use(mw.Auth(sec, c))
	activeG.GET("", questH.GetActive)
	activeG.PUT("", questH.SetActive)
	activeG.DELETE("", questH.ClearActive)

	pinsG := api.Group("/pins")
	pinsG.Use(mw.Auth(sec, c))
	pinsG.GET("/visibility", pinH.GetModuleVisibility)
	pinsG.PUT("/visibility", pinH.SetModuleVisibility)

	adminG := api.Group("/admin")
	adminG.Use(mw.Auth(sec, c), rest.AdminAuth("test-admin-key"))
	adminG.POST("/reconcile", adminH.Reconcile)
	adminG.POST("/migrate", adminH.Migrate)
	adminG.GET("/migration", adminH.MigrationStatus)

	return &fixture{router: r, db: db, cache: c, docs: docs, pins: pins, sec: sec}
}

// login creates the account directly and mints a session token for it.
func (f *fixture) login(t *testing.T, username string, gm bool) string {
	t.Helper()
	acc := model.Account{Username: username, PasswordHash: "x", GM: gm, Status: 1}
	require.NoError(t, f.db.Create(&acc).Error)
	token, err := mw.GenerateToken(acc.ID, gm, f.sec.JWTSecret, f.sec.JWTTTLH)
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), "session:"+token, "1", time.Hour))
	return token
}

func (f *fixture) request(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}
