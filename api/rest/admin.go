package rest

import (
	"net/http"
	"time"

	"questlog/audit"
	mw "questlog/middleware"
	"questlog/migration"
	"questlog/reconcile"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AdminAuth admits GM sessions, or any session presenting the
// configured admin key. An empty key disables the header path.
func AdminAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mw.IsGM(c) {
			c.Next()
			return
		}
		if key != "" && c.GetHeader("X-Admin-Key") == key {
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
	}
}

// AdminHandler exposes the maintenance endpoints. Routes are mounted
// behind AdminAuth.
type AdminHandler struct {
	rec     *reconcile.Service
	mig     *migration.Service
	auditor *audit.Service
	logger  *zap.Logger
}

func NewAdminHandler(rec *reconcile.Service, mig *migration.Service, auditor *audit.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{rec: rec, mig: mig, auditor: auditor, logger: logger}
}

type reconcileRequest struct {
	Scene string `json:"scene"`
}

// Reconcile handles POST /api/admin/reconcile. An empty scene sweeps
// every quest document.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	var req reconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	res, err := h.rec.Reconcile(c.Request.Context(), req.Scene)
	if err != nil {
		h.logger.Error("reconcile failed",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.auditor.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     "reconcile",
		SceneID:    req.Scene,
		Detail:     res,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	c.JSON(http.StatusOK, res)
}

type migrateRequest struct {
	Scene string `json:"scene"`
}

// Migrate handles POST /api/admin/migrate. With a scene it migrates
// that scene's legacy pins, otherwise all scenes.
func (h *AdminHandler) Migrate(c *gin.Context) {
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	var (
		res migration.Result
		err error
	)
	if req.Scene != "" {
		res, err = h.mig.MigrateScene(c.Request.Context(), req.Scene)
	} else {
		res, err = h.mig.MigrateAll(c.Request.Context())
	}
	if err != nil {
		h.logger.Error("migration failed",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.auditor.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     "migrate",
		SceneID:    req.Scene,
		Detail:     res,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	c.JSON(http.StatusOK, res)
}

// MigrationStatus handles GET /api/admin/migration.
func (h *AdminHandler) MigrationStatus(c *gin.Context) {
	scenes, err := h.mig.Status(c.Request.Context())
	if err != nil {
		h.logger.Error("migration status failed",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"scenes": scenes})
}
