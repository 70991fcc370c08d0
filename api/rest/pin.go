package rest

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"questlog/audit"
	"questlog/markup"
	mw "questlog/middleware"
	"questlog/notify"
	"questlog/pinsync"
	"questlog/store"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// PinHandler handles pin REST endpoints (GM except the per-user
// visibility toggle). When the pin store is unavailable every operation
// answers with pin: null rather than an error.
type PinHandler struct {
	sync     *pinsync.Service
	auditor  *audit.Service
	coalesce *notify.Coalescer
	sessions *notify.Registry
	logger   *zap.Logger
}

func NewPinHandler(sync *pinsync.Service, auditor *audit.Service, coalesce *notify.Coalescer, sessions *notify.Registry, logger *zap.Logger) *PinHandler {
	return &PinHandler{sync: sync, auditor: auditor, coalesce: coalesce, sessions: sessions, logger: logger}
}

type placementRequest struct {
	SceneID string  `json:"sceneId"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

func (r *placementRequest) placement() *store.Placement {
	if r == nil || r.SceneID == "" {
		return nil
	}
	return &store.Placement{SceneID: r.SceneID, X: r.X, Y: r.Y}
}

// CreateQuestPin handles POST /api/quests/:id/pin. An omitted or empty
// sceneId creates the pin unplaced.
func (h *PinHandler) CreateQuestPin(c *gin.Context) {
	questID := c.Param("id")
	var req placementRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	pin, err := h.sync.CreateQuestPin(c.Request.Context(), questID, req.placement())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "quest_pin_create", questID, pin, req.SceneID, start)

	if pin != nil {
		userID := strconv.FormatInt(mw.GetAccountID(c), 10)
		h.coalesce.Notify(h.sessions.Get(userID), userID, notify.Notification{
			Kind:  notify.KindQuestPinned,
			Title: pin.Config.Label,
			Data:  map[string]interface{}{"questId": questID, "pinId": pin.ID},
		})
	}
	c.JSON(http.StatusOK, gin.H{"pin": pin})
}

// CreateObjectivePin handles POST /api/quests/:id/objectives/:index/pin.
func (h *PinHandler) CreateObjectivePin(c *gin.Context) {
	questID := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad objective index"})
		return
	}
	var req placementRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	start := time.Now()
	pin, err := h.sync.CreateObjectivePin(c.Request.Context(), questID, index, req.placement())
	if err != nil {
		h.fail(c, err)
		return
	}
	h.audit(c, "objective_pin_create", questID, pin, req.SceneID, start)
	c.JSON(http.StatusOK, gin.H{"pin": pin})
}

// DeletePins handles DELETE /api/quests/:id/pins?scene=<id>.
func (h *PinHandler) DeletePins(c *gin.Context) {
	questID := c.Param("id")
	sceneScope := c.Query("scene")
	start := time.Now()
	res, err := h.sync.DeletePins(c.Request.Context(), questID, sceneScope)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.auditor.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     "pins_delete",
		QuestID:    questID,
		SceneID:    sceneScope,
		Detail:     res,
		DurationMs: int(time.Since(start).Milliseconds()),
	})
	c.JSON(http.StatusOK, res)
}

type unplaceRequest struct {
	ObjectiveIndex *int `json:"objectiveIndex"`
}

// Unplace handles POST /api/quests/:id/unplace. Without objectiveIndex
// the quest pin is unplaced.
func (h *PinHandler) Unplace(c *gin.Context) {
	questID := c.Param("id")
	var req unplaceRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.sync.Unplace(c.Request.Context(), questID, req.ObjectiveIndex); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type moduleVisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetModuleVisibility handles PUT /api/pins/visibility: the per-user
// all-pins toggle. Not GM-gated.
func (h *PinHandler) SetModuleVisibility(c *gin.Context) {
	var req moduleVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	userID := strconv.FormatInt(mw.GetAccountID(c), 10)
	if err := h.sync.SetGlobalVisibility(c.Request.Context(), userID, *req.Visible); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

// GetModuleVisibility handles GET /api/pins/visibility.
func (h *PinHandler) GetModuleVisibility(c *gin.Context) {
	userID := strconv.FormatInt(mw.GetAccountID(c), 10)
	visible, err := h.sync.GetGlobalVisibility(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"visible": visible})
}

func (h *PinHandler) audit(c *gin.Context, action, questID string, pin *store.Pin, sceneID string, start time.Time) {
	entry := audit.Entry{
		TraceID:    mw.GetTraceID(c),
		Action:     action,
		QuestID:    questID,
		SceneID:    sceneID,
		DurationMs: int(time.Since(start).Milliseconds()),
	}
	if pin != nil {
		entry.PinID = pin.ID
	}
	h.auditor.Log(entry)
}

func (h *PinHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, markup.ErrIndexOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	default:
		h.logger.Error("pin handler error",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
