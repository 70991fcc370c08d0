package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"questlog/markup"
	mw "questlog/middleware"
	"questlog/notify"
	"questlog/pinsync"
	"questlog/quest"
	"questlog/store"
	"questlog/tracker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QuestHandler handles quest REST endpoints.
type QuestHandler struct {
	docs     store.DocumentStore
	quests   *quest.Service
	machine  *quest.StatusMachine
	sync     *pinsync.Service
	tracker  *tracker.Tracker
	coalesce *notify.Coalescer
	sessions *notify.Registry
	logger   *zap.Logger
}

func NewQuestHandler(docs store.DocumentStore, quests *quest.Service, machine *quest.StatusMachine, sync *pinsync.Service, tr *tracker.Tracker, coalesce *notify.Coalescer, sessions *notify.Registry, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{
		docs: docs, quests: quests, machine: machine, sync: sync,
		tracker: tr, coalesce: coalesce, sessions: sessions, logger: logger,
	}
}

// pushPins refreshes the quest's existing pins after a document change.
// Pin-store failures are best-effort and never fail the request.
func (h *QuestHandler) pushPins(c *gin.Context, questID string) {
	if _, err := h.sync.UpdateStyles(c.Request.Context(), questID); err != nil {
		h.logger.Warn("pin style push failed",
			zap.String("quest_id", questID),
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
	}
	// State changes can hide or reveal objectives, so ownership moves too.
	if _, err := h.sync.UpdateVisibility(c.Request.Context(), questID, ""); err != nil {
		h.logger.Warn("pin ownership push failed",
			zap.String("quest_id", questID),
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
	}
}

type createQuestRequest struct {
	Name    string `json:"name" binding:"required,min=1,max=200"`
	Content string `json:"content"`
}

// Create handles POST /api/quests.
func (h *QuestHandler) Create(c *gin.Context) {
	var req createQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.docs.CreateQuest(c.Request.Context(), req.Name, req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// List handles GET /api/quests.
func (h *QuestHandler) List(c *gin.Context) {
	quests, err := h.quests.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if !mw.IsGM(c) {
		quests = visibleOnly(quests)
	}
	c.JSON(http.StatusOK, gin.H{"quests": quests})
}

// Get handles GET /api/quests/:id.
func (h *QuestHandler) Get(c *gin.Context) {
	q, err := h.quests.View(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if !q.Visible && !mw.IsGM(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, q)
}

type setObjectiveRequest struct {
	State string `json:"state" binding:"required"`
}

// SetObjectiveState handles PUT /api/quests/:id/objectives/:index.
// It re-encodes the task list item, recomputes the quest status and
// raises the objective-completed notification.
func (h *QuestHandler) SetObjectiveState(c *gin.Context) {
	questID := c.Param("id")
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad objective index"})
		return
	}
	var req setObjectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state := markup.State(req.State)
	if !state.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid objective state"})
		return
	}
	ctx := c.Request.Context()

	doc, err := h.docs.GetQuest(ctx, questID)
	if err != nil {
		h.fail(c, err)
		return
	}
	content, err := markup.Encode(doc.Content, index, state)
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.docs.UpdateContent(ctx, questID, content); err != nil {
		h.fail(c, err)
		return
	}
	status, err := h.machine.Recompute(ctx, questID)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.pushPins(c, questID)

	if state == markup.StateCompleted {
		userID := strconv.FormatInt(mw.GetAccountID(c), 10)
		h.coalesce.Notify(h.sessions.Get(userID), userID, notify.Notification{
			Kind:  notify.KindObjectiveCompleted,
			Title: "Objective completed",
			Data:  map[string]interface{}{"questId": questID, "objectiveIndex": index},
		})
		// A completed objective that was the active one is done with.
		if sel, _ := h.tracker.Active(ctx, userID); sel != nil &&
			sel.QuestID == questID && sel.ObjectiveIndex == index {
			_ = h.tracker.ClearAll(ctx, userID)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

type applyStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// ApplyStatus handles PUT /api/quests/:id/status (GM only).
func (h *QuestHandler) ApplyStatus(c *gin.Context) {
	var req applyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := h.machine.Apply(c.Request.Context(), c.Param("id"), quest.Status(req.Status))
	if err != nil {
		if errors.Is(err, quest.ErrInvalidStatus) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.fail(c, err)
		return
	}
	h.pushPins(c, c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"status": req.Status})
}

type setVisibleRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

// SetVisible handles PUT /api/quests/:id/visible (GM only).
func (h *QuestHandler) SetVisible(c *gin.Context) {
	var req setVisibleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.quests.SetVisible(c.Request.Context(), c.Param("id"), *req.Visible); err != nil {
		h.fail(c, err)
		return
	}
	if _, err := h.sync.UpdateVisibility(c.Request.Context(), c.Param("id"), ""); err != nil {
		h.logger.Warn("pin visibility push failed",
			zap.String("quest_id", c.Param("id")), zap.Error(err))
	}
	c.JSON(http.StatusOK, gin.H{"visible": *req.Visible})
}

type setActiveRequest struct {
	QuestID        string `json:"questId" binding:"required"`
	ObjectiveIndex int    `json:"objectiveIndex"`
}

// SetActive handles PUT /api/active. The previous selection, if any, is
// implicitly replaced.
func (h *QuestHandler) SetActive(c *gin.Context) {
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	userID := strconv.FormatInt(mw.GetAccountID(c), 10)

	q, err := h.quests.View(ctx, req.QuestID)
	if err != nil {
		h.fail(c, err)
		return
	}
	if req.ObjectiveIndex < 0 || req.ObjectiveIndex >= len(q.Objectives) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such objective"})
		return
	}
	if err := h.tracker.SetActive(ctx, userID, req.QuestID, req.ObjectiveIndex); err != nil {
		h.fail(c, err)
		return
	}
	h.coalesce.Notify(h.sessions.Get(userID), userID, notify.Notification{
		Kind:  notify.KindActiveObjective,
		Title: fmt.Sprintf("Tracking: %s", q.Objectives[req.ObjectiveIndex].Text),
		Data:  map[string]interface{}{"questId": req.QuestID, "objectiveIndex": req.ObjectiveIndex},
	})
	c.Status(http.StatusNoContent)
}

// ClearActive handles DELETE /api/active.
func (h *QuestHandler) ClearActive(c *gin.Context) {
	userID := strconv.FormatInt(mw.GetAccountID(c), 10)
	if err := h.tracker.ClearAll(c.Request.Context(), userID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetActive handles GET /api/active.
func (h *QuestHandler) GetActive(c *gin.Context) {
	userID := strconv.FormatInt(mw.GetAccountID(c), 10)
	sel, err := h.tracker.Active(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": sel})
}

func (h *QuestHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, markup.ErrNoTaskList),
		errors.Is(err, markup.ErrIndexOutOfRange):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	default:
		h.logger.Error("quest handler error",
			zap.String("trace_id", mw.GetTraceID(c)), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func visibleOnly(quests []quest.Quest) []quest.Quest {
	out := quests[:0]
	for _, q := range quests {
		if q.Visible {
			out = append(out, q)
		}
	}
	return out
}
