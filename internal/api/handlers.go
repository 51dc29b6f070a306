package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/soaringjerry/Praxis/internal/logger"
	"github.com/soaringjerry/Praxis/internal/middleware"
	"github.com/soaringjerry/Praxis/internal/services"
	"github.com/soaringjerry/Praxis/internal/utils"
)

type handlers struct {
	svc       *services.Services
	log       *logger.Logger
	commit    string
	buildTime string
}

func (h *handlers) health(c *gin.Context) {
	c.String(http.StatusOK, utils.T(middleware.LocaleFromContext(c), "health.ok"))
}

func (h *handlers) version(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"commit": h.commit, "build_time": h.buildTime, "snapshot_schema": services.SnapshotSchemaVersion})
}

// GET/POST /api/assets

func (h *handlers) registerAsset(c *gin.Context) {
	var in services.AssetInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	a, err := h.svc.Assets.Register(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (h *handlers) listAssets(c *gin.Context) {
	list, err := h.svc.Assets.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"assets": list})
}

func (h *handlers) getAsset(c *gin.Context) {
	a, err := h.svc.Assets.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *handlers) deleteAsset(c *gin.Context) {
	res, err := h.svc.Assets.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// modules

func (h *handlers) createModule(c *gin.Context) {
	var in services.ModuleInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	m, err := h.svc.Modules.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *handlers) listModules(c *gin.Context) {
	list, err := h.svc.Modules.List(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": list})
}

func (h *handlers) getModule(c *gin.Context) {
	m, err := h.svc.Modules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) getDocument(c *gin.Context) {
	doc, err := h.svc.Modules.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handlers) updateModule(c *gin.Context) {
	var p services.ModulePatch
	if err := c.ShouldBindJSON(&p); err != nil {
		h.badRequest(c, err)
		return
	}
	m, err := h.svc.Modules.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) renameModule(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	m, err := h.svc.Modules.Rename(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

func (h *handlers) deleteModule(c *gin.Context) {
	if err := h.svc.Modules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// tasks

func (h *handlers) createTask(c *gin.Context) {
	var in services.TaskInput
	if err := c.ShouldBindJSON(&in); err != nil {
		h.badRequest(c, err)
		return
	}
	in.ModuleID = c.Param("id")
	t, err := h.svc.Tasks.Create(c.Request.Context(), in)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *handlers) listTasks(c *gin.Context) {
	list, err := h.svc.Tasks.List(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

type orderRequest struct {
	IDs []string `json:"ids"`
}

func (h *handlers) reorderTasks(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	list, err := h.svc.Tasks.Reorder(c.Request.Context(), c.Param("id"), req.IDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list})
}

func (h *handlers) getTask(c *gin.Context) {
	t, err := h.svc.Tasks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *handlers) updateTask(c *gin.Context) {
	var p services.TaskPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		h.badRequest(c, err)
		return
	}
	t, err := h.svc.Tasks.Update(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// DELETE /api/tasks/:id?confirm=true
func (h *handlers) deleteTask(c *gin.Context) {
	confirm, _ := strconv.ParseBool(c.Query("confirm"))
	warnings, err := h.svc.Tasks.Delete(c.Request.Context(), c.Param("id"), confirm)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": nonNil(warnings)})
}

// GET /api/tasks/:id/neighbor?order_index=2&delta=1
func (h *handlers) neighbor(c *gin.Context) {
	order, err := strconv.Atoi(c.Query("order_index"))
	if err != nil {
		h.badRequest(c, fmt.Errorf("order_index: %w", err))
		return
	}
	delta, err := strconv.Atoi(c.DefaultQuery("delta", "1"))
	if err != nil {
		h.badRequest(c, fmt.Errorf("delta: %w", err))
		return
	}
	st, err := h.svc.Tasks.Neighbor(c.Request.Context(), c.Param("id"), order, delta)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// steps

func (h *handlers) createStep(c *gin.Context) {
	var req struct {
		Title string `json:"title"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	st, err := h.svc.Steps.Create(c.Request.Context(), c.Param("id"), req.Title)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *handlers) listSteps(c *gin.Context) {
	list, err := h.svc.Steps.ListByTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": list})
}

func (h *handlers) reorderSteps(c *gin.Context) {
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	list, err := h.svc.Steps.Reorder(c.Request.Context(), c.Param("id"), req.IDs)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"steps": list})
}

func (h *handlers) getStep(c *gin.Context) {
	st, err := h.svc.Steps.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) patchStep(c *gin.Context) {
	var p services.StepPatch
	if err := c.ShouldBindJSON(&p); err != nil {
		h.badRequest(c, err)
		return
	}
	st, err := h.svc.Steps.Patch(c.Request.Context(), c.Param("id"), p)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) deleteStep(c *gin.Context) {
	warnings, err := h.svc.Steps.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"warnings": nonNil(warnings)})
}

// publishing

func (h *handlers) validateModule(c *gin.Context) {
	report, err := h.svc.Publish.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *handlers) publishModule(c *gin.Context) {
	res, err := h.svc.Publish.Publish(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"module_id":    res.Snapshot.ModuleID,
		"version":      res.Snapshot.Version,
		"published_at": res.Snapshot.PublishedAt,
		"warnings":     res.Warnings,
	})
}

func (h *handlers) listVersions(c *gin.Context) {
	list, err := h.svc.Publish.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": list})
}

func (h *handlers) pruneVersions(c *gin.Context) {
	var req struct {
		Keep int `json:"keep"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	removed, err := h.svc.Publish.Prune(c.Request.Context(), c.Param("id"), req.Keep)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// runtime

// GET /runtime/catalog?lang=de
func (h *handlers) catalog(c *gin.Context) {
	ctx := c.Request.Context()
	all, err := h.svc.Publish.Catalog(ctx, "")
	if err != nil {
		h.respondError(c, err)
		return
	}
	langs := make([]string, 0, len(all))
	for _, e := range all {
		langs = append(langs, e.Language)
	}
	lang := utils.DetermineLocale(c.Query("lang"), c.GetHeader("Accept-Language"), langs, "")
	entries := all
	if lang != "" {
		if entries, err = h.svc.Publish.Catalog(ctx, lang); err != nil {
			h.respondError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"language": lang, "modules": entries})
}

func (h *handlers) writeSnapshot(c *gin.Context, snap *services.PublishedSnapshot) {
	c.Header("X-Snapshot-Version", strconv.Itoa(snap.Version))
	c.Data(http.StatusOK, "application/json; charset=utf-8", snap.Payload)
}

func (h *handlers) latestSnapshot(c *gin.Context) {
	snap, err := h.svc.Publish.GetLatest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.writeSnapshot(c, snap)
}

func (h *handlers) snapshotVersion(c *gin.Context) {
	v, err := strconv.Atoi(c.Param("version"))
	if err != nil || v < 1 {
		h.badRequest(c, fmt.Errorf("version must be a positive integer"))
		return
	}
	snap, err := h.svc.Publish.GetVersion(c.Request.Context(), c.Param("id"), v)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.writeSnapshot(c, snap)
}

// POST /runtime/modules/:id/resolve {"step_id": "...", "choice": "Yes", "version": 0}
func (h *handlers) resolve(c *gin.Context) {
	var req struct {
		StepID  string `json:"step_id"`
		Choice  string `json:"choice"`
		Version int    `json:"version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	_, g, err := h.svc.Publish.Graph(c.Request.Context(), c.Param("id"), req.Version)
	if err != nil {
		h.respondError(c, err)
		return
	}
	target, err := g.Resolve(req.StepID, req.Choice)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, target)
}

func nonNil(w []services.Warning) []services.Warning {
	if w == nil {
		return []services.Warning{}
	}
	return w
}
