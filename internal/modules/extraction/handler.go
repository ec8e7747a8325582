package extraction

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/middleware"
	"github.com/mx-space/distill/internal/modules/processing/markdown"
	"github.com/mx-space/distill/internal/modules/processing/prompt"
	"github.com/mx-space/distill/internal/pkg/apperr"
	"github.com/mx-space/distill/internal/pkg/pagination"
	"github.com/mx-space/distill/internal/pkg/quota"
	"github.com/mx-space/distill/internal/pkg/response"
	"github.com/mx-space/distill/internal/pkg/sse"
	"go.uber.org/zap"
)

// keepAliveInterval spaces SSE comments while the pipeline is quiet.
const keepAliveInterval = 15 * time.Second

// Handler handles extraction HTTP requests.
type Handler struct {
	svc     *Service
	store   *Store
	tasks   *Tasks
	limiter Limiter
	logger  *zap.Logger
}

func NewHandler(svc *Service, store *Store, tasks *Tasks, limiter Limiter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, store: store, tasks: tasks, limiter: limiter, logger: logger.Named("extraction.http")}
}

// RegisterRoutes mounts extraction routes onto the given router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	authed := rg.Group("", authMW)

	authed.POST("/extract", h.extract)
	authed.POST("/extract/stream", h.stream)
	authed.POST("/extract/tasks", h.submitTask)
	authed.GET("/extract/tasks", h.listTasks)
	authed.GET("/extract/tasks/:id", h.getTask)
	authed.DELETE("/extract/tasks/:id", h.cancelTask)

	authed.GET("/extractions", h.list)
	authed.GET("/extractions/:id", h.get)
	authed.GET("/extractions/:id/markdown", h.markdown)
	authed.DELETE("/extractions/:id", h.delete)

	authed.GET("/quota", h.quota)
	authed.GET("/modes", h.modes)
}

// prepare binds the body and admits the run. Failures are rendered as plain
// JSON errors, before any stream is opened.
func (h *Handler) prepare(c *gin.Context) (*Run, bool) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "request body must be a JSON object")
		return nil, false
	}
	run, err := h.svc.Prepare(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	setQuotaHeaders(c, run.Quota)
	return run, true
}

func setQuotaHeaders(c *gin.Context, d quota.Decision) {
	if d.Limit <= 0 {
		return
	}
	response.SetRateLimitHeaders(c, d.Limit, d.Remaining, d.ResetAt.Unix())
}

// extract POST /extract
func (h *Handler) extract(c *gin.Context) {
	run, ok := h.prepare(c)
	if !ok {
		return
	}
	resp, err := run.Execute(c.Request.Context(), nil)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.Abort()
			return
		}
		response.Error(c, err)
		return
	}
	response.OK(c, resp)
}

// stream POST /extract/stream
func (h *Handler) stream(c *gin.Context) {
	run, ok := h.prepare(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	w := sse.Start(c.Writer)
	events := run.Stream(ctx)
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				return
			}
			if err := w.Send(string(ev.Type), ev.Data); err != nil {
				// The client is gone; the request context cancels the run and
				// the channel drains.
				h.logger.Debug("sse write failed", zap.Error(err))
			}
		case <-ticker.C:
			_ = w.Comment("keep-alive")
		}
	}
}

// submitTask POST /extract/tasks
func (h *Handler) submitTask(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "request body must be a JSON object")
		return
	}
	run, err := h.svc.Plan(c.Request.Context(), middleware.CurrentUserID(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	task, created, err := h.tasks.Submit(c.Request.Context(), run, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	setQuotaHeaders(c, run.Quota)
	if !created {
		response.OK(c, task)
		return
	}
	response.Accepted(c, task)
}

// listTasks GET /extract/tasks
func (h *Handler) listTasks(c *gin.Context) {
	q := pagination.FromContext(c)
	tasks, total, err := h.tasks.List(c.Request.Context(), middleware.CurrentUserID(c), q.Page, q.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paged(c, tasks, q.Meta(total))
}

// getTask GET /extract/tasks/:id
func (h *Handler) getTask(c *gin.Context) {
	task, err := h.tasks.Get(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if task == nil {
		response.NotFoundMsg(c, "task not found")
		return
	}
	response.OK(c, task)
}

// cancelTask DELETE /extract/tasks/:id
func (h *Handler) cancelTask(c *gin.Context) {
	task, err := h.tasks.Cancel(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if task == nil {
		response.NotFoundMsg(c, "task not found")
		return
	}
	response.OK(c, task)
}

// list GET /extractions
func (h *Handler) list(c *gin.Context) {
	q := pagination.FromContext(c)
	mode := c.Query("mode")
	if mode != "" {
		if _, ok := prompt.ParseMode(mode); !ok {
			response.BadRequest(c, "unknown mode")
			return
		}
	}

	records, pag, err := h.store.ListRecords(c.Request.Context(), middleware.CurrentUserID(c), mode, q)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]*Response, len(records))
	for i := range records {
		items[i] = RecordResponse(&records[i])
	}
	response.Paged(c, items, pag)
}

// get GET /extractions/:id
func (h *Handler) get(c *gin.Context) {
	rec, err := h.store.GetRecord(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if rec == nil {
		response.NotFoundMsg(c, "extraction not found")
		return
	}
	response.OK(c, RecordResponse(rec))
}

// markdown GET /extractions/:id/markdown
func (h *Handler) markdown(c *gin.Context) {
	rec, err := h.store.GetRecord(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if rec == nil {
		response.NotFoundMsg(c, "extraction not found")
		return
	}

	doc := ExportDocument(rec)
	if c.Query("format") == "html" {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(markdown.RenderHTMLDocument(doc)))
		return
	}
	text, err := markdown.Render(doc)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+markdown.Filename(doc)+`"`)
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(text))
}

// delete DELETE /extractions/:id
func (h *Handler) delete(c *gin.Context) {
	found, err := h.store.DeleteRecord(c.Request.Context(), middleware.CurrentUserID(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !found {
		response.NotFoundMsg(c, "extraction not found")
		return
	}
	response.NoContent(c)
}

// quota GET /quota
func (h *Handler) quota(c *gin.Context) {
	userID := middleware.CurrentUserID(c)
	d, err := h.limiter.Peek(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, apperr.Internal(err))
		return
	}
	usage, err := h.store.UsageSince(c.Request.Context(), userID, time.Now().Add(-30*24*time.Hour))
	if err != nil {
		h.logger.Warn("usage summary failed", zap.Error(err))
	}
	setQuotaHeaders(c, d)
	response.OK(c, gin.H{
		"limit":     d.Limit,
		"remaining": d.Remaining,
		"resetAt":   d.ResetAt,
		"usage30d":  usage,
	})
}

// modes GET /modes
func (h *Handler) modes(c *gin.Context) {
	modes := make([]string, len(prompt.Modes))
	for i, m := range prompt.Modes {
		modes[i] = string(m)
	}
	response.OK(c, modes)
}
