package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/city-alerts/internal/feed"
	"github.com/mr1hm/city-alerts/internal/models"
	"github.com/mr1hm/city-alerts/internal/session"
)

type Handler struct {
	feed feed.AlertFeed
	rps  int
	done chan struct{}
}

// NewHandler serves f. Write routes are limited to rps requests per second;
// zero disables the limit.
func NewHandler(f feed.AlertFeed, rps int) *Handler {
	return &Handler{
		feed: f,
		rps:  rps,
		done: make(chan struct{}),
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	alerts := r.Group("/api/alerts")
	alerts.GET("", h.listAlerts)
	alerts.GET("/geojson", h.geoJSON)
	alerts.GET("/stream", h.stream)
	alerts.GET("/:id", h.getAlert)

	writes := alerts.Group("")
	if h.rps > 0 {
		writes.Use(RateLimitMiddleware(h.rps))
	}
	writes.POST("", h.sendAlert)
	writes.POST("/:id/resolve", h.resolveAlert)
	writes.PATCH("/:id/status", h.setStatus)

	r.GET("/health", h.health)
}

// Close ends open event streams.
func (h *Handler) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Handler) sendAlert(c *gin.Context) {
	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, err := h.feed.Append(c.Request.Context(), &draft)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *Handler) listAlerts(c *gin.Context) {
	snap, err := h.feed.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (h *Handler) getAlert(c *gin.Context) {
	a, err := h.feed.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (h *Handler) resolveAlert(c *gin.Context) {
	if err := h.feed.Resolve(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

func (h *Handler) setStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.feed.SetStatus(c.Request.Context(), c.Param("id"), req.Status); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// geoJSON renders the visible set for a map view. types restricts the hazard
// types shown, dismissed lists ids to hide.
func (h *Handler) geoJSON(c *gin.Context) {
	filters, err := session.ParseFilters(c.Query("types"))
	if err != nil {
		writeError(c, err)
		return
	}
	view := session.NewWithFilters(filters)
	for _, id := range strings.Split(c.Query("dismissed"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			view.Dismiss(id)
		}
	}

	snap, err := h.feed.Snapshot(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	fc := toGeoJSON(view.View(snap.Alerts))
	c.Header("Content-Type", "application/geo+json")
	c.JSON(http.StatusOK, fc)
}

type streamEvent struct {
	snap feed.Snapshot
	err  error
}

// stream pushes every snapshot as a Server-Sent Event named "alerts". Store
// failures arrive as "error" events and the stream stays open.
func (h *Handler) stream(c *gin.Context) {
	ctx := c.Request.Context()
	pending := make(chan streamEvent, 1)
	push := func(ev streamEvent) {
		for {
			select {
			case pending <- ev:
				return
			default:
			}
			select {
			case <-pending:
			default:
			}
		}
	}

	sub, err := h.feed.Subscribe(ctx, feed.ListenerFuncs{
		Snapshot: func(s feed.Snapshot) { push(streamEvent{snap: s}) },
		Error:    func(err error) { push(streamEvent{err: err}) },
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-h.done:
			return false
		case ev := <-pending:
			if ev.err != nil {
				c.SSEvent("error", gin.H{"error": ev.err.Error()})
			} else {
				c.SSEvent("alerts", ev.snap)
			}
			return true
		}
	})
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTerminalStatus):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrTransport):
		slog.Error("alert store unavailable", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert store unavailable"})
	default:
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
