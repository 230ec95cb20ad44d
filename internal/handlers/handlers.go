package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/pneumoscan/internal/history"
	"github.com/example/pneumoscan/internal/inference"
	"github.com/example/pneumoscan/internal/ingest"
	"github.com/example/pneumoscan/internal/session"
)

// MaxUploadSize is the largest accepted image.
const MaxUploadSize = ingest.MaxUploadSize

// multipartOverhead leaves room for boundaries and part headers around the
// image when capping the request body.
const multipartOverhead = 64 << 10

// HistoryReader exposes the persisted history log.
type HistoryReader interface {
	ReadAll(ctx context.Context) history.Log
}

type handler struct {
	sessions *session.Registry
	history  HistoryReader
	logger   *zap.Logger
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, sessions *session.Registry, hist HistoryReader, logger *zap.Logger) {
	h := &handler{sessions: sessions, history: hist, logger: logger.Named("handlers")}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/sessions", h.createSession)
	router.GET("/sessions/:id", h.getSession)
	router.DELETE("/sessions/:id", h.deleteSession)
	router.POST("/sessions/:id/file", h.selectFile)
	router.POST("/sessions/:id/analyze", h.analyze)
	router.POST("/sessions/:id/reset", h.reset)

	router.GET("/history", h.listHistory)
	router.GET("/history/summary", h.historySummary)
}

func (h *handler) createSession(c *gin.Context) {
	s := h.sessions.Create()
	c.JSON(http.StatusCreated, gin.H{"session": s.Snapshot()})
}

func (h *handler) getSession(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	h.respond(c, http.StatusOK, s.Snapshot(), nil)
}

func (h *handler) deleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) selectFile(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)
	file, err := c.FormFile(inference.FileField)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.respond(c, http.StatusRequestEntityTooLarge, s.RejectTooLarge(), ingest.ErrFileTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}
	if file.Size > MaxUploadSize {
		h.respond(c, http.StatusRequestEntityTooLarge, s.RejectTooLarge(), ingest.ErrFileTooLarge)
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return
	}
	defer src.Close()

	source := ingest.ParseSource(c.Query("source"))
	snap, err := s.SelectFile(c.Request.Context(), file.Filename, file.Header.Get("Content-Type"), src, source)
	if err != nil {
		h.respond(c, statusFor(err), snap, err)
		return
	}
	h.respond(c, http.StatusOK, snap, nil)
}

func (h *handler) analyze(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}

	_, err := s.Analyze(c.Request.Context())
	if err != nil {
		h.logger.Info("analysis not completed", zap.String("session_id", s.ID()), zap.Error(err))
		h.respond(c, statusFor(err), s.Snapshot(), err)
		return
	}
	h.respond(c, http.StatusOK, s.Snapshot(), nil)
}

func (h *handler) reset(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	h.respond(c, http.StatusOK, s.Reset(), nil)
}

func (h *handler) listHistory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"entries": h.history.ReadAll(c.Request.Context())})
}

func (h *handler) historySummary(c *gin.Context) {
	c.JSON(http.StatusOK, history.Summarize(h.history.ReadAll(c.Request.Context())))
}

func (h *handler) lookup(c *gin.Context) (*session.Session, bool) {
	s, err := h.sessions.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return s, true
}

// respond writes the session snapshot together with any notifications the
// session produced since the last response.
func (h *handler) respond(c *gin.Context, status int, snap session.Snapshot, err error) {
	notes, drainErr := h.sessions.Drain(snap.ID)
	if drainErr != nil {
		notes = []session.Notification{}
	}
	body := gin.H{"session": snap, "notifications": notes}
	if err != nil {
		body["error"] = err.Error()
	}
	c.JSON(status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrInvalidFileType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, ingest.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrAnalysisInProgress),
		errors.Is(err, session.ErrNotReady),
		errors.Is(err, session.ErrNoFile),
		errors.Is(err, session.ErrStaleResponse):
		return http.StatusConflict
	case errors.Is(err, inference.ErrNetworkOrServer),
		errors.Is(err, inference.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
