package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"collabcore/internal/collab"
	"collabcore/internal/ot"
)

type Handler struct {
	svc    *collab.Service
	logger *zap.Logger
}

func NewHandler(svc *collab.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register 挂载全部协作端点。调用方负责先挂身份中间件。
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/documents", h.CreateOrGetDocument)
	r.GET("/documents/:docID", h.GetDocument)
	r.POST("/documents/:docID/join", h.Join)
	r.POST("/documents/:docID/leave", h.Leave)
	r.POST("/documents/:docID/heartbeat", h.Heartbeat)
	r.PUT("/documents/:docID/cursor", h.UpdateCursor)
	r.POST("/documents/:docID/operations", h.ApplyOperation)
	r.GET("/documents/:docID/operations", h.OpsSince)
	r.GET("/documents/:docID/collaborators", h.ListCollaborators)
	r.GET("/documents/:docID/cursors", h.ListCursors)
	r.PUT("/documents/:docID/title", h.UpdateTitle)
	r.POST("/maintenance/sweep", h.Sweep)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, collab.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, collab.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, collab.ErrInvalidOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, collab.ErrStaleApply):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

func participantID(c *gin.Context) uint64 { return c.GetUint64("participantId") }

type createDocumentReq struct {
	SessionID string `json:"sessionId" binding:"required"`
}

func (h *Handler) CreateOrGetDocument(c *gin.Context) {
	var req createDocumentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.svc.CreateOrGetDocument(c.Request.Context(), req.SessionID)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *Handler) GetDocument(c *gin.Context) {
	doc, err := h.svc.GetDocument(c.Request.Context(), c.Param("docID"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

type joinReq struct {
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
}

func (h *Handler) Join(c *gin.Context) {
	var req joinReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.DisplayName == "" {
		req.DisplayName = c.GetString("displayName")
	}
	if err := h.svc.Join(c.Request.Context(), c.Param("docID"), participantID(c), req.DisplayName, req.Color); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Leave(c *gin.Context) {
	if err := h.svc.Leave(c.Request.Context(), c.Param("docID"), participantID(c)); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Heartbeat(c *gin.Context) {
	if err := h.svc.Heartbeat(c.Request.Context(), c.Param("docID"), participantID(c)); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type cursorReq struct {
	Position       int  `json:"position"`
	SelectionStart *int `json:"selectionStart"`
	SelectionEnd   *int `json:"selectionEnd"`
}

func (h *Handler) UpdateCursor(c *gin.Context) {
	var req cursorReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.UpdateCursor(c.Request.Context(), c.Param("docID"), participantID(c), req.Position, req.SelectionStart, req.SelectionEnd); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type applyOperationReq struct {
	Kind     string `json:"kind" binding:"required"`
	Position int    `json:"position"`
	Text     string `json:"text"`
	Length   int    `json:"length"`
	ClientID string `json:"clientId"`
}

func (h *Handler) ApplyOperation(c *gin.Context) {
	var req applyOperationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	op := ot.Op{Kind: ot.Kind(req.Kind), Pos: req.Position, Text: req.Text, Len: req.Length}
	seq, err := h.svc.ApplyOperation(c.Request.Context(), c.Param("docID"), participantID(c), req.ClientID, op)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"seq": seq})
}

type opsSinceReq struct {
	FromSeq uint64 `form:"fromSeq"`
	Limit   int    `form:"limit"`
}

func (h *Handler) OpsSince(c *gin.Context) {
	var req opsSinceReq
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ops, err := h.svc.OpsSince(c.Request.Context(), c.Param("docID"), req.FromSeq, req.Limit)
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ops": ops})
}

func (h *Handler) ListCollaborators(c *gin.Context) {
	members, err := h.svc.ListCollaborators(c.Request.Context(), c.Param("docID"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"collaborators": members})
}

func (h *Handler) ListCursors(c *gin.Context) {
	cursors, err := h.svc.ListCursors(c.Request.Context(), c.Param("docID"))
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cursors": cursors})
}

type titleReq struct {
	Title string `json:"title" binding:"required"`
}

func (h *Handler) UpdateTitle(c *gin.Context) {
	var req titleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.svc.UpdateTitle(c.Request.Context(), c.Param("docID"), participantID(c), req.Title); err != nil {
		h.abort(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Sweep(c *gin.Context) {
	count, err := h.svc.SweepStaleCollaborators(c.Request.Context())
	if err != nil {
		h.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swept": count})
}
