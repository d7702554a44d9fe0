package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/domain/audit"
	"github.com/ryanwelchtech/tactical-edge-comm-gateway/internal/gateway"
)

type handler struct {
	svc *gateway.Service
}

func newHandler(svc *gateway.Service) *handler {
	return &handler{svc: svc}
}

func (h *handler) handleIssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	ttl := time.Duration(req.TTLSecs) * time.Second
	token, err := h.svc.IssueToken(c.Request.Context(), gateway.TokenRequest{
		Subject: req.Subject,
		NodeID:  req.NodeID,
		Role:    req.Role,
		TTL:     ttl,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{Token: token})
}

func (h *handler) handleSubmitMessage(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		WriteErrorCode(c, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	result, err := h.svc.SubmitMessage(c.Request.Context(), p, req.toInput())
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toSubmitResponse(result))
}

func (h *handler) handleGetStatus(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	view, err := h.svc.GetStatus(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toStatusResponse(view))
}

func (h *handler) handleGetContent(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	plaintext, err := h.svc.GetContent(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, contentResponse{Content: string(plaintext)})
}

func (h *handler) handleAcknowledge(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	result, err := h.svc.Acknowledge(c.Request.Context(), p, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAckResponse(result))
}

func (h *handler) handleListNodes(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	nodes, err := h.svc.ListNodes(c.Request.Context(), p)
	if err != nil {
		WriteError(c, err)
		return
	}
	views := make([]nodeView, 0, len(nodes))
	for _, n := range nodes {
		views = append(views, toNodeView(n))
	}
	c.JSON(http.StatusOK, gin.H{"nodes": views})
}

func (h *handler) handleQueueStatus(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	depths, err := h.svc.GetQueueDepths(c.Request.Context(), p)
	if err != nil {
		WriteError(c, err)
		return
	}
	out := make(map[string]int, len(depths))
	for precedence, depth := range depths {
		out[string(precedence)] = depth
	}
	c.JSON(http.StatusOK, gin.H{"depths": out})
}

func (h *handler) handleQueryAudit(c *gin.Context) {
	p, ok := PrincipalFromContext(c)
	if !ok {
		WriteErrorCode(c, http.StatusInternalServerError, "INTERNAL_ERROR", "principal missing")
		return
	}
	filter := audit.Filter{
		ControlFamily: audit.ControlFamily(c.Query("control_family")),
		EventType:     audit.EventType(c.Query("event_type")),
		NodeID:        c.Query("node_id"),
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.Start = t
		}
	}
	if v := c.Query("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.End = t
		}
	}
	events, err := h.svc.QueryAudit(c.Request.Context(), p, filter)
	if err != nil {
		WriteError(c, err)
		return
	}
	views := make([]auditEventView, 0, len(events))
	for _, e := range events {
		views = append(views, toAuditEventView(e))
	}
	c.JSON(http.StatusOK, gin.H{"events": views})
}
