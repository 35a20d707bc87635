package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"talkingrock/internal/model"
	"talkingrock/internal/pipeline"
)

// ChatHandler exposes the pipeline over POST /chat
type ChatHandler struct {
	orchestrator *pipeline.Orchestrator
	maxBodySize  int64
}

// NewChatHandler creates the chat handler
func NewChatHandler(orchestrator *pipeline.Orchestrator, maxBodySize int) *ChatHandler {
	return &ChatHandler{
		orchestrator: orchestrator,
		maxBodySize:  int64(maxBodySize),
	}
}

// Chat handles POST /chat. Transport problems (bad JSON, wrong content
// type) are 4xx; every pipeline verdict ships as 200 with the envelope.
func (h *ChatHandler) Chat(c *gin.Context) {
	contentType := c.GetHeader("Content-Type")
	if base := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0])); base != "" && base != "application/json" {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "Content-Type must be application/json"})
		return
	}

	// Bound the body before decoding; the gateway re-checks the declared Content-Length.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodySize)

	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	resp := h.orchestrator.Process(c.Request.Context(), pipeline.Request{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		RemoteAddr:     c.Request.RemoteAddr,
		XForwardedFor:  c.GetHeader("X-Forwarded-For"),
		XRealIP:        c.GetHeader("X-Real-IP"),
		ContentType:    contentType,
		BodySize:       int(c.Request.ContentLength),
	})

	c.JSON(http.StatusOK, resp)
}
