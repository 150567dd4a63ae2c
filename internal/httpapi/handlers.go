package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/language"
)

// CallCreator opens a web call with the voice provider.
type CallCreator interface {
	CreateWebCall(ctx context.Context, agentID string, metadata map[string]string) (WebCall, error)
}

type createCallRequest struct {
	Language string `json:"language" binding:"omitempty,max=35"`
	AgentID  string `json:"agentId" binding:"omitempty,max=128"`
}

type createCallResponse struct {
	AccessToken string `json:"access_token"`
	CallID      string `json:"call_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type callHandler struct {
	calls         CallCreator
	defaultAgent  string
	allowedAgents []string
}

func (h *callHandler) createCall(c *gin.Context) {
	var req createCallRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}
	}

	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = h.defaultAgent
	}
	if agentID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "agentId is required"})
		return
	}
	if len(h.allowedAgents) > 0 && !slices.Contains(h.allowedAgents, agentID) {
		c.AbortWithStatusJSON(http.StatusForbidden, errorResponse{Error: "agent is not allowed"})
		return
	}

	lang := "en-US"
	if raw := strings.TrimSpace(req.Language); raw != "" {
		tag, err := language.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "invalid language"})
			return
		}
		lang = tag.String()
	}

	call, err := h.calls.CreateWebCall(c.Request.Context(), agentID, map[string]string{
		"language": lang,
		"source":   "voicedesk",
	})
	if err != nil {
		_ = c.Error(fmt.Errorf("create web call for agent %s: %w", agentID, err))
		c.AbortWithStatusJSON(http.StatusBadGateway, errorResponse{Error: "failed to create call"})
		return
	}

	c.JSON(http.StatusOK, createCallResponse{AccessToken: call.AccessToken, CallID: call.CallID})
}
