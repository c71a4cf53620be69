package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	conderr "conductor/internal/errors"
)

type startWorkflowRequest struct {
	Description string `json:"description" binding:"required"`
}

func (s *Server) handleStartWorkflow(c *gin.Context) {
	var req startWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "description is required"})
		return
	}

	workflowID, err := s.orch.StartWorkflow(c.Request.Context(), req.Description)
	if err != nil {
		var rejected *conderr.AdmissionRejected
		if errors.As(err, &rejected) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":  err.Error(),
				"limit":  rejected.Limit,
				"active": rejected.Active,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"workflow_id": workflowID})
}

func (s *Server) handleListWorkflows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"workflows": s.orch.Background().List()})
}

func (s *Server) handleGetWorkflow(c *gin.Context) {
	state, ok := s.orch.Background().GetState(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown workflow"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// handleViewWorkflow marks a workflow as the one the user is watching, which
// clears its pending-attention flag and standing notifications.
func (s *Server) handleViewWorkflow(c *gin.Context) {
	workflowID := c.Param("id")
	if _, ok := s.orch.Background().GetState(workflowID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown workflow"})
		return
	}
	s.orch.Background().SetViewed(workflowID, nil)
	c.JSON(http.StatusOK, gin.H{"viewed": workflowID})
}

func (s *Server) handleNotifications(c *gin.Context) {
	notes := s.orch.Background().Drain()
	out := make([]gin.H, 0, len(notes))
	for _, n := range notes {
		out = append(out, gin.H{
			"workflow_id": n.WorkflowID,
			"status":      string(n.Status),
			"message":     n.Message,
			"persistent":  n.Persistent,
		})
	}
	c.JSON(http.StatusOK, gin.H{"notifications": out})
}

// handleEventStream serves the workflow's events as SSE, replaying retained
// history before switching to live delivery.
func (s *Server) handleEventStream(c *gin.Context) {
	workflowID := c.Param("id")
	ch, cancel := s.orch.Events().Subscribe(workflowID)
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(event.EventType(), encodeEvent(event))
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			return
		}
	}
}
