package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/queryhive/queryhive/pkg/models"
)

type runCreateRequest struct {
	Question      string  `json:"question" binding:"required"`
	ChatSessionID *string `json:"chat_session_id"`
}

func (s *Server) handleRunCreate(c *gin.Context) {
	var req runCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	run, err := s.deps.Runs.Create(c.Request.Context(), currentUserID(c), c.Param("id"), req.Question, req.ChatSessionID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleRunGet(c *gin.Context) {
	run, err := s.deps.Runs.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleRunList(c *gin.Context) {
	filter := models.RunFilter{
		AgentID:       c.Query("agent_id"),
		ChatSessionID: c.Query("chat_session_id"),
		Status:        models.RunStatus(c.Query("status")),
	}
	runs, pagination, err := s.deps.Runs.List(c.Request.Context(), currentUserID(c), filter, pageRequest(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondPage(c, runs, pagination)
}

func (s *Server) handleRunCancel(c *gin.Context) {
	run, err := s.deps.Runs.Cancel(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}
