package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type sessionCreateRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	Title   string `json:"title"`
}

func (s *Server) handleSessionCreate(c *gin.Context) {
	var req sessionCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	// Ownership of the agent gates session creation.
	if _, err := s.deps.Agents.Get(c.Request.Context(), currentUserID(c), req.AgentID); err != nil {
		s.respondError(c, err)
		return
	}
	session, err := s.deps.Sessions.Create(c.Request.Context(), currentUserID(c), req.AgentID, req.Title)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) handleSessionGet(c *gin.Context) {
	session, err := s.deps.Sessions.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleSessionMessages(c *gin.Context) {
	msgs, pagination, err := s.deps.Sessions.Messages(c.Request.Context(), currentUserID(c), c.Param("id"), pageRequest(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondPage(c, msgs, pagination)
}

func (s *Server) handleSessionArchive(c *gin.Context) {
	if err := s.deps.Sessions.Archive(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	session, err := s.deps.Sessions.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (s *Server) handleSessionDelete(c *gin.Context) {
	if err := s.deps.Sessions.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
