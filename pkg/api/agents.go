package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/queryhive/queryhive/pkg/services"
)

func (s *Server) handleAgentCreate(c *gin.Context) {
	var in services.AgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	agent, err := s.deps.Agents.Create(c.Request.Context(), currentUserID(c), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

func (s *Server) handleAgentList(c *gin.Context) {
	agents, pagination, err := s.deps.Agents.List(c.Request.Context(), currentUserID(c), pageRequest(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondPage(c, agents, pagination)
}

func (s *Server) handleAgentGet(c *gin.Context) {
	agent, err := s.deps.Agents.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleAgentUpdate(c *gin.Context) {
	var in services.AgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	agent, err := s.deps.Agents.Update(c.Request.Context(), currentUserID(c), c.Param("id"), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleAgentDelete(c *gin.Context) {
	if err := s.deps.Agents.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAgentSessions(c *gin.Context) {
	// Ownership of the agent gates the listing.
	if _, err := s.deps.Agents.Get(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	sessions, pagination, err := s.deps.Sessions.List(c.Request.Context(), currentUserID(c), c.Param("id"), pageRequest(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondPage(c, sessions, pagination)
}
