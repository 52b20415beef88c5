package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/queryhive/queryhive/pkg/models"
)

type connectionRequest struct {
	Kind    models.ConnectionKind    `json:"kind" binding:"required"`
	Payload models.ConnectionPayload `json:"payload" binding:"required"`
}

func (s *Server) handleConnectionTest(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	result := s.deps.Connections.Probe(c.Request.Context(), req.Kind, req.Payload)
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleConnectionCreate(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	conn, err := s.deps.Connections.Create(c.Request.Context(), currentUserID(c), req.Kind, req.Payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sanitizeConnection(conn))
}

func (s *Server) handleConnectionList(c *gin.Context) {
	conns, pagination, err := s.deps.Connections.List(c.Request.Context(), currentUserID(c), pageRequest(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	out := make([]*models.Connection, len(conns))
	for i := range conns {
		out[i] = sanitizeConnection(&conns[i])
	}
	respondPage(c, out, pagination)
}

func (s *Server) handleConnectionGet(c *gin.Context) {
	conn, err := s.deps.Connections.Get(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sanitizeConnection(conn))
}

func (s *Server) handleConnectionUpdate(c *gin.Context) {
	var req connectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	conn, err := s.deps.Connections.Update(c.Request.Context(), currentUserID(c), c.Param("id"), req.Kind, req.Payload)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sanitizeConnection(conn))
}

func (s *Server) handleConnectionDelete(c *gin.Context) {
	if err := s.deps.Connections.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// sanitizeConnection blanks the stored password before a connection leaves
// the API.
func sanitizeConnection(conn *models.Connection) *models.Connection {
	out := *conn
	if out.Payload.Password != "" {
		out.Payload.Password = "***"
	}
	return &out
}
