package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/queryhive/queryhive/pkg/models"
	"github.com/queryhive/queryhive/pkg/services"
)

// errorBody is the uniform error response shape.
type errorBody struct {
	Error string `json:"error"`
}

// respondError maps service sentinel errors to HTTP statuses. Unexpected
// errors are logged and masked as 500s.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalid):
		c.JSON(http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, services.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, services.ErrForbidden):
		c.JSON(http.StatusForbidden, errorBody{Error: "forbidden"})
	case errors.Is(err, services.ErrConflict):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, services.ErrNotCancellable):
		c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
	default:
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

// pageEnvelope is the shared paginated response shape.
type pageEnvelope struct {
	Items      any               `json:"items"`
	Pagination models.Pagination `json:"pagination"`
}

func respondPage(c *gin.Context, items any, p models.Pagination) {
	c.JSON(http.StatusOK, pageEnvelope{Items: items, Pagination: p})
}

// pageRequest reads page/per_page query parameters.
func pageRequest(c *gin.Context) models.PageRequest {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ := strconv.Atoi(c.DefaultQuery("per_page", "20"))
	return models.PageRequest{Page: page, PerPage: perPage}.Normalize()
}
