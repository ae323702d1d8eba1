package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /api/v1/session
func (s *Server) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Service().SessionStatus())
}

// GET /api/v1/diagnostics
func (s *Server) getDiagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Service().Diagnostics())
}

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}
