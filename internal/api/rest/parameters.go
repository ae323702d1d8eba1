package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/BragerSync/internal/bragerone"
	"github.com/KevinKickass/BragerSync/internal/params"
	"github.com/KevinKickass/BragerSync/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/parameters
func (s *Server) listParameters(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"parameters": s.lm.Service().Parameters(),
	})
}

// GET /api/v1/parameters/:symbol
func (s *Server) getParameter(c *gin.Context) {
	symbol := c.Param("symbol")
	view, ok := s.lm.Service().Parameter(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse(types.CodeUnknownSymbol, "Unknown parameter", symbol))
		return
	}
	c.JSON(http.StatusOK, view)
}

type writeRequest struct {
	Value any `json:"value"`
}

// POST /api/v1/parameters/:symbol/write
func (s *Server) writeParameter(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", err.Error()))
		return
	}
	if req.Value == nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, "Invalid request body", "value is required"))
		return
	}

	symbol := c.Param("symbol")
	result, err := s.lm.Service().Write(c.Request.Context(), symbol, req.Value)
	if err != nil {
		status, body := writeError(err)
		if status >= 500 {
			s.logger.Warn("Parameter write failed",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusAccepted, result)
}

// writeError maps pipeline errors to HTTP responses.
func writeError(err error) (int, types.ErrorResponse) {
	var verr *params.ValidationError
	if errors.As(err, &verr) {
		details := gin.H{"kind": verr.Kind, "symbol": verr.Symbol}
		if verr.Value != nil {
			details["value"] = verr.Value
		}
		if verr.Limit != nil {
			details["limit"] = verr.Limit
		}
		if verr.Kind == params.KindUnknownSymbol {
			return http.StatusNotFound, types.NewErrorResponse(types.CodeUnknownSymbol, verr.Error(), details)
		}
		return http.StatusUnprocessableEntity, types.NewErrorResponse(types.CodeValidation, verr.Error(), details)
	}

	var terr *bragerone.TransportError
	if errors.As(err, &terr) && terr.Timeout {
		return http.StatusGatewayTimeout, types.NewErrorResponse(types.CodeTransportTimeout, "Backend did not answer in time", err.Error())
	}
	return http.StatusBadGateway, types.NewErrorResponse(types.CodeTransport, "Backend rejected the command", err.Error())
}
