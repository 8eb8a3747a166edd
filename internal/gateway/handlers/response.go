package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

func successResponse(message string, data interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	}
}

func errorResponse(message string) APIResponse {
	return APIResponse{
		Success: false,
		Message: message,
	}
}

func successWithMetaResponse(message string, data interface{}, meta interface{}) APIResponse {
	return APIResponse{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    meta,
	}
}

// handleGRPCError writes the HTTP form of a status error and aborts the request.
func handleGRPCError(c *gin.Context, err error) {
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.InvalidArgument, codes.FailedPrecondition:
			c.JSON(http.StatusBadRequest, errorResponse(s.Message()))
		case codes.Unauthenticated:
			c.JSON(http.StatusUnauthorized, errorResponse(s.Message()))
		case codes.PermissionDenied:
			c.JSON(http.StatusForbidden, errorResponse(s.Message()))
		case codes.NotFound:
			c.JSON(http.StatusNotFound, errorResponse(s.Message()))
		case codes.AlreadyExists:
			c.JSON(http.StatusConflict, errorResponse(s.Message()))
		case codes.Unavailable:
			c.JSON(http.StatusServiceUnavailable, errorResponse(s.Message()))
		default:
			c.JSON(http.StatusInternalServerError, errorResponse("Service error: "+s.Message()))
		}
	} else {
		c.JSON(http.StatusInternalServerError, errorResponse("Unknown service error"))
	}
	c.Abort()
}

func requestContext(c *gin.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), timeout)
}
