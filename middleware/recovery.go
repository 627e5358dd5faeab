package middleware

import (
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/soham2yu/Bookscan-AI-Frontend/model"
	"github.com/soham2yu/Bookscan-AI-Frontend/pkg/logger"
)

// PanicResponse is the body sent when a handler panics.
type PanicResponse struct {
	model.ErrorResponse
	RequestID string `json:"request_id"`
}

// Recovery turns a handler panic into a logged 500. A client that went away
// mid-response (http.ErrAbortHandler) is not logged as a failure, and a
// response that has already started is cut off instead of getting a body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				logger.Debug(c.Request.Context(), "client aborted", "path", c.Request.URL.Path)
				c.Abort()
				return
			}

			logger.Error(c.Request.Context(), "panic recovered",
				"error", rec,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"stack", string(debug.Stack()),
			)

			if c.Writer.Written() {
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, PanicResponse{
				ErrorResponse: model.ErrorResponse{Error: "Internal server error"},
				RequestID:     GetRequestID(c),
			})
		}()

		c.Next()
	}
}
