package server

import (
	"net/http"
	"time"

	"realtime-auction/utils"

	"github.com/gin-gonic/gin"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates the caller's X-Request-ID or assigns a new one
func RequestIDMiddleware(c *gin.Context) {
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = utils.NewID()
	}
	c.Set(requestIDHeader, id)
	c.Header(requestIDHeader, id)
	c.Next()
}

// RequestLoggerMiddleware logs incoming requests with timing. Health checks
// are logged at debug level.
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     c.Writer.Status(),
		"latency":    time.Since(start).String(),
		"client_ip":  c.ClientIP(),
		"request_id": c.GetString(requestIDHeader),
	}
	if c.FullPath() == healthPath {
		utils.Debug("HTTP Request", fields)
		return
	}
	utils.Info("HTTP Request", fields)
}

// NotReadyMiddleware rejects new work once the server has begun draining
func (s *Server) NotReadyMiddleware(c *gin.Context) {
	if !s.isReady.Load() && c.FullPath() != healthPath {
		utils.AbortJSONError(c, http.StatusServiceUnavailable, errServerDraining, "server is shutting down")
		return
	}
	c.Next()
}
