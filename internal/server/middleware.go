package server

import (
	"time"

	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.FullPath(),
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if fields["path"] == "" {
		fields["path"] = c.Request.URL.Path
	}
	if userID, _ := helpers.CurrentUser(c); userID != "" {
		fields["user_id"] = userID
	}
	utils.Info("HTTP Request", fields)
}
