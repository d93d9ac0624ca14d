package utils

import (
	"github.com/gin-gonic/gin"
)

// JSONResponse sends the standard success body: status, message and data
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends the standard error body. err carries the detail, message
// is the short client-facing reason.
func JSONError(c *gin.Context, status int, err error, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"error":   err.Error(),
	})
}

// AbortJSONError is JSONError for middleware that must stop the chain
func AbortJSONError(c *gin.Context, status int, err error, message string) {
	JSONError(c, status, err, message)
	c.Abort()
}
