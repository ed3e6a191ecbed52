package api

import (
	"net/http"
	"strings"

	"bakery-service/internal/service"

	"github.com/gin-gonic/gin"
)

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"
	roleAdmin      = "admin"
	callerKey      = "caller"
)

// identity reads the caller forwarded by the auth gateway. Requests without
// a user id pass through as anonymous.
func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := service.Caller{
			UserID: strings.TrimSpace(c.GetHeader(headerUserID)),
			Admin:  strings.EqualFold(strings.TrimSpace(c.GetHeader(headerUserRole)), roleAdmin),
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}

func callerFrom(c *gin.Context) service.Caller {
	if v, ok := c.Get(callerKey); ok {
		if caller, ok := v.(service.Caller); ok {
			return caller
		}
	}
	return service.Caller{}
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if callerFrom(c).UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing " + headerUserID + " header",
			})
			return
		}
		c.Next()
	}
}

func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !callerFrom(c).Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "administrator role required",
			})
			return
		}
		c.Next()
	}
}
