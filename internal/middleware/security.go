package middleware

import "github.com/gin-gonic/gin"

// SurfaceHeaders hardens the worker control endpoints. Intercepted origin traffic keeps the
// origin's own headers, so this is only mounted on the control group.
func SurfaceHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Header("Referrer-Policy", "no-referrer")
		c.Next()
	}
}
