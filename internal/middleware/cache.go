package middleware

import "github.com/gin-gonic/gin"

// NoStore marks authoring responses uncacheable; drafts change under the client.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
		c.Header("Pragma", "no-cache")
		c.Header("Expires", "0")
		c.Next()
	}
}

// Immutable lets clients cache a response forever. Only pinned snapshot
// versions qualify.
func Immutable() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Cache-Control", "public, max-age=31536000, immutable")
		c.Next()
	}
}
