package httpauth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "httpauth.identity"

// Middleware rejects requests without a valid bearer token and stashes
// the caller identity on the gin context.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := v.IdentityFromRequest(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

// CallerIdentity returns the identity stashed by Middleware, or nil.
func CallerIdentity(c *gin.Context) *Identity {
	val, ok := c.Get(identityKey)
	if !ok {
		return nil
	}
	identity, _ := val.(*Identity)
	return identity
}
