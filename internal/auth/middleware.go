package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// Middleware creates a gin middleware that rejects requests without a valid
// token and stores the verified Identity in the context.
func Middleware(verifier Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := verifier.Verify(c.Request.Context(), TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(identityKey, identity)
		c.Next()
	}
}

// IdentityFrom returns the identity stored by Middleware
func IdentityFrom(c *gin.Context) (*Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	identity, ok := v.(*Identity)
	return identity, ok
}
