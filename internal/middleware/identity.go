package middleware

import (
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"github.com/aliskhannn/video-transcoder/internal/api/respond"
	"github.com/aliskhannn/video-transcoder/internal/model"
)

// Headers set by the gateway after authenticating the caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

const identityKey = "identity"

// Identity requires a usable X-User-ID header and stores the caller in the
// request context.
func Identity() func(*ginext.Context) {
	return func(c *ginext.Context) {
		id, ok := identityFromHeaders(c.GetHeader(HeaderUserID), c.GetHeader(HeaderUserRole))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, respond.Error{Message: "valid " + HeaderUserID + " header is required"})
			return
		}

		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin rejects callers without the admin role. It must run after
// Identity.
func RequireAdmin() func(*ginext.Context) {
	return func(c *ginext.Context) {
		id, ok := GetIdentity(c)
		if !ok || !id.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, respond.Error{Message: "admin role required"})
			return
		}

		c.Next()
	}
}

// GetIdentity returns the caller stored by Identity.
func GetIdentity(c *ginext.Context) (model.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return model.Identity{}, false
	}
	id, ok := v.(model.Identity)
	return id, ok
}

func identityFromHeaders(userID, role string) (model.Identity, bool) {
	userID = strings.TrimSpace(userID)
	if !model.ValidOwnerID(userID) {
		return model.Identity{}, false
	}
	return model.Identity{
		UserID: userID,
		Role:   strings.ToLower(strings.TrimSpace(role)),
	}, true
}
