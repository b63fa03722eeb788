package access

import (
	"context"
	"errors"
	"net/http"

	"link-platform/internal/apperr"
	"link-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

const paramConversationID = "conversation_id"

// Participants resolves the other member of a two-party conversation.
type Participants interface {
	Peer(ctx context.Context, conversationID, userID string) (string, error)
}

// RequireParticipant enforces that the authenticated user belongs to :conversation_id.
// Use it after auth.RequireAccessToken.
func RequireParticipant(p Participants) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := auth.UserID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required", "code": apperr.CodeNotAuthorized})
			return
		}
		convID := c.Param(paramConversationID)
		if convID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "conversation_id required", "code": apperr.CodeValidationFailed})
			return
		}

		_, err = p.Peer(c.Request.Context(), convID, uid)
		switch {
		case err == nil:
		case errors.Is(err, apperr.ErrNotAuthorized):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperr.CodeNotAuthorized})
			return
		case errors.Is(err, apperr.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found", "code": apperr.CodeNotFound})
			return
		case errors.Is(err, apperr.ErrValidationFailed):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeValidationFailed})
			return
		default:
			_ = c.Error(err)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "membership lookup failed", "code": apperr.CodeStoreUnavailable})
			return
		}

		c.Next()
	}
}
