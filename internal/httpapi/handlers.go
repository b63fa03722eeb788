package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"link-platform/internal/access"
	"link-platform/internal/apperr"
	"link-platform/internal/auth"
	"link-platform/internal/calls"
	"link-platform/internal/conversations"
	"link-platform/internal/media"
	"link-platform/internal/messages"
	"link-platform/internal/notify"
	"link-platform/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth          *auth.Manager
	Calls         *calls.Service
	Messages      *messages.Service
	Conversations *conversations.Service
	Reports       *reporting.Service
	Media         *media.Issuer
	Push          notify.SubscriptionStore

	// DevLogin enables token issuance for a bare user id. Never set in production.
	DevLogin bool
	Now      func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

const defaultListLimit = 50

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// Login issues a JWT token pair for a user id.
//
// NOTE: credentials are not checked; the route only exists outside production.
func (h Handlers) Login(c *gin.Context) {
	if !h.DevLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found", "code": apperr.CodeNotFound})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "user_id required")
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h Handlers) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "refresh_token required")
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token", "code": apperr.CodeNotAuthorized})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// --- Conversations & messages ---

func (h Handlers) ListConversations(c *gin.Context) {
	uid := userID(c)
	out, err := h.Conversations.List(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": out})
}

func (h Handlers) ListMessages(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	out, err := h.Messages.List(c.Request.Context(), c.Param("conversation_id"), userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": out})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h Handlers) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid json")
		return
	}
	m, err := h.Messages.Send(c.Request.Context(), c.Param("conversation_id"), userID(c), req.Content)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h Handlers) MarkAsRead(c *gin.Context) {
	n, err := h.Messages.MarkAsRead(c.Request.Context(), c.Param("conversation_id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}

// --- Calls ---

func (h Handlers) ListCalls(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	convID := c.Param("conversation_id")
	rows, err := h.Calls.ListCalls(c.Request.Context(), convID, userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	summary := reporting.Summarize(rows)
	summary.ConversationID = convID
	c.JSON(http.StatusOK, gin.H{"calls": rows, "summary": summary})
}

// CallSummary aggregates the conversation's recent call history.
func (h Handlers) CallSummary(c *gin.Context) {
	out, err := h.Reports.CallHistorySummary(c.Request.Context(), c.Param("conversation_id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type startCallRequest struct {
	CallType calls.CallType `json:"call_type" binding:"required,oneof=audio video"`
}

func (h Handlers) StartCall(c *gin.Context) {
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "call_type must be audio or video")
		return
	}
	s, err := h.Calls.StartCall(c.Request.Context(), c.Param("conversation_id"), userID(c), req.CallType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h Handlers) GetCall(c *gin.Context)    { h.callOp(c, h.Calls.Get) }
func (h Handlers) AcceptCall(c *gin.Context) { h.callOp(c, h.Calls.Accept) }
func (h Handlers) RejectCall(c *gin.Context) { h.callOp(c, h.Calls.Reject) }
func (h Handlers) EndCall(c *gin.Context)    { h.callOp(c, h.Calls.End) }
func (h Handlers) MissCall(c *gin.Context)   { h.callOp(c, h.Calls.Miss) }

func (h Handlers) callOp(c *gin.Context, op func(ctx context.Context, sessionID, userID string) (calls.Session, error)) {
	s, err := op(c.Request.Context(), c.Param("session_id"), userID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

type mediaTokenResponse struct {
	Token     string `json:"token"`
	Room      string `json:"room"`
	ExpiresIn int64  `json:"expires_in"`
}

// MediaToken issues a media-room token scoped to the call's room.
func (h Handlers) MediaToken(c *gin.Context) {
	if h.Media == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "media not configured", "code": apperr.CodeStoreUnavailable})
		return
	}
	uid := userID(c)
	s, err := h.Calls.Get(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	room := media.RoomName(s.ConversationID, s.ID)
	tok, err := h.Media.Issue(h.now(), room, uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mediaTokenResponse{Token: tok, Room: room, ExpiresIn: int64(h.Media.TTL().Seconds())})
}

// --- Push ---

type pushSubscriptionRequest struct {
	Endpoint       string     `json:"endpoint" binding:"required"`
	ExpirationTime *time.Time `json:"expiration_time"`
	Keys           struct {
		P256dh string `json:"p256dh" binding:"required"`
		Auth   string `json:"auth" binding:"required"`
	} `json:"keys"`
}

func (h Handlers) RegisterPush(c *gin.Context) {
	var req pushSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "endpoint and keys required")
		return
	}
	err := notify.Register(c.Request.Context(), h.Push, notify.Subscription{
		UserID:         userID(c),
		Endpoint:       req.Endpoint,
		P256dh:         req.Keys.P256dh,
		Auth:           req.Keys.Auth,
		ExpirationTime: req.ExpirationTime,
	}, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Register mounts the API under /v1. authMW must set the user id in the request context.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	authGroup := r.Group("/v1/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		v1.GET("/conversations", h.ListConversations)
		v1.POST("/push/subscriptions", h.RegisterPush)

		conv := v1.Group("/conversations/:conversation_id")
		conv.Use(access.RequireParticipant(h.Conversations))
		{
			conv.GET("/messages", h.ListMessages)
			conv.POST("/messages", h.SendMessage)
			conv.POST("/read", h.MarkAsRead)
			conv.GET("/calls", h.ListCalls)
			conv.POST("/calls", h.StartCall)
			conv.GET("/calls/summary", h.CallSummary)
		}

		// Session routes check party membership in the call service itself.
		call := v1.Group("/calls/:session_id")
		{
			call.GET("", h.GetCall)
			call.POST("/accept", h.AcceptCall)
			call.POST("/reject", h.RejectCall)
			call.POST("/end", h.EndCall)
			call.POST("/miss", h.MissCall)
			call.GET("/media-token", h.MediaToken)
		}
	}
}

func userID(c *gin.Context) string {
	uid, _ := auth.UserID(c.Request.Context())
	return uid
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
