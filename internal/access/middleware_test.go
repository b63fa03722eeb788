package access

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"link-platform/internal/auth"
	"link-platform/internal/conversations"

	"github.com/gin-gonic/gin"
)

func newRouter(userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	repo := conversations.NewMemoryRepo()
	repo.Add(conversations.Conversation{ID: "c1", Participants: [2]string{"alice", "bob"}})
	svc := conversations.NewService(repo, nil, nil)

	r := gin.New()
	r.GET("/conversations/:conversation_id", func(c *gin.Context) {
		if userID != "" {
			c.Request = c.Request.WithContext(auth.WithUser(c.Request.Context(), userID))
		}
		c.Next()
	}, RequireParticipant(svc), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func TestRequireParticipant(t *testing.T) {
	cases := []struct {
		name string
		user string
		path string
		want int
	}{
		{name: "member", user: "alice", path: "/conversations/c1", want: http.StatusNoContent},
		{name: "other member", user: "bob", path: "/conversations/c1", want: http.StatusNoContent},
		{name: "outsider", user: "mallory", path: "/conversations/c1", want: http.StatusForbidden},
		{name: "unknown conversation", user: "alice", path: "/conversations/nope", want: http.StatusNotFound},
		{name: "no identity", user: "", path: "/conversations/c1", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			newRouter(tc.user).ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}
