package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/peerly-app/peerly/server/api/rest"
	"github.com/peerly-app/peerly/server/audit"
	"github.com/peerly-app/peerly/server/cache"
	"github.com/peerly-app/peerly/server/config"
	mw "github.com/peerly-app/peerly/server/middleware"
	"github.com/peerly-app/peerly/server/scheduler"
	"github.com/peerly-app/peerly/server/social/chat"
	"github.com/peerly-app/peerly/server/social/presence"
	"github.com/peerly-app/peerly/server/social/relationship"
	"github.com/peerly-app/peerly/server/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type app struct {
	r     *gin.Engine
	db    *gorm.DB
	cache cache.Cache
	rel   *relationship.Service
	ch    *chat.Channel
	pm    *presence.Manager
}

const testAdminKey = "test-admin-key"

// newApp builds the full REST router the way main wires it.
func newApp(t *testing.T) *app {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "test-secret", JWTTTLH: 72 * time.Hour}
	social := config.SocialConfig{MaxMessageLen: 200, RecentCacheSize: 10, DiscoverPageSize: 5}

	rel := relationship.NewService(relationship.NewStore(db), logger)
	ch := chat.NewChannel(db, c, ps, rel, social, logger)
	pm := presence.NewManager(logger)
	aud := audit.New(db, logger)
	t.Cleanup(func() { aud.Stop(context.Background()) })
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	authH := rest.NewAuthHandler(db, c, sec)
	profileH := rest.NewProfileHandler(db, c, rel, pm, social)
	relationsH := rest.NewRelationsHandler(rel, pm, aud, c)
	messagesH := rest.NewMessagesHandler(ch)
	adminH := rest.NewAdminHandler(db, pm, sched, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	r.POST("/api/auth/register", authH.Register)
	r.POST("/api/auth/login", authH.Login)

	auth := r.Group("/api", mw.Auth(sec, c))
	auth.POST("/auth/logout", authH.Logout)
	auth.POST("/auth/refresh", authH.Refresh)

	auth.GET("/profile", profileH.GetOwn)
	auth.PUT("/profile", profileH.UpdateOwn)
	auth.GET("/profiles/:id", profileH.Get)
	auth.GET("/discover", profileH.Discover)

	auth.GET("/relations", relationsH.List)
	auth.GET("/relations/state/:id", relationsH.State)
	auth.POST("/relations/request/:id", relationsH.SendRequest)
	auth.DELETE("/relations/request/:id", relationsH.CancelRequest)
	auth.POST("/relations/accept/:id", relationsH.AcceptRequest)
	auth.POST("/relations/reject/:id", relationsH.RejectRequest)
	auth.DELETE("/relations/:id", relationsH.Disconnect)
	auth.POST("/relations/block/:id", relationsH.Block)
	auth.DELETE("/relations/block/:id", relationsH.Unblock)

	auth.POST("/reports/:id", relationsH.Report)
	auth.DELETE("/reports/:id", relationsH.Unreport)
	auth.DELETE("/account", relationsH.DeleteAccount)

	auth.GET("/messages/unread", messagesH.Unread)
	auth.GET("/messages/:id", messagesH.History)
	auth.POST("/messages/:id", messagesH.Send)
	auth.POST("/messages/:id/seen", messagesH.MarkSeen)
	auth.DELETE("/messages/:id", messagesH.ClearHistory)
	auth.PUT("/messages/msg/:msgID", messagesH.Edit)
	auth.DELETE("/messages/msg/:msgID", messagesH.Delete)
	auth.POST("/messages/msg/:msgID/react", messagesH.React)

	admin := r.Group("/api/admin", rest.AdminAuth(testAdminKey))
	admin.GET("/metrics", adminH.Metrics)
	admin.GET("/users", adminH.ListUsers)
	admin.GET("/reports", adminH.ListReports)
	admin.POST("/users/:id/ban", adminH.BanUser)
	admin.POST("/kick/:id", adminH.KickUser)
	admin.POST("/broadcast", adminH.Broadcast)
	admin.GET("/scheduler", adminH.ListSchedulerTasks)

	return &app{r: r, db: db, cache: c, rel: rel, ch: ch, pm: pm}
}

type user struct {
	ID    int64
	Token string
}

// register creates an account through the API and returns its id+token.
func (a *app) register(t *testing.T, name string) user {
	t.Helper()
	w := postJSON(a.r, "/api/auth/register", map[string]string{
		"username": name,
		"password": "pass123456",
		"email":    name + "@example.com",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return user{
		ID:    int64(resp["account_id"].(float64)),
		Token: resp["token"].(string),
	}
}

// connect links two users through the request/accept endpoints.
func (a *app) connect(t *testing.T, from, to user) {
	t.Helper()
	w := postJSON(a.r, fmt.Sprintf("/api/relations/request/%d", to.ID), nil,
		"Authorization", "Bearer "+from.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = postJSON(a.r, fmt.Sprintf("/api/relations/accept/%d", from.ID), nil,
		"Authorization", "Bearer "+to.Token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func doJSON(r *gin.Engine, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postJSON(r *gin.Engine, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	return doJSON(r, http.MethodPost, path, body, headers...)
}

func getJSON(r *gin.Engine, path string, headers ...string) *httptest.ResponseRecorder {
	return doJSON(r, http.MethodGet, path, nil, headers...)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}
