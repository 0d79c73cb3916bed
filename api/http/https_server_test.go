package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"DeskPilot/internal/config"
	jwtMiddleware "DeskPilot/internal/middleware/jwt"
	"DeskPilot/internal/modules/assistant/application/service"
	"DeskPilot/internal/modules/assistant/domain/awareness"
	"DeskPilot/internal/modules/assistant/domain/memory"
	"DeskPilot/internal/modules/assistant/domain/notification"
	"DeskPilot/internal/modules/assistant/infrastructure/eventbus"
	"DeskPilot/internal/modules/assistant/infrastructure/kv"
	"DeskPilot/internal/modules/assistant/infrastructure/mcpserver"
	"DeskPilot/internal/modules/assistant/infrastructure/persistence"
	assistantHandler "DeskPilot/internal/modules/assistant/interface/http"
	"DeskPilot/pkg/xerr"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	engine        *gin.Engine
	notifications service.NotificationService
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	conf := config.Default()
	config.SetConfig(conf)
	t.Cleanup(func() { config.SetConfig(nil) })

	store, err := kv.NewFileStore(t.TempDir())
	require.NoError(t, err)
	bus := eventbus.New()

	mem := service.NewContextMemoryService(persistence.NewKVStateRepository[memory.ShortTermMemory](store, "memory"))
	aw := service.NewAwarenessService(persistence.NewKVStateRepository[awareness.State](store, "awareness"))
	notifs := service.NewNotificationService(
		persistence.NewKVNotificationRepository(store),
		persistence.NewKVStateRepository[notification.Settings](store, "notification-settings"),
		nil, bus, service.NotificationOptions{FlushDelay: 10 * time.Millisecond},
	)
	t.Cleanup(func() { _ = notifs.Flush(context.Background()) })
	kernel := service.NewKernelService(service.KernelDeps{
		Router:        service.NewIntentRouter(nil, nil, nil),
		Memory:        mem,
		Awareness:     aw,
		Notifications: notifs,
		Bus:           bus,
	})
	t.Cleanup(kernel.Close)

	engine := NewRouter(conf, Handlers{
		Assistant:    assistantHandler.NewAssistantHandler(kernel, mem, aw, nil),
		Notification: assistantHandler.NewNotificationHandler(notifs),
	})
	return &testServer{engine: engine, notifications: notifs}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) envelope {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(jwtMiddleware.HeaderUserID, userID)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestPing(t *testing.T) {
	s := newTestServer(t)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deskpilot")
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestAuthRequiresUserHeader(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodGet, "/notification/list", "", nil)
	assert.Equal(t, xerr.Unauthorized, env.Code)
}

func TestAssistantInputAndHistory(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodPost, "/assistant/input", "u1", map[string]string{"text": "hello"})
	require.Equal(t, xerr.OK, env.Code)
	out := decode[struct {
		Result struct {
			Intent string `json:"intent"`
			Reply  string `json:"reply"`
		} `json:"result"`
	}](t, env)
	assert.Equal(t, "greeting", out.Result.Intent)
	assert.NotEmpty(t, out.Result.Reply)

	env = s.do(t, http.MethodGet, "/assistant/history", "u1", nil)
	require.Equal(t, xerr.OK, env.Code)
	hist := decode[struct {
		Turns []memory.Turn `json:"turns"`
	}](t, env)
	require.Len(t, hist.Turns, 2)
	assert.Equal(t, "hello", hist.Turns[0].Text)

	// 其他用户看不到
	env = s.do(t, http.MethodGet, "/assistant/history", "u2", nil)
	hist = decode[struct {
		Turns []memory.Turn `json:"turns"`
	}](t, env)
	assert.Empty(t, hist.Turns)
}

func TestAssistantInputRejectsBlankText(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodPost, "/assistant/input", "u1", map[string]string{"text": "   "})
	assert.Equal(t, xerr.BadRequest, env.Code)
}

func TestAwarenessClear(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/assistant/input", "u1", map[string]string{"text": "open calendar"})

	env := s.do(t, http.MethodGet, "/assistant/awareness", "u1", nil)
	st := decode[awareness.State](t, env)
	require.NotNil(t, st.LastOpened)
	assert.Equal(t, "calendar", st.LastOpened.Page)

	env = s.do(t, http.MethodDelete, "/assistant/awareness", "u1", nil)
	assert.Equal(t, xerr.OK, env.Code)

	env = s.do(t, http.MethodGet, "/assistant/awareness", "u1", nil)
	st = decode[awareness.State](t, env)
	assert.Nil(t, st.LastOpened)
	env = s.do(t, http.MethodGet, "/assistant/history", "u1", nil)
	hist := decode[struct {
		Turns []memory.Turn `json:"turns"`
	}](t, env)
	assert.Empty(t, hist.Turns)
}

func TestNotificationRoutes(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodPost, "/notification/create", "u1", map[string]interface{}{
		"id":       "n1",
		"source":   "listings",
		"category": "property",
		"type":     "listing_published",
		"severity": "warning",
	})
	require.Equal(t, xerr.OK, env.Code)
	created := decode[notification.Notification](t, env)
	assert.Equal(t, "n1", created.ID)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, notification.PriorityHigh, created.Priority)

	s.do(t, http.MethodPost, "/notification/create", "u1", map[string]interface{}{"id": "n2", "type": "request_received", "category": "request"})
	s.do(t, http.MethodPost, "/notification/create", "u2", map[string]interface{}{"id": "n3", "type": "request_received"})

	env = s.do(t, http.MethodGet, "/notification/list", "u1", nil)
	list := decode[struct {
		List  []notification.Notification `json:"list"`
		Total int                         `json:"total"`
	}](t, env)
	require.Equal(t, 2, list.Total)
	assert.Equal(t, "n2", list.List[0].ID)

	env = s.do(t, http.MethodGet, "/notification/list?category=property", "u1", nil)
	list = decode[struct {
		List  []notification.Notification `json:"list"`
		Total int                         `json:"total"`
	}](t, env)
	assert.Equal(t, 1, list.Total)

	env = s.do(t, http.MethodGet, "/notification/unreadCount", "u1", nil)
	assert.Equal(t, 2, decode[struct{ Count int }](t, env).Count)

	env = s.do(t, http.MethodPost, "/notification/markRead", "u1", map[string]string{"id": "n1"})
	assert.Equal(t, xerr.OK, env.Code)
	env = s.do(t, http.MethodPost, "/notification/markRead", "u1", map[string]string{"id": "missing"})
	assert.Equal(t, xerr.NotFound, env.Code)
	env = s.do(t, http.MethodPost, "/notification/markRead", "u1", map[string]string{})
	assert.Equal(t, xerr.BadRequest, env.Code)

	env = s.do(t, http.MethodGet, "/notification/list?unreadOnly=true", "u1", nil)
	list = decode[struct {
		List  []notification.Notification `json:"list"`
		Total int                         `json:"total"`
	}](t, env)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "n2", list.List[0].ID)

	env = s.do(t, http.MethodPost, "/notification/deleteRead", "u1", nil)
	assert.Equal(t, 1, decode[struct{ Count int }](t, env).Count)

	env = s.do(t, http.MethodPost, "/notification/markAllRead", "u1", nil)
	assert.Equal(t, 1, decode[struct{ Count int }](t, env).Count)

	env = s.do(t, http.MethodGet, "/notification/analysis", "u1", nil)
	sum := decode[notification.Summary](t, env)
	assert.Equal(t, 1, sum.Total)
	assert.Equal(t, 0, sum.Unread)

	env = s.do(t, http.MethodPost, "/notification/delete", "u1", map[string]string{"id": "n2"})
	assert.Equal(t, xerr.OK, env.Code)
	env = s.do(t, http.MethodPost, "/notification/delete", "u1", map[string]string{"id": "n2"})
	assert.Equal(t, xerr.NotFound, env.Code)

	// u2 不受影响
	env = s.do(t, http.MethodGet, "/notification/unreadCount", "u2", nil)
	assert.Equal(t, 1, decode[struct{ Count int }](t, env).Count)
}

func TestNotificationCreateRequiresType(t *testing.T) {
	s := newTestServer(t)
	env := s.do(t, http.MethodPost, "/notification/create", "u1", map[string]string{"source": "x"})
	assert.Equal(t, xerr.BadRequest, env.Code)
}

func TestNotificationSettingsRoutes(t *testing.T) {
	s := newTestServer(t)

	env := s.do(t, http.MethodGet, "/notification/settings", "u1", nil)
	def := decode[notification.Settings](t, env)
	assert.True(t, def.Enabled)
	assert.True(t, def.Categories[notification.CategoryOffer])

	env = s.do(t, http.MethodPost, "/notification/settings", "u1", map[string]interface{}{
		"enabled":    true,
		"categories": map[string]bool{"offer": false},
		"sound":      false,
	})
	require.Equal(t, xerr.OK, env.Code)

	env = s.do(t, http.MethodGet, "/notification/settings", "u1", nil)
	got := decode[notification.Settings](t, env)
	assert.Equal(t, "u1", got.UserID)
	assert.False(t, got.Categories[notification.CategoryOffer])
	assert.False(t, got.Sound)
}

func TestPurgeExpiredRoute(t *testing.T) {
	s := newTestServer(t)
	past := time.Now().Add(-time.Hour)
	_, err := s.notifications.CreateNotification(context.Background(), service.NotificationInput{
		ID: "old", UserID: "u1", Category: notification.CategorySystem, Title: "t", Message: "m", ExpiresAt: &past,
	})
	require.NoError(t, err)
	_, err = s.notifications.CreateNotification(context.Background(), service.NotificationInput{
		ID: "fresh", UserID: "u1", Category: notification.CategorySystem, Title: "t", Message: "m",
	})
	require.NoError(t, err)

	env := s.do(t, http.MethodPost, "/notification/purgeExpired", "u1", map[string]interface{}{})
	assert.Equal(t, 1, decode[struct{ Count int }](t, env).Count)

	env = s.do(t, http.MethodGet, "/notification/unreadCount", "u1", nil)
	assert.Equal(t, 1, decode[struct{ Count int }](t, env).Count)
}

func TestNotificationRoutesRejectOtherUsers(t *testing.T) {
	s := newTestServer(t)
	past := time.Now().Add(-time.Hour)

	env := s.do(t, http.MethodPost, "/notification/create", "victim", map[string]interface{}{
		"id": "secret-1", "type": "offer_received", "category": "offer",
		"payload": map[string]interface{}{"title": "Offer 950k", "message": "private"},
	})
	require.Equal(t, xerr.OK, env.Code)
	_, err := s.notifications.CreateNotification(context.Background(), service.NotificationInput{
		ID: "victim-old", UserID: "victim", ExpiresAt: &past,
	})
	require.NoError(t, err)

	env = s.do(t, http.MethodPost, "/notification/create", "attacker", map[string]interface{}{"id": "secret-1", "type": "x"})
	assert.Equal(t, xerr.Conflict, env.Code)
	assert.NotContains(t, string(env.Data), "private")

	env = s.do(t, http.MethodPost, "/notification/markRead", "attacker", map[string]string{"id": "secret-1"})
	assert.Equal(t, xerr.NotFound, env.Code)
	env = s.do(t, http.MethodPost, "/notification/delete", "attacker", map[string]string{"id": "secret-1"})
	assert.Equal(t, xerr.NotFound, env.Code)
	env = s.do(t, http.MethodPost, "/notification/purgeExpired", "attacker", map[string]interface{}{
		"before": time.Now().Add(24 * time.Hour),
	})
	assert.Equal(t, 0, decode[struct{ Count int }](t, env).Count)

	env = s.do(t, http.MethodGet, "/notification/unreadCount", "victim", nil)
	assert.Equal(t, 2, decode[struct{ Count int }](t, env).Count)
}

func TestMCPRequiresLogin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conf := config.Default()
	config.SetConfig(conf)
	t.Cleanup(func() { config.SetConfig(nil) })

	var caller string
	engine := NewRouter(conf, Handlers{MCP: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ = mcpserver.CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/mcp", nil))
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, xerr.Unauthorized, env.Code)
	assert.Empty(t, caller)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set(jwtMiddleware.HeaderUserID, "u1")
	w = httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", caller)
}
