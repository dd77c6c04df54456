package realtime

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/config"
	"github.com/untibullet/fixit/internal/models"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

type fakeDirectory struct {
	users  map[string]*models.User
	issues map[string]*models.Issue
}

func (d *fakeDirectory) GetUser(_ context.Context, id string) (*models.User, error) {
	if u, ok := d.users[id]; ok {
		return u, nil
	}
	return nil, assert.AnError
}

func (d *fakeDirectory) GetIssue(_ context.Context, id string) (*models.Issue, error) {
	if i, ok := d.issues[id]; ok {
		return i, nil
	}
	return nil, assert.AnError
}

func newDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: map[string]*models.User{
			"owner":  {ID: "owner", FirstName: "Olga", LastName: "Owner"},
			"helper": {ID: "helper", FirstName: "Hank", LastName: "Helper"},
		},
		issues: map[string]*models.Issue{
			"open":   {ID: "open", OwnerID: "owner", Status: models.StatusOpen},
			"closed": {ID: "closed", OwnerID: "owner", Status: models.StatusClosed},
		},
	}
}

func newTestHandler(t *testing.T) (*Handler, *Hub, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer(base64.StdEncoding.EncodeToString(make([]byte, 32)), time.Hour)
	require.NoError(t, err)

	hub := NewHub(16, zap.NewNop())
	h := NewHandler(hub, issuer, newDirectory(), config.RealtimeConfig{EventsPerSecond: 100, Burst: 100}, zap.NewNop())
	return h, hub, issuer
}

func TestRoute(t *testing.T) {
	h, hub, _ := newTestHandler(t)
	dir := h.dir.(*fakeDirectory)
	owner, helper := dir.users["owner"], dir.users["helper"]

	ownerConn := hub.Register("owner", nil)
	helperConn := hub.Register("helper", nil)
	ctx := context.Background()

	t.Run("ask forwarded as request", func(t *testing.T) {
		h.Route(ctx, owner, []byte(`{"event":"help:ask","data":{"toUserId":"helper","issueId":"open","note":"printer"}}`))
		frame := <-helperConn.Outbound()
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		assert.Equal(t, EventHelpRequest, env.Event)

		var p HelpNotice
		require.NoError(t, DecodePayload(env, &p))
		assert.Equal(t, models.UserRef{ID: "owner", Name: "Olga Owner"}, p.From)
		assert.Equal(t, "open", p.IssueID)
	})

	t.Run("ask by non owner dropped", func(t *testing.T) {
		h.Route(ctx, helper, []byte(`{"event":"help:ask","data":{"toUserId":"owner","issueId":"open"}}`))
		assert.Empty(t, drain(ownerConn))
	})

	t.Run("ask on terminal issue dropped", func(t *testing.T) {
		h.Route(ctx, owner, []byte(`{"event":"help:ask","data":{"toUserId":"helper","issueId":"closed"}}`))
		assert.Empty(t, drain(helperConn))
	})

	t.Run("ask on unknown issue dropped", func(t *testing.T) {
		h.Route(ctx, owner, []byte(`{"event":"help:ask","data":{"toUserId":"helper","issueId":"missing"}}`))
		assert.Empty(t, drain(helperConn))
	})

	t.Run("respond forwarded as response", func(t *testing.T) {
		h.Route(ctx, helper, []byte(`{"event":"help:respond","data":{"toUserId":"owner","issueId":"open","accepted":true}}`))
		frame := <-ownerConn.Outbound()
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		assert.Equal(t, EventHelpResponse, env.Event)

		var p HelpResponse
		require.NoError(t, DecodePayload(env, &p))
		assert.True(t, p.Accepted)
		assert.Equal(t, "helper", p.From.ID)
	})

	t.Run("offer forwarded", func(t *testing.T) {
		h.Route(ctx, helper, []byte(`{"event":"help:offer","data":{"toUserId":"owner","issueId":"open"}}`))
		frame := <-ownerConn.Outbound()
		env, err := DecodeEnvelope(frame)
		require.NoError(t, err)
		assert.Equal(t, EventHelpOffer, env.Event)
	})

	t.Run("offer to non owner dropped", func(t *testing.T) {
		thirdConn := hub.Register("third", nil)
		defer hub.Unregister(thirdConn)

		h.Route(ctx, helper, []byte(`{"event":"help:offer","data":{"toUserId":"third","issueId":"open"}}`))
		assert.Empty(t, drain(thirdConn))
		assert.Empty(t, drain(ownerConn))
	})

	t.Run("self addressed dropped", func(t *testing.T) {
		h.Route(ctx, owner, []byte(`{"event":"message:send","data":{"toUserId":"owner","message":"me"}}`))
		assert.Empty(t, drain(ownerConn))
	})

	t.Run("malformed dropped", func(t *testing.T) {
		h.Route(ctx, owner, []byte(`{"event":"message:send","data":{"to":"helper"}}`))
		assert.Empty(t, drain(helperConn))
	})
}

func TestServe_Unauthorized(t *testing.T) {
	h, _, issuer := newTestHandler(t)
	e := echo.New()
	e.GET("/ws", h.Serve)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := issuer.Mint("ghost", models.RoleUser)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/ws?token="+token, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func dial(t *testing.T, srv *httptest.Server, issuer *auth.Issuer, userID string) *websocket.Conn {
	t.Helper()
	token, err := issuer.Mint(userID, models.RoleUser)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + token
	ws, err := websocket.Dial(url, "", srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestServe_EndToEnd(t *testing.T) {
	h, hub, issuer := newTestHandler(t)
	e := echo.New()
	e.GET("/ws", h.Serve)
	srv := httptest.NewServer(e)
	defer srv.Close()

	owner := dial(t, srv, issuer, "owner")
	helper := dial(t, srv, issuer, "helper")
	require.Eventually(t, func() bool {
		return hub.Online("owner") && hub.Online("helper")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, websocket.Message.Send(owner, `{"event":"message:send","data":{"toUserId":"helper","message":"hello"}}`))

	require.NoError(t, helper.SetReadDeadline(time.Now().Add(2*time.Second)))
	var raw []byte
	require.NoError(t, websocket.Message.Receive(helper, &raw))

	env, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, EventMessageReceived, env.Event)

	var p MessageReceived
	require.NoError(t, DecodePayload(env, &p))
	assert.Equal(t, "hello", p.Message)
	assert.Equal(t, "owner", p.Sender.ID)

	require.NoError(t, owner.Close())
	require.Eventually(t, func() bool {
		return !hub.Online("owner")
	}, 2*time.Second, 10*time.Millisecond)
}
