package handlers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/config"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/realtime"
	"github.com/untibullet/fixit/internal/repository"
	"go.uber.org/zap"
)

type sentEvent struct {
	UserID string
	Event  string
	Data   any
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *recordingNotifier) Send(userID, event string, data any) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{UserID: userID, Event: event, Data: data})
	return 1
}

type testEnv struct {
	e        *echo.Echo
	repo     *repository.SQLiteRepository
	issuer   *auth.Issuer
	notifier *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })

	issuer, err := auth.NewIssuer(base64.StdEncoding.EncodeToString(make([]byte, 32)), time.Hour)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	h := New(repo, issuer, notifier, config.AuthConfig{BcryptCost: 4}, zap.NewNop())

	e := echo.New()
	h.RegisterRoutes(e)

	return &testEnv{e: e, repo: repo, issuer: issuer, notifier: notifier}
}

// user создает пользователя напрямую в хранилище и возвращает его токен
func (env *testEnv) user(t *testing.T, email, role string, skills ...models.Skill) (*models.User, string) {
	t.Helper()
	u := &models.User{Email: email, PasswordHash: "x", FirstName: "First", LastName: email, Role: role, Skills: skills}
	require.NoError(t, env.repo.CreateUser(context.Background(), u))
	token, err := env.issuer.Mint(u.ID, u.Role)
	require.NoError(t, err)
	return u, token
}

type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (env *testEnv) do(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)

	var resp apiResponse
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func decode[T any](t *testing.T, resp apiResponse) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(resp.Data, &out))
	return out
}

func errorCode(resp apiResponse) string {
	if resp.Error == nil {
		return ""
	}
	return resp.Error.Code
}

func (env *testEnv) createIssue(t *testing.T, token string, skills ...string) models.Issue {
	t.Helper()
	code, resp := env.do(t, http.MethodPost, "/api/issues", token, map[string]any{
		"title":          "Office printer offline",
		"description":    "The 3rd floor printer does not respond",
		"category":       "printer",
		"requiredSkills": skills,
	})
	require.Equal(t, http.StatusCreated, code)
	return decode[models.Issue](t, resp)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email":     "Ann@Example.com",
		"password":  "secret-pass",
		"firstName": "Ann",
		"lastName":  "Lee",
		"skills":    []map[string]any{{"name": "Network", "level": "expert", "verified": true}},
	})
	require.Equal(t, http.StatusCreated, code)
	registered := decode[struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}](t, resp)
	assert.NotEmpty(t, registered.Token)
	assert.Equal(t, "ann@example.com", registered.User.Email)
	require.Len(t, registered.User.Skills, 1)
	assert.False(t, registered.User.Skills[0].Verified)

	code, resp = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": "ann@example.com", "password": "secret-pass", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrCodeUserExists, errorCode(resp))

	code, resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, ErrCodeUnauthorized, errorCode(resp))

	code, resp = env.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ann@example.com", "password": "secret-pass",
	})
	require.Equal(t, http.StatusOK, code)
	token := decode[struct {
		Token string `json:"token"`
	}](t, resp).Token

	code, resp = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, registered.User.ID, decode[models.User](t, resp).ID)

	code, resp = env.do(t, http.MethodPut, "/api/auth/availability", token, map[string]string{"availability": "busy"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.AvailabilityBusy, decode[models.User](t, resp).Availability)

	code, _ = env.do(t, http.MethodPut, "/api/auth/availability", token, map[string]string{"availability": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestRegister_Validation(t *testing.T) {
	env := newTestEnv(t)

	code, resp := env.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": "not-an-email", "password": "secret-pass", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, ErrCodeValidation, errorCode(resp))

	code, _ = env.do(t, http.MethodPost, "/api/auth/register", "", map[string]any{
		"email": "a@example.com", "password": "123", "firstName": "A", "lastName": "B",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)
	code, resp := env.do(t, http.MethodGet, "/api/issues", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, ErrCodeUnauthorized, errorCode(resp))

	code, _ = env.do(t, http.MethodGet, "/api/issues", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateIssue_Validation(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.user(t, "owner@example.com", models.RoleUser)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing title", map[string]any{"description": "d", "category": "printer"}},
		{"missing description", map[string]any{"title": "t", "category": "printer"}},
		{"unknown category", map[string]any{"title": "t", "description": "d", "category": "coffee"}},
		{"unknown priority", map[string]any{"title": "t", "description": "d", "category": "printer", "priority": "asap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := env.do(t, http.MethodPost, "/api/issues", token, tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
			assert.Equal(t, ErrCodeValidation, errorCode(resp))
		})
	}

	issue := env.createIssue(t, token)
	assert.Equal(t, models.StatusOpen, issue.Status)
	assert.Equal(t, models.PriorityMedium, issue.Priority)
	assert.Equal(t, []string{models.DefaultSkill}, issue.RequiredSkills)
}

func TestGetHelpers(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.user(t, "owner@example.com", models.RoleUser,
		models.Skill{Name: "network", Level: models.LevelExpert, Verified: true})
	expert, _ := env.user(t, "expert@example.com", models.RoleUser,
		models.Skill{Name: "network", Level: models.LevelExpert, Verified: true},
		models.Skill{Name: "printer", Level: models.LevelAdvanced, Verified: true})
	novice, _ := env.user(t, "novice@example.com", models.RoleUser,
		models.Skill{Name: "printer", Level: models.LevelBeginner})
	env.user(t, "other@example.com", models.RoleUser, models.Skill{Name: "excel"})

	issue := env.createIssue(t, ownerToken, "Network", "printer")

	code, resp := env.do(t, http.MethodGet, "/api/issues/"+issue.ID+"/helpers", ownerToken, nil)
	require.Equal(t, http.StatusOK, code)
	helpers := decode[struct {
		Helpers []models.HelperCandidate `json:"helpers"`
	}](t, resp).Helpers

	require.Len(t, helpers, 2)
	assert.Equal(t, expert.ID, helpers[0].ID)
	assert.Equal(t, novice.ID, helpers[1].ID)
	assert.Greater(t, helpers[0].Score, helpers[1].Score)
	for _, h := range helpers {
		assert.NotEqual(t, owner.ID, h.ID)
	}

	code, resp = env.do(t, http.MethodGet, "/api/issues/missing/helpers", ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, ErrCodeNotFound, errorCode(resp))
}

func TestIssueLifecycle(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.user(t, "owner@example.com", models.RoleUser)
	helper, helperToken := env.user(t, "helper@example.com", models.RoleUser)
	issue := env.createIssue(t, ownerToken, "printer")
	base := "/api/issues/" + issue.ID

	// чужой пользователь не может назначать
	code, resp := env.do(t, http.MethodPut, base+"/assign", helperToken, map[string]string{"assignedTo": helper.ID})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, ErrCodeForbidden, errorCode(resp))

	code, resp = env.do(t, http.MethodPut, base+"/assign", ownerToken, map[string]string{"assignedTo": "ghost"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, http.MethodPut, base+"/assign", ownerToken, map[string]string{"assignedTo": helper.ID})
	require.Equal(t, http.StatusOK, code)
	assigned := decode[models.Issue](t, resp)
	assert.Equal(t, models.StatusAssigned, assigned.Status)
	require.NotNil(t, assigned.AssigneeID)
	assert.Equal(t, helper.ID, *assigned.AssigneeID)

	require.Len(t, env.notifier.events, 1)
	sent := env.notifier.events[0]
	assert.Equal(t, helper.ID, sent.UserID)
	assert.Equal(t, realtime.EventIssueAssigned, sent.Event)
	payload, ok := sent.Data.(realtime.IssueAssigned)
	require.True(t, ok)
	assert.Equal(t, issue.ID, payload.IssueID)
	assert.Equal(t, owner.ID, payload.AssignedBy.ID)

	// начать работу может только исполнитель
	code, _ = env.do(t, http.MethodPut, base+"/start", ownerToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, resp = env.do(t, http.MethodPut, base+"/start", helperToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusInProgress, decode[models.Issue](t, resp).Status)

	code, _ = env.do(t, http.MethodPut, base+"/resolve", ownerToken, map[string]any{"solution": "no solver"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, http.MethodPut, base+"/resolve", ownerToken, map[string]any{
		"solvedBy": helper.ID, "solution": "Replaced the cable", "pointsAwarded": 20,
	})
	require.Equal(t, http.StatusOK, code)
	resolved := decode[models.Issue](t, resp)
	assert.Equal(t, models.StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.Equal(t, 20, resolved.Resolution.PointsAwarded)

	solver, err := env.repo.GetUser(context.Background(), helper.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, solver.Contributions.IssuesResolved)
	assert.Equal(t, 20, solver.Contributions.Points)

	// после решения заявку нельзя назначать, решать, редактировать и удалять
	code, resp = env.do(t, http.MethodPut, base+"/assign", ownerToken, map[string]string{"assignedTo": helper.ID})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrCodeInvalidState, errorCode(resp))

	code, _ = env.do(t, http.MethodPut, base+"/resolve", ownerToken, map[string]any{"solvedBy": helper.ID})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodPut, base, ownerToken, map[string]any{"title": "new title"})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodDelete, base, ownerToken, nil)
	assert.Equal(t, http.StatusConflict, code)

	code, _ = env.do(t, http.MethodGet, base+"/helpers", ownerToken, nil)
	assert.Equal(t, http.StatusConflict, code)

	// комментировать решенную заявку можно, закрытую нельзя
	code, _ = env.do(t, http.MethodPost, base+"/comments", helperToken, map[string]string{"content": "Glad it works"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = env.do(t, http.MethodPut, base+"/close", helperToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, resp = env.do(t, http.MethodPut, base+"/close", ownerToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, models.StatusClosed, decode[models.Issue](t, resp).Status)

	code, resp = env.do(t, http.MethodPost, base+"/comments", helperToken, map[string]string{"content": "late"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, ErrCodeInvalidState, errorCode(resp))
}

func TestResolve_SelfSolvedEarnsNothing(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.user(t, "owner@example.com", models.RoleUser)
	issue := env.createIssue(t, ownerToken)

	code, resp := env.do(t, http.MethodPut, "/api/issues/"+issue.ID+"/resolve", ownerToken, map[string]any{
		"solvedBy": owner.ID, "solution": "Turned it off and on", "pointsAwarded": 50,
	})
	require.Equal(t, http.StatusOK, code)
	resolved := decode[models.Issue](t, resp)
	require.NotNil(t, resolved.Resolution)
	assert.Zero(t, resolved.Resolution.PointsAwarded)

	got, err := env.repo.GetUser(context.Background(), owner.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Contributions.IssuesResolved)
}

func TestUpdateAndDeleteIssue(t *testing.T) {
	env := newTestEnv(t)
	_, ownerToken := env.user(t, "owner@example.com", models.RoleUser)
	_, otherToken := env.user(t, "other@example.com", models.RoleUser)
	issue := env.createIssue(t, ownerToken)
	base := "/api/issues/" + issue.ID

	code, _ := env.do(t, http.MethodPut, base, otherToken, map[string]any{"title": "hijack"})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := env.do(t, http.MethodPut, base, ownerToken, map[string]any{
		"title": "Printer jammed", "priority": "urgent", "requiredSkills": []string{"Printer"},
	})
	require.Equal(t, http.StatusOK, code)
	updated := decode[models.Issue](t, resp)
	assert.Equal(t, "Printer jammed", updated.Title)
	assert.Equal(t, models.PriorityUrgent, updated.Priority)
	assert.Equal(t, []string{"printer"}, updated.RequiredSkills)

	code, _ = env.do(t, http.MethodDelete, base, otherToken, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = env.do(t, http.MethodDelete, base, ownerToken, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodGet, base, ownerToken, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestListIssuesAndVote(t *testing.T) {
	env := newTestEnv(t)
	owner, ownerToken := env.user(t, "owner@example.com", models.RoleUser)
	_, voterToken := env.user(t, "voter@example.com", models.RoleUser)
	for i := 0; i < 3; i++ {
		env.createIssue(t, ownerToken)
	}

	code, resp := env.do(t, http.MethodGet, "/api/issues?limit=2&page=1", voterToken, nil)
	require.Equal(t, http.StatusOK, code)
	list := decode[issueList](t, resp)
	assert.Len(t, list.Issues, 2)
	assert.Equal(t, 3, list.Pagination.Total)
	assert.Equal(t, 2, list.Pagination.Pages)

	code, _ = env.do(t, http.MethodGet, "/api/issues?status=weird", voterToken, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = env.do(t, http.MethodGet, "/api/users/"+owner.ID+"/issues", voterToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, decode[issueList](t, resp).Pagination.Total)

	issueID := list.Issues[0].ID
	code, resp = env.do(t, http.MethodPost, "/api/issues/"+issueID+"/vote", voterToken, map[string]string{"voteType": "up"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, map[string]int{"upvotes": 1, "downvotes": 0}, decode[map[string]int](t, resp))

	code, _ = env.do(t, http.MethodPost, "/api/issues/"+issueID+"/vote", voterToken, map[string]string{"voteType": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUserSkills(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := env.user(t, "user@example.com", models.RoleUser)
	other, _ := env.user(t, "other@example.com", models.RoleUser)
	_, adminToken := env.user(t, "admin@example.com", models.RoleAdmin)

	code, _ := env.do(t, http.MethodPut, "/api/users/"+other.ID+"/skills", userToken, map[string]any{
		"skills": []map[string]any{{"name": "network"}},
	})
	assert.Equal(t, http.StatusForbidden, code)

	code, resp := env.do(t, http.MethodPut, "/api/users/"+user.ID+"/skills", userToken, map[string]any{
		"skills": []map[string]any{{"name": "Network", "level": "advanced", "verified": true}},
	})
	require.Equal(t, http.StatusOK, code)
	updated := decode[models.User](t, resp)
	require.Len(t, updated.Skills, 1)
	assert.False(t, updated.Skills[0].Verified)

	code, _ = env.do(t, http.MethodPut, "/api/users/"+user.ID+"/skills/network/verify", userToken, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, resp = env.do(t, http.MethodPut, "/api/users/"+user.ID+"/skills/network/verify", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, decode[models.User](t, resp).Skills[0].Verified)

	// повторная замена навыков сохраняет подтверждение
	code, resp = env.do(t, http.MethodPut, "/api/users/"+user.ID+"/skills", userToken, map[string]any{
		"skills": []map[string]any{{"name": "network", "level": "expert"}, {"name": "email"}},
	})
	require.Equal(t, http.StatusOK, code)
	for _, s := range decode[models.User](t, resp).Skills {
		assert.Equal(t, s.Name == "network", s.Verified, s.Name)
	}

	code, resp = env.do(t, http.MethodGet, "/api/users/search/skills?skills=network", adminToken, nil)
	require.Equal(t, http.StatusOK, code)
	ranked := decode[struct {
		Users []models.HelperCandidate `json:"users"`
	}](t, resp).Users
	require.Len(t, ranked, 1)
	assert.Equal(t, user.ID, ranked[0].ID)

	code, resp = env.do(t, http.MethodGet, "/api/users?excludeId="+user.ID, userToken, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, decode[struct {
		Users []models.User `json:"users"`
	}](t, resp).Users, 2)
}
