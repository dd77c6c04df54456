// Package client обращается к REST API и каналу событий FixIT от имени
// одного пользователя.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/untibullet/fixit/internal/lifecycle"
	"github.com/untibullet/fixit/internal/matcher"
	"github.com/untibullet/fixit/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const DefaultTimeout = 10 * time.Second

var (
	ErrValidation   = errors.New("validation failed")
	ErrNotConnected = errors.New("realtime channel is not connected")
)

// APIError ответ сервера с кодом не 2xx
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fixit: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound сообщает, что сервер ответил 404
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Options параметры клиента
type Options struct {
	BaseURL string
	Token   string
	// UserID и Admin описывают владельца токена для локальных проверок lifecycle
	UserID  string
	Admin   bool
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client REST-клиент одного пользователя
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	actor   lifecycle.Actor
	logger  *zap.Logger
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported base url scheme %q", base.Scheme)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{Timeout: timeout}
	if opts.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: opts.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		token:   opts.Token,
		actor:   lifecycle.Actor{UserID: opts.UserID, Admin: opts.Admin},
		logger:  logger,
	}, nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// do выполняет запрос и раскладывает поле data ответа в out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := *c.baseURL
	u.Path += path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil && resp.StatusCode < 300 {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: "HTTP_ERROR", Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		c.logger.Debug("Client: ошибка API",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("code", apiErr.Code),
		)
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// Login обменивает email и пароль на токен
func Login(ctx context.Context, baseURL, email, password string) (string, *models.User, error) {
	c, err := New(Options{BaseURL: baseURL})
	if err != nil {
		return "", nil, err
	}

	var out struct {
		Token string      `json:"token"`
		User  models.User `json:"user"`
	}
	err = c.do(ctx, http.MethodPost, "/api/auth/login", nil, map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	if err != nil {
		return "", nil, err
	}
	return out.Token, &out.User, nil
}

// Me профиль владельца токена
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	var issue models.Issue
	if err := c.do(ctx, http.MethodGet, "/api/issues/"+url.PathEscape(id), nil, nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// Helpers пул кандидатов, подобранный сервером для заявки
func (c *Client) Helpers(ctx context.Context, issueID string) ([]models.HelperCandidate, error) {
	var out struct {
		Helpers []models.HelperCandidate `json:"helpers"`
	}
	path := "/api/issues/" + url.PathEscape(issueID) + "/helpers"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Helpers, nil
}

// Users список пользователей, кроме excludeID
func (c *Client) Users(ctx context.Context, excludeID string) ([]models.User, error) {
	query := url.Values{}
	if excludeID != "" {
		query.Set("excludeId", excludeID)
	}
	var out struct {
		Users []models.User `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/users", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// SuggestHelpers возвращает кандидатов в помощники. Если сервер не нашел
// никого с подходящими навыками, пул расширяется до всех остальных
// пользователей с нулевой оценкой и пометкой Fallback.
func (c *Client) SuggestHelpers(ctx context.Context, issue *models.Issue) ([]models.HelperCandidate, error) {
	if err := lifecycle.Authorize(issue, c.actor, lifecycle.ActionSuggest); err != nil {
		return nil, err
	}

	helpers, err := c.Helpers(ctx, issue.ID)
	if err != nil {
		return nil, err
	}
	if len(helpers) > 0 {
		return helpers, nil
	}

	users, err := c.Users(ctx, issue.OwnerID)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Client: подходящих помощников нет, используем всех пользователей",
		zap.String("issue_id", issue.ID),
		zap.Int("candidates", len(users)),
	)
	return matcher.Fallback(users), nil
}

// Assign назначает исполнителя заявки
func (c *Client) Assign(ctx context.Context, issue *models.Issue, assigneeID string) (*models.Issue, error) {
	if err := lifecycle.Authorize(issue, c.actor, lifecycle.ActionAssign); err != nil {
		return nil, err
	}
	if strings.TrimSpace(assigneeID) == "" {
		return nil, fmt.Errorf("%w: assignedTo is required", ErrValidation)
	}

	var out models.Issue
	path := "/api/issues/" + url.PathEscape(issue.ID) + "/assign"
	if err := c.do(ctx, http.MethodPut, path, nil, map[string]string{"assignedTo": assigneeID}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveRequest данные решения заявки
type ResolveRequest struct {
	SolvedBy      string `json:"solvedBy"`
	Solution      string `json:"solution"`
	PointsAwarded int    `json:"pointsAwarded"`
}

// Resolve отмечает заявку решенной
func (c *Client) Resolve(ctx context.Context, issue *models.Issue, req ResolveRequest) (*models.Issue, error) {
	if err := lifecycle.Authorize(issue, c.actor, lifecycle.ActionResolve); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SolvedBy) == "" {
		return nil, fmt.Errorf("%w: solvedBy is required", ErrValidation)
	}
	req.PointsAwarded = lifecycle.ResolvedPoints(issue, req.SolvedBy, req.PointsAwarded)

	var out models.Issue
	path := "/api/issues/" + url.PathEscape(issue.ID) + "/resolve"
	if err := c.do(ctx, http.MethodPut, path, nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AddComment добавляет комментарий к заявке
func (c *Client) AddComment(ctx context.Context, issueID, content string) (*models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrValidation)
	}

	var out models.Comment
	path := "/api/issues/" + url.PathEscape(issueID) + "/comments"
	if err := c.do(ctx, http.MethodPost, path, nil, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
