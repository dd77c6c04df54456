package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/config"
	"github.com/untibullet/fixit/internal/lifecycle"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/repository"
	"go.uber.org/zap"
)

// Коды ошибок для API
const (
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeForbidden    = "FORBIDDEN"
	ErrCodeInvalidState = "INVALID_STATE"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeUserExists   = "USER_EXISTS"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// Notifier доставляет события канала пользователю
type Notifier interface {
	Send(userID, event string, data any) int
}

type Handler struct {
	repo       repository.Repository
	issuer     *auth.Issuer
	notifier   Notifier
	bcryptCost int
	logger     *zap.Logger
}

// New создает новый экземпляр обработчика
func New(repo repository.Repository, issuer *auth.Issuer, notifier Notifier, cfg config.AuthConfig, logger *zap.Logger) *Handler {
	return &Handler{
		repo:       repo,
		issuer:     issuer,
		notifier:   notifier,
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// ErrorResponse представляет структуру ошибки API
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// newErrorResponse создает стандартный ответ с ошибкой
func newErrorResponse(code, message string) ErrorResponse {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	return resp
}

// respond оборачивает полезную нагрузку в поле data
func respond(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"data": data})
}

func validationError(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, message))
}

// actor текущий пользователь запроса
func actor(c echo.Context) lifecycle.Actor {
	claims, ok := auth.FromContext(c)
	if !ok {
		return lifecycle.Actor{}
	}
	return lifecycle.Actor{UserID: claims.Subject, Admin: claims.Role == models.RoleAdmin}
}

// denied отвечает на отказ lifecycle: 403 за чужую заявку, 409 за статус
func (h *Handler) denied(c echo.Context, op string, err error) error {
	if lifecycle.IsAuthorization(err) {
		h.logger.Warn(op+": действие запрещено", zap.Error(err))
		return c.JSON(http.StatusForbidden, newErrorResponse(ErrCodeForbidden, err.Error()))
	}
	h.logger.Warn(op+": недопустимый статус заявки", zap.Error(err))
	return c.JSON(http.StatusConflict, newErrorResponse(ErrCodeInvalidState, err.Error()))
}

// storageError отвечает на ошибку репозитория
func (h *Handler) storageError(c echo.Context, op, what string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		h.logger.Warn(op+": "+what+" не найден", zap.Error(err))
		return c.JSON(http.StatusNotFound, newErrorResponse(ErrCodeNotFound, what+" not found"))
	case errors.Is(err, repository.ErrConflict):
		h.logger.Warn(op+": статус заявки изменился", zap.Error(err))
		return c.JSON(http.StatusConflict, newErrorResponse(ErrCodeInvalidState, "issue status changed, reload and retry"))
	case errors.Is(err, repository.ErrInvalidInput):
		h.logger.Warn(op+": некорректные данные", zap.Error(err))
		return c.JSON(http.StatusBadRequest, newErrorResponse(ErrCodeValidation, "invalid input"))
	case errors.Is(err, repository.ErrAlreadyExists):
		h.logger.Warn(op+": запись уже существует", zap.Error(err))
		return c.JSON(http.StatusConflict, newErrorResponse(ErrCodeUserExists, what+" already exists"))
	default:
		h.logger.Error(op+": ошибка хранилища", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "internal server error"))
	}
}

// intParam читает целый query-параметр, def при отсутствии
func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, errors.New(name + " must be a non-negative integer")
	}
	return v, nil
}

// splitList разбирает список через запятую
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Health проверка живости сервиса
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// RegisterRoutes регистрирует все маршруты API
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	api := e.Group("/api")

	// Auth
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)

	protected := api.Group("", auth.Middleware(h.issuer))
	protected.GET("/auth/me", h.Me)
	protected.PUT("/auth/profile", h.UpdateProfile)
	protected.PUT("/auth/availability", h.UpdateAvailability)

	// Issues
	protected.GET("/issues", h.ListIssues)
	protected.POST("/issues", h.CreateIssue)
	protected.GET("/issues/:id", h.GetIssue)
	protected.PUT("/issues/:id", h.UpdateIssue)
	protected.DELETE("/issues/:id", h.DeleteIssue)
	protected.GET("/issues/:id/helpers", h.GetHelpers)
	protected.PUT("/issues/:id/assign", h.AssignIssue)
	protected.PUT("/issues/:id/start", h.StartIssue)
	protected.PUT("/issues/:id/resolve", h.ResolveIssue)
	protected.PUT("/issues/:id/close", h.CloseIssue)
	protected.POST("/issues/:id/comments", h.AddComment)
	protected.POST("/issues/:id/vote", h.Vote)

	// Users
	protected.GET("/users", h.ListUsers)
	protected.GET("/users/top-contributors", h.TopContributors)
	protected.GET("/users/search/skills", h.SearchBySkills)
	protected.GET("/users/:id", h.GetUser)
	protected.GET("/users/:id/issues", h.GetUserIssues)
	protected.PUT("/users/:id/skills", h.UpdateSkills)
	protected.PUT("/users/:id/skills/:skill/verify", h.VerifySkill)
}
