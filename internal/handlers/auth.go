package handlers

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/repository"
	"go.uber.org/zap"
)

type authResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// Register создает пользователя и сразу выдает токен
func (h *Handler) Register(c echo.Context) error {
	h.logger.Info("Register: начало обработки запроса")

	var req struct {
		Email      string         `json:"email"`
		Password   string         `json:"password"`
		FirstName  string         `json:"firstName"`
		LastName   string         `json:"lastName"`
		EmployeeID string         `json:"employeeId"`
		Department string         `json:"department"`
		Skills     []models.Skill `json:"skills"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Register: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		return validationError(c, "valid email is required")
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return validationError(c, "firstName and lastName are required")
	}

	hash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		h.logger.Warn("Register: пароль не прошел проверку", zap.Error(err))
		return validationError(c, err.Error())
	}

	// флаг verified при регистрации не принимается
	for i := range req.Skills {
		req.Skills[i].Verified = false
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		EmployeeID:   strings.TrimSpace(req.EmployeeID),
		Department:   strings.TrimSpace(req.Department),
		Role:         models.RoleUser,
		Skills:       req.Skills,
	}

	if err := h.repo.CreateUser(c.Request().Context(), user); err != nil {
		return h.storageError(c, "Register", "user", err)
	}

	token, err := h.issuer.Mint(user.ID, user.Role)
	if err != nil {
		h.logger.Error("Register: ошибка выпуска токена", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to issue token"))
	}

	h.logger.Info("Register: пользователь создан", zap.String("user_id", user.ID))
	return respond(c, http.StatusCreated, authResponse{Token: token, User: user})
}

// Login выдает токен по email и паролю
func (h *Handler) Login(c echo.Context) error {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Login: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return validationError(c, "email and password are required")
	}

	user, err := h.repo.GetUserByEmail(c.Request().Context(), req.Email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return h.storageError(c, "Login", "user", err)
	}
	if user == nil || auth.CheckPassword(user.PasswordHash, req.Password) != nil {
		h.logger.Warn("Login: неверные учетные данные")
		return c.JSON(http.StatusUnauthorized, newErrorResponse(ErrCodeUnauthorized, "invalid email or password"))
	}

	token, err := h.issuer.Mint(user.ID, user.Role)
	if err != nil {
		h.logger.Error("Login: ошибка выпуска токена", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, newErrorResponse(ErrCodeInternal, "failed to issue token"))
	}

	h.logger.Info("Login: пользователь вошел", zap.String("user_id", user.ID))
	return respond(c, http.StatusOK, authResponse{Token: token, User: user})
}

// Me возвращает профиль текущего пользователя
func (h *Handler) Me(c echo.Context) error {
	user, err := h.repo.GetUser(c.Request().Context(), actor(c).UserID)
	if err != nil {
		return h.storageError(c, "Me", "user", err)
	}
	return respond(c, http.StatusOK, user)
}

// UpdateProfile обновляет поля профиля текущего пользователя
func (h *Handler) UpdateProfile(c echo.Context) error {
	me := actor(c)
	h.logger.Info("UpdateProfile: начало обработки запроса", zap.String("user_id", me.UserID))

	var req struct {
		FirstName  *string `json:"firstName"`
		LastName   *string `json:"lastName"`
		EmployeeID *string `json:"employeeId"`
		Department *string `json:"department"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("UpdateProfile: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	ctx := c.Request().Context()
	user, err := h.repo.GetUser(ctx, me.UserID)
	if err != nil {
		return h.storageError(c, "UpdateProfile", "user", err)
	}

	if req.FirstName != nil {
		user.FirstName = strings.TrimSpace(*req.FirstName)
	}
	if req.LastName != nil {
		user.LastName = strings.TrimSpace(*req.LastName)
	}
	if req.EmployeeID != nil {
		user.EmployeeID = strings.TrimSpace(*req.EmployeeID)
	}
	if req.Department != nil {
		user.Department = strings.TrimSpace(*req.Department)
	}
	if user.FirstName == "" || user.LastName == "" {
		return validationError(c, "firstName and lastName must not be empty")
	}

	if err := h.repo.UpdateProfile(ctx, user); err != nil {
		return h.storageError(c, "UpdateProfile", "user", err)
	}

	h.logger.Info("UpdateProfile: профиль обновлен", zap.String("user_id", me.UserID))
	return respond(c, http.StatusOK, user)
}

// UpdateAvailability меняет доступность текущего пользователя
func (h *Handler) UpdateAvailability(c echo.Context) error {
	me := actor(c)

	var req struct {
		Availability string `json:"availability"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("UpdateAvailability: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	switch req.Availability {
	case models.AvailabilityAvailable, models.AvailabilityBusy, models.AvailabilityAway:
	default:
		return validationError(c, "availability must be one of available, busy, away")
	}

	ctx := c.Request().Context()
	if err := h.repo.UpdateAvailability(ctx, me.UserID, req.Availability); err != nil {
		return h.storageError(c, "UpdateAvailability", "user", err)
	}

	user, err := h.repo.GetUser(ctx, me.UserID)
	if err != nil {
		return h.storageError(c, "UpdateAvailability", "user", err)
	}

	h.logger.Info("UpdateAvailability: доступность обновлена",
		zap.String("user_id", me.UserID),
		zap.String("availability", req.Availability),
	)
	return respond(c, http.StatusOK, user)
}
