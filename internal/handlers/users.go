package handlers

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/fixit/internal/matcher"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/repository"
	"go.uber.org/zap"
)

const maxUsersLimit = 100

// ListUsers получает пользователей по фильтру
func (h *Handler) ListUsers(c echo.Context) error {
	limit, err := intParam(c, "limit", maxUsersLimit)
	if err != nil {
		return validationError(c, err.Error())
	}
	if limit == 0 || limit > maxUsersLimit {
		limit = maxUsersLimit
	}

	f := repository.UserFilter{
		Search:     c.QueryParam("search"),
		Department: c.QueryParam("department"),
		Skills:     splitList(c.QueryParam("skill")),
		ExcludeID:  c.QueryParam("excludeId"),
		Limit:      limit,
	}

	users, err := h.repo.ListUsers(c.Request().Context(), f)
	if err != nil {
		return h.storageError(c, "ListUsers", "user", err)
	}

	h.logger.Info("ListUsers: пользователи получены", zap.Int("count", len(users)))
	return respond(c, http.StatusOK, map[string]any{"users": users})
}

// TopContributors пользователи с наибольшим числом решенных заявок
func (h *Handler) TopContributors(c echo.Context) error {
	limit, err := intParam(c, "limit", 10)
	if err != nil {
		return validationError(c, err.Error())
	}

	users, err := h.repo.TopContributors(c.Request().Context(), limit)
	if err != nil {
		return h.storageError(c, "TopContributors", "user", err)
	}
	return respond(c, http.StatusOK, map[string]any{"users": users})
}

// SearchBySkills ранжирует пользователей по списку навыков
func (h *Handler) SearchBySkills(c echo.Context) error {
	skills := splitList(c.QueryParam("skills"))
	if len(skills) == 0 {
		return validationError(c, "skills parameter is required")
	}

	pool, err := h.repo.ListUsers(c.Request().Context(), repository.UserFilter{
		Skills:    skills,
		ExcludeID: actor(c).UserID,
	})
	if err != nil {
		return h.storageError(c, "SearchBySkills", "user", err)
	}

	ranked := matcher.RankHelpers(skills, pool)
	h.logger.Info("SearchBySkills: пользователи ранжированы",
		zap.Strings("skills", skills),
		zap.Int("count", len(ranked)),
	)
	return respond(c, http.StatusOK, map[string]any{"users": ranked})
}

// GetUser профиль пользователя
func (h *Handler) GetUser(c echo.Context) error {
	user, err := h.repo.GetUser(c.Request().Context(), c.Param("id"))
	if err != nil {
		return h.storageError(c, "GetUser", "user", err)
	}
	return respond(c, http.StatusOK, user)
}

// GetUserIssues заявки, которые пользователь создал или исполняет
func (h *Handler) GetUserIssues(c echo.Context) error {
	userID := c.Param("id")
	if _, err := h.repo.GetUser(c.Request().Context(), userID); err != nil {
		return h.storageError(c, "GetUserIssues", "user", err)
	}

	f, err := issueFilter(c)
	if err != nil {
		return validationError(c, err.Error())
	}
	f.InvolvedID = userID
	return h.listIssues(c, "GetUserIssues", f)
}

// UpdateSkills заменяет навыки пользователя. Менять можно только свои
// навыки; подтверждение сохраняется только у администратора.
func (h *Handler) UpdateSkills(c echo.Context) error {
	me := actor(c)
	userID := c.Param("id")
	h.logger.Info("UpdateSkills: начало обработки запроса", zap.String("user_id", userID))

	if userID != me.UserID && !me.Admin {
		h.logger.Warn("UpdateSkills: попытка изменить чужие навыки",
			zap.String("user_id", userID),
			zap.String("actor_id", me.UserID),
		)
		return c.JSON(http.StatusForbidden, newErrorResponse(ErrCodeForbidden, "you can only update your own skills"))
	}

	var req struct {
		Skills []models.Skill `json:"skills"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("UpdateSkills: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	ctx := c.Request().Context()
	current, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		return h.storageError(c, "UpdateSkills", "user", err)
	}

	verified := make(map[string]bool, len(current.Skills))
	for _, s := range current.Skills {
		verified[s.Name] = s.Verified
	}
	if !me.Admin {
		for i := range req.Skills {
			req.Skills[i].Verified = verified[strings.ToLower(strings.TrimSpace(req.Skills[i].Name))]
		}
	}

	if err := h.repo.ReplaceSkills(ctx, userID, req.Skills); err != nil {
		return h.storageError(c, "UpdateSkills", "user", err)
	}

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		return h.storageError(c, "UpdateSkills", "user", err)
	}

	h.logger.Info("UpdateSkills: навыки обновлены", zap.String("user_id", userID), zap.Int("skills", len(user.Skills)))
	return respond(c, http.StatusOK, user)
}

// VerifySkill подтверждает навык пользователя. Только для администратора.
func (h *Handler) VerifySkill(c echo.Context) error {
	me := actor(c)
	userID, skill := c.Param("id"), c.Param("skill")

	if !me.Admin {
		h.logger.Warn("VerifySkill: недостаточно прав", zap.String("actor_id", me.UserID))
		return c.JSON(http.StatusForbidden, newErrorResponse(ErrCodeForbidden, "admin role required"))
	}

	ctx := c.Request().Context()
	if err := h.repo.VerifySkill(ctx, userID, skill); err != nil {
		return h.storageError(c, "VerifySkill", "skill", err)
	}

	user, err := h.repo.GetUser(ctx, userID)
	if err != nil {
		return h.storageError(c, "VerifySkill", "user", err)
	}

	h.logger.Info("VerifySkill: навык подтвержден", zap.String("user_id", userID), zap.String("skill", skill))
	return respond(c, http.StatusOK, user)
}
