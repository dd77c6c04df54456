package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/fixit/internal/lifecycle"
	"github.com/untibullet/fixit/internal/matcher"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/realtime"
	"github.com/untibullet/fixit/internal/repository"
	"go.uber.org/zap"
)

const (
	maxTitleLength = 200
	defaultHelpers = 10
)

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type issueList struct {
	Issues     []models.Issue `json:"issues"`
	Pagination pagination     `json:"pagination"`
}

// issueFilter собирает фильтр заявок из query-параметров
func issueFilter(c echo.Context) (repository.IssueFilter, error) {
	f := repository.IssueFilter{
		Status:   models.IssueStatus(c.QueryParam("status")),
		Priority: models.IssuePriority(c.QueryParam("priority")),
		Category: models.IssueCategory(c.QueryParam("category")),
		Search:   c.QueryParam("search"),
	}
	if f.Status != "" && !f.Status.Valid() {
		return f, errors.New("unknown status")
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return f, errors.New("unknown priority")
	}
	if f.Category != "" && !f.Category.Valid() {
		return f, errors.New("unknown category")
	}

	var err error
	if f.Page, err = intParam(c, "page", 1); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(c, "limit", 0); err != nil {
		return f, err
	}
	f.Normalize()
	return f, nil
}

func (h *Handler) listIssues(c echo.Context, op string, f repository.IssueFilter) error {
	issues, total, err := h.repo.ListIssues(c.Request().Context(), f)
	if err != nil {
		return h.storageError(c, op, "issue", err)
	}

	f.Normalize()
	pages := (total + f.Limit - 1) / f.Limit
	h.logger.Info(op+": заявки получены", zap.Int("count", len(issues)), zap.Int("total", total))
	return respond(c, http.StatusOK, issueList{
		Issues:     issues,
		Pagination: pagination{Page: f.Page, Limit: f.Limit, Total: total, Pages: pages},
	})
}

// ListIssues получает страницу заявок по фильтру
func (h *Handler) ListIssues(c echo.Context) error {
	f, err := issueFilter(c)
	if err != nil {
		h.logger.Warn("ListIssues: некорректный фильтр", zap.Error(err))
		return validationError(c, err.Error())
	}
	if c.QueryParam("mine") == "true" {
		f.InvolvedID = actor(c).UserID
	}
	return h.listIssues(c, "ListIssues", f)
}

// loadIssue получает заявку из параметра пути :id
func (h *Handler) loadIssue(c echo.Context, op string) (*models.Issue, error) {
	issueID := c.Param("id")
	issue, err := h.repo.GetIssue(c.Request().Context(), issueID)
	if err != nil {
		return nil, h.storageError(c, op, "issue", err)
	}
	return issue, nil
}

type issueRequest struct {
	Title          *string               `json:"title"`
	Description    *string               `json:"description"`
	Category       *models.IssueCategory `json:"category"`
	Priority       *models.IssuePriority `json:"priority"`
	RequiredSkills []string              `json:"requiredSkills"`
	Tags           []string              `json:"tags"`
	Location       *models.Location      `json:"location"`
}

// apply переносит заданные поля запроса в заявку и проверяет результат
func (r issueRequest) apply(issue *models.Issue) error {
	if r.Title != nil {
		issue.Title = strings.TrimSpace(*r.Title)
	}
	if r.Description != nil {
		issue.Description = strings.TrimSpace(*r.Description)
	}
	if r.Category != nil {
		issue.Category = *r.Category
	}
	if r.Priority != nil {
		issue.Priority = *r.Priority
	}
	if r.RequiredSkills != nil {
		issue.RequiredSkills = r.RequiredSkills
	}
	if r.Tags != nil {
		issue.Tags = r.Tags
	}
	if r.Location != nil {
		issue.Location = *r.Location
	}

	if issue.Priority == "" {
		issue.Priority = models.PriorityMedium
	}

	switch {
	case issue.Title == "":
		return errors.New("title is required")
	case len(issue.Title) > maxTitleLength:
		return errors.New("title must be at most 200 characters")
	case issue.Description == "":
		return errors.New("description is required")
	case !issue.Category.Valid():
		return errors.New("category is required and must be known")
	case !issue.Priority.Valid():
		return errors.New("unknown priority")
	}
	issue.RequiredSkills = models.NormalizeSkills(issue.RequiredSkills)
	return nil
}

// CreateIssue создает заявку от имени текущего пользователя
func (h *Handler) CreateIssue(c echo.Context) error {
	me := actor(c)
	h.logger.Info("CreateIssue: начало обработки запроса", zap.String("user_id", me.UserID))

	var req issueRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("CreateIssue: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	issue := &models.Issue{OwnerID: me.UserID, Status: models.StatusOpen}
	if err := req.apply(issue); err != nil {
		h.logger.Warn("CreateIssue: валидация не пройдена", zap.Error(err))
		return validationError(c, err.Error())
	}

	if err := h.repo.CreateIssue(c.Request().Context(), issue); err != nil {
		return h.storageError(c, "CreateIssue", "issue", err)
	}

	h.logger.Info("CreateIssue: заявка создана",
		zap.String("issue_id", issue.ID),
		zap.Strings("required_skills", issue.RequiredSkills),
	)
	return respond(c, http.StatusCreated, issue)
}

// GetIssue получает заявку с комментариями
func (h *Handler) GetIssue(c echo.Context) error {
	issue, err := h.loadIssue(c, "GetIssue")
	if issue == nil {
		return err
	}
	return respond(c, http.StatusOK, issue)
}

// UpdateIssue редактирует незавершенную заявку владельца
func (h *Handler) UpdateIssue(c echo.Context) error {
	h.logger.Info("UpdateIssue: начало обработки запроса", zap.String("issue_id", c.Param("id")))

	var req issueRequest
	if err := c.Bind(&req); err != nil {
		h.logger.Error("UpdateIssue: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	issue, err := h.loadIssue(c, "UpdateIssue")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, actor(c), lifecycle.ActionEdit); err != nil {
		return h.denied(c, "UpdateIssue", err)
	}
	if err := req.apply(issue); err != nil {
		h.logger.Warn("UpdateIssue: валидация не пройдена", zap.Error(err))
		return validationError(c, err.Error())
	}

	if err := h.repo.UpdateIssue(c.Request().Context(), issue); err != nil {
		return h.storageError(c, "UpdateIssue", "issue", err)
	}

	h.logger.Info("UpdateIssue: заявка обновлена", zap.String("issue_id", issue.ID))
	return respond(c, http.StatusOK, issue)
}

// DeleteIssue удаляет незавершенную заявку владельца
func (h *Handler) DeleteIssue(c echo.Context) error {
	issue, err := h.loadIssue(c, "DeleteIssue")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, actor(c), lifecycle.ActionDelete); err != nil {
		return h.denied(c, "DeleteIssue", err)
	}

	if err := h.repo.DeleteIssue(c.Request().Context(), issue.ID); err != nil {
		return h.storageError(c, "DeleteIssue", "issue", err)
	}

	h.logger.Info("DeleteIssue: заявка удалена", zap.String("issue_id", issue.ID))
	return respond(c, http.StatusOK, map[string]string{"id": issue.ID})
}

// GetHelpers подбирает пользователей с подходящими навыками и ранжирует их
func (h *Handler) GetHelpers(c echo.Context) error {
	issue, err := h.loadIssue(c, "GetHelpers")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, actor(c), lifecycle.ActionSuggest); err != nil {
		return h.denied(c, "GetHelpers", err)
	}

	limit, err := intParam(c, "limit", defaultHelpers)
	if err != nil {
		return validationError(c, err.Error())
	}

	pool, err := h.repo.ListUsers(c.Request().Context(), repository.UserFilter{
		Skills:    issue.RequiredSkills,
		ExcludeID: issue.OwnerID,
	})
	if err != nil {
		return h.storageError(c, "GetHelpers", "user", err)
	}

	helpers := matcher.RankHelpers(issue.RequiredSkills, pool)
	if limit > 0 && len(helpers) > limit {
		helpers = helpers[:limit]
	}

	h.logger.Info("GetHelpers: кандидаты подобраны",
		zap.String("issue_id", issue.ID),
		zap.Int("pool", len(pool)),
		zap.Int("helpers", len(helpers)),
	)
	return respond(c, http.StatusOK, map[string]any{"helpers": helpers})
}

// AssignIssue назначает исполнителя и уведомляет его через канал событий
func (h *Handler) AssignIssue(c echo.Context) error {
	me := actor(c)
	h.logger.Info("AssignIssue: начало обработки запроса", zap.String("issue_id", c.Param("id")))

	var req struct {
		AssignedTo string `json:"assignedTo"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("AssignIssue: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	issue, err := h.loadIssue(c, "AssignIssue")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, me, lifecycle.ActionAssign); err != nil {
		return h.denied(c, "AssignIssue", err)
	}
	if req.AssignedTo == "" {
		return validationError(c, "assignedTo is required")
	}

	ctx := c.Request().Context()
	if _, err := h.repo.GetUser(ctx, req.AssignedTo); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return validationError(c, "assignee does not exist")
		}
		return h.storageError(c, "AssignIssue", "user", err)
	}

	if err := h.repo.AssignIssue(ctx, issue.ID, issue.Status, req.AssignedTo); err != nil {
		return h.storageError(c, "AssignIssue", "issue", err)
	}

	updated, err := h.repo.GetIssue(ctx, issue.ID)
	if err != nil {
		return h.storageError(c, "AssignIssue", "issue", err)
	}

	if req.AssignedTo != me.UserID {
		h.notifyAssigned(ctx, updated, me.UserID)
	}

	h.logger.Info("AssignIssue: исполнитель назначен",
		zap.String("issue_id", issue.ID),
		zap.String("assignee_id", req.AssignedTo),
	)
	return respond(c, http.StatusOK, updated)
}

func (h *Handler) notifyAssigned(ctx context.Context, issue *models.Issue, byUserID string) {
	by := models.UserRef{ID: byUserID}
	if user, err := h.repo.GetUser(ctx, byUserID); err == nil {
		by = user.Ref()
	}

	delivered := h.notifier.Send(*issue.AssigneeID, realtime.EventIssueAssigned, realtime.IssueAssigned{
		IssueID:    issue.ID,
		Title:      issue.Title,
		AssignedBy: by,
	})
	h.logger.Debug("AssignIssue: событие issue:assigned отправлено",
		zap.String("issue_id", issue.ID),
		zap.Int("connections", delivered),
	)
}

// StartIssue исполнитель берет заявку в работу
func (h *Handler) StartIssue(c echo.Context) error {
	return h.transition(c, "StartIssue", lifecycle.ActionStart)
}

// CloseIssue закрывает решенную заявку
func (h *Handler) CloseIssue(c echo.Context) error {
	return h.transition(c, "CloseIssue", lifecycle.ActionClose)
}

func (h *Handler) transition(c echo.Context, op string, action lifecycle.Action) error {
	issue, err := h.loadIssue(c, op)
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, actor(c), action); err != nil {
		return h.denied(c, op, err)
	}

	ctx := c.Request().Context()
	to := lifecycle.Target(action)
	if err := h.repo.TransitionIssue(ctx, issue.ID, issue.Status, to); err != nil {
		return h.storageError(c, op, "issue", err)
	}

	updated, err := h.repo.GetIssue(ctx, issue.ID)
	if err != nil {
		return h.storageError(c, op, "issue", err)
	}

	h.logger.Info(op+": статус заявки изменен",
		zap.String("issue_id", issue.ID),
		zap.String("from", string(issue.Status)),
		zap.String("to", string(to)),
	)
	return respond(c, http.StatusOK, updated)
}

// ResolveIssue отмечает заявку решенной и начисляет очки решившему
func (h *Handler) ResolveIssue(c echo.Context) error {
	h.logger.Info("ResolveIssue: начало обработки запроса", zap.String("issue_id", c.Param("id")))

	var req struct {
		SolvedBy      string `json:"solvedBy"`
		Solution      string `json:"solution"`
		PointsAwarded int    `json:"pointsAwarded"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("ResolveIssue: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}

	issue, err := h.loadIssue(c, "ResolveIssue")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, actor(c), lifecycle.ActionResolve); err != nil {
		return h.denied(c, "ResolveIssue", err)
	}
	if req.SolvedBy == "" {
		return validationError(c, "solvedBy is required")
	}
	if req.PointsAwarded < 0 {
		return validationError(c, "pointsAwarded must not be negative")
	}

	ctx := c.Request().Context()
	if _, err := h.repo.GetUser(ctx, req.SolvedBy); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return validationError(c, "solver does not exist")
		}
		return h.storageError(c, "ResolveIssue", "user", err)
	}

	res := models.Resolution{
		SolvedBy:      req.SolvedBy,
		Solution:      strings.TrimSpace(req.Solution),
		PointsAwarded: lifecycle.ResolvedPoints(issue, req.SolvedBy, req.PointsAwarded),
	}
	if err := h.repo.ResolveIssue(ctx, issue.ID, issue.Status, res); err != nil {
		return h.storageError(c, "ResolveIssue", "issue", err)
	}

	updated, err := h.repo.GetIssue(ctx, issue.ID)
	if err != nil {
		return h.storageError(c, "ResolveIssue", "issue", err)
	}

	h.logger.Info("ResolveIssue: заявка решена",
		zap.String("issue_id", issue.ID),
		zap.String("solved_by", res.SolvedBy),
		zap.Int("points", res.PointsAwarded),
	)
	return respond(c, http.StatusOK, updated)
}

// AddComment добавляет комментарий к заявке
func (h *Handler) AddComment(c echo.Context) error {
	me := actor(c)

	var req struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("AddComment: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return validationError(c, "content is required")
	}

	issue, err := h.loadIssue(c, "AddComment")
	if issue == nil {
		return err
	}
	if err := lifecycle.Authorize(issue, me, lifecycle.ActionComment); err != nil {
		return h.denied(c, "AddComment", err)
	}

	comment := &models.Comment{IssueID: issue.ID, AuthorID: me.UserID, Content: content}
	if err := h.repo.AddComment(c.Request().Context(), comment); err != nil {
		return h.storageError(c, "AddComment", "issue", err)
	}

	h.logger.Info("AddComment: комментарий добавлен",
		zap.String("issue_id", issue.ID),
		zap.String("comment_id", comment.ID),
	)
	return respond(c, http.StatusCreated, comment)
}

// Vote голос за или против заявки; повторный голос заменяет предыдущий
func (h *Handler) Vote(c echo.Context) error {
	me := actor(c)

	var req struct {
		VoteType string `json:"voteType"`
	}
	if err := c.Bind(&req); err != nil {
		h.logger.Error("Vote: ошибка парсинга тела запроса", zap.Error(err))
		return validationError(c, "invalid request body")
	}
	if req.VoteType != "up" && req.VoteType != "down" {
		return validationError(c, "voteType must be up or down")
	}

	up, down, err := h.repo.Vote(c.Request().Context(), c.Param("id"), me.UserID, req.VoteType == "up")
	if err != nil {
		return h.storageError(c, "Vote", "issue", err)
	}

	return respond(c, http.StatusOK, map[string]int{"upvotes": up, "downvotes": down})
}
