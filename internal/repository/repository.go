// repository/repository.go
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/untibullet/fixit/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrInvalidInput  = errors.New("invalid input")
	// ErrConflict статус заявки изменился между чтением и записью
	ErrConflict = errors.New("issue status changed concurrently")
)

// UserFilter параметры выборки пользователей
type UserFilter struct {
	Search     string
	Department string
	Skills     []string
	ExcludeID  string
	Limit      int
}

// IssueFilter параметры выборки заявок
type IssueFilter struct {
	Status     models.IssueStatus
	Priority   models.IssuePriority
	Category   models.IssueCategory
	Search     string
	OwnerID    string
	InvolvedID string
	Page       int
	Limit      int
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

// Normalize подставляет значения пагинации по умолчанию
func (f *IssueFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	if f.Page <= 0 {
		f.Page = 1
	}
}

// Offset смещение первой записи страницы
func (f *IssueFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}

// Repository хранилище пользователей и заявок
type Repository interface {
	// Users
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]models.User, error)
	UpdateProfile(ctx context.Context, u *models.User) error
	UpdateAvailability(ctx context.Context, userID, availability string) error
	ReplaceSkills(ctx context.Context, userID string, skills []models.Skill) error
	VerifySkill(ctx context.Context, userID, skillName string) error
	TopContributors(ctx context.Context, limit int) ([]models.User, error)

	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, f IssueFilter) ([]models.Issue, int, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error
	DeleteIssue(ctx context.Context, id string) error
	AssignIssue(ctx context.Context, id string, expected models.IssueStatus, assigneeID string) error
	TransitionIssue(ctx context.Context, id string, from, to models.IssueStatus) error
	ResolveIssue(ctx context.Context, id string, expected models.IssueStatus, res models.Resolution) error
	AddComment(ctx context.Context, c *models.Comment) error
	Vote(ctx context.Context, issueID, userID string, up bool) (upvotes, downvotes int, err error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// normalizeSkillSet приводит навыки пользователя к виду хранения: имя в
// нижнем регистре, без дублей, неизвестный уровень заменяется на intermediate.
func normalizeSkillSet(skills []models.Skill) ([]models.Skill, error) {
	out := make([]models.Skill, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		name := strings.ToLower(strings.TrimSpace(s.Name))
		if name == "" {
			return nil, ErrInvalidInput
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		level := s.Level
		switch level {
		case models.LevelBeginner, models.LevelIntermediate, models.LevelAdvanced, models.LevelExpert:
		default:
			level = models.LevelIntermediate
		}
		out = append(out, models.Skill{Name: name, Level: level, Verified: s.Verified})
	}
	return out, nil
}

func likePattern(s string) string {
	return "%" + strings.ToLower(strings.TrimSpace(s)) + "%"
}
