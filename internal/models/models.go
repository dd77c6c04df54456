// models/models.go
package models

import (
	"strings"
	"time"
)

// IssueStatus состояние заявки в жизненном цикле
type IssueStatus string

const (
	StatusOpen       IssueStatus = "open"
	StatusAssigned   IssueStatus = "assigned"
	StatusInProgress IssueStatus = "in_progress"
	StatusResolved   IssueStatus = "resolved"
	StatusClosed     IssueStatus = "closed"
)

// Valid сообщает, является ли статус известным
func (s IssueStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusAssigned, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Terminal сообщает, завершена ли работа над заявкой
func (s IssueStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed
}

// IssuePriority срочность заявки
type IssuePriority string

const (
	PriorityLow    IssuePriority = "low"
	PriorityMedium IssuePriority = "medium"
	PriorityHigh   IssuePriority = "high"
	PriorityUrgent IssuePriority = "urgent"
)

func (p IssuePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// IssueCategory область, к которой относится проблема
type IssueCategory string

const (
	CategoryHardware IssueCategory = "hardware"
	CategorySoftware IssueCategory = "software"
	CategoryNetwork  IssueCategory = "network"
	CategoryPrinter  IssueCategory = "printer"
	CategoryEmail    IssueCategory = "email"
	CategoryAccess   IssueCategory = "access"
	CategoryOther    IssueCategory = "other"
)

func (c IssueCategory) Valid() bool {
	switch c {
	case CategoryHardware, CategorySoftware, CategoryNetwork, CategoryPrinter,
		CategoryEmail, CategoryAccess, CategoryOther:
		return true
	}
	return false
}

// DefaultSkill навык, который подставляется, если у заявки не указано ни одного
const DefaultSkill = "general"

// Location где находится проблема
type Location struct {
	Building string `json:"building,omitempty"`
	Floor    string `json:"floor,omitempty"`
	Room     string `json:"room,omitempty"`
}

// Resolution описывает, кто и как решил заявку
type Resolution struct {
	SolvedBy      string    `json:"solvedBy"`
	Solution      string    `json:"solution"`
	PointsAwarded int       `json:"pointsAwarded"`
	SolvedAt      time.Time `json:"solvedAt"`
}

// Comment комментарий к заявке
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issueId"`
	AuthorID  string    `json:"authorId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Issue представляет заявку в службу поддержки
type Issue struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Description    string        `json:"description"`
	Category       IssueCategory `json:"category"`
	Priority       IssuePriority `json:"priority"`
	Status         IssueStatus   `json:"status"`
	RequiredSkills []string      `json:"requiredSkills"`
	Tags           []string      `json:"tags"`
	Location       Location      `json:"location"`
	OwnerID        string        `json:"postedBy"`
	AssigneeID     *string       `json:"assignedTo,omitempty"`
	Resolution     *Resolution   `json:"resolution,omitempty"`
	Comments       []Comment     `json:"comments"`
	Upvotes        int           `json:"upvotes"`
	Downvotes      int           `json:"downvotes"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// IsOwner сообщает, является ли пользователь автором заявки
func (i *Issue) IsOwner(userID string) bool {
	return userID != "" && i.OwnerID == userID
}

// IsAssignee сообщает, назначен ли пользователь исполнителем
func (i *Issue) IsAssignee(userID string) bool {
	return userID != "" && i.AssigneeID != nil && *i.AssigneeID == userID
}

// NormalizeSkills приводит список навыков к нижнему регистру, убирает пустые и
// повторяющиеся значения с сохранением порядка. Пустой результат заменяется на
// DefaultSkill.
func NormalizeSkills(skills []string) []string {
	out := make([]string, 0, len(skills))
	seen := make(map[string]struct{}, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		out = append(out, DefaultSkill)
	}
	return out
}

// Роли пользователей
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Доступность пользователя для помощи
const (
	AvailabilityAvailable = "available"
	AvailabilityBusy      = "busy"
	AvailabilityAway      = "away"
)

// SkillLevel уровень владения навыком
type SkillLevel string

const (
	LevelBeginner     SkillLevel = "beginner"
	LevelIntermediate SkillLevel = "intermediate"
	LevelAdvanced     SkillLevel = "advanced"
	LevelExpert       SkillLevel = "expert"
)

// Skill навык пользователя
type Skill struct {
	Name     string     `json:"name"`
	Level    SkillLevel `json:"level"`
	Verified bool       `json:"verified"`
}

// Contributions счетчики вклада пользователя
type Contributions struct {
	IssuesResolved int     `json:"issuesResolved"`
	Points         int     `json:"points"`
	Rating         float64 `json:"rating"`
	RatingCount    int     `json:"ratingCount"`
}

// User представляет сотрудника
type User struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	PasswordHash  string        `json:"-"`
	FirstName     string        `json:"firstName"`
	LastName      string        `json:"lastName"`
	EmployeeID    string        `json:"employeeId"`
	Department    string        `json:"department"`
	Role          string        `json:"role"`
	Availability  string        `json:"availability"`
	Skills        []Skill       `json:"skills"`
	Contributions Contributions `json:"contributions"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

// Name возвращает отображаемое имя пользователя
func (u *User) Name() string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		return u.Email
	}
	return name
}

// IsAdmin сообщает, есть ли у пользователя права администратора
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HelperCandidate пользователь с рассчитанной оценкой соответствия заявке.
// Существует только как результат ранжирования.
type HelperCandidate struct {
	User
	Score    float64 `json:"score"`
	Fallback bool    `json:"fallback,omitempty"`
}

// UserRef краткая ссылка на пользователя в событиях
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Ref возвращает краткую ссылку на пользователя
func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name()}
}
