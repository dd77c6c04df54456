// Package lifecycle проверяет переходы статусов заявки и права участника на
// действие с ней.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/untibullet/fixit/internal/models"
)

// Action действие над заявкой
type Action string

const (
	ActionEdit    Action = "edit"
	ActionDelete  Action = "delete"
	ActionAssign  Action = "assign"
	ActionStart   Action = "start"
	ActionResolve Action = "resolve"
	ActionClose   Action = "close"
	ActionSuggest Action = "suggest_helpers"
	ActionAskHelp Action = "ask_help"
	ActionComment Action = "comment"
)

var (
	ErrNotOwner          = errors.New("only the issue owner may do this")
	ErrNotAssignee       = errors.New("only the assignee may do this")
	ErrTerminal          = errors.New("issue is already resolved or closed")
	ErrInvalidTransition = errors.New("status transition is not allowed")
)

// DeniedError отказ в действии с указанием причины
type DeniedError struct {
	Action Action
	Status models.IssueStatus
	Err    error
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s denied in status %q: %v", e.Action, e.Status, e.Err)
}

func (e *DeniedError) Unwrap() error {
	return e.Err
}

// IsAuthorization сообщает, связан ли отказ с правами участника, а не со статусом
func IsAuthorization(err error) bool {
	return errors.Is(err, ErrNotOwner) || errors.Is(err, ErrNotAssignee)
}

// Actor тот, кто выполняет действие
type Actor struct {
	UserID string
	Admin  bool
}

var transitions = map[models.IssueStatus][]models.IssueStatus{
	models.StatusOpen:       {models.StatusAssigned, models.StatusResolved},
	models.StatusAssigned:   {models.StatusAssigned, models.StatusInProgress, models.StatusResolved},
	models.StatusInProgress: {models.StatusAssigned, models.StatusResolved},
	models.StatusResolved:   {models.StatusClosed},
}

// CanTransition сообщает, разрешен ли переход from -> to
func CanTransition(from, to models.IssueStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Target статус, в который переводит действие. Для действий, не меняющих
// статус, возвращается пустая строка.
func Target(action Action) models.IssueStatus {
	switch action {
	case ActionAssign:
		return models.StatusAssigned
	case ActionStart:
		return models.StatusInProgress
	case ActionResolve:
		return models.StatusResolved
	case ActionClose:
		return models.StatusClosed
	}
	return ""
}

// Authorize проверяет, может ли actor выполнить action над issue. Возвращает
// *DeniedError, если нет.
func Authorize(issue *models.Issue, actor Actor, action Action) error {
	deny := func(err error) error {
		return &DeniedError{Action: action, Status: issue.Status, Err: err}
	}

	switch action {
	case ActionEdit, ActionDelete, ActionSuggest, ActionAskHelp:
		if !issue.IsOwner(actor.UserID) && action != ActionSuggest {
			return deny(ErrNotOwner)
		}
		if issue.Status.Terminal() {
			return deny(ErrTerminal)
		}
		return nil

	case ActionAssign, ActionResolve:
		if !issue.IsOwner(actor.UserID) {
			return deny(ErrNotOwner)
		}

	case ActionStart:
		if !issue.IsAssignee(actor.UserID) {
			return deny(ErrNotAssignee)
		}

	case ActionClose:
		if !issue.IsOwner(actor.UserID) && !actor.Admin {
			return deny(ErrNotOwner)
		}

	case ActionComment:
		if issue.Status == models.StatusClosed {
			return deny(ErrTerminal)
		}
		return nil

	default:
		return deny(fmt.Errorf("unknown action %q", action))
	}

	to := Target(action)
	if !CanTransition(issue.Status, to) {
		if issue.Status.Terminal() && to != models.StatusClosed {
			return deny(ErrTerminal)
		}
		return deny(ErrInvalidTransition)
	}
	return nil
}

// ResolvedPoints количество очков, которые получит решивший заявку. Автор,
// решивший свою заявку сам, очков не получает.
func ResolvedPoints(issue *models.Issue, solverID string, requested int) int {
	if issue.IsOwner(solverID) || requested < 0 {
		return 0
	}
	return requested
}
