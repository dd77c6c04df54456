package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/untibullet/fixit/internal/models"
)

func issueIn(status models.IssueStatus) *models.Issue {
	assignee := "helper"
	return &models.Issue{ID: "i1", OwnerID: "owner", AssigneeID: &assignee, Status: status}
}

var owner = Actor{UserID: "owner"}

func TestAuthorize_TerminalRejectsAssignAndResolve(t *testing.T) {
	for _, status := range []models.IssueStatus{models.StatusResolved, models.StatusClosed} {
		for _, action := range []Action{ActionAssign, ActionResolve, ActionEdit, ActionDelete, ActionSuggest, ActionAskHelp} {
			err := Authorize(issueIn(status), owner, action)
			require.Error(t, err, "%s in %s", action, status)

			var denied *DeniedError
			require.True(t, errors.As(err, &denied))
			assert.Equal(t, action, denied.Action)
			assert.ErrorIs(t, err, ErrTerminal)
			assert.False(t, IsAuthorization(err))
		}
	}
}

func TestAuthorize_OwnerOnly(t *testing.T) {
	stranger := Actor{UserID: "someone"}
	for _, action := range []Action{ActionEdit, ActionDelete, ActionAssign, ActionResolve, ActionAskHelp} {
		err := Authorize(issueIn(models.StatusOpen), stranger, action)
		assert.ErrorIs(t, err, ErrNotOwner, "action %s", action)
		assert.True(t, IsAuthorization(err))
	}
}

func TestAuthorize_OpenIssue(t *testing.T) {
	open := issueIn(models.StatusOpen)

	assert.NoError(t, Authorize(open, owner, ActionAssign))
	assert.NoError(t, Authorize(open, owner, ActionResolve))
	assert.NoError(t, Authorize(open, owner, ActionEdit))
	assert.NoError(t, Authorize(open, Actor{UserID: "anyone"}, ActionSuggest))
	assert.ErrorIs(t, Authorize(open, Actor{UserID: "helper"}, ActionStart), ErrInvalidTransition)
	assert.ErrorIs(t, Authorize(open, owner, ActionClose), ErrInvalidTransition)
}

func TestAuthorize_StartByAssigneeOnly(t *testing.T) {
	assigned := issueIn(models.StatusAssigned)

	assert.NoError(t, Authorize(assigned, Actor{UserID: "helper"}, ActionStart))
	assert.ErrorIs(t, Authorize(assigned, owner, ActionStart), ErrNotAssignee)
}

func TestAuthorize_Close(t *testing.T) {
	resolved := issueIn(models.StatusResolved)

	assert.NoError(t, Authorize(resolved, owner, ActionClose))
	assert.NoError(t, Authorize(resolved, Actor{UserID: "root", Admin: true}, ActionClose))
	assert.ErrorIs(t, Authorize(resolved, Actor{UserID: "helper"}, ActionClose), ErrNotOwner)
	assert.ErrorIs(t, Authorize(issueIn(models.StatusInProgress), owner, ActionClose), ErrInvalidTransition)
}

func TestAuthorize_Comment(t *testing.T) {
	assert.NoError(t, Authorize(issueIn(models.StatusResolved), Actor{UserID: "x"}, ActionComment))
	assert.ErrorIs(t, Authorize(issueIn(models.StatusClosed), Actor{UserID: "x"}, ActionComment), ErrTerminal)
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to models.IssueStatus
		ok       bool
	}{
		{models.StatusOpen, models.StatusAssigned, true},
		{models.StatusOpen, models.StatusResolved, true},
		{models.StatusOpen, models.StatusInProgress, false},
		{models.StatusAssigned, models.StatusInProgress, true},
		{models.StatusInProgress, models.StatusResolved, true},
		{models.StatusResolved, models.StatusClosed, true},
		{models.StatusResolved, models.StatusOpen, false},
		{models.StatusClosed, models.StatusOpen, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestResolvedPoints(t *testing.T) {
	issue := issueIn(models.StatusAssigned)

	assert.Equal(t, 0, ResolvedPoints(issue, "owner", 50))
	assert.Equal(t, 50, ResolvedPoints(issue, "helper", 50))
	assert.Equal(t, 0, ResolvedPoints(issue, "helper", -5))
}
