// Package notify ведет клиентскую ленту уведомлений. Все переходы ленты
// чистые: каждый возвращает новую Feed и не меняет исходную.
package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/untibullet/fixit/internal/models"
)

// Event входящее событие канала в форме, нужной ленте
type Event struct {
	Type     models.NotificationType
	From     *models.UserRef
	IssueID  string
	ToUserID string
	Title    string
	Message  string
	Accepted *bool
	Note     string
}

// Feed лента уведомлений, самые новые первыми
type Feed struct {
	Entries []models.Notification `json:"entries"`
	Unread  int                   `json:"unread"`
}

// Ingest добавляет уведомление о событии в начало ленты. help:response
// дополнительно помечает исходный help:request итогом.
func (f Feed) Ingest(ev Event, now time.Time) Feed {
	entries := make([]models.Notification, 0, len(f.Entries)+1)
	entries = append(entries, newNotification(ev, now))
	entries = append(entries, f.Entries...)
	next := Feed{Entries: entries, Unread: f.Unread + 1}

	if ev.Type == models.NotificationHelpResponse && ev.From != nil && ev.Accepted != nil {
		next, _ = next.annotate(ev.From.ID, ev.IssueID, *ev.Accepted)
	}
	return next
}

// MarkAllRead помечает прочитанными все уведомления
func (f Feed) MarkAllRead() Feed {
	entries := make([]models.Notification, len(f.Entries))
	for i, n := range f.Entries {
		n.Read = true
		entries[i] = n
	}
	return Feed{Entries: entries, Unread: 0}
}

// MarkRead помечает прочитанным одно уведомление
func (f Feed) MarkRead(id string) Feed {
	next := f.clone()
	for i := range next.Entries {
		if next.Entries[i].ID == id && !next.Entries[i].Read {
			next.Entries[i].Read = true
			next.Unread--
		}
	}
	return next
}

// Respond применяет собственный ответ на просьбу о помощи: помечает
// ожидающий help:request от counterpart по issueID итогом. Если такого нет,
// в ленту добавляется отдельное уведомление help:response.
func (f Feed) Respond(counterpart models.UserRef, issueID string, accepted bool, note string, now time.Time) Feed {
	next, matched := f.annotate(counterpart.ID, issueID, accepted)
	if matched {
		return next
	}

	ref := counterpart
	return f.Ingest(Event{
		Type:     models.NotificationHelpResponse,
		From:     &ref,
		IssueID:  issueID,
		ToUserID: counterpart.ID,
		Title:    "Help response sent",
		Message:  fmt.Sprintf("You %s the help request from %s", outcomeVerb(accepted), counterpart.Name),
		Accepted: &accepted,
		Note:     note,
	}, now)
}

// Pending ожидающие ответа просьбы о помощи
func (f Feed) Pending() []models.Notification {
	var out []models.Notification
	for _, n := range f.Entries {
		if n.Type == models.NotificationHelpRequest && n.Status == "" {
			out = append(out, n)
		}
	}
	return out
}

// annotate помечает итогом все ожидающие help:request с тем же собеседником
// и той же заявкой
func (f Feed) annotate(counterpartID, issueID string, accepted bool) (Feed, bool) {
	next := f.clone()
	status := models.OutcomeDeclined
	if accepted {
		status = models.OutcomeAccepted
	}

	matched := false
	for i := range next.Entries {
		n := &next.Entries[i]
		if n.Type != models.NotificationHelpRequest || n.Status != "" {
			continue
		}
		if n.Data.From == nil || n.Data.From.ID != counterpartID || n.Data.IssueID != issueID {
			continue
		}
		n.Status = status
		if !n.Read {
			n.Read = true
			next.Unread--
		}
		matched = true
	}
	return next, matched
}

func (f Feed) clone() Feed {
	entries := make([]models.Notification, len(f.Entries))
	copy(entries, f.Entries)
	return Feed{Entries: entries, Unread: f.Unread}
}

func newNotification(ev Event, now time.Time) models.Notification {
	title, message := ev.Title, ev.Message
	if title == "" || message == "" {
		t, m := describe(ev)
		if title == "" {
			title = t
		}
		if message == "" {
			message = m
		}
	}

	return models.Notification{
		ID:      uuid.NewString(),
		Type:    ev.Type,
		Title:   title,
		Message: message,
		Data: models.NotificationData{
			IssueID:  ev.IssueID,
			From:     ev.From,
			ToUserID: ev.ToUserID,
			Accepted: ev.Accepted,
			Note:     ev.Note,
		},
		CreatedAt: now,
	}
}

func describe(ev Event) (string, string) {
	name := "Someone"
	if ev.From != nil && ev.From.Name != "" {
		name = ev.From.Name
	}

	switch ev.Type {
	case models.NotificationIssueAssigned:
		return "Issue assigned", fmt.Sprintf("%s assigned you an issue", name)
	case models.NotificationMessageReceived:
		return "New message", fmt.Sprintf("%s sent you a message", name)
	case models.NotificationHelpOffer:
		return "Help offered", fmt.Sprintf("%s offered to help with your issue", name)
	case models.NotificationHelpRequest:
		return "Help requested", fmt.Sprintf("%s asked for your help", name)
	case models.NotificationHelpResponse:
		accepted := ev.Accepted != nil && *ev.Accepted
		return "Help response", fmt.Sprintf("%s %s your help request", name, outcomeVerb(accepted))
	default:
		return "Notification", string(ev.Type)
	}
}

func outcomeVerb(accepted bool) string {
	if accepted {
		return "accepted"
	}
	return "declined"
}

// Reconciler хранит актуальную ленту сессии. Обновления применяются к
// последнему снимку под мьютексом, после Close игнорируются.
type Reconciler struct {
	mu       sync.Mutex
	feed     Feed
	closed   bool
	onChange func(Feed)
}

// NewReconciler создает пустую ленту. onChange вызывается после каждого
// примененного обновления; может быть nil.
func NewReconciler(onChange func(Feed)) *Reconciler {
	return &Reconciler{onChange: onChange}
}

// Apply применяет переход к последнему снимку. Возвращает false, если
// сессия уже закрыта.
func (r *Reconciler) Apply(update func(Feed) Feed) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.feed = update(r.feed)
	snapshot := r.feed
	onChange := r.onChange
	r.mu.Unlock()

	if onChange != nil {
		onChange(snapshot)
	}
	return true
}

// Ingest добавляет событие в ленту
func (r *Reconciler) Ingest(ev Event) bool {
	now := time.Now()
	return r.Apply(func(f Feed) Feed { return f.Ingest(ev, now) })
}

// MarkAllRead помечает всю ленту прочитанной
func (r *Reconciler) MarkAllRead() bool {
	return r.Apply(Feed.MarkAllRead)
}

// Snapshot текущая лента
func (r *Reconciler) Snapshot() Feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feed.clone()
}

// Close завершает сессию ленты
func (r *Reconciler) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
