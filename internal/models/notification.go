package models

import "time"

// NotificationType тег уведомления, совпадает с именем события канала
type NotificationType string

const (
	NotificationIssueAssigned   NotificationType = "issue:assigned"
	NotificationMessageReceived NotificationType = "message:received"
	NotificationHelpOffer       NotificationType = "help:offer"
	NotificationHelpRequest     NotificationType = "help:request"
	NotificationHelpResponse    NotificationType = "help:response"
)

// Итог запроса помощи, которым помечается исходный help:request
const (
	OutcomeAccepted = "accepted"
	OutcomeDeclined = "declined"
)

// NotificationData ссылки, переданные вместе с событием
type NotificationData struct {
	IssueID  string   `json:"issueId,omitempty"`
	From     *UserRef `json:"from,omitempty"`
	ToUserID string   `json:"toUserId,omitempty"`
	Accepted *bool    `json:"accepted,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// Notification запись клиентской ленты уведомлений. На сервере не хранится.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Read      bool             `json:"read"`
	Status    string           `json:"status,omitempty"`
	Data      NotificationData `json:"data"`
	CreatedAt time.Time        `json:"createdAt"`
}
