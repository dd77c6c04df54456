package notify

import (
	"fmt"

	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/realtime"
)

// FromFrame разбирает кадр, пришедший с сервера, в событие ленты.
// Незнакомые события и некорректные кадры возвращают ошибку.
func FromFrame(raw []byte) (Event, error) {
	env, err := realtime.DecodeEnvelope(raw)
	if err != nil {
		return Event{}, err
	}

	switch env.Event {
	case realtime.EventIssueAssigned:
		var p realtime.IssueAssigned
		if err := realtime.DecodePayload(env, &p); err != nil {
			return Event{}, err
		}
		from := p.AssignedBy
		return Event{
			Type:    models.NotificationIssueAssigned,
			From:    &from,
			IssueID: p.IssueID,
			Message: fmt.Sprintf("%s assigned you %q", from.Name, p.Title),
		}, nil

	case realtime.EventMessageReceived:
		var p realtime.MessageReceived
		if err := realtime.DecodePayload(env, &p); err != nil {
			return Event{}, err
		}
		from := p.Sender
		return Event{
			Type:    models.NotificationMessageReceived,
			From:    &from,
			IssueID: p.IssueID,
			Message: p.Message,
		}, nil

	case realtime.EventHelpOffer, realtime.EventHelpRequest:
		var p realtime.HelpNotice
		if err := realtime.DecodePayload(env, &p); err != nil {
			return Event{}, err
		}
		typ := models.NotificationHelpOffer
		if env.Event == realtime.EventHelpRequest {
			typ = models.NotificationHelpRequest
		}
		from := p.From
		return Event{
			Type:    typ,
			From:    &from,
			IssueID: p.IssueID,
			Note:    p.Note,
		}, nil

	case realtime.EventHelpResponse:
		var p realtime.HelpResponse
		if err := realtime.DecodePayload(env, &p); err != nil {
			return Event{}, err
		}
		from := p.From
		accepted := p.Accepted
		return Event{
			Type:     models.NotificationHelpResponse,
			From:     &from,
			IssueID:  p.IssueID,
			Accepted: &accepted,
			Note:     p.Note,
		}, nil

	default:
		return Event{}, fmt.Errorf("%w: %q", realtime.ErrUnknownEvent, env.Event)
	}
}
