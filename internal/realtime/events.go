package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/untibullet/fixit/internal/models"
)

// Имена событий канала
const (
	EventIssueAssigned   = "issue:assigned"
	EventMessageSend     = "message:send"
	EventMessageReceived = "message:received"
	EventHelpOffer       = "help:offer"
	EventHelpAsk         = "help:ask"
	EventHelpRequest     = "help:request"
	EventHelpRespond     = "help:respond"
	EventHelpResponse    = "help:response"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

// Envelope кадр канала в обе стороны
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode сериализует событие в кадр
func Encode(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: payload})
}

// DecodeEnvelope разбирает кадр без разбора полезной нагрузки
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := strictUnmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Event == "" || len(env.Data) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing event or data", ErrMalformedFrame)
	}
	return env, nil
}

// DecodePayload разбирает полезную нагрузку, отвергая незнакомые поля
func DecodePayload(env Envelope, dst any) error {
	if err := strictUnmarshal(env.Data, dst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
	}
	return nil
}

func strictUnmarshal(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data")
	}
	return nil
}

// --- Сервер -> клиент ---

// IssueAssigned уведомляет исполнителя о назначении
type IssueAssigned struct {
	IssueID    string         `json:"issueId"`
	Title      string         `json:"title"`
	AssignedBy models.UserRef `json:"assignedBy"`
}

// MessageReceived личное сообщение
type MessageReceived struct {
	Sender  models.UserRef `json:"sender"`
	Message string         `json:"message"`
	IssueID string         `json:"issueId,omitempty"`
}

// HelpNotice предложение помощи (help:offer) или просьба о помощи (help:request)
type HelpNotice struct {
	From    models.UserRef `json:"from"`
	IssueID string         `json:"issueId"`
	Note    string         `json:"note,omitempty"`
}

// HelpResponse ответ кандидата на просьбу о помощи
type HelpResponse struct {
	From     models.UserRef `json:"from"`
	IssueID  string         `json:"issueId"`
	Accepted bool           `json:"accepted"`
	Note     string         `json:"note,omitempty"`
}

// --- Клиент -> сервер ---

// Inbound событие, пришедшее от клиента
type Inbound interface {
	Name() string
	Recipient() string
}

type MessageSend struct {
	ToUserID string `json:"toUserId"`
	Message  string `json:"message"`
	IssueID  string `json:"issueId,omitempty"`
}

func (m MessageSend) Name() string      { return EventMessageSend }
func (m MessageSend) Recipient() string { return m.ToUserID }

// HelpOffer пользователь предлагает помощь по заявке
type HelpOffer struct {
	ToUserID string `json:"toUserId"`
	IssueID  string `json:"issueId"`
	Note     string `json:"note,omitempty"`
}

func (h HelpOffer) Name() string      { return EventHelpOffer }
func (h HelpOffer) Recipient() string { return h.ToUserID }

// HelpAsk владелец заявки просит кандидата о помощи
type HelpAsk struct {
	ToUserID string `json:"toUserId"`
	IssueID  string `json:"issueId"`
	Note     string `json:"note,omitempty"`
}

func (h HelpAsk) Name() string      { return EventHelpAsk }
func (h HelpAsk) Recipient() string { return h.ToUserID }

// HelpRespond кандидат отвечает владельцу. Accepted обязателен.
type HelpRespond struct {
	ToUserID string `json:"toUserId"`
	IssueID  string `json:"issueId"`
	Accepted *bool  `json:"accepted"`
	Note     string `json:"note,omitempty"`
}

func (h HelpRespond) Name() string      { return EventHelpRespond }
func (h HelpRespond) Recipient() string { return h.ToUserID }

// ParseInbound разбирает кадр клиента. Кадр с незнакомым событием, лишними
// полями или без обязательных полей отвергается целиком.
func ParseInbound(raw []byte) (Inbound, error) {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return nil, err
	}

	var in Inbound
	switch env.Event {
	case EventMessageSend:
		var p MessageSend
		if err := DecodePayload(env, &p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Message) == "" {
			return nil, missingField(env.Event, "message")
		}
		in = p
	case EventHelpOffer:
		var p HelpOffer
		if err := DecodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.IssueID == "" {
			return nil, missingField(env.Event, "issueId")
		}
		in = p
	case EventHelpAsk:
		var p HelpAsk
		if err := DecodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.IssueID == "" {
			return nil, missingField(env.Event, "issueId")
		}
		in = p
	case EventHelpRespond:
		var p HelpRespond
		if err := DecodePayload(env, &p); err != nil {
			return nil, err
		}
		if p.IssueID == "" {
			return nil, missingField(env.Event, "issueId")
		}
		if p.Accepted == nil {
			return nil, missingField(env.Event, "accepted")
		}
		in = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	if strings.TrimSpace(in.Recipient()) == "" {
		return nil, missingField(env.Event, "toUserId")
	}
	return in, nil
}

func missingField(event, field string) error {
	return fmt.Errorf("%w: %s: %s is required", ErrInvalidPayload, event, field)
}
