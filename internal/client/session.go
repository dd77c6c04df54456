package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/untibullet/fixit/internal/lifecycle"
	"github.com/untibullet/fixit/internal/models"
	"github.com/untibullet/fixit/internal/notify"
	"github.com/untibullet/fixit/internal/realtime"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

// Session привязка пользователя к каналу событий и его лента уведомлений.
// Одна сессия на вход пользователя; Close отвязывает ее.
type Session struct {
	ws     *websocket.Conn
	feed   *notify.Reconciler
	actor  lifecycle.Actor
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// Connect открывает канал событий. onChange вызывается после каждого
// изменения ленты и может быть nil.
func (c *Client) Connect(ctx context.Context, onChange func(notify.Feed)) (*Session, error) {
	if c.token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrNotConnected)
	}

	wsURL := *c.baseURL
	wsURL.Scheme = strings.Replace(wsURL.Scheme, "http", "ws", 1)
	wsURL.Path += "/ws"

	cfg, err := websocket.NewConfig(wsURL.String(), c.baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}
	cfg.Header.Set("Authorization", "Bearer "+c.token)

	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	s := &Session{
		ws:     ws,
		feed:   notify.NewReconciler(onChange),
		actor:  c.actor,
		logger: c.logger,
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

func (s *Session) readLoop() {
	defer close(s.done)
	defer s.markClosed()

	for {
		var raw []byte
		if err := websocket.Message.Receive(s.ws, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("Session: чтение прервано", zap.Error(err))
			}
			return
		}

		ev, err := notify.FromFrame(raw)
		if err != nil {
			s.logger.Warn("Session: некорректное событие отброшено", zap.Error(err))
			continue
		}
		s.feed.Ingest(ev)
	}
}

func (s *Session) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Done закрывается, когда канал разорван
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Feed текущая лента уведомлений
func (s *Session) Feed() notify.Feed {
	return s.feed.Snapshot()
}

// MarkAllRead помечает ленту прочитанной
func (s *Session) MarkAllRead() {
	s.feed.MarkAllRead()
}

func (s *Session) emit(event string, payload any) error {
	frame, err := realtime.Encode(event, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	if err := websocket.Message.Send(s.ws, string(frame)); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// SendMessage отправляет личное сообщение
func (s *Session) SendMessage(toUserID, issueID, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("%w: message is required", ErrValidation)
	}
	return s.emit(realtime.EventMessageSend, realtime.MessageSend{
		ToUserID: toUserID,
		Message:  message,
		IssueID:  issueID,
	})
}

// OfferHelp предлагает помощь владельцу заявки
func (s *Session) OfferHelp(issue *models.Issue, note string) error {
	if err := lifecycle.Authorize(issue, s.actor, lifecycle.ActionSuggest); err != nil {
		return err
	}
	return s.emit(realtime.EventHelpOffer, realtime.HelpOffer{
		ToUserID: issue.OwnerID,
		IssueID:  issue.ID,
		Note:     note,
	})
}

// AskHelp просит кандидата помочь с заявкой. Доступно только владельцу
// незавершенной заявки.
func (s *Session) AskHelp(issue *models.Issue, toUserID, note string) error {
	if err := lifecycle.Authorize(issue, s.actor, lifecycle.ActionAskHelp); err != nil {
		return err
	}
	if toUserID == "" || toUserID == s.actor.UserID {
		return fmt.Errorf("%w: a different user is required", ErrValidation)
	}
	return s.emit(realtime.EventHelpAsk, realtime.HelpAsk{
		ToUserID: toUserID,
		IssueID:  issue.ID,
		Note:     note,
	})
}

// RespondToHelp отвечает на просьбу о помощи и сразу отражает ответ в
// локальной ленте, не дожидаясь сервера
func (s *Session) RespondToHelp(target models.UserRef, issueID string, accepted bool, note string) error {
	err := s.emit(realtime.EventHelpRespond, realtime.HelpRespond{
		ToUserID: target.ID,
		IssueID:  issueID,
		Accepted: &accepted,
		Note:     note,
	})
	if err != nil {
		return err
	}

	now := time.Now()
	s.feed.Apply(func(f notify.Feed) notify.Feed {
		return f.Respond(target, issueID, accepted, note, now)
	})
	return nil
}

// Close отвязывает сессию. Лента после этого не меняется.
func (s *Session) Close() error {
	s.feed.Close()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	err := s.ws.Close()
	<-s.done
	return err
}
