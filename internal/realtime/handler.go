package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/untibullet/fixit/internal/auth"
	"github.com/untibullet/fixit/internal/config"
	"github.com/untibullet/fixit/internal/lifecycle"
	"github.com/untibullet/fixit/internal/models"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"
)

const maxFrameBytes = 64 << 10

// Directory источник пользователей и заявок, нужных для маршрутизации событий
type Directory interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
}

// Handler принимает подключения /ws и маршрутизирует события клиентов
type Handler struct {
	hub    *Hub
	issuer *auth.Issuer
	dir    Directory
	limit  rate.Limit
	burst  int
	logger *zap.Logger
}

func NewHandler(hub *Hub, issuer *auth.Issuer, dir Directory, cfg config.RealtimeConfig, logger *zap.Logger) *Handler {
	limit := rate.Limit(cfg.EventsPerSecond)
	if cfg.EventsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Handler{
		hub:    hub,
		issuer: issuer,
		dir:    dir,
		limit:  limit,
		burst:  burst,
		logger: logger,
	}
}

// Serve проверяет токен и переводит соединение на websocket. Без
// действительного токена соединение не привязывается.
func (h *Handler) Serve(c echo.Context) error {
	token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if token == "" {
		token = c.QueryParam("token")
	}

	claims, err := h.issuer.Verify(token)
	if err != nil {
		h.logger.Warn("Realtime: подключение без действительного токена", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"code":    "UNAUTHORIZED",
				"message": "not authorized, token failed",
			},
		})
	}

	ctx := c.Request().Context()
	user, err := h.dir.GetUser(ctx, claims.Subject)
	if err != nil {
		h.logger.Warn("Realtime: владелец токена не найден",
			zap.String("user_id", claims.Subject),
			zap.Error(err),
		)
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"error": map[string]string{
				"code":    "UNAUTHORIZED",
				"message": "user not found",
			},
		})
	}

	server := websocket.Server{
		Handler: func(ws *websocket.Conn) {
			h.session(ctx, user, ws)
		},
	}
	server.ServeHTTP(c.Response(), c.Request())
	return nil
}

// session обслуживает одно подключение до его закрытия
func (h *Handler) session(ctx context.Context, user *models.User, ws *websocket.Conn) {
	ws.MaxPayloadBytes = maxFrameBytes
	defer ws.Close()

	conn := h.hub.Register(user.ID, ws)
	if conn == nil {
		return
	}
	defer h.hub.Unregister(conn)

	go h.writeLoop(conn, ws)

	limiter := rate.NewLimiter(h.limit, h.burst)
	for {
		var raw []byte
		if err := websocket.Message.Receive(ws, &raw); err != nil {
			if !errors.Is(err, io.EOF) {
				h.logger.Debug("Realtime: чтение прервано",
					zap.String("user_id", user.ID),
					zap.Error(err),
				)
			}
			return
		}

		if !limiter.Allow() {
			h.logger.Warn("Realtime: превышен лимит событий, событие отброшено", zap.String("user_id", user.ID))
			continue
		}

		h.Route(ctx, user, raw)
	}
}

func (h *Handler) writeLoop(conn *Conn, ws *websocket.Conn) {
	for frame := range conn.Outbound() {
		if err := websocket.Message.Send(ws, string(frame)); err != nil {
			h.logger.Debug("Realtime: запись прервана",
				zap.String("user_id", conn.UserID()),
				zap.Error(err),
			)
			_ = ws.Close()
			return
		}
	}
}

// Route разбирает кадр отправителя и пересылает событие адресату.
// Неразборчивые и недопустимые события отбрасываются с записью в лог.
func (h *Handler) Route(ctx context.Context, sender *models.User, raw []byte) {
	in, err := ParseInbound(raw)
	if err != nil {
		h.logger.Warn("Realtime: некорректное событие отброшено",
			zap.String("user_id", sender.ID),
			zap.Error(err),
		)
		return
	}

	if in.Recipient() == sender.ID {
		h.logger.Warn("Realtime: событие самому себе отброшено",
			zap.String("event", in.Name()),
			zap.String("user_id", sender.ID),
		)
		return
	}

	from := sender.Ref()

	switch p := in.(type) {
	case MessageSend:
		h.hub.Send(p.ToUserID, EventMessageReceived, MessageReceived{
			Sender:  from,
			Message: p.Message,
			IssueID: p.IssueID,
		})

	case HelpOffer:
		issue, ok := h.allowed(ctx, sender, p.IssueID, lifecycle.ActionSuggest, in.Name())
		if !ok {
			return
		}
		if !issue.IsOwner(p.ToUserID) {
			h.logger.Warn("Realtime: предложение помощи не владельцу заявки, событие отброшено",
				zap.String("user_id", sender.ID),
				zap.String("to_user_id", p.ToUserID),
				zap.String("issue_id", p.IssueID),
			)
			return
		}
		h.hub.Send(p.ToUserID, EventHelpOffer, HelpNotice{From: from, IssueID: p.IssueID, Note: p.Note})

	case HelpAsk:
		if _, ok := h.allowed(ctx, sender, p.IssueID, lifecycle.ActionAskHelp, in.Name()); !ok {
			return
		}
		h.hub.Send(p.ToUserID, EventHelpRequest, HelpNotice{From: from, IssueID: p.IssueID, Note: p.Note})

	case HelpRespond:
		h.hub.Send(p.ToUserID, EventHelpResponse, HelpResponse{
			From:     from,
			IssueID:  p.IssueID,
			Accepted: *p.Accepted,
			Note:     p.Note,
		})
	}
}

// allowed проверяет заявку, к которой относится событие, через lifecycle
// и возвращает ее
func (h *Handler) allowed(ctx context.Context, sender *models.User, issueID string, action lifecycle.Action, event string) (*models.Issue, bool) {
	issue, err := h.dir.GetIssue(ctx, issueID)
	if err != nil {
		h.logger.Warn("Realtime: заявка события не найдена, событие отброшено",
			zap.String("event", event),
			zap.String("issue_id", issueID),
			zap.Error(err),
		)
		return nil, false
	}

	actor := lifecycle.Actor{UserID: sender.ID, Admin: sender.IsAdmin()}
	if err := lifecycle.Authorize(issue, actor, action); err != nil {
		h.logger.Warn("Realtime: событие запрещено, отброшено",
			zap.String("event", event),
			zap.String("user_id", sender.ID),
			zap.String("issue_id", issueID),
			zap.Error(err),
		)
		return nil, false
	}
	return issue, true
}
