package realtime

import (
	"io"
	"sync"

	"go.uber.org/zap"
)

const defaultQueueSize = 64

// Conn одно подключение пользователя. Кадры для него складываются в
// очередь, которую вычитывает единственный писатель.
type Conn struct {
	userID string
	queue  chan []byte
	closer io.Closer
}

// UserID владелец подключения
func (c *Conn) UserID() string {
	return c.userID
}

// Outbound очередь исходящих кадров. Закрывается при отвязке подключения.
func (c *Conn) Outbound() <-chan []byte {
	return c.queue
}

// Hub связывает пользователей с их живыми подключениями
type Hub struct {
	mu        sync.RWMutex
	conns     map[string]map[*Conn]struct{}
	queueSize int
	closed    bool
	logger    *zap.Logger
}

func NewHub(queueSize int, logger *zap.Logger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Hub{
		conns:     make(map[string]map[*Conn]struct{}),
		queueSize: queueSize,
		logger:    logger,
	}
}

// Register привязывает новое подключение к пользователю. closer вызывается,
// когда хаб закрывается целиком; может быть nil. После Close хаба возвращает nil.
func (h *Hub) Register(userID string, closer io.Closer) *Conn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	c := &Conn{
		userID: userID,
		queue:  make(chan []byte, h.queueSize),
		closer: closer,
	}
	set, ok := h.conns[userID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[userID] = set
	}
	set[c] = struct{}{}

	h.logger.Debug("Realtime: подключение привязано",
		zap.String("user_id", userID),
		zap.Int("connections", len(set)),
	)
	return c
}

// discard выбрасывает неотправленные кадры и закрывает очередь.
// Вызывается под h.mu, после удаления подключения из реестра.
func (c *Conn) discard() {
	for {
		select {
		case <-c.queue:
		default:
			close(c.queue)
			return
		}
	}
}

// Unregister отвязывает подключение. Неотправленные кадры теряются.
func (h *Hub) Unregister(c *Conn) {
	if c == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.conns[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.conns, c.userID)
	}
	c.discard()

	h.logger.Debug("Realtime: подключение отвязано", zap.String("user_id", c.userID))
}

// Online сообщает, есть ли у пользователя хотя бы одно подключение
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// Send ставит событие в очереди всех подключений пользователя. Доставка не
// гарантируется: событие для пользователя без подключений или для
// переполненной очереди отбрасывается. Возвращает число очередей, принявших кадр.
func (h *Hub) Send(userID, event string, data any) int {
	frame, err := Encode(event, data)
	if err != nil {
		h.logger.Error("Realtime: ошибка сериализации события",
			zap.String("event", event),
			zap.Error(err),
		)
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.conns[userID]
	if len(set) == 0 {
		h.logger.Debug("Realtime: получатель не в сети, событие отброшено",
			zap.String("event", event),
			zap.String("user_id", userID),
		)
		return 0
	}

	delivered := 0
	for c := range set {
		select {
		case c.queue <- frame:
			delivered++
		default:
			h.logger.Warn("Realtime: очередь переполнена, событие отброшено",
				zap.String("event", event),
				zap.String("user_id", userID),
			)
		}
	}
	return delivered
}

// Close отвязывает и закрывает все подключения. Новые подключения после
// этого не принимаются.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true

	for userID, set := range h.conns {
		for c := range set {
			c.discard()
			if c.closer != nil {
				_ = c.closer.Close()
			}
		}
		delete(h.conns, userID)
	}
	h.logger.Info("Realtime: все подключения закрыты")
}
