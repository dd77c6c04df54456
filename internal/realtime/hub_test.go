package realtime

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type closeCounter struct {
	mu     sync.Mutex
	closed int
}

func (c *closeCounter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func drain(c *Conn) []string {
	var out []string
	for {
		select {
		case frame, ok := <-c.Outbound():
			if !ok {
				return out
			}
			env, err := DecodeEnvelope(frame)
			if err != nil {
				return out
			}
			out = append(out, string(env.Data))
		default:
			return out
		}
	}
}

func TestHub_SendOrder(t *testing.T) {
	hub := NewHub(16, zap.NewNop())
	conn := hub.Register("u1", nil)
	require.NotNil(t, conn)

	for i := 0; i < 5; i++ {
		assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, i))
	}

	assert.Equal(t, []string{"0", "1", "2", "3", "4"}, drain(conn))
}

func TestHub_OfflineDropped(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	assert.Equal(t, 0, hub.Send("nobody", EventIssueAssigned, IssueAssigned{IssueID: "i1"}))
	assert.False(t, hub.Online("nobody"))
}

func TestHub_QueueFullDropped(t *testing.T) {
	hub := NewHub(2, zap.NewNop())
	conn := hub.Register("u1", nil)

	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, 1))
	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, 2))
	assert.Equal(t, 0, hub.Send("u1", EventMessageReceived, 3))

	assert.Equal(t, []string{"1", "2"}, drain(conn))
}

func TestHub_MultipleConnections(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	first := hub.Register("u1", nil)
	second := hub.Register("u1", nil)

	assert.Equal(t, 2, hub.Send("u1", EventMessageReceived, "x"))
	assert.Len(t, drain(first), 1)
	assert.Len(t, drain(second), 1)

	hub.Unregister(first)
	assert.True(t, hub.Online("u1"))
	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, "y"))

	// "y" остается в очереди второго подключения и теряется при отвязке
	hub.Unregister(second)
	assert.False(t, hub.Online("u1"))

	_, ok := <-second.Outbound()
	assert.False(t, ok, "queue must be closed after unregister")

	// повторная отвязка безопасна
	hub.Unregister(second)
}

func TestHub_UnregisterDropsPending(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	conn := hub.Register("u1", nil)

	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, "a"))
	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, "b"))
	hub.Unregister(conn)

	_, ok := <-conn.Outbound()
	assert.False(t, ok, "queued frames are dropped on unregister")
}

func TestHub_CloseDropsPending(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	conn := hub.Register("u1", nil)

	assert.Equal(t, 1, hub.Send("u1", EventMessageReceived, "a"))
	hub.Close()

	_, ok := <-conn.Outbound()
	assert.False(t, ok)
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(4, zap.NewNop())
	closer := &closeCounter{}
	conn := hub.Register("u1", closer)

	hub.Close()
	assert.Equal(t, 1, closer.closed)
	assert.False(t, hub.Online("u1"))
	assert.Nil(t, hub.Register("u2", nil))

	hub.Unregister(conn)
	hub.Close()
	assert.Equal(t, 1, closer.closed)
}

func TestHub_ConcurrentSend(t *testing.T) {
	hub := NewHub(1000, zap.NewNop())
	conns := make([]*Conn, 10)
	for i := range conns {
		conns[i] = hub.Register(fmt.Sprintf("u%d", i), nil)
	}

	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.Send(userID, EventMessageReceived, j)
			}
		}(fmt.Sprintf("u%d", i))
	}
	wg.Wait()

	for _, c := range conns {
		assert.Len(t, drain(c), 50)
		hub.Unregister(c)
	}
}
