package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func startHub(t *testing.T, perSecond float64) *Hub {
	t.Helper()
	h := NewHub(quietLogger(), perSecond)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h
}

func subscribe(t *testing.T, h *Hub, runID string) *Client {
	t.Helper()
	c := &Client{RunID: runID, Send: make(chan []byte, 256), Hub: h}
	h.register <- c
	require.Eventually(t, func() bool { return h.Subscribers(runID) > 0 }, time.Second, 5*time.Millisecond)
	return c
}

func drain(c *Client) []ProgressMessage {
	var out []ProgressMessage
	for {
		select {
		case data := <-c.Send:
			var msg ProgressMessage
			if json.Unmarshal(data, &msg) == nil {
				out = append(out, msg)
			}
		default:
			return out
		}
	}
}

func TestProgressIsThrottled(t *testing.T) {
	h := startHub(t, 0.001)
	runID := uuid.New()
	c := subscribe(t, h, runID.String())

	progress := h.ProgressFunc(runID, "simulate")
	for i := 1; i <= 100; i++ {
		progress(i, 100)
	}
	h.Publish(ProgressMessage{Type: MessageCompleted, RunID: runID.String()})

	msgs := drain(c)
	require.Len(t, msgs, 3)
	assert.Equal(t, 1, msgs[0].Done)
	assert.Equal(t, 100, msgs[1].Done)
	assert.Equal(t, "simulate", msgs[1].Phase)
	assert.Equal(t, MessageCompleted, msgs[2].Type)
}

func TestPublishOnlyReachesRunSubscribers(t *testing.T) {
	h := startHub(t, 100)
	a := subscribe(t, h, "run-a")
	b := subscribe(t, h, "run-b")
	assert.Equal(t, 2, h.GetConnectionCount())

	h.Publish(ProgressMessage{Type: MessageFailed, RunID: "run-a", Message: "boom"})
	msgs := drain(a)
	require.Len(t, msgs, 1)
	assert.Equal(t, "boom", msgs[0].Message)
	assert.Empty(t, drain(b))

	h.unregister <- a
	require.Eventually(t, func() bool { return h.Subscribers("run-a") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-a.Send
	assert.False(t, open)
}

func TestHandleWebSocket(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := startHub(t, 100)
	router := gin.New()
	router.GET("/ws/runs/:id", h.HandleWebSocket)
	srv := httptest.NewServer(router)
	defer srv.Close()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws/runs/not-a-uuid", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	runID := uuid.New()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/runs/" + runID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Subscribers(runID.String()) == 1 }, time.Second, 5*time.Millisecond)
	h.Publish(ProgressMessage{Type: MessageCompleted, RunID: runID.String(), Done: 10, Total: 10})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ProgressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageCompleted, msg.Type)
	assert.Equal(t, 10, msg.Done)
}
