package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdavs625/groupquiz/internal/api"
	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/store"
)

type wsNotification struct {
	Event string             `json:"event"`
	Data  api.SessionUpdated `json:"data"`
}

func TestAPI_WatchSession(t *testing.T) {
	h := makeAPI(t)
	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	id := h.create(t)
	h.bus.Drain()

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, id), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	first := readNotification(t, conn)
	assert.Equal(t, "session.snapshot", first.Event)
	assert.Equal(t, id, first.Data.Session.ID)
	assert.Equal(t, 1, h.api.Hub().Watchers(id))

	status, body := h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "join", "userId": 2, "username": "bob"})
	require.Equal(t, http.StatusOK, status, body.Message)

	joined := readNotification(t, conn)
	assert.Equal(t, "session.updated", joined.Event)
	assert.Equal(t, "join", joined.Data.Action)
	assert.Len(t, joined.Data.Session.Participants, 2)

	status, body = h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "cancel", "userId": 1})
	require.Equal(t, http.StatusOK, status, body.Message)

	deleted := readNotification(t, conn)
	assert.Equal(t, "session.deleted", deleted.Event)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return h.api.Hub().Watchers(id) == 0 }, time.Second, 10*time.Millisecond)
}

func TestAPI_WatchUnknownSession(t *testing.T) {
	h := makeAPI(t)
	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "missing"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_WatchSessionDeletedDuringUpgrade(t *testing.T) {
	st := &vanishingStore{Store: store.NewMemory()}
	h := makeAPIWithStore(t, st)
	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	id := h.create(t)
	h.bus.Drain()

	// The session disappears after the pre-upgrade lookup.
	st.vanishAfter.Store(1)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, id), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)

	assert.Eventually(t, func() bool { return h.api.Hub().Watchers(id) == 0 }, time.Second, 10*time.Millisecond)
}

// vanishingStore reports sessions as missing once vanishAfter reads have been
// served since it was armed.
type vanishingStore struct {
	store.Store

	vanishAfter atomic.Int32
	reads       atomic.Int32
}

func (s *vanishingStore) Get(ctx context.Context, id string) (*domain.Session, error) {
	if n := s.vanishAfter.Load(); n > 0 && s.reads.Add(1) > n {
		return nil, nil
	}
	return s.Store.Get(ctx, id)
}

func TestHub_Shutdown(t *testing.T) {
	hub := api.NewHub()
	h := makeAPI(t)
	srv := httptest.NewServer(h.engine)
	t.Cleanup(srv.Close)

	id := h.create(t)
	h.bus.Drain()
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, id), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	readNotification(t, conn)

	// A hub without watchers ignores broadcasts.
	hub.Broadcast(id, "session.updated", nil)
	assert.Equal(t, 0, hub.Watchers(id))

	h.api.Hub().Shutdown()
	assert.Equal(t, 0, h.api.Hub().Watchers(id))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + id + "/ws"
}

func readNotification(t *testing.T, conn *websocket.Conn) wsNotification {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var n wsNotification
	require.NoError(t, json.Unmarshal(msg, &n))
	return n
}
