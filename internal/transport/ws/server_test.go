package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/parlorgames/parlor/internal/config"
	"github.com/parlorgames/parlor/internal/room"
)

// stubStore satisfies room.Store with in-memory behaviour.
type stubStore struct {
	nextID atomic.Int64
}

func (s *stubStore) AddUser(context.Context) (room.UserIdentity, error) {
	id := s.nextID.Add(1)
	return room.UserIdentity{ID: id, Username: fmt.Sprintf("Player_%d", id)}, nil
}

func (s *stubStore) JoinRoom(context.Context, int64, int64) (int, error) { return 0, nil }

func (s *stubStore) LeaveRoom(context.Context, int64, int64) error { return nil }

func (s *stubStore) PostQuestion(_ context.Context, _, _ int64, text string) (room.Question, error) {
	return room.Question{ID: 1, Text: text}, nil
}

func (s *stubStore) PostReply(_ context.Context, _, _, _ int64, text string) (room.Reply, error) {
	return room.Reply{ID: 1, Text: text}, nil
}

func (s *stubStore) AddScore(_ context.Context, _, _ int64, delta int) (int, error) {
	return delta, nil
}

func (s *stubStore) ChangeUsername(_ context.Context, _ int64, username string) (string, error) {
	return username, nil
}

func testSocketConfig() config.SocketConfig {
	return config.SocketConfig{
		Host:          "127.0.0.1",
		Port:          0,
		PingPeriod:    50 * time.Millisecond,
		WriteTimeout:  time.Second,
		MaxFrameBytes: 4096,
		SendBuffer:    64,
	}
}

func startTestServer(t *testing.T) (*Server, *room.Coordinator, string) {
	t.Helper()
	coord := room.NewCoordinator(&stubStore{}, time.Second, 64, zap.NewNop())
	srv := NewServer(testSocketConfig(), coord, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/roomSocket"
	return srv, coord, url
}

func dialSocket(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// readFrame reads the next text frame and decodes it into a generic map.
func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func TestRoomSocketGreetsOnConnect(t *testing.T) {
	_, coord, url := startTestServer(t)
	conn := dialSocket(t, url)

	greeting := readFrame(t, conn)
	assert.Equal(t, "status", greeting["kind"])
	assert.Equal(t, "connected to server", greeting["text"])
	assert.Equal(t, 1, coord.SessionCount())
}

func TestRoomSocketJoinFlow(t *testing.T) {
	_, _, url := startTestServer(t)

	a := dialSocket(t, url)
	readFrame(t, a) // greeting
	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":1,"room_id":7}`)))
	snap := readFrame(t, a)
	assert.Equal(t, "snapshot", snap["kind"])
	assert.EqualValues(t, 7, snap["room_id"])

	b := dialSocket(t, url)
	readFrame(t, b) // greeting
	require.NoError(t, b.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":2,"room_id":7}`)))

	// Existing member hears the join; the joiner gets the full snapshot.
	notice := readFrame(t, a)
	assert.Equal(t, "notice", notice["kind"])
	assert.Equal(t, "Player_2 connected", notice["text"])

	snapB := readFrame(t, b)
	assert.Equal(t, "snapshot", snapB["kind"])
	assert.Len(t, snapB["connections"], 2)
}

func TestRoomSocketInvalidFrameKeepsConnection(t *testing.T) {
	_, _, url := startTestServer(t)
	conn := dialSocket(t, url)
	readFrame(t, conn) // greeting

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`???`)))
	errFrame := readFrame(t, conn)
	assert.Equal(t, "error", errFrame["kind"])
	assert.Equal(t, "Invalid message", errFrame["text"])

	// The connection is still usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":1,"room_id":7}`)))
	snap := readFrame(t, conn)
	assert.Equal(t, "snapshot", snap["kind"])
}

func TestRoomSocketDisconnectCleansUp(t *testing.T) {
	_, coord, url := startTestServer(t)

	a := dialSocket(t, url)
	readFrame(t, a)
	require.NoError(t, a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":1,"room_id":7}`)))
	readFrame(t, a)

	b := dialSocket(t, url)
	readFrame(t, b)
	require.NoError(t, b.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":2,"room_id":7}`)))
	readFrame(t, b)
	readFrame(t, a) // join notice

	require.NoError(t, b.Close())

	notice := readFrame(t, a)
	assert.Equal(t, "notice", notice["kind"])
	assert.Equal(t, "Player_2 disconnected", notice["text"])

	require.Eventually(t, func() bool {
		return coord.SessionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRoomSocketSurvivesQuietPeriod(t *testing.T) {
	_, _, url := startTestServer(t)
	conn := dialSocket(t, url)
	readFrame(t, conn)

	// Block in a read across several ping cycles; reading processes the
	// server's probes and the default pong handler answers them, so the
	// session must survive the silence.
	got := make(chan map[string]any, 1)
	go func() {
		_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame map[string]any
		if json.Unmarshal(data, &frame) == nil {
			got <- frame
		}
	}()

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"room_init","user_id":1,"room_id":9}`)))

	select {
	case snap := <-got:
		assert.Equal(t, "snapshot", snap["kind"])
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot after quiet period")
	}
}

func TestRoomSocketDeadClientTimesOut(t *testing.T) {
	_, coord, url := startTestServer(t)
	conn := dialSocket(t, url)
	readFrame(t, conn)
	require.Equal(t, 1, coord.SessionCount())

	// Never read again: control frames are only processed during reads, so
	// no pongs go back. The server's pong window is two ping periods, after
	// which the session is reaped.
	require.Eventually(t, func() bool {
		return coord.SessionCount() == 0
	}, 3*time.Second, 20*time.Millisecond)
}
