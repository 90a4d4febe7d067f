package generate

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
)

type wireEvent struct {
	Type progress.EventType `json:"type"`
	Data json.RawMessage    `json:"data"`
}

func (e *env) dial(t *testing.T, projectID, userID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/generate/ws/" + projectID + "?token=" + token(t, userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var ev wireEvent
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func (e *env) seedRunning(t *testing.T) *model.Project {
	t.Helper()
	p := &model.Project{ID: uuid.NewString(), UserID: owner, Prompt: "runner", Status: model.StatusGenerating}
	require.NoError(t, e.gw.CreateProject(context.Background(), p))
	return p
}

func TestWebSocketTerminalProjectClosesAfterConnected(t *testing.T) {
	e := newEnv(t, 10)
	p := e.seedCompleted(t, owner)

	conn, _, err := e.dial(t, p.ID, owner)
	require.NoError(t, err)

	ev := readEvent(t, conn)
	assert.Equal(t, progress.EventConnected, ev.Type)
	assert.JSONEq(t, `{"project_id":"`+p.ID+`"}`, string(ev.Data))
	expectClosed(t, conn)
	require.Eventually(t, func() bool { return e.h.Hub.Count(p.ID) == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestWebSocketRelaysProgressUntilFinish(t *testing.T) {
	e := newEnv(t, 10)
	p := e.seedRunning(t)

	conn, _, err := e.dial(t, p.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, progress.EventConnected, readEvent(t, conn).Type)
	require.Equal(t, 1, e.h.Hub.Count(p.ID))

	e.h.Hub.Publish(p.ID, progress.Progress(model.StatusValidating, model.StepGenerate, 30, "Code generated"))
	ev := readEvent(t, conn)
	assert.Equal(t, progress.EventProgress, ev.Type)
	var data progress.ProgressData
	require.NoError(t, json.Unmarshal(ev.Data, &data))
	assert.Equal(t, model.StatusValidating, data.Status)
	assert.Equal(t, 30, data.Progress)

	e.h.Hub.Finish(p.ID, progress.Failure("generation failed"))
	ev = readEvent(t, conn)
	assert.Equal(t, progress.EventError, ev.Type)
	assert.JSONEq(t, `{"error":"generation failed"}`, string(ev.Data))
	expectClosed(t, conn)
}

func TestWebSocketEchoesTextFrames(t *testing.T) {
	e := newEnv(t, 10)
	p := e.seedRunning(t)

	conn, _, err := e.dial(t, p.ID, owner)
	require.NoError(t, err)
	readEvent(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping?")))
	ev := readEvent(t, conn)
	assert.Equal(t, progress.EventEcho, ev.Type)
	assert.JSONEq(t, `{"message":"ping?"}`, string(ev.Data))
}

func TestWebSocketDisconnectOnlyUnsubscribes(t *testing.T) {
	e := newEnv(t, 10)
	p := e.seedRunning(t)

	conn, _, err := e.dial(t, p.ID, owner)
	require.NoError(t, err)
	readEvent(t, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return e.h.Hub.Count(p.ID) == 0 }, 3*time.Second, 10*time.Millisecond)
	got, err := e.gw.GetProject(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusGenerating, got.Status)
}

func TestWebSocketRejectsBeforeUpgrade(t *testing.T) {
	e := newEnv(t, 10)
	p := e.seedRunning(t)

	_, resp, err := e.dial(t, uuid.NewString(), owner)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, resp, err = e.dial(t, p.ID, "intruder")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(Deps{AllowedOrigins: []string{"https://gamora.app"}})
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, h.checkOrigin(req), "non-browser clients")

	req.Header.Set("Origin", "https://gamora.app")
	assert.True(t, h.checkOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(req))
}
