package generate

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/auth"
	"github.com/hashwanthgogineni/gamora-ai/modules/common/database"
	"github.com/hashwanthgogineni/gamora-ai/modules/progress"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

func (h *Handler) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
}

// checkOrigin - ALLOWED_ORIGINS ("*" 은 전체 허용)
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// HandleWebSocket - GET /api/v1/generate/ws/{project_id}?token=
// connected 전송 후 진행 이벤트 중계. 이미 종료된 프로젝트면 connected 직후 종료
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	projectID := mux.Vars(r)["project_id"]
	log := logrus.WithField("project_id", projectID)

	project, err := h.Gateway.GetProject(r.Context(), projectID)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Project not found")
		return
	}
	if err != nil {
		log.Errorf("❌ Failed to load project: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to load project")
		return
	}
	userID, _ := auth.UserID(r.Context())
	if !h.owns(project, userID) {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	// 상태 재확인 전에 구독해야 그 사이의 종료 이벤트를 놓치지 않음
	sub := h.Hub.Subscribe(projectID)
	defer h.Hub.Unsubscribe(sub)

	conn, err := h.upgrader().Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	if err := writeEvent(conn, progress.Connected(projectID)); err != nil {
		return
	}

	current, err := h.Gateway.GetProject(r.Context(), projectID)
	if err == nil && current.Status.IsTerminal() {
		log.Debugf("🔌 Project already %s, closing live channel", current.Status)
		closeConn(conn)
		return
	}

	log.Debug("🔍 Live channel opened")
	done := make(chan struct{})
	echo := make(chan progress.Event, 8)
	go readPump(conn, echo, done)
	writePump(conn, sub, echo, done)
	log.Debug("👋 Live channel closed")
}

// readPump - 클라이언트 텍스트 프레임은 echo 로 응답, 끊기면 done close
func readPump(conn *websocket.Conn, echo chan<- progress.Event, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logrus.Debugf("WebSocket read error: %v", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case echo <- progress.Event{Type: progress.EventEcho, Data: map[string]string{"message": string(msg)}}:
		default:
		}
	}
}

// writePump - 구독 채널이 닫히면 (Finish/드롭) close 프레임 후 종료
func writePump(conn *websocket.Conn, sub *progress.Subscription, echo <-chan progress.Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				closeConn(conn)
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				logrus.Debugf("WebSocket write error: %v", err)
				return
			}
		case ev := <-echo:
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, ev progress.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func closeConn(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
