package progress

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/hashwanthgogineni/gamora-ai/modules/common/metrics"
)

// DefaultBuffer - 구독자별 채널 버퍼
const DefaultBuffer = 32

// Subscription - 프로젝트 하나에 대한 구독
type Subscription struct {
	ProjectID string
	id        uint64
	ch        chan Event
}

// Events - 수신 채널 (구독 해제/드롭/종료 시 close)
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Hub - 프로젝트별 구독자 관리
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[uint64]*Subscription
	nextID  uint64
	buffer  int
	metrics *metrics.Metrics
}

// NewHub - buffer <= 0 이면 DefaultBuffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:    make(map[string]map[uint64]*Subscription),
		buffer:  buffer,
		metrics: metrics.Default,
	}
}

// Subscribe - 구독 추가
func (h *Hub) Subscribe(projectID string) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscription{ProjectID: projectID, id: h.nextID, ch: make(chan Event, h.buffer)}
	set, ok := h.subs[projectID]
	if !ok {
		set = make(map[uint64]*Subscription)
		h.subs[projectID] = set
	}
	set[sub.id] = sub
	h.metrics.Subscribers.Add(1)

	logrus.WithField("project_id", projectID).Debugf("👤 Subscriber joined (Subscribers: %d)", len(set))
	return sub
}

// Unsubscribe - 구독 제거 (이미 제거된 구독은 무시)
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(sub)
}

// removeLocked - map 에서 빠질 때만 close 하므로 중복 close 없음
func (h *Hub) removeLocked(sub *Subscription) bool {
	set, ok := h.subs[sub.ProjectID]
	if !ok {
		return false
	}
	if _, ok := set[sub.id]; !ok {
		return false
	}
	delete(set, sub.id)
	close(sub.ch)
	h.metrics.Subscribers.Add(-1)
	if len(set) == 0 {
		delete(h.subs, sub.ProjectID)
	}
	return true
}

// Publish - 모든 구독자에게 비차단 전송. 버퍼가 찬 구독자는 드롭
func (h *Hub) Publish(projectID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(projectID, event)
}

func (h *Hub) deliverLocked(projectID string, event Event) {
	for _, sub := range h.subs[projectID] {
		select {
		case sub.ch <- event:
		default:
			h.removeLocked(sub)
			h.metrics.DroppedSubscriber.Add(1)
			logrus.WithField("project_id", projectID).Warnf("⚠️  Dropped slow subscriber (event: %s)", event.Type)
		}
	}
}

// Finish - 마지막 이벤트 전송 후 프로젝트의 모든 구독 close
func (h *Hub) Finish(projectID string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.deliverLocked(projectID, event)
	closed := 0
	for _, sub := range h.subs[projectID] {
		if h.removeLocked(sub) {
			closed++
		}
	}
	if closed > 0 {
		logrus.WithField("project_id", projectID).Infof("🔌 Closed %d subscribers after %s", closed, event.Type)
	}
}

// Count - 프로젝트 구독자 수
func (h *Hub) Count(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[projectID])
}
