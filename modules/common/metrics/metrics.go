package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics - 서버 카운터
type Metrics struct {
	startTime time.Time

	RunsStarted       atomic.Int64
	RunsCompleted     atomic.Int64
	RunsFailed        atomic.Int64
	RepairAttempts    atomic.Int64
	AICalls           atomic.Int64
	AITokens          atomic.Int64
	ValidationFailed  atomic.Int64
	Subscribers       atomic.Int64
	DroppedSubscriber atomic.Int64
	QueueEnqueued     atomic.Int64
	RateLimited       atomic.Int64
}

// Default - 프로세스 전역 메트릭
var Default = New()

// New - 새 Metrics
func New() *Metrics {
	return &Metrics{startTime: time.Now()}
}

// Snapshot - /metrics 응답
type Snapshot struct {
	Uptime    string           `json:"uptime"`
	StartTime time.Time        `json:"startTime"`
	Counters  map[string]int64 `json:"counters"`
}

// Snapshot - 현재 값 복사
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		StartTime: m.startTime,
		Counters: map[string]int64{
			"runsStarted":        m.RunsStarted.Load(),
			"runsCompleted":      m.RunsCompleted.Load(),
			"runsFailed":         m.RunsFailed.Load(),
			"repairAttempts":     m.RepairAttempts.Load(),
			"aiCalls":            m.AICalls.Load(),
			"aiTokens":           m.AITokens.Load(),
			"validationFailed":   m.ValidationFailed.Load(),
			"activeSubscribers":  m.Subscribers.Load(),
			"droppedSubscribers": m.DroppedSubscriber.Load(),
			"queueEnqueued":      m.QueueEnqueued.Load(),
			"rateLimited":        m.RateLimited.Load(),
		},
	}
}

// Handler - 서버 메트릭 조회 엔드포인트
func (m *Metrics) Handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"server": m.Snapshot(),
	})
}
