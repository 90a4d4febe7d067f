package progress

import (
	"github.com/hashwanthgogineni/gamora-ai/modules/common/model"
)

// EventType - 라이브 채널 메시지 타입
type EventType string

const (
	EventConnected EventType = "connected"
	EventProgress  EventType = "progress"
	EventComplete  EventType = "complete"
	EventError     EventType = "error"
	EventEcho      EventType = "echo"
)

// Event - {type, data}
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// ProgressData - 단계 전이 한 번
type ProgressData struct {
	Status   model.ProjectStatus `json:"status"`
	Message  string              `json:"message"`
	Step     model.LogStep       `json:"step"`
	Progress int                 `json:"progress"`
}

// CompleteData - 완료 이벤트
type CompleteData struct {
	ProjectID     string        `json:"project_id"`
	WebPreviewURL string        `json:"web_preview_url"`
	Builds        []model.Build `json:"builds"`
}

// ErrorData - 실패 이벤트
type ErrorData struct {
	Error string `json:"error"`
}

func Connected(projectID string) Event {
	return Event{Type: EventConnected, Data: map[string]string{"project_id": projectID}}
}

func Progress(status model.ProjectStatus, step model.LogStep, percent int, message string) Event {
	return Event{Type: EventProgress, Data: ProgressData{Status: status, Message: message, Step: step, Progress: percent}}
}

func Complete(projectID, previewURL string, builds []model.Build) Event {
	return Event{Type: EventComplete, Data: CompleteData{ProjectID: projectID, WebPreviewURL: previewURL, Builds: builds}}
}

func Failure(message string) Event {
	return Event{Type: EventError, Data: ErrorData{Error: message}}
}

// IsTerminal - complete / error
func (e Event) IsTerminal() bool {
	return e.Type == EventComplete || e.Type == EventError
}
