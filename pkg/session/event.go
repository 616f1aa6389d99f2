package session

import "encoding/json"

// EventType identifies an event in a request's stream.
type EventType string

const (
	EventStatus EventType = "status"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Request is the body of a diff request.
type Request struct {
	Repo     string `json:"repo,omitempty"`
	Prompt   string `json:"prompt"`
	ThreadID string `json:"threadId,omitempty"`
}

// Event is one record of the response stream. Which fields are meaningful
// depends on Type: status carries Message, result carries Diff, ThreadID and
// Step, error carries Error.
type Event struct {
	Type     EventType `json:"type"`
	Message  string    `json:"msg,omitempty"`
	Diff     string    `json:"diff,omitempty"`
	ThreadID string    `json:"threadId,omitempty"`
	Step     int       `json:"step,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// StatusEvent returns a progress event.
func StatusEvent(msg string) Event {
	return Event{Type: EventStatus, Message: msg}
}

// ResultEvent returns the terminal success event.
func ResultEvent(diff, threadID string, step int) Event {
	return Event{Type: EventResult, Diff: diff, ThreadID: threadID, Step: step}
}

// ErrorEvent returns the terminal failure event.
func ErrorEvent(msg string) Event {
	return Event{Type: EventError, Error: msg}
}

type statusRecord struct {
	Type    EventType `json:"type"`
	Message string    `json:"msg"`
}

type resultRecord struct {
	Type     EventType `json:"type"`
	Diff     string    `json:"diff"`
	ThreadID string    `json:"threadId"`
	Step     int       `json:"step"`
}

type errorRecord struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// MarshalJSON writes only the fields of the event's type. A result always
// includes diff, even when it is empty.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Type {
	case EventStatus:
		return json.Marshal(statusRecord{Type: e.Type, Message: e.Message})
	case EventResult:
		return json.Marshal(resultRecord{Type: e.Type, Diff: e.Diff, ThreadID: e.ThreadID, Step: e.Step})
	case EventError:
		return json.Marshal(errorRecord{Type: e.Type, Error: e.Error})
	default:
		type plain Event
		return json.Marshal(plain(e))
	}
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}
