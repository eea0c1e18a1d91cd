package reconcile

import "github.com/DanielVNZ/Trakt2EmbySync/internal/state"

// Progress event types sent to the websocket hub.
const (
	EventSyncStarted   = "sync:started"
	EventSyncProgress  = "sync:progress"
	EventSyncCompleted = "sync:completed"
)

// StartedEvent is broadcast when a run begins.
type StartedEvent struct {
	RunID    string        `json:"runId"`
	Trigger  state.Trigger `json:"trigger"`
	Mappings int           `json:"mappings"`
}

// ProgressEvent is broadcast after each mapping.
type ProgressEvent struct {
	RunID  string              `json:"runId"`
	Index  int                 `json:"index"`
	Total  int                 `json:"total"`
	Result state.MappingResult `json:"result"`
}
