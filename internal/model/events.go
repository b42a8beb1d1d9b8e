package model

import "time"

// Event types emitted by an orchestrator and relayed over WebSocket.
const (
	EventStatusChange    = "status"
	EventCompleted       = "complete"
	EventFailed          = "error"
	EventQueueAdvance    = "queue_advance"
	EventAdmissionDenied = "admission_denied"
	EventQueueFinished   = "queue_finished"
	EventArchived        = "archived"
)

// Event is the single notification shape; only the fields relevant to Type
// are set.
type Event struct {
	Type           string      `json:"type"`
	OrchestratorID string      `json:"orchestratorId"`
	At             time.Time   `json:"at"`
	State          *JobState   `json:"state,omitempty"`
	Result         *JobResult  `json:"result,omitempty"`
	Error          *JobError   `json:"error,omitempty"`
	QueueIndex     *int        `json:"queueIndex,omitempty"`
	Admission      *Admission  `json:"admission,omitempty"`
	Results        []JobResult `json:"results,omitempty"`
	ArchivedURL    string      `json:"archivedUrl,omitempty"`
}

// Admission is the outcome of a credit check.
type Admission struct {
	Allowed     bool   `json:"allowed"`
	Cost        int    `json:"cost"`
	Balance     int    `json:"balance"`
	Shortfall   int    `json:"shortfall"`
	PurchaseURL string `json:"purchaseUrl,omitempty"`
}
