package model

// SnapshotVersion is bumped whenever PersistedSnapshot changes shape.
const SnapshotVersion = 1

// PersistedSnapshot is the resumable projection of an orchestrator, written
// on every transition and read once at construction.
type PersistedSnapshot struct {
	Version             int                 `json:"version"`
	Queue               []GenerationRequest `json:"queue"`
	Cursor              int                 `json:"cursor"`
	Results             []JobResult         `json:"results,omitempty"`
	Failures            []JobFailure        `json:"failures,omitempty"`
	CurrentJobHandle    *JobHandle          `json:"currentJobHandle"`
	SubmittedAtEpochMs  int64               `json:"submittedAtEpochMs,omitempty"`
	NextSubmitAtEpochMs int64               `json:"nextSubmitAtEpochMs,omitempty"`
	Status              JobStatus           `json:"status"`
	Halted              bool                `json:"halted,omitempty"`
	LeaseOwner          string              `json:"leaseOwner,omitempty"`
}

// QueueView is the read-only queue projection returned to callers.
type QueueView struct {
	Length       int          `json:"length"`
	Cursor       int          `json:"cursor"`
	Complete     bool         `json:"complete"`
	Results      []JobResult  `json:"results"`
	Failures     []JobFailure `json:"failures,omitempty"`
	NextSubmitAt *int64       `json:"nextSubmitAtEpochMs,omitempty"`
	Halted       bool         `json:"halted,omitempty"`
}
