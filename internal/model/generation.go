package model

import "time"

// ProviderKind identifies which remote generation API a request targets.
type ProviderKind string

const (
	ProviderSong  ProviderKind = "song"
	ProviderImage ProviderKind = "image"
	ProviderVideo ProviderKind = "video"
)

var ValidProviderKinds = []ProviderKind{ProviderSong, ProviderImage, ProviderVideo}

// GenerationRequest is one user-submitted job. It is never mutated after
// it has been enqueued.
type GenerationRequest struct {
	ID           string            `json:"id"`
	Title        string            `json:"title" validate:"required,min=1,max=120"`
	PromptText   string            `json:"promptText" validate:"required,min=1,max=20000"`
	StyleTags    []string          `json:"styleTags,omitempty" validate:"omitempty,max=10,dive,min=1,max=64"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	ProviderKind ProviderKind      `json:"providerKind" validate:"required,oneof=song image video"`
	Instrumental bool              `json:"instrumental,omitempty"`
}

// JobHandle holds the opaque identifiers a provider returns at submission.
type JobHandle struct {
	TaskID     string `json:"taskId"`
	ResourceID string `json:"resourceId"`
}

// JobStatus is the canonical lifecycle of one request.
type JobStatus string

const (
	JobStatusIdle         JobStatus = "idle"
	JobStatusSubmitting   JobStatus = "submitting"
	JobStatusQueuedRemote JobStatus = "queued_remote"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusVerifying    JobStatus = "verifying"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
	JobStatusTimedOut     JobStatus = "timed_out"
	JobStatusCancelled    JobStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen for the job.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusTimedOut, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the job occupies the orchestrator's single slot.
func (s JobStatus) IsActive() bool {
	return s != JobStatusIdle && !s.IsTerminal()
}

// IsRemote reports whether the job is known to the provider and being observed.
func (s JobStatus) IsRemote() bool {
	switch s {
	case JobStatusQueuedRemote, JobStatusProcessing, JobStatusVerifying:
		return true
	default:
		return false
	}
}

// JobResult is the payload of a completed job.
type JobResult struct {
	RequestID    string       `json:"requestId"`
	Title        string       `json:"title"`
	ProviderKind ProviderKind `json:"providerKind"`
	TaskID       string       `json:"taskId"`
	AssetURLs    []string     `json:"assetUrls"`
	ThumbnailURL string       `json:"thumbnailUrl,omitempty"`
	Text         string       `json:"text,omitempty"`
	CompletedAt  time.Time    `json:"completedAt"`
}

// Error codes carried by JobError.
const (
	JobErrorSubmission = "SUBMISSION_FAILED"
	JobErrorProvider   = "PROVIDER_FAILED"
	JobErrorTimeout    = "TIMEOUT_EXCEEDED"
)

// JobError is the user-visible form of a terminal failure.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// JobFailure records a queue item that ended without a result.
type JobFailure struct {
	Request GenerationRequest `json:"request"`
	Error   JobError          `json:"error"`
}

// JobState is the mutable record of the in-flight or last job. Result is set
// only when completed, Error only when failed or timed out.
type JobState struct {
	Status       JobStatus  `json:"status"`
	RequestID    string     `json:"requestId,omitempty"`
	Handle       *JobHandle `json:"handle,omitempty"`
	ProgressHint *int       `json:"progressHint,omitempty"`
	ElapsedMs    int64      `json:"elapsedMs"`
	Result       *JobResult `json:"result,omitempty"`
	Error        *JobError  `json:"error,omitempty"`
}

// Valid checks the result/error exclusivity invariant.
func (s JobState) Valid() bool {
	if s.Result != nil && s.Error != nil {
		return false
	}
	if s.Result != nil && s.Status != JobStatusCompleted {
		return false
	}
	if s.Error != nil && s.Status != JobStatusFailed && s.Status != JobStatusTimedOut {
		return false
	}
	return true
}

// AssetOutput is what a provider reports for a finished job.
type AssetOutput struct {
	AssetURL     string   `json:"assetUrl"`
	ExtraURLs    []string `json:"extraUrls,omitempty"`
	ThumbnailURL string   `json:"thumbnailUrl,omitempty"`
	Text         string   `json:"text,omitempty"`
}

// Raw provider statuses after normalization.
const (
	ProviderStatusPending    = "pending"
	ProviderStatusProcessing = "processing"
	ProviderStatusCompleted  = "completed"
	ProviderStatusFailed     = "failed"
)

// ProviderStatus is a provider's status response normalized to the
// boundary contract.
type ProviderStatus struct {
	Status   string       `json:"status"`
	Output   *AssetOutput `json:"output,omitempty"`
	Error    string       `json:"error,omitempty"`
	Progress *int         `json:"progress,omitempty"`
}
