package model

// GenerationStartRequest is the body of POST /api/generation/start.
type GenerationStartRequest struct {
	Requests []GenerationRequest `json:"requests" validate:"required,min=1,max=10,dive"`
}

// EstimateRequest is the body of POST /api/generation/estimate.
type EstimateRequest struct {
	Request GenerationRequest `json:"request"`
}

// GenerationStateResponse describes the caller's orchestrator.
type GenerationStateResponse struct {
	OrchestratorID string    `json:"orchestratorId"`
	State          JobState  `json:"state"`
	Queue          QueueView `json:"queue"`
}

// AssistantMessageRequest is the body of POST /api/assistant/message.
type AssistantMessageRequest struct {
	Text string `json:"text" validate:"required,min=1,max=4000"`
}

// AssistantMessageResponse pairs the parsed envelope with the orchestrator
// state when the envelope started a generation.
type AssistantMessageResponse struct {
	Envelope AssistantEnvelope        `json:"envelope"`
	State    *GenerationStateResponse `json:"state,omitempty"`
}
