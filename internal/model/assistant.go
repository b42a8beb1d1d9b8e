package model

// Assistant envelope actions.
const (
	AssistantActionReply    = "reply"
	AssistantActionGenerate = "generate"
	AssistantActionNavigate = "navigate"
)

// AssistantEnvelopeVersion is the only envelope version the orchestrator accepts.
const AssistantEnvelopeVersion = 1

// AssistantEnvelope is the structured message the assistant must answer
// with. Exactly the intent matching Action is populated.
type AssistantEnvelope struct {
	Version  int             `json:"version" validate:"required,eq=1"`
	Action   string          `json:"action" validate:"required,oneof=reply generate navigate"`
	Reply    string          `json:"reply" validate:"max=2000"`
	Generate *GenerateIntent `json:"generate,omitempty" validate:"required_if=Action generate"`
	Navigate *NavigateIntent `json:"navigate,omitempty" validate:"required_if=Action navigate"`
}

// GenerateIntent asks the orchestrator to start a generation.
type GenerateIntent struct {
	Provider     ProviderKind `json:"provider" validate:"required,oneof=song image video"`
	Title        string       `json:"title" validate:"required,min=1,max=120"`
	Prompt       string       `json:"prompt" validate:"required,min=1,max=20000"`
	StyleTags    []string     `json:"styleTags,omitempty" validate:"omitempty,max=10,dive,min=1,max=64"`
	Instrumental bool         `json:"instrumental,omitempty"`
}

// NavigateIntent asks the UI to open one of the known screens.
type NavigateIntent struct {
	Route string `json:"route" validate:"required,oneof=home create library profile credits"`
}

// Request converts the intent into a GenerationRequest.
func (g *GenerateIntent) Request() GenerationRequest {
	return GenerationRequest{
		Title:        g.Title,
		PromptText:   g.Prompt,
		StyleTags:    g.StyleTags,
		ProviderKind: g.Provider,
		Instrumental: g.Instrumental,
		Metadata:     map[string]string{"source": "assistant"},
	}
}
