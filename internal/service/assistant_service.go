package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/makeasinger/studio/internal/client"
	"github.com/makeasinger/studio/internal/model"
)

// historyTurns is how many previous messages of a session are sent back to
// the model.
const historyTurns = 10

var validate = validator.New()

// ChatModel is the language model behind the assistant.
type ChatModel interface {
	IsConfigured() bool
	ChatJSON(ctx context.Context, system string, history []client.ChatMessage, user string) (string, error)
}

// Starter submits generation requests for a session.
type Starter interface {
	Start(ctx context.Context, userID string, reqs []model.GenerationRequest) (*model.GenerationStateResponse, error)
}

// AssistantService turns free-form user messages into structured envelopes
// and acts on them.
type AssistantService struct {
	chat    ChatModel
	starter Starter
	log     zerolog.Logger

	mu      sync.Mutex
	history map[string][]client.ChatMessage
}

func NewAssistantService(chat ChatModel, starter Starter, log zerolog.Logger) *AssistantService {
	return &AssistantService{
		chat:    chat,
		starter: starter,
		log:     log.With().Str("component", "assistant").Logger(),
		history: make(map[string][]client.ChatMessage),
	}
}

// Message sends text to the assistant on behalf of userID. A generate
// envelope is submitted to the user's orchestrator; its admission or busy
// error is returned as is.
func (s *AssistantService) Message(ctx context.Context, userID, text string) (*model.AssistantMessageResponse, error) {
	raw, err := s.complete(ctx, userID, text)
	if err != nil {
		return nil, fmt.Errorf("assistant request failed: %w", err)
	}

	env, err := ParseEnvelope(raw)
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("assistant returned an invalid envelope")
		return nil, err
	}
	s.remember(userID, text, raw)

	resp := &model.AssistantMessageResponse{Envelope: *env}
	if env.Action == model.AssistantActionGenerate {
		state, err := s.starter.Start(ctx, userID, []model.GenerationRequest{env.Generate.Request()})
		if err != nil {
			return nil, err
		}
		resp.State = state
	}
	return resp, nil
}

func (s *AssistantService) complete(ctx context.Context, userID, text string) (string, error) {
	if s.chat == nil || !s.chat.IsConfigured() {
		return mockEnvelope(text), nil
	}

	s.mu.Lock()
	history := append([]client.ChatMessage(nil), s.history[userID]...)
	s.mu.Unlock()

	return s.chat.ChatJSON(ctx, assistantSystemPrompt, history, text)
}

func (s *AssistantService) remember(userID, text, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[userID],
		client.ChatMessage{Role: "user", Content: text},
		client.ChatMessage{Role: "assistant", Content: reply},
	)
	if len(h) > historyTurns {
		h = h[len(h)-historyTurns:]
	}
	s.history[userID] = h
}

// ParseEnvelope decodes exactly one envelope object. Unknown fields,
// trailing data and intents that do not match the action are rejected.
func ParseEnvelope(raw string) (*model.AssistantEnvelope, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()

	var env model.AssistantEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidEnvelope, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after envelope", model.ErrInvalidEnvelope)
	}

	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrInvalidEnvelope, err)
	}

	switch env.Action {
	case model.AssistantActionReply:
		if env.Generate != nil || env.Navigate != nil {
			return nil, fmt.Errorf("%w: reply carries an intent", model.ErrInvalidEnvelope)
		}
		if env.Reply == "" {
			return nil, fmt.Errorf("%w: empty reply", model.ErrInvalidEnvelope)
		}
	case model.AssistantActionGenerate:
		if env.Generate == nil || env.Navigate != nil {
			return nil, fmt.Errorf("%w: generate needs exactly a generate intent", model.ErrInvalidEnvelope)
		}
	case model.AssistantActionNavigate:
		if env.Navigate == nil || env.Generate != nil {
			return nil, fmt.Errorf("%w: navigate needs exactly a navigate intent", model.ErrInvalidEnvelope)
		}
	}
	return &env, nil
}

const assistantSystemPrompt = `You are the studio assistant of a music and media generation app.
Answer ONLY with one JSON object of this exact shape and nothing else:
{"version":1,"action":"reply|generate|navigate","reply":"<short text for the user>",
 "generate":{"provider":"song|image|video","title":"...","prompt":"...","styleTags":["..."],"instrumental":false},
 "navigate":{"route":"home|create|library|profile|credits"}}
Include "generate" only when action is "generate" and "navigate" only when action is "navigate".
Use "generate" only when the user clearly asks to create something. Keep "reply" under 300 characters.`

// mockEnvelope is used when no model is configured.
func mockEnvelope(text string) string {
	env := model.AssistantEnvelope{
		Version: model.AssistantEnvelopeVersion,
		Action:  model.AssistantActionReply,
		Reply:   "The assistant is offline. Use the create screen to start a generation.",
	}
	lower := strings.ToLower(text)
	if strings.Contains(lower, "credit") {
		env.Action = model.AssistantActionNavigate
		env.Reply = "Opening your credits."
		env.Navigate = &model.NavigateIntent{Route: "credits"}
	}
	data, _ := json.Marshal(env)
	return string(data)
}
