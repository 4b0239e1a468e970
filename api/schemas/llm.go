package schemas

import "context"

// -- LLM Client Schemas --

// ModelTier selects between the cheap/fast model and the expensive/powerful
// model when routing a generation request.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature"`
	ForceJSONFormat bool    `json:"force_json_format"`
}

// GenerationRequest is a provider-agnostic text generation request.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient abstracts a text-generation backend. Implementations must honor
// context cancellation; callers treat failures as degradable.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
